// Package spi defines the narrow SPI transfer capability the driver core
// needs: a single full-duplex byte exchange. Chip-select, clock speed and
// bus mode are not modeled here; the core manages CS itself via conn/gpio
// so that several chips can share one bus and still be addressed
// individually for the broadcast protocol.
package spi

// Conn is a full-duplex, point-to-point SPI connection.
//
// Tx writes w and simultaneously reads len(w) bytes into r. Callers that
// only care about bytes sent (e.g. the hard-reset burst) may pass a nil or
// equally sized scratch buffer for r; callers that need the response reuse
// the same buffer for w and r, matching the half full-duplex convention of
// the underlying hardware where a command byte and a dummy byte are
// transferred to clock out a response.
type Conn interface {
	Tx(w, r []byte) error
}
