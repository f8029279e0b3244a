// Package gpio defines the digital-output capability the driver core needs
// for chip-select lines, trimmed from periph.io's conn/gpio down to the one
// thing the core actually drives: a single output pin.
package gpio

// Level is the level of a digital pin.
type Level bool

const (
	// Low represents 0v.
	Low Level = false
	// High represents Vin.
	High Level = true
)

func (l Level) String() string {
	if l == Low {
		return "Low"
	}
	return "High"
}

// PinOut is a pin driven as a digital output. The core uses it exclusively
// for chip-select lines.
type PinOut interface {
	// Out sets the pin to the given level.
	Out(l Level) error
}
