// Package spitest provides fakes of conn/spi.Conn suitable for driving the
// driver core's unit tests, grounded on periph.io's conn/spi/spitest
// record/playback helpers.
package spitest

import (
	"fmt"
	"sync"

	"github.com/grepitab/ade791x/conn/spi"
)

// IO is a single recorded transaction.
type IO struct {
	W, R []byte
}

var _ spi.Conn = (*Playback)(nil)

// Playback replays a fixed sequence of responses, one per Tx call, and
// records what was written so a test can assert the exact bus trace. Tx
// returns an error when more transactions are requested than were
// scripted, or when an actual write doesn't match the expected one for
// that step, mirroring embedded-hal-mock's strict expectation checking.
type Playback struct {
	mu   sync.Mutex
	Ops  []IO // scripted expected writes + responses, consumed in order
	Done []IO // actual transactions that occurred, recorded for inspection
	pos  int
}

// NewPlayback builds a Playback from a flat list of (write, response) pairs.
func NewPlayback(ops ...IO) *Playback {
	return &Playback{Ops: ops}
}

// Tx implements spi.Conn.
func (p *Playback) Tx(w, r []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pos >= len(p.Ops) {
		return fmt.Errorf("spitest: unexpected transaction %d: % x", p.pos, w)
	}
	op := p.Ops[p.pos]
	p.pos++
	if len(op.W) != len(w) {
		return fmt.Errorf("spitest: transaction %d length mismatch: got % x want % x", p.pos-1, w, op.W)
	}
	for i := range w {
		if op.W[i] != w[i] {
			return fmt.Errorf("spitest: transaction %d byte mismatch: got % x want % x", p.pos-1, w, op.W)
		}
	}
	if len(r) != 0 {
		copy(r, op.R)
	}
	p.Done = append(p.Done, IO{W: append([]byte(nil), w...), R: append([]byte(nil), r...)})
	return nil
}

// Exhausted reports whether every scripted transaction was consumed.
func (p *Playback) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos == len(p.Ops)
}

var _ spi.Conn = (*Record)(nil)

// Record is a Conn that only records transactions, leaving the read buffer
// as the caller passed it, used by tests that only care about the write side of the bus trace (for
// example the hard-reset burst).
type Record struct {
	mu  sync.Mutex
	Ops []IO
}

// Tx implements spi.Conn.
func (r *Record) Tx(w, read []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Ops = append(r.Ops, IO{W: append([]byte(nil), w...), R: append([]byte(nil), read...)})
	return nil
}
