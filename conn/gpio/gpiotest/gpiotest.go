// Package gpiotest provides a fake gpio.PinOut for unit tests, grounded on
// periph.io's conn/gpio/gpiotest canned-response pin.
package gpiotest

import (
	"fmt"
	"sync"

	"github.com/grepitab/ade791x/conn/gpio"
)

var _ gpio.PinOut = (*Pin)(nil)

// Pin records every level it is set to and optionally fails on demand,
// simulating a CS pin whose driver misbehaves.
type Pin struct {
	mu     sync.Mutex
	Name   string
	Levels []gpio.Level
	FailOn int // index into Levels (1-based) that should fail, 0 disables
}

// Out implements gpio.PinOut.
func (p *Pin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Levels = append(p.Levels, l)
	if p.FailOn != 0 && len(p.Levels) == p.FailOn {
		return fmt.Errorf("gpiotest: %s: simulated pin failure", p.Name)
	}
	return nil
}
