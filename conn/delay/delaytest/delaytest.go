// Package delaytest provides a fake delay.Source for unit tests: it records
// the durations it was asked to sleep instead of actually blocking.
package delaytest

import (
	"sync"
	"time"

	"github.com/grepitab/ade791x/conn/delay"
)

var _ delay.Source = (*Fake)(nil)

// Fake records every duration Sleep was called with and returns instantly.
type Fake struct {
	mu     sync.Mutex
	Sleeps []time.Duration
}

// Sleep implements delay.Source.
func (f *Fake) Sleep(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sleeps = append(f.Sleeps, d)
}

// Count reports how many times Sleep was called.
func (f *Fake) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sleeps)
}
