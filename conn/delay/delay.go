// Package delay defines the blocking millisecond sleep capability the
// driver core needs while polling for reset completion. periph.io
// drivers typically call time.Sleep directly; this seam exists purely so
// the reset-wait loop is testable without a real 500ms stall.
package delay

import "time"

// Source sleeps the calling goroutine for the given duration.
type Source interface {
	Sleep(d time.Duration)
}

// Real sleeps using time.Sleep, for production use.
type Real struct{}

// Sleep implements Source.
func (Real) Sleep(d time.Duration) { time.Sleep(d) }
