// Package flush coordinates the crashing goroutine with the cache write.
// One latch is created per failure; the store releases it only after the
// envelope bytes are synced and closed, and the capture path waits on it
// with a hard upper bound. A timeout is logged by the caller and never
// escalated: the process is dying anyway, and the write may still land.
package flush

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Latch is a one-shot durability gate. Release is idempotent and safe
// from any goroutine; Wait never blocks past its timeout.
type Latch struct {
	clk  clock.Clock
	done chan struct{}
	once sync.Once
}

// NewLatch creates an unreleased latch.
func NewLatch(clk clock.Clock) *Latch {
	if clk == nil {
		clk = clock.New()
	}
	return &Latch{
		clk:  clk,
		done: make(chan struct{}),
	}
}

// Release marks the envelope durable. Calling it again is a no-op.
func (l *Latch) Release() {
	l.once.Do(func() { close(l.done) })
}

// Released reports whether Release has happened, without blocking.
func (l *Latch) Released() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the latch is released or the timeout elapses, and
// reports whether the release happened in time. A non-positive timeout
// degenerates to a released-check.
func (l *Latch) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		return l.Released()
	}

	timer := l.clk.Timer(timeout)
	defer timer.Stop()

	select {
	case <-l.done:
		return true
	case <-timer.C:
		return false
	}
}
