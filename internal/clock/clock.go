// Package clock abstracts time so block timestamps, validator activity and
// retargeting can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Simulated advances by a fixed step on every call to Now.
type Simulated struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewSimulated returns a clock that starts at start and moves step per reading.
func NewSimulated(start time.Time, step time.Duration) *Simulated {
	return &Simulated{now: start, step: step}
}

func (c *Simulated) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// SetStep changes the per-reading advance.
func (c *Simulated) SetStep(step time.Duration) {
	c.mu.Lock()
	c.step = step
	c.mu.Unlock()
}

// Advance moves the clock forward by d without a reading.
func (c *Simulated) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
