package testhelpers

import (
	"sync"
	"time"
)

// Clock is a manually advanced clock shared between a test and the
// gateway loop
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock set to start
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current simulated time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
