package timectrl

import (
	"sync"
	"time"
)

// Clock is the time source used by the quota windows, the scheduler and the
// update loops. Components depend on the interface so tests can drive time
// explicitly.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock in UTC.
type RealClock struct{}

// Now returns the current wall-clock time.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// FakeClock is a manually advanced Clock for tests.
type FakeClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewFakeClock constructs a FakeClock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance moves fake time forward by d and returns the new time.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// SetTime jumps fake time to t. Moving backwards is allowed; callers that care
// about monotonicity should use Advance.
func (c *FakeClock) SetTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// OrReal returns c, or a RealClock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return RealClock{}
	}
	return c
}
