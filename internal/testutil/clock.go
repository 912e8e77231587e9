package testutil

import (
	"sync"
	"time"
)

// FakeClock provides a thread-safe, manually advanced wall clock for tests.
//
// Components under test take a `func() time.Time`; pass clock.Now so the
// test controls every timestamp (quota windows, staleness, retention
// cut-offs, snapshot dates).
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// DefaultEpoch is the starting instant for NewFakeClock(time.Time{}).
var DefaultEpoch = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

// NewFakeClock creates a clock frozen at start. A zero start uses
// DefaultEpoch.
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = DefaultEpoch
	}
	return &FakeClock{now: start}
}

// Now returns the current fake instant.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new instant.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set jumps the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
