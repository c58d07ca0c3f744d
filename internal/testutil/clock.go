// Package testutil provides deterministic test doubles shared across the
// kiosk packages: a settable wall clock and a scripted remote store.
package testutil

import (
	"sync"
	"time"
)

// Clock is a thread-safe settable wall clock for tests.
//
// Tests pin it to a known instant (a Monday morning, a minute before a
// class window closes) and advance it explicitly, so schedule matching,
// rate limiting, and day rollover are fully deterministic.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock pinned to the given instant.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the pinned instant.
//
// Thread-safe: uses mutex to protect the instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set pins the clock to a new instant.
func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
