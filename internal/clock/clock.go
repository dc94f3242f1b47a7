// Package clock supplies the time source for lease expiry decisions.
// Expiry is always evaluated against a monotonic reading so that wall-clock
// adjustments (NTP steps, leap seconds) can neither expire a live lease
// early nor keep a dead one alive.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	// Now returns the current instant. Successive calls never go backwards
	// within a process.
	Now() time.Time
}

// Monotonic anchors a wall-clock base to a monotonic reading taken at
// construction. Now advances with the monotonic clock only, so the values
// are comparable across nodes (they are unix time) but immune to wall-clock
// jumps within the process.
type Monotonic struct {
	base  time.Time
	start time.Time
}

func NewMonotonic() *Monotonic {
	now := time.Now()
	return &Monotonic{base: now, start: now}
}

func (c *Monotonic) Now() time.Time {
	return c.base.Add(time.Since(c.start))
}

// Manual is a hand-driven clock for tests.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (c *Manual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Manual) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
