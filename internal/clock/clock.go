// Package clock provides the monotonic time source used for duration
// modifiers and macro timestamps.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time. Implementations must return values that
// carry a monotonic reading (or advance monotonically) so wall-clock changes
// do not affect elapsed-time comparisons.
type Clock interface {
	Now() time.Time
}

// Real is the process clock. time.Now carries a monotonic reading, and
// Sub/Since on such values ignore wall-clock adjustments.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// Manual is a clock advanced explicitly. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
