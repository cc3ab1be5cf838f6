// Package duration implements the duration modifier: a time-aware
// reinterpretation of a condition's instantaneous result.
package duration

import (
	"fmt"
	"time"

	"github.com/rendis/macrocore/pkg/schema"
)

// Type selects how the stable time of a condition gates its result.
type Type int

const (
	None   Type = iota // pass-through
	More               // true once raw stayed true for at least the duration
	Equal              // true once, when the stable time first reaches the duration
	Less               // true while the stable time is below the duration
	Within             // true if raw was true at any point within the last duration
)

var typeNames = map[Type]string{
	None:   "none",
	More:   "more",
	Equal:  "equal",
	Less:   "less",
	Within: "within",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Valid reports whether t is a known modifier type.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// Modifier tracks how long a condition result has been stable. It mutates its
// state on every Apply and is not safe for concurrent use; callers hold the
// switcher lock.
type Modifier struct {
	Type     Type
	Duration time.Duration

	start       time.Time // zero when reset
	timeReached bool      // Equal latch
}

// New creates a Modifier.
func New(t Type, d time.Duration) *Modifier {
	return &Modifier{Type: t, Duration: d}
}

// Apply converts a raw condition result into the modified result at now.
func (m *Modifier) Apply(raw bool, now time.Time) bool {
	if (m.Type == More || m.Type == Equal) && m.Duration <= 0 {
		return raw
	}

	if m.Type == Within {
		if raw {
			m.Reset()
			m.start = now
			return true
		}
		if m.isReset() {
			return false
		}
		return !m.reached(now)
	}

	if !raw {
		m.Reset()
		return false
	}

	switch m.Type {
	case None:
		return true
	case More:
		return m.reached(now)
	case Equal:
		if m.reached(now) && !m.timeReached {
			m.timeReached = true
			return true
		}
		return false
	case Less:
		return !m.reached(now)
	default:
		return false
	}
}

// Reset clears the stable-time tracking.
func (m *Modifier) Reset() {
	m.start = time.Time{}
	m.timeReached = false
}

// TimeRemaining reports how much of the duration is left at now. A reset
// modifier reports the full duration.
func (m *Modifier) TimeRemaining(now time.Time) time.Duration {
	if m.isReset() {
		return m.Duration
	}
	elapsed := now.Sub(m.start)
	if elapsed >= m.Duration {
		return 0
	}
	return m.Duration - elapsed
}

// Data returns the persisted form of the modifier configuration.
func (m *Modifier) Data() schema.DurationModifierData {
	return schema.DurationModifierData{
		Type:    int(m.Type),
		Seconds: m.Duration.Seconds(),
	}
}

// FromData builds a Modifier from its persisted form. Unknown types fall back
// to None.
func FromData(d schema.DurationModifierData) *Modifier {
	t := Type(d.Type)
	if !t.Valid() {
		t = None
	}
	return New(t, time.Duration(d.Seconds*float64(time.Second)))
}

func (m *Modifier) isReset() bool {
	return m.start.IsZero()
}

// reached starts the timer on the first call after a reset.
func (m *Modifier) reached(now time.Time) bool {
	if m.isReset() {
		m.start = now
	}
	return now.Sub(m.start) >= m.Duration
}
