package builtin

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/variables"
	"github.com/rendis/macrocore/pkg/schema"
)

const TimerConditionID = "timer"

// TimerCondition matches every time its period elapses. Time spent while
// the owning macro was paused is not counted. With Random set the period is
// drawn uniformly from [Duration, MaxDuration] after each match. A one-shot
// timer matches once and stays false until Reset.
type TimerCondition struct {
	segment.ConditionBase
	Duration    variables.Text `json:"duration"`
	MaxDuration variables.Text `json:"maxDuration"`
	Random      bool           `json:"random,omitempty"`
	OneShot     bool           `json:"oneShot,omitempty"`

	d        *Deps
	mu       sync.Mutex
	elapsed  time.Duration
	target   time.Duration
	lastTick time.Time
	fired    bool
}

func newTimerCondition(d *Deps, o segment.Owner) *TimerCondition {
	c := &TimerCondition{
		ConditionBase: segment.NewConditionBase(TimerConditionID, o),
		Duration:      variables.NewText("1s"),
		MaxDuration:   variables.NewText("5s"),
		d:             d,
	}
	c.TempVars().Declare("remaining", "Remaining", "Time left until the timer fires")
	return c
}

func (c *TimerCondition) Check(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.OneShot && c.fired {
		c.TempVars().Set("remaining", "0s")
		return false, nil
	}
	if c.target == 0 {
		target, err := c.period()
		if err != nil {
			return false, err
		}
		c.target = target
	}

	now := c.d.Clock.Now()
	if !c.lastTick.IsZero() && !c.resumed() {
		c.elapsed += now.Sub(c.lastTick)
	}
	c.lastTick = now

	if c.elapsed < c.target {
		c.TempVars().Set("remaining", (c.target - c.elapsed).String())
		return false, nil
	}

	c.elapsed = 0
	c.fired = true
	target, err := c.period()
	if err != nil {
		return false, err
	}
	c.target = target
	c.TempVars().Set("remaining", c.target.String())
	return true, nil
}

// resumed reports whether the owning macro was unpaused since the last
// tick; the pause gap is skipped.
func (c *TimerCondition) resumed() bool {
	m := ownerMacro(c)
	return m != nil && m.WasPausedSince(c.lastTick)
}

func (c *TimerCondition) period() (time.Duration, error) {
	lo, err := c.parse(c.Duration)
	if err != nil {
		return 0, err
	}
	if !c.Random {
		return lo, nil
	}
	hi, err := c.parse(c.MaxDuration)
	if err != nil {
		return 0, err
	}
	if hi <= lo {
		return lo, nil
	}
	return lo + time.Duration(c.d.intN(int(hi-lo)+1)), nil
}

func (c *TimerCondition) parse(t variables.Text) (time.Duration, error) {
	raw, err := t.Value(c.d.resolver())
	if err != nil {
		return 0, err
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "invalid timer duration %q", raw).WithCause(err)
	}
	if d <= 0 {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "timer duration must be positive, got %s", d)
	}
	return d, nil
}

// Reset restarts the timer and re-arms a one-shot timer.
func (c *TimerCondition) Reset() {
	c.mu.Lock()
	c.elapsed = 0
	c.target = 0
	c.lastTick = time.Time{}
	c.fired = false
	c.mu.Unlock()
}

func (c *TimerCondition) ResolveVariablesToFixedValues(r segment.Resolver) error {
	if err := c.Duration.Fix(r); err != nil {
		return err
	}
	return c.MaxDuration.Fix(r)
}

func (c *TimerCondition) Save() (json.RawMessage, error) { return json.Marshal(c) }

func (c *TimerCondition) Load(data json.RawMessage) error {
	c.Reset()
	return json.Unmarshal(data, c)
}

func (c *TimerCondition) ShortDesc() string { return c.Duration.Raw }
