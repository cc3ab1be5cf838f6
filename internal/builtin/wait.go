package builtin

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/variables"
	"github.com/rendis/macrocore/pkg/schema"
)

const WaitActionID = "wait"

// WaitAction sleeps for a fixed or random duration. The sleep ends early
// when the macro is stopped or the switcher shuts down, in which case the
// action reports it did not finish.
type WaitAction struct {
	segment.ActionBase
	Duration    variables.Text `json:"duration"`
	MaxDuration variables.Text `json:"maxDuration"`
	Random      bool           `json:"random,omitempty"`

	d *Deps
}

func newWaitAction(d *Deps, o segment.Owner) *WaitAction {
	return &WaitAction{
		ActionBase:  segment.NewActionBase(WaitActionID, o),
		Duration:    variables.NewText("1s"),
		MaxDuration: variables.NewText("5s"),
		d:           d,
	}
}

func (a *WaitAction) Perform(ctx context.Context) (bool, error) {
	dur, err := a.duration()
	if err != nil {
		return false, err
	}
	return a.d.Waiter.Sleep(ctx, a.Owner(), dur) == segment.WaitDone, nil
}

func (a *WaitAction) duration() (time.Duration, error) {
	lo, err := a.parse(a.Duration)
	if err != nil || !a.Random {
		return lo, err
	}
	hi, err := a.parse(a.MaxDuration)
	if err != nil {
		return 0, err
	}
	if hi <= lo {
		return lo, nil
	}
	return lo + time.Duration(a.d.intN(int(hi-lo)+1)), nil
}

func (a *WaitAction) parse(t variables.Text) (time.Duration, error) {
	raw, err := t.Value(a.d.resolver())
	if err != nil {
		return 0, err
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "invalid wait duration %q", raw).WithCause(err)
	}
	return d, nil
}

func (a *WaitAction) ResolveVariablesToFixedValues(r segment.Resolver) error {
	if err := a.Duration.Fix(r); err != nil {
		return err
	}
	return a.MaxDuration.Fix(r)
}

func (a *WaitAction) Save() (json.RawMessage, error) { return json.Marshal(a) }
func (a *WaitAction) Load(data json.RawMessage) error { return json.Unmarshal(data, a) }
func (a *WaitAction) ShortDesc() string               { return a.Duration.Raw }
