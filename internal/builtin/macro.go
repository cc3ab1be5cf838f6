package builtin

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/rendis/macrocore/internal/macro"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/variables"
	"github.com/rendis/macrocore/pkg/schema"
)

const (
	MacroConditionID = "macro"
	MacroActionID    = "macro"
)

// MacroCheck selects what a macro condition inspects.
type MacroCheck string

const (
	MacroState            MacroCheck = "state"
	MacroMultiState       MacroCheck = "multi_state"
	MacroCount            MacroCheck = "count"
	MacroPaused           MacroCheck = "paused"
	MacroActionEnabled    MacroCheck = "action_enabled"
	MacroActionDisabled   MacroCheck = "action_disabled"
	MacroActionsPerformed MacroCheck = "actions_performed"
)

// Comparison compares a count with a threshold.
type Comparison string

const (
	Below Comparison = "below"
	Equal Comparison = "equal"
	Above Comparison = "above"
)

func (c Comparison) compare(got, want int) bool {
	switch c {
	case Below:
		return got < want
	case Above:
		return got > want
	default:
		return got == want
	}
}

// MacroCondition inspects other macros. The match state of a macro checked
// later in the tick is the one from the previous tick.
type MacroCondition struct {
	segment.ConditionBase
	Type        MacroCheck     `json:"type"`
	Macro       macro.Ref      `json:"macro"`
	Macros      []macro.Ref    `json:"macros,omitempty"`
	Comparison  Comparison     `json:"condition,omitempty"`
	Count       variables.Text `json:"count"`
	ActionIndex variables.Text `json:"actionIndex"`

	d *Deps
}

func newMacroCondition(d *Deps, o segment.Owner) *MacroCondition {
	c := &MacroCondition{
		ConditionBase: segment.NewConditionBase(MacroConditionID, o),
		Type:          MacroState,
		Comparison:    Equal,
		Count:         variables.NewText("0"),
		ActionIndex:   variables.NewText("1"),
		d:             d,
	}
	c.TempVars().Declare("runCount", "Run count", "Run count of the macro")
	c.TempVars().Declare("matchedCount", "Matched count", "Number of matching macros")
	return c
}

func (c *MacroCondition) Check(context.Context) (bool, error) {
	if c.Type == MacroMultiState {
		matched := 0
		for _, ref := range c.Macros {
			if m := ref.Get(c.d.Macros); m != nil && m.Matched() {
				matched++
			}
		}
		c.TempVars().Set("matchedCount", strconv.Itoa(matched))
		want, err := c.Count.Int(c.d.resolver())
		if err != nil {
			return false, err
		}
		return c.Comparison.compare(matched, want), nil
	}

	m := c.Macro.Get(c.d.Macros)
	if m == nil {
		return false, schema.NewErrorf(schema.ErrCodeNotFound, "macro %q not found", c.Macro.Name)
	}
	switch c.Type {
	case MacroState:
		return m.Matched(), nil
	case MacroCount:
		c.TempVars().Set("runCount", strconv.Itoa(m.RunCount()))
		want, err := c.Count.Int(c.d.resolver())
		if err != nil {
			return false, err
		}
		return c.Comparison.compare(m.RunCount(), want), nil
	case MacroPaused:
		return m.Paused(), nil
	case MacroActionEnabled, MacroActionDisabled:
		idx, err := c.ActionIndex.Int(c.d.resolver())
		if err != nil {
			return false, err
		}
		if !m.IsValidActionIndex(idx) {
			return false, nil
		}
		enabled := m.Actions()[idx-1].Enabled()
		return enabled == (c.Type == MacroActionEnabled), nil
	case MacroActionsPerformed:
		return m.WasExecutedSince(m.LastCheckTime()), nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown macro check %q", c.Type)
	}
}

func (c *MacroCondition) RenameMacroRef(from, to string) {
	if c.Macro.Name == from {
		c.Macro.Name = to
	}
	macro.RenameRefs(c.Macros, from, to)
}

func (c *MacroCondition) ResolveVariablesToFixedValues(r segment.Resolver) error {
	if err := c.Count.Fix(r); err != nil {
		return err
	}
	return c.ActionIndex.Fix(r)
}

func (c *MacroCondition) Save() (json.RawMessage, error) { return json.Marshal(c) }
func (c *MacroCondition) Load(data json.RawMessage) error { return json.Unmarshal(data, c) }
func (c *MacroCondition) ShortDesc() string               { return c.Macro.Name }

// MacroOp selects what a macro action does to its target.
type MacroOp string

const (
	MacroPause         MacroOp = "pause"
	MacroUnpause       MacroOp = "unpause"
	MacroResetCounter  MacroOp = "reset_counter"
	MacroRun           MacroOp = "run"
	MacroStop          MacroOp = "stop"
	MacroDisableAction MacroOp = "disable_action"
	MacroEnableAction  MacroOp = "enable_action"
	MacroToggleAction  MacroOp = "toggle_action"
)

// RunLogic decides whether a run action consults a condition macro.
type RunLogic string

const (
	RunIgnoreConditions RunLogic = "ignore_conditions"
	RunIfConditions     RunLogic = "conditions"
	RunIfNotConditions  RunLogic = "invert_conditions"
)

// RunOptions configure MacroRun.
type RunOptions struct {
	Logic          RunLogic  `json:"logic,omitempty"`
	ConditionMacro macro.Ref `json:"conditionMacro"`
	Reevaluate     bool      `json:"reevaluateConditionState,omitempty"`
	RunElseActions bool      `json:"runElseActions,omitempty"`
	SkipWhenPaused bool      `json:"skipWhenPaused,omitempty"`
}

// MacroAction controls another macro.
type MacroAction struct {
	segment.ActionBase
	Op          MacroOp        `json:"action"`
	Macro       macro.Ref      `json:"macro"`
	ActionIndex variables.Text `json:"actionIndex"`
	RunOptions  RunOptions     `json:"runOptions"`

	d *Deps
}

func newMacroAction(d *Deps, o segment.Owner) *MacroAction {
	return &MacroAction{
		ActionBase:  segment.NewActionBase(MacroActionID, o),
		Op:          MacroPause,
		ActionIndex: variables.NewText("1"),
		RunOptions:  RunOptions{Logic: RunIgnoreConditions},
		d:           d,
	}
}

func (a *MacroAction) Perform(ctx context.Context) (bool, error) {
	m := a.Macro.Get(a.d.Macros)
	if m == nil {
		a.d.logger(ctx).Warn("macro not found", slog.String("target", a.Macro.Name))
		return true, nil
	}

	switch a.Op {
	case MacroPause:
		m.SetPaused(true)
	case MacroUnpause:
		m.SetPaused(false)
	case MacroResetCounter:
		m.ResetRunCount()
	case MacroRun:
		a.run(ctx, m)
	case MacroStop:
		// A macro on the current run chain is waiting for this action;
		// waiting for it here would never return.
		if macro.OnChain(ctx, m.Name()) {
			m.RequestStop()
		} else {
			m.Stop()
		}
	case MacroDisableAction, MacroEnableAction, MacroToggleAction:
		idx, err := a.ActionIndex.Int(a.d.resolver())
		if err != nil {
			return false, err
		}
		var ok bool
		switch a.Op {
		case MacroToggleAction:
			ok = m.ToggleAction(idx)
		default:
			ok = m.SetActionEnabled(idx, a.Op == MacroEnableAction)
		}
		if !ok {
			a.d.logger(ctx).Warn("invalid action index",
				slog.String("target", m.Name()), slog.Int("index", idx))
		}
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown macro action %q", a.Op)
	}
	return true, nil
}

func (a *MacroAction) run(ctx context.Context, m *macro.Macro) {
	o := a.RunOptions
	if o.SkipWhenPaused && m.Paused() {
		return
	}
	opts := macro.RunOptions{Else: o.RunElseActions, IgnorePause: true}
	if o.Logic == "" || o.Logic == RunIgnoreConditions {
		runMacro(ctx, m, opts)
		return
	}

	cm := o.ConditionMacro.Get(a.d.Macros)
	if cm == nil {
		a.d.logger(ctx).Warn("condition macro not found", slog.String("target", o.ConditionMacro.Name))
		return
	}
	if o.Reevaluate {
		cm.CheckConditions(ctx, true)
	}
	matched := cm.Matched()
	if (o.Logic == RunIfConditions && matched) || (o.Logic == RunIfNotConditions && !matched) {
		runMacro(ctx, m, opts)
	}
}

func (a *MacroAction) RenameMacroRef(from, to string) {
	if a.Macro.Name == from {
		a.Macro.Name = to
	}
	if a.RunOptions.ConditionMacro.Name == from {
		a.RunOptions.ConditionMacro.Name = to
	}
}

func (a *MacroAction) ResolveVariablesToFixedValues(r segment.Resolver) error {
	return a.ActionIndex.Fix(r)
}

func (a *MacroAction) Save() (json.RawMessage, error) { return json.Marshal(a) }
func (a *MacroAction) Load(data json.RawMessage) error { return json.Unmarshal(data, a) }
func (a *MacroAction) ShortDesc() string               { return a.Macro.Name }
