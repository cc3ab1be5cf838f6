package builtin

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rendis/macrocore/internal/expressions"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/variables"
	"github.com/rendis/macrocore/pkg/schema"
)

const (
	VariableConditionID = "variable"
	VariableActionID    = "variable"
)

// VariableCompare selects how a variable condition tests the value.
type VariableCompare string

const (
	VariableEquals     VariableCompare = "equals"
	VariableMatches    VariableCompare = "matches"
	VariableLess       VariableCompare = "less"
	VariableGreater    VariableCompare = "greater"
	VariableChanged    VariableCompare = "changed"
	VariableExpression VariableCompare = "expression"
)

// VariableCondition tests a named variable. The expression mode evaluates
// a CEL expression where value is the variable's current value.
type VariableCondition struct {
	segment.ConditionBase
	Variable string          `json:"variable"`
	Compare  VariableCompare `json:"compare"`
	Value    variables.Text  `json:"value"`

	d           *Deps
	changeCount uint64
}

func newVariableCondition(d *Deps, o segment.Owner) *VariableCondition {
	c := &VariableCondition{ConditionBase: segment.NewConditionBase(VariableConditionID, o), Compare: VariableEquals, d: d}
	c.TempVars().Declare("value", "Value", "Value of the variable")
	return c
}

func (c *VariableCondition) Check(ctx context.Context) (bool, error) {
	if c.d.Variables == nil {
		return false, schema.NewError(schema.ErrCodeConfig, "no variable store")
	}
	v, ok := c.d.Variables.Get(c.Variable)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeNotFound, "variable %q not found", c.Variable)
	}
	c.TempVars().Set("value", v.Value)

	if c.Compare == VariableChanged {
		changed := v.ChangeCount != c.changeCount
		c.changeCount = v.ChangeCount
		return changed, nil
	}
	if c.Compare == VariableExpression {
		if c.d.CEL == nil {
			return false, schema.NewError(schema.ErrCodeConfig, "no CEL engine")
		}
		data := c.d.celData(c)
		data[expressions.KeyVars] = mergeValue(data[expressions.KeyVars], v.Value)
		return c.d.CEL.EvaluateBool(ctx, c.Value.Raw, data)
	}

	want, err := c.Value.Value(c.d.resolver())
	if err != nil {
		return false, err
	}
	switch c.Compare {
	case VariableEquals:
		return v.Value == want, nil
	case VariableMatches:
		return matchText(want, v.Value, true)
	case VariableLess, VariableGreater:
		got, err1 := strconv.ParseFloat(strings.TrimSpace(v.Value), 64)
		ref, err2 := strconv.ParseFloat(strings.TrimSpace(want), 64)
		if err1 != nil || err2 != nil {
			return false, nil
		}
		if c.Compare == VariableLess {
			return got < ref, nil
		}
		return got > ref, nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown compare %q", c.Compare)
	}
}

// mergeValue adds "value" to the vars map of a CEL activation.
func mergeValue(vars any, value string) map[string]string {
	out := map[string]string{}
	if m, ok := vars.(map[string]string); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	out["value"] = value
	return out
}

func (c *VariableCondition) ResolveVariablesToFixedValues(r segment.Resolver) error {
	if c.Compare == VariableExpression {
		return nil
	}
	return c.Value.Fix(r)
}

func (c *VariableCondition) Save() (json.RawMessage, error) { return json.Marshal(c) }
func (c *VariableCondition) Load(data json.RawMessage) error { return json.Unmarshal(data, c) }
func (c *VariableCondition) ShortDesc() string               { return c.Variable }

// VariableOp selects what a variable action does.
type VariableOp string

const (
	VariableSet       VariableOp = "set"
	VariableAppend    VariableOp = "append"
	VariableIncrement VariableOp = "increment"
	VariableDecrement VariableOp = "decrement"
	VariableEvaluate  VariableOp = "evaluate"
	VariableReset     VariableOp = "reset"
)

// VariableAction changes a named variable. Evaluate runs Value as an expr
// expression over the variables and stores the result.
type VariableAction struct {
	segment.ActionBase
	Variable string         `json:"variable"`
	Op       VariableOp     `json:"op"`
	Value    variables.Text `json:"value"`

	d *Deps
}

func newVariableAction(d *Deps, o segment.Owner) *VariableAction {
	return &VariableAction{ActionBase: segment.NewActionBase(VariableActionID, o), Op: VariableSet, d: d}
}

func (a *VariableAction) Perform(context.Context) (bool, error) {
	store := a.d.Variables
	if store == nil {
		return false, schema.NewError(schema.ErrCodeConfig, "no variable store")
	}
	if a.Variable == "" {
		return false, schema.NewError(schema.ErrCodeValidation, "variable name is required")
	}

	if a.Op == VariableEvaluate {
		v, err := store.Resolve("${{ " + a.Value.Raw + " }}")
		if err != nil {
			return false, err
		}
		store.Set(a.Variable, v)
		return true, nil
	}

	value, err := a.Value.Value(a.d.resolver())
	if err != nil {
		return false, err
	}
	current, _ := store.Value(a.Variable)

	switch a.Op {
	case VariableSet:
		store.Set(a.Variable, value)
	case VariableAppend:
		store.Set(a.Variable, current+value)
	case VariableIncrement, VariableDecrement:
		base, err := parseNumber(current, 0)
		if err != nil {
			return false, schema.NewErrorf(schema.ErrCodeValidation, "variable %q is not a number", a.Variable)
		}
		delta, err := parseNumber(value, 1)
		if err != nil {
			return false, schema.NewErrorf(schema.ErrCodeValidation, "%q is not a number", value)
		}
		if a.Op == VariableDecrement {
			delta = -delta
		}
		store.Set(a.Variable, strconv.FormatFloat(base+delta, 'f', -1, 64))
	case VariableReset:
		v, ok := store.Get(a.Variable)
		if !ok {
			return false, schema.NewErrorf(schema.ErrCodeNotFound, "variable %q not found", a.Variable)
		}
		store.Set(a.Variable, v.DefaultValue)
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown variable operation %q", a.Op)
	}
	return true, nil
}

func parseNumber(s string, empty float64) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return empty, nil
	}
	return strconv.ParseFloat(s, 64)
}

func (a *VariableAction) ResolveVariablesToFixedValues(r segment.Resolver) error {
	if a.Op == VariableEvaluate {
		return nil
	}
	return a.Value.Fix(r)
}

func (a *VariableAction) Save() (json.RawMessage, error) { return json.Marshal(a) }
func (a *VariableAction) Load(data json.RawMessage) error { return json.Unmarshal(data, a) }
func (a *VariableAction) ShortDesc() string               { return a.Variable }
