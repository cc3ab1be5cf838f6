package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/rendis/macrocore/internal/host"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/variables"
	"github.com/rendis/macrocore/pkg/schema"
)

const (
	SourceSettingConditionID = "source_setting"
	SourceSettingActionID    = "source_setting"
)

// SourceSettingCondition compares a setting of a source or filter. With a
// Query, the setting is parsed as JSON and the jq query result is compared
// instead.
type SourceSettingCondition struct {
	segment.ConditionBase
	Source  string         `json:"source"`
	Setting string         `json:"setting"`
	Query   string         `json:"query,omitempty"`
	Value   variables.Text `json:"value"`
	Regex   bool           `json:"regex,omitempty"`

	d *Deps
}

func newSourceSettingCondition(d *Deps, o segment.Owner) *SourceSettingCondition {
	c := &SourceSettingCondition{ConditionBase: segment.NewConditionBase(SourceSettingConditionID, o), d: d}
	c.TempVars().Declare("value", "Value", "Compared setting value")
	return c
}

func (c *SourceSettingCondition) Check(ctx context.Context) (bool, error) {
	if c.d.Host == nil {
		return false, schema.NewError(schema.ErrCodeConfig, "no host")
	}
	raw, err := c.d.Host.SourceSetting(host.Handle(c.Source), c.Setting)
	if err != nil {
		return false, err
	}
	got := raw
	if c.Query != "" {
		if got, err = c.query(ctx, raw); err != nil {
			return false, err
		}
	}
	c.TempVars().Set("value", got)

	want, err := c.Value.Value(c.d.resolver())
	if err != nil {
		return false, err
	}
	return matchText(want, got, c.Regex)
}

func (c *SourceSettingCondition) query(ctx context.Context, raw string) (string, error) {
	var input any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation,
			"setting %q of %q is not JSON: %s", c.Setting, c.Source, err.Error()).WithCause(err)
	}
	results, err := c.d.JQ.EvaluateAll(ctx, c.Query, input)
	if err != nil {
		return "", err
	}
	switch len(results) {
	case 0:
		return "", nil
	case 1:
		return stringify(results[0]), nil
	default:
		return stringify(results), nil
	}
}

func (c *SourceSettingCondition) ResolveVariablesToFixedValues(r segment.Resolver) error {
	return c.Value.Fix(r)
}

func (c *SourceSettingCondition) Save() (json.RawMessage, error) { return json.Marshal(c) }
func (c *SourceSettingCondition) Load(data json.RawMessage) error { return json.Unmarshal(data, c) }
func (c *SourceSettingCondition) ShortDesc() string {
	return c.Source + "." + c.Setting
}

// SourceSettingAction sets a setting of a source or filter.
type SourceSettingAction struct {
	segment.ActionBase
	Source  string         `json:"source"`
	Setting string         `json:"setting"`
	Value   variables.Text `json:"value"`

	d *Deps
}

func newSourceSettingAction(d *Deps, o segment.Owner) *SourceSettingAction {
	return &SourceSettingAction{ActionBase: segment.NewActionBase(SourceSettingActionID, o), d: d}
}

func (a *SourceSettingAction) Perform(ctx context.Context) (bool, error) {
	if a.d.Host == nil {
		return false, schema.NewError(schema.ErrCodeConfig, "no host")
	}
	v, err := a.Value.Value(a.d.resolver())
	if err != nil {
		return false, err
	}
	if err := a.d.Host.SetSourceSetting(host.Handle(a.Source), a.Setting, v); err != nil {
		a.d.logger(ctx).Warn("cannot set source setting",
			slog.String("source", a.Source),
			slog.String("setting", a.Setting),
			slog.String("error", err.Error()),
		)
	}
	return true, nil
}

func (a *SourceSettingAction) ResolveVariablesToFixedValues(r segment.Resolver) error {
	return a.Value.Fix(r)
}

func (a *SourceSettingAction) Save() (json.RawMessage, error) { return json.Marshal(a) }
func (a *SourceSettingAction) Load(data json.RawMessage) error { return json.Unmarshal(data, a) }
func (a *SourceSettingAction) ShortDesc() string {
	return a.Source + "." + a.Setting
}

// stringify renders a jq result the way variables store values.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case bool:
		return fmt.Sprintf("%t", x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
