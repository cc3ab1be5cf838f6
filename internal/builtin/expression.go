package builtin

import (
	"context"
	"encoding/json"

	"github.com/rendis/macrocore/internal/expressions"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/pkg/schema"
)

const ExpressionConditionID = "expression"

// ExpressionCondition evaluates a CEL expression over the variables, the
// temp variables of earlier segments, the scenes and the owning macro.
//
//	vars.counter == "3" && scene.startsWith("Game")
type ExpressionCondition struct {
	segment.ConditionBase
	Expression string `json:"expression"`

	d *Deps
}

func newExpressionCondition(d *Deps, o segment.Owner) *ExpressionCondition {
	return &ExpressionCondition{ConditionBase: segment.NewConditionBase(ExpressionConditionID, o), d: d}
}

func (c *ExpressionCondition) Check(ctx context.Context) (bool, error) {
	if c.d.CEL == nil {
		return false, schema.NewError(schema.ErrCodeConfig, "no CEL engine")
	}
	return c.d.CEL.EvaluateBool(ctx, c.Expression, c.d.celData(c))
}

func (c *ExpressionCondition) Save() (json.RawMessage, error) { return json.Marshal(c) }
func (c *ExpressionCondition) Load(data json.RawMessage) error { return json.Unmarshal(data, c) }
func (c *ExpressionCondition) ShortDesc() string               { return c.Expression }

// celData builds the CEL activation seen by s.
func (d *Deps) celData(s segment.Segment) map[string]any {
	data := map[string]any{}
	if d.Variables != nil {
		data[expressions.KeyVars] = d.Variables.Snapshot()
	}
	if d.Host != nil {
		data[expressions.KeyScene] = d.Host.CurrentScene()
		data[expressions.KeyPreviousScene] = d.Host.PreviousScene()
	}
	if m := ownerMacro(s); m != nil {
		temp := map[string]string{}
		for _, tv := range m.TempVars(s) {
			if tv.Valid {
				temp[tv.ID] = tv.Value
			}
		}
		data[expressions.KeyTemp] = temp
		data[expressions.KeyMacro] = map[string]any{
			"name":      m.Name(),
			"run_count": int64(m.RunCount()),
			"paused":    m.Paused(),
		}
	}
	return data
}
