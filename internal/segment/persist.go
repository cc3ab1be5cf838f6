package segment

import (
	"github.com/rendis/macrocore/internal/duration"
	"github.com/rendis/macrocore/internal/logic"
	"github.com/rendis/macrocore/pkg/schema"
)

// SaveCondition returns the persisted form of c.
func SaveCondition(c Condition) (schema.ConditionData, error) {
	settings, err := c.Save()
	if err != nil {
		return schema.ConditionData{}, schema.NewErrorf(schema.ErrCodeExecution,
			"save condition %q: %s", c.ID(), err.Error()).WithCause(err)
	}
	return schema.ConditionData{
		ID:               c.ID(),
		Segment:          c.Settings(),
		Logic:            int(c.Logic()),
		DurationModifier: c.DurationModifier().Data(),
		Settings:         settings,
	}, nil
}

// LoadCondition creates a condition from its persisted form. It fails with
// NOT_FOUND when the type id is not registered.
func LoadCondition(r *Registry, data schema.ConditionData, owner Owner) (Condition, error) {
	c := r.CreateCondition(data.ID, owner)
	if c == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "condition type %q not registered", data.ID)
	}
	c.SetSettings(data.Segment)
	c.SetLogic(logic.Type(data.Logic))
	if cb, ok := c.(interface{ SetDurationModifier(*duration.Modifier) }); ok {
		cb.SetDurationModifier(duration.FromData(data.DurationModifier))
	}
	if len(data.Settings) > 0 {
		if err := c.Load(data.Settings); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"load condition %q: %s", data.ID, err.Error()).WithCause(err)
		}
	}
	return c, nil
}

// SaveAction returns the persisted form of a.
func SaveAction(a Action) (schema.ActionData, error) {
	settings, err := a.Save()
	if err != nil {
		return schema.ActionData{}, schema.NewErrorf(schema.ErrCodeExecution,
			"save action %q: %s", a.ID(), err.Error()).WithCause(err)
	}
	return schema.ActionData{
		ID:       a.ID(),
		Segment:  a.Settings(),
		Settings: settings,
	}, nil
}

// LoadAction creates an action from its persisted form. It fails with
// NOT_FOUND when the type id is not registered.
func LoadAction(r *Registry, data schema.ActionData, owner Owner) (Action, error) {
	a := r.CreateAction(data.ID, owner)
	if a == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action type %q not registered", data.ID)
	}
	a.SetSettings(data.Segment)
	if len(data.Settings) > 0 {
		if err := a.Load(data.Settings); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"load action %q: %s", data.ID, err.Error()).WithCause(err)
		}
	}
	return a, nil
}

// CopyAction deep-copies a by saving it and loading the result into a fresh
// instance owned by owner. The copy shares no state with a.
func CopyAction(r *Registry, a Action, owner Owner) (Action, error) {
	data, err := SaveAction(a)
	if err != nil {
		return nil, err
	}
	cp, err := LoadAction(r, data, owner)
	if err != nil {
		return nil, err
	}
	cp.SetIndex(a.Index())
	return cp, nil
}
