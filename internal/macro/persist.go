package macro

import (
	"errors"
	"log/slog"
	"time"

	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/pkg/schema"
)

// Save returns the persisted form of m.
func (m *Macro) Save() (schema.MacroData, error) {
	m.mu.Lock()
	data := schema.MacroData{
		Name:  m.name,
		Group: m.isGroup,
	}
	if m.isGroup {
		data.GroupData = &schema.GroupData{Collapsed: m.collapsed, Size: m.groupSize}
		m.mu.Unlock()
		return data, nil
	}
	data.Pause = m.paused
	data.PauseSaveBehavior = m.pauseSaveBehavior
	data.Parallel = m.runInParallel
	data.OnChange = m.onChange
	data.SkipExecOnStart = m.skipExecOnStart
	data.StopActionsIfNotDone = m.stopActionsIfNotDone
	data.UseShortCircuitEvaluation = m.shortCircuit
	data.UseCustomCheckInterval = m.customInterval
	data.CustomCheckIntervalSeconds = m.checkInterval.Seconds()
	m.mu.Unlock()

	for _, c := range m.Conditions() {
		cd, err := segment.SaveCondition(c)
		if err != nil {
			return schema.MacroData{}, withMacro(err, data.Name)
		}
		data.Conditions = append(data.Conditions, cd)
	}
	var err error
	if data.Actions, err = saveActions(m.Actions()); err != nil {
		return schema.MacroData{}, withMacro(err, data.Name)
	}
	if data.ElseActions, err = saveActions(m.ElseActions()); err != nil {
		return schema.MacroData{}, withMacro(err, data.Name)
	}
	return data, nil
}

func saveActions(list []segment.Action) ([]schema.ActionData, error) {
	var out []schema.ActionData
	for _, a := range list {
		ad, err := segment.SaveAction(a)
		if err != nil {
			return nil, err
		}
		out = append(out, ad)
	}
	return out, nil
}

// Load builds a macro from its persisted form. Absent fields keep their
// defaults and segments of unknown types are dropped with a warning.
// Malformed segment settings fail the load.
func Load(env *Env, data schema.MacroData) (*Macro, error) {
	env = env.withDefaults()
	if data.Name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "macro name is required")
	}

	if data.Group {
		g := NewGroup(env, data.Name)
		if data.GroupData != nil {
			g.collapsed = data.GroupData.Collapsed
			g.groupSize = data.GroupData.Size
		}
		return g, nil
	}

	m := New(env, data.Name)
	m.pauseSaveBehavior = data.PauseSaveBehavior
	switch data.PauseSaveBehavior {
	case schema.PauseSavePause:
		m.paused = true
	case schema.PauseSaveUnpause:
		m.paused = false
	default:
		m.paused = data.Pause
	}
	m.runInParallel = data.Parallel
	m.onChange = data.OnChange
	m.skipExecOnStart = data.SkipExecOnStart
	m.stopActionsIfNotDone = data.StopActionsIfNotDone
	m.shortCircuit = data.UseShortCircuitEvaluation
	m.customInterval = data.UseCustomCheckInterval
	m.checkInterval = time.Duration(data.CustomCheckIntervalSeconds * float64(time.Second))

	for _, cd := range data.Conditions {
		c, err := segment.LoadCondition(env.Registry, cd, m)
		if schema.HasCode(err, schema.ErrCodeNotFound) {
			env.Logger.Warn("discarding condition with unknown id",
				slog.String("macro", data.Name), slog.String("id", cd.ID))
			continue
		}
		if err != nil {
			return nil, withMacro(err, data.Name)
		}
		m.conditions = append(m.conditions, c)
	}
	reindex(m.conditions)
	m.normalizeLogicLocked()

	var err error
	if m.actions, err = loadActions(env, m, "action", data.Actions); err != nil {
		return nil, err
	}
	if m.elseActions, err = loadActions(env, m, "else-action", data.ElseActions); err != nil {
		return nil, err
	}
	return m, nil
}

func loadActions(env *Env, m *Macro, kind string, list []schema.ActionData) ([]segment.Action, error) {
	var out []segment.Action
	for _, ad := range list {
		a, err := segment.LoadAction(env.Registry, ad, m)
		if schema.HasCode(err, schema.ErrCodeNotFound) {
			env.Logger.Warn("discarding "+kind+" with unknown id",
				slog.String("macro", m.name), slog.String("id", ad.ID))
			continue
		}
		if err != nil {
			return nil, withMacro(err, m.name)
		}
		out = append(out, a)
	}
	reindex(out)
	return out, nil
}

func withMacro(err error, name string) error {
	var ce *schema.CoreError
	if errors.As(err, &ce) {
		return ce.WithMacro(name)
	}
	return schema.NewErrorf(schema.ErrCodeExecution, "%s", err.Error()).WithMacro(name).WithCause(err)
}
