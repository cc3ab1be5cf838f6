package builtin

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"

	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/variables"
	"github.com/rendis/macrocore/pkg/schema"
)

const (
	SceneConditionID    = "scene"
	SceneSwitchActionID = "scene_switch"
)

// SceneWhich selects the scene a scene condition compares.
type SceneWhich string

const (
	SceneCurrent  SceneWhich = "current"
	ScenePrevious SceneWhich = "previous"
)

// SceneCondition matches the current or previous scene by name or pattern.
type SceneCondition struct {
	segment.ConditionBase
	Which SceneWhich     `json:"type"`
	Scene variables.Text `json:"scene"`
	Regex bool           `json:"regex,omitempty"`

	d *Deps
}

func newSceneCondition(d *Deps, o segment.Owner) *SceneCondition {
	c := &SceneCondition{ConditionBase: segment.NewConditionBase(SceneConditionID, o), Which: SceneCurrent, d: d}
	c.TempVars().Declare("scene", "Scene", "Name of the compared scene")
	return c
}

func (c *SceneCondition) Check(context.Context) (bool, error) {
	if c.d.Host == nil {
		return false, schema.NewError(schema.ErrCodeConfig, "no host")
	}
	want, err := c.Scene.Value(c.d.resolver())
	if err != nil {
		return false, err
	}
	got := c.d.Host.CurrentScene()
	if c.Which == ScenePrevious {
		got = c.d.Host.PreviousScene()
	}
	c.TempVars().Set("scene", got)
	return matchText(want, got, c.Regex)
}

func (c *SceneCondition) ResolveVariablesToFixedValues(r segment.Resolver) error {
	return c.Scene.Fix(r)
}

func (c *SceneCondition) Save() (json.RawMessage, error) { return json.Marshal(c) }
func (c *SceneCondition) Load(data json.RawMessage) error { return json.Unmarshal(data, c) }
func (c *SceneCondition) ShortDesc() string               { return c.Scene.Raw }

// SceneSwitchAction switches to a scene. A scene that no longer exists is
// a configuration error: the action logs a warning and does nothing.
type SceneSwitchAction struct {
	segment.ActionBase
	Scene variables.Text `json:"scene"`

	d *Deps
}

func newSceneSwitchAction(d *Deps, o segment.Owner) *SceneSwitchAction {
	return &SceneSwitchAction{ActionBase: segment.NewActionBase(SceneSwitchActionID, o), d: d}
}

func (a *SceneSwitchAction) Perform(ctx context.Context) (bool, error) {
	if a.d.Host == nil {
		return false, schema.NewError(schema.ErrCodeConfig, "no host")
	}
	scene, err := a.Scene.Value(a.d.resolver())
	if err != nil {
		return false, err
	}
	if err := a.d.Host.SwitchToScene(scene); err != nil {
		a.d.logger(ctx).Warn("cannot switch scene", slog.String("scene", scene), slog.String("error", err.Error()))
	}
	return true, nil
}

func (a *SceneSwitchAction) ResolveVariablesToFixedValues(r segment.Resolver) error {
	return a.Scene.Fix(r)
}

func (a *SceneSwitchAction) Save() (json.RawMessage, error) { return json.Marshal(a) }
func (a *SceneSwitchAction) Load(data json.RawMessage) error { return json.Unmarshal(data, a) }
func (a *SceneSwitchAction) ShortDesc() string               { return a.Scene.Raw }

// matchText compares value with want, as a regular expression when regex is
// set. Patterns are anchored to the whole value.
func matchText(want, value string, regex bool) (bool, error) {
	if !regex {
		return want == value, nil
	}
	re, err := regexp.Compile("^(?:" + want + ")$")
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeValidation, "invalid pattern %q: %s", want, err.Error()).WithCause(err)
	}
	return re.MatchString(value), nil
}
