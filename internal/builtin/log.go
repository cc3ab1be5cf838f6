package builtin

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/variables"
	"github.com/rendis/macrocore/pkg/schema"
)

const LogActionID = "log"

// LogAction writes a message to the host log.
type LogAction struct {
	segment.ActionBase
	Message variables.Text `json:"message"`
	Level   string         `json:"level,omitempty"`

	d *Deps
}

func newLogAction(d *Deps, o segment.Owner) *LogAction {
	return &LogAction{ActionBase: segment.NewActionBase(LogActionID, o), Level: "info", d: d}
}

func (a *LogAction) Perform(ctx context.Context) (bool, error) {
	msg, err := a.Message.Value(a.d.resolver())
	if err != nil {
		return false, err
	}
	level, err := parseLevel(a.Level)
	if err != nil {
		return false, err
	}
	a.d.logger(ctx).Debug("log action", slog.String("level", level.String()), slog.String("message", msg))
	if a.d.Host != nil {
		a.d.Host.Log(level, msg)
	}
	return true, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "invalid log level %q", s).WithCause(err)
	}
	return level, nil
}

func (a *LogAction) ResolveVariablesToFixedValues(r segment.Resolver) error {
	return a.Message.Fix(r)
}

func (a *LogAction) Save() (json.RawMessage, error) { return json.Marshal(a) }
func (a *LogAction) Load(data json.RawMessage) error { return json.Unmarshal(data, a) }
func (a *LogAction) ShortDesc() string               { return a.Message.Raw }
