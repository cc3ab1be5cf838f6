package schema

import "encoding/json"

// DocumentVersion is the current version of the persisted settings document.
const DocumentVersion = 1

// Document is the self-contained persisted form of a macro set. It is what
// the store saves and what export/import exchange.
type Document struct {
	Version    int            `json:"version"`
	IntervalMS int            `json:"interval_ms,omitempty"`
	Macros     []MacroData    `json:"macros"`
	Variables  []VariableData `json:"variables,omitempty"`
	Queues     []QueueData    `json:"queues,omitempty"`
}

// PauseSaveBehavior controls which pause state is written for a macro.
type PauseSaveBehavior int

const (
	PauseSavePersist PauseSaveBehavior = iota // keep the current state
	PauseSavePause                            // always load paused
	PauseSaveUnpause                          // always load unpaused
)

// MacroData is the persisted form of one macro or group header.
type MacroData struct {
	Name                       string            `json:"name"`
	Pause                      bool              `json:"pause,omitempty"`
	PauseSaveBehavior          PauseSaveBehavior `json:"pauseSaveBehavior,omitempty"`
	Parallel                   bool              `json:"parallel,omitempty"`
	OnChange                   bool              `json:"onChange,omitempty"`
	SkipExecOnStart            bool              `json:"skipExecOnStart,omitempty"`
	StopActionsIfNotDone       bool              `json:"stopActionsIfNotDone,omitempty"`
	UseShortCircuitEvaluation  bool              `json:"useShortCircuitEvaluation,omitempty"`
	UseCustomCheckInterval     bool              `json:"useCustomConditionCheckInterval,omitempty"`
	CustomCheckIntervalSeconds float64           `json:"customConditionCheckInterval,omitempty"`
	Group                      bool              `json:"group,omitempty"`
	GroupData                  *GroupData        `json:"groupData,omitempty"`
	Conditions                 []ConditionData   `json:"conditions,omitempty"`
	Actions                    []ActionData      `json:"actions,omitempty"`
	ElseActions                []ActionData      `json:"elseActions,omitempty"`
}

// GroupData holds the header metadata of a group. The Size members directly
// following the group in the macro list belong to it.
type GroupData struct {
	Collapsed bool `json:"collapsed,omitempty"`
	Size      int  `json:"size"`
}

// SegmentSettings are the settings shared by every condition and action.
type SegmentSettings struct {
	Collapsed      bool   `json:"collapsed,omitempty"`
	UseCustomLabel bool   `json:"useCustomLabel,omitempty"`
	CustomLabel    string `json:"customLabel,omitempty"`
	Enabled        *bool  `json:"enabled,omitempty"`
	Version        int    `json:"version,omitempty"`
}

// IsEnabled returns the enabled flag, defaulting to true when absent.
func (s SegmentSettings) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// DurationModifierData is the persisted form of a duration modifier.
type DurationModifierData struct {
	Type    int     `json:"type"`
	Seconds float64 `json:"seconds,omitempty"`
}

// ConditionData is the persisted form of one condition.
type ConditionData struct {
	ID               string               `json:"id"`
	Segment          SegmentSettings      `json:"segmentSettings"`
	Logic            int                  `json:"logic"`
	DurationModifier DurationModifierData `json:"durationModifier"`
	Settings         json.RawMessage      `json:"settings,omitempty"`
}

// ActionData is the persisted form of one action.
type ActionData struct {
	ID       string          `json:"id"`
	Segment  SegmentSettings `json:"segmentSettings"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// VariableSaveAction controls what is persisted for a variable.
type VariableSaveAction int

const (
	VariableDontSave VariableSaveAction = iota
	VariableSave
	VariableSetDefault
)

// VariableData is the persisted form of a named variable.
type VariableData struct {
	Name         string             `json:"name"`
	Value        string             `json:"value,omitempty"`
	DefaultValue string             `json:"defaultValue,omitempty"`
	SaveAction   VariableSaveAction `json:"saveAction,omitempty"`
}

// QueueData is the persisted form of a named action queue.
type QueueData struct {
	Name                  string `json:"name"`
	RunOnStartup          bool   `json:"runOnStartup,omitempty"`
	ResolveVariablesOnAdd bool   `json:"resolveVariablesOnAdd,omitempty"`
}
