package schema

// Event type constants published on the event hub.
const (
	EventMacroEvaluated        = "macro_evaluated"
	EventMacroActionsStarted   = "macro_actions_started"
	EventMacroActionsCompleted = "macro_actions_completed"
	EventMacroSkipped          = "macro_skipped"
	EventMacroPaused           = "macro_paused"
	EventMacroUnpaused         = "macro_unpaused"
	EventMacroStopped          = "macro_stopped"
	EventMacroAdded            = "macro_added"
	EventMacroRemoved          = "macro_removed"
	EventMacroRenamed          = "macro_renamed"

	EventActionPerformed = "action_performed"
	EventActionFailed    = "action_failed"

	EventRecursionBlocked = "recursion_blocked"

	EventQueueStarted = "queue_started"
	EventQueueStopped = "queue_stopped"
	EventQueueDrained = "queue_drained"

	EventVariableSet = "variable_set"

	EventScriptTriggered = "script_triggered"
	EventScriptCompleted = "script_completed"
	EventScriptTimedOut  = "script_timed_out"

	EventSwitcherStarted = "switcher_started"
	EventSwitcherStopped = "switcher_stopped"
	EventImportApplied   = "import_applied"
)

// RunState is the lifecycle state of a single macro.
type RunState string

const (
	RunStateStopped               RunState = "stopped"
	RunStateEvaluating            RunState = "evaluating"
	RunStatePerformingActions     RunState = "performing_actions"
	RunStatePerformingElseActions RunState = "performing_else_actions"
	RunStateIdle                  RunState = "idle"
)

// ValidRunTransitions defines the allowed macro run-state transitions.
var ValidRunTransitions = map[RunState][]RunState{
	RunStateStopped:               {RunStateEvaluating, RunStatePerformingActions, RunStatePerformingElseActions},
	RunStateIdle:                  {RunStateEvaluating, RunStatePerformingActions, RunStatePerformingElseActions, RunStateStopped},
	RunStateEvaluating:            {RunStatePerformingActions, RunStatePerformingElseActions, RunStateIdle, RunStateStopped},
	RunStatePerformingActions:     {RunStateIdle, RunStateStopped},
	RunStatePerformingElseActions: {RunStateIdle, RunStateStopped},
}
