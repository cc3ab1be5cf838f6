// Package builtin provides the condition and action types that ship with
// macrocore.
package builtin

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/rendis/macrocore/internal/clock"
	"github.com/rendis/macrocore/internal/expressions"
	"github.com/rendis/macrocore/internal/host"
	"github.com/rendis/macrocore/internal/logging"
	"github.com/rendis/macrocore/internal/macro"
	"github.com/rendis/macrocore/internal/queue"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/variables"
	"github.com/rendis/macrocore/internal/worker"
)

// Deps are the collaborators built-in segments reach at check and perform
// time. Every segment re-resolves host objects, macros and queues through
// them on each use.
type Deps struct {
	Host      host.Host
	Macros    *macro.Collection
	Queues    *queue.Registry
	Variables *variables.Store
	CEL       *expressions.CELEngine
	JQ        *expressions.GoJQEngine
	Waiter    *segment.Waiter
	Pool      *worker.Pool
	Clock     clock.Clock
	Logger    *slog.Logger

	randMu sync.Mutex
	rand   *rand.Rand
}

// SetRand replaces the random source used by the random action.
func (d *Deps) SetRand(r *rand.Rand) {
	d.randMu.Lock()
	d.rand = r
	d.randMu.Unlock()
}

func (d *Deps) intN(n int) int {
	d.randMu.Lock()
	defer d.randMu.Unlock()
	if d.rand == nil {
		return rand.IntN(n)
	}
	return d.rand.IntN(n)
}

func (d *Deps) resolver() segment.Resolver {
	if d.Variables == nil {
		return nil
	}
	return d.Variables
}

func (d *Deps) logger(ctx context.Context) *slog.Logger {
	return logging.LogWith(ctx, d.Logger)
}

// Register adds every built-in type to reg. It returns false if any id was
// already taken.
func Register(reg *segment.Registry, d *Deps) bool {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.JQ == nil {
		d.JQ = expressions.NewGoJQEngine()
	}
	if d.Waiter == nil {
		d.Waiter = segment.NewWaiter(0)
	}

	ok := true
	conditions := map[string]segment.ConditionInfo{
		SceneConditionID:         {DisplayName: "Scene", Create: func(o segment.Owner) segment.Condition { return newSceneCondition(d, o) }},
		SourceSettingConditionID: {DisplayName: "Source setting", Create: func(o segment.Owner) segment.Condition { return newSourceSettingCondition(d, o) }},
		ExpressionConditionID:    {DisplayName: "Expression", Create: func(o segment.Owner) segment.Condition { return newExpressionCondition(d, o) }},
		VariableConditionID:      {DisplayName: "Variable", Create: func(o segment.Owner) segment.Condition { return newVariableCondition(d, o) }},
		MacroConditionID:         {DisplayName: "Macro", Create: func(o segment.Owner) segment.Condition { return newMacroCondition(d, o) }},
		QueueConditionID:         {DisplayName: "Action queue", Create: func(o segment.Owner) segment.Condition { return newQueueCondition(d, o) }},
		CronConditionID:          {DisplayName: "Cron schedule", Create: func(o segment.Owner) segment.Condition { return newCronCondition(d, o) }},
		RunConditionID:           {DisplayName: "Run process", Create: func(o segment.Owner) segment.Condition { return newRunCondition(d, o) }},
		TimerConditionID:         {DisplayName: "Timer", Create: func(o segment.Owner) segment.Condition { return newTimerCondition(d, o) }},
	}
	for id, info := range conditions {
		info.Builtin = true
		ok = reg.RegisterCondition(id, info) && ok
	}

	actions := map[string]segment.ActionInfo{
		SceneSwitchActionID:   {DisplayName: "Switch scene", Create: func(o segment.Owner) segment.Action { return newSceneSwitchAction(d, o) }},
		SourceSettingActionID: {DisplayName: "Source setting", Create: func(o segment.Owner) segment.Action { return newSourceSettingAction(d, o) }},
		VariableActionID:      {DisplayName: "Variable", Create: func(o segment.Owner) segment.Action { return newVariableAction(d, o) }},
		MacroActionID:         {DisplayName: "Macro", Create: func(o segment.Owner) segment.Action { return newMacroAction(d, o) }},
		SequenceActionID:      {DisplayName: "Sequence", Create: func(o segment.Owner) segment.Action { return newSequenceAction(d, o) }},
		RandomActionID:        {DisplayName: "Random", Create: func(o segment.Owner) segment.Action { return newRandomAction(d, o) }},
		QueueActionID:         {DisplayName: "Action queue", Create: func(o segment.Owner) segment.Action { return newQueueAction(d, o) }},
		WaitActionID:          {DisplayName: "Wait", Create: func(o segment.Owner) segment.Action { return newWaitAction(d, o) }},
		RunActionID:           {DisplayName: "Run process", Create: func(o segment.Owner) segment.Action { return newRunAction(d, o) }},
		LogActionID:           {DisplayName: "Log", Create: func(o segment.Owner) segment.Action { return newLogAction(d, o) }},
	}
	for id, info := range actions {
		info.Builtin = true
		ok = reg.RegisterAction(id, info) && ok
	}
	return ok
}

// ownerMacro returns the macro owning s, or nil when the owner is not a
// macro (for example a queued copy whose macro was deleted).
func ownerMacro(s segment.Segment) *macro.Macro {
	m, _ := s.Owner().(*macro.Macro)
	return m
}

// runMacro runs the actions of m as a nested run of the calling macro.
func runMacro(ctx context.Context, m *macro.Macro, opts macro.RunOptions) bool {
	if m == nil {
		return true
	}
	return m.PerformActions(ctx, opts)
}
