package macro

import (
	"context"
	"log/slog"
	"math"

	"github.com/rendis/macrocore/internal/duration"
	"github.com/rendis/macrocore/internal/logging"
	"github.com/rendis/macrocore/internal/logic"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/pkg/schema"
)

// RunOptions control one PerformActions call.
type RunOptions struct {
	// Else runs the else-actions instead of the actions.
	Else bool
	// IgnorePause keeps running actions while the macro is paused.
	IgnorePause bool
	// Parallel runs the actions on the worker pool even if the macro is not
	// configured to.
	Parallel bool
}

// conditionItem adapts a condition to the evaluator, refusing to run
// orphaned conditions.
type conditionItem struct {
	c      segment.Condition
	logger *slog.Logger
}

func (it conditionItem) Logic() logic.Type                     { return it.c.Logic() }
func (it conditionItem) DurationModifier() *duration.Modifier { return it.c.DurationModifier() }

func (it conditionItem) Check(ctx context.Context) (bool, error) {
	ctx = logging.WithSegment(ctx, segmentLabel(it.c))
	if it.c.Orphaned() {
		it.logger.WarnContext(ctx, "condition type is no longer registered, treating as false",
			slog.String("id", it.c.ID()))
		return false, nil
	}
	return it.c.Check(ctx)
}

// ConditionsShouldBeChecked reports whether the custom check interval (if
// any) has elapsed since the last check.
func (m *Macro) ConditionsShouldBeChecked() bool {
	enabled, interval := m.CustomCheckInterval()
	if !enabled {
		return true
	}
	last := m.LastCheckTime()
	if last.IsZero() {
		return true
	}
	return m.env.Clock.Now().Sub(last) >= interval
}

// CheckConditions evaluates the condition list and records the result. A
// paused macro ends the evaluation with false unless ignorePause is set.
// Groups never match. A new check clears an earlier stop request so that
// waiting conditions run again.
func (m *Macro) CheckConditions(ctx context.Context, ignorePause bool) bool {
	if m.IsGroup() {
		return false
	}
	m.stop.Store(false)
	name := m.Name()
	ctx = logging.WithMacro(ctx, name)
	tracked := m.env.fsm.Transition(ctx, m, schema.RunStateEvaluating)

	conds := m.Conditions()
	items := make([]logic.Item, 0, len(conds))
	for _, c := range conds {
		items = append(items, conditionItem{c: c, logger: m.env.Logger})
	}

	res := logic.Evaluate(ctx, items, logic.Options{
		Now:          m.env.Clock.Now(),
		ShortCircuit: m.ShortCircuit(),
		Abort:        func() bool { return !ignorePause && m.Paused() },
		Logger:       m.env.Logger,
	})
	if res.Aborted {
		m.env.Logger.DebugContext(ctx, "macro is paused")
	}

	now := m.env.Clock.Now()
	m.mu.Lock()
	m.matched = res.Value
	m.changed = m.lastMatched != m.matched
	if !m.changed && m.onChange {
		m.onChangePrevented = true
	}
	m.lastMatched = m.matched
	m.lastCheck = now
	m.lastRecords = res.Records
	changed := m.changed
	m.mu.Unlock()

	if tracked {
		m.env.fsm.Transition(ctx, m, schema.RunStateIdle)
	}
	m.env.Logger.DebugContext(ctx, "conditions checked", slog.Bool("matched", res.Value))
	m.env.publish(ctx, schema.EventMacroEvaluated, name, map[string]any{
		"matched": res.Value,
		"changed": changed,
		"aborted": res.Aborted,
	})
	return res.Value
}

// ShouldRunActions reports whether the last check calls for a run: not
// paused, matched or has else-actions, and (for on-change macros) the
// result changed.
func (m *Macro) ShouldRunActions() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.paused &&
		(m.matched || len(m.elseActions) > 0) &&
		(!m.onChange || m.changed)
}

// OnChangePreventedActions reports, and clears, whether an on-change macro
// skipped a run since the last call.
func (m *Macro) OnChangePreventedActions() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.onChangePrevented
	m.onChangePrevented = false
	return v
}

// PerformActions runs the actions (or else-actions) in order. A run
// invoked from inside a run of the same macro, directly or through other
// macros, is skipped with a warning. It returns false when the run was
// skipped or an action did not complete.
func (m *Macro) PerformActions(ctx context.Context, opts RunOptions) bool {
	if m.IsGroup() {
		return false
	}
	name := m.Name()

	runCtx, err := enterChain(ctx, name, m.env.MaxDepth)
	if err != nil {
		m.env.Logger.WarnContext(ctx, "skipping recursive macro run",
			slog.String("macro", name),
			slog.String("error", err.Error()),
		)
		m.env.publish(ctx, schema.EventRecursionBlocked, name, map[string]any{"chain": Chain(ctx)})
		return false
	}

	if m.running.Load() {
		if !m.StopActionsIfNotDone() {
			m.env.Logger.DebugContext(runCtx, "macro already running")
			m.env.publish(runCtx, schema.EventMacroSkipped, name, map[string]any{"reason": "already running"})
			return !opts.Parallel
		}
		m.Stop()
		m.env.Logger.DebugContext(runCtx, "stopped running actions to rerun them")
	}

	m.stop.Store(false)
	list := m.Actions()
	state := schema.RunStatePerformingActions
	if opts.Else {
		list = m.ElseActions()
		state = schema.RunStatePerformingElseActions
	}

	ok := true
	if opts.Parallel || m.RunInParallel() {
		ok = m.startParallel(runCtx, list, opts.IgnorePause, state)
	} else {
		m.env.fsm.Transition(runCtx, m, state)
		ok = m.runActions(runCtx, list, opts.IgnorePause)
		m.env.fsm.Transition(runCtx, m, schema.RunStateIdle)
	}

	m.recordExecution()
	return ok
}

func (m *Macro) startParallel(ctx context.Context, list []segment.Action, ignorePause bool, state schema.RunState) bool {
	done := make(chan struct{})
	m.mu.Lock()
	m.runDone = done
	m.mu.Unlock()
	m.running.Store(true)
	m.env.fsm.Transition(ctx, m, state)

	finish := func(ctx context.Context) {
		m.env.fsm.Transition(ctx, m, schema.RunStateIdle)
		m.running.Store(false)
		close(done)
	}

	err := m.env.Pool.TrySubmit(context.WithoutCancel(ctx), "macro:"+m.Name(), func(ctx context.Context) error {
		defer finish(ctx)
		m.runActions(ctx, list, ignorePause)
		return nil
	})
	if err != nil {
		m.env.Logger.WarnContext(ctx, "cannot start parallel run", slog.String("error", err.Error()))
		finish(ctx)
		return false
	}
	return true
}

func (m *Macro) runActions(ctx context.Context, list []segment.Action, ignorePause bool) bool {
	stopIfNotDone := m.StopActionsIfNotDone()
	all := true
	for _, a := range list {
		if a == nil {
			continue
		}
		if a.Enabled() {
			if !m.performAction(ctx, a) {
				all = false
				if stopIfNotDone {
					m.env.Logger.InfoContext(ctx, "action did not complete, stopping run",
						slog.String("segment", segmentLabel(a)))
					break
				}
			}
		} else {
			m.env.Logger.DebugContext(ctx, "skipping disabled action", slog.String("segment", segmentLabel(a)))
		}
		if (!ignorePause && m.Paused()) || m.stop.Load() || ctx.Err() != nil {
			break
		}
	}
	return all
}

func (m *Macro) performAction(ctx context.Context, a segment.Action) (ok bool) {
	label := segmentLabel(a)
	ctx = logging.WithSegment(ctx, label)

	if a.Orphaned() {
		m.env.Logger.WarnContext(ctx, "action type is no longer registered, skipping",
			slog.String("id", a.ID()))
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			m.env.Logger.ErrorContext(ctx, "action panicked", slog.Any("panic", r))
			m.env.publish(ctx, schema.EventActionFailed, m.Name(), map[string]any{"segment": label, "panic": true})
			ok = false
		}
	}()

	m.env.Logger.DebugContext(ctx, "performing action", slog.String("desc", a.ShortDesc()))
	done, err := a.Perform(ctx)
	if err != nil {
		m.env.Logger.WarnContext(ctx, "action failed", slog.String("error", err.Error()))
		m.env.publish(ctx, schema.EventActionFailed, m.Name(), map[string]any{"segment": label, "error": err.Error()})
		return false
	}
	if !done {
		m.env.Logger.InfoContext(ctx, "action did not complete")
	}
	m.env.publish(ctx, schema.EventActionPerformed, m.Name(), map[string]any{"segment": label, "done": done})
	return done
}

func (m *Macro) recordExecution() {
	now := m.env.Clock.Now()
	m.mu.Lock()
	m.lastExec = now
	if m.runCount < math.MaxInt {
		m.runCount++
	}
	parent := m.parent
	m.mu.Unlock()

	if parent != nil {
		parent.mu.Lock()
		parent.lastExec = now
		parent.mu.Unlock()
	}
}

// RequestStop sets the stop flag and wakes waiting segments without waiting
// for a parallel run to finish.
func (m *Macro) RequestStop() {
	m.stop.Store(true)
	m.env.Waiter.Broadcast()
}

// Stop requests a stop and waits for a parallel run in flight. Waiting
// segments observe the stop within one wake interval.
func (m *Macro) Stop() {
	m.RequestStop()

	m.mu.Lock()
	done := m.runDone
	m.mu.Unlock()
	if done != nil {
		<-done
	}
	m.env.fsm.Transition(context.Background(), m, schema.RunStateStopped)
}
