package macro

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/macrocore/internal/logic"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/pkg/schema"
)

// Macro is a named rule: conditions folded into one boolean, actions run
// when it holds and else-actions when it does not. A group macro has no
// logic of its own; the GroupSize macros following it in the collection are
// its members.
//
// Structural changes and evaluation happen under the switcher lock. The
// macro's own mutex only guards its fields and is never held while a
// segment runs.
type Macro struct {
	env *Env

	mu          sync.Mutex
	name        string
	conditions  []segment.Condition
	actions     []segment.Action
	elseActions []segment.Action

	paused               bool
	pauseSaveBehavior    schema.PauseSaveBehavior
	runInParallel        bool
	onChange             bool
	skipExecOnStart      bool
	stopActionsIfNotDone bool
	shortCircuit         bool
	customInterval       bool
	checkInterval        time.Duration

	isGroup   bool
	collapsed bool
	groupSize int
	parent    *Macro

	runCount          int
	lastCheck         time.Time
	lastExec          time.Time
	lastUnpause       time.Time
	matched           bool
	lastMatched       bool
	changed           bool
	onChangePrevented bool
	lastRecords       []logic.Record
	state             schema.RunState
	runDone           chan struct{}

	stop    atomic.Bool
	running atomic.Bool
}

// New creates an empty, unpaused macro.
func New(env *Env, name string) *Macro {
	return &Macro{
		env:   env.withDefaults(),
		name:  name,
		state: schema.RunStateStopped,
	}
}

// NewGroup creates an empty group header.
func NewGroup(env *Env, name string) *Macro {
	m := New(env, name)
	m.isGroup = true
	return m
}

// Name returns the macro name.
func (m *Macro) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

func (m *Macro) setName(name string) {
	m.mu.Lock()
	m.name = name
	m.mu.Unlock()
}

// StopRequested reports whether Stop was called since the last run started.
func (m *Macro) StopRequested() bool { return m.stop.Load() }

// IsRunning reports whether a parallel action run is in flight.
func (m *Macro) IsRunning() bool { return m.running.Load() }

// IsGroup reports whether m is a group header.
func (m *Macro) IsGroup() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isGroup
}

// GroupSize returns the number of members of a group.
func (m *Macro) GroupSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groupSize
}

// Collapsed returns the group's collapsed UI hint.
func (m *Macro) Collapsed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collapsed
}

// SetCollapsed sets the group's collapsed UI hint.
func (m *Macro) SetCollapsed(v bool) {
	m.mu.Lock()
	m.collapsed = v
	m.mu.Unlock()
}

// Parent returns the group m belongs to, or nil.
func (m *Macro) Parent() *Macro {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.parent
}

func (m *Macro) setParent(p *Macro) {
	m.mu.Lock()
	m.parent = p
	m.mu.Unlock()
}

func (m *Macro) addGroupSize(delta int) {
	m.mu.Lock()
	m.groupSize += delta
	if m.groupSize < 0 {
		m.groupSize = 0
	}
	m.mu.Unlock()
}

// Paused reports the pause flag.
func (m *Macro) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// SetPaused sets the pause flag. Unpausing a paused macro records the
// unpause time and resets every condition's duration modifier, temp
// variables and the check and execution timestamps.
func (m *Macro) SetPaused(pause bool) {
	now := m.env.Clock.Now()

	m.mu.Lock()
	was := m.paused
	if was && !pause {
		m.lastUnpause = now
		m.resetTimersLocked()
	}
	m.paused = pause
	name := m.name
	m.mu.Unlock()

	if was == pause {
		return
	}
	typ := schema.EventMacroUnpaused
	if pause {
		typ = schema.EventMacroPaused
	}
	m.env.publish(context.Background(), typ, name, nil)
}

// ResetTimers clears duration modifiers, condition temp variables and the
// check and execution timestamps.
func (m *Macro) ResetTimers() {
	m.mu.Lock()
	m.resetTimersLocked()
	m.mu.Unlock()
}

func (m *Macro) resetTimersLocked() {
	for _, c := range m.conditions {
		if mod := c.DurationModifier(); mod != nil {
			mod.Reset()
		}
		c.TempVars().Invalidate()
	}
	m.lastCheck = time.Time{}
	m.lastExec = time.Time{}
}

// PauseSaveBehavior returns which pause state is persisted.
func (m *Macro) PauseSaveBehavior() schema.PauseSaveBehavior {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauseSaveBehavior
}

// SetPauseSaveBehavior sets which pause state is persisted.
func (m *Macro) SetPauseSaveBehavior(b schema.PauseSaveBehavior) {
	m.mu.Lock()
	m.pauseSaveBehavior = b
	m.mu.Unlock()
}

// RunInParallel reports whether actions run on the worker pool.
func (m *Macro) RunInParallel() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runInParallel
}

// SetRunInParallel toggles running actions on the worker pool.
func (m *Macro) SetRunInParallel(v bool) {
	m.mu.Lock()
	m.runInParallel = v
	m.mu.Unlock()
}

// OnChange reports whether actions only run when the result changed.
func (m *Macro) OnChange() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onChange
}

// SetOnChange toggles running actions only on a changed result.
func (m *Macro) SetOnChange(v bool) {
	m.mu.Lock()
	m.onChange = v
	m.mu.Unlock()
}

// SkipExecOnStart reports whether actions are skipped on the first tick.
func (m *Macro) SkipExecOnStart() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.skipExecOnStart
}

// SetSkipExecOnStart toggles skipping actions on the first tick.
func (m *Macro) SetSkipExecOnStart(v bool) {
	m.mu.Lock()
	m.skipExecOnStart = v
	m.mu.Unlock()
}

// StopActionsIfNotDone reports whether an unfinished action ends the run
// and whether a new run replaces one still in flight.
func (m *Macro) StopActionsIfNotDone() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopActionsIfNotDone
}

// SetStopActionsIfNotDone sets StopActionsIfNotDone.
func (m *Macro) SetStopActionsIfNotDone(v bool) {
	m.mu.Lock()
	m.stopActionsIfNotDone = v
	m.mu.Unlock()
}

// ShortCircuit reports whether condition evaluation may skip checks.
func (m *Macro) ShortCircuit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shortCircuit
}

// SetShortCircuit toggles short-circuit evaluation.
func (m *Macro) SetShortCircuit(v bool) {
	m.mu.Lock()
	m.shortCircuit = v
	m.mu.Unlock()
}

// CustomCheckInterval returns whether a custom interval is used and its
// length.
func (m *Macro) CustomCheckInterval() (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.customInterval, m.checkInterval
}

// SetCustomCheckInterval sets the custom condition check interval.
func (m *Macro) SetCustomCheckInterval(enabled bool, d time.Duration) {
	m.mu.Lock()
	m.customInterval = enabled
	m.checkInterval = d
	m.mu.Unlock()
}

// RunCount returns how often the actions ran. It saturates.
func (m *Macro) RunCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runCount
}

// ResetRunCount sets the run count to zero.
func (m *Macro) ResetRunCount() {
	m.mu.Lock()
	m.runCount = 0
	m.mu.Unlock()
}

// Matched returns the result of the last condition check.
func (m *Macro) Matched() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matched
}

// LastRecords returns the per-condition records of the last check.
func (m *Macro) LastRecords() []logic.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.lastRecords)
}

// State returns the run state.
func (m *Macro) State() schema.RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastCheckTime returns when conditions were last checked.
func (m *Macro) LastCheckTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCheck
}

// LastExecutionTime returns when actions last ran.
func (m *Macro) LastExecutionTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastExec
}

// WasExecutedSince reports whether actions ran after t.
func (m *Macro) WasExecutedSince(t time.Time) bool {
	return m.LastExecutionTime().After(t)
}

// WasPausedSince reports whether the macro was unpaused after t.
func (m *Macro) WasPausedSince(t time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUnpause.After(t)
}

// SinceLastCheck returns the time since the last condition check, or zero
// if conditions were never checked (or timers were reset). Time-based
// conditions use it to bridge pause gaps.
func (m *Macro) SinceLastCheck() time.Duration {
	last := m.LastCheckTime()
	return since(m.env.Clock.Now(), last)
}

// Conditions returns a copy of the condition list.
func (m *Macro) Conditions() []segment.Condition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.conditions)
}

// Actions returns a copy of the action list.
func (m *Macro) Actions() []segment.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.actions)
}

// ElseActions returns a copy of the else-action list.
func (m *Macro) ElseActions() []segment.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.elseActions)
}

// InsertCondition inserts c at index i (appends when i is out of range) and
// normalises logic types so only index 0 is a root type.
func (m *Macro) InsertCondition(i int, c segment.Condition) {
	m.mu.Lock()
	m.conditions = insertAt(m.conditions, i, c)
	reindex(m.conditions)
	m.normalizeLogicLocked()
	m.mu.Unlock()
}

// AddCondition appends c.
func (m *Macro) AddCondition(c segment.Condition) { m.InsertCondition(-1, c) }

// RemoveCondition removes the condition at i and closes it.
func (m *Macro) RemoveCondition(i int) bool {
	m.mu.Lock()
	var removed segment.Condition
	m.conditions, removed = removeAt(m.conditions, i)
	reindex(m.conditions)
	m.normalizeLogicLocked()
	m.mu.Unlock()
	return m.closeSegment(removed)
}

// InsertAction inserts a at index i of the action list.
func (m *Macro) InsertAction(i int, a segment.Action) {
	m.mu.Lock()
	m.actions = insertAt(m.actions, i, a)
	reindex(m.actions)
	m.mu.Unlock()
}

// AddAction appends a to the action list.
func (m *Macro) AddAction(a segment.Action) { m.InsertAction(-1, a) }

// RemoveAction removes the action at i and closes it.
func (m *Macro) RemoveAction(i int) bool {
	m.mu.Lock()
	var removed segment.Action
	m.actions, removed = removeAt(m.actions, i)
	reindex(m.actions)
	m.mu.Unlock()
	return m.closeSegment(removed)
}

// InsertElseAction inserts a at index i of the else-action list.
func (m *Macro) InsertElseAction(i int, a segment.Action) {
	m.mu.Lock()
	m.elseActions = insertAt(m.elseActions, i, a)
	reindex(m.elseActions)
	m.mu.Unlock()
}

// AddElseAction appends a to the else-action list.
func (m *Macro) AddElseAction(a segment.Action) { m.InsertElseAction(-1, a) }

// RemoveElseAction removes the else-action at i and closes it.
func (m *Macro) RemoveElseAction(i int) bool {
	m.mu.Lock()
	var removed segment.Action
	m.elseActions, removed = removeAt(m.elseActions, i)
	reindex(m.elseActions)
	m.mu.Unlock()
	return m.closeSegment(removed)
}

func (m *Macro) normalizeLogicLocked() {
	for i, c := range m.conditions {
		t, changed := logic.Normalize(c.Logic(), i)
		if changed {
			m.env.Logger.Warn("corrected condition logic type",
				slog.String("macro", m.name),
				slog.Int("index", i),
				slog.String("from", c.Logic().String()),
				slog.String("to", t.String()),
			)
			c.SetLogic(t)
		}
	}
}

// IsValidActionIndex reports whether the 1-based index names an action.
func (m *Macro) IsValidActionIndex(i int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return i >= 1 && i <= len(m.actions)
}

// SetActionEnabled enables or disables the action at the 1-based index.
func (m *Macro) SetActionEnabled(i int, enabled bool) bool {
	a := m.actionAt(i)
	if a == nil {
		return false
	}
	a.SetEnabled(enabled)
	return true
}

// ToggleAction flips the enabled flag of the action at the 1-based index.
func (m *Macro) ToggleAction(i int) bool {
	a := m.actionAt(i)
	if a == nil {
		return false
	}
	a.SetEnabled(!a.Enabled())
	return true
}

func (m *Macro) actionAt(i int) segment.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 1 || i > len(m.actions) {
		return nil
	}
	return m.actions[i-1]
}

// TempVars returns the temp variables visible to filter: for a condition,
// those of earlier conditions; for an action, all conditions and earlier
// actions; for an else-action, all conditions and earlier else-actions. A
// nil filter returns every temp variable.
func (m *Macro) TempVars(filter segment.Segment) []segment.TempVar {
	m.mu.Lock()
	conds := slices.Clone(m.conditions)
	acts := slices.Clone(m.actions)
	elses := slices.Clone(m.elseActions)
	m.mu.Unlock()

	var out []segment.TempVar
	collect := func(s segment.Segment) { out = append(out, s.TempVars().All()...) }

	isCond := filter != nil && slices.ContainsFunc(conds, func(c segment.Condition) bool { return segment.Segment(c) == filter })
	isAct := filter != nil && slices.ContainsFunc(acts, func(a segment.Action) bool { return segment.Segment(a) == filter })
	isElse := filter != nil && slices.ContainsFunc(elses, func(a segment.Action) bool { return segment.Segment(a) == filter })

	for _, c := range conds {
		if isCond && c.Index() >= filter.Index() {
			continue
		}
		collect(c)
	}
	if isCond {
		return out
	}
	for _, a := range acts {
		if isElse || (isAct && a.Index() >= filter.Index()) {
			continue
		}
		collect(a)
	}
	for _, a := range elses {
		if isAct || (isElse && a.Index() >= filter.Index()) {
			continue
		}
		collect(a)
	}
	return out
}

// InvalidateTempVars marks every temp variable of every segment stale.
func (m *Macro) InvalidateTempVars() {
	for _, s := range m.segments() {
		s.TempVars().Invalidate()
	}
}

// ResolveVariablesToFixedValues freezes variable references of every
// segment that embeds them. Calling it twice yields the same values.
func (m *Macro) ResolveVariablesToFixedValues(r segment.Resolver) error {
	if r == nil {
		r = m.env.Resolver
	}
	if r == nil {
		return nil
	}
	for _, s := range m.segments() {
		vr, ok := s.(segment.VariableResolver)
		if !ok {
			continue
		}
		if err := vr.ResolveVariablesToFixedValues(r); err != nil {
			return schema.NewErrorf(schema.ErrCodeInterpolation,
				"resolve variables of %s: %s", segmentLabel(s), err.Error()).
				WithMacro(m.Name()).
				WithCause(err)
		}
	}
	return nil
}

// Close stops the macro and releases background work owned by its
// segments.
func (m *Macro) Close() {
	m.Stop()
	for _, s := range m.segments() {
		m.closeSegment(s)
	}
}

func (m *Macro) closeSegment(s segment.Segment) bool {
	if s == nil {
		return false
	}
	if c, ok := s.(segment.Closer); ok {
		if err := c.Close(); err != nil {
			m.env.Logger.Warn("closing segment failed",
				slog.String("macro", m.Name()),
				slog.String("segment", segmentLabel(s)),
				slog.String("error", err.Error()),
			)
		}
	}
	return true
}

func (m *Macro) segments() []segment.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]segment.Segment, 0, len(m.conditions)+len(m.actions)+len(m.elseActions))
	for _, c := range m.conditions {
		out = append(out, c)
	}
	for _, a := range m.actions {
		out = append(out, a)
	}
	for _, a := range m.elseActions {
		out = append(out, a)
	}
	return out
}

func insertAt[T any](list []T, i int, v T) []T {
	if i < 0 || i > len(list) {
		return append(list, v)
	}
	return slices.Insert(list, i, v)
}

func removeAt[T any](list []T, i int) ([]T, T) {
	var zero T
	if i < 0 || i >= len(list) {
		return list, zero
	}
	v := list[i]
	return slices.Delete(list, i, i+1), v
}

func reindex[T segment.Segment](list []T) {
	for i, s := range list {
		s.SetIndex(i)
	}
}

func segmentLabel(s segment.Segment) string {
	return fmt.Sprintf("%s[%d]:%s", s.Kind(), s.Index(), s.ID())
}
