package macro

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/macrocore/internal/duration"
	"github.com/rendis/macrocore/internal/logic"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/streaming"
	"github.com/rendis/macrocore/pkg/schema"
)

func TestCheckConditions_FoldsLogic(t *testing.T) {
	tests := []struct {
		name   string
		values []bool
		logics []logic.Type
		want   bool
	}{
		{"single true", []bool{true}, []logic.Type{logic.RootNone}, true},
		{"root not", []bool{true}, []logic.Type{logic.RootNot}, false},
		{"and false", []bool{true, false}, []logic.Type{logic.RootNone, logic.And}, false},
		{"or true", []bool{false, true}, []logic.Type{logic.RootNone, logic.Or}, true},
		{"and not", []bool{true, false}, []logic.Type{logic.RootNone, logic.AndNot}, true},
		{"ignored", []bool{true, false}, []logic.Type{logic.RootNone, logic.None}, true},
		{"empty", nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			m := f.macro("m")
			for i, v := range tt.values {
				c := f.cond(m, v)
				c.SetLogic(tt.logics[i])
			}
			assert.Equal(t, tt.want, m.CheckConditions(context.Background(), false))
			assert.Equal(t, tt.want, m.Matched())
			assert.Len(t, m.LastRecords(), len(tt.values))
		})
	}
}

func TestCheckConditions_PausedEndsFalse(t *testing.T) {
	f := newFixture()
	m := f.macro("m")
	f.cond(m, true)
	m.SetPaused(true)

	assert.False(t, m.CheckConditions(context.Background(), false))
	assert.True(t, m.CheckConditions(context.Background(), true))
}

func TestCheckConditions_DurationModifier(t *testing.T) {
	f := newFixture()
	m := f.macro("m")
	c := f.cond(m, true)
	c.SetDurationModifier(duration.New(duration.More, 2*time.Second))
	ctx := context.Background()

	assert.False(t, m.CheckConditions(ctx, false))
	f.clock.Advance(time.Second)
	assert.False(t, m.CheckConditions(ctx, false))
	f.clock.Advance(1500 * time.Millisecond)
	assert.True(t, m.CheckConditions(ctx, false))

	c.Value = false
	assert.False(t, m.CheckConditions(ctx, false))
}

func TestInsertCondition_NormalizesLogic(t *testing.T) {
	f := newFixture()
	m := f.macro("m")
	first := f.cond(m, true)
	second := f.cond(m, true)
	second.SetLogic(logic.Or)

	// Removing the root promotes the second condition to index 0.
	require.True(t, m.RemoveCondition(0))
	assert.Equal(t, logic.RootNone, second.Logic())
	assert.Equal(t, 0, second.Index())

	first.SetLogic(logic.RootNot)
	m.InsertCondition(1, first)
	assert.Equal(t, logic.AndNot, first.Logic())
}

func TestPerformActions_RunsInOrder(t *testing.T) {
	f := newFixture()
	m := f.macro("m")
	f.record(m, "a")
	f.record(m, "b")
	m.AddElseAction(&recordAction{ActionBase: segment.NewActionBase(testActionID, m), Label: "else", journal: f.journal})

	require.True(t, m.PerformActions(context.Background(), RunOptions{}))
	require.True(t, m.PerformActions(context.Background(), RunOptions{Else: true}))

	assert.Equal(t, []string{"a", "b", "else"}, f.journal.all())
	assert.Equal(t, 2, m.RunCount())
	assert.Equal(t, schema.RunStateIdle, m.State())
	assert.Equal(t, f.clock.Now(), m.LastExecutionTime())
}

func TestPerformActions_SkipsDisabledActions(t *testing.T) {
	f := newFixture()
	m := f.macro("m")
	f.record(m, "a")
	f.record(m, "b")

	require.True(t, m.SetActionEnabled(1, false))
	assert.False(t, m.SetActionEnabled(3, false))
	assert.False(t, m.IsValidActionIndex(0))

	m.PerformActions(context.Background(), RunOptions{})
	assert.Equal(t, []string{"b"}, f.journal.all())

	require.True(t, m.ToggleAction(1))
	m.PerformActions(context.Background(), RunOptions{})
	assert.Equal(t, []string{"b", "a", "b"}, f.journal.all())
}

func TestPerformActions_UnfinishedAction(t *testing.T) {
	for _, stop := range []bool{false, true} {
		f := newFixture()
		m := f.macro("m")
		f.record(m, "a").Fail = true
		f.record(m, "b")
		m.SetStopActionsIfNotDone(stop)

		assert.False(t, m.PerformActions(context.Background(), RunOptions{}))
		if stop {
			assert.Equal(t, []string{"a"}, f.journal.all())
		} else {
			assert.Equal(t, []string{"a", "b"}, f.journal.all())
		}
	}
}

func TestPerformActions_SelfRecursionBlocked(t *testing.T) {
	f := newFixture()
	a := f.macro("A")
	f.record(a, "A")
	self := f.call(a, "A")

	events, cancel, err := f.hub.Subscribe(context.Background(), streaming.Filter{Types: []string{schema.EventRecursionBlocked}})
	require.NoError(t, err)
	defer cancel()

	assert.True(t, a.PerformActions(context.Background(), RunOptions{}))
	assert.False(t, self.result.Load())
	assert.Equal(t, []string{"A"}, f.journal.all())

	select {
	case ev := <-events:
		assert.Equal(t, "A", ev.Macro)
	case <-time.After(time.Second):
		t.Fatal("no recursion event")
	}
}

func TestPerformActions_IndirectRecursionBlocked(t *testing.T) {
	f := newFixture()
	a := f.macro("A")
	b := f.macro("B")
	f.record(a, "A")
	toB := f.call(a, "B")
	f.record(b, "B")
	toA := f.call(b, "A")

	a.PerformActions(context.Background(), RunOptions{})

	assert.True(t, toB.result.Load())
	assert.False(t, toA.result.Load())
	assert.Equal(t, []string{"A", "B"}, f.journal.all())
	assert.Equal(t, 1, a.RunCount())
	assert.Equal(t, 1, b.RunCount())
}

func TestPerformActions_DepthLimit(t *testing.T) {
	f := newFixture()
	f.env.MaxDepth = 2
	a := f.macro("A")
	b := f.macro("B")
	c := f.macro("C")
	f.call(a, "B")
	toC := f.call(b, "C")
	f.record(c, "C")

	a.PerformActions(context.Background(), RunOptions{})
	assert.False(t, toC.result.Load())
	assert.Empty(t, f.journal.all())
}

func TestPerformActions_ParallelRunAndStop(t *testing.T) {
	f := newFixture()
	m := f.macro("m")
	m.SetRunInParallel(true)
	block := f.env.Registry.CreateAction(testBlockID, m).(*blockAction)
	m.AddAction(block)

	require.True(t, m.PerformActions(context.Background(), RunOptions{}))
	select {
	case <-block.started:
	case <-time.After(time.Second):
		t.Fatal("parallel run did not start")
	}
	assert.True(t, m.IsRunning())
	assert.Equal(t, schema.RunStatePerformingActions, m.State())

	// A second run while the first is in flight is skipped.
	assert.True(t, m.PerformActions(context.Background(), RunOptions{}))
	assert.Equal(t, 1, m.RunCount())

	m.Stop()
	assert.False(t, m.IsRunning())
	assert.Equal(t, schema.RunStateStopped, m.State())
	assert.True(t, m.StopRequested())
}

func TestCheckConditions_AfterStop(t *testing.T) {
	f := newFixture()
	m := f.macro("m")
	m.AddCondition(f.env.Registry.CreateCondition(testWaitID, m))
	ctx := context.Background()

	require.True(t, m.CheckConditions(ctx, false))

	m.Stop()
	require.True(t, m.StopRequested())
	for i := 0; i < 3; i++ {
		assert.True(t, m.CheckConditions(ctx, false), "check %d after stop", i)
	}
	assert.False(t, m.StopRequested())
}

func TestPerformActions_GroupNeverRuns(t *testing.T) {
	f := newFixture()
	g := NewGroup(f.env, "g")
	assert.False(t, g.CheckConditions(context.Background(), true))
	assert.False(t, g.PerformActions(context.Background(), RunOptions{}))
}

func TestShouldRunActions_OnChange(t *testing.T) {
	f := newFixture()
	m := f.macro("m")
	c := f.cond(m, true)
	m.SetOnChange(true)
	ctx := context.Background()

	m.CheckConditions(ctx, false)
	assert.True(t, m.ShouldRunActions())

	m.CheckConditions(ctx, false)
	assert.False(t, m.ShouldRunActions())
	assert.True(t, m.OnChangePreventedActions())
	assert.False(t, m.OnChangePreventedActions())

	c.Value = false
	m.CheckConditions(ctx, false)
	assert.False(t, m.ShouldRunActions(), "no else actions")
}

func TestSetPaused_ResetsTimers(t *testing.T) {
	f := newFixture()
	m := f.macro("m")
	c := f.cond(m, true)
	c.SetDurationModifier(duration.New(duration.More, time.Second))
	c.TempVars().Declare("v", "V", "")
	c.TempVars().Set("v", "x")
	ctx := context.Background()

	m.CheckConditions(ctx, false)
	m.PerformActions(ctx, RunOptions{})
	f.clock.Advance(2 * time.Second)
	require.True(t, m.CheckConditions(ctx, false))
	before := f.clock.Now()

	m.SetPaused(true)
	f.clock.Advance(time.Second)
	m.SetPaused(false)

	assert.True(t, m.LastCheckTime().IsZero())
	assert.True(t, m.LastExecutionTime().IsZero())
	assert.Zero(t, m.SinceLastCheck())
	assert.True(t, m.WasPausedSince(before))
	tv, ok := c.TempVars().Get("v")
	require.True(t, ok)
	assert.False(t, tv.Valid)

	// The modifier restarted, so the condition has to hold again.
	assert.False(t, m.CheckConditions(ctx, false))
}

func TestConditionsShouldBeChecked_CustomInterval(t *testing.T) {
	f := newFixture()
	m := f.macro("m")
	m.SetCustomCheckInterval(true, 3*time.Second)

	assert.True(t, m.ConditionsShouldBeChecked())
	m.CheckConditions(context.Background(), false)
	assert.False(t, m.ConditionsShouldBeChecked())
	f.clock.Advance(3 * time.Second)
	assert.True(t, m.ConditionsShouldBeChecked())
}

func TestTempVars_Visibility(t *testing.T) {
	f := newFixture()
	m := f.macro("m")
	c0 := f.cond(m, true)
	c1 := f.cond(m, true)
	a0 := f.record(m, "a0")
	a1 := f.record(m, "a1")
	e0 := &recordAction{ActionBase: segment.NewActionBase(testActionID, m), journal: f.journal}
	m.AddElseAction(e0)

	for _, s := range []segment.Segment{c0, c1, a0, a1, e0} {
		s.TempVars().Declare(segmentLabel(s), segmentLabel(s), "")
	}
	ids := func(vars []segment.TempVar) []string {
		var out []string
		for _, v := range vars {
			out = append(out, v.ID)
		}
		return out
	}

	assert.Empty(t, ids(m.TempVars(c0)))
	assert.Equal(t, []string{segmentLabel(c0)}, ids(m.TempVars(c1)))
	assert.Equal(t, []string{segmentLabel(c0), segmentLabel(c1), segmentLabel(a0)}, ids(m.TempVars(a1)))
	assert.Equal(t, []string{segmentLabel(c0), segmentLabel(c1)}, ids(m.TempVars(e0)))
	assert.Len(t, m.TempVars(nil), 5)
}

func TestOrphanedSegments(t *testing.T) {
	f := newFixture()
	m := f.macro("m")
	f.cond(m, true)
	f.record(m, "a")

	require.True(t, f.env.Registry.DeregisterCondition(testCondID))
	require.True(t, f.env.Registry.DeregisterAction(testActionID))

	assert.False(t, m.CheckConditions(context.Background(), false))
	assert.False(t, m.PerformActions(context.Background(), RunOptions{}))
	assert.Empty(t, f.journal.all())
}

func TestRunFSM_Hooks(t *testing.T) {
	f := newFixture()
	m := f.macro("m")
	f.record(m, "a")

	var seen []schema.RunState
	f.env.FSM().OnAfter(schema.RunStatePerformingActions, schema.RunStateIdle,
		func(_ context.Context, got *Macro, from, to schema.RunState) {
			assert.Same(t, m, got)
			seen = append(seen, from, to)
		})

	m.PerformActions(context.Background(), RunOptions{})
	assert.Equal(t, []schema.RunState{schema.RunStatePerformingActions, schema.RunStateIdle}, seen)

	assert.True(t, IsValidRunTransition(schema.RunStateStopped, schema.RunStateEvaluating))
	assert.False(t, IsValidRunTransition(schema.RunStatePerformingActions, schema.RunStateEvaluating))
	assert.False(t, IsValidRunTransition(schema.RunStateStopped, schema.RunStateIdle))
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, Chain(ctx))

	ctx, err := enterChain(ctx, "A", 3)
	require.NoError(t, err)
	ctx, err = enterChain(ctx, "B", 3)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, Chain(ctx))
	assert.True(t, OnChain(ctx, "A"))
	assert.False(t, OnChain(ctx, "C"))

	_, err = enterChain(ctx, "A", 3)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCycleDetected))

	ctx, err = enterChain(ctx, "C", 3)
	require.NoError(t, err)
	_, err = enterChain(ctx, "D", 3)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCycleDetected))
}
