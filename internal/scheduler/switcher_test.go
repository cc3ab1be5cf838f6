package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/macrocore/internal/builtin"
	"github.com/rendis/macrocore/internal/clock"
	"github.com/rendis/macrocore/internal/host"
	"github.com/rendis/macrocore/internal/macro"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/variables"
	"github.com/rendis/macrocore/pkg/schema"
)

type panicCondition struct {
	segment.ConditionBase
}

func (c *panicCondition) Check(context.Context) (bool, error) { panic("boom") }
func (c *panicCondition) Save() (json.RawMessage, error)      { return []byte("{}"), nil }
func (c *panicCondition) Load(json.RawMessage) error          { return nil }
func (c *panicCondition) ShortDesc() string                   { return "panic" }

func newTestSwitcher(t *testing.T, clk clock.Clock) (*Switcher, *host.MemoryHost) {
	t.Helper()
	h := host.NewMemoryHost("Intro", "Main")
	s, err := New(Options{
		Host:         h,
		Clock:        clk,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Interval:     time.Hour,
		WakeInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, h
}

func addMacro(t *testing.T, s *Switcher, name string) *macro.Macro {
	t.Helper()
	m := macro.New(s.Env(), name)
	require.NoError(t, s.Macros().Add(m))
	return m
}

// whenVar adds a condition matching when variable name equals value.
func whenVar(s *Switcher, m *macro.Macro, name, value string) {
	c := s.Registry().CreateCondition(builtin.VariableConditionID, m).(*builtin.VariableCondition)
	c.Variable = name
	c.Value = variables.NewText(value)
	m.AddCondition(c)
}

func setVar(s *Switcher, name, value string) *builtin.VariableAction {
	return setVarOwned(s, nil, name, value)
}

func setVarOwned(s *Switcher, m *macro.Macro, name, value string) *builtin.VariableAction {
	var owner segment.Owner
	if m != nil {
		owner = m
	}
	a := s.Registry().CreateAction(builtin.VariableActionID, owner).(*builtin.VariableAction)
	a.Variable = name
	a.Op = builtin.VariableSet
	a.Value = variables.NewText(value)
	return a
}

func value(s *Switcher, name string) string {
	v, _ := s.Variables().Value(name)
	return v
}

func TestNew_RequiresHost(t *testing.T) {
	_, err := New(Options{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfig))
}

func TestTick_RunsActionsOrElseActions(t *testing.T) {
	s, _ := newTestSwitcher(t, nil)
	s.Variables().Set("x", "0")
	m := addMacro(t, s, "m")
	whenVar(s, m, "x", "1")
	m.AddAction(setVarOwned(s, m, "y", "matched"))
	m.AddElseAction(setVarOwned(s, m, "y", "else"))

	ctx := context.Background()
	s.Tick(ctx)
	assert.Equal(t, "else", value(s, "y"))

	s.Variables().Set("x", "1")
	s.Tick(ctx)
	assert.Equal(t, "matched", value(s, "y"))
	assert.Equal(t, uint64(2), s.Ticks())
}

func TestTick_PausedMacroDoesNotRun(t *testing.T) {
	s, _ := newTestSwitcher(t, nil)
	s.Variables().Set("x", "1")
	m := addMacro(t, s, "m")
	whenVar(s, m, "x", "1")
	m.AddAction(setVarOwned(s, m, "y", "ran"))
	m.SetPaused(true)

	s.Tick(context.Background())
	assert.Empty(t, value(s, "y"))
	assert.False(t, m.Matched())
}

func TestTick_SkipExecOnStart(t *testing.T) {
	s, _ := newTestSwitcher(t, nil)
	s.Variables().Set("x", "1")
	m := addMacro(t, s, "m")
	whenVar(s, m, "x", "1")
	m.AddAction(setVarOwned(s, m, "count", "ran"))
	m.SetSkipExecOnStart(true)

	require.NoError(t, s.Start(context.Background()))
	s.Tick(context.Background())
	assert.True(t, m.Matched())
	assert.Empty(t, value(s, "count"))

	s.Tick(context.Background())
	assert.Equal(t, "ran", value(s, "count"))
	require.NoError(t, s.Stop())
}

func TestTick_CustomIntervalSkipsEvaluationAndActions(t *testing.T) {
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s, _ := newTestSwitcher(t, clk)
	s.Variables().Set("x", "1")
	m := addMacro(t, s, "m")
	whenVar(s, m, "x", "1")
	m.AddAction(setVarOwned(s, m, "y", "ran"))
	m.SetCustomCheckInterval(true, 10*time.Second)

	ctx := context.Background()
	s.Tick(ctx)
	assert.Equal(t, 1, m.RunCount())

	clk.Advance(time.Second)
	s.Tick(ctx)
	assert.Equal(t, 1, m.RunCount())

	clk.Advance(10 * time.Second)
	s.Tick(ctx)
	assert.Equal(t, 2, m.RunCount())
}

func TestTick_PanicIsContainedToMacro(t *testing.T) {
	s, _ := newTestSwitcher(t, nil)
	require.True(t, s.Registry().RegisterCondition("test_panic", segment.ConditionInfo{
		Create: func(o segment.Owner) segment.Condition {
			return &panicCondition{ConditionBase: segment.NewConditionBase("test_panic", o)}
		},
	}))
	bad := addMacro(t, s, "bad")
	bad.AddCondition(s.Registry().CreateCondition("test_panic", bad))

	s.Variables().Set("x", "1")
	good := addMacro(t, s, "good")
	whenVar(s, good, "x", "1")
	good.AddAction(setVarOwned(s, good, "y", "ran"))

	assert.NotPanics(t, func() { s.Tick(context.Background()) })
	assert.Equal(t, "ran", value(s, "y"))
}

func TestTick_DrainsOneQueueItemPerTick(t *testing.T) {
	s, _ := newTestSwitcher(t, nil)
	q, err := s.Queues().Create("q")
	require.NoError(t, err)
	require.NoError(t, q.Add(setVar(s, "a", "1"), setVar(s, "b", "2")))

	ctx := context.Background()
	s.Tick(ctx)
	assert.Empty(t, value(s, "a"))

	q.Start()
	s.Tick(ctx)
	assert.Equal(t, "1", value(s, "a"))
	assert.Empty(t, value(s, "b"))
	s.Tick(ctx)
	assert.Equal(t, "2", value(s, "b"))
	assert.True(t, q.IsEmpty())
}

func TestStartStop(t *testing.T) {
	s, h := newTestSwitcher(t, nil)
	q, err := s.Queues().Create("q")
	require.NoError(t, err)
	q.SetRunOnStartup(true)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.Running())
	assert.True(t, h.Ticking())
	assert.True(t, q.IsRunning())

	err = s.Start(ctx)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))

	require.NoError(t, s.Stop())
	assert.False(t, s.Running())
	assert.False(t, h.Ticking())
	assert.False(t, q.IsRunning())
	require.NoError(t, s.Stop())
}

func TestStart_TicksPeriodically(t *testing.T) {
	s, _ := newTestSwitcher(t, nil)
	s.SetInterval(5 * time.Millisecond)
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.Ticks() >= 3 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
}

func TestStop_AbortsBlockingWait(t *testing.T) {
	s, _ := newTestSwitcher(t, nil)
	s.SetInterval(5 * time.Millisecond)
	s.Variables().Set("x", "1")
	m := addMacro(t, s, "m")
	whenVar(s, m, "x", "1")
	wait := s.Registry().CreateAction(builtin.WaitActionID, m).(*builtin.WaitAction)
	wait.Duration = variables.NewText("1h")
	m.AddAction(wait)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		return m.State() == schema.RunStatePerformingActions
	}, 5*time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Stop())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunMacro(t *testing.T) {
	s, _ := newTestSwitcher(t, nil)
	m := addMacro(t, s, "m")
	m.AddAction(setVarOwned(s, m, "y", "ran"))
	m.SetPaused(true)

	require.NoError(t, s.RunMacro(context.Background(), "m", false))
	assert.Equal(t, "ran", value(s, "y"))

	err := s.RunMacro(context.Background(), "missing", false)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}
