package builtin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rendis/macrocore/internal/clock"
	"github.com/rendis/macrocore/internal/expressions"
	"github.com/rendis/macrocore/internal/host"
	"github.com/rendis/macrocore/internal/macro"
	"github.com/rendis/macrocore/internal/queue"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/variables"
	"github.com/rendis/macrocore/internal/worker"
)

const testRecordID = "test_record"

// recordAction appends its Label to a shared journal.
type recordAction struct {
	segment.ActionBase
	Label string `json:"label"`

	journal *journal
}

func (a *recordAction) Perform(context.Context) (bool, error) {
	a.journal.add(a.Label)
	return true, nil
}
func (a *recordAction) Save() (json.RawMessage, error)  { return json.Marshal(a) }
func (a *recordAction) Load(data json.RawMessage) error { return json.Unmarshal(data, a) }
func (a *recordAction) ShortDesc() string               { return a.Label }

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fixture struct {
	env     *macro.Env
	coll    *macro.Collection
	deps    *Deps
	host    *host.MemoryHost
	vars    *variables.Store
	queues  *queue.Registry
	clock   *clock.Manual
	journal *journal
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := quietLogger()
	clk := clock.NewManual(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	vars := variables.NewStore(clk, nil, logger)
	pool := worker.New(4, logger)
	t.Cleanup(pool.Shutdown)

	env := &macro.Env{
		Registry: segment.NewRegistry(logger),
		Clock:    clk,
		Logger:   logger,
		Pool:     pool,
		Waiter:   segment.NewWaiter(5 * time.Millisecond),
		Resolver: vars,
	}
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)

	f := &fixture{
		env:     env,
		coll:    macro.NewCollection(env),
		host:    host.NewMemoryHost("Intro", "Main", "Outro"),
		vars:    vars,
		clock:   clk,
		journal: &journal{},
	}
	f.queues = queue.NewRegistry(queue.Deps{
		Registry: env.Registry,
		Resolver: vars,
		Clock:    clk,
		Logger:   logger,
	})
	f.deps = &Deps{
		Host:      f.host,
		Macros:    f.coll,
		Queues:    f.queues,
		Variables: vars,
		CEL:       cel,
		Waiter:    env.Waiter,
		Pool:      pool,
		Clock:     clk,
		Logger:    logger,
	}
	require.True(t, Register(env.Registry, f.deps))
	env.Registry.RegisterAction(testRecordID, segment.ActionInfo{
		Create: func(owner segment.Owner) segment.Action {
			return &recordAction{ActionBase: segment.NewActionBase(testRecordID, owner), journal: f.journal}
		},
	})
	return f
}

func (f *fixture) macro(t *testing.T, name string) *macro.Macro {
	t.Helper()
	m := macro.New(f.env, name)
	require.NoError(t, f.coll.Add(m))
	return m
}

func (f *fixture) record(m *macro.Macro, label string) *recordAction {
	a := f.env.Registry.CreateAction(testRecordID, m).(*recordAction)
	a.Label = label
	m.AddAction(a)
	return a
}

// action creates a built-in action owned by m and appends it.
func (f *fixture) action(m *macro.Macro, id string) segment.Action {
	a := f.env.Registry.CreateAction(id, m)
	m.AddAction(a)
	return a
}

// condition creates a built-in condition owned by m and appends it.
func (f *fixture) condition(m *macro.Macro, id string) segment.Condition {
	c := f.env.Registry.CreateCondition(id, m)
	m.AddCondition(c)
	return c
}

func tempVar(t *testing.T, s segment.Segment, id string) string {
	t.Helper()
	tv, ok := s.TempVars().Get(id)
	require.True(t, ok, "temp var %q not declared", id)
	return tv.Value
}
