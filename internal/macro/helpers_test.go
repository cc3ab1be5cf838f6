package macro

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/macrocore/internal/clock"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/streaming"
	"github.com/rendis/macrocore/internal/worker"
)

const (
	testCondID   = "test_flag"
	testActionID = "test_record"
	testCallID   = "test_call"
	testBlockID  = "test_block"
	testWaitID   = "test_wait"
)

// flagCondition returns its Value.
type flagCondition struct {
	segment.ConditionBase
	Value bool `json:"value"`
}

func (c *flagCondition) Check(context.Context) (bool, error) { return c.Value, nil }
func (c *flagCondition) Save() (json.RawMessage, error)      { return json.Marshal(c) }
func (c *flagCondition) Load(data json.RawMessage) error     { return json.Unmarshal(data, c) }
func (c *flagCondition) ShortDesc() string                   { return "flag" }

// recordAction appends its Label to a shared journal.
type recordAction struct {
	segment.ActionBase
	Label string `json:"label"`
	Fail  bool   `json:"fail,omitempty"`

	journal *journal
}

func (a *recordAction) Perform(context.Context) (bool, error) {
	a.journal.add(a.Label)
	return !a.Fail, nil
}
func (a *recordAction) Save() (json.RawMessage, error)  { return json.Marshal(a) }
func (a *recordAction) Load(data json.RawMessage) error { return json.Unmarshal(data, a) }
func (a *recordAction) ShortDesc() string               { return a.Label }

// callAction runs another macro's actions.
type callAction struct {
	segment.ActionBase
	Target Ref `json:"target"`

	coll   *Collection
	result atomic.Bool
}

func (a *callAction) Perform(ctx context.Context) (bool, error) {
	m := a.Target.Get(a.coll)
	if m == nil {
		return true, nil
	}
	a.result.Store(m.PerformActions(ctx, RunOptions{}))
	return true, nil
}
func (a *callAction) Save() (json.RawMessage, error)  { return json.Marshal(a) }
func (a *callAction) Load(data json.RawMessage) error { return json.Unmarshal(data, a) }
func (a *callAction) ShortDesc() string               { return a.Target.Name }
func (a *callAction) RenameMacroRef(from, to string) {
	if a.Target.Name == from {
		a.Target.Name = to
	}
}

// blockAction waits until its owner is stopped.
type blockAction struct {
	segment.ActionBase

	waiter  *segment.Waiter
	started chan struct{}
	once    sync.Once
}

func (a *blockAction) Perform(ctx context.Context) (bool, error) {
	a.once.Do(func() { close(a.started) })
	res := a.waiter.Wait(ctx, a.Owner(), 0, func() bool { return false })
	return res == segment.WaitDone, nil
}
func (a *blockAction) Save() (json.RawMessage, error)  { return []byte("{}"), nil }
func (a *blockAction) Load(json.RawMessage) error      { return nil }
func (a *blockAction) ShortDesc() string               { return "block" }

// waitCondition waits briefly on the shared waiter and holds unless the
// wait was aborted.
type waitCondition struct {
	segment.ConditionBase

	waiter *segment.Waiter
}

func (c *waitCondition) Check(ctx context.Context) (bool, error) {
	return c.waiter.Wait(ctx, c.Owner(), time.Millisecond, func() bool { return false }) != segment.WaitAborted, nil
}
func (c *waitCondition) Save() (json.RawMessage, error) { return []byte("{}"), nil }
func (c *waitCondition) Load(json.RawMessage) error     { return nil }
func (c *waitCondition) ShortDesc() string              { return "wait" }

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
	env     *Env
	coll    *Collection
	clock   *clock.Manual
	hub     *streaming.MemoryHub
	journal *journal
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture() *fixture {
	logger := quietLogger()
	f := &fixture{
		clock:   clock.NewManual(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)),
		hub:     streaming.NewMemoryHub(),
		journal: &journal{},
	}
	f.env = &Env{
		Registry: segment.NewRegistry(logger),
		Clock:    f.clock,
		Logger:   logger,
		Events:   f.hub,
		Pool:     worker.New(4, logger),
		Waiter:   segment.NewWaiter(5 * time.Millisecond),
	}
	f.coll = NewCollection(f.env)

	f.env.Registry.RegisterCondition(testCondID, segment.ConditionInfo{
		Create: func(owner segment.Owner) segment.Condition {
			return &flagCondition{ConditionBase: segment.NewConditionBase(testCondID, owner)}
		},
	})
	f.env.Registry.RegisterCondition(testWaitID, segment.ConditionInfo{
		Create: func(owner segment.Owner) segment.Condition {
			return &waitCondition{ConditionBase: segment.NewConditionBase(testWaitID, owner), waiter: f.env.Waiter}
		},
	})
	f.env.Registry.RegisterAction(testActionID, segment.ActionInfo{
		Create: func(owner segment.Owner) segment.Action {
			return &recordAction{ActionBase: segment.NewActionBase(testActionID, owner), journal: f.journal}
		},
	})
	f.env.Registry.RegisterAction(testCallID, segment.ActionInfo{
		Create: func(owner segment.Owner) segment.Action {
			return &callAction{ActionBase: segment.NewActionBase(testCallID, owner), coll: f.coll}
		},
	})
	f.env.Registry.RegisterAction(testBlockID, segment.ActionInfo{
		Create: func(owner segment.Owner) segment.Action {
			return &blockAction{
				ActionBase: segment.NewActionBase(testBlockID, owner),
				waiter:     f.env.Waiter,
				started:    make(chan struct{}),
			}
		},
	})
	return f
}

func (f *fixture) macro(name string) *Macro {
	m := New(f.env, name)
	if err := f.coll.Add(m); err != nil {
		panic(err)
	}
	return m
}

func (f *fixture) cond(m *Macro, value bool) *flagCondition {
	c := f.env.Registry.CreateCondition(testCondID, m).(*flagCondition)
	c.Value = value
	m.AddCondition(c)
	return c
}

func (f *fixture) record(m *Macro, label string) *recordAction {
	a := f.env.Registry.CreateAction(testActionID, m).(*recordAction)
	a.Label = label
	m.AddAction(a)
	return a
}

func (f *fixture) call(m *Macro, target string) *callAction {
	a := f.env.Registry.CreateAction(testCallID, m).(*callAction)
	a.Target = Ref{Name: target}
	m.AddAction(a)
	return a
}
