// Package macro implements macros, the ordered collection that owns them and
// the machinery around a single evaluation and action run.
package macro

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/macrocore/internal/clock"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/streaming"
	"github.com/rendis/macrocore/internal/worker"
)

// DefaultMaxDepth bounds nested macro runs.
const DefaultMaxDepth = 32

// Env carries the dependencies shared by every macro of a collection.
type Env struct {
	Registry *segment.Registry
	Clock    clock.Clock
	Logger   *slog.Logger
	Events   streaming.Publisher
	Pool     *worker.Pool
	Waiter   *segment.Waiter
	// Resolver freezes variable references. May be nil.
	Resolver segment.Resolver
	MaxDepth int

	fsm *RunFSM
}

// withDefaults fills unset fields. It returns env itself so the FSM is
// shared by every macro.
func (e *Env) withDefaults() *Env {
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	if e.Registry == nil {
		e.Registry = segment.NewRegistry(e.Logger)
	}
	if e.Clock == nil {
		e.Clock = clock.Real{}
	}
	if e.Events == nil {
		e.Events = streaming.Discard{}
	}
	if e.Pool == nil {
		e.Pool = worker.New(4, e.Logger)
	}
	if e.Waiter == nil {
		e.Waiter = segment.NewWaiter(0)
	}
	if e.MaxDepth <= 0 {
		e.MaxDepth = DefaultMaxDepth
	}
	if e.fsm == nil {
		e.fsm = NewRunFSM(e.Events)
	}
	return e
}

// FSM returns the run-state machine shared by the macros of this Env.
func (e *Env) FSM() *RunFSM {
	return e.withDefaults().fsm
}

func (e *Env) publish(ctx context.Context, typ, macroName string, payload any) {
	ev := streaming.Event{
		Type:    typ,
		Macro:   macroName,
		Time:    e.Clock.Now(),
		Payload: payload,
	}
	if id, ok := runIDFrom(ctx); ok {
		ev.RunID = id
	}
	if err := e.Events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		e.Logger.Debug("event not published", slog.String("type", typ), slog.String("error", err.Error()))
	}
}

func newRunID() string {
	return uuid.NewString()
}

func since(now, t time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}
	return now.Sub(t)
}
