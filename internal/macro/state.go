package macro

import (
	"context"
	"slices"
	"sync"

	"github.com/rendis/macrocore/internal/streaming"
	"github.com/rendis/macrocore/pkg/schema"
)

// TransitionHook runs after a macro changes run state.
type TransitionHook func(ctx context.Context, m *Macro, from, to schema.RunState)

type hookKey struct {
	from, to schema.RunState
}

// RunFSM validates macro run-state transitions, publishes the matching
// events and runs registered hooks. One RunFSM serves every macro of an Env.
type RunFSM struct {
	mu     sync.Mutex
	events streaming.Publisher
	after  map[hookKey][]TransitionHook
}

// NewRunFSM creates a RunFSM that publishes to events.
func NewRunFSM(events streaming.Publisher) *RunFSM {
	if events == nil {
		events = streaming.Discard{}
	}
	return &RunFSM{
		events: events,
		after:  make(map[hookKey][]TransitionHook),
	}
}

// OnAfter registers hook for the from -> to transition.
func (f *RunFSM) OnAfter(from, to schema.RunState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition moves m to state to. It returns false, leaving the state
// untouched, when the transition is not allowed: a parallel action run keeps
// its macro in PerformingActions while the next tick evaluates conditions.
func (f *RunFSM) Transition(ctx context.Context, m *Macro, to schema.RunState) bool {
	m.mu.Lock()
	from := m.state
	if !IsValidRunTransition(from, to) {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.mu.Unlock()

	if typ := transitionEvent(from, to); typ != "" {
		m.env.publish(ctx, typ, m.Name(), map[string]any{"from": string(from), "to": string(to)})
	}

	f.mu.Lock()
	hooks := slices.Clone(f.after[hookKey{from, to}])
	f.mu.Unlock()
	for _, h := range hooks {
		h(ctx, m, from, to)
	}
	return true
}

// IsValidRunTransition reports whether from -> to is allowed.
func IsValidRunTransition(from, to schema.RunState) bool {
	return slices.Contains(schema.ValidRunTransitions[from], to)
}

func transitionEvent(from, to schema.RunState) string {
	switch to {
	case schema.RunStatePerformingActions, schema.RunStatePerformingElseActions:
		return schema.EventMacroActionsStarted
	case schema.RunStateStopped:
		return schema.EventMacroStopped
	case schema.RunStateIdle:
		if from == schema.RunStateEvaluating {
			return ""
		}
		return schema.EventMacroActionsCompleted
	default:
		return ""
	}
}
