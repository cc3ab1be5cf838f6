// Package queue implements action queues: FIFOs of action snapshots drained
// one item per tick, independent of the macro that filled them.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/macrocore/internal/clock"
	"github.com/rendis/macrocore/internal/logging"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/streaming"
	"github.com/rendis/macrocore/pkg/schema"
)

// Deps are the collaborators shared by every queue.
type Deps struct {
	Registry *segment.Registry
	// Resolver freezes variable references of copies when the queue
	// resolves on add. May be nil.
	Resolver segment.Resolver
	Clock    clock.Clock
	Logger   *slog.Logger
	Events   streaming.Publisher
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Registry == nil {
		d.Registry = segment.NewRegistry(d.Logger)
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Events == nil {
		d.Events = streaming.Discard{}
	}
	return d
}

// Queue is a FIFO of action copies. Stop keeps the queued items; Clear
// discards them whatever the run state.
type Queue struct {
	deps Deps

	mu                    sync.Mutex
	name                  string
	runOnStartup          bool
	resolveVariablesOnAdd bool
	running               bool
	items                 []segment.Action
	lastEmpty             time.Time
}

// New creates a stopped, empty queue.
func New(deps Deps, name string) *Queue {
	deps = deps.withDefaults()
	return &Queue{
		deps:      deps,
		name:      name,
		lastEmpty: deps.Clock.Now(),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.name
}

func (q *Queue) setName(name string) {
	q.mu.Lock()
	q.name = name
	q.mu.Unlock()
}

// RunOnStartup reports whether the queue starts with the switcher.
func (q *Queue) RunOnStartup() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.runOnStartup
}

// SetRunOnStartup sets RunOnStartup.
func (q *Queue) SetRunOnStartup(v bool) {
	q.mu.Lock()
	q.runOnStartup = v
	q.mu.Unlock()
}

// ResolveVariablesOnAdd reports whether copies freeze their variable
// references when added.
func (q *Queue) ResolveVariablesOnAdd() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resolveVariablesOnAdd
}

// SetResolveVariablesOnAdd sets ResolveVariablesOnAdd.
func (q *Queue) SetResolveVariablesOnAdd(v bool) {
	q.mu.Lock()
	q.resolveVariablesOnAdd = v
	q.mu.Unlock()
}

// Add appends copies of actions to the tail. The copies are made before
// anything is queued, so either all of them are added or none is.
func (q *Queue) Add(actions ...segment.Action) error {
	resolve := q.ResolveVariablesOnAdd()
	copies := make([]segment.Action, 0, len(actions))
	for _, a := range actions {
		if a == nil {
			continue
		}
		cp, err := segment.CopyAction(q.deps.Registry, a, a.Owner())
		if err != nil {
			return err
		}
		if vr, ok := cp.(segment.VariableResolver); ok && resolve && q.deps.Resolver != nil {
			if err := vr.ResolveVariablesToFixedValues(q.deps.Resolver); err != nil {
				return schema.NewErrorf(schema.ErrCodeInterpolation,
					"resolve variables of %s: %s", a.ID(), err.Error()).WithCause(err)
			}
		}
		copies = append(copies, cp)
	}

	q.mu.Lock()
	q.items = append(q.items, copies...)
	q.mu.Unlock()
	return nil
}

// Start enables draining.
func (q *Queue) Start() {
	q.mu.Lock()
	was := q.running
	q.running = true
	name := q.name
	q.mu.Unlock()
	if !was {
		q.publish(schema.EventQueueStarted, name)
	}
}

// Stop disables draining. Queued items are kept.
func (q *Queue) Stop() {
	q.mu.Lock()
	was := q.running
	q.running = false
	name := q.name
	q.mu.Unlock()
	if was {
		q.publish(schema.EventQueueStopped, name)
	}
}

// Clear discards every queued item.
func (q *Queue) Clear() {
	q.mu.Lock()
	if len(q.items) > 0 {
		q.lastEmpty = q.deps.Clock.Now()
	}
	q.items = nil
	q.mu.Unlock()
}

// IsRunning reports whether the queue is draining.
func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// IsEmpty reports whether nothing is queued.
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// Size returns the number of queued items.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// LastEmptyTime returns when the queue last became empty.
func (q *Queue) LastEmptyTime() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastEmpty
}

// Descriptions returns the short descriptions of the queued items in order.
func (q *Queue) Descriptions() []string {
	q.mu.Lock()
	items := append([]segment.Action(nil), q.items...)
	q.mu.Unlock()

	out := make([]string, len(items))
	for i, a := range items {
		out[i] = fmt.Sprintf("%s: %s", a.ID(), a.ShortDesc())
	}
	return out
}

// Drain pops the head and performs it when the queue is running. It reports
// whether an item was taken. A failing item is logged and dropped.
func (q *Queue) Drain(ctx context.Context) bool {
	q.mu.Lock()
	if !q.running || len(q.items) == 0 {
		q.mu.Unlock()
		return false
	}
	a := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	emptied := len(q.items) == 0
	if emptied {
		q.lastEmpty = q.deps.Clock.Now()
	}
	name := q.name
	q.mu.Unlock()

	q.perform(ctx, name, a)
	if emptied {
		q.publish(schema.EventQueueDrained, name)
	}
	return true
}

func (q *Queue) perform(ctx context.Context, name string, a segment.Action) {
	ctx = logging.WithSegment(ctx, fmt.Sprintf("queue[%s]:%s", name, a.ID()))
	logger := logging.LogWith(ctx, q.deps.Logger)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("queued action panicked", slog.Any("panic", r))
		}
	}()

	if a.Orphaned() {
		logger.Warn("queued action type is no longer registered, skipping")
		return
	}
	done, err := a.Perform(ctx)
	if err != nil {
		logger.Warn("queued action failed", slog.String("error", err.Error()))
		return
	}
	logger.Debug("performed queued action", slog.Bool("done", done))
}

func (q *Queue) publish(typ, name string) {
	ev := streaming.Event{Type: typ, Time: q.deps.Clock.Now(), Payload: map[string]any{"queue": name}}
	if err := q.deps.Events.Publish(context.Background(), ev); err != nil {
		q.deps.Logger.Debug("event not published", slog.String("type", typ), slog.String("error", err.Error()))
	}
}

// Data returns the persisted form of the queue settings. Queued items are
// not persisted.
func (q *Queue) Data() schema.QueueData {
	q.mu.Lock()
	defer q.mu.Unlock()
	return schema.QueueData{
		Name:                  q.name,
		RunOnStartup:          q.runOnStartup,
		ResolveVariablesOnAdd: q.resolveVariablesOnAdd,
	}
}
