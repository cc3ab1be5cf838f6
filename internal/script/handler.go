// Package script lets external scripts provide condition and action types at
// runtime. A script segment publishes a trigger and blocks until the script
// reports a completion for it, the wait times out or the macro is stopped.
package script

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/macrocore/internal/clock"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/streaming"
	"github.com/rendis/macrocore/pkg/schema"
)

// IDPrefix prefixes the segment type id of every script type.
const IDPrefix = "script_"

// DefaultTimeout bounds a script segment's wait for its completion.
const DefaultTimeout = 10 * time.Second

// TypeOptions describe a script-provided segment type.
type TypeOptions struct {
	DisplayName string `json:"display_name,omitempty"`
	// Timeout bounds the wait for a completion. Zero uses DefaultTimeout.
	Timeout time.Duration `json:"timeout,omitempty"`
	// Defaults are the settings of a newly created segment.
	Defaults map[string]string `json:"defaults,omitempty"`
}

// Trigger is sent to a script when one of its segments runs.
type Trigger struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Kind     string            `json:"kind"`
	Macro    string            `json:"macro"`
	Index    int               `json:"index"`
	Settings map[string]string `json:"settings,omitempty"`
	Time     time.Time         `json:"time"`
}

// Completion is a script's answer to a trigger.
type Completion struct {
	Result bool   `json:"result"`
	Value  string `json:"value,omitempty"`
}

type registered struct {
	name string
	kind segment.Kind
	opts TypeOptions
}

type pending struct {
	trigger Trigger
	done    bool
	result  Completion
}

// Handler owns the script types and the triggers awaiting completion.
type Handler struct {
	registry *segment.Registry
	waiter   *segment.Waiter
	events   streaming.Publisher
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	types   map[string]registered
	pending map[string]*pending
}

// NewHandler creates a Handler registering types in registry. Segments wait
// on waiter so that a global abort or a macro stop ends their wait.
func NewHandler(registry *segment.Registry, waiter *segment.Waiter, events streaming.Publisher, clk clock.Clock, logger *slog.Logger) *Handler {
	if waiter == nil {
		waiter = segment.NewWaiter(0)
	}
	if events == nil {
		events = streaming.Discard{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		waiter:   waiter,
		events:   events,
		clock:    clk,
		logger:   logger,
		types:    make(map[string]registered),
		pending:  make(map[string]*pending),
	}
}

// TypeID returns the segment type id of the script type name.
func TypeID(name string) string {
	return IDPrefix + name
}

func typeKey(kind segment.Kind, name string) string {
	return kind.String() + "/" + name
}

// RegisterCondition adds a script condition type.
func (h *Handler) RegisterCondition(name string, opts TypeOptions) error {
	if err := validName(name); err != nil {
		return err
	}
	ok := h.registry.RegisterCondition(TypeID(name), segment.ConditionInfo{
		DisplayName: displayName(name, opts),
		Create: func(o segment.Owner) segment.Condition {
			return newCondition(h, name, o, opts)
		},
	})
	if !ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "condition type %q already registered", TypeID(name))
	}
	h.remember(segment.KindCondition, name, opts)
	return nil
}

// RegisterAction adds a script action type.
func (h *Handler) RegisterAction(name string, opts TypeOptions) error {
	if err := validName(name); err != nil {
		return err
	}
	ok := h.registry.RegisterAction(TypeID(name), segment.ActionInfo{
		DisplayName: displayName(name, opts),
		Create: func(o segment.Owner) segment.Action {
			return newAction(h, name, o, opts)
		},
	})
	if !ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "action type %q already registered", TypeID(name))
	}
	h.remember(segment.KindAction, name, opts)
	return nil
}

func (h *Handler) remember(kind segment.Kind, name string, opts TypeOptions) {
	h.mu.Lock()
	h.types[typeKey(kind, name)] = registered{name: name, kind: kind, opts: opts}
	h.mu.Unlock()
	h.logger.Info("script type registered", slog.String("kind", kind.String()), slog.String("id", TypeID(name)))
}

// Deregister removes a script type. Segments of that type become orphans:
// conditions evaluate to false and actions are skipped.
func (h *Handler) Deregister(kind segment.Kind, name string) error {
	h.mu.Lock()
	_, ok := h.types[typeKey(kind, name)]
	delete(h.types, typeKey(kind, name))
	h.mu.Unlock()
	if !ok {
		h.logger.Warn("cannot deregister unknown script type", slog.String("kind", kind.String()), slog.String("name", name))
		return schema.NewErrorf(schema.ErrCodeNotFound, "script %s type %q not registered", kind, name)
	}

	if kind == segment.KindCondition {
		h.registry.DeregisterCondition(TypeID(name))
	} else {
		h.registry.DeregisterAction(TypeID(name))
	}
	h.logger.Info("script type deregistered", slog.String("kind", kind.String()), slog.String("id", TypeID(name)))
	return nil
}

// DeregisterAll removes every script type.
func (h *Handler) DeregisterAll() {
	h.mu.Lock()
	types := make([]registered, 0, len(h.types))
	for _, t := range h.types {
		types = append(types, t)
	}
	h.mu.Unlock()
	for _, t := range types {
		_ = h.Deregister(t.kind, t.name)
	}
}

// Types lists the registered script type ids.
func (h *Handler) Types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.types))
	for _, t := range h.types {
		out = append(out, t.kind.String()+":"+TypeID(t.name))
	}
	slices.Sort(out)
	return out
}

// Pending returns the triggers that have not been completed, oldest first.
func (h *Handler) Pending() []Trigger {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Trigger, 0, len(h.pending))
	for _, p := range h.pending {
		if !p.done {
			out = append(out, p.trigger)
		}
	}
	slices.SortFunc(out, func(a, b Trigger) int { return a.Time.Compare(b.Time) })
	return out
}

// Complete delivers the result for trigger id and wakes its segment. It
// fails with NOT_FOUND when the trigger is unknown, already completed or its
// wait has ended.
func (h *Handler) Complete(id string, c Completion) error {
	h.mu.Lock()
	p, ok := h.pending[id]
	if !ok || p.done {
		h.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "no pending trigger %q", id)
	}
	p.done = true
	p.result = c
	h.mu.Unlock()

	h.waiter.Broadcast()
	return nil
}

// await sends a trigger for s and waits for its completion. The returned
// status is one of OK, TIMEOUT or ABORTED.
func (h *Handler) await(ctx context.Context, s segment.Segment, name string, settings map[string]string, timeout time.Duration) (Completion, segment.WaitResult) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	macroName := ""
	if o := s.Owner(); o != nil {
		macroName = o.Name()
	}
	t := Trigger{
		ID:       uuid.NewString(),
		Type:     TypeID(name),
		Kind:     s.Kind().String(),
		Macro:    macroName,
		Index:    s.Index(),
		Settings: settings,
		Time:     h.clock.Now(),
	}
	p := &pending{trigger: t}

	h.mu.Lock()
	h.pending[t.ID] = p
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, t.ID)
		h.mu.Unlock()
	}()

	h.publish(ctx, schema.EventScriptTriggered, macroName, t)

	res := h.waiter.Wait(ctx, s.Owner(), timeout, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return p.done
	})

	h.mu.Lock()
	result := p.result
	h.mu.Unlock()

	switch res {
	case segment.WaitDone:
		h.publish(ctx, schema.EventScriptCompleted, macroName, map[string]any{"id": t.ID, "result": result.Result})
	case segment.WaitTimeout:
		h.logger.Warn("script did not complete in time",
			slog.String("id", t.ID), slog.String("type", t.Type), slog.Duration("timeout", timeout))
		h.publish(ctx, schema.EventScriptTimedOut, macroName, map[string]any{"id": t.ID})
	}
	return result, res
}

func (h *Handler) publish(ctx context.Context, typ, macroName string, payload any) {
	ev := streaming.Event{Type: typ, Macro: macroName, Time: h.clock.Now(), Payload: payload}
	if err := h.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		h.logger.Debug("event not published", slog.String("type", typ), slog.String("error", err.Error()))
	}
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return schema.NewError(schema.ErrCodeValidation, "script type name is required")
	}
	return nil
}

func displayName(name string, opts TypeOptions) string {
	if opts.DisplayName != "" {
		return opts.DisplayName
	}
	return name
}

// segmentData is the persisted form of a script segment.
type segmentData struct {
	Settings map[string]string `json:"settings,omitempty"`
}

func marshalSettings(settings map[string]string) (json.RawMessage, error) {
	return json.Marshal(segmentData{Settings: settings})
}

func unmarshalSettings(data json.RawMessage, settings map[string]string) error {
	var d segmentData
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	for k, v := range d.Settings {
		settings[k] = v
	}
	return nil
}
