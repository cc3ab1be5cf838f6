package segment

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/rendis/macrocore/pkg/schema"
)

// ConditionFactory constructs a condition for the given owner.
type ConditionFactory func(owner Owner) Condition

// ActionFactory constructs an action for the given owner.
type ActionFactory func(owner Owner) Action

// ConditionInfo describes a registered condition type.
type ConditionInfo struct {
	Create      ConditionFactory
	DisplayName string
	Builtin     bool
}

// ActionInfo describes a registered action type.
type ActionInfo struct {
	Create      ActionFactory
	DisplayName string
	Builtin     bool
}

// TypeInfo is a summary of a registered type for listing.
type TypeInfo struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	DisplayName string `json:"display_name,omitempty"`
	Builtin     bool   `json:"builtin"`
}

type conditionEntry struct {
	info       ConditionInfo
	generation uint64
}

type actionEntry struct {
	info       ActionInfo
	generation uint64
}

// Registry maps persisted type ids to constructors. It is shared between the
// evaluation loop, editors and the scripting bridge, so every operation takes
// the registry mutex. Constructors run with the mutex released.
type Registry struct {
	mu         sync.RWMutex
	conditions map[string]conditionEntry
	actions    map[string]actionEntry
	generation uint64
	logger     *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conditions: make(map[string]conditionEntry),
		actions:    make(map[string]actionEntry),
		logger:     logger,
	}
}

// RegisterCondition adds a condition type. It returns false, leaving the
// existing registration untouched, when id is empty, the factory is nil or
// id is already registered.
func (r *Registry) RegisterCondition(id string, info ConditionInfo) bool {
	if id == "" || info.Create == nil {
		r.logger.Warn("rejecting invalid condition registration", slog.String("id", id))
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conditions[id]; exists {
		r.logger.Warn("condition type already registered", slog.String("id", id))
		return false
	}
	r.generation++
	r.conditions[id] = conditionEntry{info: info, generation: r.generation}
	return true
}

// RegisterAction adds an action type with the same rules as
// RegisterCondition.
func (r *Registry) RegisterAction(id string, info ActionInfo) bool {
	if id == "" || info.Create == nil {
		r.logger.Warn("rejecting invalid action registration", slog.String("id", id))
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[id]; exists {
		r.logger.Warn("action type already registered", slog.String("id", id))
		return false
	}
	r.generation++
	r.actions[id] = actionEntry{info: info, generation: r.generation}
	return true
}

// DeregisterCondition removes a condition type. Existing instances become
// orphans. Returns false when id is unknown.
func (r *Registry) DeregisterCondition(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conditions[id]; !exists {
		r.logger.Warn("cannot deregister unknown condition type", slog.String("id", id))
		return false
	}
	delete(r.conditions, id)
	return true
}

// DeregisterAction removes an action type. Existing instances become
// orphans. Returns false when id is unknown.
func (r *Registry) DeregisterAction(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[id]; !exists {
		r.logger.Warn("cannot deregister unknown action type", slog.String("id", id))
		return false
	}
	delete(r.actions, id)
	return true
}

// CreateCondition instantiates a condition, or returns nil if id is unknown.
func (r *Registry) CreateCondition(id string, owner Owner) Condition {
	r.mu.RLock()
	entry, ok := r.conditions[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	c := entry.info.Create(owner)
	if c == nil {
		return nil
	}
	r.stamp(c, KindCondition, id, entry.generation)
	return c
}

// CreateAction instantiates an action, or returns nil if id is unknown.
func (r *Registry) CreateAction(id string, owner Owner) Action {
	r.mu.RLock()
	entry, ok := r.actions[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	a := entry.info.Create(owner)
	if a == nil {
		return nil
	}
	r.stamp(a, KindAction, id, entry.generation)
	return a
}

func (r *Registry) stamp(s Segment, kind Kind, id string, generation uint64) {
	b := s.base()
	b.kind = kind
	b.id = id
	b.origin = r
	b.generation = generation
	if b.tempVars == nil {
		b.tempVars = NewTempVarSet()
	}
}

// HasCondition reports whether a condition type is registered.
func (r *Registry) HasCondition(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conditions[id]
	return ok
}

// HasAction reports whether an action type is registered.
func (r *Registry) HasAction(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[id]
	return ok
}

// ConditionInfo returns the registration for id.
func (r *Registry) ConditionInfo(id string) (ConditionInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conditions[id]
	if !ok {
		return ConditionInfo{}, schema.NewErrorf(schema.ErrCodeNotFound, "condition type %q not registered", id)
	}
	return e.info, nil
}

// ActionInfo returns the registration for id.
func (r *Registry) ActionInfo(id string) (ActionInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.actions[id]
	if !ok {
		return ActionInfo{}, schema.NewErrorf(schema.ErrCodeNotFound, "action type %q not registered", id)
	}
	return e.info, nil
}

// List returns every registered type, conditions first, sorted by id.
func (r *Registry) List() []TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conds := make([]TypeInfo, 0, len(r.conditions))
	for id, e := range r.conditions {
		conds = append(conds, TypeInfo{ID: id, Kind: KindCondition.String(), DisplayName: e.info.DisplayName, Builtin: e.info.Builtin})
	}
	acts := make([]TypeInfo, 0, len(r.actions))
	for id, e := range r.actions {
		acts = append(acts, TypeInfo{ID: id, Kind: KindAction.String(), DisplayName: e.info.DisplayName, Builtin: e.info.Builtin})
	}
	sort.Slice(conds, func(i, j int) bool { return conds[i].ID < conds[j].ID })
	sort.Slice(acts, func(i, j int) bool { return acts[i].ID < acts[j].ID })
	return append(conds, acts...)
}

func (r *Registry) isCurrent(kind Kind, id string, generation uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if kind == KindCondition {
		e, ok := r.conditions[id]
		return ok && e.generation == generation
	}
	e, ok := r.actions[id]
	return ok && e.generation == generation
}
