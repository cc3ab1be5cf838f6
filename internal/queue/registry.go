package queue

import (
	"slices"
	"sync"

	"github.com/rendis/macrocore/pkg/schema"
)

// Registry holds the named queues of a switcher.
type Registry struct {
	deps Deps

	mu     sync.RWMutex
	queues []*Queue
}

// NewRegistry creates an empty registry. Queues created through it share
// deps.
func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps.withDefaults()}
}

// Create adds a new queue. The name must be non-empty and unique.
func (r *Registry) Create(name string) (*Queue, error) {
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "queue name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexLocked(name) >= 0 {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "queue %q already exists", name)
	}
	q := New(r.deps, name)
	r.queues = append(r.queues, q)
	return q, nil
}

// Get returns the named queue, or nil.
func (r *Registry) Get(name string) *Queue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexLocked(name); i >= 0 {
		return r.queues[i]
	}
	return nil
}

// Remove deletes the named queue after stopping and clearing it.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	i := r.indexLocked(name)
	if i < 0 {
		r.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "queue %q not found", name)
	}
	q := r.queues[i]
	r.queues = slices.Delete(r.queues, i, i+1)
	r.mu.Unlock()

	q.Stop()
	q.Clear()
	return nil
}

// Rename changes a queue's name.
func (r *Registry) Rename(from, to string) error {
	if to == "" {
		return schema.NewError(schema.ErrCodeValidation, "queue name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(from)
	if i < 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "queue %q not found", from)
	}
	if from != to && r.indexLocked(to) >= 0 {
		return schema.NewErrorf(schema.ErrCodeConflict, "queue %q already exists", to)
	}
	r.queues[i].setName(to)
	return nil
}

// All returns the queues in creation order.
func (r *Registry) All() []*Queue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.queues)
}

// Names returns the queue names in creation order.
func (r *Registry) Names() []string {
	qs := r.All()
	names := make([]string, len(qs))
	for i, q := range qs {
		names[i] = q.Name()
	}
	return names
}

// StartOnStartup starts every queue marked RunOnStartup.
func (r *Registry) StartOnStartup() {
	for _, q := range r.All() {
		if q.RunOnStartup() {
			q.Start()
		}
	}
}

// StopAndClearAll stops every queue and discards its items.
func (r *Registry) StopAndClearAll() {
	for _, q := range r.All() {
		q.Stop()
		q.Clear()
	}
}

// Save returns the persisted form of every queue.
func (r *Registry) Save() []schema.QueueData {
	qs := r.All()
	out := make([]schema.QueueData, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.Data())
	}
	return out
}

// Load replaces the queues with the persisted set. Duplicate or empty names
// fail the load and leave the registry untouched.
func (r *Registry) Load(data []schema.QueueData) error {
	seen := make(map[string]bool, len(data))
	loaded := make([]*Queue, 0, len(data))
	for _, d := range data {
		if d.Name == "" {
			return schema.NewError(schema.ErrCodeValidation, "queue name is required")
		}
		if seen[d.Name] {
			return schema.NewErrorf(schema.ErrCodeConflict, "duplicate queue name %q", d.Name)
		}
		seen[d.Name] = true
		q := New(r.deps, d.Name)
		q.runOnStartup = d.RunOnStartup
		q.resolveVariablesOnAdd = d.ResolveVariablesOnAdd
		loaded = append(loaded, q)
	}

	r.mu.Lock()
	old := r.queues
	r.queues = loaded
	r.mu.Unlock()

	for _, q := range old {
		q.Stop()
		q.Clear()
	}
	return nil
}

func (r *Registry) indexLocked(name string) int {
	return slices.IndexFunc(r.queues, func(q *Queue) bool { return q.Name() == name })
}
