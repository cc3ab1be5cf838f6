// Package variables holds the named variables shared by all macros and
// resolves ${{ ... }} references to them.
package variables

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rendis/macrocore/internal/clock"
	"github.com/rendis/macrocore/internal/expressions"
	"github.com/rendis/macrocore/pkg/schema"
)

// Variable is a named string value.
type Variable struct {
	Name         string
	Value        string
	Previous     string
	DefaultValue string
	SaveAction   schema.VariableSaveAction
	ChangeCount  uint64
	LastUsed     time.Time
	LastChanged  time.Time
}

// OnChange is called after a variable's value changed.
type OnChange func(name, previous, value string)

// Store is the set of named variables. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	vars     map[string]*Variable
	clock    clock.Clock
	engine   *expressions.ExprEngine
	logger   *slog.Logger
	onChange OnChange
}

// NewStore creates an empty Store. engine evaluates ${{ }} references.
func NewStore(clk clock.Clock, engine *expressions.ExprEngine, logger *slog.Logger) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	if engine == nil {
		engine = expressions.NewExprEngine()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		vars:   make(map[string]*Variable),
		clock:  clk,
		engine: engine,
		logger: logger,
	}
}

// SetOnChange installs the change callback. Pass nil to remove it.
func (s *Store) SetOnChange(fn OnChange) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Add creates a variable. It fails with CONFLICT if name exists.
func (s *Store) Add(v Variable) error {
	if v.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "variable name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vars[v.Name]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "variable %q already exists", v.Name)
	}
	cp := v
	s.vars[v.Name] = &cp
	return nil
}

// Remove deletes a variable. Returns false if it did not exist.
func (s *Store) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vars[name]; !ok {
		return false
	}
	delete(s.vars, name)
	return true
}

// Set stores value, creating the variable if needed.
func (s *Store) Set(name, value string) {
	s.mu.Lock()
	v, ok := s.vars[name]
	if !ok {
		v = &Variable{Name: name}
		s.vars[name] = v
	}
	prev := v.Value
	v.Previous = prev
	v.Value = value
	v.ChangeCount++
	v.LastChanged = s.clock.Now()
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil && prev != value {
		fn(name, prev, value)
	}
}

// Get returns a copy of the variable and marks it used.
func (s *Store) Get(name string) (Variable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vars[name]
	if !ok {
		return Variable{}, false
	}
	v.LastUsed = s.clock.Now()
	return *v, true
}

// Value returns the current value of name.
func (s *Store) Value(name string) (string, bool) {
	v, ok := s.Get(name)
	return v.Value, ok
}

// Names returns the variable names, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.vars))
	for n := range s.vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns name -> value for every variable.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.vars))
	for n, v := range s.vars {
		out[n] = v.Value
	}
	return out
}

// Data returns the persisted form of every variable, sorted by name.
// DontSave variables keep their name and default only.
func (s *Store) Data() []schema.VariableData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schema.VariableData, 0, len(s.vars))
	for _, v := range s.vars {
		d := schema.VariableData{
			Name:         v.Name,
			DefaultValue: v.DefaultValue,
			SaveAction:   v.SaveAction,
		}
		if v.SaveAction == schema.VariableSave {
			d.Value = v.Value
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FromData builds a variable from its persisted form. SetDefault variables
// start at their default value and DontSave variables start empty.
func FromData(d schema.VariableData) Variable {
	v := Variable{
		Name:         d.Name,
		DefaultValue: d.DefaultValue,
		SaveAction:   d.SaveAction,
	}
	switch d.SaveAction {
	case schema.VariableSave:
		v.Value = d.Value
	case schema.VariableSetDefault:
		v.Value = d.DefaultValue
	}
	return v
}

// Load replaces every variable with data. SetDefault variables start at
// their default value.
func (s *Store) Load(data []schema.VariableData) {
	vars := make(map[string]*Variable, len(data))
	for _, d := range data {
		if d.Name == "" {
			s.logger.Warn("skipping unnamed variable")
			continue
		}
		v := FromData(d)
		vars[d.Name] = &v
	}
	s.mu.Lock()
	s.vars = vars
	s.mu.Unlock()
}

// Resolve replaces every ${{ expr }} token in text. Expressions see each
// variable as a top-level name; names that are not identifiers are reachable
// through $env["my var"].
func (s *Store) Resolve(text string) (string, error) {
	return s.ResolveWith(context.Background(), text, nil)
}

// ResolveWith is Resolve with extra names (temp variables, for example)
// layered over the variables.
func (s *Store) ResolveWith(ctx context.Context, text string, extra map[string]any) (string, error) {
	if !HasReference(text) {
		return text, nil
	}
	env := make(map[string]any)
	for n, v := range s.Snapshot() {
		env[n] = v
	}
	for k, v := range extra {
		env[k] = v
	}
	return interpolate(text, func(expr string) (any, error) {
		return s.engine.Evaluate(ctx, expr, env)
	})
}
