package macro

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/pkg/schema"
)

// Collection is the ordered set of macros, in definition order, with
// unique names. Group members directly follow their group header.
type Collection struct {
	env *Env

	mu     sync.RWMutex
	macros []*Macro
}

// NewCollection creates an empty collection sharing env.
func NewCollection(env *Env) *Collection {
	return &Collection{env: env.withDefaults()}
}

// Env returns the shared dependencies.
func (c *Collection) Env() *Env { return c.env }

// Add appends m. The name must be non-empty and unique.
func (c *Collection) Add(m *Macro) error {
	if m == nil {
		return schema.NewError(schema.ErrCodeValidation, "nil macro")
	}
	name := m.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "macro name is required")
	}

	c.mu.Lock()
	if c.indexLocked(name) >= 0 {
		c.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeConflict, "macro %q already exists", name)
	}
	c.macros = append(c.macros, m)
	c.mu.Unlock()

	c.env.publish(context.Background(), schema.EventMacroAdded, name, nil)
	return nil
}

// Get returns the macro with the given name, or nil.
func (c *Collection) Get(name string) *Macro {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexLocked(name); i >= 0 {
		return c.macros[i]
	}
	return nil
}

// Macros returns a snapshot of the macros in definition order.
func (c *Collection) Macros() []*Macro {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.macros)
}

// Names returns the macro names in definition order.
func (c *Collection) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.macros))
	for i, m := range c.macros {
		names[i] = m.Name()
	}
	return names
}

// Len returns the number of macros, groups included.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.macros)
}

// Remove deletes the named macro and closes it. Removing a group keeps its
// members as ungrouped macros.
func (c *Collection) Remove(name string) error {
	c.mu.Lock()
	i := c.indexLocked(name)
	if i < 0 {
		c.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "macro %q not found", name)
	}
	m := c.macros[i]
	if m.IsGroup() {
		size := m.GroupSize()
		for j := i + 1; j <= i+size && j < len(c.macros); j++ {
			c.macros[j].setParent(nil)
		}
	} else if p := m.Parent(); p != nil {
		p.addGroupSize(-1)
	}
	c.macros = slices.Delete(c.macros, i, i+1)
	c.mu.Unlock()

	m.Close()
	c.env.publish(context.Background(), schema.EventMacroRemoved, name, nil)
	return nil
}

// Rename changes a macro's name and updates references held by segments
// of every macro.
func (c *Collection) Rename(from, to string) error {
	if to == "" {
		return schema.NewError(schema.ErrCodeValidation, "macro name is required")
	}
	c.mu.Lock()
	i := c.indexLocked(from)
	if i < 0 {
		c.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "macro %q not found", from)
	}
	if from == to {
		c.mu.Unlock()
		return nil
	}
	if c.indexLocked(to) >= 0 {
		c.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeConflict, "macro %q already exists", to)
	}
	c.macros[i].setName(to)
	all := slices.Clone(c.macros)
	c.mu.Unlock()

	for _, m := range all {
		for _, s := range m.segments() {
			if r, ok := s.(RefRenamer); ok {
				r.RenameMacroRef(from, to)
			}
		}
	}
	c.env.publish(context.Background(), schema.EventMacroRenamed, to, map[string]any{"from": from})
	return nil
}

// MoveToGroup moves the named macro to the end of group. An empty group
// name takes the macro out of its group and places it right after the
// group's members.
func (c *Collection) MoveToGroup(name, group string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexLocked(name)
	if i < 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "macro %q not found", name)
	}
	m := c.macros[i]
	if m.IsGroup() {
		return schema.NewErrorf(schema.ErrCodeValidation, "groups cannot be nested: %q is a group", name)
	}

	var target *Macro
	if group != "" {
		gi := c.indexLocked(group)
		if gi < 0 {
			return schema.NewErrorf(schema.ErrCodeNotFound, "group %q not found", group)
		}
		target = c.macros[gi]
		if !target.IsGroup() {
			return schema.NewErrorf(schema.ErrCodeValidation, "%q is not a group", group)
		}
	}

	old := m.Parent()
	if old == target {
		return nil
	}

	// The end of old's block is computed before m leaves it.
	anchor := old
	if target != nil {
		anchor = target
	}
	c.macros = slices.Delete(c.macros, i, i+1)
	if old != nil {
		old.addGroupSize(-1)
	}
	if target != nil {
		target.addGroupSize(1)
	}
	m.setParent(target)

	ai := c.indexLocked(anchor.Name())
	pos := ai + anchor.GroupSize()
	if target == nil {
		pos++
	}
	if pos > len(c.macros) {
		pos = len(c.macros)
	}
	c.macros = slices.Insert(c.macros, pos, m)
	return nil
}

// Replace swaps in a new macro list and returns the old one. The caller
// closes the old macros.
func (c *Collection) Replace(macros []*Macro) []*Macro {
	c.mu.Lock()
	old := c.macros
	c.macros = slices.Clone(macros)
	c.mu.Unlock()
	return old
}

// Save returns the persisted form of every macro in order.
func (c *Collection) Save() ([]schema.MacroData, error) {
	macros := c.Macros()
	out := make([]schema.MacroData, 0, len(macros))
	for _, m := range macros {
		d, err := m.Save()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// StopAll stops every macro and waits for their parallel runs.
func (c *Collection) StopAll() {
	for _, m := range c.Macros() {
		m.Stop()
	}
}

// InvalidateTempVars marks every temp variable of every macro stale.
func (c *Collection) InvalidateTempVars() {
	for _, m := range c.Macros() {
		m.InvalidateTempVars()
	}
}

// ResolveVariablesToFixedValues freezes variable references in every macro.
func (c *Collection) ResolveVariablesToFixedValues(r segment.Resolver) error {
	for _, m := range c.Macros() {
		if err := m.ResolveVariablesToFixedValues(r); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collection) indexLocked(name string) int {
	return slices.IndexFunc(c.macros, func(m *Macro) bool { return m.Name() == name })
}

// LoadAll builds macros from their persisted form and links group members
// to their headers. Duplicate names fail the load. A group nested inside
// another, or one whose size runs past the end of the list, is dissolved
// with a warning and its members stay as ungrouped macros.
func LoadAll(env *Env, data []schema.MacroData) ([]*Macro, error) {
	env = env.withDefaults()
	seen := make(map[string]bool, len(data))
	macros := make([]*Macro, 0, len(data))
	for _, d := range data {
		if seen[d.Name] {
			return nil, schema.NewErrorf(schema.ErrCodeConflict, "duplicate macro name %q", d.Name)
		}
		seen[d.Name] = true
		m, err := Load(env, d)
		if err != nil {
			return nil, err
		}
		macros = append(macros, m)
	}
	return linkGroups(env.Logger, macros), nil
}

func linkGroups(logger *slog.Logger, macros []*Macro) []*Macro {
	var invalid []*Macro
	var group *Macro
	remaining := 0

	for _, m := range macros {
		if remaining > 0 && m.IsGroup() {
			logger.Error("nested group detected, dissolving it", slog.String("group", m.Name()))
			invalid = append(invalid, m)
			continue
		}
		if remaining > 0 {
			m.setParent(group)
			remaining--
			continue
		}
		if m.IsGroup() {
			group = m
			remaining = m.GroupSize()
		}
	}
	if remaining > 0 {
		logger.Error("invalid group size detected, dissolving it", slog.String("group", group.Name()))
		invalid = append(invalid, group)
	}

	if len(invalid) == 0 {
		return macros
	}
	out := make([]*Macro, 0, len(macros))
	for _, m := range macros {
		if slices.Contains(invalid, m) {
			continue
		}
		if p := m.Parent(); p != nil && slices.Contains(invalid, p) {
			m.setParent(nil)
		}
		out = append(out, m)
	}
	return out
}
