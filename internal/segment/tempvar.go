package segment

import "sync"

// TempVar is a named value produced by a segment while it runs, readable by
// later segments of the same or a calling macro.
type TempVar struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Value       string `json:"value"`
	Valid       bool   `json:"valid"`
}

// TempVarSet is the ordered set of temp variables of one segment.
type TempVarSet struct {
	mu   sync.RWMutex
	vars []TempVar
}

// NewTempVarSet creates an empty set.
func NewTempVarSet() *TempVarSet {
	return &TempVarSet{}
}

// Declare registers a variable with an invalid value. Declaring an existing
// id updates its name and description.
func (s *TempVarSet) Declare(id, name, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.vars {
		if s.vars[i].ID == id {
			s.vars[i].Name = name
			s.vars[i].Description = description
			return
		}
	}
	s.vars = append(s.vars, TempVar{ID: id, Name: name, Description: description})
}

// Set stores value for id, declaring it if needed. Last write wins.
func (s *TempVarSet) Set(id, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.vars {
		if s.vars[i].ID == id {
			s.vars[i].Value = value
			s.vars[i].Valid = true
			return
		}
	}
	s.vars = append(s.vars, TempVar{ID: id, Name: id, Value: value, Valid: true})
}

// Get returns the variable with the given id.
func (s *TempVarSet) Get(id string) (TempVar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.vars {
		if v.ID == id {
			return v, true
		}
	}
	return TempVar{}, false
}

// Invalidate marks every value stale. Called at the start of each tick.
func (s *TempVarSet) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.vars {
		s.vars[i].Valid = false
		s.vars[i].Value = ""
	}
}

// All returns a copy of the variables in declaration order.
func (s *TempVarSet) All() []TempVar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TempVar, len(s.vars))
	copy(out, s.vars)
	return out
}
