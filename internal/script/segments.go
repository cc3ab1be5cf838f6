package script

import (
	"context"
	"encoding/json"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/rendis/macrocore/internal/segment"
)

// settings are the free-form key/value settings of a script segment.
type settings struct {
	mu     sync.Mutex
	values map[string]string
}

func newSettings(defaults map[string]string) *settings {
	values := maps.Clone(defaults)
	if values == nil {
		values = make(map[string]string)
	}
	return &settings{values: values}
}

// Setting returns one setting value.
func (s *settings) Setting(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

// SetSetting changes one setting value.
func (s *settings) SetSetting(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

func (s *settings) snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}

func (s *settings) save() (json.RawMessage, error) {
	return marshalSettings(s.snapshot())
}

func (s *settings) load(data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return unmarshalSettings(data, s.values)
}

func (s *settings) desc() string {
	values := s.snapshot()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+values[k])
	}
	return strings.Join(parts, " ")
}

func declareTempVars(s segment.Segment) {
	s.TempVars().Declare("status", "Status", "OK, TIMEOUT or ABORTED")
	s.TempVars().Declare("value", "Value", "Value reported by the script")
}

func recordTempVars(s segment.Segment, c Completion, res segment.WaitResult) {
	s.TempVars().Set("status", res.String())
	if res == segment.WaitDone {
		s.TempVars().Set("value", c.Value)
	}
}

// Condition is a condition evaluated by an external script.
type Condition struct {
	segment.ConditionBase
	*settings

	h    *Handler
	name string
	opts TypeOptions
}

func newCondition(h *Handler, name string, o segment.Owner, opts TypeOptions) *Condition {
	c := &Condition{
		ConditionBase: segment.NewConditionBase(TypeID(name), o),
		settings:      newSettings(opts.Defaults),
		h:             h,
		name:          name,
		opts:          opts,
	}
	declareTempVars(c)
	return c
}

// Check triggers the script and returns its result. A timeout or abort
// evaluates to false.
func (c *Condition) Check(ctx context.Context) (bool, error) {
	res, status := c.h.await(ctx, c, c.name, c.snapshot(), c.opts.Timeout)
	recordTempVars(c, res, status)
	return status == segment.WaitDone && res.Result, nil
}

func (c *Condition) Save() (json.RawMessage, error) { return c.save() }
func (c *Condition) Load(data json.RawMessage) error { return c.load(data) }
func (c *Condition) ShortDesc() string               { return c.desc() }

// Action is an action performed by an external script.
type Action struct {
	segment.ActionBase
	*settings

	h    *Handler
	name string
	opts TypeOptions
}

func newAction(h *Handler, name string, o segment.Owner, opts TypeOptions) *Action {
	a := &Action{
		ActionBase: segment.NewActionBase(TypeID(name), o),
		settings:   newSettings(opts.Defaults),
		h:          h,
		name:       name,
		opts:       opts,
	}
	declareTempVars(a)
	return a
}

// Perform triggers the script. The action did not finish when the wait
// timed out, was aborted or the script reported false.
func (a *Action) Perform(ctx context.Context) (bool, error) {
	res, status := a.h.await(ctx, a, a.name, a.snapshot(), a.opts.Timeout)
	recordTempVars(a, res, status)
	return status == segment.WaitDone && res.Result, nil
}

func (a *Action) Save() (json.RawMessage, error) { return a.save() }
func (a *Action) Load(data json.RawMessage) error { return a.load(data) }
func (a *Action) ShortDesc() string               { return a.desc() }
