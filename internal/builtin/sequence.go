package builtin

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/rendis/macrocore/internal/macro"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/variables"
	"github.com/rendis/macrocore/pkg/schema"
)

const SequenceActionID = "sequence"

// SequenceOp selects what a sequence action does.
type SequenceOp string

const (
	SequenceRun      SequenceOp = "run"
	SequenceSetIndex SequenceOp = "set_index"
)

// SequenceAction runs the next unpaused macro of its list on each
// invocation. With Restart it wraps around; without it, it stops at the
// end. SetIndex moves the sequences of another macro so that their next
// run starts at the 1-based ResetIndex.
type SequenceAction struct {
	segment.ActionBase
	Op         SequenceOp     `json:"action,omitempty"`
	Macros     []macro.Ref    `json:"macros"`
	Restart    bool           `json:"restart"`
	Macro      macro.Ref      `json:"macro"`
	ResetIndex variables.Text `json:"resetIndex"`

	d       *Deps
	mu      sync.Mutex
	lastIdx int
}

func newSequenceAction(d *Deps, o segment.Owner) *SequenceAction {
	return &SequenceAction{
		ActionBase: segment.NewActionBase(SequenceActionID, o),
		Op:         SequenceRun,
		Restart:    true,
		ResetIndex: variables.NewText("1"),
		d:          d,
		lastIdx:    -1,
	}
}

func (a *SequenceAction) Perform(ctx context.Context) (bool, error) {
	if a.Op == SequenceSetIndex {
		return a.setIndex(ctx)
	}
	m := a.next()
	if m == nil {
		a.d.logger(ctx).Debug("no macro available in sequence")
		return true, nil
	}
	return runMacro(ctx, m, macro.RunOptions{IgnorePause: true}), nil
}

// next advances the sequence and returns the macro to run, or nil when
// none is available.
func (a *SequenceAction) next() *macro.Macro {
	a.mu.Lock()
	defer a.mu.Unlock()

	if idx, m := a.nextUnpaused(a.lastIdx + 1); m != nil {
		a.lastIdx = idx
		return m
	}
	if a.Restart {
		if idx, m := a.nextUnpaused(0); m != nil {
			a.lastIdx = idx
			return m
		}
	}
	a.lastIdx = len(a.Macros)
	return nil
}

func (a *SequenceAction) nextUnpaused(start int) (int, *macro.Macro) {
	for i := max(start, 0); i < len(a.Macros); i++ {
		m := a.Macros[i].Get(a.d.Macros)
		if m != nil && !m.Paused() {
			return i, m
		}
	}
	return -1, nil
}

// LastIndex returns the 0-based position of the last macro run, -1 before
// the first run.
func (a *SequenceAction) LastIndex() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastIdx
}

func (a *SequenceAction) setLastIndex(i int) {
	a.mu.Lock()
	a.lastIdx = i
	a.mu.Unlock()
}

func (a *SequenceAction) setIndex(ctx context.Context) (bool, error) {
	target := a.Macro.Get(a.d.Macros)
	if target == nil {
		a.d.logger(ctx).Warn("macro not found", slog.String("target", a.Macro.Name))
		return true, nil
	}
	idx, err := a.ResetIndex.Int(a.d.resolver())
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeValidation, "invalid sequence index: %s", err.Error()).WithCause(err)
	}
	for _, act := range target.Actions() {
		if seq, ok := act.(*SequenceAction); ok {
			// The next run picks idx-1, so the last run sits one before it.
			seq.setLastIndex(idx - 2)
		}
	}
	return true, nil
}

func (a *SequenceAction) RenameMacroRef(from, to string) {
	macro.RenameRefs(a.Macros, from, to)
	if a.Macro.Name == from {
		a.Macro.Name = to
	}
}

func (a *SequenceAction) ResolveVariablesToFixedValues(r segment.Resolver) error {
	return a.ResetIndex.Fix(r)
}

func (a *SequenceAction) Save() (json.RawMessage, error) { return json.Marshal(a) }
func (a *SequenceAction) Load(data json.RawMessage) error { return json.Unmarshal(data, a) }
func (a *SequenceAction) ShortDesc() string {
	if a.Op == SequenceSetIndex {
		return a.Macro.Name
	}
	return "sequence"
}
