package builtin

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rendis/macrocore/internal/macro"
	"github.com/rendis/macrocore/internal/segment"
)

const RandomActionID = "random"

// RandomAction runs one unpaused macro of its list picked uniformly at
// random. Unless AllowRepeat is set, the previous pick is excluded while
// other candidates exist.
type RandomAction struct {
	segment.ActionBase
	Macros      []macro.Ref `json:"macros"`
	AllowRepeat bool        `json:"allowRepeat,omitempty"`

	d    *Deps
	mu   sync.Mutex
	last string
}

func newRandomAction(d *Deps, o segment.Owner) *RandomAction {
	return &RandomAction{ActionBase: segment.NewActionBase(RandomActionID, o), d: d}
}

func (a *RandomAction) Perform(ctx context.Context) (bool, error) {
	m := a.pick()
	if m == nil {
		a.d.logger(ctx).Debug("no macro available for random pick")
		return true, nil
	}
	return runMacro(ctx, m, macro.RunOptions{IgnorePause: true}), nil
}

func (a *RandomAction) pick() *macro.Macro {
	a.mu.Lock()
	defer a.mu.Unlock()

	var candidates []*macro.Macro
	for _, ref := range a.Macros {
		m := ref.Get(a.d.Macros)
		if m == nil || m.Paused() {
			continue
		}
		// The exclusion counts configured macros, not runnable ones: a lone
		// runnable macro among paused ones is not picked twice in a row.
		if len(a.Macros) > 1 && !a.AllowRepeat && m.Name() == a.last {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return nil
	}
	m := candidates[0]
	if len(candidates) > 1 {
		m = candidates[a.d.intN(len(candidates))]
	}
	a.last = m.Name()
	return m
}

func (a *RandomAction) RenameMacroRef(from, to string) {
	macro.RenameRefs(a.Macros, from, to)
	a.mu.Lock()
	if a.last == from {
		a.last = to
	}
	a.mu.Unlock()
}

func (a *RandomAction) Save() (json.RawMessage, error) { return json.Marshal(a) }
func (a *RandomAction) Load(data json.RawMessage) error { return json.Unmarshal(data, a) }
func (a *RandomAction) ShortDesc() string               { return "random" }
