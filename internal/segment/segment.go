// Package segment defines conditions and actions, the building blocks of a
// macro, and the registry that creates them from persisted type ids.
package segment

import (
	"context"
	"encoding/json"

	"github.com/rendis/macrocore/internal/duration"
	"github.com/rendis/macrocore/internal/logic"
	"github.com/rendis/macrocore/pkg/schema"
)

// Kind distinguishes conditions from actions in the registry.
type Kind int

const (
	KindCondition Kind = iota
	KindAction
)

func (k Kind) String() string {
	if k == KindCondition {
		return "condition"
	}
	return "action"
}

// Owner is the macro a segment belongs to. Segments never own their macro;
// they only need its name for logging and its stop flag for bounded waits.
type Owner interface {
	Name() string
	StopRequested() bool
}

// Segment is the behaviour shared by conditions and actions.
type Segment interface {
	ID() string
	Kind() Kind
	Owner() Owner
	Index() int
	SetIndex(i int)
	Enabled() bool
	SetEnabled(enabled bool)
	Settings() schema.SegmentSettings
	SetSettings(s schema.SegmentSettings)
	TempVars() *TempVarSet
	Orphaned() bool

	// Save returns the type-specific settings.
	Save() (json.RawMessage, error)
	// Load applies type-specific settings. Absent fields keep their defaults.
	Load(data json.RawMessage) error
	ShortDesc() string

	base() *Base
}

// Condition is a segment evaluated to a boolean.
type Condition interface {
	Segment
	Logic() logic.Type
	SetLogic(t logic.Type)
	DurationModifier() *duration.Modifier
	Check(ctx context.Context) (bool, error)
}

// Action is a segment performed when its macro runs. A false result means
// the action did not finish (for example a wait that was aborted); it is not
// an error.
type Action interface {
	Segment
	Perform(ctx context.Context) (bool, error)
}

// Resolver freezes variable references in text.
type Resolver interface {
	Resolve(text string) (string, error)
}

// VariableResolver is implemented by segments that embed variable references.
// ResolveVariablesToFixedValues must be idempotent.
type VariableResolver interface {
	ResolveVariablesToFixedValues(r Resolver) error
}

// Closer is implemented by segments that own background work. Close must wait
// for that work to finish.
type Closer interface {
	Close() error
}

// Base carries the state common to every segment. Concrete types embed it
// (or ConditionBase) and implement Save, Load, ShortDesc and Check/Perform.
type Base struct {
	id       string
	kind     Kind
	owner    Owner
	index    int
	settings schema.SegmentSettings
	tempVars *TempVarSet

	origin     *Registry
	generation uint64
}

// NewBase creates a Base for a segment of the given type id.
func NewBase(kind Kind, id string, owner Owner) Base {
	return Base{
		id:       id,
		kind:     kind,
		owner:    owner,
		tempVars: NewTempVarSet(),
	}
}

func (b *Base) base() *Base { return b }

// ID returns the persisted type id.
func (b *Base) ID() string { return b.id }

// Kind returns whether the segment is a condition or an action.
func (b *Base) Kind() Kind { return b.kind }

// Owner returns the owning macro.
func (b *Base) Owner() Owner { return b.owner }

// Index returns the position within the owning list.
func (b *Base) Index() int { return b.index }

// SetIndex updates the position within the owning list.
func (b *Base) SetIndex(i int) { b.index = i }

// Enabled reports whether the segment participates in runs.
func (b *Base) Enabled() bool { return b.settings.IsEnabled() }

// SetEnabled toggles participation in runs.
func (b *Base) SetEnabled(enabled bool) {
	v := enabled
	b.settings.Enabled = &v
}

// Settings returns the shared settings.
func (b *Base) Settings() schema.SegmentSettings { return b.settings }

// SetSettings replaces the shared settings.
func (b *Base) SetSettings(s schema.SegmentSettings) { b.settings = s }

// TempVars returns the temp variables this segment publishes.
func (b *Base) TempVars() *TempVarSet { return b.tempVars }

// Orphaned reports whether the segment's type was deregistered (or
// re-registered by a different provider) after the segment was created.
func (b *Base) Orphaned() bool {
	if b.origin == nil {
		return false
	}
	return !b.origin.isCurrent(b.kind, b.id, b.generation)
}

// ConditionBase adds logic type and duration modifier to Base.
type ConditionBase struct {
	Base
	logic    logic.Type
	modifier *duration.Modifier
}

// NewConditionBase creates a ConditionBase with RootNone logic and no
// duration modifier.
func NewConditionBase(id string, owner Owner) ConditionBase {
	return ConditionBase{
		Base:     NewBase(KindCondition, id, owner),
		logic:    logic.RootNone,
		modifier: duration.New(duration.None, 0),
	}
}

// Logic returns the logic type.
func (c *ConditionBase) Logic() logic.Type { return c.logic }

// SetLogic sets the logic type.
func (c *ConditionBase) SetLogic(t logic.Type) { c.logic = t }

// DurationModifier returns the condition's modifier.
func (c *ConditionBase) DurationModifier() *duration.Modifier { return c.modifier }

// SetDurationModifier replaces the condition's modifier.
func (c *ConditionBase) SetDurationModifier(m *duration.Modifier) {
	if m == nil {
		m = duration.New(duration.None, 0)
	}
	c.modifier = m
}

// ActionBase is the Base for actions.
type ActionBase struct {
	Base
}

// NewActionBase creates an ActionBase.
func NewActionBase(id string, owner Owner) ActionBase {
	return ActionBase{Base: NewBase(KindAction, id, owner)}
}
