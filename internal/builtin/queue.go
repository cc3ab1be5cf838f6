package builtin

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/rendis/macrocore/internal/macro"
	"github.com/rendis/macrocore/internal/queue"
	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/internal/variables"
	"github.com/rendis/macrocore/pkg/schema"
)

const (
	QueueConditionID = "queue"
	QueueActionID    = "queue"
)

// QueueCheck selects what a queue condition inspects.
type QueueCheck string

const (
	QueueStarted QueueCheck = "started"
	QueueStopped QueueCheck = "stopped"
	QueueSize    QueueCheck = "size"
	QueueEmpty   QueueCheck = "empty"
)

// QueueCondition inspects a named action queue.
type QueueCondition struct {
	segment.ConditionBase
	Queue      string         `json:"queue"`
	Type       QueueCheck     `json:"condition"`
	Comparison Comparison     `json:"comparison,omitempty"`
	Size       variables.Text `json:"size"`

	d *Deps
}

func newQueueCondition(d *Deps, o segment.Owner) *QueueCondition {
	c := &QueueCondition{
		ConditionBase: segment.NewConditionBase(QueueConditionID, o),
		Type:          QueueStarted,
		Comparison:    Equal,
		Size:          variables.NewText("0"),
		d:             d,
	}
	c.TempVars().Declare("size", "Size", "Number of queued actions")
	return c
}

func (c *QueueCondition) Check(context.Context) (bool, error) {
	q, err := c.d.queue(c.Queue)
	if err != nil {
		return false, err
	}
	size := q.Size()
	c.TempVars().Set("size", strconv.Itoa(size))

	switch c.Type {
	case QueueStarted:
		return q.IsRunning(), nil
	case QueueStopped:
		return !q.IsRunning(), nil
	case QueueEmpty:
		return size == 0, nil
	case QueueSize:
		want, err := c.Size.Int(c.d.resolver())
		if err != nil {
			return false, err
		}
		return c.Comparison.compare(size, want), nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown queue check %q", c.Type)
	}
}

func (c *QueueCondition) ResolveVariablesToFixedValues(r segment.Resolver) error {
	return c.Size.Fix(r)
}

func (c *QueueCondition) Save() (json.RawMessage, error) { return json.Marshal(c) }
func (c *QueueCondition) Load(data json.RawMessage) error { return json.Unmarshal(data, c) }
func (c *QueueCondition) ShortDesc() string               { return c.Queue }

// QueueOp selects what a queue action does.
type QueueOp string

const (
	QueueAdd   QueueOp = "add"
	QueueStart QueueOp = "start"
	QueueStop  QueueOp = "stop"
	QueueClear QueueOp = "clear"
)

// QueueAction controls a named action queue. Add queues copies of the
// target macro's current actions.
type QueueAction struct {
	segment.ActionBase
	Op    QueueOp   `json:"action"`
	Queue string    `json:"queue"`
	Macro macro.Ref `json:"macro"`

	d *Deps
}

func newQueueAction(d *Deps, o segment.Owner) *QueueAction {
	return &QueueAction{ActionBase: segment.NewActionBase(QueueActionID, o), Op: QueueAdd, d: d}
}

func (a *QueueAction) Perform(ctx context.Context) (bool, error) {
	q, err := a.d.queue(a.Queue)
	if err != nil {
		a.d.logger(ctx).Warn("action queue not found", slog.String("queue", a.Queue))
		return true, nil
	}

	switch a.Op {
	case QueueAdd:
		m := a.Macro.Get(a.d.Macros)
		if m == nil {
			a.d.logger(ctx).Warn("macro not found", slog.String("target", a.Macro.Name))
			return true, nil
		}
		if err := q.Add(m.Actions()...); err != nil {
			return false, err
		}
	case QueueStart:
		q.Start()
	case QueueStop:
		q.Stop()
	case QueueClear:
		q.Clear()
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown queue action %q", a.Op)
	}
	return true, nil
}

func (a *QueueAction) RenameMacroRef(from, to string) {
	if a.Macro.Name == from {
		a.Macro.Name = to
	}
}

func (a *QueueAction) Save() (json.RawMessage, error) { return json.Marshal(a) }
func (a *QueueAction) Load(data json.RawMessage) error { return json.Unmarshal(data, a) }
func (a *QueueAction) ShortDesc() string               { return a.Queue }

func (d *Deps) queue(name string) (*queue.Queue, error) {
	if d.Queues == nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "no action queues")
	}
	q := d.Queues.Get(name)
	if q == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action queue %q not found", name)
	}
	return q, nil
}
