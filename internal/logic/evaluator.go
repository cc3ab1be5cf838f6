package logic

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/macrocore/internal/duration"
	"github.com/rendis/macrocore/pkg/schema"
)

// Item is one condition as seen by the evaluator.
type Item interface {
	Logic() Type
	Check(ctx context.Context) (bool, error)
	DurationModifier() *duration.Modifier
}

// Options control a single evaluation.
type Options struct {
	// Now is the monotonic timestamp fed to every duration modifier.
	Now time.Time
	// ShortCircuit skips checks that cannot change the result. Off by
	// default: conditions populate temp variables as a side effect.
	ShortCircuit bool
	// Abort is polled before each check; returning true ends the evaluation
	// with a false result.
	Abort func() bool
	// Logger receives warnings for failing checks. May be nil.
	Logger *slog.Logger
}

// Record describes what happened to one item during an evaluation.
type Record struct {
	Index     int
	Evaluated bool
	Raw       bool
	Value     bool // after the duration modifier
	Err       error
}

// Result is the outcome of an evaluation.
type Result struct {
	Value   bool
	Aborted bool
	Records []Record
}

// Evaluate folds items left to right. Each item's check runs exactly once
// unless ShortCircuit is set. A failing or panicking check counts as a false
// raw result and folding continues.
func Evaluate(ctx context.Context, items []Item, opts Options) Result {
	res := Result{Records: make([]Record, 0, len(items))}
	current := false

	for i, item := range items {
		if item == nil {
			continue
		}
		if opts.Abort != nil && opts.Abort() {
			res.Aborted = true
			res.Value = false
			return res
		}

		t := item.Logic()
		rec := Record{Index: i}

		if !opts.ShortCircuit || needsValue(t, current) {
			raw, err := safeCheck(ctx, item)
			if err != nil {
				rec.Err = err
				if opts.Logger != nil {
					opts.Logger.WarnContext(ctx, "condition check failed",
						slog.Int("index", i),
						slog.String("error", err.Error()),
					)
				}
				raw = false
			}
			value := raw
			if m := item.DurationModifier(); m != nil {
				value = m.Apply(raw, opts.Now)
			}
			rec.Evaluated = true
			rec.Raw = raw
			rec.Value = value
		}

		if rec.Evaluated {
			current = Apply(t, current, rec.Value)
		}
		res.Records = append(res.Records, rec)
	}

	res.Value = current
	return res
}

func safeCheck(ctx context.Context, item Item) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = schema.NewErrorf(schema.ErrCodeExecution, "condition panicked: %v", r)
		}
	}()
	return item.Check(ctx)
}

// Normalize returns the logic type that is valid at index, and whether it had
// to change. Index 0 must be a root type; all other positions must not be.
func Normalize(t Type, index int) (Type, bool) {
	root := index == 0
	if t.IsValid(root) {
		return t, false
	}
	if root {
		if t.IsNegation() {
			return RootNot, true
		}
		return RootNone, true
	}
	if t.IsNegation() {
		return AndNot, true
	}
	return And, true
}
