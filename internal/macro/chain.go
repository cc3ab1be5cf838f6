package macro

import (
	"context"
	"slices"
	"strings"

	"github.com/rendis/macrocore/internal/logging"
	"github.com/rendis/macrocore/pkg/schema"
)

type chainKey struct{}

// runChain is the list of macros whose actions are currently running on the
// calling goroutine, outermost first.
type runChain struct {
	names []string
	runID string
}

// Chain returns the names of the macros currently running in ctx, outermost
// first.
func Chain(ctx context.Context) []string {
	c, _ := ctx.Value(chainKey{}).(*runChain)
	if c == nil {
		return nil
	}
	return slices.Clone(c.names)
}

// OnChain reports whether name is already running in ctx.
func OnChain(ctx context.Context, name string) bool {
	c, _ := ctx.Value(chainKey{}).(*runChain)
	return c != nil && slices.Contains(c.names, name)
}

// enterChain appends name to the chain in ctx. It fails with CYCLE_DETECTED
// when name is already on the chain or the chain is maxDepth long.
func enterChain(ctx context.Context, name string, maxDepth int) (context.Context, error) {
	parent, _ := ctx.Value(chainKey{}).(*runChain)

	next := &runChain{}
	if parent != nil {
		if slices.Contains(parent.names, name) {
			return ctx, schema.NewErrorf(schema.ErrCodeCycleDetected,
				"macro already running: %s -> %s", strings.Join(parent.names, " -> "), name).
				WithMacro(name).
				WithDetails(map[string]any{"chain": slices.Clone(parent.names)})
		}
		if len(parent.names) >= maxDepth {
			return ctx, schema.NewErrorf(schema.ErrCodeCycleDetected,
				"macro nesting deeper than %d", maxDepth).
				WithMacro(name).
				WithDetails(map[string]any{"chain": slices.Clone(parent.names)})
		}
		next.names = append(slices.Clone(parent.names), name)
		next.runID = parent.runID
	} else {
		next.names = []string{name}
		next.runID = newRunID()
	}

	ctx = context.WithValue(ctx, chainKey{}, next)
	ctx = logging.WithMacro(ctx, name)
	return logging.WithRunID(ctx, next.runID), nil
}

func runIDFrom(ctx context.Context) (string, bool) {
	c, _ := ctx.Value(chainKey{}).(*runChain)
	if c == nil {
		return "", false
	}
	return c.runID, true
}
