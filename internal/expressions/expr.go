package expressions

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/macrocore/pkg/schema"
)

// maxCachedPrograms bounds the program cache; it is cleared when full.
const maxCachedPrograms = 1024

// ExprEngine evaluates expr-lang expressions. It backs ${{...}} variable
// resolution, where every variable is a top-level name, and the "set from
// expression" variable action. Compiled programs are cached per expression
// and environment shape.
type ExprEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEngine creates a new Expr engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{
		cache: make(map[string]*vm.Program),
	}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate compiles (or reuses) expression and runs it with data as the
// environment. Undefined names evaluate to nil.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	prg, err := e.getOrCompile(expression, env)
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

// getOrCompile compiles against env so that variable names shadow expr
// builtins of the same name (count, len, all). Names missing from env
// evaluate to nil.
func (e *ExprEngine) getOrCompile(expression string, env map[string]any) (*vm.Program, error) {
	key := cacheKey(expression, env)

	e.mu.RLock()
	if prg, ok := e.cache[key]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[key]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	if len(e.cache) >= maxCachedPrograms {
		clear(e.cache)
	}
	e.cache[key] = prg
	return prg, nil
}

// cacheKey identifies a program by its expression and the sorted names and
// value types of its environment.
func cacheKey(expression string, env map[string]any) string {
	names := make([]string, 0, len(env))
	for n := range env {
		names = append(names, n)
	}
	slices.Sort(names)

	var b strings.Builder
	b.WriteString(expression)
	for _, n := range names {
		fmt.Fprintf(&b, "\x00%s:%T", n, env[n])
	}
	return b.String()
}

var _ Engine = (*ExprEngine)(nil)
