package expressions

import "context"

// Engine evaluates expressions against the macro environment.
// Three implementations: CEL (conditions), Expr (variable resolution), GoJQ
// (queries over source settings).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Environment keys shared by the CEL engine and the conditions that feed it.
const (
	KeyVars          = "vars"
	KeyTemp          = "temp"
	KeyScene         = "scene"
	KeyPreviousScene = "previous_scene"
	KeyMacro         = "macro"
)
