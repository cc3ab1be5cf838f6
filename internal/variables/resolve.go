package variables

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rendis/macrocore/pkg/schema"
)

const (
	openToken  = "${{"
	closeToken = "}}"
)

// HasReference reports whether text contains a ${{ token.
func HasReference(text string) bool {
	return strings.Contains(text, openToken)
}

// interpolate scans text for ${{ expr }} tokens and replaces each with the
// rendered result of eval.
func interpolate(input string, eval func(expr string) (any, error)) (string, error) {
	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], openToken)
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		result.WriteString(input[i : i+idx])
		start := i + idx + len(openToken)

		end := strings.Index(input[start:], closeToken)
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ expression")
		}
		end += start

		expr := strings.TrimSpace(input[start:end])
		if strings.Contains(expr, openToken) {
			return "", schema.NewError(schema.ErrCodeInterpolation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}
		if expr == "" {
			return "", schema.NewError(schema.ErrCodeInterpolation, "empty variable reference: ${{  }}")
		}

		val, err := eval(expr)
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeInterpolation,
				"resolve ${{%s}}: %s", expr, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expr})
		}
		result.WriteString(render(val))

		i = end + len(closeToken)
	}

	return result.String(), nil
}

// render converts a resolved value into text. nil renders as "".
func render(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
