package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/macrocore/pkg/schema"
)

func TestCELEngine_Evaluate(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		KeyVars:  map[string]string{"mode": "live", "count": "3"},
		KeyScene: "Game",
		KeyMacro: map[string]any{"name": "m1", "run_count": 2},
	}

	tests := []struct {
		name string
		expr string
		want any
	}{
		{"scene equals", `scene == "Game"`, true},
		{"variable lookup", `vars["mode"] == "live"`, true},
		{"variable conversion", `int(vars["count"]) > 2`, true},
		{"missing key with has", `has(vars.missing)`, false},
		{"macro metadata", `macro["name"] == "m1"`, true},
		{"previous scene defaults to empty", `previous_scene == ""`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eng.Evaluate(context.Background(), tt.expr, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCELEngine_Errors(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	_, err = eng.Evaluate(context.Background(), "", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = eng.Evaluate(context.Background(), "scene ==", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = eng.Evaluate(context.Background(), `vars["nope"] == "x"`, nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExecution))

	_, err = eng.EvaluateBool(context.Background(), `scene`, map[string]any{KeyScene: "a"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestCELEngine_CacheConcurrent(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := eng.EvaluateBool(context.Background(), `scene != ""`, map[string]any{KeyScene: "x"})
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()
	assert.Len(t, eng.cache, 1)
}

func TestExprEngine_Evaluate(t *testing.T) {
	eng := NewExprEngine()

	tests := []struct {
		name string
		expr string
		data map[string]any
		want any
	}{
		{"plain name", "greeting", map[string]any{"greeting": "hi"}, "hi"},
		{"arithmetic", "a + b", map[string]any{"a": 1, "b": 2}, 3},
		{"string concat", `name + "!"`, map[string]any{"name": "x"}, "x!"},
		{"undefined is nil", "missing", nil, nil},
		{"variable shadows builtin", "int(count) * 2", map[string]any{"count": "4"}, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eng.Evaluate(context.Background(), tt.expr, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := eng.Evaluate(context.Background(), "a +", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestExprEngine_CachePerEnvironment(t *testing.T) {
	eng := NewExprEngine()
	ctx := context.Background()

	got, err := eng.Evaluate(ctx, "x", map[string]any{"x": "a"})
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	got, err = eng.Evaluate(ctx, "x", map[string]any{"x": "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", got)
	assert.Len(t, eng.cache, 1)

	got, err = eng.Evaluate(ctx, "x", map[string]any{"x": 2})
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	assert.Len(t, eng.cache, 2)
}

func TestGoJQEngine_Evaluate(t *testing.T) {
	eng := NewGoJQEngine()
	data := map[string]any{
		"text":    "hello",
		"volume":  3,
		"filters": []any{"a", "b"},
	}

	got, err := eng.Evaluate(context.Background(), ".text", data)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = eng.Evaluate(context.Background(), ".volume > 2", data)
	require.NoError(t, err)
	assert.Equal(t, true, got)

	got, err = eng.Evaluate(context.Background(), ".filters[]", data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, got)

	got, err = eng.Evaluate(context.Background(), "empty", data)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = eng.Evaluate(context.Background(), ".[", data)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = eng.Evaluate(context.Background(), `error("boom")`, data)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExecution))
}

func TestGoJQEngine_NoEnvironment(t *testing.T) {
	t.Setenv("MACROCORE_SECRET", "x")
	eng := NewGoJQEngine()
	got, err := eng.Evaluate(context.Background(), "$ENV.MACROCORE_SECRET", nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
