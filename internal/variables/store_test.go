package variables

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/macrocore/internal/clock"
	"github.com/rendis/macrocore/pkg/schema"
)

func newTestStore() (*Store, *clock.Manual) {
	clk := clock.NewManual(time.Unix(1000, 0))
	return NewStore(clk, nil, slog.New(slog.NewTextHandler(io.Discard, nil))), clk
}

func TestStore_SetAndGet(t *testing.T) {
	s, clk := newTestStore()

	var changes []string
	s.SetOnChange(func(name, prev, value string) {
		changes = append(changes, name+":"+prev+"->"+value)
	})

	s.Set("score", "1")
	clk.Advance(time.Second)
	s.Set("score", "2")
	s.Set("score", "2")

	v, ok := s.Get("score")
	require.True(t, ok)
	assert.Equal(t, "2", v.Value)
	assert.Equal(t, "2", v.Previous)
	assert.Equal(t, uint64(3), v.ChangeCount)
	assert.Equal(t, clk.Now(), v.LastUsed)
	assert.Equal(t, []string{"score:->1", "score:1->2"}, changes)
}

func TestStore_AddConflict(t *testing.T) {
	s, _ := newTestStore()
	require.NoError(t, s.Add(Variable{Name: "a"}))
	err := s.Add(Variable{Name: "a"})
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))
	assert.True(t, schema.HasCode(s.Add(Variable{}), schema.ErrCodeValidation))

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
}

func TestStore_SaveActions(t *testing.T) {
	s, _ := newTestStore()
	require.NoError(t, s.Add(Variable{Name: "keep", Value: "k", SaveAction: schema.VariableSave}))
	require.NoError(t, s.Add(Variable{Name: "drop", Value: "d"}))
	require.NoError(t, s.Add(Variable{Name: "def", Value: "x", DefaultValue: "0", SaveAction: schema.VariableSetDefault}))

	data := s.Data()
	require.Len(t, data, 3)
	assert.Equal(t, "def", data[0].Name)
	assert.Empty(t, data[0].Value)
	assert.Empty(t, data[1].Value)
	assert.Equal(t, "k", data[2].Value)

	other, _ := newTestStore()
	other.Load(data)
	assert.Equal(t, map[string]string{"keep": "k", "drop": "", "def": "0"}, other.Snapshot())
}

func TestStore_Resolve(t *testing.T) {
	s, _ := newTestStore()
	s.Set("scene", "Game")
	s.Set("count", "4")
	s.Set("my var", "spaced")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no tokens", "plain text", "plain text"},
		{"plain name", "now ${{ scene }}", "now Game"},
		{"two tokens", "${{scene}}/${{count}}", "Game/4"},
		{"expression", "${{ int(count) * 2 }}", "8"},
		{"non identifier name", `${{ $env["my var"] }}`, "spaced"},
		{"unknown name renders empty", "[${{ missing }}]", "[]"},
		{"bool", "${{ scene == \"Game\" }}", "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Resolve(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_ResolveErrors(t *testing.T) {
	s, _ := newTestStore()
	for _, input := range []string{
		"${{ scene",
		"${{ }}",
		"${{ a ${{ b }} }}",
		"${{ 1 + }}",
	} {
		_, err := s.Resolve(input)
		assert.True(t, schema.HasCode(err, schema.ErrCodeInterpolation), input)
	}
}

func TestText_FixIsIdempotent(t *testing.T) {
	s, _ := newTestStore()
	s.Set("target", "${{ other }}")
	s.Set("other", "nope")

	txt := NewText("${{ target }}")
	require.NoError(t, txt.Fix(s))
	first := txt
	require.NoError(t, txt.Fix(s))
	assert.Equal(t, first, txt)
	assert.Equal(t, "${{ other }}", txt.Raw)

	got, err := txt.Value(s)
	require.NoError(t, err)
	assert.Equal(t, "${{ other }}", got)
}

func TestText_JSON(t *testing.T) {
	b, err := json.Marshal(NewText("${{ a }}"))
	require.NoError(t, err)
	assert.JSONEq(t, `"${{ a }}"`, string(b))

	fixed := Text{Raw: "x", Fixed: true}
	b, err = json.Marshal(fixed)
	require.NoError(t, err)

	var back Text
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, fixed, back)

	require.NoError(t, json.Unmarshal([]byte(`"plain"`), &back))
	assert.Equal(t, Text{Raw: "plain"}, back)
}

func TestText_Int(t *testing.T) {
	s, _ := newTestStore()
	s.Set("idx", " 3 ")
	n, err := NewText("${{ idx }}").Int(s)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = NewText("x").Int(s)
	assert.Error(t, err)
}
