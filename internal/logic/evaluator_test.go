package logic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/macrocore/internal/duration"
)

// stubItem counts checks and returns a fixed result.
type stubItem struct {
	logic    Type
	result   bool
	err      error
	panicMsg string
	modifier *duration.Modifier
	calls    int
}

func (s *stubItem) Logic() Type { return s.logic }

func (s *stubItem) Check(context.Context) (bool, error) {
	s.calls++
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.result, s.err
}

func (s *stubItem) DurationModifier() *duration.Modifier { return s.modifier }

func items(stubs ...*stubItem) []Item {
	out := make([]Item, len(stubs))
	for i, s := range stubs {
		out[i] = s
	}
	return out
}

func TestApply(t *testing.T) {
	tests := []struct {
		typ     Type
		current bool
		value   bool
		want    bool
	}{
		{RootNone, false, true, true},
		{RootNone, true, false, false},
		{RootNot, false, false, true},
		{RootNot, true, true, false},
		{And, true, true, true},
		{And, true, false, false},
		{Or, false, true, true},
		{Or, false, false, false},
		{AndNot, true, false, true},
		{AndNot, true, true, false},
		{OrNot, false, false, true},
		{OrNot, false, true, false},
		{None, true, false, true},
		{None, false, true, false},
		{Type(-1), true, false, true},
		{last, false, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Apply(tt.typ, tt.current, tt.value))
		})
	}
}

func TestType_Classification(t *testing.T) {
	assert.True(t, RootNone.IsRoot())
	assert.True(t, RootNot.IsRoot())
	assert.False(t, None.IsRoot())
	assert.False(t, OrNot.IsRoot())

	assert.True(t, RootNot.IsNegation())
	assert.True(t, AndNot.IsNegation())
	assert.True(t, OrNot.IsNegation())
	assert.False(t, RootNone.IsNegation())
	assert.False(t, And.IsNegation())

	assert.True(t, RootNone.IsValid(true))
	assert.False(t, RootNone.IsValid(false))
	assert.False(t, And.IsValid(true))
	assert.True(t, None.IsValid(false))
	assert.False(t, rootLast.IsValid(true))
	assert.False(t, last.IsValid(false))
	assert.False(t, Type(-1).IsValid(true))
}

func TestEvaluate_AndChainRunsEveryCheck(t *testing.T) {
	// An early false must not stop later checks from running.
	stubs := []*stubItem{
		{logic: RootNone, result: false},
		{logic: And, result: true},
		{logic: And, result: true},
		{logic: And, result: false},
	}
	res := Evaluate(context.Background(), items(stubs...), Options{Now: time.Now()})

	assert.False(t, res.Value)
	for i, s := range stubs {
		assert.Equal(t, 1, s.calls, "condition %d", i)
	}
	require.Len(t, res.Records, 4)
	assert.True(t, res.Records[3].Evaluated)
}

func TestEvaluate_AndEqualsConjunction(t *testing.T) {
	combos := [][]bool{
		{true},
		{false},
		{true, true, true},
		{true, false, true},
		{false, true},
	}
	for _, combo := range combos {
		var stubs []*stubItem
		want := true
		for i, v := range combo {
			lt := And
			if i == 0 {
				lt = RootNone
			}
			stubs = append(stubs, &stubItem{logic: lt, result: v})
			want = want && v
		}
		res := Evaluate(context.Background(), items(stubs...), Options{})
		assert.Equal(t, want, res.Value, "combo %v", combo)
	}
}

func TestEvaluate_MixedLogic(t *testing.T) {
	// not(false) and true or-not true  => (true && true) || false => true
	stubs := []*stubItem{
		{logic: RootNot, result: false},
		{logic: And, result: true},
		{logic: OrNot, result: true},
		{logic: None, result: false},
	}
	res := Evaluate(context.Background(), items(stubs...), Options{})
	assert.True(t, res.Value)
	assert.Equal(t, 1, stubs[3].calls, "ignored conditions still run")
}

func TestEvaluate_ShortCircuit(t *testing.T) {
	stubs := []*stubItem{
		{logic: RootNone, result: false},
		{logic: And, result: true},
		{logic: Or, result: true},
		{logic: Or, result: false},
		{logic: None, result: true},
	}
	res := Evaluate(context.Background(), items(stubs...), Options{ShortCircuit: true})

	assert.True(t, res.Value)
	assert.Equal(t, 1, stubs[0].calls)
	assert.Equal(t, 0, stubs[1].calls, "and after false is skipped")
	assert.Equal(t, 1, stubs[2].calls)
	assert.Equal(t, 0, stubs[3].calls, "or after true is skipped")
	assert.Equal(t, 0, stubs[4].calls)
	assert.False(t, res.Records[1].Evaluated)
}

func TestEvaluate_ErrorCountsAsFalse(t *testing.T) {
	stubs := []*stubItem{
		{logic: RootNone, result: true, err: errors.New("scene not found")},
		{logic: Or, result: true},
	}
	res := Evaluate(context.Background(), items(stubs...), Options{})

	assert.True(t, res.Value)
	assert.Error(t, res.Records[0].Err)
	assert.False(t, res.Records[0].Raw)
	assert.Equal(t, 1, stubs[1].calls)
}

func TestEvaluate_PanicCountsAsFalse(t *testing.T) {
	stubs := []*stubItem{
		{logic: RootNone, panicMsg: "boom"},
		{logic: AndNot, result: false},
	}
	res := Evaluate(context.Background(), items(stubs...), Options{})

	assert.False(t, res.Value)
	require.Error(t, res.Records[0].Err)
	assert.Contains(t, res.Records[0].Err.Error(), "boom")
	assert.Equal(t, 1, stubs[1].calls)
}

func TestEvaluate_AppliesDurationModifier(t *testing.T) {
	base := time.Now()
	item := &stubItem{logic: RootNone, result: true, modifier: duration.New(duration.More, time.Second)}

	res := Evaluate(context.Background(), items(item), Options{Now: base})
	assert.False(t, res.Value)
	assert.True(t, res.Records[0].Raw)

	res = Evaluate(context.Background(), items(item), Options{Now: base.Add(1500 * time.Millisecond)})
	assert.True(t, res.Value)
}

func TestEvaluate_Abort(t *testing.T) {
	stubs := []*stubItem{
		{logic: RootNone, result: true},
		{logic: And, result: true},
	}
	calls := 0
	res := Evaluate(context.Background(), items(stubs...), Options{Abort: func() bool {
		calls++
		return calls > 1
	}})

	assert.True(t, res.Aborted)
	assert.False(t, res.Value)
	assert.Equal(t, 0, stubs[1].calls)
}

func TestEvaluate_Empty(t *testing.T) {
	res := Evaluate(context.Background(), nil, Options{})
	assert.False(t, res.Value)
	assert.Empty(t, res.Records)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      Type
		index   int
		want    Type
		changed bool
	}{
		{RootNone, 0, RootNone, false},
		{RootNot, 0, RootNot, false},
		{And, 0, RootNone, true},
		{OrNot, 0, RootNot, true},
		{Or, 3, Or, false},
		{None, 1, None, false},
		{RootNone, 1, And, true},
		{RootNot, 2, AndNot, true},
		{Type(999), 1, And, true},
	}
	for _, tt := range tests {
		got, changed := Normalize(tt.in, tt.index)
		assert.Equal(t, tt.want, got, "%s at %d", tt.in, tt.index)
		assert.Equal(t, tt.changed, changed)
	}
}
