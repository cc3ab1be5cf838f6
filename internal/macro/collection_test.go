package macro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/macrocore/pkg/schema"
)

func TestCollection_AddRejectsDuplicates(t *testing.T) {
	f := newFixture()
	f.macro("a")

	err := f.coll.Add(New(f.env, "a"))
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))

	err = f.coll.Add(New(f.env, ""))
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	assert.Equal(t, 1, f.coll.Len())
}

func TestCollection_RenameUpdatesReferences(t *testing.T) {
	f := newFixture()
	a := f.macro("a")
	f.macro("b")
	ref := f.call(a, "b")

	require.NoError(t, f.coll.Rename("b", "c"))
	assert.Equal(t, "c", ref.Target.Name)
	assert.Nil(t, f.coll.Get("b"))
	assert.NotNil(t, f.coll.Get("c"))
	assert.Equal(t, []string{"a", "c"}, f.coll.Names())

	err := f.coll.Rename("a", "c")
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))
	err = f.coll.Rename("missing", "x")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestCollection_RemoveGroupKeepsMembers(t *testing.T) {
	f := newFixture()
	macros, err := LoadAll(f.env, []schema.MacroData{
		{Name: "g", Group: true, GroupData: &schema.GroupData{Size: 2}},
		{Name: "m1"},
		{Name: "m2"},
	})
	require.NoError(t, err)
	f.coll.Replace(macros)

	require.NoError(t, f.coll.Remove("m1"))
	assert.Equal(t, 1, f.coll.Get("g").GroupSize())

	require.NoError(t, f.coll.Remove("g"))
	assert.Nil(t, f.coll.Get("m2").Parent())
	assert.Equal(t, []string{"m2"}, f.coll.Names())

	err = f.coll.Remove("g")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestLoadAll_Groups(t *testing.T) {
	tests := []struct {
		name    string
		data    []schema.MacroData
		want    []string
		parents map[string]string
	}{
		{
			name: "valid group",
			data: []schema.MacroData{
				{Name: "g", Group: true, GroupData: &schema.GroupData{Size: 2}},
				{Name: "m1"}, {Name: "m2"}, {Name: "m3"},
			},
			want:    []string{"g", "m1", "m2", "m3"},
			parents: map[string]string{"m1": "g", "m2": "g", "m3": ""},
		},
		{
			name: "nested group dissolved",
			data: []schema.MacroData{
				{Name: "g1", Group: true, GroupData: &schema.GroupData{Size: 2}},
				{Name: "g2", Group: true, GroupData: &schema.GroupData{Size: 1}},
				{Name: "m1"}, {Name: "m2"},
			},
			want:    []string{"g1", "m1", "m2"},
			parents: map[string]string{"m1": "g1", "m2": "g1"},
		},
		{
			name: "oversized group dissolved",
			data: []schema.MacroData{
				{Name: "m0"},
				{Name: "g", Group: true, GroupData: &schema.GroupData{Size: 3}},
				{Name: "m1"},
			},
			want:    []string{"m0", "m1"},
			parents: map[string]string{"m0": "", "m1": ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			macros, err := LoadAll(f.env, tt.data)
			require.NoError(t, err)

			var names []string
			byName := map[string]*Macro{}
			for _, m := range macros {
				names = append(names, m.Name())
				byName[m.Name()] = m
			}
			assert.Equal(t, tt.want, names)
			for child, parent := range tt.parents {
				p := byName[child].Parent()
				if parent == "" {
					assert.Nil(t, p, child)
				} else {
					require.NotNil(t, p, child)
					assert.Equal(t, parent, p.Name())
				}
			}
		})
	}
}

func TestLoadAll_DuplicateNames(t *testing.T) {
	f := newFixture()
	_, err := LoadAll(f.env, []schema.MacroData{{Name: "a"}, {Name: "a"}})
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))
}

func TestCollection_MoveToGroup(t *testing.T) {
	f := newFixture()
	macros, err := LoadAll(f.env, []schema.MacroData{
		{Name: "g", Group: true, GroupData: &schema.GroupData{Size: 1}},
		{Name: "m1"},
		{Name: "m2"},
	})
	require.NoError(t, err)
	f.coll.Replace(macros)
	g := f.coll.Get("g")

	require.NoError(t, f.coll.MoveToGroup("m2", "g"))
	assert.Equal(t, []string{"g", "m1", "m2"}, f.coll.Names())
	assert.Equal(t, 2, g.GroupSize())
	assert.Same(t, g, f.coll.Get("m2").Parent())

	require.NoError(t, f.coll.MoveToGroup("m1", ""))
	assert.Equal(t, []string{"g", "m2", "m1"}, f.coll.Names())
	assert.Equal(t, 1, g.GroupSize())
	assert.Nil(t, f.coll.Get("m1").Parent())

	err = f.coll.MoveToGroup("g", "g")
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	err = f.coll.MoveToGroup("m1", "m2")
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestCollection_SaveKeepsOrder(t *testing.T) {
	f := newFixture()
	f.macro("b")
	f.macro("a")
	f.record(f.coll.Get("a"), "x")

	data, err := f.coll.Save()
	require.NoError(t, err)
	require.Len(t, data, 2)
	assert.Equal(t, "b", data[0].Name)
	assert.Equal(t, "a", data[1].Name)
	assert.Len(t, data[1].Actions, 1)
}
