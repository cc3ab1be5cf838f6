package document

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rendis/macrocore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "doc.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRestore_Empty(t *testing.T) {
	m, sw, _ := newTestManager(t)
	ok, err := m.Restore(context.Background(), newTestStore(t))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, sw.Macros().Len())
}

func TestPersistAndRestore(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	m, sw, _ := newTestManager(t)
	_, err := m.Import(ctx, []byte(sampleDoc), Replace)
	require.NoError(t, err)
	sw.Variables().Set("x", "7")
	sw.Variables().Set("scratch", "tmp")

	rev, err := m.Persist(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	m2, sw2, _ := newTestManager(t)
	ok, err := m2.Restore(ctx, st)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []string{"G", "Greet", "Member", "Loose"}, sw2.Macros().Names())
	x, _ := sw2.Variables().Value("x")
	assert.Equal(t, "7", x, "Save variables keep their value")
	scratch, found := sw2.Variables().Value("scratch")
	assert.True(t, found)
	assert.Empty(t, scratch, "DontSave variables come back empty")
	z, _ := sw2.Variables().Value("z")
	assert.Equal(t, "d", z)
	assert.Equal(t, sw.Interval(), sw2.Interval())
}

func TestPersistVariables(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	m, sw, _ := newTestManager(t)
	_, err := m.Import(ctx, []byte(sampleDoc), Replace)
	require.NoError(t, err)
	_, err = m.Persist(ctx, st)
	require.NoError(t, err)

	sw.Variables().Set("x", "42")
	require.NoError(t, m.PersistVariables(ctx, st))

	sd, err := st.LoadDocument(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sd.Revision)
	for _, v := range sd.Document.Variables {
		if v.Name == "x" {
			assert.Equal(t, "42", v.Value)
		}
	}
}
