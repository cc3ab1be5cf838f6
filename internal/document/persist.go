package document

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rendis/macrocore/internal/store"
	"github.com/rendis/macrocore/pkg/schema"
)

// Persist saves the full document to st and returns the stored revision.
func (m *Manager) Persist(ctx context.Context, st store.Store) (int64, error) {
	doc, err := m.Export()
	if err != nil {
		return 0, err
	}
	rev, err := st.SaveDocument(ctx, doc)
	if err != nil {
		return 0, err
	}
	m.logger.Debug("document saved", slog.Int64("revision", rev), slog.Int("macros", len(doc.Macros)))
	return rev, nil
}

// PersistVariables saves only the variables to st.
func (m *Manager) PersistVariables(ctx context.Context, st store.Store) error {
	return st.SaveVariables(ctx, m.sw.Variables().Data())
}

// Restore replaces the live set with the document saved in st. It reports
// false when st holds no document yet.
func (m *Manager) Restore(ctx context.Context, st store.Store) (bool, error) {
	sd, err := st.LoadDocument(ctx)
	if schema.HasCode(err, schema.ErrCodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	raw, err := json.Marshal(sd.Document)
	if err != nil {
		return false, schema.NewError(schema.ErrCodeStore, "encode saved document").WithCause(err)
	}
	if _, err := m.Import(ctx, raw, Replace); err != nil {
		return false, err
	}
	m.logger.Info("document restored", slog.Int64("revision", sd.Revision))
	return true, nil
}
