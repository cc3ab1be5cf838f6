package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/macrocore/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

var _ Store = (*LibSQLStore)(nil)

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "open libsql").WithCause(err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, s.db); err != nil {
		return storeError("migrate", err)
	}
	return nil
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Document ---

// SaveDocument writes doc and its variables in one transaction and returns
// the new revision. Variables go to their own table.
func (s *LibSQLStore) SaveDocument(ctx context.Context, doc *schema.Document) (int64, error) {
	if doc == nil {
		return 0, schema.NewError(schema.ErrCodeValidation, "document is nil")
	}
	body := *doc
	body.Variables = nil
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, storeError("marshal document", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeError("begin save", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, version, revision, body, updated_at) VALUES (1, ?, 1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET version=excluded.version, body=excluded.body,
		 revision=documents.revision + 1, updated_at=excluded.updated_at`,
		doc.Version, string(raw), time.Now().UTC(),
	)
	if err != nil {
		return 0, storeError("write document", err)
	}
	if err := replaceVariables(ctx, tx, doc.Variables); err != nil {
		return 0, err
	}

	var revision int64
	if err := tx.QueryRowContext(ctx, `SELECT revision FROM documents WHERE id = 1`).Scan(&revision); err != nil {
		return 0, storeError("read revision", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storeError("commit document", err)
	}
	return revision, nil
}

// LoadDocument returns the saved document with the stored variables. It
// fails with NOT_FOUND when nothing was saved yet.
func (s *LibSQLStore) LoadDocument(ctx context.Context) (*StoredDocument, error) {
	var (
		body    string
		version int
		sd      = &StoredDocument{}
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, revision, body, updated_at FROM documents WHERE id = 1`,
	).Scan(&version, &sd.Revision, &body, &sd.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.NewError(schema.ErrCodeNotFound, "no saved document")
	}
	if err != nil {
		return nil, storeError("read document", err)
	}

	var doc schema.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, storeError("unmarshal document", err)
	}
	doc.Version = version
	if doc.Variables, err = s.LoadVariables(ctx); err != nil {
		return nil, err
	}
	sd.Document = &doc
	return sd, nil
}

// --- Variables ---

// SaveVariables replaces the stored variables.
func (s *LibSQLStore) SaveVariables(ctx context.Context, vars []schema.VariableData) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("begin variables", err)
	}
	defer tx.Rollback()
	if err := replaceVariables(ctx, tx, vars); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeError("commit variables", err)
	}
	return nil
}

// LoadVariables returns the stored variables sorted by name.
func (s *LibSQLStore) LoadVariables(ctx context.Context) ([]schema.VariableData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value, default_value, save_action FROM variables ORDER BY name`)
	if err != nil {
		return nil, storeError("query variables", err)
	}
	defer rows.Close()

	var out []schema.VariableData
	for rows.Next() {
		var v schema.VariableData
		var action int
		if err := rows.Scan(&v.Name, &v.Value, &v.DefaultValue, &action); err != nil {
			return nil, storeError("scan variable", err)
		}
		v.SaveAction = schema.VariableSaveAction(action)
		out = append(out, v)
	}
	return out, rows.Err()
}

// replaceVariables rewrites the variables table. Only Save variables keep
// their value.
func replaceVariables(ctx context.Context, tx *sql.Tx, vars []schema.VariableData) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM variables`); err != nil {
		return storeError("clear variables", err)
	}
	now := time.Now().UTC()
	for _, v := range vars {
		value := ""
		if v.SaveAction == schema.VariableSave {
			value = v.Value
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO variables (name, value, default_value, save_action, updated_at) VALUES (?, ?, ?, ?, ?)`,
			v.Name, value, v.DefaultValue, int(v.SaveAction), now,
		)
		if err != nil {
			return storeError(fmt.Sprintf("write variable %q", v.Name), err)
		}
	}
	return nil
}

// --- Events ---

// AppendEvent appends event to the journal and sets its ID.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_type, macro, run_id, payload, timestamp) VALUES (?, ?, ?, ?, ?)`,
		event.Type, nullStr(event.Macro), nullStr(event.RunID), nullRaw(event.Payload), event.Timestamp.UTC(),
	)
	if err != nil {
		return storeError("insert event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storeError("read event id", err)
	}
	event.ID = id
	return nil
}

// ListEvents returns journal entries matching filter, oldest first.
func (s *LibSQLStore) ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	query := `SELECT id, event_type, macro, run_id, payload, timestamp FROM events`
	var where []string
	var args []any

	if len(filter.Types) > 0 {
		where = append(where, "event_type IN (?"+strings.Repeat(", ?", len(filter.Types)-1)+")")
		for _, t := range filter.Types {
			args = append(args, t)
		}
	}
	if filter.Macro != "" {
		where = append(where, "macro = ?")
		args = append(args, filter.Macro)
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Since.UTC())
	}

	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("query events", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var macroName, runID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.Type, &macroName, &runID, &payload, &e.Timestamp); err != nil {
			return nil, storeError("scan event", err)
		}
		e.Macro = macroName.String
		e.RunID = runID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// PruneEvents deletes journal entries older than before and returns how
// many were removed.
func (s *LibSQLStore) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, before.UTC())
	if err != nil {
		return 0, storeError("prune events", err)
	}
	return res.RowsAffected()
}

// --- Helpers ---

func storeError(op string, err error) *schema.CoreError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
