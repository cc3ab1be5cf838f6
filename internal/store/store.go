package store

import (
	"context"
	"time"

	"github.com/rendis/macrocore/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Settings document
	SaveDocument(ctx context.Context, doc *schema.Document) (int64, error)
	LoadDocument(ctx context.Context) (*StoredDocument, error)

	// Variables
	SaveVariables(ctx context.Context, vars []schema.VariableData) error
	LoadVariables(ctx context.Context) ([]schema.VariableData, error)

	// Event journal (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error)
	PruneEvents(ctx context.Context, before time.Time) (int64, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
