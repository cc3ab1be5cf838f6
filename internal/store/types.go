package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/macrocore/pkg/schema"
)

// StoredDocument is the persisted settings document with its bookkeeping.
// Revision grows by one on every save.
type StoredDocument struct {
	Revision  int64            `json:"revision"`
	UpdatedAt time.Time        `json:"updated_at"`
	Document  *schema.Document `json:"document"`
}

// Event is one journal entry.
type Event struct {
	ID        int64           `json:"id"`
	Type      string          `json:"event_type"`
	Macro     string          `json:"macro,omitempty"`
	RunID     string          `json:"run_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventFilter selects journal entries. Empty fields match everything.
type EventFilter struct {
	Types []string
	Macro string
	Since time.Time
	Limit int
}
