// Package streaming fans macro run events out to subscribers such as the
// MCP bridge and the CLI.
package streaming

import (
	"context"
	"time"
)

// Event is something that happened to a macro, queue or the switcher.
type Event struct {
	Type    string    `json:"type"`
	Macro   string    `json:"macro,omitempty"`
	RunID   string    `json:"run_id,omitempty"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// Filter selects events for a subscriber. Empty fields match everything.
type Filter struct {
	Macro string   `json:"macro,omitempty"`
	Types []string `json:"types,omitempty"`
}

// Hub is a publish/subscribe fan-out of events.
type Hub interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)
}

// Publisher is the send side of a Hub.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Discard is a Publisher that drops every event.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(context.Context, Event) error { return nil }
