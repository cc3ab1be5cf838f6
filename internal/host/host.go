// Package host defines the narrow interface the core uses to reach the
// application it automates, and an in-memory implementation of it.
package host

import (
	"log/slog"
	"time"
)

// Handle names a source or filter. Handles are looked up again on every
// call; one that no longer resolves yields a NOT_FOUND error.
type Handle string

// Host is implemented by the embedding application.
type Host interface {
	CurrentScene() string
	PreviousScene() string
	SwitchToScene(name string) error

	Sources() []Handle
	Filters(source Handle) []Handle
	SourceSetting(h Handle, key string) (string, error)
	SetSourceSetting(h Handle, key, value string) error

	Log(level slog.Level, msg string)

	// RegisterPeriodicTick calls fn every interval until CancelPeriodicTick.
	// Registering while a tick is active fails.
	RegisterPeriodicTick(fn func(), interval time.Duration) error
	// CancelPeriodicTick stops the tick and waits for a call in progress.
	CancelPeriodicTick()
}
