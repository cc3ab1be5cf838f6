package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/macrocore/internal/streaming"
)

// EventLog journals switcher events into a Store.
type EventLog struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	written uint64
	failed  uint64
}

// NewEventLog wraps a Store to journal events.
func NewEventLog(s Store, logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLog{store: s, logger: logger}
}

// Append converts a streaming event into a journal entry and stores it.
func (el *EventLog) Append(ctx context.Context, ev streaming.Event) error {
	entry := &Event{
		Type:      ev.Type,
		Macro:     ev.Macro,
		RunID:     ev.RunID,
		Timestamp: ev.Time,
	}
	if ev.Payload != nil {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			el.logger.Debug("event payload not encodable", slog.String("type", ev.Type), slog.String("error", err.Error()))
		} else {
			entry.Payload = raw
		}
	}

	err := el.store.AppendEvent(ctx, entry)
	el.mu.Lock()
	if err != nil {
		el.failed++
	} else {
		el.written++
	}
	el.mu.Unlock()
	return err
}

// Record subscribes to hub and journals every matching event until ctx is
// cancelled or the returned stop func is called. stop waits for the
// recorder to finish.
func (el *EventLog) Record(ctx context.Context, hub streaming.Hub, filter streaming.Filter) (stop func(), err error) {
	ch, unsubscribe, err := hub.Subscribe(ctx, filter)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				// Writes outlive the recorder's context.
				if err := el.Append(context.Background(), ev); err != nil {
					el.logger.Warn("journal write failed", slog.String("type", ev.Type), slog.String("error", err.Error()))
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			unsubscribe()
			<-done
		})
	}, nil
}

// Stats returns how many events were written and how many failed.
func (el *EventLog) Stats() (written, failed uint64) {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.written, el.failed
}

// Prune deletes entries older than retention.
func (el *EventLog) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return el.store.PruneEvents(ctx, time.Now().Add(-retention))
}
