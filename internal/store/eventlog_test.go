package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/macrocore/internal/streaming"
	"github.com/rendis/macrocore/pkg/schema"
)

func newTestEventLog(t *testing.T) (*EventLog, *LibSQLStore) {
	t.Helper()
	s := newTestStore(t)
	return NewEventLog(s, slog.New(slog.NewTextHandler(io.Discard, nil))), s
}

func TestEventLog_Append(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()

	require.NoError(t, el.Append(ctx, streaming.Event{
		Type:    schema.EventMacroEvaluated,
		Macro:   "A",
		RunID:   "run-1",
		Time:    time.Now(),
		Payload: map[string]any{"matched": true},
	}))
	require.NoError(t, el.Append(ctx, streaming.Event{Type: schema.EventSwitcherStarted}))

	got, err := s.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Macro)
	assert.Equal(t, "run-1", got[0].RunID)
	assert.JSONEq(t, `{"matched":true}`, string(got[0].Payload))
	assert.Nil(t, got[1].Payload)
	assert.False(t, got[1].Timestamp.IsZero())

	written, failed := el.Stats()
	assert.Equal(t, uint64(2), written)
	assert.Zero(t, failed)
}

func TestEventLog_UnencodablePayloadStillJournaled(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()

	require.NoError(t, el.Append(ctx, streaming.Event{Type: "odd", Payload: make(chan int)}))
	got, err := s.ListEvents(ctx, EventFilter{Types: []string{"odd"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Payload)
}

func TestEventLog_Record(t *testing.T) {
	el, s := newTestEventLog(t)
	hub := streaming.NewMemoryHub()
	ctx := context.Background()

	stop, err := el.Record(ctx, hub, streaming.Filter{Types: []string{schema.EventMacroStopped}})
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, streaming.Event{Type: schema.EventMacroEvaluated, Macro: "A"}))
	require.NoError(t, hub.Publish(ctx, streaming.Event{Type: schema.EventMacroStopped, Macro: "A", Time: time.Now()}))

	require.Eventually(t, func() bool {
		written, _ := el.Stats()
		return written == 1
	}, 2*time.Second, 5*time.Millisecond)

	stop()
	stop()

	require.NoError(t, hub.Publish(ctx, streaming.Event{Type: schema.EventMacroStopped, Macro: "B"}))
	got, err := s.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, schema.EventMacroStopped, got[0].Type)
}

func TestEventLog_RecordStopsWithContext(t *testing.T) {
	el, _ := newTestEventLog(t)
	hub := streaming.NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())

	stop, err := el.Record(ctx, hub, streaming.Filter{})
	require.NoError(t, err)
	cancel()

	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop")
	}
}

func TestEventLog_Prune(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, &Event{Type: "old", Timestamp: time.Now().Add(-2 * time.Hour)}))
	require.NoError(t, s.AppendEvent(ctx, &Event{Type: "new"}))

	n, err := el.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
