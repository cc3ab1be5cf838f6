package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestMemoryHub_PublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, Event{Type: "macro_evaluated", Macro: "m1", Payload: true}))
	got := receive(t, ch)
	assert.Equal(t, "m1", got.Macro)
	assert.Equal(t, true, got.Payload)
}

func TestMemoryHub_Filter(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{Macro: "m1", Types: []string{"macro_paused"}})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, Event{Type: "macro_paused", Macro: "m2"}))
	require.NoError(t, hub.Publish(ctx, Event{Type: "macro_unpaused", Macro: "m1"}))
	require.NoError(t, hub.Publish(ctx, Event{Type: "macro_paused", Macro: "m1"}))

	got := receive(t, ch)
	assert.Equal(t, "macro_paused", got.Type)
	assert.Equal(t, "m1", got.Macro)
	assert.Empty(t, ch)
}

func TestMemoryHub_FullSubscriberDropsEvents(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	_, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < defaultChannelBuffer+5; i++ {
		require.NoError(t, hub.Publish(ctx, Event{Type: "x"}))
	}
	assert.Equal(t, uint64(5), hub.Dropped())
}

func TestMemoryHub_CancelClosesChannel(t *testing.T) {
	hub := NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), Filter{})
	require.NoError(t, err)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	require.NoError(t, hub.Publish(context.Background(), Event{Type: "after"}))
}

func TestMemoryHub_CancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, hub.Publish(ctx, Event{}))
	_, _, err := hub.Subscribe(ctx, Filter{})
	assert.Error(t, err)
}

func TestMemoryHub_Concurrent(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cancel, _ := hub.Subscribe(ctx, Filter{})
			cancel()
		}()
		go func() {
			defer wg.Done()
			_ = hub.Publish(ctx, Event{Type: "x"})
		}()
	}
	wg.Wait()
}
