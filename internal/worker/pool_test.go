package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPool_RunsTasks(t *testing.T) {
	p := New(2, quiet())
	defer p.Shutdown()

	var ran atomic.Int64
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(context.Background(), "t", func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	p.Wait()
	assert.Equal(t, int64(5), ran.Load())
	assert.Equal(t, int64(5), p.Metrics().Completed)
}

func TestPool_ConcurrencyLimit(t *testing.T) {
	p := New(3, quiet())
	defer p.Shutdown()

	var current, peak int64
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), "t", func(context.Context) error {
			c := atomic.AddInt64(&current, 1)
			mu.Lock()
			if c > peak {
				peak = c
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return nil
		}))
	}
	p.Wait()
	assert.LessOrEqual(t, peak, int64(3))
	assert.Positive(t, peak)
}

func TestPool_TrySubmitWhenBusy(t *testing.T) {
	p := New(1, quiet())
	defer p.Shutdown()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.TrySubmit(context.Background(), "long", func(context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started

	err := p.TrySubmit(context.Background(), "second", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, int64(1), p.Metrics().Rejected)

	close(block)
	p.Wait()
	require.NoError(t, p.TrySubmit(context.Background(), "third", func(context.Context) error { return nil }))
}

func TestPool_FailuresAndPanics(t *testing.T) {
	p := New(2, quiet())
	defer p.Shutdown()

	require.NoError(t, p.Submit(context.Background(), "fail", func(context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, p.Submit(context.Background(), "panic", func(context.Context) error {
		panic("kaboom")
	}))
	p.Wait()

	m := p.Metrics()
	assert.Equal(t, int64(2), m.Failed)
	assert.Equal(t, int64(1), m.Panics)
	assert.Equal(t, int64(0), m.Active)
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	p := New(1, quiet())
	p.Shutdown()
	p.Shutdown()

	assert.ErrorIs(t, p.Submit(context.Background(), "x", func(context.Context) error { return nil }), ErrShutdown)
	assert.ErrorIs(t, p.TrySubmit(context.Background(), "x", func(context.Context) error { return nil }), ErrShutdown)
}

func TestPool_SubmitCancelled(t *testing.T) {
	p := New(1, quiet())
	defer p.Shutdown()

	block := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), "hold", func(context.Context) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, "waits", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(block)
}
