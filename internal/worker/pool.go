// Package worker runs macro work (parallel macro runs, background
// processes) on a bounded set of goroutines.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Metrics is a snapshot of pool counters.
type Metrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
	Rejected  int64 `json:"rejected"`
}

var (
	// ErrShutdown is returned when work is submitted after Shutdown.
	ErrShutdown = errors.New("worker pool is shut down")
	// ErrBusy is returned by TrySubmit when every slot is taken.
	ErrBusy = errors.New("worker pool is at capacity")
)

// Task is one unit of work. name identifies it in logs.
type Task func(ctx context.Context) error

// Pool is a semaphore-bounded goroutine pool.
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	done   chan struct{}
	closed bool
	logger *slog.Logger

	active, completed, failed, panics, rejected atomic.Int64
}

// New creates a pool running at most size tasks at once.
func New(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		sem:    make(chan struct{}, size),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Submit blocks until a slot is free, ctx is cancelled or the pool shuts
// down, then runs task on its own goroutine.
func (p *Pool) Submit(ctx context.Context, name string, task Task) error {
	if p.isClosed() {
		return ErrShutdown
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrShutdown
	}
	return p.launch(ctx, name, task)
}

// TrySubmit runs task only if a slot is free right now. The evaluation tick
// uses it so a saturated pool never stalls the tick.
func (p *Pool) TrySubmit(ctx context.Context, name string, task Task) error {
	if p.isClosed() {
		return ErrShutdown
	}
	select {
	case p.sem <- struct{}{}:
	default:
		p.rejected.Add(1)
		return ErrBusy
	}
	return p.launch(ctx, name, task)
}

func (p *Pool) launch(ctx context.Context, name string, task Task) error {
	// wg.Add must happen under the lock so Shutdown's Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrShutdown
	}
	p.wg.Add(1)
	p.active.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.panics.Add(1)
				p.failed.Add(1)
				p.logger.Error("worker task panicked",
					slog.String("task", name),
					slog.Any("panic", r),
				)
			}
			p.active.Add(-1)
			<-p.sem
			p.wg.Done()
		}()

		if err := task(ctx); err != nil {
			p.failed.Add(1)
			p.logger.Warn("worker task failed",
				slog.String("task", name),
				slog.String("error", err.Error()),
			)
			return
		}
		p.completed.Add(1)
	}()
	return nil
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown rejects new work and waits for running tasks.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns the current counters.
func (p *Pool) Metrics() Metrics {
	return Metrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
		Rejected:  p.rejected.Load(),
	}
}
