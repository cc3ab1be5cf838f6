package segment

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// WaitResult is the outcome of a bounded wait.
type WaitResult int

const (
	WaitDone WaitResult = iota
	WaitTimeout
	WaitAborted
)

func (r WaitResult) String() string {
	switch r {
	case WaitDone:
		return "OK"
	case WaitTimeout:
		return "TIMEOUT"
	default:
		return "ABORTED"
	}
}

// DefaultWakeInterval bounds how long a waiter sleeps between checks of the
// abort and stop flags.
const DefaultWakeInterval = 50 * time.Millisecond

// Waiter is the condition variable segments block on while waiting for an
// external signal (a script completion, a wait action). Broadcast wakes every
// waiter. Waiters also wake at their deadline, when their context ends and
// every wake interval.
type Waiter struct {
	mu    sync.Mutex
	cond  *sync.Cond
	abort atomic.Bool
	wake  time.Duration
}

// NewWaiter creates a Waiter. wake <= 0 uses DefaultWakeInterval.
func NewWaiter(wake time.Duration) *Waiter {
	if wake <= 0 {
		wake = DefaultWakeInterval
	}
	w := &Waiter{wake: wake}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Broadcast wakes every waiter so it re-checks its predicate and flags.
func (w *Waiter) Broadcast() {
	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()
}

// SetAbort sets the global abort flag and wakes every waiter. Waits started
// while the flag is set return WaitAborted immediately.
func (w *Waiter) SetAbort(abort bool) {
	w.abort.Store(abort)
	w.Broadcast()
}

// Aborted reports the global abort flag.
func (w *Waiter) Aborted() bool {
	return w.abort.Load()
}

// Wait blocks until done returns true, timeout elapses, the abort flag is
// set, owner requests a stop or ctx is cancelled. done is evaluated with the
// waiter's lock held; signal it by calling Broadcast after changing its
// inputs. A timeout <= 0 waits without a deadline.
func (w *Waiter) Wait(ctx context.Context, owner Owner, timeout time.Duration, done func() bool) WaitResult {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		expire := time.AfterFunc(timeout, w.Broadcast)
		defer expire.Stop()
	}
	stopCtx := context.AfterFunc(ctx, w.Broadcast)
	defer stopCtx()

	ticker := time.NewTicker(w.wake)
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.Broadcast()
			case <-finished:
				return
			}
		}
	}()

	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		if done() {
			return WaitDone
		}
		if w.abort.Load() || ctx.Err() != nil || (owner != nil && owner.StopRequested()) {
			return WaitAborted
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return WaitTimeout
		}
		w.cond.Wait()
	}
}

// Sleep waits for d unless aborted earlier. It returns WaitDone when the
// full duration elapsed.
func (w *Waiter) Sleep(ctx context.Context, owner Owner, d time.Duration) WaitResult {
	if d <= 0 {
		return WaitDone
	}
	res := w.Wait(ctx, owner, d, func() bool { return false })
	if res == WaitTimeout {
		return WaitDone
	}
	return res
}
