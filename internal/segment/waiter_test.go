package segment

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stoppableOwner struct{ stop atomic.Bool }

func (o *stoppableOwner) Name() string        { return "owner" }
func (o *stoppableOwner) StopRequested() bool { return o.stop.Load() }

func TestWaiter_Done(t *testing.T) {
	w := NewWaiter(10 * time.Millisecond)
	var flag atomic.Bool
	go func() {
		time.Sleep(20 * time.Millisecond)
		flag.Store(true)
		w.Broadcast()
	}()
	res := w.Wait(context.Background(), nil, time.Second, flag.Load)
	assert.Equal(t, WaitDone, res)
}

func TestWaiter_Timeout(t *testing.T) {
	w := NewWaiter(5 * time.Millisecond)
	start := time.Now()
	res := w.Wait(context.Background(), nil, 30*time.Millisecond, func() bool { return false })
	assert.Equal(t, WaitTimeout, res)
	assert.Equal(t, "TIMEOUT", res.String())
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaiter_StopRequestedWithinOneInterval(t *testing.T) {
	w := NewWaiter(10 * time.Millisecond)
	owner := &stoppableOwner{}
	go func() {
		time.Sleep(20 * time.Millisecond)
		owner.stop.Store(true)
	}()
	start := time.Now()
	res := w.Wait(context.Background(), owner, 0, func() bool { return false })
	assert.Equal(t, WaitAborted, res)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaiter_Abort(t *testing.T) {
	w := NewWaiter(time.Hour)
	go func() {
		time.Sleep(10 * time.Millisecond)
		w.SetAbort(true)
	}()
	res := w.Wait(context.Background(), nil, 0, func() bool { return false })
	assert.Equal(t, WaitAborted, res)
	assert.True(t, w.Aborted())

	assert.Equal(t, WaitAborted, w.Sleep(context.Background(), nil, time.Second))
	w.SetAbort(false)
	assert.Equal(t, WaitDone, w.Sleep(context.Background(), nil, 5*time.Millisecond))
}

func TestWaiter_ContextCancelled(t *testing.T) {
	w := NewWaiter(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, WaitAborted, w.Wait(ctx, nil, 0, func() bool { return false }))
}

func TestWaiter_DeadlineWakesWithoutInterval(t *testing.T) {
	w := NewWaiter(time.Hour)
	start := time.Now()
	assert.Equal(t, WaitTimeout, w.Wait(context.Background(), nil, 20*time.Millisecond, func() bool { return false }))
	assert.Equal(t, WaitDone, w.Sleep(context.Background(), nil, 5*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaiter_ContextCancelledWhileWaiting(t *testing.T) {
	w := NewWaiter(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	assert.Equal(t, WaitAborted, w.Wait(ctx, nil, 0, func() bool { return false }))
	assert.Less(t, time.Since(start), time.Second)
}
