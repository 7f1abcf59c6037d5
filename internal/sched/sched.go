// Package sched is the explicit scheduler behind everything the system
// runs on a clock: the mirror sync interval, the tier cache refresh, and
// the per-room bet countdowns. Each job gets a cancellable handle.
package sched

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handle cancels one scheduled job. Stop is idempotent.
type Handle struct {
	once   sync.Once
	cancel chan struct{}
}

// Stop cancels the job. Safe to call from any goroutine, any number of times.
func (handle *Handle) Stop() {
	handle.once.Do(func() { close(handle.cancel) })
}

func newHandle() *Handle {
	return &Handle{cancel: make(chan struct{})}
}

// Scheduler owns the goroutines of repeating and countdown jobs.
type Scheduler struct {
	logger *zap.Logger
	wg     sync.WaitGroup
}

// New returns a Scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger}
}

// Every runs fn once per interval until the handle is stopped or ctx is
// done. The first run happens after one interval, not immediately.
func (scheduler *Scheduler) Every(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context)) *Handle {
	handle := newHandle()
	scheduler.wg.Add(1)
	go func() {
		defer scheduler.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-handle.cancel:
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
	return handle
}

// Countdown ticks down from ticks to one, invoking onTick with the time
// left before each wait, then invokes onExpire. Stopping the handle before
// expiry suppresses onExpire entirely.
func (scheduler *Scheduler) Countdown(ctx context.Context, name string, ticks int, interval time.Duration, onTick func(timeLeft int), onExpire func()) *Handle {
	handle := newHandle()
	scheduler.wg.Add(1)
	go func() {
		defer scheduler.wg.Done()
		timer := time.NewTimer(interval)
		defer timer.Stop()
		for timeLeft := ticks; timeLeft > 0; timeLeft-- {
			onTick(timeLeft)
			select {
			case <-ctx.Done():
				return
			case <-handle.cancel:
				return
			case <-timer.C:
				timer.Reset(interval)
			}
		}
		select {
		case <-handle.cancel:
			return
		default:
		}
		onExpire()
	}()
	return handle
}

// Wait blocks until every job goroutine has exited. Jobs only exit once
// their handle is stopped or their context is done.
func (scheduler *Scheduler) Wait() {
	scheduler.wg.Wait()
}
