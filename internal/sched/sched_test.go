package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestEveryStopsOnHandle(test *testing.T) {
	test.Parallel()
	scheduler := New(zap.NewNop())
	var runs atomic.Int64
	handle := scheduler.Every(context.Background(), "tick", 5*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	})
	time.Sleep(40 * time.Millisecond)
	handle.Stop()
	settled := runs.Load()
	if settled == 0 {
		test.Fatalf("job never ran")
	}
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != settled {
		test.Fatalf("job kept running after stop")
	}
	handle.Stop() // idempotent
}

func TestCountdownTicksThenExpires(test *testing.T) {
	test.Parallel()
	scheduler := New(zap.NewNop())
	var ticks []int
	expired := make(chan struct{})
	scheduler.Countdown(context.Background(), "bet", 3, time.Millisecond, func(timeLeft int) {
		ticks = append(ticks, timeLeft)
	}, func() {
		close(expired)
	})
	select {
	case <-expired:
	case <-time.After(time.Second):
		test.Fatalf("countdown never expired")
	}
	if len(ticks) != 3 || ticks[0] != 3 || ticks[2] != 1 {
		test.Fatalf("unexpected tick sequence %v", ticks)
	}
}

func TestCountdownStopSuppressesExpiry(test *testing.T) {
	test.Parallel()
	scheduler := New(zap.NewNop())
	expired := make(chan struct{})
	handle := scheduler.Countdown(context.Background(), "bet", 1000, time.Millisecond, func(timeLeft int) {}, func() {
		close(expired)
	})
	handle.Stop()
	select {
	case <-expired:
		test.Fatalf("expiry fired after stop")
	case <-time.After(30 * time.Millisecond):
	}
	scheduler.Wait()
}
