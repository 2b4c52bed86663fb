package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, ch <-chan time.Duration) time.Duration {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not reach its idle wait")
		return 0
	}
}

func TestLoop_IntervalAndBackoff(t *testing.T) {
	clock := NewManualClock(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC))
	var calls atomic.Int32
	loop := &Loop{
		Name:     "test",
		Interval: 20 * time.Second,
		Backoff:  10 * time.Second,
		Clock:    clock,
		Cycle: func(ctx context.Context) error {
			if calls.Add(1) == 2 {
				return errors.New("feed unreachable")
			}
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	if d := waitFor(t, clock.Waits()); d != 20*time.Second {
		t.Errorf("first wait = %v, want interval 20s", d)
	}
	clock.Advance(20 * time.Second)

	if d := waitFor(t, clock.Waits()); d != 10*time.Second {
		t.Errorf("wait after error = %v, want backoff 10s", d)
	}
	clock.Advance(10 * time.Second)

	if d := waitFor(t, clock.Waits()); d != 20*time.Second {
		t.Errorf("wait after recovery = %v, want interval 20s", d)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("cycles = %d, want 3", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop after cancel")
	}
}

func TestLoop_RecoversPanics(t *testing.T) {
	clock := NewManualClock(time.Now())
	loop := &Loop{
		Name:     "panicky",
		Interval: time.Second,
		Backoff:  5 * time.Second,
		Clock:    clock,
		Cycle: func(ctx context.Context) error {
			panic("nil match")
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	if d := waitFor(t, clock.Waits()); d != 5*time.Second {
		t.Errorf("panic should be treated as an error and back off, got wait %v", d)
	}
}

func TestLoop_DoesNotStartAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	loop := &Loop{Name: "cancelled", Clock: NewManualClock(time.Now()), Cycle: func(context.Context) error {
		ran = true
		return nil
	}}
	loop.Run(ctx)
	if ran {
		t.Errorf("cycle should not run when context is already cancelled")
	}
}
