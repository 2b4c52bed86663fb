package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Clock abstracts waiting so tests can drive loops without wall-clock delays.
type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

type realClock struct{}

// RealClock waits on the wall clock.
func RealClock() Clock { return realClock{} }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (realClock) Now() time.Time                         { return time.Now() }

// CycleFunc runs one round of work. A returned error selects the backoff interval.
type CycleFunc func(ctx context.Context) error

// Loop runs Cycle, then idles for Interval (or Backoff after an error) until the context
// is cancelled. Cancellation is observed before each cycle and while idle; a running cycle
// is never preempted by the loop itself.
type Loop struct {
	Name     string
	Interval time.Duration
	Backoff  time.Duration
	Clock    Clock
	Cycle    CycleFunc
	// OnCycle is called after every cycle, e.g. to record metrics.
	OnCycle func(d time.Duration, err error)
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	clock := l.Clock
	if clock == nil {
		clock = RealClock()
	}

	slog.Info("Loop started", "loop", l.Name, "interval", l.Interval, "backoff", l.Backoff)
	cycles := 0
	for {
		if ctx.Err() != nil {
			slog.Info("Loop stopped", "loop", l.Name, "total_cycles", cycles)
			return
		}

		cycles++
		start := clock.Now()
		err := l.runCycle(ctx)
		elapsed := clock.Now().Sub(start)
		if l.OnCycle != nil {
			l.OnCycle(elapsed, err)
		}

		wait := l.Interval
		if err != nil {
			wait = l.Backoff
			slog.Error("Loop cycle failed", "loop", l.Name, "cycle", cycles, "error", err, "backoff", wait)
		} else {
			slog.Debug("Loop cycle finished", "loop", l.Name, "cycle", cycles, "duration", elapsed)
		}

		select {
		case <-ctx.Done():
			slog.Info("Loop stopped", "loop", l.Name, "total_cycles", cycles)
			return
		case <-clock.After(wait):
		}
	}
}

func (l *Loop) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s cycle: %v", l.Name, r)
		}
	}()
	return l.Cycle(ctx)
}
