package scheduler

import (
	"sync"
	"time"
)

// ManualClock is a Clock whose waits only complete when Advance is called.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
	waitCh  chan time.Duration
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start, waitCh: make(chan time.Duration, 64)}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, waiter{deadline: c.now.Add(d), ch: ch})
	c.mu.Unlock()

	select {
	case c.waitCh <- d:
	default:
	}
	return ch
}

// Waits delivers the duration of every After call, letting a test block until the loop idles.
func (c *ManualClock) Waits() <-chan time.Duration {
	return c.waitCh
}

// Advance moves time forward and fires every wait whose deadline has passed.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	remaining := c.waiters[:0]
	var fire []waiter
	for _, w := range c.waiters {
		if !w.deadline.After(c.now) {
			fire = append(fire, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	now := c.now
	c.mu.Unlock()

	for _, w := range fire {
		w.ch <- now
	}
}
