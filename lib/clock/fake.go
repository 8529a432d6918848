// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock pinned to the given time. Nothing fires until
// Advance moves the clock past a deadline.
//
// FakeClock is safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// FakeClock is a deterministic Clock for tests. AfterFunc callbacks run
// synchronously inside Advance, in deadline order. Do not call Advance
// from within a callback; that deadlocks.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	pending []*pendingTimer
	changed *sync.Cond
}

// pendingTimer is one scheduled After, AfterFunc, or Ticker deadline.
type pendingTimer struct {
	deadline time.Time
	ch       chan time.Time // After and Ticker
	fn       func()         // AfterFunc
	period   time.Duration  // non-zero for tickers; rescheduled on fire
	stopped  bool
	fired    bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that fires when the clock advances past d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.pending = append(c.pending, &pendingTimer{deadline: c.current.Add(d), ch: ch})
	c.changed.Broadcast()
	return ch
}

// AfterFunc schedules f to run when the clock advances past d. With
// d <= 0, f runs synchronously before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	if d <= 0 {
		c.mu.Unlock()
		f()
		return &Timer{
			stop:  func() bool { return false },
			reset: func(time.Duration) bool { return false },
		}
	}
	defer c.mu.Unlock()

	p := &pendingTimer{deadline: c.current.Add(d), fn: f}
	c.pending = append(c.pending, p)
	c.changed.Broadcast()

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if p.stopped || p.fired {
				return false
			}
			p.stopped = true
			return true
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			active := !p.stopped && !p.fired
			p.stopped = false
			p.fired = false
			p.deadline = c.current.Add(d)
			if !active {
				// Fired timers were dropped from the pending list;
				// re-add so the reset arms it again.
				c.pending = append(c.pending, p)
				c.changed.Broadcast()
			}
			return active
		},
	}
}

// NewTicker returns a Ticker that fires once per interval as the clock
// advances. An Advance spanning several intervals fires once per
// interval; overflowing ticks are dropped.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	p := &pendingTimer{deadline: c.current.Add(d), ch: ch, period: d}
	c.pending = append(c.pending, p)
	c.changed.Broadcast()

	return &Ticker{
		C: ch,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			p.stopped = true
		},
	}
}

// Advance moves the clock forward by d and fires every pending timer
// whose deadline falls within the new time, in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		expired := c.takeExpired(target)
		if len(expired) == 0 {
			return
		}
		sort.Slice(expired, func(i, j int) bool {
			return expired[i].deadline.Before(expired[j].deadline)
		})
		for _, p := range expired {
			if p.fn != nil {
				p.fn()
				continue
			}
			select {
			case p.ch <- target:
			default:
			}
		}
	}
}

// takeExpired removes timers due at or before target from the pending
// list, rescheduling tickers for their next interval.
func (c *FakeClock) takeExpired(target time.Time) []*pendingTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired, remaining []*pendingTimer
	for _, p := range c.pending {
		if p.stopped {
			continue
		}
		if p.deadline.After(target) {
			remaining = append(remaining, p)
			continue
		}
		expired = append(expired, p)
	}
	for _, p := range expired {
		if p.period > 0 {
			p.deadline = p.deadline.Add(p.period)
			remaining = append(remaining, p)
		} else {
			p.fired = true
		}
	}
	c.pending = remaining
	return expired
}

// WaitForPending blocks until at least n timers are scheduled. Closes
// the race between a goroutine arming a timer and the test advancing
// the clock.
func (c *FakeClock) WaitForPending(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of armed timers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *FakeClock) activeLocked() int {
	n := 0
	for _, p := range c.pending {
		if !p.stopped {
			n++
		}
	}
	return n
}
