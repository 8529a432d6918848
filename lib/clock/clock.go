// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time surface the bus depends on. Anything that would call
// time.Now, time.After, time.AfterFunc, or time.NewTicker takes a Clock
// instead.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once duration d has
	// elapsed. A non-positive d fires immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc schedules f to run after duration d and returns a
	// Timer whose Stop cancels the pending call. A non-positive d runs
	// f before AfterFunc returns (fake) or in a new goroutine (real).
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering on its C channel every d.
	// Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C. The channel has capacity 1; ticks
// the consumer misses are dropped, matching time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Timer is a pending AfterFunc call. C is always nil; the timer exists
// only to be stopped or reset.
type Timer struct {
	stop  func() bool
	reset func(time.Duration) bool
}

// Stop cancels the pending call. Returns false if the timer already
// fired or was stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Reset re-arms the timer to fire after d. Returns true if the timer
// was still pending.
func (t *Timer) Reset(d time.Duration) bool { return t.reset(d) }
