// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package statesync

import (
	"sync"
	"time"

	"github.com/panekit/windowbus/lib/clock"
)

// Debouncer coalesces bursts of Schedule calls into one invocation of
// fn after a quiet period. It is the explicit scheduled-task shape of
// the coalescing the engine needs: schedule, cancel, and flush are all
// first-class so tests can drive it on a fake clock.
type Debouncer struct {
	clk   clock.Clock
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *clock.Timer
	pending bool
}

// NewDebouncer creates a debouncer invoking fn after delay of quiet.
func NewDebouncer(clk clock.Clock, delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{clk: clk, delay: delay, fn: fn}
}

// Schedule arms (or re-arms) the quiet-period timer. Calls landing
// inside the window push the deadline out; fn runs once when it
// finally elapses.
func (d *Debouncer) Schedule() {
	if d.delay <= 0 {
		// No quiet period configured; run inline.
		d.fn()
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending {
		d.timer.Reset(d.delay)
		return
	}
	d.pending = true
	d.timer = d.clk.AfterFunc(d.delay, d.fire)
}

// Cancel drops any pending invocation.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending {
		d.timer.Stop()
		d.pending = false
	}
}

// Flush runs fn immediately if an invocation is pending, instead of
// waiting out the quiet period.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	d.timer.Stop()
	d.pending = false
	d.mu.Unlock()
	d.fn()
}

// fire runs on the clock's timer goroutine.
func (d *Debouncer) fire() {
	d.mu.Lock()
	if !d.pending {
		// Cancelled between the timer firing and this running.
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()
	d.fn()
}
