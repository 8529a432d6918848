// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package statesync

import (
	"testing"
	"time"

	"github.com/panekit/windowbus/lib/clock"
)

var debounceEpoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func TestDebouncerCoalescesBurst(t *testing.T) {
	clk := clock.Fake(debounceEpoch)
	calls := 0
	debouncer := NewDebouncer(clk, 100*time.Millisecond, func() { calls++ })

	debouncer.Schedule()
	clk.Advance(50 * time.Millisecond)
	debouncer.Schedule()
	clk.Advance(50 * time.Millisecond)
	debouncer.Schedule()

	if calls != 0 {
		t.Fatalf("fn ran %d times during the burst, want 0", calls)
	}

	clk.Advance(100 * time.Millisecond)
	if calls != 1 {
		t.Fatalf("fn ran %d times after quiet period, want 1", calls)
	}

	clk.Advance(time.Second)
	if calls != 1 {
		t.Fatalf("fn ran %d times with nothing scheduled, want 1", calls)
	}
}

func TestDebouncerCancel(t *testing.T) {
	clk := clock.Fake(debounceEpoch)
	calls := 0
	debouncer := NewDebouncer(clk, 100*time.Millisecond, func() { calls++ })

	debouncer.Schedule()
	debouncer.Cancel()
	clk.Advance(time.Second)

	if calls != 0 {
		t.Fatalf("fn ran %d times after Cancel, want 0", calls)
	}
}

func TestDebouncerFlush(t *testing.T) {
	clk := clock.Fake(debounceEpoch)
	calls := 0
	debouncer := NewDebouncer(clk, 100*time.Millisecond, func() { calls++ })

	debouncer.Flush()
	if calls != 0 {
		t.Fatalf("Flush with nothing pending ran fn %d times, want 0", calls)
	}

	debouncer.Schedule()
	debouncer.Flush()
	if calls != 1 {
		t.Fatalf("fn ran %d times after Flush, want 1", calls)
	}

	clk.Advance(time.Second)
	if calls != 1 {
		t.Fatalf("fn ran %d times after flushed timer elapsed, want 1", calls)
	}
}

func TestDebouncerZeroDelayRunsInline(t *testing.T) {
	clk := clock.Fake(debounceEpoch)
	calls := 0
	debouncer := NewDebouncer(clk, 0, func() { calls++ })

	debouncer.Schedule()
	if calls != 1 {
		t.Fatalf("fn ran %d times, want 1", calls)
	}
}
