// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package statesync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panekit/windowbus/lib/clock"
	"github.com/panekit/windowbus/lib/patch"
	"github.com/panekit/windowbus/protocol"
)

// Sender is the slice of the transport adapter the engine needs.
type Sender interface {
	// Label returns the local window label, used as the envelope sender.
	Label() string

	// Send delivers one envelope: targeted when To is set, broadcast
	// otherwise.
	Send(ctx context.Context, envelope protocol.Envelope) error
}

// Config tunes one engine.
type Config struct {
	// DeltaThreshold is the fraction of the full snapshot size a
	// serialized patch must stay under to be worth sending as a delta.
	// A patch at or above the threshold falls back to a full sync.
	DeltaThreshold float64

	// Debounce is the quiet period applied to local mutations before
	// a push.
	Debounce time.Duration

	// DisableDelta forces every push to carry a full snapshot.
	DisableDelta bool
}

// DefaultConfig returns the stock engine tuning: deltas below half the
// snapshot size, 100ms debounce.
func DefaultConfig() Config {
	return Config{
		DeltaThreshold: 0.5,
		Debounce:       100 * time.Millisecond,
	}
}

// PushOptions controls one push.
type PushOptions struct {
	// Full forces a full snapshot instead of a delta.
	Full bool

	// Target addresses the sync at one window instead of broadcasting.
	Target string

	// Silent suppresses the send log. Used by the reconnection
	// coordinator, which rebroadcasts every key at once and should not
	// flood the log. The version still advances: a resync that kept
	// its old version would be discarded by every receiver.
	Silent bool
}

// Engine synchronizes one state key for one window. Owner windows run
// the watching half (mutation → debounce → push); every window runs
// the receiving half (validate version, apply, guard against echo).
//
// The engine's per-key record is the pair (version, lastSynced):
// version is the last version sent or accepted, lastSynced the
// snapshot it corresponds to, which later diffs are computed against.
type Engine struct {
	key    string
	role   protocol.Role
	store  *Store
	sender Sender
	clk    clock.Clock
	logger *slog.Logger
	config Config

	mu         sync.Mutex
	version    uint64
	lastSynced json.RawMessage

	// applying is non-zero while an incoming sync is being written to
	// the store. The watcher skips scheduling a push for mutations it
	// observes during that window, preventing a received update from
	// echoing straight back onto the bus. Store watchers run
	// synchronously, so the guard drops exactly when the propagation
	// for that apply has completed.
	applying atomic.Int32

	// applyEpoch counts external applies, for diagnostics.
	applyEpoch atomic.Uint64

	debounce *Debouncer
	unwatch  func()
	pushCtx  context.Context
}

// NewEngine builds an engine for one state key. Call Start to begin
// watching (owners) and Close to detach.
func NewEngine(key string, role protocol.Role, store *Store, sender Sender, clk clock.Clock, logger *slog.Logger, config Config) *Engine {
	if config.DeltaThreshold <= 0 {
		config.DeltaThreshold = DefaultConfig().DeltaThreshold
	}
	return &Engine{
		key:    key,
		role:   role,
		store:  store,
		sender: sender,
		clk:    clk,
		logger: logger.With("state_key", key),
		config: config,
	}
}

// Key returns the engine's state key.
func (e *Engine) Key() string { return e.key }

// Version returns the last version sent or accepted.
func (e *Engine) Version() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// Start begins watching the store for local mutations. Only owner
// roles watch; on consumer windows Start is a no-op and the engine
// only receives. ctx bounds the sends triggered by debounced pushes.
func (e *Engine) Start(ctx context.Context) {
	if !e.role.IsOwner() {
		return
	}
	e.pushCtx = ctx
	e.debounce = NewDebouncer(e.clk, e.config.Debounce, e.debouncedPush)
	e.unwatch = e.store.Watch(e.onMutation)
}

// Close detaches the engine from its store and drops any pending
// debounced push.
func (e *Engine) Close() {
	if e.unwatch != nil {
		e.unwatch()
		e.unwatch = nil
	}
	if e.debounce != nil {
		e.debounce.Cancel()
	}
}

// onMutation runs synchronously inside every store mutation.
func (e *Engine) onMutation() {
	if e.applying.Load() > 0 {
		// This mutation is an incoming sync being applied, not a
		// local edit. Pushing it would echo it back to its sender.
		return
	}
	e.debounce.Schedule()
}

// debouncedPush runs when the quiet period elapses.
func (e *Engine) debouncedPush() {
	if err := e.Push(e.pushCtx, PushOptions{}); err != nil {
		e.logger.Error("debounced push failed", "error", err)
	}
}

// ManualPush bypasses the debounce for callers that need an immediate
// full sync, such as explicit user actions.
func (e *Engine) ManualPush(ctx context.Context) error {
	if e.debounce != nil {
		e.debounce.Cancel()
	}
	return e.Push(ctx, PushOptions{Full: true})
}

// Push reads the current snapshot and sends it, as a delta when one is
// available and worth it, as a full sync otherwise. An empty diff is a
// no-op: nothing is sent and the version does not advance.
func (e *Engine) Push(ctx context.Context, options PushOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.store.Raw()

	full := options.Full || e.config.DisableDelta || e.lastSynced == nil || current == nil
	var delta json.RawMessage
	if !full {
		diff, err := patch.Diff(e.lastSynced, current)
		if err != nil {
			return fmt.Errorf("diffing %q: %w", e.key, err)
		}
		if diff == nil {
			return nil
		}
		// A delta close to the snapshot's own size is not worth the
		// protocol overhead.
		if float64(len(diff)) >= e.config.DeltaThreshold*float64(len(current)) {
			full = true
		} else {
			delta = diff
		}
	}

	payload := protocol.StateSyncPayload{
		StateKey: e.key,
		Version:  e.version + 1,
		Full:     full,
	}
	if full {
		payload.Data = current
	} else {
		payload.Patch = delta
	}

	envelope, err := protocol.NewEnvelope(protocol.KindStateSync, e.sender.Label(), options.Target, e.clk.Now(), payload)
	if err != nil {
		return err
	}
	if err := e.sender.Send(ctx, envelope); err != nil {
		return fmt.Errorf("sending sync for %q: %w", e.key, err)
	}

	e.version = payload.Version
	e.lastSynced = current
	if !options.Silent {
		e.logger.Debug("state pushed",
			"version", payload.Version, "full", full, "target", options.Target)
	}
	return nil
}

// Receive validates and applies one incoming sync. Payloads for other
// keys are ignored; versions at or below the last applied one are
// discarded silently. When the incoming value is structurally equal to
// the local one, only the version bookkeeping moves, avoiding a
// redundant downstream update.
func (e *Engine) Receive(_ context.Context, payload protocol.StateSyncPayload) error {
	if payload.StateKey != e.key {
		return nil
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("invalid sync payload: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if payload.Version <= e.version {
		e.logger.Debug("discarding stale sync",
			"version", payload.Version, "local_version", e.version)
		return nil
	}

	current := e.store.Raw()

	var next json.RawMessage
	if payload.Full {
		next = payload.Data
	} else {
		if current == nil {
			return fmt.Errorf("delta sync for %q arrived before any snapshot", e.key)
		}
		patched, err := patch.Apply(current, payload.Patch)
		if err != nil {
			// No automatic full resync here; the caller decides. The
			// store keeps the last good value.
			e.logger.Error("patch apply failed, keeping last good state",
				"version", payload.Version, "error", err)
			return fmt.Errorf("applying sync patch for %q: %w", e.key, err)
		}
		next = patched
	}

	if current != nil && patch.Equal(next, current) {
		e.version = payload.Version
		e.lastSynced = next
		return nil
	}

	e.applyEpoch.Add(1)
	e.applying.Add(1)
	e.store.SetRaw(next)
	e.applying.Add(-1)

	e.version = payload.Version
	e.lastSynced = next
	return nil
}

// ApplyEpoch returns the number of external syncs applied to the
// store. Diagnostic only.
func (e *Engine) ApplyEpoch() uint64 { return e.applyEpoch.Load() }
