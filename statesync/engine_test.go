// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package statesync

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/panekit/windowbus/lib/clock"
	"github.com/panekit/windowbus/lib/patch"
	"github.com/panekit/windowbus/protocol"
)

var engineEpoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureSender records every envelope the engine sends.
type captureSender struct {
	label string
	sent  chan protocol.Envelope
}

func newCaptureSender(label string) *captureSender {
	return &captureSender{label: label, sent: make(chan protocol.Envelope, 16)}
}

func (s *captureSender) Label() string { return s.label }

func (s *captureSender) Send(_ context.Context, envelope protocol.Envelope) error {
	s.sent <- envelope
	return nil
}

func (s *captureSender) take(t *testing.T) protocol.StateSyncPayload {
	t.Helper()
	select {
	case envelope := <-s.sent:
		payload, err := protocol.DecodePayload[protocol.StateSyncPayload](envelope)
		if err != nil {
			t.Fatalf("DecodePayload: %v", err)
		}
		return payload
	default:
		t.Fatal("no envelope was sent")
	}
	panic("unreachable")
}

func (s *captureSender) expectNone(t *testing.T) {
	t.Helper()
	select {
	case envelope := <-s.sent:
		t.Fatalf("unexpected envelope sent: kind=%s", envelope.Kind)
	default:
	}
}

func ownerEngine(t *testing.T, initial any, config Config) (*Engine, *Store, *captureSender, *clock.FakeClock) {
	t.Helper()
	store, err := NewStore(initial)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	sender := newCaptureSender("main")
	clk := clock.Fake(engineEpoch)
	engine := NewEngine("settings", protocol.RoleOwnerPrimary, store, sender, clk, discard(), config)
	engine.Start(context.Background())
	t.Cleanup(engine.Close)
	return engine, store, sender, clk
}

func TestPushWithoutBaselineSendsFull(t *testing.T) {
	engine, _, sender, _ := ownerEngine(t, map[string]int{"counter": 5}, DefaultConfig())

	if err := engine.Push(context.Background(), PushOptions{}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	payload := sender.take(t)
	if !payload.Full {
		t.Error("first push Full = false, want true")
	}
	if payload.Version != 1 {
		t.Errorf("Version = %d, want 1", payload.Version)
	}
	if !patch.Equal(payload.Data, []byte(`{"counter":5}`)) {
		t.Errorf("Data = %s, want {\"counter\":5}", payload.Data)
	}
}

func TestPushEmptyDiffIsNoOp(t *testing.T) {
	engine, _, sender, _ := ownerEngine(t, map[string]int{"counter": 5}, DefaultConfig())

	if err := engine.Push(context.Background(), PushOptions{}); err != nil {
		t.Fatalf("baseline Push: %v", err)
	}
	sender.take(t)

	// Nothing changed since the baseline: no message, no version bump.
	if err := engine.Push(context.Background(), PushOptions{}); err != nil {
		t.Fatalf("second Push: %v", err)
	}
	sender.expectNone(t)
	if got := engine.Version(); got != 1 {
		t.Fatalf("Version = %d, want 1", got)
	}
}

// wideValue is a snapshot large enough that a single-field patch is
// clearly below the delta threshold.
func wideValue(counter int) map[string]any {
	return map[string]any{
		"counter":     counter,
		"title":       "detached panel window synchronization",
		"description": "holds enough text that one changed field stays a cheap delta",
		"tags":        []string{"alpha", "beta", "gamma", "delta", "epsilon"},
		"theme":       map[string]string{"mode": "dark", "accent": "#7044ff"},
	}
}

func TestPushSmallChangeSendsDelta(t *testing.T) {
	engine, store, sender, _ := ownerEngine(t, wideValue(5), DefaultConfig())

	if err := engine.Push(context.Background(), PushOptions{}); err != nil {
		t.Fatalf("baseline Push: %v", err)
	}
	sender.take(t)

	if err := store.Set(wideValue(12)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// The watcher scheduled a debounced push; push directly to keep
	// the test synchronous.
	if err := engine.Push(context.Background(), PushOptions{}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	payload := sender.take(t)
	if payload.Full {
		t.Fatal("small change sent as full sync, want delta")
	}
	if payload.Version != 2 {
		t.Errorf("Version = %d, want 2", payload.Version)
	}
	if float64(len(payload.Patch)) >= 0.5*float64(len(store.Raw())) {
		t.Errorf("patch size %d is not under half the snapshot size %d",
			len(payload.Patch), len(store.Raw()))
	}
}

func TestPushLargeChangeFallsBackToFull(t *testing.T) {
	engine, store, sender, _ := ownerEngine(t, wideValue(5), DefaultConfig())

	if err := engine.Push(context.Background(), PushOptions{}); err != nil {
		t.Fatalf("baseline Push: %v", err)
	}
	sender.take(t)

	// Rewrite essentially every field: the patch cannot be smaller
	// than half the snapshot.
	if err := store.Set(map[string]any{
		"counter":     99,
		"title":       "completely different content in every single field",
		"description": "rewriting the whole document makes any patch as big as the snapshot itself",
		"tags":        []string{"one", "two", "three", "four", "five"},
		"theme":       map[string]string{"mode": "light", "accent": "#00ff44"},
	}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := engine.Push(context.Background(), PushOptions{}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	payload := sender.take(t)
	if !payload.Full {
		t.Fatal("wholesale rewrite sent as delta, want full sync")
	}
}

func TestPushForceFullSkipsDiff(t *testing.T) {
	engine, _, sender, _ := ownerEngine(t, wideValue(5), DefaultConfig())

	if err := engine.Push(context.Background(), PushOptions{}); err != nil {
		t.Fatalf("baseline Push: %v", err)
	}
	sender.take(t)

	// Even with no change at all, a forced push sends a full snapshot.
	if err := engine.Push(context.Background(), PushOptions{Full: true, Silent: true}); err != nil {
		t.Fatalf("forced Push: %v", err)
	}
	payload := sender.take(t)
	if !payload.Full {
		t.Fatal("forced push Full = false, want true")
	}
	if payload.Version != 2 {
		t.Errorf("Version = %d, want 2", payload.Version)
	}
}

func TestPushTargeted(t *testing.T) {
	engine, _, sender, _ := ownerEngine(t, wideValue(5), DefaultConfig())

	if err := engine.Push(context.Background(), PushOptions{Full: true, Target: "tool-1"}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	envelope := <-sender.sent
	if envelope.To != "tool-1" {
		t.Fatalf("To = %q, want tool-1", envelope.To)
	}
}

func TestDisableDeltaAlwaysSendsFull(t *testing.T) {
	config := DefaultConfig()
	config.DisableDelta = true
	engine, store, sender, _ := ownerEngine(t, wideValue(5), config)

	if err := engine.Push(context.Background(), PushOptions{}); err != nil {
		t.Fatalf("baseline Push: %v", err)
	}
	sender.take(t)

	if err := store.Set(wideValue(6)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := engine.Push(context.Background(), PushOptions{}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if payload := sender.take(t); !payload.Full {
		t.Fatal("delta-disabled push Full = false, want true")
	}
}

func TestDebounceCoalescesMutations(t *testing.T) {
	engine, store, sender, clk := ownerEngine(t, wideValue(0), DefaultConfig())

	if err := engine.Push(context.Background(), PushOptions{}); err != nil {
		t.Fatalf("baseline Push: %v", err)
	}
	sender.take(t)

	// Three mutations inside the quiet period produce one push.
	store.Set(wideValue(1))
	clk.Advance(40 * time.Millisecond)
	store.Set(wideValue(2))
	clk.Advance(40 * time.Millisecond)
	store.Set(wideValue(3))

	sender.expectNone(t)

	clk.Advance(99 * time.Millisecond)
	sender.expectNone(t)
	clk.Advance(time.Millisecond)

	payload := sender.take(t)
	if payload.Version != 2 {
		t.Errorf("Version = %d, want 2", payload.Version)
	}
	sender.expectNone(t)
}

func TestManualPushBypassesDebounce(t *testing.T) {
	engine, store, sender, clk := ownerEngine(t, wideValue(0), DefaultConfig())

	store.Set(wideValue(1))
	sender.expectNone(t)

	if err := engine.ManualPush(context.Background()); err != nil {
		t.Fatalf("ManualPush: %v", err)
	}
	if payload := sender.take(t); !payload.Full {
		t.Fatal("ManualPush Full = false, want true")
	}

	// The pending debounced push was cancelled; nothing further.
	clk.Advance(time.Second)
	sender.expectNone(t)
}

func consumerEngine(t *testing.T, initial any) (*Engine, *Store, *captureSender) {
	t.Helper()
	store, err := NewStore(initial)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	sender := newCaptureSender("widget-1")
	engine := NewEngine("settings", protocol.RoleConsumer, store, sender, clock.Fake(engineEpoch), discard(), DefaultConfig())
	engine.Start(context.Background())
	t.Cleanup(engine.Close)
	return engine, store, sender
}

func fullSync(version uint64, data string) protocol.StateSyncPayload {
	return protocol.StateSyncPayload{
		StateKey: "settings",
		Version:  version,
		Full:     true,
		Data:     json.RawMessage(data),
	}
}

func deltaSync(version uint64, ops string) protocol.StateSyncPayload {
	return protocol.StateSyncPayload{
		StateKey: "settings",
		Version:  version,
		Patch:    json.RawMessage(ops),
	}
}

func TestReceiveFullReplacesValue(t *testing.T) {
	engine, store, _ := consumerEngine(t, nil)

	if err := engine.Receive(context.Background(), fullSync(1, `{"counter":5}`)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !patch.Equal(store.Raw(), []byte(`{"counter":5}`)) {
		t.Fatalf("store = %s, want {\"counter\":5}", store.Raw())
	}
	if got := engine.Version(); got != 1 {
		t.Fatalf("Version = %d, want 1", got)
	}
}

func TestReceiveDeltaAppliesPatch(t *testing.T) {
	engine, store, _ := consumerEngine(t, nil)

	if err := engine.Receive(context.Background(), fullSync(1, `{"counter":5}`)); err != nil {
		t.Fatalf("Receive full: %v", err)
	}
	if err := engine.Receive(context.Background(),
		deltaSync(2, `[{"op":"replace","path":"/counter","value":12}]`)); err != nil {
		t.Fatalf("Receive delta: %v", err)
	}

	if !patch.Equal(store.Raw(), []byte(`{"counter":12}`)) {
		t.Fatalf("store = %s, want {\"counter\":12}", store.Raw())
	}
	if got := engine.Version(); got != 2 {
		t.Fatalf("Version = %d, want 2", got)
	}
}

func TestReceiveStaleVersionDiscarded(t *testing.T) {
	engine, store, _ := consumerEngine(t, nil)

	engine.Receive(context.Background(), fullSync(1, `{"counter":5}`))
	engine.Receive(context.Background(), deltaSync(2, `[{"op":"replace","path":"/counter","value":12}]`))

	// A reordered duplicate of version 1 arrives late.
	if err := engine.Receive(context.Background(), fullSync(1, `{"counter":5}`)); err != nil {
		t.Fatalf("Receive stale: %v", err)
	}
	if !patch.Equal(store.Raw(), []byte(`{"counter":12}`)) {
		t.Fatalf("stale payload changed state: %s", store.Raw())
	}
	if got := engine.Version(); got != 2 {
		t.Fatalf("Version = %d, want 2", got)
	}

	// Equal version is just as stale.
	if err := engine.Receive(context.Background(), fullSync(2, `{"counter":99}`)); err != nil {
		t.Fatalf("Receive equal version: %v", err)
	}
	if !patch.Equal(store.Raw(), []byte(`{"counter":12}`)) {
		t.Fatalf("equal-version payload changed state: %s", store.Raw())
	}
}

func TestReceiveEqualValueSkipsStoreUpdate(t *testing.T) {
	engine, store, _ := consumerEngine(t, map[string]int{"counter": 5})

	updates := 0
	store.Watch(func() { updates++ })

	// Same structural value, different key order and version.
	if err := engine.Receive(context.Background(), fullSync(3, `{"counter":5}`)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if updates != 0 {
		t.Fatalf("store updates = %d, want 0 (value unchanged)", updates)
	}
	if got := engine.Version(); got != 3 {
		t.Fatalf("Version = %d, want 3 (bookkeeping must still advance)", got)
	}
}

func TestReceiveBadPatchKeepsLastGoodState(t *testing.T) {
	engine, store, _ := consumerEngine(t, nil)

	engine.Receive(context.Background(), fullSync(1, `{"counter":5}`))

	err := engine.Receive(context.Background(),
		deltaSync(2, `[{"op":"remove","path":"/missing/deep"}]`))
	if err == nil {
		t.Fatal("Receive with inapplicable patch succeeded, want error")
	}
	if !patch.Equal(store.Raw(), []byte(`{"counter":5}`)) {
		t.Fatalf("store = %s, want last good {\"counter\":5}", store.Raw())
	}
	if got := engine.Version(); got != 1 {
		t.Fatalf("Version = %d, want 1 (failed apply must not advance)", got)
	}
}

func TestReceiveIgnoresOtherKeys(t *testing.T) {
	engine, store, _ := consumerEngine(t, map[string]int{"counter": 5})

	payload := protocol.StateSyncPayload{
		StateKey: "chat", Version: 9, Full: true, Data: json.RawMessage(`{"messages":[]}`),
	}
	if err := engine.Receive(context.Background(), payload); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !patch.Equal(store.Raw(), []byte(`{"counter":5}`)) {
		t.Fatalf("foreign key mutated store: %s", store.Raw())
	}
	if got := engine.Version(); got != 0 {
		t.Fatalf("Version = %d, want 0", got)
	}
}

func TestReceiveDoesNotEchoBackOntoBus(t *testing.T) {
	// An owner-secondary window both watches and receives. Applying an
	// incoming sync mutates the store; the watcher must not turn that
	// into an outgoing push.
	store, err := NewStore(nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	sender := newCaptureSender("tool-1")
	clk := clock.Fake(engineEpoch)
	engine := NewEngine("settings", protocol.RoleOwnerSecondary, store, sender, clk, discard(), DefaultConfig())
	engine.Start(context.Background())
	defer engine.Close()

	if err := engine.Receive(context.Background(), fullSync(5, `{"counter":41}`)); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got := engine.ApplyEpoch(); got != 1 {
		t.Fatalf("ApplyEpoch = %d, want 1", got)
	}

	clk.Advance(time.Second)
	sender.expectNone(t)

	// A real local mutation afterwards still pushes.
	if err := store.Set(map[string]int{"counter": 42}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	clk.Advance(200 * time.Millisecond)
	payload := sender.take(t)
	if payload.Version != 6 {
		t.Errorf("Version = %d, want 6 (continues after applied version 5)", payload.Version)
	}
}

func TestConsumerDoesNotWatchMutations(t *testing.T) {
	_, store, sender := consumerEngine(t, map[string]int{"counter": 5})

	if err := store.Set(map[string]int{"counter": 6}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	sender.expectNone(t)
}
