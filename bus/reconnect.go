// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"github.com/panekit/windowbus/protocol"
	"github.com/panekit/windowbus/statesync"
)

// onFocus runs when the window system reports a focus change. Focus
// regain is the bus's reconnection trigger: a window coming back to
// the foreground may have slept through syncs, so it resynchronizes.
// The two sides are asymmetric. An owner re-publishes everything it
// holds, silently, so peers that missed updates catch up without the
// owner knowing who they are. A consumer has nothing to publish and
// instead asks the owners for fresh snapshots of the keys it follows.
func (b *Bus) onFocus(label string) {
	if label != b.config.Label {
		return
	}

	ctx := b.runContext()

	if b.config.Role.IsOwner() {
		b.mu.Lock()
		engines := b.snapshotEnginesLocked()
		b.mu.Unlock()
		for _, engine := range engines {
			if err := engine.Push(ctx, statesync.PushOptions{Full: true, Silent: true}); err != nil {
				b.logger.Error("focus resync failed",
					"state_key", engine.Key(), "error", err)
			}
		}
		b.logger.Debug("focus regained, state rebroadcast", "keys", len(engines))
		return
	}

	b.mu.Lock()
	keys := make([]string, 0, len(b.engines))
	for key := range b.engines {
		keys = append(keys, key)
	}
	b.mu.Unlock()

	envelope, err := protocol.NewEnvelope(protocol.KindRequestInitialState, b.config.Label, "", b.clk.Now(),
		protocol.RequestInitialStatePayload{StateKeys: keys})
	if err != nil {
		b.logger.Error("building initial-state request", "error", err)
		return
	}
	if err := b.adapter.Send(ctx, envelope); err != nil {
		b.logger.Error("initial-state request failed", "error", err)
	}
}

// onInitialStateRequest answers a consumer's resync request with
// targeted full snapshots for every requested key this window owns.
// Only owners answer; the pushes are silent and targeted so the rest
// of the bus sees no traffic.
func (b *Bus) onInitialStateRequest(envelope protocol.Envelope) {
	if !b.config.Role.IsOwner() {
		return
	}

	payload, err := protocol.DecodePayload[protocol.RequestInitialStatePayload](envelope)
	if err != nil {
		b.logger.Warn("dropping malformed initial-state request",
			"from", envelope.From, "error", err)
		return
	}

	b.mu.Lock()
	var engines []*statesync.Engine
	if len(payload.StateKeys) == 0 {
		engines = b.snapshotEnginesLocked()
	} else {
		for _, key := range payload.StateKeys {
			if engine, ok := b.engines[key]; ok {
				engines = append(engines, engine)
			}
		}
	}
	b.mu.Unlock()

	ctx := b.runContext()
	for _, engine := range engines {
		options := statesync.PushOptions{Full: true, Target: envelope.From, Silent: true}
		if err := engine.Push(ctx, options); err != nil {
			b.logger.Error("initial-state push failed",
				"state_key", engine.Key(), "requester", envelope.From, "error", err)
		}
	}
}
