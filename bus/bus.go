// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panekit/windowbus/lib/clock"
	"github.com/panekit/windowbus/protocol"
	"github.com/panekit/windowbus/statesync"
	"github.com/panekit/windowbus/transport"
)

// Bus is one window's endpoint on the synchronization bus. Construct
// with New, wire state with Attach and actions with HandleAction, then
// Start. Close detaches everything.
type Bus struct {
	config   Config
	host     transport.Host
	clk      clock.Clock
	logger   *slog.Logger
	adapter  *transport.Adapter
	registry *Registry

	mu       sync.Mutex
	engines  map[string]*statesync.Engine
	handlers map[string]ActionHandler
	pending  map[string]chan protocol.ActionResponsePayload
	started  bool
	closed   bool

	runCtx    context.Context
	runCancel context.CancelFunc
	cancels   []func()
	wg        sync.WaitGroup
}

// New builds a bus for one window. The config must validate; the host
// is the window-system transport the bus rides on.
func New(config Config, host transport.Host, clk clock.Clock, logger *slog.Logger) (*Bus, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("bus config: %w", err)
	}
	logger = logger.With("window", config.Label, "role", config.Role)

	b := &Bus{
		config:   config,
		host:     host,
		clk:      clk,
		logger:   logger,
		adapter:  transport.NewAdapter(host, config.Channel, config.Label, logger),
		registry: NewRegistry(time.Duration(config.HeartbeatTimeout), logger),
		engines:  make(map[string]*statesync.Engine),
		handlers: make(map[string]ActionHandler),
		pending:  make(map[string]chan protocol.ActionResponsePayload),
	}

	b.adapter.Handle(protocol.KindHandshake, b.onHandshake)
	b.adapter.Handle(protocol.KindHeartbeat, b.onHeartbeat)
	b.adapter.Handle(protocol.KindStateSync, b.onStateSync)
	b.adapter.Handle(protocol.KindActionRequest, b.onActionRequest)
	b.adapter.Handle(protocol.KindActionResponse, b.onActionResponse)
	b.adapter.Handle(protocol.KindRequestInitialState, b.onInitialStateRequest)

	return b, nil
}

// Registry exposes the live peer registry.
func (b *Bus) Registry() *Registry { return b.registry }

// OnConnect registers fn to run when a new peer window registers.
// Returns a cancel func.
func (b *Bus) OnConnect(fn func(WindowInfo)) func() { return b.registry.OnConnect(fn) }

// OnDisconnect registers fn to run when a peer window is destroyed or
// times out. Returns a cancel func.
func (b *Bus) OnDisconnect(fn func(WindowInfo)) func() { return b.registry.OnDisconnect(fn) }

// Label returns this window's label.
func (b *Bus) Label() string { return b.config.Label }

// Attach binds a store to a state key and returns its sync engine.
// Owner windows immediately announce the key with a full broadcast
// once the bus is started, so late-attached keys reach peers without
// waiting for a mutation.
func (b *Bus) Attach(key string, store *statesync.Store) (*statesync.Engine, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if _, dup := b.engines[key]; dup {
		b.mu.Unlock()
		return nil, fmt.Errorf("state key %q is already attached", key)
	}
	engine := statesync.NewEngine(key, b.config.Role, store, b.adapter, b.clk, b.logger, statesync.Config{
		DeltaThreshold: b.config.DeltaThreshold,
		Debounce:       time.Duration(b.config.Debounce),
		DisableDelta:   b.config.DisableDelta,
	})
	b.engines[key] = engine
	started := b.started
	ctx := b.runCtx
	b.mu.Unlock()

	if started {
		engine.Start(ctx)
		if b.config.Role.IsOwner() {
			if err := engine.Push(ctx, statesync.PushOptions{Full: true}); err != nil {
				return nil, fmt.Errorf("announcing state key %q: %w", key, err)
			}
		}
	}
	return engine, nil
}

// Start joins the bus: subscribes to the channel, broadcasts the
// handshake, begins heartbeating, and hooks the window system's focus
// and destroy notifications. ctx bounds everything the bus does in the
// background; Close or ctx cancellation ends it.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("bus already started")
	}
	b.started = true
	b.runCtx, b.runCancel = context.WithCancel(ctx)
	engines := b.snapshotEnginesLocked()
	b.mu.Unlock()

	if err := b.adapter.Start(); err != nil {
		return err
	}

	if err := b.sendHandshake(b.runCtx, ""); err != nil {
		return err
	}

	for _, engine := range engines {
		engine.Start(b.runCtx)
		if b.config.Role.IsOwner() {
			if err := engine.Push(b.runCtx, statesync.PushOptions{Full: true}); err != nil {
				return fmt.Errorf("announcing state key %q: %w", engine.Key(), err)
			}
		}
	}

	b.cancels = append(b.cancels,
		b.host.OnFocus(b.onFocus),
		b.host.OnDestroyed(b.registry.RecordDestroyed),
	)

	b.wg.Add(1)
	go b.heartbeatLoop(b.runCtx)

	b.logger.Info("bus started", "channel", b.config.Channel)
	return nil
}

// Close leaves the bus and releases every subscription. Safe to call
// more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	cancel := b.runCancel
	engines := b.snapshotEnginesLocked()
	cancels := b.cancels
	b.cancels = nil
	pending := b.pending
	b.pending = make(map[string]chan protocol.ActionResponsePayload)
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, fn := range cancels {
		fn()
	}
	for _, engine := range engines {
		engine.Close()
	}
	for _, ch := range pending {
		close(ch)
	}
	b.adapter.Close()
	b.wg.Wait()
	b.logger.Info("bus closed")
}

// sendHandshake announces this window. Broadcast when to is empty,
// targeted for the announce-back reply.
func (b *Bus) sendHandshake(ctx context.Context, to string) error {
	payload := protocol.HandshakePayload{
		Role:        b.config.Role,
		ComponentID: b.config.ComponentID,
	}
	envelope, err := protocol.NewEnvelope(protocol.KindHandshake, b.config.Label, to, b.clk.Now(), payload)
	if err != nil {
		return err
	}
	if err := b.adapter.Send(ctx, envelope); err != nil {
		return fmt.Errorf("sending handshake: %w", err)
	}
	return nil
}

// onHandshake registers the peer and, when the handshake was a
// broadcast, replies with a targeted handshake so the new window
// learns about us too. Replying only to broadcasts keeps the exchange
// to one round.
func (b *Bus) onHandshake(envelope protocol.Envelope) {
	payload, err := protocol.DecodePayload[protocol.HandshakePayload](envelope)
	if err != nil {
		b.logger.Warn("dropping malformed handshake", "from", envelope.From, "error", err)
		return
	}
	b.registry.RecordHandshake(envelope.From, payload, b.clk.Now())

	if envelope.To == "" {
		if err := b.sendHandshake(b.runContext(), envelope.From); err != nil {
			b.logger.Error("handshake reply failed", "peer", envelope.From, "error", err)
		}
	}
}

func (b *Bus) onHeartbeat(envelope protocol.Envelope) {
	payload, err := protocol.DecodePayload[protocol.HeartbeatPayload](envelope)
	if err != nil {
		b.logger.Warn("dropping malformed heartbeat", "from", envelope.From, "error", err)
		return
	}
	b.registry.RecordHeartbeat(envelope.From, payload.Sequence, b.clk.Now())
}

func (b *Bus) onStateSync(envelope protocol.Envelope) {
	payload, err := protocol.DecodePayload[protocol.StateSyncPayload](envelope)
	if err != nil {
		b.logger.Warn("dropping malformed state sync", "from", envelope.From, "error", err)
		return
	}

	b.mu.Lock()
	engine := b.engines[payload.StateKey]
	b.mu.Unlock()
	if engine == nil {
		b.logger.Debug("sync for unattached state key",
			"state_key", payload.StateKey, "from", envelope.From)
		return
	}

	if err := engine.Receive(b.runContext(), payload); err != nil {
		b.logger.Error("state sync rejected",
			"state_key", payload.StateKey, "from", envelope.From, "error", err)
	}
}

// heartbeatLoop broadcasts liveness every interval and sweeps the
// registry for windows gone silent.
func (b *Bus) heartbeatLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := b.clk.NewTicker(time.Duration(b.config.HeartbeatInterval))
	defer ticker.Stop()

	var sequence uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sequence++
			envelope, err := protocol.NewEnvelope(protocol.KindHeartbeat, b.config.Label, "", b.clk.Now(),
				protocol.HeartbeatPayload{Sequence: sequence})
			if err != nil {
				b.logger.Error("building heartbeat", "error", err)
				continue
			}
			if err := b.adapter.Send(ctx, envelope); err != nil {
				b.logger.Error("heartbeat send failed", "error", err)
			}
			b.registry.Sweep(b.clk.Now())
		}
	}
}

func (b *Bus) runContext() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runCtx != nil {
		return b.runCtx
	}
	return context.Background()
}

func (b *Bus) snapshotEnginesLocked() []*statesync.Engine {
	engines := make([]*statesync.Engine, 0, len(b.engines))
	for _, engine := range b.engines {
		engines = append(engines, engine)
	}
	return engines
}
