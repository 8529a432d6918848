// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panekit/windowbus/protocol"
)

// Adapter multiplexes envelopes for one window onto a single host
// channel. It filters the window's own broadcasts and anything
// targeted elsewhere, then dispatches by kind. Handlers run on the
// host's delivery goroutine and must not block for long.
type Adapter struct {
	host    Host
	channel string
	label   string
	logger  *slog.Logger

	mu       sync.Mutex
	handlers map[protocol.Kind][]func(protocol.Envelope)
	cancel   func()
}

// NewAdapter wires an adapter for the window identified by label. Call
// Start before sending; handlers may be registered at any time.
func NewAdapter(host Host, channel, label string, logger *slog.Logger) *Adapter {
	return &Adapter{
		host:     host,
		channel:  channel,
		label:    label,
		logger:   logger.With("window", label),
		handlers: make(map[protocol.Kind][]func(protocol.Envelope)),
	}
}

// Label returns the local window label.
func (a *Adapter) Label() string { return a.label }

// Handle registers fn for envelopes of the given kind. Multiple
// handlers per kind run in registration order.
func (a *Adapter) Handle(kind protocol.Kind, fn func(protocol.Envelope)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[kind] = append(a.handlers[kind], fn)
}

// Start subscribes to the host channel.
func (a *Adapter) Start() error {
	cancel, err := a.host.Listen(a.channel, a.dispatch)
	if err != nil {
		return fmt.Errorf("listening on channel %q: %w", a.channel, err)
	}
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	return nil
}

// Close unsubscribes from the host channel.
func (a *Adapter) Close() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Send delivers the envelope: targeted when To is set, broadcast
// otherwise. A vanished target is logged and dropped, not an error:
// the window is already gone and the heartbeat sweep will notice.
func (a *Adapter) Send(ctx context.Context, envelope protocol.Envelope) error {
	frame, err := envelope.Encode()
	if err != nil {
		return err
	}

	if envelope.To != "" {
		err := a.host.EmitTo(ctx, envelope.To, a.channel, frame)
		if errors.Is(err, ErrTargetNotFound) {
			a.logger.Warn("dropping message for vanished window",
				"kind", envelope.Kind, "target", envelope.To)
			return nil
		}
		if err != nil {
			return fmt.Errorf("emitting %s to %q: %w", envelope.Kind, envelope.To, err)
		}
		return nil
	}

	if err := a.host.Broadcast(ctx, a.channel, frame); err != nil {
		return fmt.Errorf("broadcasting %s: %w", envelope.Kind, err)
	}
	return nil
}

// dispatch decodes one received frame and routes it to the handlers
// for its kind. The kind set is closed; anything else is dropped with
// a warning.
func (a *Adapter) dispatch(frame []byte) {
	envelope, err := protocol.DecodeEnvelope(frame)
	if err != nil {
		a.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	// A window never processes its own broadcast, and ignores
	// envelopes addressed to someone else.
	if envelope.From == a.label {
		return
	}
	if envelope.To != "" && envelope.To != a.label {
		return
	}

	switch envelope.Kind {
	case protocol.KindHandshake,
		protocol.KindStateSync,
		protocol.KindActionRequest,
		protocol.KindActionResponse,
		protocol.KindHeartbeat,
		protocol.KindRequestInitialState:
		for _, fn := range a.handlersFor(envelope.Kind) {
			fn(envelope)
		}
	default:
		a.logger.Warn("dropping envelope of unknown kind",
			"kind", envelope.Kind, "from", envelope.From)
	}
}

func (a *Adapter) handlersFor(kind protocol.Kind) []func(protocol.Envelope) {
	a.mu.Lock()
	defer a.mu.Unlock()
	handlers := make([]func(protocol.Envelope), len(a.handlers[kind]))
	copy(handlers, a.handlers[kind])
	return handlers
}
