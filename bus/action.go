// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/panekit/windowbus/protocol"
)

// ActionHandler runs one named action. The returned value is
// serialized into the response; a returned error crosses the window
// boundary as an {ok:false, error} response, never as a panic or a
// dropped request.
type ActionHandler func(ctx context.Context, params json.RawMessage) (any, error)

// RequestOptions tunes one action request.
type RequestOptions struct {
	// Timeout overrides the configured default wait for a response.
	Timeout time.Duration

	// IdempotencyKey is passed through to the handler so it can
	// recognize a caller-level retry. The bus never retries on its own.
	IdempotencyKey string
}

// HandleAction registers the handler for a named action. Exactly one
// window on the bus should handle each action; the bus enforces that
// locally by rejecting duplicates.
func (b *Bus) HandleAction(action string, handler ActionHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if _, dup := b.handlers[action]; dup {
		return fmt.Errorf("action %q already has a handler", action)
	}
	b.handlers[action] = handler
	return nil
}

// RequestAction broadcasts an action request and waits for the
// response from whichever window holds the handler. There is no
// automatic retry: on timeout the caller gets ErrActionTimeout and
// decides. A handler failure surfaces as an *ActionError.
func (b *Bus) RequestAction(ctx context.Context, action string, params any, options RequestOptions) (json.RawMessage, error) {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = time.Duration(b.config.ActionTimeout)
	}

	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encoding params for action %q: %w", action, err)
		}
		raw = encoded
	}

	requestID := uuid.NewString()
	response := make(chan protocol.ActionResponsePayload, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.pending[requestID] = response
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, requestID)
		b.mu.Unlock()
	}()

	payload := protocol.ActionRequestPayload{
		Action:         action,
		Params:         raw,
		RequestID:      requestID,
		IdempotencyKey: options.IdempotencyKey,
	}
	envelope, err := protocol.NewEnvelope(protocol.KindActionRequest, b.config.Label, "", b.clk.Now(), payload)
	if err != nil {
		return nil, err
	}
	if err := b.adapter.Send(ctx, envelope); err != nil {
		return nil, fmt.Errorf("sending action %q: %w", action, err)
	}

	select {
	case result, ok := <-response:
		if !ok {
			return nil, ErrClosed
		}
		if !result.OK {
			return nil, &ActionError{Action: action, Message: result.Error}
		}
		return result.Data, nil
	case <-b.clk.After(timeout):
		b.logger.Warn("action timed out", "action", action, "request_id", requestID)
		return nil, fmt.Errorf("action %q: %w", action, ErrActionTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// onActionRequest runs the local handler for a broadcast request, if
// this window holds one. Windows without the handler stay silent; the
// requester's timeout covers the nobody-home case.
func (b *Bus) onActionRequest(envelope protocol.Envelope) {
	payload, err := protocol.DecodePayload[protocol.ActionRequestPayload](envelope)
	if err != nil {
		b.logger.Warn("dropping malformed action request", "from", envelope.From, "error", err)
		return
	}

	b.mu.Lock()
	handler := b.handlers[payload.Action]
	b.mu.Unlock()
	if handler == nil {
		return
	}

	// Handlers may be slow; never run them on the delivery goroutine.
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runAction(envelope.From, payload, handler)
	}()
}

func (b *Bus) runAction(requester string, payload protocol.ActionRequestPayload, handler ActionHandler) {
	ctx := b.runContext()

	response := protocol.ActionResponsePayload{RequestID: payload.RequestID}
	result, err := handler(ctx, payload.Params)
	if err != nil {
		b.logger.Warn("action handler failed",
			"action", payload.Action, "request_id", payload.RequestID, "error", err)
		response.Error = err.Error()
	} else {
		data, err := json.Marshal(result)
		if err != nil {
			b.logger.Error("encoding action result",
				"action", payload.Action, "error", err)
			response.Error = fmt.Sprintf("encoding result: %v", err)
		} else {
			response.OK = true
			response.Data = data
		}
	}

	envelope, err := protocol.NewEnvelope(protocol.KindActionResponse, b.config.Label, requester, b.clk.Now(), response)
	if err != nil {
		b.logger.Error("building action response", "action", payload.Action, "error", err)
		return
	}
	if err := b.adapter.Send(ctx, envelope); err != nil {
		b.logger.Error("sending action response",
			"action", payload.Action, "requester", requester, "error", err)
	}
}

// onActionResponse matches a targeted response to its pending request.
// Responses that arrive after the requester gave up are dropped.
func (b *Bus) onActionResponse(envelope protocol.Envelope) {
	payload, err := protocol.DecodePayload[protocol.ActionResponsePayload](envelope)
	if err != nil {
		b.logger.Warn("dropping malformed action response", "from", envelope.From, "error", err)
		return
	}

	b.mu.Lock()
	pending := b.pending[payload.RequestID]
	delete(b.pending, payload.RequestID)
	b.mu.Unlock()
	if pending == nil {
		b.logger.Debug("response for expired request",
			"request_id", payload.RequestID, "from", envelope.From)
		return
	}
	pending <- payload
}
