// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies one of the six message kinds carried on the bus
// channel. The set is closed: the transport adapter dispatches with an
// exhaustive switch, and unknown kinds are dropped with a warning.
type Kind string

const (
	// KindHandshake announces a window's identity and role. Sent as a
	// broadcast on startup; sent targeted as the announce-back reply.
	KindHandshake Kind = "handshake"

	// KindStateSync carries a full snapshot or a delta for one state key.
	KindStateSync Kind = "state-sync"

	// KindActionRequest asks whichever window holds the handler for an
	// action to run it. Always broadcast.
	KindActionRequest Kind = "action-request"

	// KindActionResponse carries an action result back to the
	// requester. Always targeted, never broadcast.
	KindActionResponse Kind = "action-response"

	// KindHeartbeat is the periodic liveness signal.
	KindHeartbeat Kind = "heartbeat"

	// KindRequestInitialState asks owner windows to push fresh full
	// snapshots, targeted at the requester. Sent by consumers on focus
	// regain.
	KindRequestInitialState Kind = "request-initial-state"
)

// Valid reports whether k is one of the six known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindHandshake, KindStateSync, KindActionRequest,
		KindActionResponse, KindHeartbeat, KindRequestInitialState:
		return true
	}
	return false
}

// Envelope wraps every message on the bus channel. Immutable once
// constructed; one envelope per send. To empty means broadcast.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	From    string          `json:"from"`
	To      string          `json:"to,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope builds an envelope around payload. An empty to broadcasts.
func NewEnvelope(kind Kind, from, to string, sentAt time.Time, payload any) (Envelope, error) {
	if !kind.Valid() {
		return Envelope{}, fmt.Errorf("unknown message kind %q", kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s payload: %w", kind, err)
	}
	return Envelope{
		Kind:    kind,
		From:    from,
		To:      to,
		SentAt:  sentAt,
		Payload: raw,
	}, nil
}

// Encode serializes the envelope into a host channel frame.
func (e Envelope) Encode() ([]byte, error) {
	frame, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", e.Kind, err)
	}
	return frame, nil
}

// DecodeEnvelope parses a received frame. Envelopes with an unknown
// kind decode successfully (the adapter decides whether to drop them),
// but a frame that is not an envelope at all is an error.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if envelope.From == "" {
		return Envelope{}, fmt.Errorf("envelope has no sender")
	}
	return envelope, nil
}

// DecodePayload unpacks the envelope's payload into the concrete type
// for its kind.
func DecodePayload[T any](envelope Envelope) (T, error) {
	var payload T
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return payload, fmt.Errorf("decoding %s payload: %w", envelope.Kind, err)
	}
	return payload, nil
}
