// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"
	"fmt"
)

// Role is a window's place in the sync topology, derived once at window
// startup from the window's purpose; roles are never negotiated.
type Role string

const (
	// RoleOwnerPrimary is the single always-open root window.
	RoleOwnerPrimary Role = "owner-primary"

	// RoleOwnerSecondary is a detached tool window that consumes
	// upstream state and re-publishes it downstream.
	RoleOwnerSecondary Role = "owner-secondary"

	// RoleConsumer is a detached widget window that only receives.
	RoleConsumer Role = "consumer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleOwnerPrimary, RoleOwnerSecondary, RoleConsumer:
		return true
	}
	return false
}

// IsOwner reports whether windows with this role originate state
// updates. Only owners run the mutation-watching half of the sync
// engine and answer initial-state requests.
func (r Role) IsOwner() bool {
	return r == RoleOwnerPrimary || r == RoleOwnerSecondary
}

// HandshakePayload announces a window to its peers. The sender label
// rides on the envelope.
type HandshakePayload struct {
	Role Role `json:"role"`

	// ComponentID names the consumer widget this window hosts, when it
	// hosts exactly one. Empty for owner windows.
	ComponentID string `json:"component_id,omitempty"`
}

// HeartbeatPayload is the periodic liveness signal. Sequence increments
// per sending window and is diagnostic only; heartbeats are accepted
// out of order.
type HeartbeatPayload struct {
	Sequence uint64 `json:"sequence"`
}

// StateSyncPayload replicates one state key. Exactly one of Data and
// Patch is populated: Data when Full, Patch otherwise.
type StateSyncPayload struct {
	StateKey string `json:"state_key"`

	// Version is a scalar that increases monotonically per state key.
	// Receivers discard any payload whose version is not greater than
	// the last version they applied.
	Version uint64 `json:"version"`

	Full bool `json:"full"`

	// Data is the complete snapshot. Present iff Full.
	Data json.RawMessage `json:"data,omitempty"`

	// Patch is the RFC 6902 operation list against the previously
	// synced snapshot. Present iff not Full.
	Patch json.RawMessage `json:"patch,omitempty"`
}

// Validate checks the Data/Patch exclusivity invariant.
func (p StateSyncPayload) Validate() error {
	if p.StateKey == "" {
		return fmt.Errorf("state sync payload has no state key")
	}
	if p.Full && p.Data == nil {
		return fmt.Errorf("full sync for %q carries no data", p.StateKey)
	}
	if !p.Full && p.Patch == nil {
		return fmt.Errorf("delta sync for %q carries no patch", p.StateKey)
	}
	if p.Full && p.Patch != nil {
		return fmt.Errorf("full sync for %q also carries a patch", p.StateKey)
	}
	return nil
}

// ActionRequestPayload asks the window holding the handler for Action
// to run it and reply.
type ActionRequestPayload struct {
	Action string `json:"action"`

	// Params is an opaque value passed through to the handler.
	Params json.RawMessage `json:"params,omitempty"`

	// RequestID correlates the response with the pending request.
	RequestID string `json:"request_id"`

	// IdempotencyKey lets a handler recognize a retried request. The
	// bus itself does not deduplicate; the semantics belong to the
	// handler.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ActionResponsePayload carries a handler's result or failure back to
// the requester.
type ActionResponsePayload struct {
	RequestID string          `json:"request_id"`
	OK        bool            `json:"ok"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// RequestInitialStatePayload asks owners for fresh full snapshots. An
// empty StateKeys list requests every key the owner holds.
type RequestInitialStatePayload struct {
	StateKeys []string `json:"state_keys,omitempty"`
}
