// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/panekit/windowbus/protocol"
)

// WindowInfo is the registry's record of one peer window.
type WindowInfo struct {
	Label         string
	Role          protocol.Role
	ComponentID   string
	ConnectedAt   time.Time
	LastHeartbeat time.Time
	HeartbeatSeq  uint64
}

// Registry tracks which peer windows are alive. Windows enter on
// handshake and leave when they announce destruction or when the
// heartbeat sweep finds them silent past the timeout.
type Registry struct {
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	windows map[string]*WindowInfo

	observers int
	connect   map[int]func(WindowInfo)
	disconn   map[int]func(WindowInfo)
}

// NewRegistry builds a registry that considers a window dead after
// timeout without a heartbeat.
func NewRegistry(timeout time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		timeout: timeout,
		logger:  logger,
		windows: make(map[string]*WindowInfo),
		connect: make(map[int]func(WindowInfo)),
		disconn: make(map[int]func(WindowInfo)),
	}
}

// RecordHandshake registers a peer window. Returns true when the
// window was not previously known; a repeat handshake only refreshes
// the record.
func (r *Registry) RecordHandshake(label string, payload protocol.HandshakePayload, now time.Time) bool {
	r.mu.Lock()
	_, known := r.windows[label]
	info := &WindowInfo{
		Label:         label,
		Role:          payload.Role,
		ComponentID:   payload.ComponentID,
		ConnectedAt:   now,
		LastHeartbeat: now,
	}
	if known {
		info.ConnectedAt = r.windows[label].ConnectedAt
		info.HeartbeatSeq = r.windows[label].HeartbeatSeq
	}
	r.windows[label] = info
	observers := r.connectObservers()
	r.mu.Unlock()

	if !known {
		r.logger.Info("window connected", "peer", label, "role", payload.Role)
		for _, fn := range observers {
			fn(*info)
		}
	}
	return !known
}

// RecordHeartbeat refreshes a peer's liveness. Heartbeats from unknown
// windows are ignored; the peer will be picked up by its next
// handshake. Sequence numbers are diagnostic and accepted out of order.
func (r *Registry) RecordHeartbeat(label string, sequence uint64, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.windows[label]
	if !ok {
		r.logger.Debug("heartbeat from unregistered window", "peer", label)
		return
	}
	info.LastHeartbeat = now
	info.HeartbeatSeq = sequence
}

// RecordDestroyed removes a peer that announced its own destruction.
func (r *Registry) RecordDestroyed(label string) {
	r.mu.Lock()
	info, ok := r.windows[label]
	if ok {
		delete(r.windows, label)
	}
	observers := r.disconnectObservers()
	r.mu.Unlock()

	if ok {
		r.logger.Info("window destroyed", "peer", label)
		for _, fn := range observers {
			fn(*info)
		}
	}
}

// Sweep drops every window whose last heartbeat is older than the
// timeout. Each drop notifies the disconnect observers exactly once.
func (r *Registry) Sweep(now time.Time) {
	r.mu.Lock()
	var dropped []*WindowInfo
	for label, info := range r.windows {
		if now.Sub(info.LastHeartbeat) > r.timeout {
			dropped = append(dropped, info)
			delete(r.windows, label)
		}
	}
	observers := r.disconnectObservers()
	r.mu.Unlock()

	for _, info := range dropped {
		r.logger.Warn("window timed out",
			"peer", info.Label, "last_heartbeat", info.LastHeartbeat)
		for _, fn := range observers {
			fn(*info)
		}
	}
}

// Windows returns a snapshot of every known peer, sorted by label.
func (r *Registry) Windows() []WindowInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	windows := make([]WindowInfo, 0, len(r.windows))
	for _, info := range r.windows {
		windows = append(windows, *info)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Label < windows[j].Label })
	return windows
}

// Lookup returns the record for one peer.
func (r *Registry) Lookup(label string) (WindowInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.windows[label]
	if !ok {
		return WindowInfo{}, false
	}
	return *info, true
}

// OnConnect registers fn to run when a new window registers. Returns a
// cancel func.
func (r *Registry) OnConnect(fn func(WindowInfo)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.observers
	r.observers++
	r.connect[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.connect, id)
	}
}

// OnDisconnect registers fn to run when a window is destroyed or times
// out. Returns a cancel func.
func (r *Registry) OnDisconnect(fn func(WindowInfo)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.observers
	r.observers++
	r.disconn[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.disconn, id)
	}
}

func (r *Registry) connectObservers() []func(WindowInfo) {
	observers := make([]func(WindowInfo), 0, len(r.connect))
	for _, fn := range r.connect {
		observers = append(observers, fn)
	}
	return observers
}

func (r *Registry) disconnectObservers() []func(WindowInfo) {
	observers := make([]func(WindowInfo), 0, len(r.disconn))
	for _, fn := range r.disconn {
		observers = append(observers, fn)
	}
	return observers
}
