// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"sync"
)

// Compile-time interface check.
var _ Host = (*MemoryEndpoint)(nil)

// MemoryHub wires several in-process window endpoints together,
// bypassing any real windowing runtime. Each simulated window attaches
// once and receives a Host scoped to its label. Delivery is synchronous
// in the sender's goroutine, which keeps tests deterministic.
type MemoryHub struct {
	mu        sync.Mutex
	endpoints map[string]*MemoryEndpoint
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{endpoints: make(map[string]*MemoryEndpoint)}
}

// Attach creates the endpoint for a window label. Attaching an already
// attached label replaces the previous endpoint, mirroring a window
// being re-created under the same label.
func (h *MemoryHub) Attach(label string) *MemoryEndpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	endpoint := &MemoryEndpoint{
		hub:       h,
		label:     label,
		listeners: make(map[string]map[int]func([]byte)),
	}
	h.endpoints[label] = endpoint
	return endpoint
}

// Destroy removes a window and notifies every remaining endpoint's
// destroy observers, standing in for the runtime's window-destroyed
// notification.
func (h *MemoryHub) Destroy(label string) {
	h.mu.Lock()
	_, existed := h.endpoints[label]
	delete(h.endpoints, label)
	remaining := h.snapshotLocked()
	h.mu.Unlock()

	if !existed {
		return
	}
	for _, endpoint := range remaining {
		endpoint.notifyDestroyed(label)
	}
}

// Focus notifies every endpoint that the named window gained focus,
// standing in for the runtime's focus-changed notification.
func (h *MemoryHub) Focus(label string) {
	h.mu.Lock()
	endpoints := h.snapshotLocked()
	h.mu.Unlock()

	for _, endpoint := range endpoints {
		endpoint.notifyFocus(label)
	}
}

// Labels returns the currently attached window labels.
func (h *MemoryHub) Labels() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	labels := make([]string, 0, len(h.endpoints))
	for label := range h.endpoints {
		labels = append(labels, label)
	}
	return labels
}

func (h *MemoryHub) snapshotLocked() []*MemoryEndpoint {
	endpoints := make([]*MemoryEndpoint, 0, len(h.endpoints))
	for _, endpoint := range h.endpoints {
		endpoints = append(endpoints, endpoint)
	}
	return endpoints
}

// MemoryEndpoint is one window's view of a MemoryHub.
type MemoryEndpoint struct {
	hub   *MemoryHub
	label string

	mu           sync.Mutex
	nextID       int
	listeners    map[string]map[int]func([]byte)
	focusFns     map[int]func(string)
	destroyedFns map[int]func(string)
}

// Broadcast delivers the frame to every attached window, the sender
// included; the adapter filters the echo.
func (e *MemoryEndpoint) Broadcast(_ context.Context, channel string, frame []byte) error {
	e.hub.mu.Lock()
	targets := e.hub.snapshotLocked()
	e.hub.mu.Unlock()

	for _, target := range targets {
		target.deliver(channel, frame)
	}
	return nil
}

// EmitTo delivers the frame to one window, or reports that it is gone.
func (e *MemoryEndpoint) EmitTo(_ context.Context, label, channel string, frame []byte) error {
	e.hub.mu.Lock()
	target, ok := e.hub.endpoints[label]
	e.hub.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrTargetNotFound, label)
	}
	target.deliver(channel, frame)
	return nil
}

// Listen registers fn for frames on the channel.
func (e *MemoryEndpoint) Listen(channel string, fn func([]byte)) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners[channel] == nil {
		e.listeners[channel] = make(map[int]func([]byte))
	}
	id := e.nextID
	e.nextID++
	e.listeners[channel][id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners[channel], id)
	}, nil
}

// Windows lists the attached window labels.
func (e *MemoryEndpoint) Windows(_ context.Context) ([]string, error) {
	return e.hub.Labels(), nil
}

// OnFocus registers a focus-changed observer.
func (e *MemoryEndpoint) OnFocus(fn func(string)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.focusFns == nil {
		e.focusFns = make(map[int]func(string))
	}
	id := e.nextID
	e.nextID++
	e.focusFns[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.focusFns, id)
	}
}

// OnDestroyed registers a window-destroyed observer.
func (e *MemoryEndpoint) OnDestroyed(fn func(string)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyedFns == nil {
		e.destroyedFns = make(map[int]func(string))
	}
	id := e.nextID
	e.nextID++
	e.destroyedFns[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.destroyedFns, id)
	}
}

// deliver invokes the endpoint's listeners without holding the lock,
// so a handler may send further frames.
func (e *MemoryEndpoint) deliver(channel string, frame []byte) {
	e.mu.Lock()
	fns := make([]func([]byte), 0, len(e.listeners[channel]))
	for _, fn := range e.listeners[channel] {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(frame)
	}
}

func (e *MemoryEndpoint) notifyFocus(label string) {
	e.mu.Lock()
	fns := make([]func(string), 0, len(e.focusFns))
	for _, fn := range e.focusFns {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(label)
	}
}

func (e *MemoryEndpoint) notifyDestroyed(label string) {
	e.mu.Lock()
	fns := make([]func(string), 0, len(e.destroyedFns))
	for _, fn := range e.destroyedFns {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(label)
	}
}
