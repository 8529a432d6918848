// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
)

// ErrTargetNotFound is returned by Host.EmitTo when the target window
// no longer exists. The adapter logs and drops; it is never escalated
// to the sender.
var ErrTargetNotFound = errors.New("transport: target window not found")

// Host is the runtime primitive the bus is built on. Delivery is
// at-most-once and unordered across windows; ordering between two
// endpoints is mostly FIFO but not guaranteed. Implementations may
// deliver frames on any goroutine.
type Host interface {
	// Broadcast delivers frame to every currently open window,
	// including the sender (the adapter filters the echo).
	Broadcast(ctx context.Context, channel string, frame []byte) error

	// EmitTo delivers frame to the named window only. Returns
	// ErrTargetNotFound when the implementation can tell the target is
	// gone; best-effort implementations may drop silently instead.
	EmitTo(ctx context.Context, label, channel string, frame []byte) error

	// Listen registers fn for every frame posted on channel. The
	// returned cancel unregisters it.
	Listen(channel string, fn func(frame []byte)) (cancel func(), err error)

	// Windows enumerates the labels of currently open windows.
	Windows(ctx context.Context) ([]string, error)

	// OnFocus registers fn for window-focus-changed notifications.
	// fn receives the label of the window that gained focus.
	OnFocus(fn func(label string)) (cancel func())

	// OnDestroyed registers fn for explicit window-destroyed
	// notifications.
	OnDestroyed(fn func(label string)) (cancel func())
}
