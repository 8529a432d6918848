// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport connects the bus to the host runtime's messaging
// primitives. The [Host] interface is the narrow surface the desktop
// runtime must provide: broadcast, targeted emit, listen, window
// enumeration, and focus/destroy notifications. [Adapter] sits on top
// of a Host and speaks envelopes: it filters a window's own broadcasts
// and frames targeted at other windows, then dispatches by message
// kind.
//
// Two Host implementations ship with the package. [MemoryHub] wires
// several in-process endpoints together for tests and simulation.
// [WSHost] talks to a [Relay] over WebSocket so detached windows in
// separate processes can share a bus during development; the production
// host is the desktop runtime's own event system.
package transport
