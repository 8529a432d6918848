// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package bus assembles the inter-window synchronization bus for one
// window: handshake and registry, heartbeat liveness, state sync engine
// wiring, action RPC, and the focus-driven reconnection behavior.
//
// A [Bus] is an explicitly constructed object with a Start/Close
// lifecycle; there are no package-level singletons. The window's role
// decides its behavior: owner windows publish state and answer
// initial-state requests, consumer windows only receive and ask for
// fresh snapshots when they regain focus.
package bus
