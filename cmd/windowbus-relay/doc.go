// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

// windowbus-relay is the development-time message hub. Window processes
// that cannot reach each other through a desktop runtime connect to its
// websocket endpoint instead; the relay fans out broadcasts, routes
// targeted frames, and reports disconnects as window destruction.
//
//	windowbus-relay --listen :8400
//
// POST /focus/{label} injects a focus-changed notification, which is
// how a test harness drives the reconnection path.
package main
