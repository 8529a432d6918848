// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the bus. Heartbeat sweeps, debounce
// windows, and action timeouts all run on an injected Clock so tests can
// drive them on virtual time: production code takes Real(), tests take
// Fake() and call Advance to fire pending timers deterministically.
package clock
