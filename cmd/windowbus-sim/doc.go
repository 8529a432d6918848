// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

// windowbus-sim runs a small multi-window session in one process,
// wired over the in-memory hub. It stands up an owner window and a
// consumer window, edits state on the owner, fires an action from the
// consumer, and simulates a focus regain, logging the traffic as it
// flows. Useful for eyeballing the protocol without a desktop runtime.
package main
