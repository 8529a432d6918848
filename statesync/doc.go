// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package statesync replicates named units of application state across
// windows. Each state key gets one [Engine] per window: on owner
// windows the engine watches a local [Store], debounces bursts of
// mutation, and publishes versioned full or delta syncs; on consumer
// windows it validates and applies what arrives, discarding stale
// versions.
//
// The design assumes at most one logical writer per state key at any
// time. The version counter is a plain scalar, not a vector clock;
// "version not greater than mine → discard" is the engine's entire
// conflict story, and it only holds under the single-writer
// precondition.
package statesync
