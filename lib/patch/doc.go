// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package patch is the diff/patch codec for delta state syncs. Diffs are
// RFC 6902 JSON Patch documents: Diff computes one, Apply replays one,
// and Equal is the structural equality the sync engine uses for its
// no-op checks. Apply never mutates its input; the engine compares the
// result against the pre-patch value.
//
// Round-trip law: for any two JSON documents a and b,
// Apply(a, Diff(a, b)) is structurally equal to b.
package patch
