// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package patch

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/wI2L/jsondiff"
)

// Diff computes an RFC 6902 patch that transforms the JSON document
// before into after. Returns nil when the documents are structurally
// equal. The returned bytes are the serialized operation list; their
// length is what the sync engine weighs against the full snapshot when
// deciding delta versus full.
func Diff(before, after []byte) (json.RawMessage, error) {
	operations, err := jsondiff.CompareJSON(before, after)
	if err != nil {
		return nil, fmt.Errorf("computing diff: %w", err)
	}
	if len(operations) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(operations)
	if err != nil {
		return nil, fmt.Errorf("encoding patch operations: %w", err)
	}
	return raw, nil
}

// Apply replays an RFC 6902 patch against doc and returns the patched
// document. The input doc is never modified; callers rely on comparing
// the result against it.
func Apply(doc []byte, patchDoc json.RawMessage) ([]byte, error) {
	decoded, err := jsonpatch.DecodePatch(patchDoc)
	if err != nil {
		return nil, fmt.Errorf("decoding patch: %w", err)
	}
	patched, err := decoded.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("applying patch: %w", err)
	}
	return patched, nil
}

// Equal reports whether two JSON documents are structurally equal:
// object key order and whitespace do not matter, array order does.
func Equal(a, b []byte) bool {
	return jsonpatch.Equal(a, b)
}

// Marshal serializes a Go value to the canonical JSON form used for
// snapshots. A nil error guarantees the result is a valid document for
// Diff, Apply, and Equal.
func Marshal(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return raw, nil
}
