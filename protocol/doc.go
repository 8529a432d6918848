// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the wire shape of every message on the
// inter-window bus. All traffic is multiplexed onto a single host
// channel; the envelope's Kind field is the dispatch key, a closed set
// matched exhaustively by the transport adapter. Payloads are plain
// JSON values: the host delivers its native structured-clone/JSON
// representation, so there is no binary framing.
package protocol
