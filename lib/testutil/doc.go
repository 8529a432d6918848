// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds small helpers shared by the bus test suites,
// mostly channel operations with timeout safety valves so a broken test
// fails instead of hanging.
package testutil
