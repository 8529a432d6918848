// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"errors"
	"fmt"
)

// ErrActionTimeout is returned by RequestAction when no window
// responded within the timeout. There is no automatic retry.
var ErrActionTimeout = errors.New("action request timed out")

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// ActionError is a failure reported by the remote action handler. The
// handler's error never crosses the window boundary as a raw
// exception; it arrives as an {ok:false, error} response and surfaces
// here.
type ActionError struct {
	Action  string
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %q failed: %s", e.Action, e.Message)
}
