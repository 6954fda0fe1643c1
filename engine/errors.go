// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bureau-foundation/roomkeeper/lib/ref"
)

// ErrUnknownRoom is the recoverable stale-route failure: a send was
// rejected for a room the session believes it is in. The Dispatcher
// refreshes the route and retries once when a send error wraps it.
var ErrUnknownRoom = errors.New("engine: unknown room")

// FatalError is an unrecoverable failure (rejected credentials, or a
// failed key bootstrap). It stops the engine.
type FatalError struct {
	// Op names what was being attempted ("sync", "key bootstrap").
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("engine: fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err is or wraps a *FatalError.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// SendError reports an OutboundMessage that ended Failed.
type SendError struct {
	RoomID    ref.RoomID
	MessageID uuid.UUID
	Attempts  int
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("engine: send %s to %s failed after %d attempt(s): %v", e.MessageID, e.RoomID, e.Attempts, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// HandlerError reports a failed (or panicking) event handler. It is
// delivered on the Supervisor's error channel and never stops the
// sync loop.
type HandlerError struct {
	Handler string
	RoomID  ref.RoomID
	EventID ref.EventID
	Err     error
}

func (e *HandlerError) Error() string {
	if e.EventID.IsZero() {
		return fmt.Sprintf("engine: handler %s in %s: %v", e.Handler, e.RoomID, e.Err)
	}
	return fmt.Sprintf("engine: handler %s on %s in %s: %v", e.Handler, e.EventID, e.RoomID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
