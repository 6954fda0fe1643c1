// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"

	"github.com/bureau-foundation/roomkeeper/lib/ref"
)

// Transport is the engine's view of the homeserver. Implementations
// return *FatalError (or an error wrapping one) for rejected
// credentials, and an error wrapping ErrUnknownRoom from SendMessage
// when the room's route is stale.
type Transport interface {
	// Sync performs one long-poll, blocking up to request.Timeout.
	Sync(ctx context.Context, request SyncRequest) (*SyncResult, error)

	// Join joins a room the bot was invited to.
	Join(ctx context.Context, roomID ref.RoomID) error

	// Leave leaves a room or rejects an invite. Callers treat errors
	// as best-effort unless fatal.
	Leave(ctx context.Context, roomID ref.RoomID) error

	// JoinedRooms lists the rooms the bot is currently in. Calling it
	// also refreshes any route state the transport keeps.
	JoinedRooms(ctx context.Context) ([]ref.RoomID, error)

	// Members lists the joined members of a room.
	Members(ctx context.Context, roomID ref.RoomID) ([]ref.UserID, error)

	// SendMessage sends an m.room.message. transactionID must be
	// reused across retries of the same message.
	SendMessage(ctx context.Context, roomID ref.RoomID, transactionID string, content any) (ref.EventID, error)

	// UploadKeysIfRequired runs the one-time device key bootstrap.
	// Idempotent at the protocol level.
	UploadKeysIfRequired(ctx context.Context) error
}

// idleConnectionCloser is implemented by transports that pool
// connections. The sync loop drops idle connections after an error so
// the next attempt does not reuse a dead one.
type idleConnectionCloser interface {
	CloseIdleConnections()
}
