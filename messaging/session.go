// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"

	"github.com/bureau-foundation/roomkeeper/lib/ref"
)

// Session is the set of authenticated operations the bot engine uses.
// *DirectSession is the production implementation; tests substitute
// their own.
type Session interface {
	// UserID returns the session's Matrix user ID.
	UserID() ref.UserID

	// DeviceID returns the session's device ID.
	DeviceID() ref.DeviceID

	// Close releases any resources held by the session. Idempotent.
	Close() error

	// Sync performs one /sync request.
	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)

	// JoinRoom joins a room by ID.
	JoinRoom(ctx context.Context, roomID ref.RoomID) (ref.RoomID, error)

	// LeaveRoom leaves or rejects an invite to a room.
	LeaveRoom(ctx context.Context, roomID ref.RoomID) error

	// JoinedRooms lists the rooms the user has joined.
	JoinedRooms(ctx context.Context) ([]ref.RoomID, error)

	// JoinedMembers lists the joined members of a room.
	JoinedMembers(ctx context.Context, roomID ref.RoomID) (map[ref.UserID]JoinedMember, error)

	// SendEvent sends an event under the given transaction ID.
	SendEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, transactionID string, content any) (ref.EventID, error)

	// UploadKeys posts device and one-time keys.
	UploadKeys(ctx context.Context, request UploadKeysRequest) (*UploadKeysResponse, error)
}

// Compile-time check: *DirectSession implements Session.
var _ Session = (*DirectSession)(nil)
