// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statestore

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/roomkeeper/lib/ref"
)

// Snapshot is the persisted session state.
type Snapshot struct {
	// Cursor is the next_batch token of the last fully dispatched
	// sync response. Empty before the first sync completes.
	Cursor string `cbor:"cursor"`

	// KeysUploaded records that the one-time key bootstrap finished.
	KeysUploaded bool `cbor:"keys_uploaded"`

	// Rooms is the membership cache, sorted by room ID.
	Rooms []Room `cbor:"rooms"`
}

// Room is one entry of the membership cache.
type Room struct {
	RoomID             ref.RoomID `cbor:"room_id"`
	Membership         string     `cbor:"membership"`
	MemberCount        int        `cbor:"member_count"`
	LastRouteRefreshAt time.Time  `cbor:"last_route_refresh_at"`
}

// Store loads and saves session snapshots. Implementations are safe
// for use by one goroutine at a time; the engine serializes saves.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snapshot Snapshot) error
	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
	BackendMemory Backend = "memory"
)

// Open returns the store for backend, keeping its files in directory.
func Open(backend Backend, directory string, logger *slog.Logger) (Store, error) {
	switch backend {
	case BackendFile:
		store, err := NewFileStore(filepath.Join(directory, "session.cbor"))
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendSQLite:
		store, err := OpenSQLite(context.Background(), SQLiteConfig{
			Path:   filepath.Join(directory, "session.db"),
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("statestore: unknown backend %q", backend)
	}
}
