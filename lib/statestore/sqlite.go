// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statestore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/roomkeeper/lib/ref"
)

const schema = `
CREATE TABLE IF NOT EXISTS session (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rooms (
	room_id               TEXT PRIMARY KEY,
	membership            TEXT NOT NULL,
	member_count          INTEGER NOT NULL,
	last_route_refresh_at INTEGER NOT NULL
);
`

// Connection pragmas. The session database has one writer and a
// handful of readers, so WAL with NORMAL sync is the right trade.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

// SQLiteConfig configures OpenSQLite.
type SQLiteConfig struct {
	// Path is the database file. Required.
	Path string

	// PoolSize is the number of pooled connections. Defaults to 2.
	PoolSize int

	// Logger receives open/close events. Nil discards.
	Logger *slog.Logger
}

// SQLiteStore persists the snapshot in SQLite.
type SQLiteStore struct {
	pool   *sqlitex.Pool
	path   string
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database and applies the
// schema.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("statestore: SQLite Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 2
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("statestore: creating %s: %w", filepath.Dir(cfg.Path), err)
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("statestore: opening %s: %w", cfg.Path, err)
	}
	store := &SQLiteStore{pool: pool, path: cfg.Path, logger: logger}

	conn, err := pool.Take(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("statestore: take: %w", err)
	}
	err = sqlitex.ExecuteScript(conn, schema, nil)
	pool.Put(conn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("statestore: applying schema: %w", err)
	}

	logger.Info("session database opened", "path", cfg.Path, "pool_size", poolSize)
	return store, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("statestore: %s: %w", pragma, err)
		}
	}
	return nil
}

// Load reads the cursor, key flag, and room table.
func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("statestore: take: %w", err)
	}
	defer s.pool.Put(conn)

	var snapshot Snapshot
	err = sqlitex.Execute(conn, "SELECT key, value FROM session", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			switch key, value := stmt.ColumnText(0), stmt.ColumnText(1); key {
			case "cursor":
				snapshot.Cursor = value
			case "keys_uploaded":
				uploaded, err := strconv.ParseBool(value)
				if err != nil {
					return fmt.Errorf("keys_uploaded: %w", err)
				}
				snapshot.KeysUploaded = uploaded
			}
			return nil
		},
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("statestore: reading session: %w", err)
	}

	err = sqlitex.Execute(conn,
		"SELECT room_id, membership, member_count, last_route_refresh_at FROM rooms ORDER BY room_id",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				roomID, err := ref.ParseRoomID(stmt.ColumnText(0))
				if err != nil {
					return err
				}
				room := Room{
					RoomID:      roomID,
					Membership:  stmt.ColumnText(1),
					MemberCount: stmt.ColumnInt(2),
				}
				if millis := stmt.ColumnInt64(3); millis != 0 {
					room.LastRouteRefreshAt = time.UnixMilli(millis).UTC()
				}
				snapshot.Rooms = append(snapshot.Rooms, room)
				return nil
			},
		})
	if err != nil {
		return Snapshot{}, fmt.Errorf("statestore: reading rooms: %w", err)
	}
	return snapshot, nil
}

// Save replaces the stored snapshot in one IMMEDIATE transaction.
func (s *SQLiteStore) Save(ctx context.Context, snapshot Snapshot) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("statestore: take: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("statestore: begin: %w", err)
	}
	defer endTransaction(&err)

	upsert := "INSERT INTO session (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value"
	for key, value := range map[string]string{
		"cursor":        snapshot.Cursor,
		"keys_uploaded": strconv.FormatBool(snapshot.KeysUploaded),
	} {
		if err = sqlitex.Execute(conn, upsert, &sqlitex.ExecOptions{Args: []any{key, value}}); err != nil {
			return fmt.Errorf("statestore: writing %s: %w", key, err)
		}
	}

	if err = sqlitex.Execute(conn, "DELETE FROM rooms", nil); err != nil {
		return fmt.Errorf("statestore: clearing rooms: %w", err)
	}
	for _, room := range snapshot.Rooms {
		var millis int64
		if !room.LastRouteRefreshAt.IsZero() {
			millis = room.LastRouteRefreshAt.UnixMilli()
		}
		err = sqlitex.Execute(conn,
			"INSERT INTO rooms (room_id, membership, member_count, last_route_refresh_at) VALUES (?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{room.RoomID.String(), room.Membership, room.MemberCount, millis}})
		if err != nil {
			return fmt.Errorf("statestore: writing room %s: %w", room.RoomID, err)
		}
	}
	return nil
}

// Close closes every pooled connection.
func (s *SQLiteStore) Close() error {
	if err := s.pool.Close(); err != nil {
		s.logger.Error("session database close failed", "path", s.path, "error", err)
		return fmt.Errorf("statestore: closing %s: %w", s.path, err)
	}
	s.logger.Info("session database closed", "path", s.path)
	return nil
}
