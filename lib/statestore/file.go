// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/roomkeeper/lib/codec"
)

// Session snapshot file identity. Bump snapshotVersion when Snapshot
// changes incompatibly.
const (
	snapshotKind    = "roomkeeper.session"
	snapshotVersion = 1
)

// FileStore persists the snapshot as a single CBOR file.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore writing to path. The parent
// directory is created with mode 0700 if missing.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("statestore: creating %s: %w", filepath.Dir(path), err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the snapshot file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the snapshot. A missing file is an empty snapshot.
func (s *FileStore) Load(context.Context) (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("statestore: reading %s: %w", s.path, err)
	}
	var snapshot Snapshot
	if _, err := codec.UnmarshalFile(data, snapshotKind, snapshotVersion, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("statestore: decoding %s: %w", s.path, err)
	}
	return snapshot, nil
}

// Save encodes the snapshot, writes it next to the target, syncs it,
// and renames it into place so a crash leaves either the old or the
// new snapshot, never a torn one.
func (s *FileStore) Save(_ context.Context, snapshot Snapshot) error {
	data, err := codec.MarshalFile(snapshotKind, snapshotVersion, snapshot)
	if err != nil {
		return fmt.Errorf("statestore: encoding snapshot: %w", err)
	}

	temporary, err := os.CreateTemp(filepath.Dir(s.path), ".session-*.cbor")
	if err != nil {
		return fmt.Errorf("statestore: %w", err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("statestore: writing %s: %w", temporaryPath, err)
	}
	if err := temporary.Sync(); err != nil {
		temporary.Close()
		return fmt.Errorf("statestore: syncing %s: %w", temporaryPath, err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("statestore: %w", err)
	}
	if err := os.Rename(temporaryPath, s.path); err != nil {
		return fmt.Errorf("statestore: replacing %s: %w", s.path, err)
	}
	return nil
}

// Close is a no-op; FileStore holds no open handles between saves.
func (s *FileStore) Close() error { return nil }
