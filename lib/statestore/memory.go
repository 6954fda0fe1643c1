// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statestore

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps the last saved snapshot in memory. Useful for
// one-shot commands and tests; nothing survives the process.
type MemoryStore struct {
	mu       sync.Mutex
	snapshot Snapshot
	saves    int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the last saved snapshot.
func (s *MemoryStore) Load(context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSnapshot(s.snapshot), nil
}

// Save replaces the stored snapshot.
func (s *MemoryStore) Save(_ context.Context, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = cloneSnapshot(snapshot)
	s.saves++
	return nil
}

// Saves returns how many times Save has been called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func cloneSnapshot(snapshot Snapshot) Snapshot {
	snapshot.Rooms = slices.Clone(snapshot.Rooms)
	return snapshot
}
