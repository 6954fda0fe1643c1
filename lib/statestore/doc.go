// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statestore persists the durable part of a bot session: the
// sync cursor, whether device keys have been uploaded, and the
// per-room membership cache.
//
// Three backends share the [Store] interface:
//
//   - [FileStore] writes one deterministic CBOR snapshot per save,
//     replacing the file atomically.
//   - [SQLiteStore] keeps the same data in a WAL-mode SQLite database
//     and replaces it in a single IMMEDIATE transaction per save.
//   - [MemoryStore] keeps the latest snapshot in memory only.
//
// Every Save replaces the whole snapshot. A Load that finds nothing
// returns the zero Snapshot, which resumes nothing and forces a full
// initial sync.
package statestore
