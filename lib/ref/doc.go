// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable references for the
// Matrix identifiers the bot engine handles: user IDs, room IDs, event
// IDs, device IDs, and event types.
//
// Identifiers arrive as strings from the homeserver (sync responses,
// join results, membership lists) and from the credentials file. They
// are parsed into these types at the boundary so that the rest of the
// code cannot confuse a room ID with a user ID or pass an unvalidated
// string where a validated one is expected.
//
// Every type implements encoding.TextMarshaler and
// encoding.TextUnmarshaler, so the canonical string form is used for
// JSON (including map keys) and for the CBOR state snapshot.
package ref
