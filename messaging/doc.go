// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the parts of the Matrix client-server API a
// room-keeping bot needs.
//
// [Client] is unauthenticated: it holds the homeserver URL and the
// HTTP transport and performs password login. [DirectSession] adds an
// access token (kept in mmap-backed [secret.Buffer] memory) and
// exposes the authenticated operations: /sync with long-polling and
// full_state, join, leave, joined rooms, joined members, idempotent
// event sends keyed by a caller-chosen transaction ID, and the
// /keys/upload endpoint used for the one-time device key bootstrap.
//
// All API errors are returned as [*MatrixError] carrying the Matrix
// error code and HTTP status. [IsMatrixError] tests for a specific
// code; [IsAuthError] recognizes the responses that mean the access
// token is no longer usable.
//
// Request URLs are built by string concatenation with url.PathEscape
// on each dynamic segment, not via url.URL, so room IDs and
// transaction IDs are encoded exactly once.
package messaging
