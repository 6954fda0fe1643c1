// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared helpers for roomkeeper tests:
// bounded channel receives that fail instead of hanging, polling for
// conditions that settle asynchronously, and a slog.Logger that writes
// through t.Log so output is attributed to the test that produced it.
package testutil
