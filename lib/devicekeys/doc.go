// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package devicekeys owns the bot device's long-term key pair and
// its one-time keys, and builds the signed /keys/upload request that
// completes the one-time encryption bootstrap.
//
// An [Account] holds an ed25519 signing key and a curve25519 identity
// key, both kept in [secret.Buffer] memory, plus a counter and the
// private halves of generated one-time keys. It is persisted as CBOR
// (mode 0600) next to the session state so that a restart reuses the
// same device keys instead of publishing conflicting ones.
//
// Published objects are signed over their canonical JSON form (sorted
// keys, no insignificant whitespace, no HTML escaping) with the
// signatures and unsigned fields removed.
//
// The bot never establishes Olm sessions; the one-time keys exist so
// that other devices see a well-formed, claimable device.
package devicekeys
