// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds credential material (the bot's access token, a
// login password, device private keys) in memory that the garbage
// collector never sees.
//
// [Buffer] is backed by an anonymous mmap region that is mlocked
// against swap and marked MADV_DONTDUMP. Close zeroes, unlocks, and
// unmaps it; any access after Close panics.
//
// [ReadPassword] reads a password from a terminal without echo and
// returns it already inside a Buffer.
package secret
