// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts small files at rest with age.
//
// roomkeeper uses it to seal the login file to an X25519 identity kept
// outside the bot directory, so a copied bot directory does not leak
// the access token. Identity files use the age-keygen format:
//
//	# created: 2026-10-19T08:00:00Z
//	# public key: age1...
//	AGE-SECRET-KEY-1...
//
// Sealed files are ASCII-armored. Private keys and decrypted plaintext
// are held in [secret.Buffer] values.
package sealed
