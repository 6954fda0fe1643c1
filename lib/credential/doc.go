// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential reads and writes the bot's login file.
//
// The login file is a JSON object with the homeserver URL, the bot's
// user ID, its device ID, and an access token:
//
//	{
//	  "homeserver": "https://matrix.example.org",
//	  "user_id": "@echo-bot:example.org",
//	  "device_id": "ABCDEFGHIJ",
//	  "access_token": "syt_..."
//	}
//
// Comments and trailing commas are accepted on read (JSONC). The file
// is written with mode 0600 via a temporary file and rename. The
// access token is held in a [secret.Buffer] from the moment the file
// is parsed.
//
// The file may instead be an age file sealed to the identity named by
// paths.identity (see package sealed). Load detects sealed files by
// their header.
package credential
