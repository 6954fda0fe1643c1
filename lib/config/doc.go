// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads roomkeeper configuration.
//
// Configuration comes from a single YAML file named by the --config
// flag or the ROOMKEEPER_CONFIG environment variable. When neither is
// given the built-in defaults apply, which read credentials from
// ./botdir/login.json and keep session state next to it.
//
// Path fields accept ${VAR} and ${VAR:-default} references, expanded
// after the file is parsed. ${BOT_DIR} refers to paths.bot_dir so the
// other paths can be written relative to it.
package config
