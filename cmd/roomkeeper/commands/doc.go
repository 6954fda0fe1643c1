// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the roomkeeper command tree. Every bot
// command shares one bootstrap: load the configuration, read
// login.json, open the state store and device keys, and wire an
// engine.Supervisor over a Matrix transport. The commands differ only
// in which handlers they register and whether they run the live sync
// loop or stop after the seed sync.
package commands
