// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the roomkeeper
// binary: a tree of [Command] values with pflag flag sets, help
// output, typo suggestions for commands and flags, an [ExitError] for
// commands that have already reported their own failure, the console
// logger, and the yes/no [Confirm] prompt.
package cli
