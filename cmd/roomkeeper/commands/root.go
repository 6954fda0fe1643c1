// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"io"
	"os"

	"github.com/bureau-foundation/roomkeeper/cmd/roomkeeper/cli"
)

// streams are the console endpoints commands read from and write to.
type streams struct {
	in     *os.File
	out    io.Writer
	errOut io.Writer
}

func defaultStreams() streams {
	return streams{in: os.Stdin, out: os.Stdout, errOut: os.Stderr}
}

// Root builds the roomkeeper command tree.
func Root() *cli.Command {
	return newRoot(defaultStreams())
}

func newRoot(console streams) *cli.Command {
	return &cli.Command{
		Name: "roomkeeper",
		Description: `roomkeeper: a resumable Matrix room bot.

Keeps a sync cursor and room cache on disk so restarts resume where
they left off, joins rooms it is invited to, leaves rooms where it is
the last member, and delivers messages with a refresh-and-retry for
stale room routes. Credentials are read from <bot-dir>/login.json.`,
		Output: console.errOut,
		Subcommands: []*cli.Command{
			loginCommand(console),
			echoCommand(console),
			autojoinCommand(console),
			watchCommand(console),
			invitesCommand(console),
			broadcastCommand(console),
			versionCommand(console),
		},
		Examples: []cli.Example{
			{
				Description: "Create login.json with a password login",
				Command:     "roomkeeper login --homeserver https://matrix.example.org --user mybot",
			},
			{
				Description: "Echo every text message back to its room",
				Command:     "roomkeeper echo",
			},
			{
				Description: "Accept invites and leave empty rooms until Enter is pressed",
				Command:     "roomkeeper autojoin",
			},
			{
				Description: "Send one message to every joined room without prompting",
				Command:     "roomkeeper broadcast --yes --body 'Maintenance at 18:00'",
			},
		},
	}
}
