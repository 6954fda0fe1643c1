// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/roomkeeper/cmd/roomkeeper/cli"
	"github.com/bureau-foundation/roomkeeper/engine"
)

func invitesCommand(console streams) *cli.Command {
	var options globalOptions
	return &cli.Command{
		Name:    "invites",
		Summary: "List pending invitations without acting on them",
		Flags: func() *pflag.FlagSet {
			return newFlagSet("invites", &options)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := noArguments("invites", args); err != nil {
				return err
			}
			cfg, logger, err := options.load("invites")
			if err != nil {
				return err
			}
			opened, err := openBot(cfg, logger, false)
			if err != nil {
				return err
			}
			defer opened.Close()

			if err := opened.supervisor.Start(ctx); err != nil {
				return err
			}
			renderInvites(console.out, opened.supervisor.State().RoomsIn(engine.MembershipInvited))
			return nil
		},
	}
}
