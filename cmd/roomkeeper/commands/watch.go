// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/roomkeeper/cmd/roomkeeper/cli"
	"github.com/bureau-foundation/roomkeeper/messaging"
)

func watchCommand(console streams) *cli.Command {
	var (
		options globalOptions
		manage  bool
	)
	return &cli.Command{
		Name:    "watch",
		Summary: "Print every text message as it arrives",
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("watch", &options)
			flagSet.BoolVar(&manage, "manage-membership", false, "also join invited rooms and leave rooms where the bot is alone")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if err := noArguments("watch", args); err != nil {
				return err
			}
			cfg, logger, err := options.load("watch")
			if err != nil {
				return err
			}
			opened, err := openBot(cfg, logger, manage || cfg.Membership.Manage)
			if err != nil {
				return err
			}
			defer opened.Close()

			opened.supervisor.Router().On(messaging.EventTypeMessage, watchHandler(console.out))
			return opened.run(ctx)
		},
	}
}
