// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/roomkeeper/cmd/roomkeeper/cli"
	"github.com/bureau-foundation/roomkeeper/messaging"
)

func echoCommand(console streams) *cli.Command {
	var (
		options globalOptions
		manage  bool
	)
	return &cli.Command{
		Name:    "echo",
		Summary: "Reply to every text message in every joined room",
		Description: `Reply to every text message in every joined room with the
configured echo format ("I received '<body>'" by default). The bot's
own messages are ignored. Runs until interrupted.`,
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("echo", &options)
			flagSet.BoolVar(&manage, "manage-membership", false, "also join invited rooms and leave rooms where the bot is alone")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if err := noArguments("echo", args); err != nil {
				return err
			}
			cfg, logger, err := options.load("echo")
			if err != nil {
				return err
			}
			opened, err := openBot(cfg, logger, manage || cfg.Membership.Manage)
			if err != nil {
				return err
			}
			defer opened.Close()

			opened.supervisor.Router().On(messaging.EventTypeMessage,
				echoHandler(opened.self, cfg.Echo.ReplyFormat, opened.sendText))
			logger.Info("echo bot running", "user_id", opened.self)
			return opened.run(ctx)
		},
	}
}
