// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/roomkeeper/cmd/roomkeeper/cli"
)

func autojoinCommand(console streams) *cli.Command {
	var options globalOptions
	return &cli.Command{
		Name:    "autojoin",
		Summary: "Join invited rooms and leave rooms where the bot is alone",
		Description: `Run with membership automation: every invitation (including those
received while the bot was offline) is accepted, an invitation that
cannot be joined is declined, and any room where the bot becomes the
only member is left.

On a terminal the bot runs until Enter is pressed; otherwise until
SIGINT or SIGTERM.`,
		Flags: func() *pflag.FlagSet {
			return newFlagSet("autojoin", &options)
		},
		Run: func(ctx context.Context, args []string) error {
			if err := noArguments("autojoin", args); err != nil {
				return err
			}
			cfg, logger, err := options.load("autojoin")
			if err != nil {
				return err
			}
			opened, err := openBot(cfg, logger, true)
			if err != nil {
				return err
			}
			defer opened.Close()

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			if cli.IsTerminal(console.in) {
				fmt.Fprintln(console.out, "Press enter to close the client")
				entered := cli.WaitForEnter(console.in)
				go func() {
					select {
					case <-entered:
						cancel()
					case <-ctx.Done():
					}
				}()
			}
			return opened.run(ctx)
		},
	}
}
