// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/roomkeeper/cmd/roomkeeper/cli"
	"github.com/bureau-foundation/roomkeeper/engine"
)

func broadcastCommand(console streams) *cli.Command {
	var (
		options globalOptions
		yes     bool
		body    string
	)
	return &cli.Command{
		Name:    "broadcast",
		Summary: "Send one message to every joined room",
		Description: `Sync once, list the joined rooms, and after confirmation send the
broadcast body to each of them. Each send refreshes the room route and
retries once if the homeserver reports the room as unknown.

Exits 1 if any send failed.`,
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("broadcast", &options)
			flagSet.BoolVarP(&yes, "yes", "y", false, "send without asking for confirmation")
			flagSet.StringVar(&body, "body", "", "message body (default broadcast.body from the configuration)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if err := noArguments("broadcast", args); err != nil {
				return err
			}
			cfg, logger, err := options.load("broadcast")
			if err != nil {
				return err
			}
			if body == "" {
				body = cfg.Broadcast.Body
			}
			if body == "" {
				return errors.New("broadcast: empty message body")
			}

			opened, err := openBot(cfg, logger, false)
			if err != nil {
				return err
			}
			defer opened.Close()

			if err := opened.supervisor.Start(ctx); err != nil {
				return err
			}
			rooms := opened.supervisor.State().RoomsIn(engine.MembershipJoined)
			if len(rooms) == 0 {
				fmt.Fprintln(console.out, faintStyle.Render("Not in any rooms; nothing to send."))
				return nil
			}
			renderJoinedRooms(console.out, rooms)

			if !yes {
				confirmed, err := cli.ConfirmTerminal(console.in, console.out, "Do you want to send messages to all rooms?")
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Fprintln(console.out, "Not sending.")
					return nil
				}
			}

			dispatcher := opened.supervisor.Dispatcher()
			results := make([]broadcastResult, 0, len(rooms))
			pending := make([]<-chan error, 0, len(rooms))
			for _, roomID := range rooms {
				message, err := engine.NewTextMessage(roomID, body)
				if err != nil {
					return err
				}
				results = append(results, broadcastResult{roomID: roomID, message: message})
				pending = append(pending, dispatcher.SendAsync(ctx, message))
			}
			for index, done := range pending {
				results[index].err = <-done
			}

			if failed := renderBroadcastSummary(console.out, results); failed > 0 {
				logger.Warn("broadcast incomplete", "failed", failed, "rooms", len(rooms))
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}
