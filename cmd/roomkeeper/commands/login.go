// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/roomkeeper/cmd/roomkeeper/cli"
	"github.com/bureau-foundation/roomkeeper/lib/credential"
	"github.com/bureau-foundation/roomkeeper/lib/sealed"
	"github.com/bureau-foundation/roomkeeper/lib/secret"
	"github.com/bureau-foundation/roomkeeper/lib/version"
	"github.com/bureau-foundation/roomkeeper/messaging"
)

func loginCommand(console streams) *cli.Command {
	var (
		options      globalOptions
		homeserver   string
		user         string
		passwordFile string
		deviceName   string
	)
	return &cli.Command{
		Name:    "login",
		Summary: "Log in with a password and write login.json",
		Description: `Log in to a homeserver with a password and save the resulting
access token, user ID, and device ID to the configured login file
(mode 0600), sealed to paths.identity when one is configured. The password is read from a hidden terminal prompt, from
--password-file, or from stdin with --password-file -.`,
		Flags: func() *pflag.FlagSet {
			flagSet := newFlagSet("login", &options)
			flagSet.StringVar(&homeserver, "homeserver", "", "homeserver base URL (required)")
			flagSet.StringVar(&user, "user", "", "user localpart or full user ID (required)")
			flagSet.StringVar(&passwordFile, "password-file", "", "read the password from this file, or - for stdin")
			flagSet.StringVar(&deviceName, "device-name", "roomkeeper", "display name for the new device")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if err := noArguments("login", args); err != nil {
				return err
			}
			if homeserver == "" || user == "" {
				return errors.New("login: --homeserver and --user are required")
			}
			cfg, logger, err := options.load("login")
			if err != nil {
				return err
			}

			password, err := readPassword(console, passwordFile)
			if err != nil {
				return err
			}
			defer password.Close()

			client, err := messaging.NewClient(messaging.ClientConfig{
				HomeserverURL: homeserver,
				Logger:        logger,
				UserAgent:     version.UserAgent(),
			})
			if err != nil {
				return err
			}
			session, err := client.Login(ctx, user, password, deviceName)
			if err != nil {
				return err
			}
			defer session.Close()

			recipient := ""
			if cfg.Paths.Identity != "" {
				identity, created, err := sealed.LoadOrCreateIdentity(cfg.Paths.Identity)
				if err != nil {
					return err
				}
				defer identity.Close()
				if created {
					logger.Info("created sealing identity", "path", cfg.Paths.Identity, "recipient", identity.Recipient())
				}
				recipient = identity.Recipient()
			}

			login := &credential.Login{
				Homeserver:  homeserver,
				UserID:      session.UserID(),
				DeviceID:    session.DeviceID(),
				AccessToken: session.AccessToken(),
			}
			if err := credential.Save(cfg.Paths.Login, login, recipient); err != nil {
				return err
			}
			fmt.Fprintf(console.out, "Logged in as %s (device %s); credentials saved to %s\n",
				session.UserID(), session.DeviceID(), cfg.Paths.Login)
			return nil
		},
	}
}

func readPassword(console streams, path string) (*secret.Buffer, error) {
	switch path {
	case "":
		return secret.ReadPassword(console.in, console.errOut, "Password: ")
	case "-":
		return secret.ReadPassword(console.in, console.errOut, "")
	default:
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
		defer file.Close()
		return secret.ReadPassword(file, console.errOut, "")
	}
}
