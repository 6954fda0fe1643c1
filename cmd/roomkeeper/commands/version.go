// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/roomkeeper/cmd/roomkeeper/cli"
	"github.com/bureau-foundation/roomkeeper/lib/version"
)

func versionCommand(console streams) *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print the roomkeeper build",
		Run: func(_ context.Context, args []string) error {
			if err := noArguments("version", args); err != nil {
				return err
			}
			fmt.Fprintln(console.out, "roomkeeper "+version.Full())
			return nil
		},
	}
}
