// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommandDispatchesToSubcommand(t *testing.T) {
	var called string
	root := &Command{
		Name: "roomkeeper",
		Subcommands: []*Command{
			{Name: "echo", Run: func(context.Context, []string) error { called = "echo"; return nil }},
			{Name: "watch", Run: func(context.Context, []string) error { called = "watch"; return nil }},
		},
	}

	if err := root.Execute(context.Background(), []string{"watch"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "watch" {
		t.Errorf("dispatched to %q, want watch", called)
	}
}

func TestCommandParsesFlagsAndPassesArgs(t *testing.T) {
	var yes bool
	var botDir string
	var received []string
	root := &Command{
		Name: "roomkeeper",
		Subcommands: []*Command{{
			Name: "broadcast",
			Flags: func() *pflag.FlagSet {
				flagSet := pflag.NewFlagSet("broadcast", pflag.ContinueOnError)
				flagSet.BoolVarP(&yes, "yes", "y", false, "skip confirmation")
				flagSet.StringVar(&botDir, "bot-dir", "botdir", "bot directory")
				return flagSet
			},
			Run: func(_ context.Context, args []string) error {
				received = args
				return nil
			},
		}},
	}

	if err := root.Execute(context.Background(), []string{"broadcast", "-y", "--bot-dir", "/tmp/bot", "extra"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !yes || botDir != "/tmp/bot" {
		t.Errorf("yes = %v, bot-dir = %q", yes, botDir)
	}
	if len(received) != 1 || received[0] != "extra" {
		t.Errorf("args = %v, want [extra]", received)
	}
}

func TestCommandSuggestsUnknownCommand(t *testing.T) {
	root := &Command{
		Name:        "roomkeeper",
		Subcommands: []*Command{{Name: "autojoin", Run: func(context.Context, []string) error { return nil }}},
	}
	err := root.Execute(context.Background(), []string{"autojion"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "autojoin"`) {
		t.Errorf("error = %v, want suggestion", err)
	}
}

func TestCommandSuggestsUnknownFlag(t *testing.T) {
	command := &Command{
		Name: "broadcast",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("broadcast", pflag.ContinueOnError)
			flagSet.Bool("yes", false, "skip confirmation")
			flagSet.String("config", "", "config file")
			return flagSet
		},
		Run: func(context.Context, []string) error { return nil },
	}
	err := command.Execute(context.Background(), []string{"--confg", "x.yaml"})
	if err == nil || !strings.Contains(err.Error(), "did you mean --config?") {
		t.Errorf("error = %v, want --config suggestion", err)
	}
}

func TestCommandHelpListsSubcommandsAndFlags(t *testing.T) {
	var output bytes.Buffer
	root := &Command{
		Name:        "roomkeeper",
		Description: "Matrix room bot.",
		Output:      &output,
		Subcommands: []*Command{{
			Name:    "echo",
			Summary: "Reply to every message",
			Flags: func() *pflag.FlagSet {
				flagSet := pflag.NewFlagSet("echo", pflag.ContinueOnError)
				flagSet.Bool("manage-membership", false, "join invites and leave empty rooms")
				return flagSet
			},
			Run: func(context.Context, []string) error { return nil },
		}},
	}

	if err := root.Execute(context.Background(), []string{"--help"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, want := range []string{"Matrix room bot.", "echo", "Reply to every message", "roomkeeper <command> --help"} {
		if !strings.Contains(output.String(), want) {
			t.Errorf("root help missing %q:\n%s", want, output.String())
		}
	}

	output.Reset()
	if err := root.Execute(context.Background(), []string{"echo", "--help"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(output.String(), "--manage-membership") {
		t.Errorf("echo help missing flag:\n%s", output.String())
	}
	if !strings.Contains(output.String(), "roomkeeper echo [flags]") {
		t.Errorf("echo help missing usage:\n%s", output.String())
	}
}

func TestCommandRequiresSubcommand(t *testing.T) {
	root := &Command{
		Name:        "roomkeeper",
		Output:      &bytes.Buffer{},
		Subcommands: []*Command{{Name: "echo", Run: func(context.Context, []string) error { return nil }}},
	}
	if err := root.Execute(context.Background(), nil); err == nil {
		t.Error("Execute with no command succeeded")
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"echo", "echo", 0},
		{"echo", "ecoh", 2},
		{"watch", "wach", 1},
		{"", "abc", 3},
		{"invites", "invite", 1},
		{"héllo", "hello", 1},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}

func TestExitErrorCode(t *testing.T) {
	var err error = &ExitError{Code: 3}
	coder, ok := err.(interface{ ExitCode() int })
	if !ok || coder.ExitCode() != 3 {
		t.Errorf("ExitError does not report its code")
	}
}
