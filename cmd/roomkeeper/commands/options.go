// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/roomkeeper/cmd/roomkeeper/cli"
	"github.com/bureau-foundation/roomkeeper/lib/config"
)

// globalOptions are the flags every command accepts.
type globalOptions struct {
	ConfigPath string
	BotDir     string
	Store      string
	LogLevel   string
}

func (o *globalOptions) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&o.ConfigPath, "config", "", "configuration file (default $"+config.EnvironmentVariable+", else built-in defaults)")
	flagSet.StringVar(&o.BotDir, "bot-dir", "", "bot directory holding login.json and state (overrides paths.bot_dir)")
	flagSet.StringVar(&o.Store, "store", "", "state store backend: file, sqlite, or memory (overrides store.backend)")
	flagSet.StringVar(&o.LogLevel, "log-level", "", "log level: debug, info, warn, error (overrides log.level)")
}

// load resolves the configuration with flag overrides applied and
// returns it with a command logger at the configured level.
func (o *globalOptions) load(command string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if o.BotDir != "" {
		cfg.SetBotDir(o.BotDir)
	}
	if o.Store != "" {
		cfg.Store.Backend = config.StoreBackend(o.Store)
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cli.NewCommandLogger(level).With("command", command), nil
}

func newFlagSet(name string, options *globalOptions) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	options.register(flagSet)
	return flagSet
}

func noArguments(command string, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%s: unexpected argument %q", command, args[0])
	}
	return nil
}
