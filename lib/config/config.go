// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the environment variable consulted for a
// config file path when --config is not given.
const EnvironmentVariable = "ROOMKEEPER_CONFIG"

// StoreBackend selects where session state is persisted.
type StoreBackend string

const (
	// StoreFile keeps a CBOR snapshot at <state_dir>/session.cbor.
	StoreFile StoreBackend = "file"
	// StoreSQLite keeps state in <state_dir>/session.db.
	StoreSQLite StoreBackend = "sqlite"
	// StoreMemory keeps nothing across restarts.
	StoreMemory StoreBackend = "memory"
)

// Config is the complete roomkeeper configuration.
type Config struct {
	Paths      PathsConfig      `yaml:"paths"`
	Store      StoreConfig      `yaml:"store"`
	Sync       SyncConfig       `yaml:"sync"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Membership MembershipConfig `yaml:"membership"`
	Echo       EchoConfig       `yaml:"echo"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	Log        LogConfig        `yaml:"log"`
}

// PathsConfig configures file locations.
type PathsConfig struct {
	// BotDir holds the credentials file and, by default, state.
	BotDir string `yaml:"bot_dir"`

	// Login is the credentials file written by "roomkeeper login".
	Login string `yaml:"login"`

	// StateDir holds the session store and device keys.
	StateDir string `yaml:"state_dir"`

	// Identity is an age identity file. When set, "roomkeeper login"
	// seals the login file to it and every command opens it with it.
	Identity string `yaml:"identity"`
}

// StoreConfig configures session persistence.
type StoreConfig struct {
	Backend StoreBackend `yaml:"backend"`
}

// SyncConfig configures the long-poll loop.
type SyncConfig struct {
	// Timeout is the server-side long-poll wait.
	Timeout Duration `yaml:"timeout"`

	// MaxBackoff caps the delay between failed sync attempts.
	MaxBackoff Duration `yaml:"max_backoff"`

	// FullStateOnStart requests full room state on the seed sync even
	// when resuming from a stored cursor. The first sync without a
	// cursor always requests full state.
	FullStateOnStart bool `yaml:"full_state_on_start"`
}

// DispatchConfig configures outbound sends.
type DispatchConfig struct {
	// SendTimeout bounds each send attempt.
	SendTimeout Duration `yaml:"send_timeout"`
}

// MembershipConfig configures the automatic join/leave policy.
type MembershipConfig struct {
	// Manage enables the policy for commands where it is optional
	// (echo, watch). The autojoin command always enables it.
	Manage bool `yaml:"manage"`
}

// EchoConfig configures the echo command.
type EchoConfig struct {
	// ReplyFormat is the echo reply template. Its one %s is replaced
	// by the received body; all other text, % signs included, is
	// sent as written.
	ReplyFormat string `yaml:"reply_format"`
}

// BroadcastConfig configures the broadcast command.
type BroadcastConfig struct {
	Body string `yaml:"body"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Duration is a time.Duration that reads from YAML as a Go duration
// string ("30s", "1m30s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			BotDir:   "botdir",
			Login:    "${BOT_DIR}/login.json",
			StateDir: "${BOT_DIR}/state",
		},
		Store: StoreConfig{Backend: StoreFile},
		Sync: SyncConfig{
			Timeout:    Duration(30 * time.Second),
			MaxBackoff: Duration(30 * time.Second),
		},
		Dispatch:  DispatchConfig{SendTimeout: Duration(30 * time.Second)},
		Echo:      EchoConfig{ReplyFormat: "I received '%s'"},
		Broadcast: BroadcastConfig{Body: "Hi to all rooms!"},
		Log:       LogConfig{Level: "info"},
	}
}

// Load returns the configuration named by path, or by
// ROOMKEEPER_CONFIG when path is empty, or Default() when both are
// empty. Variables are expanded in every case.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvironmentVariable)
	}
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile reads a YAML file over the defaults and expands variables.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

// SetBotDir points the configuration at a different bot directory.
// Login and state paths that were derived from the old directory
// follow it.
func (c *Config) SetBotDir(directory string) {
	old := c.Paths.BotDir
	c.Paths.BotDir = directory
	if old == "" {
		return
	}
	c.Paths.Login = rebase(c.Paths.Login, old, directory)
	c.Paths.StateDir = rebase(c.Paths.StateDir, old, directory)
}

func rebase(path, oldPrefix, newPrefix string) string {
	if path == oldPrefix {
		return newPrefix
	}
	if rest, ok := strings.CutPrefix(path, oldPrefix+string(os.PathSeparator)); ok {
		return newPrefix + string(os.PathSeparator) + rest
	}
	return path
}

func (c *Config) expandVariables() {
	variables := map[string]string{"HOME": os.Getenv("HOME")}
	c.Paths.BotDir = expandVariables(c.Paths.BotDir, variables)
	variables["BOT_DIR"] = c.Paths.BotDir
	c.Paths.Login = expandVariables(c.Paths.Login, variables)
	c.Paths.StateDir = expandVariables(c.Paths.StateDir, variables)
	c.Paths.Identity = expandVariables(c.Paths.Identity, variables)
}

var variablePattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVariables replaces ${NAME} and ${NAME:-default}. Known
// variables win over the process environment.
func expandVariables(value string, known map[string]string) string {
	return variablePattern.ReplaceAllStringFunc(value, func(match string) string {
		parts := variablePattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if resolved, ok := known[name]; ok && resolved != "" {
			return resolved
		}
		if resolved := os.Getenv(name); resolved != "" {
			return resolved
		}
		return fallback
	})
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Paths.Login == "" {
		errs = append(errs, errors.New("paths.login is required"))
	}
	switch c.Store.Backend {
	case StoreFile, StoreSQLite:
		if c.Paths.StateDir == "" {
			errs = append(errs, fmt.Errorf("paths.state_dir is required for store backend %q", c.Store.Backend))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend must be one of file, sqlite, memory; got %q", c.Store.Backend))
	}
	if c.Sync.Timeout < 0 {
		errs = append(errs, errors.New("sync.timeout must not be negative"))
	}
	if c.Sync.MaxBackoff <= 0 {
		errs = append(errs, errors.New("sync.max_backoff must be positive"))
	}
	if c.Dispatch.SendTimeout <= 0 {
		errs = append(errs, errors.New("dispatch.send_timeout must be positive"))
	}
	if strings.Count(c.Echo.ReplyFormat, "%s") != 1 {
		errs = append(errs, fmt.Errorf("echo.reply_format must contain exactly one %%s; got %q", c.Echo.ReplyFormat))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel converts a level name into a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log.level: unknown level %q", name)
	}
	return level, nil
}
