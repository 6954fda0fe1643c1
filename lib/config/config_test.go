// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Paths.Login != filepath.Join("botdir", "login.json") {
		t.Errorf("Paths.Login = %q, want botdir/login.json", cfg.Paths.Login)
	}
	if cfg.Sync.Timeout.Std() != 30*time.Second {
		t.Errorf("Sync.Timeout = %v, want 30s", cfg.Sync.Timeout.Std())
	}
	if cfg.Broadcast.Body != "Hi to all rooms!" {
		t.Errorf("Broadcast.Body = %q", cfg.Broadcast.Body)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	directory := t.TempDir()
	path := filepath.Join(directory, "roomkeeper.yaml")
	content := `
paths:
  bot_dir: /srv/bot
store:
  backend: sqlite
sync:
  timeout: 10s
  max_backoff: 1m
echo:
  reply_format: "echo: %s"
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Paths.Login != "/srv/bot/login.json" {
		t.Errorf("Paths.Login = %q, want /srv/bot/login.json", cfg.Paths.Login)
	}
	if cfg.Paths.StateDir != "/srv/bot/state" {
		t.Errorf("Paths.StateDir = %q", cfg.Paths.StateDir)
	}
	if cfg.Store.Backend != StoreSQLite {
		t.Errorf("Store.Backend = %q", cfg.Store.Backend)
	}
	if cfg.Sync.Timeout.Std() != 10*time.Second || cfg.Sync.MaxBackoff.Std() != time.Minute {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	// Untouched sections keep their defaults.
	if cfg.Dispatch.SendTimeout.Std() != 30*time.Second {
		t.Errorf("Dispatch.SendTimeout = %v", cfg.Dispatch.SendTimeout.Std())
	}
}

func TestLoadUsesEnvironmentVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roomkeeper.yaml")
	if err := os.WriteFile(path, []byte("broadcast:\n  body: hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broadcast.Body != "hello" {
		t.Errorf("Broadcast.Body = %q, want hello", cfg.Broadcast.Body)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile of missing file succeeded")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("sync:\n  timeout: soon\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("LoadFile with invalid duration succeeded")
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "redis"
	cfg.Sync.MaxBackoff = 0
	cfg.Echo.ReplyFormat = "no placeholder"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate succeeded on invalid config")
	}
	for _, want := range []string{"store.backend", "sync.max_backoff", "echo.reply_format", "log.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidateReplyFormat(t *testing.T) {
	tests := []struct {
		format string
		valid  bool
	}{
		{"I received '%s'", true},
		{"%s at 100%", true},
		{"%d: %s", true},
		{"no placeholder", false},
		{"%s and %s", false},
	}
	for _, test := range tests {
		cfg := Default()
		cfg.Echo.ReplyFormat = test.format
		err := cfg.Validate()
		if test.valid && err != nil {
			t.Errorf("Validate(%q) = %v, want nil", test.format, err)
		}
		if !test.valid && (err == nil || !strings.Contains(err.Error(), "echo.reply_format")) {
			t.Errorf("Validate(%q) = %v, want reply_format error", test.format, err)
		}
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("ROOMKEEPER_TEST_ROOT", "/data")
	known := map[string]string{"BOT_DIR": "/bots/echo"}

	tests := []struct {
		input string
		want  string
	}{
		{"${BOT_DIR}/login.json", "/bots/echo/login.json"},
		{"${ROOMKEEPER_TEST_ROOT}/state", "/data/state"},
		{"${ROOMKEEPER_TEST_UNSET:-/fallback}/state", "/fallback/state"},
		{"plain/path", "plain/path"},
	}
	for _, test := range tests {
		if got := expandVariables(test.input, known); got != test.want {
			t.Errorf("expandVariables(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestSetBotDir(t *testing.T) {
	cfg := Default()
	cfg.expandVariables()
	cfg.SetBotDir("/other")
	if cfg.Paths.Login != "/other/login.json" {
		t.Errorf("Paths.Login = %q", cfg.Paths.Login)
	}
	if cfg.Paths.StateDir != "/other/state" {
		t.Errorf("Paths.StateDir = %q", cfg.Paths.StateDir)
	}

	cfg.Paths.Login = "/etc/roomkeeper/login.json"
	cfg.SetBotDir("/third")
	if cfg.Paths.Login != "/etc/roomkeeper/login.json" {
		t.Errorf("explicit login path rebased: %q", cfg.Paths.Login)
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	if err != nil || level != slog.LevelWarn {
		t.Errorf("ParseLevel(warn) = %v, %v", level, err)
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("ParseLevel(verbose) succeeded")
	}
}
