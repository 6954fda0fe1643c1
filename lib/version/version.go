// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty is "true" when the tree had uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version, set by hand for releases.
	Version = "0.1.0-dev"
)

// build is the resolved build description.
type build struct {
	commit string
	dirty  bool
	time   string
}

// resolve prefers ldflags values and fills the gaps from the embedded
// VCS settings.
func resolve(info *debug.BuildInfo, ok bool) build {
	resolved := build{commit: GitCommit, dirty: GitDirty == "true", time: BuildTime}
	if !ok || info == nil {
		return resolved
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if resolved.commit == "unknown" && setting.Value != "" {
				resolved.commit = setting.Value[:min(len(setting.Value), 12)]
			}
		case "vcs.modified":
			if GitDirty == "false" && setting.Value == "true" {
				resolved.dirty = true
			}
		case "vcs.time":
			if resolved.time == "unknown" && setting.Value != "" {
				resolved.time = setting.Value
			}
		}
	}
	return resolved
}

func current() build {
	return resolve(debug.ReadBuildInfo())
}

func (b build) String() string {
	dirty := ""
	if b.dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, b.commit, dirty, b.time)
}

// Info returns a one-line version string for --version output.
func Info() string {
	return current().String()
}

// Full returns Info plus the Go toolchain and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent is the HTTP User-Agent roomkeeper sends to homeservers.
func UserAgent() string {
	return "roomkeeper/" + Version
}
