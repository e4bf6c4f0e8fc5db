// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"runtime/debug"
)

// Release builds set these with -ldflags "-X". Commit falls back to the
// VCS stamp the Go toolchain embeds.
var (
	Version   = "0.1.0-dev"
	Commit    = ""
	BuildTime = ""
)

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// commit returns the short revision and whether the tree was modified.
func commit() (string, bool) {
	if Commit != "" {
		return Commit, false
	}
	info, ok := readBuildInfo()
	if !ok {
		return "unknown", false
	}
	revision, modified := "unknown", false
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
			if len(revision) > 12 {
				revision = revision[:12]
			}
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	return revision, modified
}

// Info returns "version (commit)", with -dirty appended to a modified
// tree's commit.
func Info() string {
	revision, modified := commit()
	if modified {
		revision += "-dirty"
	}
	if BuildTime != "" {
		return fmt.Sprintf("%s (%s, %s)", Version, revision, BuildTime)
	}
	return fmt.Sprintf("%s (%s)", Version, revision)
}

// Attr is the version as a log attribute group.
func Attr() slog.Attr {
	revision, modified := commit()
	return slog.Group("build",
		slog.String("version", Version),
		slog.String("commit", revision),
		slog.Bool("dirty", modified),
	)
}

// Write prints the --version output for binary to w.
func Write(w io.Writer, binary string) {
	fmt.Fprintf(w, "%s %s\n  go: %s %s/%s\n", binary, Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Print writes the --version output for binary to stdout.
func Print(binary string) {
	Write(os.Stdout, binary)
}
