// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports which build of an Arena binary is running.
//
// Release builds stamp Version, Commit and BuildTime with -ldflags:
//
//	go build -ldflags "-X github.com/arena-foundation/arena/lib/version.Commit=$(git rev-parse --short HEAD)" ./cmd/...
//
// Development builds leave Commit empty and fall back to the VCS
// revision the toolchain embeds. Every binary answers --version with
// [Print] and logs [Attr] on startup, so a master and the workers it
// spawned can be matched up in the logs.
package version
