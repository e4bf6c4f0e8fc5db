// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"strconv"
)

// LaunchSpec is the argument contract between the orchestrator and a
// worker process. The party itself is not passed: the worker pulls it
// over its master connection after the handshake.
type LaunchSpec struct {
	MasterHost string
	MasterPort uint16
	SessionID  uint32
	ListenHost string
	// ListenPort zero lets the worker pick a port; it reports the
	// actual one in worker-ready.
	ListenPort uint16
	// ConfigPath is the master's config file, so the worker runs with
	// the same settings. Empty leaves the worker to its own lookup.
	ConfigPath string
}

// Args renders the spec as worker command-line flags.
func (s LaunchSpec) Args() []string {
	args := []string{
		"--master-host", s.MasterHost,
		"--master-port", strconv.Itoa(int(s.MasterPort)),
		"--session-id", strconv.FormatUint(uint64(s.SessionID), 10),
		"--listen-port", strconv.Itoa(int(s.ListenPort)),
	}
	if s.ListenHost != "" {
		args = append(args, "--listen-host", s.ListenHost)
	}
	if s.ConfigPath != "" {
		args = append(args, "--config", s.ConfigPath)
	}
	return args
}

// Process is a running worker.
type Process interface {
	// Exited is closed when the process has exited.
	Exited() <-chan struct{}
	// Kill terminates the process and anything it started. Killing an
	// exited process is not an error.
	Kill() error
}

// Spawner starts worker processes. ctx bounds the start only, not the
// lifetime of the process.
type Spawner interface {
	Spawn(ctx context.Context, spec LaunchSpec) (Process, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(ctx context.Context, spec LaunchSpec) (Process, error)

func (f SpawnerFunc) Spawn(ctx context.Context, spec LaunchSpec) (Process, error) {
	return f(ctx, spec)
}
