// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/arena-foundation/arena/lib/fault"
)

// ExecSpawner runs the configured worker executable with the
// LaunchSpec flags. Each worker gets its own process group so Kill
// reaches anything the worker started.
type ExecSpawner struct {
	Path   string
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func (s *ExecSpawner) Spawn(ctx context.Context, spec LaunchSpec) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, fault.New(fault.SpawnFailed, "spawn", err)
	}
	if s.Path == "" {
		return nil, fault.Newf(fault.SpawnFailed, "spawn", "no worker executable configured")
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cmd := exec.Command(s.Path, spec.Args()...)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fault.New(fault.SpawnFailed, "spawn", fmt.Errorf("starting %s: %w", s.Path, err))
	}

	process := &execProcess{cmd: cmd, exited: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		if err != nil {
			logger.Warn("worker process exited", "session_id", spec.SessionID, "pid", cmd.Process.Pid, "error", err)
		} else {
			logger.Debug("worker process exited", "session_id", spec.SessionID, "pid", cmd.Process.Pid)
		}
		close(process.exited)
	}()
	return process, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	exited chan struct{}
}

func (p *execProcess) Exited() <-chan struct{} { return p.exited }

// Kill sends SIGKILL to the worker's process group.
func (p *execProcess) Kill() error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	err := unix.Kill(-p.cmd.Process.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
