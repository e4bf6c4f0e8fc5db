// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"

	"github.com/arena-foundation/arena/lib/fault"
)

// WorkerState is the lifecycle state of a session's worker slot.
type WorkerState uint8

const (
	// Inactive: the slot is unused.
	Inactive WorkerState = iota
	// Launched: the worker process was spawned.
	Launched
	// Created: the worker connected back and received its payload.
	Created
	// WaitingPlayers: the worker listens for its party.
	WaitingPlayers
	// Running: every party member joined and the tick loop started.
	Running
	// Finished: the worker reported the result. The slot returns to
	// Inactive once the result is recorded.
	Finished
)

// next lists the single valid successor of each state. Aborting a
// session (spawn failure, lost worker) is not a transition: the slot is
// released directly.
var next = [...]WorkerState{
	Inactive:       Launched,
	Launched:       Created,
	Created:        WaitingPlayers,
	WaitingPlayers: Running,
	Running:        Finished,
	Finished:       Inactive,
}

func (s WorkerState) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Launched:
		return "launched"
	case Created:
		return "created"
	case WaitingPlayers:
		return "waiting-players"
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// CanTransitionTo reports whether to is the valid successor of s.
func (s WorkerState) CanTransitionTo(to WorkerState) bool {
	return int(s) < len(next) && next[s] == to
}

func checkTransition(roomID uint32, from, to WorkerState) error {
	if !from.CanTransitionTo(to) {
		return fault.Newf(fault.InvalidTransition, "session.transition",
			"room %d: %s -> %s", roomID, from, to)
	}
	return nil
}
