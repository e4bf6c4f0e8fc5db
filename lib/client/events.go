// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package client

import "github.com/arena-foundation/arena/lib/wire"

// Phase is where the client is in the master → worker → master cycle.
type Phase uint8

const (
	PhaseConnecting Phase = iota
	// PhaseIdle: bound to an identity on the master, not queued.
	PhaseIdle
	PhaseQueued
	// PhaseMatched: a party was formed and a worker is starting.
	PhaseMatched
	// PhaseMoving: the master connection is closed and the worker
	// connection is being opened.
	PhaseMoving
	PhaseInSession
	// PhaseReturning: the session is over and the master connection is
	// being reopened.
	PhaseReturning
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseIdle:
		return "idle"
	case PhaseQueued:
		return "queued"
	case PhaseMatched:
		return "matched"
	case PhaseMoving:
		return "moving"
	case PhaseInSession:
		return "in-session"
	case PhaseReturning:
		return "returning"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// EventKind identifies an Event.
type EventKind uint8

const (
	// EventWelcome: the master bound the connection to Event.Identity.
	EventWelcome EventKind = iota + 1
	EventQueueStatus
	EventMatchFound
	EventMatchCancelled
	// EventJoined: worker-join was sent on a fresh worker connection.
	EventJoined
	EventQuorumReached
	EventSnapshot
	EventMemberLeft
	EventLeftSession
	EventSessionEnd
	// EventMessage: a simulation envelope from the worker.
	EventMessage
	// EventError: a peer rejected a request. Err is a *fault.Error.
	EventError
	// EventDisconnected: the master connection was lost. Terminal.
	EventDisconnected
	// EventCannotConnect: every connect attempt failed. Terminal.
	EventCannotConnect
)

func (k EventKind) String() string {
	switch k {
	case EventWelcome:
		return "welcome"
	case EventQueueStatus:
		return "queue-status"
	case EventMatchFound:
		return "match-found"
	case EventMatchCancelled:
		return "match-cancelled"
	case EventJoined:
		return "joined"
	case EventQuorumReached:
		return "quorum-reached"
	case EventSnapshot:
		return "snapshot"
	case EventMemberLeft:
		return "member-left"
	case EventLeftSession:
		return "left-session"
	case EventSessionEnd:
		return "session-end"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventDisconnected:
		return "disconnected"
	case EventCannotConnect:
		return "cannot-connect"
	default:
		return "unknown"
	}
}

// Event is something the client observed. Envelope is the message
// that caused it, when there was one; decode it for the details.
type Event struct {
	Kind     EventKind
	Envelope wire.Envelope
	Identity wire.Identity
	RoomID   uint32
	Err      error
}
