// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package fault classifies the failures Arena components report to each
// other. Transport-level faults are converted into departure or eviction
// events where they are observed; orchestration faults are returned as
// explicit results. Callers branch on the Kind with Is:
//
//	if fault.Is(err, fault.ConnectFailed) { ... }
package fault

import (
	"errors"
	"fmt"
)

// Kind is the category of a fault.
type Kind uint8

const (
	// ConnectFailed: an outbound connection could not be established
	// within the configured attempt budget.
	ConnectFailed Kind = iota + 1

	// PeerUnreachable: the remote end closed or reset the connection,
	// or a write to it failed.
	PeerUnreachable

	// ProtocolViolation: a malformed frame or an envelope that is not
	// valid for the connection's role. The connection is closed.
	ProtocolViolation

	// CapacityExceeded: no worker slot became free before the caller
	// gave up waiting.
	CapacityExceeded

	// SpawnFailed: a worker process could not be started.
	SpawnFailed

	// UnknownIdentity: an identity id that the receiver does not know
	// or that is not part of the receiver's party.
	UnknownIdentity

	// InvalidTransition: a session state change not allowed by the
	// worker lifecycle.
	InvalidTransition
)

func (k Kind) String() string {
	switch k {
	case ConnectFailed:
		return "connect-failed"
	case PeerUnreachable:
		return "peer-unreachable"
	case ProtocolViolation:
		return "protocol-violation"
	case CapacityExceeded:
		return "capacity-exceeded"
	case SpawnFailed:
		return "spawn-failed"
	case UnknownIdentity:
		return "unknown-identity"
	case InvalidTransition:
		return "invalid-transition"
	default:
		return fmt.Sprintf("fault(%d)", uint8(k))
	}
}

// ParseKind is the inverse of Kind.String. Unknown names return zero.
func ParseKind(name string) Kind {
	for k := ConnectFailed; k <= InvalidTransition; k++ {
		if k.String() == name {
			return k
		}
	}
	return 0
}

// Error is a classified failure. Op names the operation that failed
// ("dial", "send", "spawn", ...).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf returns a classified error with a formatted cause.
func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Is reports whether any error in err's chain is a *Error of kind.
func Is(err error, kind Kind) bool {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or zero.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return 0
}
