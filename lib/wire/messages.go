// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "github.com/arena-foundation/arena/lib/codec"

// Envelope kinds understood by the core. Any other kind is a
// simulation-layer message.
const (
	// Heartbeat, both directions on every connection.
	KindPing = "ping"
	KindPong = "pong"

	// Client ↔ master.
	KindHello             = "hello"
	KindWelcome           = "welcome"
	KindJoinQueue         = "join-queue"
	KindLeaveQueue        = "leave-queue"
	KindQueueStatus       = "queue-status"
	KindMatchFound        = "match-found"
	KindMatchCancelled    = "match-cancelled"
	KindChangeEndpoint    = "change-endpoint"
	KindChangeEndpointAck = "change-endpoint-ack"
	KindConnectToWorker   = "connect-to-worker"
	KindReturnToMaster    = "return-to-master"
	KindDeleteIdentity    = "delete-identity"

	// Worker ↔ master.
	KindWorkerCreated  = "worker-created"
	KindSessionPayload = "session-payload"
	KindWorkerReady    = "worker-ready"
	KindShutdown       = "shutdown"

	// Client ↔ worker (quorum, member-left and session-end also go to
	// the master).
	KindWorkerJoin          = "worker-join"
	KindWorkerQuorumReached = "worker-quorum-reached"
	KindTickSnapshot        = "tick-snapshot"
	KindMemberLeft          = "member-left"
	KindLeaveSession        = "leave-session"
	KindLeaveSessionAck     = "leave-session-ack"
	KindSessionEnd          = "session-end"

	// Any role.
	KindError = "error"

	// Operator ↔ master.
	KindStatus       = "status"
	KindStatusReport = "status-report"
)

// IsCore reports whether kind is handled by the core rather than passed
// through to the simulation.
func IsCore(kind string) bool {
	switch kind {
	case KindPing, KindPong, KindHello, KindWelcome, KindJoinQueue,
		KindLeaveQueue, KindQueueStatus, KindMatchFound, KindMatchCancelled,
		KindChangeEndpoint, KindChangeEndpointAck, KindConnectToWorker,
		KindReturnToMaster, KindDeleteIdentity, KindWorkerCreated,
		KindSessionPayload, KindWorkerReady, KindShutdown, KindWorkerJoin,
		KindWorkerQuorumReached, KindTickSnapshot, KindMemberLeft,
		KindLeaveSession, KindLeaveSessionAck, KindSessionEnd, KindError,
		KindStatus, KindStatusReport:
		return true
	}
	return false
}

// Identity is an identity as it travels between processes: by value,
// never with a connection attached.
type Identity struct {
	ID          uint64 `cbor:"id"`
	DisplayName string `cbor:"display_name,omitempty"`
}

// Ping carries the sender's last measured round trip so the peer can
// display latency without measuring it itself.
type Ping struct {
	LastRoundTripMillis int64 `cbor:"last_rtt_ms"`
}

// Hello is a client's first envelope to the master. IdentityID zero
// asks the master to register a new identity.
type Hello struct {
	IdentityID  uint64 `cbor:"identity_id,omitempty"`
	DisplayName string `cbor:"display_name"`
}

// Welcome answers Hello and ReturnToMaster.
type Welcome struct {
	Identity  Identity `cbor:"identity"`
	Returning bool     `cbor:"returning,omitempty"`
}

type QueueStatus struct {
	Queued bool `cbor:"queued"`
	Length int  `cbor:"length"`
}

type MatchFound struct {
	RoomID uint32   `cbor:"room_id"`
	Party  []uint64 `cbor:"party"`
}

// MatchCancelled tells a party member its match will not start.
// Requeued reports whether the master put it back in the queue.
type MatchCancelled struct {
	RoomID   uint32 `cbor:"room_id"`
	Reason   string `cbor:"reason"`
	Requeued bool   `cbor:"requeued,omitempty"`
}

// ChangeEndpoint announces the worker a client is about to move to.
// The client acknowledges before it is told to actually move.
type ChangeEndpoint struct {
	RoomID uint32 `cbor:"room_id"`
	Host   string `cbor:"host"`
	Port   uint16 `cbor:"port"`
	Ticket []byte `cbor:"ticket"`
}

type ChangeEndpointAck struct {
	RoomID uint32 `cbor:"room_id"`
}

type ConnectToWorker struct {
	RoomID uint32 `cbor:"room_id"`
	Host   string `cbor:"host"`
	Port   uint16 `cbor:"port"`
}

// ReturnToMaster re-binds an identity to a fresh master connection
// after a session.
type ReturnToMaster struct {
	Identity  Identity `cbor:"identity"`
	SessionID uint32   `cbor:"session_id,omitempty"`
}

type DeleteIdentity struct {
	IdentityID uint64 `cbor:"identity_id"`
}

// WorkerCreated is the worker's handshake on its master connection.
type WorkerCreated struct {
	SessionID uint32 `cbor:"session_id"`
	Host      string `cbor:"host"`
	Port      uint16 `cbor:"port"`
}

// SessionPayload is what the worker pulls from the master after its
// handshake: the matched party and the session's parameters.
type SessionPayload struct {
	SessionID      uint32     `cbor:"session_id"`
	Party          []Identity `cbor:"party"`
	TicksPerSecond int        `cbor:"ticks_per_second"`
	TicketKey      []byte     `cbor:"ticket_key"`
}

// WorkerReady reports that the worker is listening for its party.
type WorkerReady struct {
	SessionID uint32 `cbor:"session_id"`
	Host      string `cbor:"host"`
	Port      uint16 `cbor:"port"`
}

type Shutdown struct {
	SessionID uint32 `cbor:"session_id"`
}

// WorkerJoin is a client's first envelope to the worker.
type WorkerJoin struct {
	Identity Identity `cbor:"identity"`
	Ticket   []byte   `cbor:"ticket"`
}

type WorkerQuorumReached struct {
	SessionID uint32   `cbor:"session_id"`
	Members   []uint64 `cbor:"members"`
}

// TickSnapshot is broadcast once per tick. Entries holds whatever the
// simulation recorded per member, as raw CBOR.
type TickSnapshot struct {
	SessionID uint32                      `cbor:"session_id"`
	Tick      uint64                      `cbor:"tick"`
	Members   []uint64                    `cbor:"members"`
	Entries   map[uint64]codec.RawMessage `cbor:"entries,omitempty"`
}

type MemberLeft struct {
	SessionID  uint32 `cbor:"session_id"`
	IdentityID uint64 `cbor:"identity_id"`
	Graceful   bool   `cbor:"graceful"`
}

type LeaveSessionAck struct {
	SessionID uint32 `cbor:"session_id"`
}

// SessionEnd is the session result: FinishOrder ranks members best
// first.
type SessionEnd struct {
	SessionID            uint32   `cbor:"session_id"`
	FinishOrder          []uint64 `cbor:"finish_order"`
	EndedByDisconnection bool     `cbor:"ended_by_disconnection"`
}

// Error reports a rejected request. Kind is a fault kind name.
type Error struct {
	Kind    string `cbor:"kind"`
	Message string `cbor:"message"`
}

// SessionStatus describes one active session in a StatusReport.
type SessionStatus struct {
	RoomID uint32   `json:"room_id"`
	Slot   int      `json:"slot"`
	State  string   `json:"state"`
	Party  []uint64 `json:"party"`
	Host   string   `json:"host,omitempty"`
	Port   uint16   `json:"port,omitempty"`
}

// StatusReport answers an operator's status request.
type StatusReport struct {
	Identities int             `json:"identities"`
	Connected  int             `json:"connected"`
	Queued     int             `json:"queued"`
	Budget     int             `json:"budget"`
	Sessions   []SessionStatus `json:"sessions"`
}
