// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package session runs the master side of every session: worker
// process lifecycle, room numbering, the worker budget, and the master
// half of the handoff that moves a party from the master to its worker
// and back.
//
// Each session walks the WorkerState machine
//
//	Inactive → Launched → Created → WaitingPlayers → Running → Finished
//
// driven by CreateSession and by the worker's reports, which the
// master's connection handlers forward (WorkerCreated, WorkerReady,
// QuorumReached, WorkerFinished). Transitions of one session are
// serialized by that session's lock; independent sessions proceed in
// parallel, bounded by a semaphore sized to the worker budget.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/arena-foundation/arena/lib/clock"
	"github.com/arena-foundation/arena/lib/fault"
	"github.com/arena-foundation/arena/lib/handoff"
	"github.com/arena-foundation/arena/lib/identity"
	"github.com/arena-foundation/arena/lib/wire"
)

// Members is the identity store the orchestrator notifies and updates.
// *identity.Registry satisfies it.
type Members interface {
	Lookup(id uint64) (identity.Identity, bool)
	Send(id uint64, envelope wire.Envelope) error
	AssignSession(ids []uint64, roomID uint32)
	ClearSession(ids []uint64, roomID uint32)
	MarkLeftEarly(id uint64, roomID uint32)
}

// WorkerConn is a worker's connection to the master.
type WorkerConn interface {
	Send(envelope wire.Envelope) error
}

// Result is a finished session, delivered to OnSessionFinished
// observers.
type Result struct {
	RoomID               uint32
	Party                []uint64
	FinishOrder          []uint64
	EndedByDisconnection bool
}

// Cancellation is a session that ended before it finished, delivered
// to OnCancelled observers. The party's assignments are already
// cleared; requeueing and notifying the party is the observer's
// policy.
type Cancellation struct {
	RoomID uint32
	Party  []uint64
	Reason string
	Err    error
}

// Config configures an Orchestrator.
type Config struct {
	// Budget is the number of worker slots, the maximum number of
	// sessions not yet finished.
	Budget         int
	PartySize      int
	TicksPerSecond int

	// MasterHost and MasterPort are passed to workers so they can
	// connect back.
	MasterHost string
	MasterPort uint16

	// WorkerHost is the address workers listen on and clients connect
	// to. Slot i listens on WorkerBasePort+i; a zero base lets each
	// worker choose.
	WorkerHost     string
	WorkerBasePort uint16

	// WorkerConfigPath is passed to every worker as --config.
	WorkerConfigPath string

	// ShutdownGrace is how long a worker has to exit after shutdown
	// before it is killed.
	ShutdownGrace time.Duration

	Spawner Spawner
	Members Members
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	config  Config
	clock   clock.Clock
	logger  *slog.Logger
	permits chan struct{}

	// mu guards the slot table, the room index and the observer lists.
	// It is never held while a session lock is being acquired.
	mu         sync.Mutex
	lastRoomID uint32
	slots      []*Session
	rooms      map[uint32]*Session
	finished   []func(Result)
	cancelled  []func(Cancellation)
}

// Session is one matched party's lifetime, from spawn to result.
type Session struct {
	roomID uint32
	slot   int
	party  []uint64
	key    handoff.Key
	logger *slog.Logger

	mu       sync.Mutex
	state    WorkerState
	host     string
	port     uint16
	process  Process
	worker   WorkerConn
	moved    map[uint64]bool
	released bool
}

// RoomID returns the session's room id.
func (s *Session) RoomID() uint32 { return s.roomID }

// Party returns the session's party, in slot order.
func (s *Session) Party() []uint64 { return slices.Clone(s.party) }

// State returns the session's current state.
func (s *Session) State() WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// New validates config and returns an Orchestrator with every slot
// Inactive.
func New(config Config) (*Orchestrator, error) {
	if config.Budget <= 0 {
		return nil, fmt.Errorf("session: budget must be positive, got %d", config.Budget)
	}
	if config.PartySize <= 0 {
		return nil, fmt.Errorf("session: party size must be positive, got %d", config.PartySize)
	}
	if config.Spawner == nil {
		return nil, fmt.Errorf("session: nil spawner")
	}
	if config.Members == nil {
		return nil, fmt.Errorf("session: nil members")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = 5 * time.Second
	}
	return &Orchestrator{
		config:  config,
		clock:   config.Clock,
		logger:  config.Logger,
		permits: make(chan struct{}, config.Budget),
		slots:   make([]*Session, config.Budget),
		rooms:   make(map[uint32]*Session),
	}, nil
}

// OnSessionFinished registers fn to run after every finished session
// has released its slot.
func (o *Orchestrator) OnSessionFinished(fn func(Result)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, fn)
}

// OnCancelled registers fn to run after a session is aborted.
func (o *Orchestrator) OnCancelled(fn func(Cancellation)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelled = append(o.cancelled, fn)
}

// CreateSession launches a worker for party. It blocks until a worker
// slot is free: capacity is backpressure, and only ctx ending first
// turns it into a CapacityExceeded error. A spawn failure aborts the
// session (observers see a Cancellation) and returns SpawnFailed.
func (o *Orchestrator) CreateSession(ctx context.Context, party []uint64) (*Session, error) {
	if len(party) != o.config.PartySize {
		return nil, fmt.Errorf("session: party of %d, want %d", len(party), o.config.PartySize)
	}

	select {
	case o.permits <- struct{}{}:
	case <-ctx.Done():
		return nil, fault.New(fault.CapacityExceeded, "session.create", ctx.Err())
	}

	key, err := handoff.NewKey()
	if err != nil {
		<-o.permits
		return nil, fmt.Errorf("session: %w", err)
	}

	o.mu.Lock()
	o.lastRoomID++
	roomID := o.lastRoomID
	slot := slices.Index(o.slots, nil)
	if slot < 0 {
		// The semaphore admits at most one session per slot.
		o.mu.Unlock()
		<-o.permits
		return nil, fault.Newf(fault.CapacityExceeded, "session.create", "no free slot with a permit held")
	}
	session := &Session{
		roomID: roomID,
		slot:   slot,
		party:  slices.Clone(party),
		key:    key,
		logger: o.logger.With("room_id", roomID, "slot", slot),
		state:  Launched,
		host:   o.config.WorkerHost,
		moved:  make(map[uint64]bool, len(party)),
	}
	o.slots[slot] = session
	o.rooms[roomID] = session
	o.mu.Unlock()

	session.logger.Info("session launched", "party", party)
	o.config.Members.AssignSession(session.party, roomID)
	o.broadcast(session, wire.MustNew(wire.KindMatchFound, wire.MatchFound{RoomID: roomID, Party: session.party}))

	spec := LaunchSpec{
		MasterHost: o.config.MasterHost,
		MasterPort: o.config.MasterPort,
		SessionID:  roomID,
		ListenHost: o.config.WorkerHost,
		ConfigPath: o.config.WorkerConfigPath,
	}
	if o.config.WorkerBasePort != 0 {
		spec.ListenPort = o.config.WorkerBasePort + uint16(slot)
	}
	process, err := o.config.Spawner.Spawn(ctx, spec)
	if err != nil {
		if !fault.Is(err, fault.SpawnFailed) {
			err = fault.New(fault.SpawnFailed, "session.create", err)
		}
		session.logger.Error("worker spawn failed", "error", err)
		o.abort(session, "worker spawn failed", err)
		return nil, err
	}

	session.mu.Lock()
	session.process = process
	session.mu.Unlock()
	go o.watchProcess(session, process)
	return session, nil
}

// watchProcess aborts a session whose worker exits before finishing.
func (o *Orchestrator) watchProcess(session *Session, process Process) {
	<-process.Exited()
	session.mu.Lock()
	state, released := session.state, session.released
	session.mu.Unlock()
	if released || state == Finished {
		return
	}
	session.logger.Warn("worker process exited before the session finished", "state", state.String())
	o.abort(session, "worker exited", fault.Newf(fault.PeerUnreachable, "session.watch", "worker for room %d exited", session.roomID))
}

// WorkerCreated records the worker's connection (Launched → Created)
// and replies with the session payload.
func (o *Orchestrator) WorkerCreated(roomID uint32, conn WorkerConn, host string, port uint16) error {
	session, err := o.lookup(roomID)
	if err != nil {
		return err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if err := o.transitionLocked(session, Created); err != nil {
		return err
	}
	session.worker = conn
	if host != "" {
		session.host = host
	}
	session.port = port

	payload := wire.SessionPayload{
		SessionID:      roomID,
		TicksPerSecond: o.config.TicksPerSecond,
		TicketKey:      session.key[:],
	}
	for _, id := range session.party {
		member := wire.Identity{ID: id}
		if record, ok := o.config.Members.Lookup(id); ok {
			member = record.Wire()
		}
		payload.Party = append(payload.Party, member)
	}
	if err := conn.Send(wire.MustNew(wire.KindSessionPayload, payload)); err != nil {
		session.logger.Warn("sending session payload failed", "error", err)
		return err
	}
	return nil
}

// WorkerReady records that the worker is listening (Created →
// WaitingPlayers) and sends each member a change-endpoint carrying its
// handoff ticket. Members move only after acknowledging.
func (o *Orchestrator) WorkerReady(roomID uint32, host string, port uint16) error {
	session, err := o.lookup(roomID)
	if err != nil {
		return err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if err := o.transitionLocked(session, WaitingPlayers); err != nil {
		return err
	}
	if host != "" {
		session.host = host
	}
	if port != 0 {
		session.port = port
	}
	for _, id := range session.party {
		envelope := wire.MustNew(wire.KindChangeEndpoint, wire.ChangeEndpoint{
			RoomID: roomID,
			Host:   session.host,
			Port:   session.port,
			Ticket: handoff.Issue(session.key, roomID, id),
		})
		if err := o.config.Members.Send(id, envelope); err != nil {
			session.logger.Warn("sending change-endpoint failed", "identity_id", id, "error", err)
		}
	}
	return nil
}

// EndpointAcknowledged tells a member that acknowledged change-endpoint
// to move to the worker. Repeated acknowledgements are ignored.
func (o *Orchestrator) EndpointAcknowledged(roomID uint32, identityID uint64) error {
	session, err := o.lookup(roomID)
	if err != nil {
		return err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if !slices.Contains(session.party, identityID) {
		return fault.Newf(fault.UnknownIdentity, "session.ack", "identity %d is not in room %d", identityID, roomID)
	}
	if session.state != WaitingPlayers {
		return fault.Newf(fault.InvalidTransition, "session.ack", "room %d is %s", roomID, session.state)
	}
	if session.moved[identityID] {
		return nil
	}
	session.moved[identityID] = true
	return o.config.Members.Send(identityID, wire.MustNew(wire.KindConnectToWorker, wire.ConnectToWorker{
		RoomID: roomID,
		Host:   session.host,
		Port:   session.port,
	}))
}

// QuorumReached records that the whole party joined (WaitingPlayers →
// Running).
func (o *Orchestrator) QuorumReached(roomID uint32) error {
	session, err := o.lookup(roomID)
	if err != nil {
		return err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return o.transitionLocked(session, Running)
}

// MemberLeft records a member's departure from a session still in
// progress.
func (o *Orchestrator) MemberLeft(roomID uint32, identityID uint64) error {
	session, err := o.lookup(roomID)
	if err != nil {
		return err
	}
	if !slices.Contains(session.party, identityID) {
		return fault.Newf(fault.UnknownIdentity, "session.member-left", "identity %d is not in room %d", identityID, roomID)
	}
	o.config.Members.MarkLeftEarly(identityID, roomID)
	session.logger.Info("member left", "identity_id", identityID)
	return nil
}

// WorkerFinished records the result (Running → Finished), tells the
// worker to shut down and returns the slot to Inactive. A worker that
// has not exited after the shutdown grace is killed.
func (o *Orchestrator) WorkerFinished(roomID uint32, end wire.SessionEnd) error {
	session, err := o.lookup(roomID)
	if err != nil {
		return err
	}
	session.mu.Lock()
	if err := o.transitionLocked(session, Finished); err != nil {
		session.mu.Unlock()
		return err
	}
	worker, process := session.worker, session.process
	session.mu.Unlock()

	o.config.Members.ClearSession(session.party, roomID)
	if worker != nil {
		if err := worker.Send(wire.MustNew(wire.KindShutdown, wire.Shutdown{SessionID: roomID})); err != nil {
			session.logger.Warn("sending shutdown failed", "error", err)
		}
	}
	if process != nil {
		o.clock.AfterFunc(o.config.ShutdownGrace, func() {
			select {
			case <-process.Exited():
			default:
				session.logger.Warn("worker did not exit after shutdown, killing it", "grace", o.config.ShutdownGrace)
				if err := process.Kill(); err != nil {
					session.logger.Error("killing worker failed", "error", err)
				}
			}
		})
	}

	o.release(session, Inactive)
	result := Result{
		RoomID:               roomID,
		Party:                slices.Clone(session.party),
		FinishOrder:          slices.Clone(end.FinishOrder),
		EndedByDisconnection: end.EndedByDisconnection,
	}
	session.logger.Info("session finished", "finish_order", end.FinishOrder, "ended_by_disconnection", end.EndedByDisconnection)
	for _, observer := range o.finishedObservers() {
		observer(result)
	}
	return nil
}

// WorkerLost aborts a session whose worker connection dropped before
// it finished. Losing the connection of a released session does
// nothing.
func (o *Orchestrator) WorkerLost(roomID uint32) {
	session, err := o.lookup(roomID)
	if err != nil {
		return
	}
	session.mu.Lock()
	state := session.state
	session.mu.Unlock()
	if state == Finished {
		return
	}
	session.logger.Warn("worker connection lost", "state", state.String())
	o.abort(session, "worker lost", fault.Newf(fault.PeerUnreachable, "session.worker", "worker for room %d disconnected", roomID))
}

// State returns the state of roomID. Released rooms are Inactive.
func (o *Orchestrator) State(roomID uint32) WorkerState {
	session, err := o.lookup(roomID)
	if err != nil {
		return Inactive
	}
	return session.State()
}

// Active returns the number of occupied slots.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.rooms)
}

// Budget returns the number of worker slots.
func (o *Orchestrator) Budget() int { return o.config.Budget }

// Snapshot describes every occupied slot, in slot order.
func (o *Orchestrator) Snapshot() []wire.SessionStatus {
	o.mu.Lock()
	occupied := make([]*Session, 0, len(o.rooms))
	for _, session := range o.slots {
		if session != nil {
			occupied = append(occupied, session)
		}
	}
	o.mu.Unlock()

	statuses := make([]wire.SessionStatus, 0, len(occupied))
	for _, session := range occupied {
		session.mu.Lock()
		statuses = append(statuses, wire.SessionStatus{
			RoomID: session.roomID,
			Slot:   session.slot,
			State:  session.state.String(),
			Party:  slices.Clone(session.party),
			Host:   session.host,
			Port:   session.port,
		})
		session.mu.Unlock()
	}
	return statuses
}

func (o *Orchestrator) lookup(roomID uint32) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	session, ok := o.rooms[roomID]
	if !ok {
		return nil, fault.Newf(fault.InvalidTransition, "session.lookup", "room %d is not active", roomID)
	}
	return session, nil
}

func (o *Orchestrator) transitionLocked(session *Session, to WorkerState) error {
	if err := checkTransition(session.roomID, session.state, to); err != nil {
		session.logger.Warn("rejected worker state transition", "error", err)
		return err
	}
	session.logger.Info("worker state", "from", session.state.String(), "to", to.String())
	session.state = to
	return nil
}

// release frees the session's slot and permit exactly once and leaves
// the session in final.
func (o *Orchestrator) release(session *Session, final WorkerState) bool {
	session.mu.Lock()
	if session.released {
		session.mu.Unlock()
		return false
	}
	session.released = true
	session.state = final
	session.mu.Unlock()

	o.mu.Lock()
	if o.slots[session.slot] == session {
		o.slots[session.slot] = nil
	}
	delete(o.rooms, session.roomID)
	o.mu.Unlock()

	<-o.permits
	return true
}

// abort releases a session that did not finish, kills its worker and
// hands the party to the OnCancelled observers.
func (o *Orchestrator) abort(session *Session, reason string, cause error) {
	session.mu.Lock()
	process := session.process
	session.mu.Unlock()

	if !o.release(session, Inactive) {
		return
	}
	o.config.Members.ClearSession(session.party, session.roomID)
	if process != nil {
		if err := process.Kill(); err != nil {
			session.logger.Error("killing worker failed", "error", err)
		}
	}
	session.logger.Warn("session cancelled", "reason", reason, "error", cause)
	cancellation := Cancellation{
		RoomID: session.roomID,
		Party:  slices.Clone(session.party),
		Reason: reason,
		Err:    cause,
	}
	for _, observer := range o.cancelledObservers() {
		observer(cancellation)
	}
}

func (o *Orchestrator) broadcast(session *Session, envelope wire.Envelope) {
	for _, id := range session.party {
		if err := o.config.Members.Send(id, envelope); err != nil {
			session.logger.Warn("notifying member failed", "identity_id", id, "kind", envelope.Kind, "error", err)
		}
	}
}

func (o *Orchestrator) finishedObservers() []func(Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.finished)
}

func (o *Orchestrator) cancelledObservers() []func(Cancellation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.cancelled)
}
