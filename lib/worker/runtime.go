// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker is the session-side runtime: one process per session,
// spawned by the master.
//
// A Runtime connects back to the master and announces itself
// (worker-created), pulls the session payload, then listens for the
// party (worker-ready). Clients join with worker-join and the handoff
// ticket the master issued them. When the whole party has joined the
// runtime reports quorum and starts the tick loop, which calls the
// Simulation for every present member and broadcasts a tick-snapshot.
//
// Members leave gracefully (leave-session) or abruptly (send failure,
// closed connection, heartbeat timeout); both paths share one
// bookkeeping routine that records the departure exactly once. When one
// member remains, or the Simulation calls Finish, the session ends:
// ranked members first, then departed members, last to leave first.
// The result goes to every member and to the master, and the runtime
// exits once the master sends shutdown.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/arena-foundation/arena/lib/clock"
	"github.com/arena-foundation/arena/lib/fault"
	"github.com/arena-foundation/arena/lib/handoff"
	"github.com/arena-foundation/arena/lib/heartbeat"
	"github.com/arena-foundation/arena/lib/netconn"
	"github.com/arena-foundation/arena/lib/wire"
)

const (
	DefaultHeartbeatInterval = 2 * time.Second
	DefaultHeartbeatTimeout  = 10 * time.Second

	// DefaultJoinTimeout bounds the wait for the whole party after
	// worker-ready.
	DefaultJoinTimeout = 30 * time.Second
)

// Config configures a Runtime.
type Config struct {
	MasterAddress string
	SessionID     uint32

	ListenHost string
	// ListenPort zero picks a free port.
	ListenPort uint16
	// AdvertiseHost is the host clients are sent to. It defaults to
	// ListenHost, or 127.0.0.1 when that is empty or a wildcard.
	AdvertiseHost string

	Simulation Simulation

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	JoinTimeout       time.Duration

	// Connect configures the master connection and member connections.
	Connect netconn.Options

	Clock  clock.Clock
	Logger *slog.Logger
}

// Runtime runs one session. Create it with New and call Run once.
type Runtime struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger

	// Set during the handshake, read-only afterwards.
	master        *netconn.Conn
	masterMonitor *heartbeat.Monitor
	party         []uint64
	key           handoff.Key
	interval      time.Duration

	// simMu serializes Simulation calls.
	simMu sync.Mutex

	// mu guards the member bookkeeping below.
	mu        sync.Mutex
	conns     map[*netconn.Conn]uint64
	members   map[uint64]*member
	departed  []uint64
	// abrupt is set by the first departure that was not a leave.
	abrupt    bool
	running   bool
	finishing bool
	tick      uint64
	result    wire.SessionEnd

	payloads     chan wire.SessionPayload
	shutdown     chan struct{}
	shutdownOnce sync.Once
	quorum       chan struct{}
	finished     chan struct{}
	stopTicks    chan struct{}
}

type member struct {
	id      uint64
	conn    *netconn.Conn
	monitor *heartbeat.Monitor
	// leaving is the single disconnecting flag, guarded by
	// Runtime.mu.
	leaving bool
}

// New validates config and returns a Runtime.
func New(config Config) (*Runtime, error) {
	if config.MasterAddress == "" {
		return nil, fmt.Errorf("worker: no master address")
	}
	if config.Simulation == nil {
		return nil, fmt.Errorf("worker: nil simulation")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if config.HeartbeatTimeout <= config.HeartbeatInterval {
		return nil, fmt.Errorf("worker: heartbeat timeout %v must exceed interval %v",
			config.HeartbeatTimeout, config.HeartbeatInterval)
	}
	if config.JoinTimeout <= 0 {
		config.JoinTimeout = DefaultJoinTimeout
	}
	if config.Connect.Clock == nil {
		config.Connect.Clock = config.Clock
	}
	logger := config.Logger.With("session_id", config.SessionID)
	if config.Connect.Logger == nil {
		config.Connect.Logger = logger
	}
	return &Runtime{
		config:    config,
		clock:     config.Clock,
		logger:    logger,
		conns:     make(map[*netconn.Conn]uint64),
		members:   make(map[uint64]*member),
		payloads:  make(chan wire.SessionPayload, 1),
		shutdown:  make(chan struct{}),
		quorum:    make(chan struct{}),
		finished:  make(chan struct{}),
		stopTicks: make(chan struct{}),
	}, nil
}

// Run performs the handshake, hosts the session and returns after the
// master's shutdown. It returns an error if the master connection is
// lost before the session finishes, if the party does not assemble
// within the join timeout, or if ctx ends first.
func (r *Runtime) Run(ctx context.Context) error {
	master, err := netconn.Open(ctx, r.config.MasterAddress, r.config.Connect)
	if err != nil {
		return fmt.Errorf("connecting to master: %w", err)
	}
	r.master = master
	monitor, err := heartbeat.New(heartbeat.Config{
		Sender:   master,
		Interval: r.config.HeartbeatInterval,
		Timeout:  r.config.HeartbeatTimeout,
		OnTimeout: func() {
			r.logger.Warn("master heartbeat timed out")
			master.Close()
		},
		Clock:  r.clock,
		Logger: r.logger.With("peer", "master"),
	})
	if err != nil {
		master.Close()
		return err
	}
	r.masterMonitor = monitor
	master.SetMessageHandler(r.handleMaster)
	master.Start()
	monitor.Start()
	defer master.Close()
	defer monitor.Stop()

	host := r.advertiseHost()
	if err := master.SendKind(wire.KindWorkerCreated, wire.WorkerCreated{
		SessionID: r.config.SessionID,
		Host:      host,
		Port:      r.config.ListenPort,
	}); err != nil {
		return fmt.Errorf("announcing worker: %w", err)
	}

	var payload wire.SessionPayload
	select {
	case payload = <-r.payloads:
	case <-master.Done():
		return r.masterLost("awaiting session payload")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := r.accept(payload); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(r.config.ListenHost, strconv.Itoa(int(r.config.ListenPort))))
	if err != nil {
		return fmt.Errorf("listening for members: %w", err)
	}
	defer listener.Close()
	port := uint16(listener.Addr().(*net.TCPAddr).Port)
	go r.acceptLoop(listener)

	if err := master.SendKind(wire.KindWorkerReady, wire.WorkerReady{
		SessionID: r.config.SessionID,
		Host:      host,
		Port:      port,
	}); err != nil {
		return fmt.Errorf("reporting ready: %w", err)
	}
	r.logger.Info("waiting for party", "address", listener.Addr().String(), "party", r.party)

	select {
	case <-r.quorum:
	case <-r.clock.After(r.config.JoinTimeout):
		r.abandon()
		return fmt.Errorf("worker: party did not assemble within %v", r.config.JoinTimeout)
	case <-master.Done():
		r.abandon()
		return r.masterLost("awaiting party")
	case <-ctx.Done():
		r.abandon()
		return ctx.Err()
	}

	select {
	case <-r.finished:
	case <-master.Done():
		r.abandon()
		return r.masterLost("running session")
	case <-ctx.Done():
		r.abandon()
		return ctx.Err()
	}

	select {
	case <-r.shutdown:
		r.logger.Info("shutdown received")
	case <-master.Done():
	case <-ctx.Done():
	}
	r.closeAll()
	return nil
}

// Result returns the session result once the session has finished.
func (r *Runtime) Result() (wire.SessionEnd, bool) {
	select {
	case <-r.finished:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.result, true
	default:
		return wire.SessionEnd{}, false
	}
}

func (r *Runtime) accept(payload wire.SessionPayload) error {
	if payload.SessionID != r.config.SessionID {
		return fault.Newf(fault.ProtocolViolation, "worker.payload",
			"payload for session %d, this worker hosts %d", payload.SessionID, r.config.SessionID)
	}
	if len(payload.Party) == 0 {
		return fault.Newf(fault.ProtocolViolation, "worker.payload", "empty party")
	}
	if payload.TicksPerSecond <= 0 {
		return fault.Newf(fault.ProtocolViolation, "worker.payload", "ticks per second %d", payload.TicksPerSecond)
	}
	key, err := handoff.ParseKey(payload.TicketKey)
	if err != nil {
		return fault.New(fault.ProtocolViolation, "worker.payload", err)
	}
	r.key = key
	r.interval = time.Second / time.Duration(payload.TicksPerSecond)
	for _, identity := range payload.Party {
		r.party = append(r.party, identity.ID)
	}
	return nil
}

func (r *Runtime) masterLost(during string) error {
	cause := r.master.Err()
	if cause == nil {
		cause = net.ErrClosed
	}
	r.logger.Warn("master connection lost", "during", during, "error", cause)
	return fault.New(fault.PeerUnreachable, "worker.master", fmt.Errorf("%s: %w", during, cause))
}

func (r *Runtime) advertiseHost() string {
	if r.config.AdvertiseHost != "" {
		return r.config.AdvertiseHost
	}
	switch r.config.ListenHost {
	case "", "0.0.0.0", "::":
		return "127.0.0.1"
	}
	return r.config.ListenHost
}

func (r *Runtime) handleMaster(envelope wire.Envelope, conn *netconn.Conn) {
	if envelope.Kind == wire.KindPong {
		r.masterMonitor.OnPongReceived()
		return
	}
	r.masterMonitor.Touch()
	switch envelope.Kind {
	case wire.KindPing:
		if err := conn.Send(wire.MustNew(wire.KindPong, nil)); err != nil {
			r.logger.Debug("pong to master failed", "error", err)
		}
	case wire.KindSessionPayload:
		var payload wire.SessionPayload
		if err := envelope.Decode(&payload); err != nil {
			r.logger.Warn("malformed session payload", "error", err)
			conn.Close()
			return
		}
		select {
		case r.payloads <- payload:
		default:
			r.logger.Warn("ignoring repeated session payload")
		}
	case wire.KindShutdown:
		r.shutdownOnce.Do(func() { close(r.shutdown) })
	case wire.KindError:
		var report wire.Error
		_ = envelope.Decode(&report)
		r.logger.Warn("master reported an error", "kind", report.Kind, "message", report.Message)
	default:
		r.logger.Debug("ignoring envelope from master", "kind", envelope.Kind)
	}
}

func (r *Runtime) acceptLoop(listener net.Listener) {
	for {
		conn, err := netconn.Accept(listener, r.config.Connect)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				r.logger.Warn("accepting member failed", "error", err)
			}
			return
		}
		r.mu.Lock()
		if r.finishing {
			r.mu.Unlock()
			conn.Close()
			continue
		}
		r.conns[conn] = 0
		r.mu.Unlock()

		conn.SetMessageHandler(r.handleJoin)
		conn.SetCloseHandler(r.handleClose)
		conn.Start()
	}
}

// handleJoin admits a connection's first envelope.
func (r *Runtime) handleJoin(envelope wire.Envelope, conn *netconn.Conn) {
	switch envelope.Kind {
	case wire.KindPing:
		_ = conn.Send(wire.MustNew(wire.KindPong, nil))
		return
	case wire.KindPong:
		return
	case wire.KindWorkerJoin:
	default:
		r.reject(conn, fault.ProtocolViolation, fmt.Sprintf("expected %s, got %s", wire.KindWorkerJoin, envelope.Kind))
		return
	}

	var join wire.WorkerJoin
	if err := envelope.Decode(&join); err != nil {
		r.reject(conn, fault.ProtocolViolation, err.Error())
		return
	}
	id := join.Identity.ID
	if !slices.Contains(r.party, id) || !handoff.Verify(r.key, r.config.SessionID, id, join.Ticket) {
		r.reject(conn, fault.UnknownIdentity, fmt.Sprintf("identity %d is not in session %d", id, r.config.SessionID))
		return
	}

	joined := &member{id: id, conn: conn}
	monitor, err := heartbeat.New(heartbeat.Config{
		Sender:    conn,
		Interval:  r.config.HeartbeatInterval,
		Timeout:   r.config.HeartbeatTimeout,
		OnTimeout: func() { r.depart(joined, false, "heartbeat timeout") },
		Clock:     r.clock,
		Logger:    r.logger.With("identity_id", id),
	})
	if err != nil {
		r.reject(conn, fault.ProtocolViolation, err.Error())
		return
	}
	joined.monitor = monitor

	r.mu.Lock()
	if r.running || r.finishing {
		r.mu.Unlock()
		r.reject(conn, fault.InvalidTransition, "session already started")
		return
	}
	if _, duplicate := r.members[id]; duplicate {
		r.mu.Unlock()
		r.reject(conn, fault.UnknownIdentity, fmt.Sprintf("identity %d already joined", id))
		return
	}
	if _, open := r.conns[conn]; !open {
		// Closed while the join was being checked.
		r.mu.Unlock()
		return
	}
	r.conns[conn] = id
	r.members[id] = joined
	quorum := len(r.members) == len(r.party)
	if quorum {
		r.running = true
	}
	r.mu.Unlock()

	conn.SetMessageHandler(func(envelope wire.Envelope, _ *netconn.Conn) {
		r.handleMember(joined, envelope)
	})
	monitor.Start()
	r.logger.Info("member joined", "identity_id", id, "display_name", join.Identity.DisplayName)
	if quorum {
		r.startRunning()
	}
}

func (r *Runtime) reject(conn *netconn.Conn, kind fault.Kind, message string) {
	r.logger.Warn("rejecting connection", "remote", conn.RemoteAddr().String(), "kind", kind.String(), "message", message)
	_ = conn.SendKind(wire.KindError, wire.Error{Kind: kind.String(), Message: message})
	conn.Close()
}

func (r *Runtime) handleMember(m *member, envelope wire.Envelope) {
	if envelope.Kind == wire.KindPong {
		m.monitor.OnPongReceived()
		return
	}
	m.monitor.Touch()
	switch envelope.Kind {
	case wire.KindPing:
		if err := m.conn.Send(wire.MustNew(wire.KindPong, nil)); err != nil {
			r.depart(m, false, "send failed")
		}
	case wire.KindLeaveSession:
		r.depart(m, true, "left")
	default:
		if wire.IsCore(envelope.Kind) {
			r.logger.Debug("ignoring envelope from member", "identity_id", m.id, "kind", envelope.Kind)
			return
		}
		if handler, ok := r.config.Simulation.(InputHandler); ok {
			r.simMu.Lock()
			handler.Input(m.id, envelope)
			r.simMu.Unlock()
		}
	}
}

func (r *Runtime) handleClose(conn *netconn.Conn, cause error) {
	r.mu.Lock()
	id, tracked := r.conns[conn]
	delete(r.conns, conn)
	m := r.members[id]
	r.mu.Unlock()
	if tracked && m != nil && m.conn == conn {
		reason := "connection closed"
		if cause != nil {
			reason = cause.Error()
		}
		r.depart(m, false, reason)
	}
}

// depart is the single departure path. Its bookkeeping runs once per
// member no matter how many of the graceful leave, the read loop, a
// failed send and the heartbeat race for it.
func (r *Runtime) depart(m *member, graceful bool, reason string) {
	r.mu.Lock()
	if m.leaving {
		r.mu.Unlock()
		return
	}
	m.leaving = true
	if r.members[m.id] == m {
		delete(r.members, m.id)
	}
	delete(r.conns, m.conn)
	inSession := r.running && !r.finishing
	if inSession {
		r.departed = append(r.departed, m.id)
		if !graceful {
			r.abrupt = true
		}
	}
	remaining := r.presentLocked()
	last := inSession && len(r.members) <= 1
	abrupt := r.abrupt
	r.mu.Unlock()

	m.monitor.Stop()
	if graceful {
		_ = m.conn.SendKind(wire.KindLeaveSessionAck, wire.LeaveSessionAck{SessionID: r.config.SessionID})
	}
	m.conn.Close()
	r.logger.Info("member departed", "identity_id", m.id, "graceful", graceful, "reason", reason)
	if !inSession {
		return
	}

	left := wire.MustNew(wire.KindMemberLeft, wire.MemberLeft{
		SessionID:  r.config.SessionID,
		IdentityID: m.id,
		Graceful:   graceful,
	})
	if err := r.master.Send(left); err != nil {
		r.logger.Warn("reporting departure to master failed", "error", err)
	}
	r.broadcast(remaining, left)
	if last {
		r.finish(nil, abrupt)
	}
}

func (r *Runtime) startRunning() {
	r.mu.Lock()
	present := r.presentLocked()
	r.mu.Unlock()

	quorum := wire.MustNew(wire.KindWorkerQuorumReached, wire.WorkerQuorumReached{
		SessionID: r.config.SessionID,
		Members:   ids(present),
	})
	if err := r.master.Send(quorum); err != nil {
		r.logger.Warn("reporting quorum to master failed", "error", err)
	}
	r.broadcast(present, quorum)
	close(r.quorum)

	r.logger.Info("quorum reached, session running", "interval", r.interval)
	ticker := r.clock.NewTicker(r.interval)
	go r.tickLoop(ticker)
}

func (r *Runtime) tickLoop(ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-r.stopTicks:
			return
		case <-ticker.C:
			r.step()
		}
	}
}

func (r *Runtime) step() {
	r.mu.Lock()
	if r.finishing {
		r.mu.Unlock()
		return
	}
	r.tick++
	tick := r.tick
	present := r.presentLocked()
	r.mu.Unlock()

	builder := NewSnapshotBuilder(tick)
	r.simMu.Lock()
	for _, m := range present {
		r.config.Simulation.Tick(m.id, builder, r.interval)
	}
	r.simMu.Unlock()

	snapshot := wire.MustNew(wire.KindTickSnapshot, wire.TickSnapshot{
		SessionID: r.config.SessionID,
		Tick:      tick,
		Members:   ids(present),
		Entries:   builder.entries,
	})
	r.broadcast(present, snapshot)
	if builder.finished {
		r.finish(builder.ranking, false)
	}
}

// broadcast sends to each member; a failed send is that member's
// abrupt departure.
func (r *Runtime) broadcast(targets []*member, envelope wire.Envelope) {
	for _, m := range targets {
		if err := m.conn.Send(envelope); err != nil {
			r.logger.Debug("send to member failed", "identity_id", m.id, "kind", envelope.Kind, "error", err)
			r.depart(m, false, "send failed")
		}
	}
}

func (r *Runtime) finish(ranking []uint64, byDisconnection bool) {
	r.mu.Lock()
	if r.finishing {
		r.mu.Unlock()
		return
	}
	r.finishing = true
	end := wire.SessionEnd{
		SessionID:            r.config.SessionID,
		FinishOrder:          r.finishOrderLocked(ranking),
		EndedByDisconnection: byDisconnection,
	}
	r.result = end
	present := r.presentLocked()
	r.mu.Unlock()
	close(r.stopTicks)

	r.logger.Info("session finished", "finish_order", end.FinishOrder, "ended_by_disconnection", byDisconnection)
	envelope := wire.MustNew(wire.KindSessionEnd, end)
	for _, m := range present {
		if err := m.conn.Send(envelope); err != nil {
			r.logger.Debug("session-end to member failed", "identity_id", m.id, "error", err)
		}
	}
	if err := r.master.Send(envelope); err != nil {
		r.logger.Warn("reporting session end to master failed", "error", err)
	}
	close(r.finished)
}

// finishOrderLocked ranks ranking first, then members still present in
// party order, then departed members, last to leave first.
func (r *Runtime) finishOrderLocked(ranking []uint64) []uint64 {
	order := make([]uint64, 0, len(r.party))
	placed := make(map[uint64]bool, len(r.party))
	place := func(id uint64) {
		if !placed[id] && slices.Contains(r.party, id) {
			placed[id] = true
			order = append(order, id)
		}
	}
	for _, id := range ranking {
		place(id)
	}
	for _, m := range r.presentLocked() {
		place(m.id)
	}
	for i := len(r.departed) - 1; i >= 0; i-- {
		place(r.departed[i])
	}
	return order
}

// presentLocked returns the joined members still present, in party
// order.
func (r *Runtime) presentLocked() []*member {
	present := make([]*member, 0, len(r.members))
	for _, id := range r.party {
		if m, ok := r.members[id]; ok {
			present = append(present, m)
		}
	}
	return present
}

// abandon ends the session without a result.
func (r *Runtime) abandon() {
	r.mu.Lock()
	already := r.finishing
	r.finishing = true
	r.mu.Unlock()
	if !already {
		close(r.stopTicks)
	}
	r.closeAll()
}

func (r *Runtime) closeAll() {
	r.mu.Lock()
	conns := make([]*netconn.Conn, 0, len(r.conns))
	for conn := range r.conns {
		conns = append(conns, conn)
	}
	var monitors []*heartbeat.Monitor
	for _, m := range r.members {
		monitors = append(monitors, m.monitor)
	}
	r.mu.Unlock()

	for _, monitor := range monitors {
		monitor.Stop()
	}
	for _, conn := range conns {
		conn.Close()
	}
}

func ids(members []*member) []uint64 {
	out := make([]uint64, len(members))
	for i, m := range members {
		out[i] = m.id
	}
	return out
}
