// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package master is the master process's connection layer. It accepts
// every peer on one listener and decides each peer's role from its
// first envelope:
//
//   - hello or return-to-master: a client, bound to an identity in the
//     registry;
//   - worker-created: a worker reporting for a session;
//   - status: an operator asking for a status report.
//
// Client envelopes drive the identity registry and the matchmaking
// queue; worker envelopes drive the session orchestrator. Every peer is
// heartbeat-monitored, and timeout eviction and an ordinary close share
// one cleanup that runs exactly once per peer.
package master

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/arena-foundation/arena/lib/clock"
	"github.com/arena-foundation/arena/lib/fault"
	"github.com/arena-foundation/arena/lib/heartbeat"
	"github.com/arena-foundation/arena/lib/identity"
	"github.com/arena-foundation/arena/lib/matchqueue"
	"github.com/arena-foundation/arena/lib/netconn"
	"github.com/arena-foundation/arena/lib/session"
	"github.com/arena-foundation/arena/lib/wire"
)

// DefaultRequeueDelay is how long a cancelled party waits in the queue
// before the master tries to match it again.
const DefaultRequeueDelay = time.Second

// Config configures a Server.
type Config struct {
	PartySize         int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	RequeueDelay      time.Duration

	// Connect configures accepted connections.
	Connect netconn.Options

	Clock  clock.Clock
	Logger *slog.Logger
}

// Server is the master. Construct the registry, queue and orchestrator
// once at process start and hand them to New.
type Server struct {
	config       Config
	clock        clock.Clock
	logger       *slog.Logger
	registry     *identity.Registry
	queue        *matchqueue.Queue
	orchestrator *session.Orchestrator

	mu       sync.Mutex
	ctx      context.Context
	peers    map[*peer]struct{}
	launches sync.WaitGroup
}

type role uint8

const (
	roleUnknown role = iota
	roleClient
	roleWorker
	roleOperator
)

func (r role) String() string {
	switch r {
	case roleClient:
		return "client"
	case roleWorker:
		return "worker"
	case roleOperator:
		return "operator"
	default:
		return "unknown"
	}
}

type peer struct {
	conn    *netconn.Conn
	monitor *heartbeat.Monitor
	logger  *slog.Logger

	mu            sync.Mutex
	role          role
	identityID    uint64
	roomID        uint32
	disconnecting bool
}

// New wires a Server to its collaborators. Cancelled sessions are
// requeued through the orchestrator's OnCancelled hook.
func New(config Config, registry *identity.Registry, queue *matchqueue.Queue, orchestrator *session.Orchestrator) (*Server, error) {
	if registry == nil || queue == nil || orchestrator == nil {
		return nil, fmt.Errorf("master: registry, queue and orchestrator are required")
	}
	if config.PartySize <= 0 {
		return nil, fmt.Errorf("master: party size must be positive, got %d", config.PartySize)
	}
	if config.HeartbeatTimeout <= config.HeartbeatInterval || config.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("master: heartbeat timeout %v must exceed interval %v",
			config.HeartbeatTimeout, config.HeartbeatInterval)
	}
	if config.RequeueDelay <= 0 {
		config.RequeueDelay = DefaultRequeueDelay
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Connect.Clock == nil {
		config.Connect.Clock = config.Clock
	}
	if config.Connect.Logger == nil {
		config.Connect.Logger = config.Logger
	}
	s := &Server{
		config:       config,
		clock:        config.Clock,
		logger:       config.Logger,
		registry:     registry,
		queue:        queue,
		orchestrator: orchestrator,
		ctx:          context.Background(),
		peers:        make(map[*peer]struct{}),
	}
	orchestrator.OnCancelled(s.requeue)
	orchestrator.OnSessionFinished(func(result session.Result) {
		s.logger.Info("session result recorded",
			"room_id", result.RoomID,
			"finish_order", result.FinishOrder,
			"ended_by_disconnection", result.EndedByDisconnection,
		)
	})
	return s, nil
}

// Serve accepts peers on listener until ctx ends or the listener
// fails. On return every peer is closed and no session launch is in
// flight.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	// Deferred in reverse: launches waiting for a slot see ctx end
	// before closePeers waits for them.
	defer s.closePeers()
	defer cancel()
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	s.logger.Info("master listening", "address", listener.Addr().String())
	for {
		conn, err := netconn.Accept(listener, s.config.Connect)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting peer: %w", err)
		}
		s.admit(conn)
	}
}

func (s *Server) admit(conn *netconn.Conn) {
	p := &peer{
		conn:   conn,
		logger: s.logger.With("remote", conn.RemoteAddr().String()),
	}
	monitor, err := heartbeat.New(heartbeat.Config{
		Sender:    conn,
		Interval:  s.config.HeartbeatInterval,
		Timeout:   s.config.HeartbeatTimeout,
		OnTimeout: func() { s.disconnect(p, "heartbeat timeout") },
		Clock:     s.clock,
		Logger:    p.logger,
	})
	if err != nil {
		p.logger.Error("creating heartbeat monitor", "error", err)
		conn.Close()
		return
	}
	p.monitor = monitor

	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	conn.SetMessageHandler(func(envelope wire.Envelope, _ *netconn.Conn) {
		s.dispatch(p, envelope)
	})
	conn.SetCloseHandler(func(_ *netconn.Conn, cause error) {
		reason := "closed"
		if cause != nil {
			reason = cause.Error()
		}
		s.disconnect(p, reason)
	})
	conn.Start()
	monitor.Start()
	p.logger.Debug("peer connected")
}

// disconnect is the single cleanup path for a peer. The disconnecting
// flag, checked under the peer lock, makes it run once however many of
// the heartbeat, the read loop and the handlers race for it.
func (s *Server) disconnect(p *peer, reason string) {
	p.mu.Lock()
	if p.disconnecting {
		p.mu.Unlock()
		return
	}
	p.disconnecting = true
	peerRole, identityID, roomID := p.role, p.identityID, p.roomID
	p.mu.Unlock()

	p.monitor.Stop()
	switch peerRole {
	case roleClient:
		if identityID != 0 && s.registry.DisconnectIf(identityID, p.conn) {
			s.queue.TryLeave(identityID)
		}
	case roleWorker:
		s.orchestrator.WorkerLost(roomID)
	}
	p.conn.Close()

	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
	p.logger.Info("peer disconnected", "role", peerRole.String(), "identity_id", identityID, "room_id", roomID, "reason", reason)
}

func (s *Server) closePeers() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		s.disconnect(p, "master shutting down")
	}
	s.launches.Wait()
}

func (s *Server) dispatch(p *peer, envelope wire.Envelope) {
	if envelope.Kind == wire.KindPong {
		p.monitor.OnPongReceived()
		return
	}
	p.monitor.Touch()
	if envelope.Kind == wire.KindPing {
		if err := p.conn.Send(wire.MustNew(wire.KindPong, nil)); err != nil {
			p.logger.Debug("pong failed", "error", err)
		}
		return
	}

	p.mu.Lock()
	current := p.role
	p.mu.Unlock()

	var err error
	switch current {
	case roleUnknown:
		err = s.classify(p, envelope)
	case roleClient:
		err = s.handleClient(p, envelope)
	case roleWorker:
		err = s.handleWorker(p, envelope)
	case roleOperator:
		err = s.handleOperator(p, envelope)
	}
	if err != nil {
		s.fail(p, envelope.Kind, err)
	}
}

// fail reports a rejected envelope to the peer. Protocol violations
// also close the connection.
func (s *Server) fail(p *peer, kind string, err error) {
	faultKind := fault.KindOf(err)
	p.logger.Warn("envelope rejected", "kind", kind, "error", err)
	report := wire.Error{Kind: faultKind.String(), Message: err.Error()}
	if sendErr := p.conn.SendKind(wire.KindError, report); sendErr != nil {
		p.logger.Debug("error report failed", "error", sendErr)
	}
	if faultKind == fault.ProtocolViolation {
		s.disconnect(p, "protocol violation")
	}
}

func (s *Server) setRole(p *peer, r role) {
	p.mu.Lock()
	p.role = r
	p.mu.Unlock()
}

func (s *Server) classify(p *peer, envelope wire.Envelope) error {
	switch envelope.Kind {
	case wire.KindHello, wire.KindReturnToMaster:
		s.setRole(p, roleClient)
		return s.handleClient(p, envelope)
	case wire.KindWorkerCreated:
		var created wire.WorkerCreated
		if err := envelope.Decode(&created); err != nil {
			return fault.New(fault.ProtocolViolation, "master.classify", err)
		}
		if err := s.orchestrator.WorkerCreated(created.SessionID, p.conn, created.Host, created.Port); err != nil {
			// A worker for a room that is not launching has nothing to do.
			return fault.New(fault.ProtocolViolation, "master.worker-created", err)
		}
		// The read loop is sequential, so the worker's next envelope is
		// dispatched after the role is set.
		p.mu.Lock()
		p.role = roleWorker
		p.roomID = created.SessionID
		p.mu.Unlock()
		p.logger.Info("worker connected", "room_id", created.SessionID)
		return nil
	case wire.KindStatus:
		s.setRole(p, roleOperator)
		return s.handleOperator(p, envelope)
	default:
		return fault.Newf(fault.ProtocolViolation, "master.classify", "unexpected first envelope %s", envelope.Kind)
	}
}
