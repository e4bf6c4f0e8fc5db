// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is the player side of the session cycle. A Client
// holds exactly one live connection at a time: to the master while
// idle or queued, to its session's worker while playing. Moving
// between them closes the old connection before the new one is
// opened, and the identity travels by value.
//
// Run owns the connection lifecycle. Message handlers run on the
// connection's read goroutine and ask Run to move by sending on an
// internal channel; everything the client observes is reported on
// Events.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/arena-foundation/arena/lib/clock"
	"github.com/arena-foundation/arena/lib/fault"
	"github.com/arena-foundation/arena/lib/heartbeat"
	"github.com/arena-foundation/arena/lib/netconn"
	"github.com/arena-foundation/arena/lib/wire"
)

const (
	// DefaultEventBuffer is the capacity of the Events channel.
	DefaultEventBuffer = 1024

	DefaultHeartbeatInterval = 2 * time.Second
	DefaultHeartbeatTimeout  = 10 * time.Second
)

// Config configures a Client.
type Config struct {
	MasterAddress string
	DisplayName   string

	// IdentityID resumes an identity the master already knows. Zero
	// registers a new one.
	IdentityID uint64

	// Connect governs every dial: to the master, to a worker, and back.
	// Its Attempts and RetryDelay are the connect budget.
	Connect netconn.Options

	// The live connection is pinged every HeartbeatInterval and closed
	// after HeartbeatTimeout without inbound traffic.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	EventBuffer int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Client is safe for concurrent use. Run it once.
type Client struct {
	config Config
	logger *slog.Logger

	events  chan Event
	moves   chan move
	lost    chan *netconn.Conn
	stopped chan struct{}

	mu       sync.Mutex
	identity wire.Identity
	phase    Phase
	conn     *netconn.Conn
	atWorker bool
	roomID   uint32
	ticket   []byte
	deleting bool
}

// move is a request for Run to replace the live connection.
type move struct {
	address  string
	toWorker bool
	roomID   uint32
	first    wire.Envelope
}

// New validates config and returns a Client that has not connected.
func New(config Config) (*Client, error) {
	if config.MasterAddress == "" {
		return nil, fmt.Errorf("client: master address is required")
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultEventBuffer
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
		return nil, fmt.Errorf("client: heartbeat timeout %v must exceed interval %v",
			config.HeartbeatTimeout, config.HeartbeatInterval)
	}
	if config.Connect.Clock == nil {
		config.Connect.Clock = config.Clock
	}
	if config.Connect.Logger == nil {
		config.Connect.Logger = config.Logger
	}
	return &Client{
		config:   config,
		logger:   config.Logger,
		events:   make(chan Event, config.EventBuffer),
		moves:    make(chan move, 2),
		lost:     make(chan *netconn.Conn, 2),
		stopped:  make(chan struct{}),
		identity: wire.Identity{ID: config.IdentityID, DisplayName: config.DisplayName},
	}, nil
}

// Events delivers everything the client observes. The channel is never
// closed; select on Done as well.
func (c *Client) Events() <-chan Event { return c.events }

// Done is closed when Run has returned.
func (c *Client) Done() <-chan struct{} { return c.stopped }

// Identity returns the identity as the master last confirmed it.
func (c *Client) Identity() wire.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Phase returns the client's current phase.
func (c *Client) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Run connects to the master and follows the session cycle until ctx
// ends, the identity is deleted, or a connection can no longer be
// made. Running out of connect attempts emits EventCannotConnect and
// returns a fault.ConnectFailed error; losing the master emits
// EventDisconnected.
func (c *Client) Run(ctx context.Context) error {
	defer c.shutdown()

	hello := wire.MustNew(wire.KindHello, wire.Hello{
		IdentityID:  c.config.IdentityID,
		DisplayName: c.config.DisplayName,
	})
	if err := c.dial(ctx, move{address: c.config.MasterAddress, first: hello}); err != nil {
		return c.stopErr(ctx, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case next := <-c.moves:
			if err := c.dial(ctx, next); err != nil {
				return c.stopErr(ctx, err)
			}

		case conn := <-c.lost:
			c.mu.Lock()
			current, atWorker, deleting := conn == c.conn, c.atWorker, c.deleting
			c.mu.Unlock()
			if !current {
				continue
			}
			if deleting {
				c.logger.Info("identity deleted, stopping")
				return nil
			}
			if atWorker {
				c.logger.Warn("worker connection lost, returning to master", "error", conn.Err())
				c.returnToMaster()
				continue
			}
			err := fault.New(fault.PeerUnreachable, "client.master", conn.Err())
			c.emit(Event{Kind: EventDisconnected, Err: err})
			return err
		}
	}
}

func (c *Client) stopErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Client) shutdown() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.phase = PhaseStopped
	c.mu.Unlock()
	close(c.stopped)
	if conn != nil {
		conn.Close()
	}
}

// dial closes the live connection, opens next, and sends next.first on
// it. An exhausted connect budget is terminal.
func (c *Client) dial(ctx context.Context, next move) error {
	c.mu.Lock()
	old := c.conn
	c.conn = nil
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	conn, err := netconn.Open(ctx, next.address, c.config.Connect)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("cannot connect", "address", next.address, "error", err)
			c.emit(Event{Kind: EventCannotConnect, Err: err})
		}
		return err
	}
	monitor, err := heartbeat.New(heartbeat.Config{
		Sender:   conn,
		Interval: c.config.HeartbeatInterval,
		Timeout:  c.config.HeartbeatTimeout,
		OnTimeout: func() {
			c.logger.Warn("heartbeat timed out", "address", next.address)
			conn.Close()
		},
		Clock:  c.config.Clock,
		Logger: c.logger.With("address", next.address),
	})
	if err != nil {
		conn.Close()
		return err
	}
	conn.SetMessageHandler(func(envelope wire.Envelope, conn *netconn.Conn) {
		c.handle(envelope, conn, monitor)
	})

	c.mu.Lock()
	c.conn = conn
	c.atWorker = next.toWorker
	if next.toWorker {
		c.phase = PhaseInSession
	}
	identity := c.identity
	c.mu.Unlock()

	conn.Start()
	monitor.Start()
	go c.watch(conn, monitor)
	if err := conn.Send(next.first); err != nil {
		// The read loop sees the same failure and reports the loss.
		c.logger.Warn("sending first envelope failed", "kind", next.first.Kind, "error", err)
		return nil
	}
	if next.toWorker {
		c.logger.Info("joined worker", "address", next.address, "room_id", next.roomID)
		c.emit(Event{Kind: EventJoined, Identity: identity, RoomID: next.roomID})
	}
	return nil
}

func (c *Client) watch(conn *netconn.Conn, monitor *heartbeat.Monitor) {
	defer monitor.Stop()
	select {
	case <-conn.Done():
	case <-c.stopped:
		return
	}
	select {
	case c.lost <- conn:
	case <-c.stopped:
	}
}

func (c *Client) requestMove(next move) {
	select {
	case c.moves <- next:
	case <-c.stopped:
	}
}

func (c *Client) emit(event Event) {
	select {
	case c.events <- event:
	case <-c.stopped:
	}
}

// returnToMaster asks Run to reopen the master connection with
// return-to-master. Only the first request of a session counts.
func (c *Client) returnToMaster() {
	c.mu.Lock()
	if c.phase == PhaseReturning || !c.atWorker {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseReturning
	back := wire.ReturnToMaster{Identity: c.identity, SessionID: c.roomID}
	c.ticket = nil
	c.mu.Unlock()

	c.requestMove(move{
		address: c.config.MasterAddress,
		first:   wire.MustNew(wire.KindReturnToMaster, back),
	})
}

func (c *Client) handle(envelope wire.Envelope, conn *netconn.Conn, monitor *heartbeat.Monitor) {
	if envelope.Kind == wire.KindPong {
		monitor.OnPongReceived()
		return
	}
	monitor.Touch()
	if envelope.Kind == wire.KindPing {
		if err := conn.Send(wire.MustNew(wire.KindPong, nil)); err != nil {
			c.logger.Debug("pong failed", "error", err)
		}
		return
	}
	c.mu.Lock()
	current, atWorker := conn == c.conn, c.atWorker
	c.mu.Unlock()
	if !current {
		return
	}
	var err error
	if atWorker {
		err = c.handleWorker(envelope)
	} else {
		err = c.handleMaster(conn, envelope)
	}
	if err != nil {
		c.logger.Warn("malformed envelope", "kind", envelope.Kind, "error", err)
	}
}

func (c *Client) handleMaster(conn *netconn.Conn, envelope wire.Envelope) error {
	switch envelope.Kind {
	case wire.KindWelcome:
		var welcome wire.Welcome
		if err := envelope.Decode(&welcome); err != nil {
			return err
		}
		c.mu.Lock()
		c.identity = welcome.Identity
		c.phase = PhaseIdle
		c.roomID = 0
		c.mu.Unlock()
		c.logger.Info("bound to identity", "identity_id", welcome.Identity.ID, "returning", welcome.Returning)
		c.emit(Event{Kind: EventWelcome, Envelope: envelope, Identity: welcome.Identity})

	case wire.KindQueueStatus:
		var status wire.QueueStatus
		if err := envelope.Decode(&status); err != nil {
			return err
		}
		c.mu.Lock()
		if c.phase == PhaseIdle || c.phase == PhaseQueued {
			c.phase = PhaseIdle
			if status.Queued {
				c.phase = PhaseQueued
			}
		}
		c.mu.Unlock()
		c.emit(Event{Kind: EventQueueStatus, Envelope: envelope})

	case wire.KindMatchFound:
		var found wire.MatchFound
		if err := envelope.Decode(&found); err != nil {
			return err
		}
		c.mu.Lock()
		c.phase = PhaseMatched
		c.roomID = found.RoomID
		c.mu.Unlock()
		c.emit(Event{Kind: EventMatchFound, Envelope: envelope, RoomID: found.RoomID})

	case wire.KindMatchCancelled:
		var cancelled wire.MatchCancelled
		if err := envelope.Decode(&cancelled); err != nil {
			return err
		}
		c.mu.Lock()
		c.phase = PhaseIdle
		if cancelled.Requeued {
			c.phase = PhaseQueued
		}
		c.roomID = 0
		c.ticket = nil
		c.mu.Unlock()
		c.logger.Info("match cancelled", "room_id", cancelled.RoomID, "reason", cancelled.Reason, "requeued", cancelled.Requeued)
		c.emit(Event{Kind: EventMatchCancelled, Envelope: envelope, RoomID: cancelled.RoomID})

	case wire.KindChangeEndpoint:
		var change wire.ChangeEndpoint
		if err := envelope.Decode(&change); err != nil {
			return err
		}
		c.mu.Lock()
		c.roomID = change.RoomID
		c.ticket = change.Ticket
		c.mu.Unlock()
		return conn.SendKind(wire.KindChangeEndpointAck, wire.ChangeEndpointAck{RoomID: change.RoomID})

	case wire.KindConnectToWorker:
		var target wire.ConnectToWorker
		if err := envelope.Decode(&target); err != nil {
			return err
		}
		c.mu.Lock()
		if (c.phase == PhaseMoving || c.phase == PhaseInSession) && c.roomID == target.RoomID {
			c.mu.Unlock()
			return nil
		}
		c.phase = PhaseMoving
		c.roomID = target.RoomID
		join := wire.WorkerJoin{Identity: c.identity, Ticket: c.ticket}
		c.mu.Unlock()
		c.logger.Info("moving to worker", "room_id", target.RoomID, "host", target.Host, "port", target.Port)
		c.requestMove(move{
			address:  net.JoinHostPort(target.Host, strconv.Itoa(int(target.Port))),
			toWorker: true,
			roomID:   target.RoomID,
			first:    wire.MustNew(wire.KindWorkerJoin, join),
		})

	case wire.KindError:
		return c.emitError(envelope)

	default:
		c.logger.Debug("ignoring master envelope", "kind", envelope.Kind)
	}
	return nil
}

func (c *Client) handleWorker(envelope wire.Envelope) error {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()

	switch envelope.Kind {
	case wire.KindWorkerQuorumReached:
		c.emit(Event{Kind: EventQuorumReached, Envelope: envelope, RoomID: roomID})
	case wire.KindTickSnapshot:
		c.emit(Event{Kind: EventSnapshot, Envelope: envelope, RoomID: roomID})
	case wire.KindMemberLeft:
		c.emit(Event{Kind: EventMemberLeft, Envelope: envelope, RoomID: roomID})
	case wire.KindLeaveSessionAck:
		c.emit(Event{Kind: EventLeftSession, Envelope: envelope, RoomID: roomID})
		c.returnToMaster()
	case wire.KindSessionEnd:
		c.emit(Event{Kind: EventSessionEnd, Envelope: envelope, RoomID: roomID})
		c.returnToMaster()
	case wire.KindError:
		// The worker closes a rejected join; the loss takes us back.
		return c.emitError(envelope)
	default:
		c.emit(Event{Kind: EventMessage, Envelope: envelope, RoomID: roomID})
	}
	return nil
}

func (c *Client) emitError(envelope wire.Envelope) error {
	var report wire.Error
	if err := envelope.Decode(&report); err != nil {
		return err
	}
	err := fault.Newf(fault.ParseKind(report.Kind), "client.remote", "%s", report.Message)
	c.logger.Warn("request rejected", "kind", report.Kind, "message", report.Message)
	c.emit(Event{Kind: EventError, Envelope: envelope, Err: err})
	return nil
}

// JoinQueue asks the master to queue the identity. It fails unless the
// client is connected to the master.
func (c *Client) JoinQueue() error {
	return c.sendMaster(wire.MustNew(wire.KindJoinQueue, nil))
}

func (c *Client) LeaveQueue() error {
	return c.sendMaster(wire.MustNew(wire.KindLeaveQueue, nil))
}

// Delete asks the master to forget the identity. The master closes the
// connection and Run returns nil.
func (c *Client) Delete() error {
	c.mu.Lock()
	id := c.identity.ID
	c.deleting = true
	c.mu.Unlock()
	return c.sendMaster(wire.MustNew(wire.KindDeleteIdentity, wire.DeleteIdentity{IdentityID: id}))
}

// LeaveSession leaves the session gracefully. The client returns to the
// master once the worker acknowledges.
func (c *Client) LeaveSession() error {
	c.mu.Lock()
	conn, atWorker := c.conn, c.atWorker
	c.mu.Unlock()
	if conn == nil || !atWorker {
		return fault.Newf(fault.InvalidTransition, "client.leave-session", "not in a session")
	}
	return conn.Send(wire.MustNew(wire.KindLeaveSession, nil))
}

// Send delivers envelope to whichever endpoint is live.
func (c *Client) Send(envelope wire.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fault.Newf(fault.PeerUnreachable, "client.send", "no live connection")
	}
	return conn.Send(envelope)
}

func (c *Client) sendMaster(envelope wire.Envelope) error {
	c.mu.Lock()
	conn, atWorker := c.conn, c.atWorker
	c.mu.Unlock()
	if conn == nil || atWorker {
		return fault.Newf(fault.InvalidTransition, "client."+envelope.Kind, "not connected to the master")
	}
	return conn.Send(envelope)
}
