// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"net"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/arena-foundation/arena/lib/clock"
	"github.com/arena-foundation/arena/lib/codec"
	"github.com/arena-foundation/arena/lib/fault"
	"github.com/arena-foundation/arena/lib/handoff"
	"github.com/arena-foundation/arena/lib/netconn"
	"github.com/arena-foundation/arena/lib/testutil"
	"github.com/arena-foundation/arena/lib/wire"
)

const (
	waitTimeout = 5 * time.Second
	sessionID   = 7
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// peer is one end of a test connection that queues everything it
// receives.
type peer struct {
	conn     *netconn.Conn
	received chan wire.Envelope
}

func newPeer(conn *netconn.Conn) *peer {
	p := &peer{conn: conn, received: make(chan wire.Envelope, 256)}
	conn.SetMessageHandler(func(envelope wire.Envelope, _ *netconn.Conn) {
		p.received <- envelope
	})
	conn.Start()
	return p
}

func dial(t *testing.T, address string) *peer {
	t.Helper()
	conn, err := netconn.Open(context.Background(), address, netconn.Options{})
	if err != nil {
		t.Fatalf("dialing %s: %v", address, err)
	}
	t.Cleanup(func() { conn.Close() })
	return newPeer(conn)
}

// expect returns the next envelope of kind, discarding others.
func (p *peer) expect(t *testing.T, kind string) wire.Envelope {
	t.Helper()
	for {
		envelope := testutil.RequireReceive(t, p.received, waitTimeout, "waiting for "+kind)
		if envelope.Kind == kind {
			return envelope
		}
	}
}

func decode[T any](t *testing.T, envelope wire.Envelope) T {
	t.Helper()
	var value T
	if err := envelope.Decode(&value); err != nil {
		t.Fatalf("decoding %s: %v", envelope.Kind, err)
	}
	return value
}

type session struct {
	runtime *Runtime
	master  *peer
	key     handoff.Key
	address string
	done    chan error
}

// startSession runs a worker against a fake master and completes the
// handshake for party.
func startSession(t *testing.T, party []uint64, ticksPerSecond int, simulation Simulation, config Config) *session {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { listener.Close() })
	accepted := make(chan *netconn.Conn, 1)
	go func() {
		conn, err := netconn.Accept(listener, netconn.Options{})
		if err == nil {
			accepted <- conn
		}
	}()

	config.MasterAddress = listener.Addr().String()
	config.SessionID = sessionID
	config.ListenHost = "127.0.0.1"
	config.Simulation = simulation
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = time.Hour
		config.HeartbeatTimeout = 2 * time.Hour
	}
	runtime, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- runtime.Run(ctx) }()

	masterConn := testutil.RequireReceive(t, accepted, waitTimeout, "worker connecting to master")
	t.Cleanup(func() { masterConn.Close() })
	master := newPeer(masterConn)

	created := decode[wire.WorkerCreated](t, master.expect(t, wire.KindWorkerCreated))
	if created.SessionID != sessionID || created.Host != "127.0.0.1" {
		t.Fatalf("worker-created = %+v", created)
	}

	key, err := handoff.NewKey()
	if err != nil {
		t.Fatal(err)
	}
	payload := wire.SessionPayload{SessionID: sessionID, TicksPerSecond: ticksPerSecond, TicketKey: key[:]}
	for _, id := range party {
		payload.Party = append(payload.Party, wire.Identity{ID: id})
	}
	if err := masterConn.SendKind(wire.KindSessionPayload, payload); err != nil {
		t.Fatal(err)
	}

	ready := decode[wire.WorkerReady](t, master.expect(t, wire.KindWorkerReady))
	if ready.Port == 0 {
		t.Fatal("worker-ready without a port")
	}
	return &session{
		runtime: runtime,
		master:  master,
		key:     key,
		address: net.JoinHostPort(ready.Host, strconv.Itoa(int(ready.Port))),
		done:    done,
	}
}

func (s *session) join(t *testing.T, id uint64) *peer {
	t.Helper()
	client := dial(t, s.address)
	if err := client.conn.SendKind(wire.KindWorkerJoin, wire.WorkerJoin{
		Identity: wire.Identity{ID: id},
		Ticket:   handoff.Issue(s.key, sessionID, id),
	}); err != nil {
		t.Fatal(err)
	}
	return client
}

func (s *session) shutdown(t *testing.T) {
	t.Helper()
	if err := s.master.conn.SendKind(wire.KindShutdown, wire.Shutdown{SessionID: sessionID}); err != nil {
		t.Fatal(err)
	}
	if err := testutil.RequireReceive(t, s.done, waitTimeout, "worker exit"); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

var idle = SimulationFunc(func(uint64, *SnapshotBuilder, time.Duration) {})

// Members A, B, C, D join; C, A and B leave in that order; D wins and
// the rest rank in reverse departure order. A dropped its connection,
// so the result is tagged as ended by disconnection.
func TestFinishOrderFollowsDepartures(t *testing.T) {
	const a, b, c, d = 1, 2, 3, 4
	s := startSession(t, []uint64{a, b, c, d}, 10, idle, Config{Clock: clock.Fake(epoch)})

	clients := map[uint64]*peer{}
	for _, id := range []uint64{a, b, c, d} {
		clients[id] = s.join(t, id)
	}
	quorum := decode[wire.WorkerQuorumReached](t, s.master.expect(t, wire.KindWorkerQuorumReached))
	if !slices.Equal(quorum.Members, []uint64{a, b, c, d}) {
		t.Fatalf("quorum members = %v", quorum.Members)
	}
	for _, client := range clients {
		client.expect(t, wire.KindWorkerQuorumReached)
	}

	expectLeft := func(id uint64, graceful bool) {
		t.Helper()
		left := decode[wire.MemberLeft](t, s.master.expect(t, wire.KindMemberLeft))
		if left.IdentityID != id || left.Graceful != graceful {
			t.Fatalf("member-left = %+v, want identity %d graceful %v", left, id, graceful)
		}
	}

	if err := clients[c].conn.SendKind(wire.KindLeaveSession, nil); err != nil {
		t.Fatal(err)
	}
	clients[c].expect(t, wire.KindLeaveSessionAck)
	expectLeft(c, true)

	clients[a].conn.Close()
	expectLeft(a, false)

	if err := clients[b].conn.SendKind(wire.KindLeaveSession, nil); err != nil {
		t.Fatal(err)
	}
	expectLeft(b, true)

	want := []uint64{d, b, a, c}
	end := decode[wire.SessionEnd](t, clients[d].expect(t, wire.KindSessionEnd))
	if !slices.Equal(end.FinishOrder, want) || !end.EndedByDisconnection {
		t.Fatalf("session-end to winner = %+v, want order %v by disconnection", end, want)
	}
	reported := decode[wire.SessionEnd](t, s.master.expect(t, wire.KindSessionEnd))
	if !slices.Equal(reported.FinishOrder, want) {
		t.Fatalf("session-end to master = %+v", reported)
	}
	if result, ok := s.runtime.Result(); !ok || !slices.Equal(result.FinishOrder, want) {
		t.Errorf("Result = %+v, %v", result, ok)
	}
	s.shutdown(t)
}

func TestLeavesOnlyFinishIsNotADisconnection(t *testing.T) {
	s := startSession(t, []uint64{1, 2, 3}, 10, idle, Config{Clock: clock.Fake(epoch)})
	clients := []*peer{s.join(t, 1), s.join(t, 2), s.join(t, 3)}
	s.master.expect(t, wire.KindWorkerQuorumReached)

	for _, id := range []uint64{3, 1} {
		if err := clients[id-1].conn.SendKind(wire.KindLeaveSession, nil); err != nil {
			t.Fatal(err)
		}
		clients[id-1].expect(t, wire.KindLeaveSessionAck)
		s.master.expect(t, wire.KindMemberLeft)
	}

	end := decode[wire.SessionEnd](t, s.master.expect(t, wire.KindSessionEnd))
	if !slices.Equal(end.FinishOrder, []uint64{2, 1, 3}) || end.EndedByDisconnection {
		t.Fatalf("session-end = %+v, want order [2 1 3] not by disconnection", end)
	}
	winner := decode[wire.SessionEnd](t, clients[1].expect(t, wire.KindSessionEnd))
	if winner.EndedByDisconnection {
		t.Fatalf("session-end to winner = %+v", winner)
	}
	s.shutdown(t)
}

func TestMasterSilenceEndsRun(t *testing.T) {
	fake := clock.Fake(epoch)
	s := startSession(t, []uint64{1, 2}, 10, idle, Config{
		Clock:             fake,
		HeartbeatInterval: time.Second,
		HeartbeatTimeout:  3 * time.Second,
	})
	// The master monitor and the join timeout.
	fake.WaitForTimers(3)

	// The fake master never answers the worker's pings.
	fake.Advance(3 * time.Second)
	s.master.expect(t, wire.KindPing)

	err := testutil.RequireReceive(t, s.done, waitTimeout, "worker exit")
	if !fault.Is(err, fault.PeerUnreachable) {
		t.Fatalf("Run = %v, want a PeerUnreachable error", err)
	}
	testutil.RequireClosed(t, s.master.conn.Done(), waitTimeout, "master connection closed")
}

type countingSimulation struct {
	mu     sync.Mutex
	ticks  map[uint64]uint64
	inputs []string
}

func (c *countingSimulation) Tick(memberID uint64, snapshot *SnapshotBuilder, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks[memberID]++
	if err := snapshot.Set(memberID, c.ticks[memberID]); err != nil {
		panic(err)
	}
	if snapshot.Tick() == 3 {
		snapshot.Finish(2)
	}
}

func (c *countingSimulation) Input(memberID uint64, envelope wire.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs = append(c.inputs, strconv.FormatUint(memberID, 10)+":"+envelope.Kind)
}

func TestTickLoopBroadcastsSnapshots(t *testing.T) {
	fake := clock.Fake(epoch)
	simulation := &countingSimulation{ticks: make(map[uint64]uint64)}
	s := startSession(t, []uint64{1, 2}, 10, simulation, Config{Clock: fake})
	first, second := s.join(t, 1), s.join(t, 2)
	s.master.expect(t, wire.KindWorkerQuorumReached)

	// Join timeout, the master monitor, two member monitors and the
	// tick ticker.
	fake.WaitForTimers(8)

	if err := first.conn.SendKind("move", map[string]int{"x": 1}); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, waitTimeout, func() bool {
		simulation.mu.Lock()
		defer simulation.mu.Unlock()
		return slices.Equal(simulation.inputs, []string{"1:move"})
	}, "simulation input")

	for tick := uint64(1); tick <= 3; tick++ {
		fake.Advance(100 * time.Millisecond)
		for _, client := range []*peer{first, second} {
			snapshot := decode[wire.TickSnapshot](t, client.expect(t, wire.KindTickSnapshot))
			if snapshot.Tick != tick || !slices.Equal(snapshot.Members, []uint64{1, 2}) {
				t.Fatalf("snapshot = %+v, want tick %d", snapshot, tick)
			}
			var count uint64
			if err := codec.Unmarshal(snapshot.Entries[1], &count); err != nil || count != tick {
				t.Fatalf("entry for member 1 = %d, %v; want %d", count, err, tick)
			}
		}
	}

	end := decode[wire.SessionEnd](t, first.expect(t, wire.KindSessionEnd))
	if !slices.Equal(end.FinishOrder, []uint64{2, 1}) || end.EndedByDisconnection {
		t.Fatalf("session-end = %+v", end)
	}
	second.expect(t, wire.KindSessionEnd)
	s.master.expect(t, wire.KindSessionEnd)

	// No ticks after the session ended.
	fake.Advance(time.Second)
	testutil.RequireNoReceive(t, second.received, 50*time.Millisecond, "envelope after session end")
	s.shutdown(t)
}

func TestJoinRejections(t *testing.T) {
	s := startSession(t, []uint64{1, 2}, 10, idle, Config{Clock: clock.Fake(epoch)})

	tests := []struct {
		name string
		send func(*peer) error
		kind fault.Kind
	}{
		{
			name: "not in party",
			send: func(p *peer) error {
				return p.conn.SendKind(wire.KindWorkerJoin, wire.WorkerJoin{
					Identity: wire.Identity{ID: 99},
					Ticket:   handoff.Issue(s.key, sessionID, 99),
				})
			},
			kind: fault.UnknownIdentity,
		},
		{
			name: "ticket for another identity",
			send: func(p *peer) error {
				return p.conn.SendKind(wire.KindWorkerJoin, wire.WorkerJoin{
					Identity: wire.Identity{ID: 1},
					Ticket:   handoff.Issue(s.key, sessionID, 2),
				})
			},
			kind: fault.UnknownIdentity,
		},
		{
			name: "wrong first envelope",
			send: func(p *peer) error { return p.conn.SendKind(wire.KindJoinQueue, nil) },
			kind: fault.ProtocolViolation,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client := dial(t, s.address)
			if err := test.send(client); err != nil {
				t.Fatal(err)
			}
			report := decode[wire.Error](t, client.expect(t, wire.KindError))
			if fault.ParseKind(report.Kind) != test.kind {
				t.Errorf("error kind = %q, want %s", report.Kind, test.kind)
			}
			testutil.RequireClosed(t, client.conn.Done(), waitTimeout, "rejected connection closed")
		})
	}

	// Rejections do not disturb the session: the real party still
	// assembles.
	s.join(t, 1)
	s.join(t, 2)
	s.master.expect(t, wire.KindWorkerQuorumReached)
}

func TestHeartbeatTimeoutIsADeparture(t *testing.T) {
	fake := clock.Fake(epoch)
	s := startSession(t, []uint64{1, 2}, 1, idle, Config{
		Clock:             fake,
		HeartbeatInterval: time.Second,
		HeartbeatTimeout:  3 * time.Second,
	})
	s.join(t, 1)
	s.join(t, 2)
	s.master.expect(t, wire.KindWorkerQuorumReached)
	fake.WaitForTimers(8)

	// The master keeps its own connection alive; neither client answers
	// pings.
	fake.Advance(2 * time.Second)
	if err := s.master.conn.SendKind(wire.KindPing, wire.Ping{}); err != nil {
		t.Fatal(err)
	}
	s.master.expect(t, wire.KindPong)
	fake.Advance(time.Second)

	left := decode[wire.MemberLeft](t, s.master.expect(t, wire.KindMemberLeft))
	if left.Graceful {
		t.Errorf("timeout reported as graceful: %+v", left)
	}
	end := decode[wire.SessionEnd](t, s.master.expect(t, wire.KindSessionEnd))
	if !end.EndedByDisconnection || len(end.FinishOrder) != 2 || end.FinishOrder[1] != left.IdentityID {
		t.Fatalf("session-end = %+v after %d timed out", end, left.IdentityID)
	}
	s.shutdown(t)
}

func TestJoinTimeout(t *testing.T) {
	fake := clock.Fake(epoch)
	s := startSession(t, []uint64{1, 2}, 10, idle, Config{Clock: fake, JoinTimeout: 10 * time.Second})
	client := s.join(t, 1)
	testutil.Eventually(t, waitTimeout, func() bool {
		s.runtime.mu.Lock()
		defer s.runtime.mu.Unlock()
		return len(s.runtime.members) == 1
	}, "first member admitted")

	// Join timeout, the master monitor and the member's monitor.
	fake.WaitForTimers(5)
	fake.Advance(10 * time.Second)

	if err := testutil.RequireReceive(t, s.done, waitTimeout, "worker exit"); err == nil {
		t.Fatal("Run returned nil after the join timeout")
	}
	testutil.RequireClosed(t, client.conn.Done(), waitTimeout, "member closed")
	testutil.RequireClosed(t, s.master.conn.Done(), waitTimeout, "master connection closed")
}

func TestMasterLostBeforePayload(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()
	go func() {
		conn, err := netconn.Accept(listener, netconn.Options{})
		if err != nil {
			return
		}
		master := newPeer(conn)
		<-master.received
		conn.Close()
	}()

	runtime, err := New(Config{MasterAddress: listener.Addr().String(), SessionID: sessionID, Simulation: idle})
	if err != nil {
		t.Fatal(err)
	}
	err = runtime.Run(context.Background())
	if !fault.Is(err, fault.PeerUnreachable) {
		t.Fatalf("Run = %v, want PeerUnreachable", err)
	}
}

func TestMasterUnreachable(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	address := listener.Addr().String()
	listener.Close()

	runtime, err := New(Config{MasterAddress: address, Simulation: idle, Connect: netconn.Options{Attempts: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if err := runtime.Run(context.Background()); !fault.Is(err, fault.ConnectFailed) {
		t.Fatalf("Run = %v, want ConnectFailed", err)
	}
}

func TestFinishOrderRanking(t *testing.T) {
	runtime := &Runtime{
		party:    []uint64{1, 2, 3, 4, 5},
		members:  map[uint64]*member{2: {id: 2}, 4: {id: 4}, 5: {id: 5}},
		departed: []uint64{3, 1},
	}
	got := runtime.finishOrderLocked([]uint64{4, 1, 42})
	if want := []uint64{4, 1, 2, 5, 3}; !slices.Equal(got, want) {
		t.Errorf("finish order = %v, want %v", got, want)
	}
}
