// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"sync"
	"testing"

	"github.com/arena-foundation/arena/lib/fault"
	"github.com/arena-foundation/arena/lib/wire"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   []wire.Envelope
	closed bool
}

func (c *fakeConn) Send(envelope wire.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, envelope)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestRegisterAssignsIncreasingIDs(t *testing.T) {
	registry := NewRegistry()
	first := registry.Register(Profile{DisplayName: "ada"})
	second := registry.Register(Profile{DisplayName: "brin"})
	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("ids = %d, %d; want 1, 2", first.ID, second.ID)
	}
	got, ok := registry.Lookup(second.ID)
	if !ok || got.DisplayName != "brin" {
		t.Fatalf("Lookup(%d) = %+v, %v", second.ID, got, ok)
	}
	if _, ok := registry.Lookup(99); ok {
		t.Error("Lookup of an unregistered id succeeded")
	}
}

func TestConcurrentRegisterNeverDuplicates(t *testing.T) {
	registry := NewRegistry()
	const n = 200
	ids := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- registry.Register(Profile{}).ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("id %d handed out twice", id)
		}
		seen[id] = true
	}
	if registry.Len() != n {
		t.Errorf("Len = %d, want %d", registry.Len(), n)
	}
}

func TestConnectReplacesStaleConnection(t *testing.T) {
	registry := NewRegistry()
	id := registry.Register(Profile{}).ID
	old, fresh := &fakeConn{}, &fakeConn{}

	if stale, err := registry.Connect(id, old); err != nil || stale != nil {
		t.Fatalf("first Connect = %v, %v", stale, err)
	}
	stale, err := registry.Connect(id, fresh)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if stale != old {
		t.Fatalf("Connect returned %v as stale, want the previous connection", stale)
	}
	if registry.ConnectedCount() != 1 {
		t.Errorf("ConnectedCount = %d, want 1", registry.ConnectedCount())
	}

	// The old connection's close handler must not unbind the new one.
	if registry.DisconnectIf(id, old) {
		t.Error("DisconnectIf removed a newer binding")
	}
	if !registry.Connected(id) {
		t.Fatal("identity lost its live connection")
	}
	if !registry.DisconnectIf(id, fresh) {
		t.Error("DisconnectIf did not remove the current binding")
	}
	if registry.Connected(id) {
		t.Error("identity still connected")
	}
	if _, ok := registry.Lookup(id); !ok {
		t.Error("disconnect removed the identity record")
	}
}

func TestConnectUnknownIdentity(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Connect(7, &fakeConn{})
	if !fault.Is(err, fault.UnknownIdentity) {
		t.Fatalf("Connect error = %v, want UnknownIdentity", err)
	}
}

func TestDeleteRemovesRecordAndConnection(t *testing.T) {
	registry := NewRegistry()
	id := registry.Register(Profile{}).ID
	conn := &fakeConn{}
	if _, err := registry.Connect(id, conn); err != nil {
		t.Fatal(err)
	}

	removed, ok := registry.Delete(id)
	if !ok || removed != conn {
		t.Fatalf("Delete = %v, %v", removed, ok)
	}
	if _, ok := registry.Lookup(id); ok {
		t.Error("identity survived Delete")
	}
	if registry.Connected(id) {
		t.Error("connection survived Delete")
	}
	if _, ok := registry.Delete(id); ok {
		t.Error("second Delete reported success")
	}
	if conn.closed {
		t.Error("registry closed a connection it does not own")
	}
}

func TestSend(t *testing.T) {
	registry := NewRegistry()
	id := registry.Register(Profile{}).ID

	if err := registry.Send(id, wire.MustNew(wire.KindPing, nil)); !fault.Is(err, fault.PeerUnreachable) {
		t.Errorf("Send while disconnected = %v, want PeerUnreachable", err)
	}
	if err := registry.Send(42, wire.MustNew(wire.KindPing, nil)); !fault.Is(err, fault.UnknownIdentity) {
		t.Errorf("Send to unknown = %v, want UnknownIdentity", err)
	}

	conn := &fakeConn{}
	if _, err := registry.Connect(id, conn); err != nil {
		t.Fatal(err)
	}
	if err := registry.Send(id, wire.MustNew(wire.KindPing, nil)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(conn.sent) != 1 || conn.sent[0].Kind != wire.KindPing {
		t.Errorf("sent = %v", conn.sent)
	}
}

func TestSessionAssignment(t *testing.T) {
	registry := NewRegistry()
	var party []uint64
	for i := 0; i < 3; i++ {
		party = append(party, registry.Register(Profile{}).ID)
	}
	registry.AssignSession(party, 5)

	for slot, id := range party {
		got, _ := registry.Lookup(id)
		if got.Session == nil || got.Session.RoomID != 5 || got.Session.Slot != uint32(slot) {
			t.Fatalf("identity %d assignment = %+v", id, got.Session)
		}
	}

	// Mutating a returned copy does not reach the registry.
	copied, _ := registry.Lookup(party[0])
	copied.Session.RoomID = 99
	if got, _ := registry.Lookup(party[0]); got.Session.RoomID != 5 {
		t.Fatal("Lookup returned an aliased assignment")
	}

	registry.MarkLeftEarly(party[1], 5)
	left, _ := registry.Lookup(party[1])
	if left.Session != nil || !left.LeftSessionEarly {
		t.Errorf("after MarkLeftEarly: %+v", left)
	}

	// Clearing another room leaves this assignment alone.
	registry.ClearSession(party, 6)
	if got, _ := registry.Lookup(party[0]); got.Session == nil {
		t.Fatal("ClearSession for another room cleared the assignment")
	}
	registry.ClearSession(party, 5)
	for _, id := range party {
		if got, _ := registry.Lookup(id); got.Session != nil {
			t.Errorf("identity %d still assigned: %+v", id, got.Session)
		}
	}

	registry.AssignSession(party[1:2], 7)
	if got, _ := registry.Lookup(party[1]); got.LeftSessionEarly {
		t.Error("a new assignment kept the left-early mark")
	}
}
