// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity is the master's store of known participants.
//
// A Registry maps a stable numeric id to an Identity record and, while
// the participant is connected, to its live connection. The registry
// never owns a connection's lifetime: operations that unbind a
// connection return it so the caller decides whether to close it.
//
// The registry lock covers map mutation only. Sends look the
// connection up under the lock and write outside it.
package identity

import (
	"sync"

	"github.com/arena-foundation/arena/lib/fault"
	"github.com/arena-foundation/arena/lib/wire"
)

// Conn is the live connection bound to an identity. *netconn.Conn
// satisfies it.
type Conn interface {
	Send(envelope wire.Envelope) error
	Close() error
}

// Profile is what a participant supplies on first contact.
type Profile struct {
	DisplayName string
}

// Assignment places an identity in a session.
type Assignment struct {
	RoomID uint32
	// Slot is the identity's index in the session's party.
	Slot uint32
}

// Identity is a registered participant. Values returned by the
// Registry are copies.
type Identity struct {
	ID          uint64
	DisplayName string
	Session     *Assignment
	// LeftSessionEarly is set when the identity departed its last
	// session before it finished.
	LeftSessionEarly bool
}

// Wire converts the identity to its wire form.
func (i Identity) Wire() wire.Identity {
	return wire.Identity{ID: i.ID, DisplayName: i.DisplayName}
}

func (i Identity) clone() Identity {
	if i.Session != nil {
		assignment := *i.Session
		i.Session = &assignment
	}
	return i
}

// Registry is safe for concurrent use.
type Registry struct {
	mu          sync.Mutex
	lastID      uint64
	identities  map[uint64]*Identity
	connections map[uint64]Conn
}

// NewRegistry returns an empty registry. The first id handed out is 1.
func NewRegistry() *Registry {
	return &Registry{
		identities:  make(map[uint64]*Identity),
		connections: make(map[uint64]Conn),
	}
}

// Register creates an identity with the next id.
func (r *Registry) Register(profile Profile) Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastID++
	record := &Identity{ID: r.lastID, DisplayName: profile.DisplayName}
	r.identities[record.ID] = record
	return record.clone()
}

// Lookup returns the identity with the given id.
func (r *Registry) Lookup(id uint64) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.identities[id]
	if !ok {
		return Identity{}, false
	}
	return record.clone(), true
}

// Connect binds conn as the identity's live connection. A previously
// bound connection is returned so the caller can close it; an identity
// never has two live connections.
func (r *Registry) Connect(id uint64, conn Conn) (stale Conn, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.identities[id]; !ok {
		return nil, fault.Newf(fault.UnknownIdentity, "identity.Connect", "identity %d is not registered", id)
	}
	stale = r.connections[id]
	if stale == conn {
		stale = nil
	}
	r.connections[id] = conn
	return stale, nil
}

// Disconnect clears the identity's live connection and returns it. The
// identity record is kept.
func (r *Registry) Disconnect(id uint64) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn := r.connections[id]
	delete(r.connections, id)
	return conn
}

// DisconnectIf clears the identity's live connection only if it is
// conn. A connection closing after the identity already rebound to a
// newer one leaves the newer binding alone.
func (r *Registry) DisconnectIf(id uint64, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.connections[id]; ok && current == conn {
		delete(r.connections, id)
		return true
	}
	return false
}

// Delete removes the identity and its live connection together. The
// connection, if any, is returned for the caller to close.
func (r *Registry) Delete(id uint64) (conn Conn, deleted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.identities[id]; !ok {
		return nil, false
	}
	conn = r.connections[id]
	delete(r.connections, id)
	delete(r.identities, id)
	return conn, true
}

// Connected reports whether the identity has a live connection.
func (r *Registry) Connected(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.connections[id]
	return ok
}

// Send writes envelope to the identity's live connection.
func (r *Registry) Send(id uint64, envelope wire.Envelope) error {
	r.mu.Lock()
	_, known := r.identities[id]
	conn := r.connections[id]
	r.mu.Unlock()

	if !known {
		return fault.Newf(fault.UnknownIdentity, "identity.Send", "identity %d is not registered", id)
	}
	if conn == nil {
		return fault.Newf(fault.PeerUnreachable, "identity.Send", "identity %d is not connected", id)
	}
	return conn.Send(envelope)
}

// AssignSession places each identity in ids into roomID, using its
// index in ids as the slot. Unknown ids are skipped.
func (r *Registry) AssignSession(ids []uint64, roomID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for slot, id := range ids {
		record, ok := r.identities[id]
		if !ok {
			continue
		}
		record.Session = &Assignment{RoomID: roomID, Slot: uint32(slot)}
		record.LeftSessionEarly = false
	}
}

// ClearSession removes the assignment of each identity in ids that is
// still assigned to roomID.
func (r *Registry) ClearSession(ids []uint64, roomID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if record, ok := r.identities[id]; ok && record.Session != nil && record.Session.RoomID == roomID {
			record.Session = nil
		}
	}
}

// MarkLeftEarly records that the identity left roomID before it
// finished, and clears its assignment.
func (r *Registry) MarkLeftEarly(id uint64, roomID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.identities[id]
	if !ok || record.Session == nil || record.Session.RoomID != roomID {
		return
	}
	record.Session = nil
	record.LeftSessionEarly = true
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.identities)
}

// ConnectedCount returns the number of identities with a live
// connection.
func (r *Registry) ConnectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}
