// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package handoff issues and checks the tickets that bind an identity
// to the room it was handed to.
//
// The master draws one random Key per session and passes it to that
// session's worker. Each party member's change-endpoint carries
// Issue(key, room, identity); the worker admits a worker-join only if
// Verify accepts its ticket. A client holding a ticket for one room
// cannot join another, and a stale client cannot join a room it was
// never handed to. Tickets are not user authentication.
package handoff

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

// KeySize is the length of a session key and of a ticket.
const KeySize = 32

// Key is a per-session BLAKE3 key.
type Key [KeySize]byte

// domain prefixes every ticket message so the key cannot be replayed
// against another use of keyed BLAKE3.
var domain = []byte("arena.handoff.v1")

// NewKey returns a random key.
func NewKey() (Key, error) {
	var key Key
	if _, err := rand.Read(key[:]); err != nil {
		return Key{}, fmt.Errorf("generating handoff key: %w", err)
	}
	return key, nil
}

// ParseKey converts the wire form of a key.
func ParseKey(data []byte) (Key, error) {
	var key Key
	if len(data) != KeySize {
		return Key{}, fmt.Errorf("handoff key is %d bytes, want %d", len(data), KeySize)
	}
	copy(key[:], data)
	return key, nil
}

// Issue returns the ticket admitting identityID to roomID.
func Issue(key Key, roomID uint32, identityID uint64) []byte {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("handoff: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var message [4 + 8]byte
	binary.BigEndian.PutUint32(message[:4], roomID)
	binary.BigEndian.PutUint64(message[4:], identityID)
	hasher.Write(domain)
	hasher.Write(message[:])
	return hasher.Sum(nil)
}

// Verify reports whether ticket admits identityID to roomID. The
// comparison takes constant time.
func Verify(key Key, roomID uint32, identityID uint64, ticket []byte) bool {
	if len(ticket) != KeySize {
		return false
	}
	return subtle.ConstantTimeCompare(Issue(key, roomID, identityID), ticket) == 1
}
