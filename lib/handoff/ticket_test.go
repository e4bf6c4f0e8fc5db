// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package handoff

import "testing"

func TestIssueVerify(t *testing.T) {
	key, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	ticket := Issue(key, 3, 42)
	if len(ticket) != KeySize {
		t.Fatalf("ticket length = %d, want %d", len(ticket), KeySize)
	}
	if !Verify(key, 3, 42, ticket) {
		t.Fatal("Verify rejected its own ticket")
	}

	other, err := NewKey()
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name     string
		key      Key
		room     uint32
		identity uint64
		ticket   []byte
	}{
		{"other room", key, 4, 42, ticket},
		{"other identity", key, 3, 43, ticket},
		{"other key", other, 3, 42, ticket},
		{"truncated", key, 3, 42, ticket[:16]},
		{"empty", key, 3, 42, nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if Verify(test.key, test.room, test.identity, test.ticket) {
				t.Error("Verify accepted a ticket it should reject")
			}
		})
	}
}

func TestIssueIsDeterministic(t *testing.T) {
	var key Key
	copy(key[:], "0123456789abcdef0123456789abcdef")
	first, second := Issue(key, 1, 1), Issue(key, 1, 1)
	if string(first) != string(second) {
		t.Error("Issue is not deterministic for one key")
	}
}

func TestParseKey(t *testing.T) {
	key, err := NewKey()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseKey(key[:])
	if err != nil || parsed != key {
		t.Fatalf("ParseKey = %x, %v", parsed, err)
	}
	if _, err := ParseKey(key[:31]); err == nil {
		t.Error("ParseKey accepted a short key")
	}
}
