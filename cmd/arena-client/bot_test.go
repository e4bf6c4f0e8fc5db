// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"testing"

	"github.com/arena-foundation/arena/lib/client"
	"github.com/arena-foundation/arena/lib/fault"
	"github.com/arena-foundation/arena/lib/wire"
)

func event(kind client.EventKind) client.Event {
	return client.Event{Kind: kind}
}

func TestBotPlaysRoundsThenStops(t *testing.T) {
	b := &bot{rounds: 2}
	for round := 1; round <= 2; round++ {
		if got := b.react(event(client.EventWelcome)); got != actJoin {
			t.Fatalf("round %d: welcome -> %v, want join", round, got)
		}
		b.react(event(client.EventQuorumReached))
		b.react(event(client.EventSnapshot))
		b.react(event(client.EventSessionEnd))
	}
	if got := b.react(event(client.EventWelcome)); got != actStop {
		t.Fatalf("welcome after the last round -> %v, want stop", got)
	}
}

func TestBotBoostsAndLeaves(t *testing.T) {
	b := &bot{rounds: 1, leaveAfter: 4, boostEvery: 2}
	b.react(event(client.EventQuorumReached))
	var got []action
	for range 4 {
		got = append(got, b.react(event(client.EventSnapshot)))
	}
	want := []action{actNone, actBoost, actNone, actLeave}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshot %d -> %v, want %v", i+1, got[i], want[i])
		}
	}
	b.react(event(client.EventLeftSession))
	if b.played != 1 {
		t.Fatalf("played = %d after leaving, want 1", b.played)
	}

	// The tick count starts over in the next session.
	b.react(event(client.EventQuorumReached))
	if got := b.react(event(client.EventSnapshot)); got != actNone {
		t.Fatalf("first snapshot of the next session -> %v, want none", got)
	}
}

func TestBotRequeuesOnlyWhenMasterDidNot(t *testing.T) {
	b := &bot{rounds: 1}
	requeued := client.Event{
		Kind:     client.EventMatchCancelled,
		Envelope: wire.MustNew(wire.KindMatchCancelled, wire.MatchCancelled{RoomID: 1, Requeued: true}),
	}
	if got := b.react(requeued); got != actNone {
		t.Fatalf("requeued cancellation -> %v, want none", got)
	}
	dropped := client.Event{
		Kind:     client.EventMatchCancelled,
		Envelope: wire.MustNew(wire.KindMatchCancelled, wire.MatchCancelled{RoomID: 1}),
	}
	if got := b.react(dropped); got != actJoin {
		t.Fatalf("dropped cancellation -> %v, want join", got)
	}
}

func TestBotErrors(t *testing.T) {
	b := &bot{rounds: 1}
	busy := client.Event{Kind: client.EventError, Err: fault.Newf(fault.InvalidTransition, "test", "in a session")}
	if got := b.react(busy); got != actRetryJoin {
		t.Fatalf("invalid transition -> %v, want retry", got)
	}
	other := client.Event{Kind: client.EventError, Err: fault.Newf(fault.UnknownIdentity, "test", "who")}
	if got := b.react(other); got != actNone {
		t.Fatalf("unknown identity -> %v, want none", got)
	}
	lost := client.Event{Kind: client.EventDisconnected, Err: errors.New("gone")}
	if got := b.react(lost); got != actFail {
		t.Fatalf("disconnected -> %v, want fail", got)
	}
	if got := b.react(event(client.EventCannotConnect)); got != actFail {
		t.Fatalf("cannot connect -> %v, want fail", got)
	}
}
