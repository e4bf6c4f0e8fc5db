// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"
	"testing"

	"github.com/arena-foundation/arena/lib/wire"
)

func TestRenderSessions(t *testing.T) {
	out := render(wire.StatusReport{
		Identities: 9,
		Connected:  6,
		Queued:     2,
		Budget:     3,
		Sessions: []wire.SessionStatus{
			{RoomID: 4, Slot: 1, State: "running", Party: []uint64{1, 2, 3, 5}, Host: "127.0.0.1", Port: 7801},
			{RoomID: 5, Slot: 0, State: "launched", Party: []uint64{6, 7, 8, 9}},
		},
	})
	for _, want := range []string{"identities", "9", "sessions", "2/3", "running", "127.0.0.1:7801", "1,2,3,5", "launched", "6,7,8,9"} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "no active sessions") {
		t.Errorf("output claims no sessions:\n%s", out)
	}
}

func TestRenderIdle(t *testing.T) {
	out := render(wire.StatusReport{Budget: 4})
	if !strings.Contains(out, "no active sessions") {
		t.Fatalf("idle report:\n%s", out)
	}
	if !strings.Contains(out, "0/4") {
		t.Fatalf("idle report does not show the budget:\n%s", out)
	}
}
