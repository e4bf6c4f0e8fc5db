// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package fault

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestIsThroughWrapping(t *testing.T) {
	base := New(PeerUnreachable, "send", io.ErrClosedPipe)
	wrapped := fmt.Errorf("broadcasting tick: %w", base)

	if !Is(wrapped, PeerUnreachable) {
		t.Error("Is(wrapped, PeerUnreachable) = false")
	}
	if Is(wrapped, ProtocolViolation) {
		t.Error("Is(wrapped, ProtocolViolation) = true")
	}
	if !errors.Is(wrapped, io.ErrClosedPipe) {
		t.Error("cause lost through Unwrap")
	}
	if KindOf(wrapped) != PeerUnreachable {
		t.Errorf("KindOf = %v", KindOf(wrapped))
	}
	if KindOf(io.EOF) != 0 {
		t.Error("KindOf(unclassified) != 0")
	}
}

func TestKindNamesRoundTrip(t *testing.T) {
	for k := ConnectFailed; k <= InvalidTransition; k++ {
		if got := ParseKind(k.String()); got != k {
			t.Errorf("ParseKind(%q) = %v, want %v", k.String(), got, k)
		}
	}
	if ParseKind("bogus") != 0 {
		t.Error("ParseKind(bogus) != 0")
	}
}

func TestErrorMessage(t *testing.T) {
	err := Newf(SpawnFailed, "spawn", "exec %s: not found", "/opt/worker")
	want := "spawn: spawn-failed: exec /opt/worker: not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
