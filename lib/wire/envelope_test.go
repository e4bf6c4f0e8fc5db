// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "testing"

func TestEnvelopePayloadDecode(t *testing.T) {
	envelope, err := New(KindChangeEndpoint, ChangeEndpoint{RoomID: 12, Host: "10.0.0.5", Port: 7801, Ticket: []byte{1, 2}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var payload ChangeEndpoint
	if err := envelope.Decode(&payload); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if payload.RoomID != 12 || payload.Host != "10.0.0.5" || payload.Port != 7801 || len(payload.Ticket) != 2 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestEnvelopeWithoutPayload(t *testing.T) {
	envelope, err := New(KindLeaveSession, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if envelope.Payload != nil {
		t.Errorf("Payload = %x, want nil", envelope.Payload)
	}
	status := QueueStatus{Queued: true}
	if err := envelope.Decode(&status); err != nil || !status.Queued {
		t.Errorf("Decode of empty payload touched the target: %+v, %v", status, err)
	}
}

func TestNewRejectsEmptyKind(t *testing.T) {
	if _, err := New("", nil); err == nil {
		t.Fatal("New accepted an empty kind")
	}
}

func TestIsCore(t *testing.T) {
	if !IsCore(KindTickSnapshot) || !IsCore(KindWorkerJoin) {
		t.Error("core kinds not recognized")
	}
	if IsCore("move") {
		t.Error("simulation kind reported as core")
	}
}
