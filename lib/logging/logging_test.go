// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, test := range tests {
		got, err := ParseLevel(test.name)
		if err != nil || got != test.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", test.name, got, err, test.want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("ParseLevel accepted an unknown level")
	}
}

// A buffer is never a terminal, so auto picks JSON.
func TestAutoFormatIsJSONOffTerminal(t *testing.T) {
	var output bytes.Buffer
	logger, err := New(&output, "info", "auto")
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("session launched", "room_id", 3)

	var record map[string]any
	if err := json.Unmarshal(output.Bytes(), &record); err != nil {
		t.Fatalf("output %q is not JSON: %v", output.String(), err)
	}
	if record["msg"] != "session launched" || record["room_id"] != float64(3) {
		t.Fatalf("record = %v", record)
	}
}

func TestTextFormatAndLevel(t *testing.T) {
	var output bytes.Buffer
	logger, err := New(&output, "warn", "text")
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("dropped")
	logger.Warn("kept", "identity_id", 7)

	text := output.String()
	if strings.Contains(text, "dropped") {
		t.Errorf("info record written at warn level: %q", text)
	}
	if !strings.Contains(text, "msg=kept") || !strings.Contains(text, "identity_id=7") {
		t.Errorf("unexpected text output %q", text)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatal("New accepted an unknown format")
	}
}
