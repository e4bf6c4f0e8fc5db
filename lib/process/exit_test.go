// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"testing"

	"github.com/arena-foundation/arena/lib/fault"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), 1},
		{"connect failed", fault.Newf(fault.ConnectFailed, "dial", "refused"), 2},
		{"wrapped connect failed", fmt.Errorf("joining: %w", fault.Newf(fault.ConnectFailed, "dial", "refused")), 2},
		{"other fault", fault.Newf(fault.SpawnFailed, "spawn", "missing"), 1},
	}
	for _, test := range tests {
		if got := ExitCode(test.err); got != test.want {
			t.Errorf("%s: ExitCode = %d, want %d", test.name, got, test.want)
		}
	}
}
