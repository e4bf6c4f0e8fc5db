// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"

	"github.com/arena-foundation/arena/lib/fault"
)

// Fatal writes "error: err" to stderr and exits. This is the standard
// Arena binary entrypoint error handler: use it in main() for errors
// from run(), where the structured logger may not be initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitCode(err))
}

// ExitCode maps err to a process exit status. Connect failures exit
// with 2 so scripts can tell an unreachable master from other
// failures.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case fault.Is(err, fault.ConnectFailed):
		return 2
	default:
		return 1
	}
}
