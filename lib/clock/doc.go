// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for everything in Arena that waits:
// heartbeat pings and inactivity timers, the worker tick loop, connect
// retry spacing and the orchestrator's shutdown grace period.
//
// Components hold a Clock field. Binaries pass Real(); tests pass a
// FakeClock and drive it with Advance, using WaitForTimers to make sure
// the goroutine under test has registered its timer before time moves.
package clock
