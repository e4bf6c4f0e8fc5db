// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/arena-foundation/arena/lib/client"
	"github.com/arena-foundation/arena/lib/fault"
	"github.com/arena-foundation/arena/lib/wire"
)

// action is what the bot does in response to one event.
type action int

const (
	actNone action = iota
	actJoin
	// actRetryJoin joins again after a pause: the master still has the
	// identity in a session that is being released.
	actRetryJoin
	actBoost
	actLeave
	actStop
	actFail
)

// bot plays a fixed number of rounds: it queues whenever it is idle at
// the master, boosts every boostEvery snapshots, and leaves a session
// early after leaveAfter snapshots.
type bot struct {
	rounds     int
	leaveAfter int
	boostEvery int

	played int
	ticks  int
}

func (b *bot) react(event client.Event) action {
	switch event.Kind {
	case client.EventWelcome:
		if b.played >= b.rounds {
			return actStop
		}
		return actJoin

	case client.EventMatchCancelled:
		var cancelled wire.MatchCancelled
		if err := event.Envelope.Decode(&cancelled); err == nil && cancelled.Requeued {
			return actNone
		}
		return actJoin

	case client.EventQuorumReached:
		b.ticks = 0

	case client.EventSnapshot:
		b.ticks++
		if b.leaveAfter > 0 && b.ticks == b.leaveAfter {
			return actLeave
		}
		if b.boostEvery > 0 && b.ticks%b.boostEvery == 0 {
			return actBoost
		}

	case client.EventSessionEnd, client.EventLeftSession:
		b.played++

	case client.EventError:
		if fault.Is(event.Err, fault.InvalidTransition) {
			return actRetryJoin
		}

	case client.EventDisconnected, client.EventCannotConnect:
		return actFail
	}
	return actNone
}
