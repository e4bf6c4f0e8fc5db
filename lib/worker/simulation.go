// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"fmt"
	"time"

	"github.com/arena-foundation/arena/lib/codec"
	"github.com/arena-foundation/arena/lib/wire"
)

// Simulation is the per-tick game logic. The runtime never calls it
// concurrently with itself: Tick and Input are serialized.
type Simulation interface {
	// Tick advances memberID by one tick and records what the member
	// should see in snapshot.
	Tick(memberID uint64, snapshot *SnapshotBuilder, interval time.Duration)
}

// InputHandler is implemented by simulations that accept member input.
// Envelopes of kinds the core does not handle are passed to Input.
type InputHandler interface {
	Input(memberID uint64, envelope wire.Envelope)
}

// SimulationFunc adapts a function to Simulation.
type SimulationFunc func(memberID uint64, snapshot *SnapshotBuilder, interval time.Duration)

func (f SimulationFunc) Tick(memberID uint64, snapshot *SnapshotBuilder, interval time.Duration) {
	f(memberID, snapshot, interval)
}

// SnapshotBuilder collects one tick's snapshot.
type SnapshotBuilder struct {
	tick     uint64
	entries  map[uint64]codec.RawMessage
	ranking  []uint64
	finished bool
}

// NewSnapshotBuilder returns an empty builder for tick. The runtime
// makes one per tick; simulations use it in their tests.
func NewSnapshotBuilder(tick uint64) *SnapshotBuilder {
	return &SnapshotBuilder{tick: tick}
}

// Tick returns the tick number, starting at 1.
func (b *SnapshotBuilder) Tick() uint64 { return b.tick }

// Set records value as memberID's entry for this tick, replacing any
// earlier one.
func (b *SnapshotBuilder) Set(memberID uint64, value any) error {
	data, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("snapshot entry for member %d: %w", memberID, err)
	}
	if b.entries == nil {
		b.entries = make(map[uint64]codec.RawMessage)
	}
	b.entries[memberID] = data
	return nil
}

// Finish ends the session after this tick's snapshot is broadcast.
// ranking lists members best first; members it omits rank after it,
// then departed members, last to leave first.
func (b *SnapshotBuilder) Finish(ranking ...uint64) {
	b.finished = true
	b.ranking = append(b.ranking[:0], ranking...)
}

// Entry returns the raw entry recorded for memberID this tick.
func (b *SnapshotBuilder) Entry(memberID uint64) (codec.RawMessage, bool) {
	data, ok := b.entries[memberID]
	return data, ok
}

// Finished reports whether Finish was called, and with which ranking.
func (b *SnapshotBuilder) Finished() ([]uint64, bool) {
	return b.ranking, b.finished
}
