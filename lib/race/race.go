// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package race is the built-in simulation arena-worker runs: members
// move along a track at a constant speed, and the session ends when
// the first of them covers it.
package race

import (
	"cmp"
	"slices"
	"time"

	"github.com/arena-foundation/arena/lib/wire"
	"github.com/arena-foundation/arena/lib/worker"
)

// BoostKind is the input envelope that doubles a member's speed for
// one tick.
const BoostKind = "boost"

// Position is a member's snapshot entry.
type Position struct {
	Distance float64 `cbor:"distance"`
	Boosted  bool    `cbor:"boosted,omitempty"`
}

// Race implements worker.Simulation and worker.InputHandler.
type Race struct {
	track    float64
	speed    float64
	distance map[uint64]float64
	boosts   map[uint64]bool
}

var (
	_ worker.Simulation   = (*Race)(nil)
	_ worker.InputHandler = (*Race)(nil)
)

// New returns a race over track distance units at speed units per
// second.
func New(track, speed float64) *Race {
	return &Race{
		track:    track,
		speed:    speed,
		distance: make(map[uint64]float64),
		boosts:   make(map[uint64]bool),
	}
}

func (r *Race) Tick(memberID uint64, snapshot *worker.SnapshotBuilder, interval time.Duration) {
	step := r.speed * interval.Seconds()
	boosted := r.boosts[memberID]
	if boosted {
		step *= 2
		delete(r.boosts, memberID)
	}
	r.distance[memberID] += step
	if err := snapshot.Set(memberID, Position{Distance: r.distance[memberID], Boosted: boosted}); err != nil {
		// Position is two scalars; encoding it only fails on a codec bug.
		panic(err)
	}
	if r.distance[memberID] >= r.track {
		snapshot.Finish(r.standings()...)
	}
}

func (r *Race) Input(memberID uint64, envelope wire.Envelope) {
	if envelope.Kind == BoostKind {
		r.boosts[memberID] = true
	}
}

// standings ranks members by distance covered, ties by id.
func (r *Race) standings() []uint64 {
	ids := make([]uint64, 0, len(r.distance))
	for id := range r.distance {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uint64) int {
		if c := cmp.Compare(r.distance[b], r.distance[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return ids
}
