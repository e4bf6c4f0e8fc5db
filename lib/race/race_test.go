// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package race

import (
	"slices"
	"testing"
	"time"

	"github.com/arena-foundation/arena/lib/codec"
	"github.com/arena-foundation/arena/lib/wire"
	"github.com/arena-foundation/arena/lib/worker"
)

func entry(t *testing.T, builder *worker.SnapshotBuilder, memberID uint64) Position {
	t.Helper()
	data, ok := builder.Entry(memberID)
	if !ok {
		t.Fatalf("no entry for member %d", memberID)
	}
	var p Position
	if err := codec.Unmarshal(data, &p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestStandingsOrderByDistance(t *testing.T) {
	r := New(100, 10)
	r.distance[1] = 40
	r.distance[2] = 70
	r.distance[3] = 40
	if got := r.standings(); !slices.Equal(got, []uint64{2, 1, 3}) {
		t.Fatalf("standings = %v, want [2 1 3]", got)
	}
}

func TestBoostLastsOneTick(t *testing.T) {
	const interval = 100 * time.Millisecond
	r := New(1000, 10)
	r.Input(1, wire.MustNew(BoostKind, nil))
	r.Input(2, wire.MustNew("wave", nil))

	first := worker.NewSnapshotBuilder(1)
	r.Tick(1, first, interval)
	r.Tick(2, first, interval)
	if got := entry(t, first, 1); got.Distance != 2 || !got.Boosted {
		t.Fatalf("boosted member = %+v, want distance 2", got)
	}
	if got := entry(t, first, 2); got.Distance != 1 || got.Boosted {
		t.Fatalf("plain member = %+v, want distance 1", got)
	}

	second := worker.NewSnapshotBuilder(2)
	r.Tick(1, second, interval)
	if got := entry(t, second, 1); got.Distance != 3 || got.Boosted {
		t.Fatalf("boost carried into the next tick: %+v", got)
	}
}

func TestRaceFinishesAtTrackEnd(t *testing.T) {
	r := New(3, 10)
	for tick := uint64(1); tick <= 2; tick++ {
		builder := worker.NewSnapshotBuilder(tick)
		if tick == 1 {
			r.Input(2, wire.MustNew(BoostKind, nil))
		}
		r.Tick(1, builder, 100*time.Millisecond)
		r.Tick(2, builder, 100*time.Millisecond)
		ranking, finished := builder.Finished()
		if tick == 1 && finished {
			t.Fatal("finished before anyone covered the track")
		}
		if tick == 2 && (!finished || !slices.Equal(ranking, []uint64{2, 1})) {
			t.Fatalf("tick 2: Finished() = %v, %v; want [2 1]", ranking, finished)
		}
	}
}
