// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package matchqueue holds identities waiting for a match.
//
// The queue is FIFO. Drain checks the length and dequeues a whole party
// in one critical section, so two concurrent drains can never split a
// party and no drain sees the count change between its check and its
// dequeues.
package matchqueue

import "sync"

// Queue is safe for concurrent use. The zero value is an empty queue.
type Queue struct {
	mu      sync.Mutex
	waiting []uint64
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends id. It returns false, leaving the queue unchanged, if
// id is already waiting.
func (q *Queue) Enqueue(id uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, waiting := range q.waiting {
		if waiting == id {
			return false
		}
	}
	q.waiting = append(q.waiting, id)
	return true
}

// TryLeave removes id and reports whether it was waiting. The queue is
// rebuilt without id; the order of the others is kept.
func (q *Queue) TryLeave(id uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	rebuilt := make([]uint64, 0, len(q.waiting))
	found := false
	for _, waiting := range q.waiting {
		if waiting == id {
			found = true
			continue
		}
		rebuilt = append(rebuilt, waiting)
	}
	q.waiting = rebuilt
	return found
}

// DrainIfReady dequeues the partySize longest-waiting ids if at least
// that many are waiting.
func (q *Queue) DrainIfReady(partySize int) ([]uint64, bool) {
	if partySize <= 0 {
		return nil, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiting) < partySize {
		return nil, false
	}
	party := make([]uint64, partySize)
	copy(party, q.waiting)
	q.waiting = append(q.waiting[:0:0], q.waiting[partySize:]...)
	return party, true
}

// Len returns the number of waiting ids.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// Snapshot returns the waiting ids, longest-waiting first.
func (q *Queue) Snapshot() []uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uint64(nil), q.waiting...)
}
