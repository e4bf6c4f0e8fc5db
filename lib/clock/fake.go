// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock. It is safe for concurrent
// use. AfterFunc callbacks run synchronously inside Advance, without
// the clock's lock held, so callbacks may stop or reset timers and read
// Now. They must not call Advance.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*alarm
	changed *sync.Cond
}

// alarm is one registered timer, ticker or After channel.
type alarm struct {
	when   time.Time
	period time.Duration // non-zero for tickers
	fn     func()        // AfterFunc
	ch     chan time.Time
	active bool
}

// Fake returns a FakeClock frozen at start.
func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.changed = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) add(a *alarm) {
	a.active = true
	c.pending = append(c.pending, a)
	c.changed.Broadcast()
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.add(&alarm{when: c.now.Add(d), ch: ch})
	return ch
}

func (c *FakeClock) Sleep(d time.Duration) {
	if d > 0 {
		<-c.After(d)
	}
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	a := &alarm{when: c.now.Add(d), fn: f}
	c.add(a)
	c.mu.Unlock()

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := a.active
			c.removeLocked(a)
			return wasActive
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := a.active
			c.removeLocked(a)
			a.when = c.now.Add(d)
			c.add(a)
			return wasActive
		},
	}
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker period")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	a := &alarm{when: c.now.Add(d), period: d, ch: ch}
	c.add(a)
	return &Ticker{
		C: ch,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.removeLocked(a)
		},
	}
}

func (c *FakeClock) removeLocked(target *alarm) {
	target.active = false
	kept := c.pending[:0]
	for _, a := range c.pending {
		if a != target {
			kept = append(kept, a)
		}
	}
	c.pending = kept
}

// Advance moves the clock forward by d, firing every alarm that comes
// due, earliest first. A ticker fires once per elapsed period. Alarms
// registered by callbacks during the advance fire too if they fall due
// before the new time.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.when
		firedAt := next.when
		if next.period > 0 {
			next.when = next.when.Add(next.period)
		} else {
			c.removeLocked(next)
		}
		c.mu.Unlock()

		if next.fn != nil {
			next.fn()
			continue
		}
		select {
		case next.ch <- firedAt:
		default:
		}
	}
}

func (c *FakeClock) nextDueLocked(target time.Time) *alarm {
	sort.SliceStable(c.pending, func(i, j int) bool {
		return c.pending[i].when.Before(c.pending[j].when)
	})
	if len(c.pending) == 0 || c.pending[0].when.After(target) {
		return nil
	}
	return c.pending[0]
}

// WaitForTimers blocks until at least n alarms are registered.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// Pending returns the number of registered alarms.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
