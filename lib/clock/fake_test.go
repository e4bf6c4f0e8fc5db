// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	c.AfterFunc(5*time.Second, func() { fired++ })

	c.Advance(4 * time.Second)
	if fired != 0 {
		t.Fatalf("fired early: %d", fired)
	}
	c.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	c.Advance(time.Hour)
	if fired != 1 {
		t.Fatalf("one-shot fired again: %d", fired)
	}
}

func TestFakeTimerStopAndReset(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	timer := c.AfterFunc(time.Second, func() { fired++ })

	if !timer.Stop() {
		t.Fatal("Stop on pending timer returned false")
	}
	if timer.Stop() {
		t.Fatal("second Stop returned true")
	}
	c.Advance(2 * time.Second)
	if fired != 0 {
		t.Fatal("stopped timer fired")
	}

	if timer.Reset(3 * time.Second) {
		t.Fatal("Reset of stopped timer reported active")
	}
	c.Advance(2 * time.Second)
	if fired != 0 {
		t.Fatal("reset timer fired early")
	}
	c.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
}

func TestFakeTickerDropsWhenBehind(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)
	defer ticker.Stop()

	c.Advance(3 * time.Second)
	select {
	case at := <-ticker.C:
		if !at.Equal(epoch.Add(time.Second)) {
			t.Errorf("first tick at %v, want %v", at, epoch.Add(time.Second))
		}
	default:
		t.Fatal("no tick delivered")
	}
	select {
	case <-ticker.C:
		t.Fatal("buffered more than one tick")
	default:
	}
	if got := c.Now(); !got.Equal(epoch.Add(3 * time.Second)) {
		t.Errorf("Now = %v", got)
	}
}

func TestFakeCallbackCanRearm(t *testing.T) {
	c := Fake(epoch)
	var times []time.Time
	var timer *Timer
	timer = c.AfterFunc(time.Second, func() {
		times = append(times, c.Now())
		if len(times) < 3 {
			timer.Reset(time.Second)
		}
	})

	c.Advance(10 * time.Second)
	if len(times) != 3 {
		t.Fatalf("fired %d times, want 3", len(times))
	}
	for i, at := range times {
		want := epoch.Add(time.Duration(i+1) * time.Second)
		if !at.Equal(want) {
			t.Errorf("fire %d at %v, want %v", i, at, want)
		}
	}
}

func TestWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		c.Sleep(time.Minute)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Minute)
	<-done
}
