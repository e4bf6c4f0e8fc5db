// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package heartbeat detects silently dead peers.
//
// A Monitor pings its connection every Interval and keeps an
// inactivity timer of length Timeout running. Any inbound traffic
// restarts the timer; a pong additionally completes the round-trip
// measurement started when the ping was sent. If the timer expires the
// owner's OnTimeout runs, exactly once, and monitoring ends.
//
// A ping that fails to send is logged and the loop carries on: under
// congestion a single write can fail without the peer being gone, and
// the inactivity timer is the authority on liveness.
package heartbeat

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arena-foundation/arena/lib/clock"
	"github.com/arena-foundation/arena/lib/wire"
)

// Sender is the connection being monitored.
type Sender interface {
	Send(envelope wire.Envelope) error
}

// Config configures a Monitor. Timeout must exceed Interval.
type Config struct {
	Sender    Sender
	Interval  time.Duration
	Timeout   time.Duration
	OnTimeout func()
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Monitor is the heartbeat state of one connection.
type Monitor struct {
	sender    Sender
	interval  time.Duration
	timeout   time.Duration
	onTimeout func()
	clock     clock.Clock
	logger    *slog.Logger

	// mu guards everything below and is held across ping sends, so
	// Stop cannot return while a ping is being written and no ping is
	// written after Stop.
	mu         sync.Mutex
	active     bool
	pingSentAt time.Time
	roundTrip  time.Duration
	timer      *clock.Timer
	stopLoop   chan struct{}
}

// New validates config and returns an unstarted Monitor.
func New(config Config) (*Monitor, error) {
	if config.Sender == nil {
		return nil, fmt.Errorf("heartbeat: nil sender")
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("heartbeat: interval must be positive, got %v", config.Interval)
	}
	if config.Timeout <= config.Interval {
		return nil, fmt.Errorf("heartbeat: timeout %v must exceed interval %v", config.Timeout, config.Interval)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.OnTimeout == nil {
		config.OnTimeout = func() {}
	}
	return &Monitor{
		sender:    config.Sender,
		interval:  config.Interval,
		timeout:   config.Timeout,
		onTimeout: config.OnTimeout,
		clock:     config.Clock,
		logger:    config.Logger,
	}, nil
}

// Start arms the inactivity timer and starts the ping loop. Calling
// Start on a running or stopped monitor does nothing.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active || m.stopLoop != nil {
		return
	}
	m.active = true
	m.stopLoop = make(chan struct{})
	m.timer = m.clock.AfterFunc(m.timeout, m.expire)
	ticker := m.clock.NewTicker(m.interval)
	go m.pingLoop(ticker, m.stopLoop)
}

func (m *Monitor) pingLoop(ticker *clock.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.ping()
		}
	}
}

func (m *Monitor) ping() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	envelope := wire.MustNew(wire.KindPing, wire.Ping{LastRoundTripMillis: m.roundTrip.Milliseconds()})
	m.pingSentAt = m.clock.Now()
	if err := m.sender.Send(envelope); err != nil {
		m.logger.Warn("heartbeat ping failed", "error", err)
	}
}

// OnPongReceived restarts the inactivity timer and records the round
// trip since the last ping.
func (m *Monitor) OnPongReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return
	}
	m.timer.Reset(m.timeout)
	if !m.pingSentAt.IsZero() {
		m.roundTrip = m.clock.Now().Sub(m.pingSentAt)
		m.pingSentAt = time.Time{}
	}
}

// Touch restarts the inactivity timer for inbound traffic other than a
// pong.
func (m *Monitor) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		m.timer.Reset(m.timeout)
	}
}

// RoundTrip returns the last measured round trip, zero before the
// first pong.
func (m *Monitor) RoundTrip() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roundTrip
}

// Stop cancels the timer and the ping loop. It is idempotent and does
// not invoke OnTimeout.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownLocked()
}

func (m *Monitor) shutdownLocked() bool {
	if !m.active {
		return false
	}
	m.active = false
	m.timer.Stop()
	close(m.stopLoop)
	return true
}

func (m *Monitor) expire() {
	m.mu.Lock()
	fired := m.shutdownLocked()
	m.mu.Unlock()
	if fired {
		m.logger.Info("heartbeat timed out", "timeout", m.timeout)
		m.onTimeout()
	}
}
