// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package netconn wraps a duplex byte stream as a framed envelope
// connection. Every role uses it: clients and workers dialing the
// master, the master and workers accepting peers, clients dialing
// workers.
//
// A Conn runs one read goroutine that reassembles frames and calls the
// message handler once per envelope, in arrival order. Sends may come
// from any goroutine and are serialized by a write lock. A malformed
// frame closes the connection with a fault.ProtocolViolation; a read
// error closes it with a fault.PeerUnreachable. A failed Send is
// reported to the caller and leaves the read loop running.
//
// The close handler runs exactly once per connection, for local and
// remote closes alike, so owners can put all their cleanup there.
package netconn

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/arena-foundation/arena/lib/clock"
	"github.com/arena-foundation/arena/lib/fault"
	"github.com/arena-foundation/arena/lib/netutil"
	"github.com/arena-foundation/arena/lib/wire"
)

const (
	// DefaultWriteTimeout bounds a single Send.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultDialTimeout bounds one connect attempt.
	DefaultDialTimeout = 5 * time.Second

	readBufferSize = 32 * 1024
)

// Options configures a connection. The zero value is usable.
type Options struct {
	// Encoder controls frame compression for outgoing envelopes.
	Encoder wire.Encoder

	WriteTimeout time.Duration

	// Attempts is the number of dial attempts Open makes before giving
	// up with fault.ConnectFailed. Values below one mean one.
	Attempts int

	// RetryDelay separates dial attempts.
	RetryDelay time.Duration

	DialTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.Attempts < 1 {
		o.Attempts = 1
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Handler receives each fully reassembled envelope.
type Handler func(envelope wire.Envelope, conn *Conn)

// CloseHandler is called once when the connection closes. cause is nil
// for a local Close, otherwise a *fault.Error.
type CloseHandler func(conn *Conn, cause error)

// Conn is a framed envelope connection.
type Conn struct {
	raw     net.Conn
	options Options
	logger  *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	handler Handler
	onClose CloseHandler
	started bool
	closed  bool
	cause   error
	done    chan struct{}
}

// New wraps an established stream. Install handlers, then call Start.
func New(raw net.Conn, options Options) *Conn {
	options = options.withDefaults()
	return &Conn{
		raw:     raw,
		options: options,
		logger:  options.Logger.With("remote", raw.RemoteAddr().String()),
		done:    make(chan struct{}),
	}
}

// Open dials address, retrying per options. When every attempt fails
// the error is a fault.ConnectFailed wrapping the last dial error.
func Open(ctx context.Context, address string, options Options) (*Conn, error) {
	options = options.withDefaults()
	dialer := net.Dialer{Timeout: options.DialTimeout}

	var lastErr error
	for attempt := 1; attempt <= options.Attempts; attempt++ {
		raw, err := dialer.DialContext(ctx, "tcp", address)
		if err == nil {
			return New(raw, options), nil
		}
		lastErr = err
		options.Logger.Debug("connect attempt failed",
			"address", address,
			"attempt", attempt,
			"attempts", options.Attempts,
			"error", err,
		)
		if attempt == options.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fault.New(fault.ConnectFailed, "dial "+address, ctx.Err())
		case <-options.Clock.After(options.RetryDelay):
		}
	}
	return nil, fault.New(fault.ConnectFailed, "dial "+address,
		fmt.Errorf("%d attempts: %w", options.Attempts, lastErr))
}

// Accept waits for the next peer on listener and wraps it. Call Accept
// again for the following peer.
func Accept(listener net.Listener, options Options) (*Conn, error) {
	raw, err := listener.Accept()
	if err != nil {
		return nil, err
	}
	return New(raw, options), nil
}

// SetMessageHandler installs the envelope dispatcher. It may be
// replaced while the connection runs, for example when the first
// envelope decides the peer's role.
func (c *Conn) SetMessageHandler(handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// SetCloseHandler installs the close callback. Install it before Start.
func (c *Conn) SetCloseHandler(handler CloseHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = handler
}

// Start launches the read loop. It is a no-op after the first call.
func (c *Conn) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()
	go c.readLoop()
}

// Send writes one envelope. A write failure is a fault.PeerUnreachable;
// the connection stays open so the read loop can observe the peer's
// close and run the normal cleanup.
func (c *Conn) Send(envelope wire.Envelope) error {
	if c.isClosed() {
		return fault.New(fault.PeerUnreachable, "send "+envelope.Kind, net.ErrClosed)
	}
	frame, err := c.options.Encoder.Encode(envelope)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.raw.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout)); err != nil {
		return fault.New(fault.PeerUnreachable, "send "+envelope.Kind, err)
	}
	if _, err := c.raw.Write(frame); err != nil {
		return fault.New(fault.PeerUnreachable, "send "+envelope.Kind, err)
	}
	return nil
}

// SendKind is Send for a payload that still needs encoding.
func (c *Conn) SendKind(kind string, payload any) error {
	envelope, err := wire.New(kind, payload)
	if err != nil {
		return err
	}
	return c.Send(envelope)
}

// Close closes the connection, interrupting a blocked read. It is
// idempotent.
func (c *Conn) Close() error {
	c.closeWith(nil)
	return nil
}

// Done is closed once the connection has closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns why the connection closed: nil while open or after a
// local Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }
func (c *Conn) LocalAddr() net.Addr  { return c.raw.LocalAddr() }

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) closeWith(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cause = cause
	onClose := c.onClose
	c.mu.Unlock()

	c.raw.Close()
	close(c.done)
	if onClose != nil {
		onClose(c, cause)
	}
}

func (c *Conn) readLoop() {
	var decoder wire.Decoder
	buffer := make([]byte, readBufferSize)
	for {
		n, err := c.raw.Read(buffer)
		if n > 0 {
			envelopes, decodeErr := decoder.Feed(buffer[:n])
			for _, envelope := range envelopes {
				c.dispatch(envelope)
			}
			if decodeErr != nil {
				c.logger.Warn("closing connection after malformed frame", "error", decodeErr)
				c.closeWith(decodeErr)
				return
			}
		}
		if err != nil {
			if c.isClosed() {
				return
			}
			if !netutil.IsExpectedCloseError(err) {
				c.logger.Debug("read failed", "error", err)
			}
			c.closeWith(fault.New(fault.PeerUnreachable, "read", err))
			return
		}
	}
}

func (c *Conn) dispatch(envelope wire.Envelope) {
	c.mu.Lock()
	handler := c.handler
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	if handler == nil {
		c.logger.Debug("dropping envelope without handler", "kind", envelope.Kind)
		return
	}
	handler(envelope, c)
}
