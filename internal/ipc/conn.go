// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ipc

import (
	"net"
	"sync"
	"time"

	"grimm.is/sentinel/internal/clock"
)

// Observer receives framing telemetry. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveFrame(direction string, size int)
	ObserveError(err error)
}

// Frame directions reported to an Observer.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Conn pairs a Reader and a Writer over one connection.
//
// Receive must only be called from one goroutine at a time. Send may be
// called concurrently; writes are serialized so frames never interleave.
type Conn struct {
	conn        net.Conn
	reader      *Reader
	writer      Writer
	readTimeout time.Duration
	observer    Observer

	writeMu sync.Mutex
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithReadTimeout sets the per-message read budget.
func WithReadTimeout(d time.Duration) ConnOption {
	return func(c *Conn) { c.readTimeout = d }
}

// WithObserver attaches a telemetry observer.
func WithObserver(o Observer) ConnOption {
	return func(c *Conn) { c.observer = o }
}

// WithClock sets the clock used for read deadlines.
func WithClock(clk clock.Clock) ConnOption {
	return func(c *Conn) { c.reader.clk = clk }
}

// NewConn wraps conn.
func NewConn(conn net.Conn, opts ...ConnOption) *Conn {
	c := &Conn{
		conn:        conn,
		reader:      NewReader(nil),
		readTimeout: DefaultReadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send writes one framed message.
func (c *Conn) Send(payload []byte) error {
	c.writeMu.Lock()
	err := c.writer.WriteMessage(c.conn, payload)
	c.writeMu.Unlock()

	if c.observer != nil {
		if err != nil {
			c.observer.ObserveError(err)
		} else {
			c.observer.ObserveFrame(DirectionSent, len(payload))
		}
	}
	return err
}

// Receive reads the next framed message.
func (c *Conn) Receive() ([]byte, error) {
	msg, err := c.reader.ReadMessage(c.conn, c.readTimeout)
	if c.observer != nil {
		if err != nil {
			c.observer.ObserveError(err)
		} else {
			c.observer.ObserveFrame(DirectionReceived, len(msg))
		}
	}
	return msg, err
}

// HasCompleteMessage reports whether Receive can return without blocking.
func (c *Conn) HasCompleteMessage() bool {
	return c.reader.HasCompleteMessage()
}

// Close closes the underlying connection. A Receive blocked on it returns
// ErrConnectionClosed.
func (c *Conn) Close() error {
	return c.conn.Close()
}
