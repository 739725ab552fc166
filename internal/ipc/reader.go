// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ipc

import (
	"encoding/binary"
	"io"
	"net"
	"os"
	"time"

	"grimm.is/sentinel/internal/clock"
	"grimm.is/sentinel/internal/errors"
)

type readState int

const (
	readingHeader readState = iota
	readingPayload
)

// Reader reassembles framed messages from a stream that may deliver them in
// arbitrary fragments. A Reader is single-consumer and keeps partial state
// between calls, so the same Reader must be used for every read on a stream.
type Reader struct {
	clk clock.Clock

	state    readState
	expected int
	pending  []byte
	chunk    []byte

	// Deadline bookkeeping for the message currently being assembled.
	inProgress bool
	started    time.Time
}

// NewReader returns a Reader. A nil clock uses the process clock.
func NewReader(clk clock.Clock) *Reader {
	return &Reader{clk: clk}
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// ReadMessage blocks until one complete message has been read from src.
//
// The timeout is measured from the first call for a given message; a call
// that returns a transient transport error leaves the partial message
// buffered so a later call can resume it within the same budget. Invalid
// lengths, timeouts and a closed peer reset the Reader.
func (r *Reader) ReadMessage(src io.Reader, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	clk := clock.Or(r.clk)

	if !r.inProgress {
		r.inProgress = true
		r.started = clk.Now()
	}

	dl, hasDeadline := src.(readDeadliner)
	if hasDeadline {
		defer dl.SetReadDeadline(time.Time{})
	}

	for {
		msg, err := r.parse()
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}

		remaining := timeout - clk.Now().Sub(r.started)
		if remaining <= 0 {
			r.Reset()
			return nil, errors.Attr(ErrReadTimeout, "timeout", timeout)
		}
		if hasDeadline {
			_ = dl.SetReadDeadline(time.Now().Add(remaining))
		}

		if r.chunk == nil {
			r.chunk = make([]byte, readChunkSize)
		}
		n, rerr := src.Read(r.chunk)
		if n > 0 {
			r.pending = append(r.pending, r.chunk[:n]...)
			if rerr == nil {
				continue
			}
			// Deliver what arrived before surfacing the error.
			if msg, perr := r.parse(); perr != nil || msg != nil {
				return msg, perr
			}
		}

		switch {
		case rerr == nil || rerr == io.EOF:
			r.Reset()
			return nil, ErrConnectionClosed
		case isTimeout(rerr):
			r.Reset()
			return nil, errors.Attr(ErrReadTimeout, "timeout", timeout)
		case errors.Is(rerr, net.ErrClosed) || errors.Is(rerr, io.ErrClosedPipe):
			r.Reset()
			return nil, ErrConnectionClosed
		default:
			return nil, errors.Wrap(rerr, errors.KindUnavailable, "ipc: read")
		}
	}
}

// parse advances the state machine over buffered bytes. It returns a
// message once one is complete, or nil when more input is needed.
func (r *Reader) parse() ([]byte, error) {
	if r.state == readingHeader {
		if len(r.pending) < HeaderSize {
			return nil, nil
		}
		n := binary.BigEndian.Uint32(r.pending[:HeaderSize])
		if n < MinMessageSize || n > MaxMessageSize {
			r.Reset()
			return nil, errors.Attr(ErrInvalidLength, "length", n)
		}
		r.expected = int(n)
		r.pending = r.pending[HeaderSize:]
		r.state = readingPayload
	}

	if len(r.pending) < r.expected {
		return nil, nil
	}

	msg := make([]byte, r.expected)
	copy(msg, r.pending[:r.expected])
	r.pending = r.pending[r.expected:]
	if len(r.pending) == 0 {
		r.pending = nil
	}
	r.state = readingHeader
	r.expected = 0
	r.inProgress = false
	return msg, nil
}

// HasCompleteMessage reports whether a full message is already buffered and
// can be returned without touching the transport.
func (r *Reader) HasCompleteMessage() bool {
	buf := r.pending
	need := r.expected
	if r.state == readingHeader {
		if len(buf) < HeaderSize {
			return false
		}
		n := binary.BigEndian.Uint32(buf[:HeaderSize])
		if n < MinMessageSize || n > MaxMessageSize {
			return false
		}
		buf = buf[HeaderSize:]
		need = int(n)
	}
	return len(buf) >= need
}

// Buffered returns the number of bytes held for the next message.
func (r *Reader) Buffered() int {
	return len(r.pending)
}

// Reset discards all buffered state.
func (r *Reader) Reset() {
	r.state = readingHeader
	r.expected = 0
	r.pending = nil
	r.inProgress = false
	r.started = time.Time{}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
