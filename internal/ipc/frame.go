// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ipc implements length-prefixed message framing over byte streams.
//
// Wire format: a 4-byte big-endian length followed by exactly that many
// payload bytes. Lengths outside [MinMessageSize, MaxMessageSize] are
// protocol errors and are never clamped.
package ipc

import (
	"encoding/binary"
	"io"
	"time"

	"grimm.is/sentinel/internal/errors"
)

const (
	// HeaderSize is the size of the length prefix.
	HeaderSize = 4
	// MinMessageSize is the smallest legal payload.
	MinMessageSize = 1
	// MaxMessageSize bounds a single payload (10 MiB).
	MaxMessageSize = 10 * 1024 * 1024
	// DefaultReadTimeout is used when ReadMessage is given a non-positive timeout.
	DefaultReadTimeout = 5 * time.Second

	readChunkSize = 4096
)

var (
	ErrMessageTooLarge  = errors.New(errors.KindValidation, "ipc: message too large")
	ErrEmptyMessage     = errors.New(errors.KindValidation, "ipc: empty message")
	ErrInvalidLength    = errors.New(errors.KindProtocol, "ipc: invalid message length")
	ErrConnectionClosed = errors.New(errors.KindClosed, "ipc: connection closed")
	ErrReadTimeout      = errors.New(errors.KindTimeout, "ipc: read timeout")
)

// ValidateSize checks a payload length against the frame bounds.
func ValidateSize(n int) error {
	switch {
	case n < MinMessageSize:
		return ErrEmptyMessage
	case n > MaxMessageSize:
		return errors.Attr(ErrMessageTooLarge, "size", n)
	}
	return nil
}

// Writer writes framed messages.
type Writer struct{}

// WriteMessage writes the length header and payload to dst, looping until
// every byte has been accepted. Invalid sizes are rejected before dst is
// touched.
func (Writer) WriteMessage(dst io.Writer, payload []byte) error {
	if err := ValidateSize(len(payload)); err != nil {
		return err
	}

	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))

	if err := writeFull(dst, hdr[:]); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "ipc: write header")
	}
	if err := writeFull(dst, payload); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "ipc: write payload")
	}
	return nil
}

func writeFull(dst io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := dst.Write(b)
		b = b[n:]
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

// Encode returns payload as a single frame.
func Encode(payload []byte) ([]byte, error) {
	if err := ValidateSize(len(payload)); err != nil {
		return nil, err
	}
	out := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[HeaderSize:], payload)
	return out, nil
}
