// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package clock abstracts wall-clock time so timing-dependent components
// (circuit breakers, token buckets, frame read deadlines) can be driven
// deterministically in tests.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// Real is the system clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

var current atomic.Value

func init() {
	current.Store(clockHolder{Real{}})
}

type clockHolder struct{ Clock }

// Default returns the process-wide clock.
func Default() Clock {
	return current.Load().(clockHolder).Clock
}

// SetDefault replaces the process-wide clock. Passing nil restores Real.
func SetDefault(c Clock) {
	if c == nil {
		c = Real{}
	}
	current.Store(clockHolder{c})
}

// Now returns the current time from the process-wide clock.
func Now() time.Time {
	return Default().Now()
}

// Or returns c, or the process-wide clock when c is nil.
func Or(c Clock) Clock {
	if c == nil {
		return Default()
	}
	return c
}

// MockClock is a manually driven clock.
type MockClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewMockClock returns a MockClock frozen at start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

// Now returns the mocked time.
func (m *MockClock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Set moves the clock to t.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
