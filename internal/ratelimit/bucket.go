// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ratelimit provides token-bucket admission control.
package ratelimit

import (
	"sync"
	"time"

	"grimm.is/sentinel/internal/clock"
)

// TokenBucket holds up to capacity tokens and refills at a fixed rate.
//
// Refill is computed from elapsed whole seconds: sub-second gaps add
// nothing and the refill timestamp only advances when tokens are actually
// added, so a caller polling faster than once a second still accrues its
// refill once a full second has passed.
type TokenBucket struct {
	capacity   uint64
	refillRate uint64
	clk        clock.Clock

	mu         sync.Mutex
	tokens     uint64
	lastRefill time.Time
}

// NewTokenBucket returns a full bucket. A nil clock uses the process clock.
func NewTokenBucket(capacity, refillPerSecond uint64, clk clock.Clock) *TokenBucket {
	clk = clock.Or(clk)
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillPerSecond,
		clk:        clk,
		tokens:     capacity,
		lastRefill: clk.Now(),
	}
}

// refillAmount returns the tokens earned since lastRefill.
func (b *TokenBucket) refillAmount(now time.Time) uint64 {
	elapsed := now.Sub(b.lastRefill)
	secs := uint64(0)
	if elapsed > 0 {
		secs = uint64(elapsed / time.Second)
	}
	if secs == 0 || b.refillRate == 0 {
		return 0
	}
	if secs > b.capacity/b.refillRate+1 {
		// Anything beyond this fills the bucket; avoid overflow on long idle.
		return b.capacity
	}
	return secs * b.refillRate
}

func (b *TokenBucket) refillLocked() {
	now := b.clk.Now()
	add := b.refillAmount(now)
	if add == 0 {
		return
	}
	b.tokens = min(b.capacity, b.tokens+add)
	b.lastRefill = now
}

// TryConsume takes n tokens if available. It never mutates the token count
// on refusal.
func (b *TokenBucket) TryConsume(n uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Allow is TryConsume(1).
func (b *TokenBucket) Allow() bool {
	return b.TryConsume(1)
}

// WouldAllow reports whether TryConsume(n) would succeed now, without
// changing any state.
func (b *TokenBucket) WouldAllow(n uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	tokens := min(b.capacity, b.tokens+b.refillAmount(b.clk.Now()))
	return tokens >= n
}

// Available returns the current token count after refill.
func (b *TokenBucket) Available() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	return b.tokens
}

// Reset refills the bucket to capacity.
func (b *TokenBucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = b.capacity
	b.lastRefill = b.clk.Now()
}

// Capacity returns the bucket size.
func (b *TokenBucket) Capacity() uint64 {
	return b.capacity
}

// RefillRate returns tokens added per second.
func (b *TokenBucket) RefillRate() uint64 {
	return b.refillRate
}
