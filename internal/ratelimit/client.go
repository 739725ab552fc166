// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ratelimit

import (
	"sync"

	"grimm.is/sentinel/internal/clock"
	"grimm.is/sentinel/internal/errors"
	"grimm.is/sentinel/internal/logging"
)

var (
	// ErrRateLimited is returned when a client's bucket is empty.
	ErrRateLimited = errors.New(errors.KindRateLimited, "rate limit exceeded")
	// ErrConcurrencyLimit is returned when a client has too many scans in flight.
	ErrConcurrencyLimit = errors.New(errors.KindRateLimited, "concurrent scan limit exceeded")
)

// Rejection kinds reported to an Observer.
const (
	RejectScan        = "scan"
	RejectPolicy      = "policy"
	RejectConcurrency = "concurrency"
)

// Limits configures per-client admission.
type Limits struct {
	ScanPerSecond      uint64
	ScanBurst          uint64
	PolicyPerSecond    uint64
	PolicyBurst        uint64
	MaxConcurrentScans int
}

// DefaultLimits returns 10 scans/s (burst 20), 100 policy queries/s
// (burst 200) and 5 concurrent scans per client.
func DefaultLimits() Limits {
	return Limits{
		ScanPerSecond:      10,
		ScanBurst:          20,
		PolicyPerSecond:    100,
		PolicyBurst:        200,
		MaxConcurrentScans: 5,
	}
}

// Validate checks the limits are usable.
func (l Limits) Validate() error {
	if l.ScanBurst == 0 || l.PolicyBurst == 0 {
		return errors.New(errors.KindValidation, "rate_limit: burst must be positive")
	}
	if l.MaxConcurrentScans < 1 {
		return errors.New(errors.KindValidation, "rate_limit: max_concurrent_scans must be >= 1")
	}
	return nil
}

// Observer is told about every rejection.
type Observer interface {
	ObserveRejection(kind string)
}

type clientState struct {
	scan     *TokenBucket
	policy   *TokenBucket
	inFlight int
	rejected uint64
}

// ClientLimiter applies Limits independently to each client.
type ClientLimiter struct {
	limits   Limits
	clk      clock.Clock
	logger   *logging.Logger
	observer Observer

	mu            sync.Mutex
	clients       map[string]*clientState
	totalRejected uint64
}

// Option configures a ClientLimiter.
type Option func(*ClientLimiter)

// WithClock sets the clock for new buckets.
func WithClock(c clock.Clock) Option {
	return func(l *ClientLimiter) { l.clk = c }
}

// WithLogger sets the logger.
func WithLogger(lg *logging.Logger) Option {
	return func(l *ClientLimiter) { l.logger = lg }
}

// WithObserver attaches a rejection observer.
func WithObserver(o Observer) Option {
	return func(l *ClientLimiter) { l.observer = o }
}

// NewClientLimiter creates a limiter.
func NewClientLimiter(limits Limits, opts ...Option) *ClientLimiter {
	l := &ClientLimiter{
		limits:  limits,
		clients: make(map[string]*clientState),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.clk = clock.Or(l.clk)
	l.logger = logging.Or(l.logger, "ratelimit")
	return l
}

// client must be called with mu held.
func (l *ClientLimiter) client(id string) *clientState {
	c, ok := l.clients[id]
	if !ok {
		c = &clientState{
			scan:   NewTokenBucket(l.limits.ScanBurst, l.limits.ScanPerSecond, l.clk),
			policy: NewTokenBucket(l.limits.PolicyBurst, l.limits.PolicyPerSecond, l.clk),
		}
		l.clients[id] = c
	}
	return c
}

// rejectLocked must be called with mu held.
func (l *ClientLimiter) rejectLocked(c *clientState, id, kind string, base error) error {
	c.rejected++
	l.totalRejected++
	l.logger.Debug("request rejected", "client", id, "kind", kind)
	return errors.Attr(errors.Attr(base, "client", id), "limit", kind)
}

func (l *ClientLimiter) observe(kind string) {
	if l.observer != nil {
		l.observer.ObserveRejection(kind)
	}
}

// CheckScan consumes one scan token for id.
func (l *ClientLimiter) CheckScan(id string) error {
	l.mu.Lock()
	c := l.client(id)
	if c.scan.TryConsume(1) {
		l.mu.Unlock()
		return nil
	}
	err := l.rejectLocked(c, id, RejectScan, ErrRateLimited)
	l.mu.Unlock()

	l.observe(RejectScan)
	return err
}

// CheckPolicy consumes one policy-query token for id.
func (l *ClientLimiter) CheckPolicy(id string) error {
	l.mu.Lock()
	c := l.client(id)
	if c.policy.TryConsume(1) {
		l.mu.Unlock()
		return nil
	}
	err := l.rejectLocked(c, id, RejectPolicy, ErrRateLimited)
	l.mu.Unlock()

	l.observe(RejectPolicy)
	return err
}

// AcquireScanSlot reserves one concurrent scan for id. Every successful call
// must be paired with ReleaseScanSlot.
func (l *ClientLimiter) AcquireScanSlot(id string) error {
	l.mu.Lock()
	c := l.client(id)
	if c.inFlight < l.limits.MaxConcurrentScans {
		c.inFlight++
		l.mu.Unlock()
		return nil
	}
	err := l.rejectLocked(c, id, RejectConcurrency, ErrConcurrencyLimit)
	l.mu.Unlock()

	l.observe(RejectConcurrency)
	return err
}

// ReleaseScanSlot returns a slot taken by AcquireScanSlot.
func (l *ClientLimiter) ReleaseScanSlot(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.clients[id]; ok && c.inFlight > 0 {
		c.inFlight--
	}
}

// AdmitScan applies the scan rate and then the concurrency limit. On success
// the returned release func must be called when the scan finishes.
func (l *ClientLimiter) AdmitScan(id string) (release func(), err error) {
	if err := l.CheckScan(id); err != nil {
		return nil, err
	}
	if err := l.AcquireScanSlot(id); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { l.ReleaseScanSlot(id) }) }, nil
}

// InFlight returns the concurrent scans held by id.
func (l *ClientLimiter) InFlight(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.clients[id]; ok {
		return c.inFlight
	}
	return 0
}

// TotalRejected returns rejections across all clients since the last
// ResetTelemetry.
func (l *ClientLimiter) TotalRejected() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalRejected
}

// RejectedByClient returns per-client rejection counts.
func (l *ClientLimiter) RejectedByClient() map[string]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]uint64)
	for id, c := range l.clients {
		if c.rejected > 0 {
			out[id] = c.rejected
		}
	}
	return out
}

// ResetTelemetry clears rejection counters.
func (l *ClientLimiter) ResetTelemetry() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalRejected = 0
	for _, c := range l.clients {
		c.rejected = 0
	}
}

// ResetClient refills id's buckets and clears its slots and counters.
func (l *ClientLimiter) ResetClient(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[id]
	if !ok {
		return
	}
	c.scan.Reset()
	c.policy.Reset()
	c.inFlight = 0
	c.rejected = 0
}

// Clients returns the number of tracked clients.
func (l *ClientLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
