// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package retry retries failing operations with exponential backoff and jitter.
//
// Retryability is decided by a Predicate. Without one every error is
// retried; the predicates in this package classify errno-style failures into
// transient and permanent ones, and permanent errors are never retried.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"grimm.is/sentinel/internal/clock"
	"grimm.is/sentinel/internal/errors"
	"grimm.is/sentinel/internal/logging"
)

// Operation is a unit of work that may be retried.
type Operation func(ctx context.Context) error

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Observer is told about every finished execution.
type Observer interface {
	ObserveExecution(policy string, attempts int, err error)
}

// Metrics are cumulative counters. They only grow until ResetMetrics.
type Metrics struct {
	Executions uint64
	Attempts   uint64
	Successes  uint64
	Failures   uint64
	// Retried counts executions that succeeded after at least one failed attempt.
	Retried uint64

	LastExecution time.Time
	LastSuccess   time.Time
	LastFailure   time.Time
}

// Policy executes operations under a retry Config.
type Policy struct {
	cfg       Config
	name      string
	predicate Predicate
	sleep     Sleeper
	random    func() float64
	clk       clock.Clock
	logger    *logging.Logger
	observer  Observer

	mu      sync.Mutex
	metrics Metrics
}

// Option configures a Policy.
type Option func(*Policy)

// WithName labels the policy in logs and metrics.
func WithName(name string) Option {
	return func(p *Policy) { p.name = name }
}

// WithPredicate sets the retryability predicate.
func WithPredicate(pred Predicate) Option {
	return func(p *Policy) { p.predicate = pred }
}

// WithSleeper replaces the inter-attempt wait.
func WithSleeper(s Sleeper) Option {
	return func(p *Policy) { p.sleep = s }
}

// WithRandom replaces the jitter source. fn must return values in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(p *Policy) { p.random = fn }
}

// WithClock sets the clock used for metric timestamps.
func WithClock(c clock.Clock) Option {
	return func(p *Policy) { p.clk = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Policy) { p.logger = l }
}

// WithObserver attaches an execution observer.
func WithObserver(o Observer) Option {
	return func(p *Policy) { p.observer = o }
}

// New creates a Policy. cfg must be valid.
func New(cfg Config, opts ...Option) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Policy{
		cfg:    cfg,
		name:   "default",
		sleep:  sleepContext,
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.clk = clock.Or(p.clk)
	p.logger = logging.Or(p.logger, "retry").With("policy", p.name)
	return p, nil
}

// Name returns the policy name.
func (p *Policy) Name() string {
	return p.name
}

// Config returns the policy configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// Delay returns the wait after failed attempt number attempt (zero-based):
// InitialDelay*Multiplier^attempt capped at MaxDelay, scaled by jitter and
// capped again.
func (p *Policy) Delay(attempt int) time.Duration {
	base := float64(p.cfg.InitialDelay) * math.Pow(p.cfg.Multiplier, float64(attempt))
	maxDelay := float64(p.cfg.MaxDelay)
	if base > maxDelay || math.IsInf(base, 0) || math.IsNaN(base) {
		base = maxDelay
	}

	d := base
	if j := p.cfg.JitterFactor; j > 0 {
		d = base * (1 + (p.random()*2-1)*j)
	}
	if d > maxDelay {
		d = maxDelay
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// ShouldRetry applies the predicate to err.
func (p *Policy) ShouldRetry(err error) bool {
	if p.predicate == nil {
		return true
	}
	return p.predicate(err)
}

// Execute runs op until it succeeds, the predicate rejects its error, or
// MaxAttempts is reached. The caller's goroutine sleeps between attempts.
//
// On failure the final attempt's error is returned with an "attempts"
// attribute; it still matches the original with errors.Is.
func (p *Policy) Execute(op func() error) error {
	return p.ExecuteContext(context.Background(), func(context.Context) error { return op() })
}

// ExecuteContext is Execute with cancellation. A cancelled context aborts the
// wait between attempts and its error is returned.
func (p *Policy) ExecuteContext(ctx context.Context, op Operation) error {
	p.begin()

	var err error
	attempts := 0
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err == nil {
				err = cerr
			}
			break
		}

		attempts++
		p.countAttempt()
		err = op(ctx)
		if err == nil {
			break
		}
		if attempt == p.cfg.MaxAttempts-1 || !p.ShouldRetry(err) {
			break
		}

		d := p.Delay(attempt)
		p.logger.Debug("retrying", "attempt", attempt+1, "delay", d, "error", err)
		if serr := p.sleep(ctx, d); serr != nil {
			err = serr
			break
		}
	}

	return p.finish(attempts, err)
}

// Do runs op through p and returns its value.
func Do[T any](ctx context.Context, p *Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.ExecuteContext(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Metrics returns a snapshot of the counters.
func (p *Policy) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// ResetMetrics zeroes all counters.
func (p *Policy) ResetMetrics() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = Metrics{}
}

func (p *Policy) begin() {
	p.mu.Lock()
	p.metrics.Executions++
	p.metrics.LastExecution = p.clk.Now()
	p.mu.Unlock()
}

func (p *Policy) countAttempt() {
	p.mu.Lock()
	p.metrics.Attempts++
	p.mu.Unlock()
}

func (p *Policy) finish(attempts int, err error) error {
	now := p.clk.Now()

	p.mu.Lock()
	if err == nil {
		p.metrics.Successes++
		p.metrics.LastSuccess = now
		if attempts > 1 {
			p.metrics.Retried++
		}
	} else {
		p.metrics.Failures++
		p.metrics.LastFailure = now
	}
	p.mu.Unlock()

	if p.observer != nil {
		p.observer.ObserveExecution(p.name, attempts, err)
	}
	if err == nil {
		return nil
	}
	if attempts > 1 {
		p.logger.Warn("operation failed after retries", "attempts", attempts, "error", err)
	}
	return errors.Attr(err, "attempts", attempts)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
