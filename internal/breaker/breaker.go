// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package breaker provides a circuit breaker that stops calling a failing
// dependency for a cooldown period.
//
// A breaker starts Closed. FailureThreshold consecutive failures open it;
// while Open every call is refused with ErrCircuitOpen without running the
// operation. Once Timeout has elapsed the next call moves it to HalfOpen and
// is attempted. In HalfOpen a single failure reopens the circuit and
// SuccessThreshold consecutive successes close it.
package breaker

import (
	"sync"
	"time"

	"grimm.is/sentinel/internal/clock"
	"grimm.is/sentinel/internal/errors"
	"grimm.is/sentinel/internal/logging"
)

// ErrCircuitOpen is returned when the breaker refuses a call.
var ErrCircuitOpen = errors.New(errors.KindCircuitOpen, "circuit breaker is open")

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// StateChangeFunc is called after every transition, outside the breaker lock.
type StateChangeFunc func(name string, from, to State)

// Metrics is a point-in-time snapshot of breaker counters.
type Metrics struct {
	Name  string
	State State

	TotalRequests  uint64
	TotalSuccesses uint64
	TotalFailures  uint64
	Rejected       uint64
	StateChanges   uint64

	ConsecutiveFailures  int
	ConsecutiveSuccesses int

	LastFailure     time.Time
	LastSuccess     time.Time
	LastStateChange time.Time

	// TimeInOpen accumulates completed Open periods plus the current one.
	TimeInOpen time.Duration
}

// Breaker is a circuit breaker. It is safe for concurrent use.
type Breaker struct {
	cfg      Config
	clk      clock.Clock
	logger   *logging.Logger
	onChange []StateChangeFunc

	mu            sync.Mutex
	state         State
	consecFail    int
	consecSucc    int
	openedAt      time.Time
	probeInFlight bool
	metrics       Metrics
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(b *Breaker) { b.clk = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// OnStateChange registers a transition hook.
func OnStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) { b.onChange = append(b.onChange, fn) }
}

// New creates a Closed breaker.
func New(cfg Config, opts ...Option) *Breaker {
	cfg = cfg.normalize()
	b := &Breaker{cfg: cfg}
	for _, opt := range opts {
		opt(b)
	}
	b.clk = clock.Or(b.clk)
	b.logger = logging.Or(b.logger, "breaker").With("breaker", cfg.Name)
	b.metrics.Name = cfg.Name
	b.metrics.LastStateChange = b.clk.Now()
	return b
}

// Name returns the configured name.
func (b *Breaker) Name() string {
	return b.cfg.Name
}

// Config returns the effective configuration.
func (b *Breaker) Config() Config {
	return b.cfg
}

type transition struct {
	from, to State
}

// Execute runs op if the breaker admits it and records the outcome. The
// operation's error is returned unchanged.
func (b *Breaker) Execute(op func() error) (err error) {
	if err := b.Allow(); err != nil {
		return err
	}

	done := false
	defer func() {
		if !done {
			// op panicked; count it before the panic continues.
			b.RecordFailure()
		}
	}()

	err = op()
	done = true
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Execute runs op through b and returns its value.
func Execute[T any](b *Breaker, op func() (T, error)) (T, error) {
	var out T
	err := b.Execute(func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Allow reserves a call. Callers that use Allow directly must report the
// outcome with RecordSuccess or RecordFailure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	now := b.clk.Now()
	var ev *transition

	switch b.state {
	case StateOpen:
		if now.Sub(b.openedAt) < b.cfg.Timeout {
			b.metrics.Rejected++
			retryAfter := b.cfg.Timeout - now.Sub(b.openedAt)
			b.mu.Unlock()
			return errors.Attr(errors.Attr(ErrCircuitOpen, "breaker", b.cfg.Name), "retry_after", retryAfter)
		}
		ev = b.transitionLocked(StateHalfOpen, now)
		if b.cfg.SingleProbe {
			b.probeInFlight = true
		}
	case StateHalfOpen:
		if b.cfg.SingleProbe {
			if b.probeInFlight {
				b.metrics.Rejected++
				b.mu.Unlock()
				return errors.Attr(ErrCircuitOpen, "breaker", b.cfg.Name)
			}
			b.probeInFlight = true
		}
	}

	b.metrics.TotalRequests++
	b.mu.Unlock()
	b.notify(ev)
	return nil
}

// IsRequestAllowed reports whether a call made now would be admitted,
// without changing state.
func (b *Breaker) IsRequestAllowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		return b.clk.Now().Sub(b.openedAt) >= b.cfg.Timeout
	case StateHalfOpen:
		return !(b.cfg.SingleProbe && b.probeInFlight)
	default:
		return true
	}
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	now := b.clk.Now()
	var ev *transition

	b.metrics.TotalSuccesses++
	b.metrics.LastSuccess = now
	b.consecSucc++
	b.consecFail = 0
	b.probeInFlight = false

	if b.state == StateHalfOpen && b.consecSucc >= b.cfg.SuccessThreshold {
		ev = b.transitionLocked(StateClosed, now)
	}
	b.mu.Unlock()
	b.notify(ev)
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	now := b.clk.Now()
	var ev *transition

	b.metrics.TotalFailures++
	b.metrics.LastFailure = now
	b.consecFail++
	b.consecSucc = 0
	b.probeInFlight = false

	switch b.state {
	case StateClosed:
		if b.consecFail >= b.cfg.FailureThreshold {
			ev = b.transitionLocked(StateOpen, now)
		}
	case StateHalfOpen:
		ev = b.transitionLocked(StateOpen, now)
	}
	consec := b.consecFail
	b.mu.Unlock()

	b.logger.Debug("operation failed", "consecutive_failures", consec)
	b.notify(ev)
}

// Trip forces the breaker Open.
func (b *Breaker) Trip() {
	b.mu.Lock()
	ev := b.transitionLocked(StateOpen, b.clk.Now())
	b.mu.Unlock()
	b.notify(ev)
}

// Reset forces the breaker Closed and clears consecutive counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	ev := b.transitionLocked(StateClosed, b.clk.Now())
	b.consecFail = 0
	b.consecSucc = 0
	b.probeInFlight = false
	b.mu.Unlock()
	b.notify(ev)
}

// ResetMetrics zeroes the cumulative counters without changing state.
func (b *Breaker) ResetMetrics() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clk.Now()
	b.metrics = Metrics{Name: b.cfg.Name, LastStateChange: now}
	if b.state == StateOpen {
		b.openedAt = now
	}
}

// State returns the current state. An Open breaker whose timeout has passed
// still reports Open until the next call moves it to HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a snapshot of the counters.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := b.metrics
	m.State = b.state
	m.ConsecutiveFailures = b.consecFail
	m.ConsecutiveSuccesses = b.consecSucc
	if b.state == StateOpen {
		m.TimeInOpen += b.clk.Now().Sub(b.openedAt)
	}
	return m
}

// transitionLocked moves to state to. Must be called with mu held; the
// returned event is passed to notify after unlocking.
func (b *Breaker) transitionLocked(to State, now time.Time) *transition {
	from := b.state
	if from == to {
		return nil
	}
	if from == StateOpen {
		b.metrics.TimeInOpen += now.Sub(b.openedAt)
	}

	b.state = to
	b.consecFail = 0
	b.consecSucc = 0
	if to == StateOpen {
		b.openedAt = now
	}
	if to != StateHalfOpen {
		b.probeInFlight = false
	}
	b.metrics.StateChanges++
	b.metrics.LastStateChange = now
	return &transition{from: from, to: to}
}

func (b *Breaker) notify(ev *transition) {
	if ev == nil {
		return
	}
	b.logger.Info("state changed", "from", ev.from.String(), "to", ev.to.String())
	for _, fn := range b.onChange {
		fn(b.cfg.Name, ev.from, ev.to)
	}
}
