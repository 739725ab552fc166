// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package health tracks the degradation state of the daemon's dependencies.
package health

import (
	"slices"
	"strings"
	"sync"
	"time"

	"grimm.is/sentinel/internal/breaker"
	"grimm.is/sentinel/internal/clock"
	"grimm.is/sentinel/internal/logging"
)

// State of one service. Larger values are worse.
type State int

const (
	StateHealthy  State = iota // operating normally
	StateDegraded              // reduced functionality
	StateFailed                // unavailable, fallback in use
	StateCritical              // fallback also failed
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	case StateCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Level is the system-wide degradation level.
type Level int

const (
	LevelNormal Level = iota
	LevelDegraded
	LevelCriticalFailure
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelDegraded:
		return "degraded"
	case LevelCriticalFailure:
		return "critical_failure"
	default:
		return "unknown"
	}
}

// Fallback is what callers do while a service is not healthy.
type Fallback string

const (
	FallbackNone             Fallback = "none"
	FallbackUseCache         Fallback = "use_cache"
	FallbackAllowWithWarning Fallback = "allow_with_warning"
	FallbackSkipWithLog      Fallback = "skip_with_log"
	FallbackRetryWithBackoff Fallback = "retry_with_backoff"
	FallbackQueueForRetry    Fallback = "queue_for_retry"
)

// Well-known service names.
const (
	ServiceStaticScanner = "static_scanner"
	ServiceSandbox       = "sandbox"
	ServiceIPC           = "ipc"
	ServiceVerdictCache  = "verdict_cache"
	ServicePublisher     = "publisher"
)

// Service is the tracked state of one dependency.
type Service struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Fallback  Fallback  `json:"fallback,omitempty"`
	Failures  uint64    `json:"failures"`
	ChangedAt time.Time `json:"changed_at"`
	CheckedAt time.Time `json:"checked_at"`
}

// Event describes one state change.
type Event struct {
	Service string
	From    State
	To      State
	Reason  string
	At      time.Time
}

// Callback observes state changes. It runs outside the tracker lock.
type Callback func(Event)

// Metrics summarize the tracker.
type Metrics struct {
	Services        int       `json:"services"`
	Healthy         int       `json:"healthy"`
	Degraded        int       `json:"degraded"`
	Failed          int       `json:"failed"`
	Critical        int       `json:"critical"`
	TotalFailures   uint64    `json:"total_failures"`
	TotalRecoveries uint64    `json:"total_recoveries"`
	Level           Level     `json:"level"`
	LastFailure     time.Time `json:"last_failure,omitzero"`
	LastRecovery    time.Time `json:"last_recovery,omitzero"`
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clk = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// Tracker records per-service state and derives the system level.
type Tracker struct {
	mu        sync.Mutex
	services  map[string]*Service
	callbacks []Callback
	clk       clock.Clock
	logger    *logging.Logger
	started   time.Time

	failures     uint64
	recoveries   uint64
	lastFailure  time.Time
	lastRecovery time.Time
}

// NewTracker returns an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{services: make(map[string]*Service)}
	for _, opt := range opts {
		opt(t)
	}
	t.clk = clock.Or(t.clk)
	t.logger = logging.Or(t.logger, "health")
	t.started = t.clk.Now()
	return t
}

// Register adds a healthy service so it appears in reports before any
// failure. Registering a known service is a no-op.
func (t *Tracker) Register(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.services[name]; !ok {
		now := t.clk.Now()
		t.services[name] = &Service{Name: name, State: StateHealthy, Fallback: FallbackNone, ChangedAt: now, CheckedAt: now}
	}
}

// OnChange registers a callback for state changes.
func (t *Tracker) OnChange(cb Callback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// Set records a service's state. Moving to a worse state counts a failure;
// returning to healthy counts a recovery and clears the failure count.
func (t *Tracker) Set(name string, state State, reason string, fallback Fallback) {
	t.mu.Lock()
	now := t.clk.Now()
	svc, ok := t.services[name]
	if !ok {
		svc = &Service{Name: name, State: StateHealthy, ChangedAt: now}
		t.services[name] = svc
	}
	from := svc.State

	switch {
	case state > from:
		svc.Failures++
		t.failures++
		t.lastFailure = now
	case state < from && state == StateHealthy:
		t.recoveries++
		t.lastRecovery = now
	}
	if state == StateHealthy {
		svc.Failures = 0
		fallback = FallbackNone
	}
	svc.State = state
	svc.Reason = reason
	svc.Fallback = fallback
	svc.CheckedAt = now
	if from != state {
		svc.ChangedAt = now
	}
	callbacks := slices.Clone(t.callbacks)
	t.mu.Unlock()

	if from == state {
		return
	}
	if state > from {
		t.logger.Warn("service degraded", "service", name, "from", from, "to", state, "reason", reason)
	} else {
		t.logger.Info("service recovered", "service", name, "from", from, "to", state)
	}
	ev := Event{Service: name, From: from, To: state, Reason: reason, At: now}
	for _, cb := range callbacks {
		cb(ev)
	}
}

// MarkRecovered returns a service to healthy.
func (t *Tracker) MarkRecovered(name string) {
	t.Set(name, StateHealthy, "", FallbackNone)
}

// State returns a service's state; unknown services are healthy.
func (t *Tracker) State(name string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if svc, ok := t.services[name]; ok {
		return svc.State
	}
	return StateHealthy
}

// ShouldUseFallback reports whether callers should avoid the service.
func (t *Tracker) ShouldUseFallback(name string) bool {
	return t.State(name) != StateHealthy
}

// Fallback returns the fallback for an unhealthy service.
func (t *Tracker) Fallback(name string) (Fallback, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	svc, ok := t.services[name]
	if !ok || svc.State == StateHealthy {
		return FallbackNone, false
	}
	return svc.Fallback, true
}

// Level derives the system level: any critical service is a critical
// failure, any failed or degraded service degrades the system.
func (t *Tracker) Level() Level {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.levelLocked()
}

func (t *Tracker) levelLocked() Level {
	level := LevelNormal
	for _, svc := range t.services {
		switch svc.State {
		case StateCritical:
			return LevelCriticalFailure
		case StateFailed, StateDegraded:
			level = LevelDegraded
		}
	}
	return level
}

// Services returns every tracked service, sorted by name.
func (t *Tracker) Services() []Service {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Service, 0, len(t.services))
	for _, svc := range t.services {
		out = append(out, *svc)
	}
	slices.SortFunc(out, func(a, b Service) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Unhealthy returns the names of services in the given state, sorted.
func (t *Tracker) Unhealthy(state State) []string {
	var names []string
	for _, svc := range t.Services() {
		if svc.State == state {
			names = append(names, svc.Name)
		}
	}
	return names
}

// Live reports whether the process is serving at all.
func (t *Tracker) Live() bool {
	return true
}

// Ready reports whether the daemon should receive traffic.
func (t *Tracker) Ready() bool {
	return t.Level() != LevelCriticalFailure
}

// Uptime is the time since the tracker was created.
func (t *Tracker) Uptime() time.Duration {
	return t.clk.Now().Sub(t.started)
}

// Metrics returns a summary.
func (t *Tracker) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := Metrics{
		Services:        len(t.services),
		TotalFailures:   t.failures,
		TotalRecoveries: t.recoveries,
		Level:           t.levelLocked(),
		LastFailure:     t.lastFailure,
		LastRecovery:    t.lastRecovery,
	}
	for _, svc := range t.services {
		switch svc.State {
		case StateHealthy:
			m.Healthy++
		case StateDegraded:
			m.Degraded++
		case StateFailed:
			m.Failed++
		case StateCritical:
			m.Critical++
		}
	}
	return m
}

// ResetMetrics clears failure and recovery counters. States are kept.
func (t *Tracker) ResetMetrics() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures, t.recoveries = 0, 0
	t.lastFailure, t.lastRecovery = time.Time{}, time.Time{}
	for _, svc := range t.services {
		svc.Failures = 0
	}
}

// BreakerHook maps a breaker's transitions onto a service: open is failed,
// half-open is degraded, closed is healthy.
func (t *Tracker) BreakerHook(service string, fallback Fallback) breaker.StateChangeFunc {
	t.Register(service)
	return func(name string, _, to breaker.State) {
		switch to {
		case breaker.StateOpen:
			t.Set(service, StateFailed, "circuit "+name+" open", fallback)
		case breaker.StateHalfOpen:
			t.Set(service, StateDegraded, "circuit "+name+" probing", fallback)
		case breaker.StateClosed:
			t.MarkRecovered(service)
		}
	}
}
