// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exports daemon telemetry in Prometheus format.
package metrics

import (
	"bytes"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"

	"grimm.is/sentinel/internal/breaker"
	"grimm.is/sentinel/internal/errors"
)

// Registry holds every sentinel metric on a private Prometheus registry.
// It implements the observer interfaces of the ipc, retry and ratelimit
// packages.
type Registry struct {
	reg *prometheus.Registry

	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	RetryAttempts      *prometheus.CounterVec
	RetryExecutions    *prometheus.CounterVec
	RateLimitRejected  *prometheus.CounterVec
	Scans              *prometheus.CounterVec
	ScanDuration       prometheus.Histogram
	ThreatScore        prometheus.Histogram
	CacheLookups       *prometheus.CounterVec
	IPCFrames          *prometheus.CounterVec
	IPCBytes           *prometheus.CounterVec
	IPCErrors          *prometheus.CounterVec
	DegradationLevel   prometheus.Gauge
	ScanRate           prometheus.Gauge
}

// NewRegistry creates and registers all metrics. With withRuntime set the
// Go runtime and process collectors are registered too.
func NewRegistry(withRuntime bool) *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentinel_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"breaker"}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		}, []string{"breaker", "to"}),

		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_retry_attempts_total",
			Help: "Operation attempts made by retry policies",
		}, []string{"policy"}),
		RetryExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_retry_executions_total",
			Help: "Retry policy executions by outcome",
		}, []string{"policy", "result"}),

		RateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_ratelimit_rejected_total",
			Help: "Requests rejected by admission control",
		}, []string{"kind"}),

		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_scans_total",
			Help: "Completed scans by verdict level",
		}, []string{"level"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_scan_duration_seconds",
			Help:    "End-to-end scan latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		ThreatScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_threat_score",
			Help:    "Distribution of threat scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_verdict_cache_lookups_total",
			Help: "Verdict cache lookups by result",
		}, []string{"result"}),

		IPCFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_ipc_frames_total",
			Help: "Framed IPC messages",
		}, []string{"direction"}),
		IPCBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_ipc_bytes_total",
			Help: "Framed IPC payload bytes",
		}, []string{"direction"}),
		IPCErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_ipc_errors_total",
			Help: "IPC errors by kind",
		}, []string{"kind"}),

		DegradationLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_degradation_level",
			Help: "System degradation level (0 normal, 1 degraded, 2 critical failure)",
		}),
		ScanRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_scans_per_second",
			Help: "Scan throughput over the last collection interval",
		}),
	}

	r.reg.MustRegister(
		r.BreakerState, r.BreakerTransitions,
		r.RetryAttempts, r.RetryExecutions,
		r.RateLimitRejected,
		r.Scans, r.ScanDuration, r.ThreatScore, r.CacheLookups,
		r.IPCFrames, r.IPCBytes, r.IPCErrors,
		r.DegradationLevel, r.ScanRate,
	)
	if withRuntime {
		r.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Gatherer exposes the underlying registry for HTTP handlers.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Text renders every metric in the Prometheus text exposition format.
func (r *Registry) Text() (string, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "gather metrics")
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return "", errors.Wrap(err, errors.KindInternal, "encode metrics")
		}
	}
	return buf.String(), nil
}

// ObserveFrame counts one framed message.
func (r *Registry) ObserveFrame(direction string, size int) {
	r.IPCFrames.WithLabelValues(direction).Inc()
	r.IPCBytes.WithLabelValues(direction).Add(float64(size))
}

// ObserveError counts an IPC error by its kind.
func (r *Registry) ObserveError(err error) {
	r.IPCErrors.WithLabelValues(errors.GetKind(err).String()).Inc()
}

// ObserveExecution records one retry policy execution.
func (r *Registry) ObserveExecution(policy string, attempts int, err error) {
	r.RetryAttempts.WithLabelValues(policy).Add(float64(attempts))
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.RetryExecutions.WithLabelValues(policy, result).Inc()
}

// ObserveRejection counts an admission rejection.
func (r *Registry) ObserveRejection(kind string) {
	r.RateLimitRejected.WithLabelValues(kind).Inc()
}

// ObserveScan records a finished scan.
func (r *Registry) ObserveScan(level string, score float64, d time.Duration) {
	r.Scans.WithLabelValues(level).Inc()
	r.ThreatScore.Observe(score)
	r.ScanDuration.Observe(d.Seconds())
}

// ObserveCacheLookup records a verdict cache hit or miss.
func (r *Registry) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.CacheLookups.WithLabelValues(result).Inc()
}

// SetDegradationLevel publishes the system degradation level.
func (r *Registry) SetDegradationLevel(level int) {
	r.DegradationLevel.Set(float64(level))
}

// TrackBreaker seeds the state gauge for a breaker so it is exported before
// its first transition.
func (r *Registry) TrackBreaker(b *breaker.Breaker) {
	r.BreakerState.WithLabelValues(b.Name()).Set(float64(b.State()))
}

// BreakerHook returns a transition hook that updates the breaker metrics.
func (r *Registry) BreakerHook() breaker.StateChangeFunc {
	return func(name string, _, to breaker.State) {
		r.BreakerState.WithLabelValues(name).Set(float64(to))
		r.BreakerTransitions.WithLabelValues(name, to.String()).Inc()
	}
}
