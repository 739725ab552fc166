// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/sentinel/internal/breaker"
	"grimm.is/sentinel/internal/clock"
	"grimm.is/sentinel/internal/logging"
)

func newTracker(t *testing.T) (*Tracker, *clock.MockClock) {
	t.Helper()
	clk := clock.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewTracker(WithClock(clk), WithLogger(logging.Discard())), clk
}

func TestLevelDerivation(t *testing.T) {
	tr, _ := newTracker(t)
	tr.Register(ServiceSandbox)
	tr.Register(ServiceStaticScanner)
	assert.Equal(t, LevelNormal, tr.Level())
	assert.True(t, tr.Ready())

	tr.Set(ServiceSandbox, StateDegraded, "slow", FallbackSkipWithLog)
	assert.Equal(t, LevelDegraded, tr.Level())

	tr.Set(ServiceSandbox, StateFailed, "down", FallbackSkipWithLog)
	assert.Equal(t, LevelDegraded, tr.Level())
	assert.True(t, tr.Ready())

	tr.Set(ServiceStaticScanner, StateCritical, "no fallback left", FallbackNone)
	assert.Equal(t, LevelCriticalFailure, tr.Level())
	assert.False(t, tr.Ready())
	assert.True(t, tr.Live())

	tr.MarkRecovered(ServiceStaticScanner)
	tr.MarkRecovered(ServiceSandbox)
	assert.Equal(t, LevelNormal, tr.Level())
}

func TestFailureAndRecoveryCounting(t *testing.T) {
	tr, clk := newTracker(t)

	tr.Set(ServiceIPC, StateDegraded, "a", FallbackRetryWithBackoff)
	tr.Set(ServiceIPC, StateFailed, "b", FallbackRetryWithBackoff)
	tr.Set(ServiceIPC, StateFailed, "still b", FallbackRetryWithBackoff) // no change, no count

	svcs := tr.Services()
	require.Len(t, svcs, 1)
	assert.Equal(t, uint64(2), svcs[0].Failures)
	assert.Equal(t, "still b", svcs[0].Reason)

	fb, ok := tr.Fallback(ServiceIPC)
	assert.True(t, ok)
	assert.Equal(t, FallbackRetryWithBackoff, fb)
	assert.True(t, tr.ShouldUseFallback(ServiceIPC))

	clk.Advance(time.Minute)
	tr.MarkRecovered(ServiceIPC)

	m := tr.Metrics()
	assert.Equal(t, uint64(2), m.TotalFailures)
	assert.Equal(t, uint64(1), m.TotalRecoveries)
	assert.Equal(t, clk.Now(), m.LastRecovery)
	assert.Equal(t, 1, m.Healthy)
	assert.Equal(t, LevelNormal, m.Level)

	_, ok = tr.Fallback(ServiceIPC)
	assert.False(t, ok)
	assert.Zero(t, tr.Services()[0].Failures)

	tr.ResetMetrics()
	m = tr.Metrics()
	assert.Zero(t, m.TotalFailures)
	assert.Zero(t, m.TotalRecoveries)
	assert.True(t, m.LastFailure.IsZero())
}

func TestOnChange(t *testing.T) {
	tr, _ := newTracker(t)
	var events []Event
	tr.OnChange(func(ev Event) { events = append(events, ev) })

	tr.Set(ServiceSandbox, StateFailed, "boom", FallbackSkipWithLog)
	tr.Set(ServiceSandbox, StateFailed, "boom", FallbackSkipWithLog)
	tr.MarkRecovered(ServiceSandbox)

	require.Len(t, events, 2)
	assert.Equal(t, StateHealthy, events[0].From)
	assert.Equal(t, StateFailed, events[0].To)
	assert.Equal(t, "boom", events[0].Reason)
	assert.Equal(t, StateHealthy, events[1].To)
}

func TestUnknownServiceIsHealthy(t *testing.T) {
	tr, _ := newTracker(t)
	assert.Equal(t, StateHealthy, tr.State("nope"))
	assert.False(t, tr.ShouldUseFallback("nope"))
	assert.Empty(t, tr.Services())
}

func TestServicesSortedAndUnhealthy(t *testing.T) {
	tr, _ := newTracker(t)
	tr.Register("zeta")
	tr.Register("alpha")
	tr.Set("mid", StateDegraded, "", FallbackNone)
	tr.Set("beta", StateDegraded, "", FallbackNone)

	var names []string
	for _, s := range tr.Services() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"alpha", "beta", "mid", "zeta"}, names)
	assert.Equal(t, []string{"beta", "mid"}, tr.Unhealthy(StateDegraded))
	assert.Empty(t, tr.Unhealthy(StateFailed))
}

func TestBreakerHook(t *testing.T) {
	tr, clk := newTracker(t)
	b := breaker.New(breaker.Config{
		Name:             "sandbox",
		FailureThreshold: 1,
		Timeout:          time.Second,
		SuccessThreshold: 1,
	},
		breaker.WithClock(clk),
		breaker.WithLogger(logging.Discard()),
		breaker.OnStateChange(tr.BreakerHook(ServiceSandbox, FallbackSkipWithLog)),
	)
	assert.Equal(t, StateHealthy, tr.State(ServiceSandbox))

	b.RecordFailure()
	assert.Equal(t, StateFailed, tr.State(ServiceSandbox))
	fb, _ := tr.Fallback(ServiceSandbox)
	assert.Equal(t, FallbackSkipWithLog, fb)

	clk.Advance(2 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, StateDegraded, tr.State(ServiceSandbox))

	b.RecordSuccess()
	assert.Equal(t, StateHealthy, tr.State(ServiceSandbox))
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "critical_failure", LevelCriticalFailure.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
