// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package breaker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/sentinel/internal/clock"
	"grimm.is/sentinel/internal/errors"
	"grimm.is/sentinel/internal/logging"
)

var errBoom = errors.New(errors.KindUnavailable, "boom")

func newTestBreaker(t *testing.T, cfg Config, opts ...Option) (*Breaker, *clock.MockClock) {
	t.Helper()
	clk := clock.NewMockClock(time.Unix(1700000000, 0))
	opts = append([]Option{WithClock(clk), WithLogger(logging.Discard())}, opts...)
	return New(cfg, opts...), clk
}

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestTripAndRecover(t *testing.T) {
	b, clk := newTestBreaker(t, DefaultConfig())
	assert.Equal(t, StateClosed, b.State())

	for i := 0; i < 4; i++ {
		assert.ErrorIs(t, b.Execute(fail), errBoom)
		assert.Equal(t, StateClosed, b.State(), "after %d failures", i+1)
	}
	assert.ErrorIs(t, b.Execute(fail), errBoom)
	assert.Equal(t, StateOpen, b.State())

	// Open: the operation is never invoked.
	var calls int
	err := b.Execute(func() error { calls++; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, errors.KindCircuitOpen, errors.GetKind(err))
	assert.Equal(t, "default", errors.GetAttributes(err)["breaker"])
	assert.Zero(t, calls)

	clk.Advance(29 * time.Second)
	assert.ErrorIs(t, b.Execute(succeed), ErrCircuitOpen)
	assert.False(t, b.IsRequestAllowed())

	clk.Advance(time.Second)
	assert.True(t, b.IsRequestAllowed())
	assert.Equal(t, StateOpen, b.State(), "dry run does not transition")

	require.NoError(t, b.Execute(func() error { calls++; return nil }))
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(succeed))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(t, DefaultConfig())
	b.Trip()
	clk.Advance(DefaultTimeout)

	require.NoError(t, b.Execute(succeed))
	assert.Equal(t, StateHalfOpen, b.State())

	assert.ErrorIs(t, b.Execute(fail), errBoom)
	assert.Equal(t, StateOpen, b.State())

	// The timeout restarts from the reopen.
	clk.Advance(DefaultTimeout - time.Millisecond)
	assert.ErrorIs(t, b.Execute(succeed), ErrCircuitOpen)
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(t, DefaultConfig())

	for i := 0; i < 4; i++ {
		_ = b.Execute(fail)
	}
	require.NoError(t, b.Execute(succeed))
	for i := 0; i < 4; i++ {
		_ = b.Execute(fail)
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 4, b.Metrics().ConsecutiveFailures)
}

func TestPresets(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		failures  int
		timeout   time.Duration
		successes int
	}{
		{"database", DatabaseConfig(), 5, 30 * time.Second, 2},
		{"scanner", ScannerConfig(), 3, 60 * time.Second, 3},
		{"ipc", IPCConfig(), 10, 10 * time.Second, 1},
		{"external_api", ExternalAPIConfig(), 3, 60 * time.Second, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.failures, tt.cfg.FailureThreshold)
			assert.Equal(t, tt.timeout, tt.cfg.Timeout)
			assert.Equal(t, tt.successes, tt.cfg.SuccessThreshold)
			assert.NoError(t, tt.cfg.Validate())

			p, err := Preset(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.cfg, p)

			b, _ := newTestBreaker(t, tt.cfg)
			for i := 0; i < tt.failures; i++ {
				_ = b.Execute(fail)
			}
			assert.Equal(t, StateOpen, b.State())
		})
	}

	_, err := Preset("bogus")
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Timeout = 0
	assert.Error(t, cfg.Validate())

	// New normalizes unusable values instead of failing.
	b := New(Config{Name: "zero"}, WithLogger(logging.Discard()))
	assert.Equal(t, DefaultFailureThreshold, b.Config().FailureThreshold)
	assert.Equal(t, DefaultTimeout, b.Config().Timeout)
}

func TestManualTripAndReset(t *testing.T) {
	b, _ := newTestBreaker(t, DefaultConfig())

	b.Trip()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(succeed), ErrCircuitOpen)

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Execute(succeed))
}

func TestMetrics(t *testing.T) {
	b, clk := newTestBreaker(t, Config{Name: "scan", FailureThreshold: 2, Timeout: 10 * time.Second, SuccessThreshold: 1})

	require.NoError(t, b.Execute(succeed))
	_ = b.Execute(fail)
	_ = b.Execute(fail)
	_ = b.Execute(succeed) // rejected
	clk.Advance(4 * time.Second)

	m := b.Metrics()
	assert.Equal(t, "scan", m.Name)
	assert.Equal(t, StateOpen, m.State)
	assert.Equal(t, uint64(3), m.TotalRequests)
	assert.Equal(t, uint64(1), m.TotalSuccesses)
	assert.Equal(t, uint64(2), m.TotalFailures)
	assert.Equal(t, uint64(1), m.Rejected)
	assert.Equal(t, uint64(1), m.StateChanges)
	assert.Equal(t, 4*time.Second, m.TimeInOpen)

	clk.Advance(6 * time.Second)
	require.NoError(t, b.Execute(succeed))
	m = b.Metrics()
	assert.Equal(t, StateClosed, m.State)
	assert.Equal(t, uint64(3), m.StateChanges)
	assert.Equal(t, 10*time.Second, m.TimeInOpen)

	b.ResetMetrics()
	m = b.Metrics()
	assert.Zero(t, m.TotalRequests)
	assert.Zero(t, m.TimeInOpen)
	assert.Equal(t, StateClosed, m.State)
}

func TestStateChangeHook(t *testing.T) {
	type change struct{ from, to State }
	var got []change

	b, clk := newTestBreaker(t, Config{Name: "ipc", FailureThreshold: 1, Timeout: time.Second, SuccessThreshold: 1},
		OnStateChange(func(name string, from, to State) {
			assert.Equal(t, "ipc", name)
			got = append(got, change{from, to})
		}))

	_ = b.Execute(fail)
	clk.Advance(time.Second)
	_ = b.Execute(succeed)

	assert.Equal(t, []change{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, got)
}

func TestHookMayCallBreaker(t *testing.T) {
	var b *Breaker
	var seen State
	b, _ = newTestBreaker(t, Config{Name: "x", FailureThreshold: 1, Timeout: time.Second, SuccessThreshold: 1},
		OnStateChange(func(string, State, State) {
			// Runs outside the lock, so this must not deadlock.
			seen = b.State()
		}))

	_ = b.Execute(fail)
	assert.Equal(t, StateOpen, seen)
}

func TestGenericExecute(t *testing.T) {
	b, _ := newTestBreaker(t, DefaultConfig())

	v, err := Execute(b, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = Execute(b, func() (int, error) { return 7, errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.Zero(t, v)
}

func TestPanicCountsAsFailure(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Name: "p", FailureThreshold: 1, Timeout: time.Second, SuccessThreshold: 1})

	assert.Panics(t, func() {
		_ = b.Execute(func() error { panic("sandbox crashed") })
	})
	assert.Equal(t, StateOpen, b.State())
}

func TestHalfOpenConcurrentProbes(t *testing.T) {
	tests := []struct {
		name        string
		singleProbe bool
		wantProbes  int32
	}{
		{"multi probe", false, 8},
		{"single probe", true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Name: "probe", FailureThreshold: 1, Timeout: time.Second, SuccessThreshold: 10, SingleProbe: tt.singleProbe}
			b, clk := newTestBreaker(t, cfg)
			b.Trip()
			clk.Advance(time.Second)

			var probes int32
			release := make(chan struct{})
			var started, wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				started.Add(1)
				go func() {
					defer wg.Done()
					err := b.Allow()
					started.Done()
					if err != nil {
						return
					}
					atomic.AddInt32(&probes, 1)
					<-release
					b.RecordSuccess()
				}()
			}
			started.Wait()
			close(release)
			wg.Wait()

			assert.Equal(t, tt.wantProbes, atomic.LoadInt32(&probes))
			assert.Equal(t, StateHalfOpen, b.State())
		})
	}
}

func TestConcurrentExecute(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Name: "c", FailureThreshold: 1000, Timeout: time.Second, SuccessThreshold: 1})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if (i+j)%2 == 0 {
					_ = b.Execute(succeed)
				} else {
					_ = b.Execute(fail)
				}
			}
		}(i)
	}
	wg.Wait()

	m := b.Metrics()
	assert.Equal(t, uint64(1000), m.TotalRequests)
	assert.Equal(t, m.TotalRequests, m.TotalSuccesses+m.TotalFailures)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
