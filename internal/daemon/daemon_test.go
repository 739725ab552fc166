// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package daemon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/sentinel/internal/clock"
	"grimm.is/sentinel/internal/config"
	"grimm.is/sentinel/internal/errors"
	"grimm.is/sentinel/internal/health"
	"grimm.is/sentinel/internal/logging"
	"grimm.is/sentinel/internal/metrics"
	"grimm.is/sentinel/internal/protocol"
	"grimm.is/sentinel/internal/ratelimit"
	"grimm.is/sentinel/internal/sentinel"
)

type staticFunc func(ctx context.Context, data []byte, filename string) (*sentinel.StaticResult, error)

func (f staticFunc) Scan(ctx context.Context, data []byte, filename string) (*sentinel.StaticResult, error) {
	return f(ctx, data, filename)
}

type sandboxFunc func(ctx context.Context, data []byte, filename string) (*sentinel.BehavioralMetrics, error)

func (f sandboxFunc) Run(ctx context.Context, data []byte, filename string) (*sentinel.BehavioralMetrics, error) {
	return f(ctx, data, filename)
}

func cleanStatic() staticFunc {
	return func(context.Context, []byte, string) (*sentinel.StaticResult, error) {
		return &sentinel.StaticResult{}, nil
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

var elfSample = []byte("\x7fELF\x02\x01\x01\x00 sample body")

type harness struct {
	server   *Server
	cfg      *config.Config
	clock    *clock.MockClock
	registry *metrics.Registry
}

func newHarness(t *testing.T, static sentinel.StaticScanner, sandbox sentinel.Sandbox, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Listen = "/tmp/sentinel-test.sock"
	cfg.ScanRoots = []string{t.TempDir()}
	if mutate != nil {
		mutate(cfg)
	}

	h := &harness{
		cfg:      cfg,
		clock:    clock.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		registry: metrics.NewRegistry(false),
	}
	s, err := New(cfg, static, sandbox,
		WithLogger(logging.Discard()),
		WithClock(h.clock),
		WithRegistry(h.registry),
		WithSleeper(noSleep))
	require.NoError(t, err)
	h.server = s
	return h
}

func (h *harness) scan(t *testing.T, content []byte, filename string) (*protocol.ScanResult, error) {
	t.Helper()
	req := protocol.NewScanRequest(content, filename)
	resp, err := h.server.Handle(context.Background(), "test", &req)
	if err != nil {
		return nil, err
	}
	require.True(t, resp.OK())
	require.Equal(t, req.RequestID, resp.RequestID)
	return resp.Result, nil
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Listen = "relative.sock"
	_, err := New(cfg, cleanStatic(), nil, WithLogger(logging.Discard()))
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestScan_EICAR(t *testing.T) {
	scanner, err := sentinel.NewSignatureScanner()
	require.NoError(t, err)
	h := newHarness(t, scanner, nil, nil)

	res, err := h.scan(t, []byte(sentinel.EICARTestString), "eicar.com")
	require.NoError(t, err)
	assert.Equal(t, string(sentinel.LevelCritical), res.Level)
	assert.Equal(t, 0.95, res.Score)
	assert.Contains(t, res.Labels, "signature:eicar-test-file")
	assert.Equal(t, []string{TierStatic}, res.Tiers)
	assert.False(t, res.Cached)
	assert.False(t, res.Degraded)
	assert.True(t, res.ThreatDetected())
	assert.Equal(t, Hash([]byte(sentinel.EICARTestString)), res.SHA256)
}

func TestScan_CleanThenCached(t *testing.T) {
	var calls atomic.Int32
	static := staticFunc(func(context.Context, []byte, string) (*sentinel.StaticResult, error) {
		calls.Add(1)
		return &sentinel.StaticResult{}, nil
	})
	h := newHarness(t, static, nil, nil)
	content := []byte("just some notes\n")

	first, err := h.scan(t, content, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, string(sentinel.LevelClean), first.Level)
	assert.Equal(t, string(sentinel.ContentText), first.ContentType)
	assert.False(t, first.Cached)
	assert.False(t, first.ThreatDetected())

	second, err := h.scan(t, content, "notes.txt")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, []string{TierCache}, second.Tiers)
	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Level, second.Level)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(2), h.server.ScanCount())
}

func TestScan_NilStaticResultIsClean(t *testing.T) {
	static := staticFunc(func(context.Context, []byte, string) (*sentinel.StaticResult, error) {
		return nil, nil
	})
	h := newHarness(t, static, nil, nil)

	res, err := h.scan(t, []byte("plain text"), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, string(sentinel.LevelClean), res.Level)
}

func TestScan_SandboxRaisesScore(t *testing.T) {
	var runs atomic.Int32
	sandbox := sandboxFunc(func(_ context.Context, _ []byte, filename string) (*sentinel.BehavioralMetrics, error) {
		runs.Add(1)
		assert.Equal(t, "dropper", filename)
		return &sentinel.BehavioralMetrics{
			PrivilegeEscalationAttempts: 10,
			CodeInjectionAttempts:       10,
			ExecutionTime:               5 * time.Second,
		}, nil
	})
	h := newHarness(t, cleanStatic(), sandbox, nil)

	res, err := h.scan(t, elfSample, "dropper")
	require.NoError(t, err)
	assert.Equal(t, string(sentinel.ContentELF), res.ContentType)
	assert.Equal(t, []string{TierStatic, TierSandbox}, res.Tiers)
	assert.False(t, res.Degraded)
	assert.Contains(t, res.Labels, sentinel.LabelPrivilegeEscalation)
	assert.Contains(t, res.Labels, sentinel.LabelCodeInjection)
	assert.GreaterOrEqual(t, res.Score, 0.6)
	assert.True(t, res.ThreatDetected())
	assert.Equal(t, int32(1), runs.Load())
}

func TestScan_TextSkipsSandbox(t *testing.T) {
	var runs atomic.Int32
	sandbox := sandboxFunc(func(context.Context, []byte, string) (*sentinel.BehavioralMetrics, error) {
		runs.Add(1)
		return &sentinel.BehavioralMetrics{}, nil
	})
	h := newHarness(t, cleanStatic(), sandbox, nil)

	res, err := h.scan(t, []byte("hello world\n"), "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{TierStatic}, res.Tiers)
	assert.Zero(t, runs.Load())
}

func TestScan_SandboxFailureFallsBackToStatic(t *testing.T) {
	var runs atomic.Int32
	sandbox := sandboxFunc(func(context.Context, []byte, string) (*sentinel.BehavioralMetrics, error) {
		runs.Add(1)
		return nil, errors.New(errors.KindUnavailable, "helper crashed")
	})
	h := newHarness(t, cleanStatic(), sandbox, nil)

	res, err := h.scan(t, elfSample, "a.out")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, []string{TierStatic}, res.Tiers)
	assert.Equal(t, string(sentinel.LevelClean), res.Level)

	// Degraded verdicts are not cached.
	res, err = h.scan(t, elfSample, "a.out")
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.True(t, res.Degraded)
	assert.Equal(t, int32(2), runs.Load())
	assert.Zero(t, h.server.Cache().Len())
}

func TestScan_SandboxNilMetricsIsFailure(t *testing.T) {
	sandbox := sandboxFunc(func(context.Context, []byte, string) (*sentinel.BehavioralMetrics, error) {
		return nil, nil
	})
	h := newHarness(t, cleanStatic(), sandbox, nil)

	res, err := h.scan(t, elfSample, "a.out")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
}

func TestScan_StaticFailureUsesSandbox(t *testing.T) {
	static := staticFunc(func(context.Context, []byte, string) (*sentinel.StaticResult, error) {
		return nil, errors.New(errors.KindInternal, "rules failed to load")
	})
	sandbox := sandboxFunc(func(context.Context, []byte, string) (*sentinel.BehavioralMetrics, error) {
		return &sentinel.BehavioralMetrics{}, nil
	})
	h := newHarness(t, static, sandbox, nil)

	// Text is normally static-only; a failed static tier sends it to the sandbox.
	res, err := h.scan(t, []byte("readme\n"), "README")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, []string{TierSandbox}, res.Tiers)
}

func TestScan_StaticBreakerOpens(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	static := staticFunc(func(context.Context, []byte, string) (*sentinel.StaticResult, error) {
		if failing.Load() {
			return nil, errors.New(errors.KindInternal, "scanner crashed")
		}
		return &sentinel.StaticResult{}, nil
	})
	h := newHarness(t, static, nil, nil)
	threshold := h.cfg.Breaker(config.StaticTier).FailureThreshold

	for i := 0; i < threshold; i++ {
		_, err := h.scan(t, []byte("sample"), "s")
		require.Error(t, err)
		assert.Equal(t, errors.KindUnavailable, errors.GetKind(err))
	}

	tracker := h.server.Tracker()
	assert.Equal(t, health.StateCritical, tracker.State(health.ServiceStaticScanner))
	assert.Equal(t, health.LevelCriticalFailure, tracker.Level())
	assert.False(t, tracker.Ready())
	assert.True(t, tracker.Live())

	report := h.server.HealthReport(true)
	assert.Equal(t, "critical_failure", report.Status)
	assert.False(t, report.Ready)

	// Open breaker: the scanner is not even called.
	failing.Store(false)
	_, err := h.scan(t, []byte("sample"), "s")
	require.Error(t, err)

	h.clock.Advance(h.cfg.Breaker(config.StaticTier).Timeout + time.Second)
	res, err := h.scan(t, []byte("sample"), "s")
	require.NoError(t, err)
	assert.Equal(t, string(sentinel.LevelClean), res.Level)
	assert.True(t, tracker.Ready())
}

func TestScan_DenyAndAllowLists(t *testing.T) {
	denied := []byte("known bad")
	allowed := []byte("known good")
	var calls atomic.Int32
	static := staticFunc(func(context.Context, []byte, string) (*sentinel.StaticResult, error) {
		calls.Add(1)
		return &sentinel.StaticResult{}, nil
	})
	h := newHarness(t, static, nil, func(c *config.Config) {
		c.Cache.Deny = []string{Hash(denied)}
		c.Cache.Allow = []string{Hash(allowed)}
	})

	res, err := h.scan(t, denied, "bad")
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Score)
	assert.Equal(t, string(sentinel.LevelCritical), res.Level)
	assert.Equal(t, []string{LabelDenylist}, res.Labels)
	assert.Equal(t, "denied", res.Listed)

	res, err = h.scan(t, allowed, "good")
	require.NoError(t, err)
	assert.Zero(t, res.Score)
	assert.Equal(t, string(sentinel.LevelClean), res.Level)
	assert.Equal(t, []string{TierList}, res.Tiers)

	assert.Zero(t, calls.Load())
}

func TestHandle_ScanRateLimited(t *testing.T) {
	h := newHarness(t, cleanStatic(), nil, func(c *config.Config) {
		c.RateLimit = ratelimit.Limits{
			ScanPerSecond: 1, ScanBurst: 2,
			PolicyPerSecond: 1, PolicyBurst: 1,
			MaxConcurrentScans: 1,
		}
	})

	for i := 0; i < 2; i++ {
		_, err := h.scan(t, []byte("x"), "x")
		require.NoError(t, err)
	}
	_, err := h.scan(t, []byte("x"), "x")
	require.Error(t, err)
	assert.Equal(t, errors.KindRateLimited, errors.GetKind(err))

	// Another client has its own bucket.
	req := protocol.NewScanRequest([]byte("x"), "x")
	_, err = h.server.Handle(context.Background(), "other", &req)
	require.NoError(t, err)

	// Status queries draw from the policy bucket.
	probe := protocol.NewRequest(protocol.ActionHealthLive)
	_, err = h.server.Handle(context.Background(), "test", &probe)
	require.NoError(t, err)
	_, err = h.server.Handle(context.Background(), "test", &probe)
	assert.Equal(t, errors.KindRateLimited, errors.GetKind(err))

	h.clock.Advance(time.Second)
	_, err = h.scan(t, []byte("x"), "x")
	require.NoError(t, err)
}

func TestHandle_ValidatesRequest(t *testing.T) {
	h := newHarness(t, cleanStatic(), nil, nil)

	for _, req := range []protocol.Request{
		{Action: protocol.ActionScanContent},
		{Action: protocol.ActionScanFile},
		{Action: "reboot"},
		{},
	} {
		_, err := h.server.Handle(context.Background(), "test", &req)
		require.Error(t, err, "action %q", req.Action)
		assert.Equal(t, errors.KindValidation, errors.GetKind(err))
	}
}

func TestHandle_HealthAndMetrics(t *testing.T) {
	h := newHarness(t, cleanStatic(), sandboxFunc(func(context.Context, []byte, string) (*sentinel.BehavioralMetrics, error) {
		return &sentinel.BehavioralMetrics{}, nil
	}), nil)
	_, err := h.scan(t, []byte("hello"), "h")
	require.NoError(t, err)

	req := protocol.NewRequest(protocol.ActionHealth)
	resp, err := h.server.Handle(context.Background(), "test", &req)
	require.NoError(t, err)
	require.NotNil(t, resp.Health)
	assert.Equal(t, "normal", resp.Health.Status)
	assert.True(t, resp.Health.Live)
	assert.True(t, resp.Health.Ready)

	var names []string
	for _, svc := range resp.Health.Services {
		names = append(names, svc.Name)
		assert.Equal(t, "healthy", svc.State)
	}
	assert.ElementsMatch(t, []string{
		health.ServiceStaticScanner, health.ServiceSandbox, health.ServiceVerdictCache,
	}, names)

	req = protocol.NewRequest(protocol.ActionHealthReady)
	resp, err = h.server.Handle(context.Background(), "test", &req)
	require.NoError(t, err)
	assert.True(t, resp.Health.Ready)
	assert.Empty(t, resp.Health.Services)

	req = protocol.NewRequest(protocol.ActionMetrics)
	resp, err = h.server.Handle(context.Background(), "test", &req)
	require.NoError(t, err)
	assert.Contains(t, resp.Metrics, "sentinel_scans_total")
	assert.Contains(t, resp.Metrics, "sentinel_breaker_state")
}

func TestHandle_MetricsDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	s, err := New(cfg, cleanStatic(), nil, WithLogger(logging.Discard()))
	require.NoError(t, err)

	req := protocol.NewRequest(protocol.ActionMetrics)
	_, err = s.Handle(context.Background(), "test", &req)
	assert.Equal(t, errors.KindUnavailable, errors.GetKind(err))
}

func TestHandleFrame_Errors(t *testing.T) {
	h := newHarness(t, cleanStatic(), nil, nil)

	resp := h.server.handleFrame(context.Background(), "test", []byte("\xff\xfe"))
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, protocol.UnknownRequestID, resp.RequestID)
	assert.Equal(t, "protocol", resp.ErrorKind)

	resp = h.server.handleFrame(context.Background(), "test", []byte("{not json"))
	assert.Equal(t, "protocol", resp.ErrorKind)

	resp = h.server.handleFrame(context.Background(), "test", []byte(`{"action":"scan_content","request_id":"r1"}`))
	assert.Equal(t, "r1", resp.RequestID)
	assert.Equal(t, "validation", resp.ErrorKind)
	assert.Contains(t, resp.Error, "content")
}

func TestHash(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Hash(nil))
}
