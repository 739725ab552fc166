// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package daemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"grimm.is/sentinel/internal/breaker"
	"grimm.is/sentinel/internal/clock"
	"grimm.is/sentinel/internal/errors"
	"grimm.is/sentinel/internal/health"
	"grimm.is/sentinel/internal/logging"
	"grimm.is/sentinel/internal/metrics"
	"grimm.is/sentinel/internal/protocol"
	"grimm.is/sentinel/internal/retry"
	"grimm.is/sentinel/internal/sentinel"
	"grimm.is/sentinel/internal/verdictcache"
)

// Analysis tiers reported in ScanResult.Tiers.
const (
	TierList    = "list"
	TierCache   = "cache"
	TierStatic  = "static"
	TierSandbox = "sandbox"
)

// Labels for list verdicts.
const (
	LabelDenylist  = "denylist"
	LabelAllowlist = "allowlist"
)

// SandboxThreshold is the static score above which any content goes to the
// sandbox, whatever its type.
const SandboxThreshold = 0.3

// Tier pairs one analysis stage with the breaker and retry policy guarding it.
type Tier struct {
	Breaker *breaker.Breaker
	Retry   *retry.Policy
	Timeout time.Duration
}

func (t Tier) run(ctx context.Context, op func(ctx context.Context) error) error {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	return t.Retry.ExecuteContext(ctx, retry.WithBreaker(t.Breaker, op))
}

// Pipeline runs content through the list check, the verdict cache, the
// static tier and, when warranted, the sandbox tier.
type Pipeline struct {
	service  *sentinel.Service
	cache    *verdictcache.Cache
	tracker  *health.Tracker
	registry *metrics.Registry
	logger   *logging.Logger
	clk      clock.Clock

	static      sentinel.StaticScanner
	staticTier  Tier
	sandbox     sentinel.Sandbox
	sandboxTier Tier
}

func (p *Pipeline) observeScan(level string, score float64, start time.Time) time.Duration {
	d := p.clk.Now().Sub(start)
	if p.registry != nil {
		p.registry.ObserveScan(level, score, d)
	}
	return d
}

// Hash returns the hex SHA-256 used as the cache key.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Scan analyzes content and returns its verdict.
func (p *Pipeline) Scan(ctx context.Context, content []byte, filename string) (*protocol.ScanResult, error) {
	start := p.clk.Now()
	hash := Hash(content)

	switch p.cache.CheckLists(hash) {
	case verdictcache.Denied:
		res := &protocol.ScanResult{
			SHA256: hash, Score: 1, Level: string(sentinel.LevelCritical),
			Band: string(sentinel.BandCritical), Confidence: 1,
			Labels: []string{LabelDenylist}, Tiers: []string{TierList},
			Listed: verdictcache.Denied.String(),
		}
		res.Duration = p.observeScan(res.Level, res.Score, start)
		return res, nil
	case verdictcache.Allowed:
		res := &protocol.ScanResult{
			SHA256: hash, Level: string(sentinel.LevelClean),
			Band: string(sentinel.BandLow), Confidence: 1,
			Labels: []string{LabelAllowlist}, Tiers: []string{TierList},
			Listed: verdictcache.Allowed.String(),
		}
		res.Duration = p.observeScan(res.Level, res.Score, start)
		return res, nil
	}

	entry, hit := p.cache.Lookup(hash)
	if p.registry != nil {
		p.registry.ObserveCacheLookup(hit)
	}
	if hit {
		res := &protocol.ScanResult{
			SHA256: hash, Score: entry.Score, Level: entry.Level,
			Band:   string(sentinel.BandOf(entry.Score)),
			Labels: entry.Labels, Tiers: []string{TierCache}, Cached: true,
		}
		res.Duration = p.observeScan(res.Level, res.Score, start)
		return res, nil
	}

	ctype := sentinel.Classify(content)
	res := &protocol.ScanResult{SHA256: hash, ContentType: string(ctype)}
	ev := sentinel.Evidence{}

	static, staticErr := p.runStatic(ctx, content, filename)
	if staticErr == nil {
		ev.Static = static
		res.Tiers = append(res.Tiers, TierStatic)
	} else {
		res.Degraded = true
		p.logger.Warn("static tier failed", "sha256", hash, "error", staticErr)
	}

	if p.wantSandbox(ctype, static, staticErr) {
		behavior, err := p.runSandbox(ctx, content, filename)
		if err == nil {
			ev.Behavior = behavior
			res.Tiers = append(res.Tiers, TierSandbox)
		} else {
			// Static-only scoring stands in for the sandbox.
			res.Degraded = true
			p.logger.Warn("sandbox tier failed, using static verdict", "sha256", hash, "error", err)
		}
	}

	if ev.Static == nil && ev.Behavior == nil {
		p.tracker.Set(health.ServiceStaticScanner, health.StateCritical,
			"no analysis tier available", health.FallbackNone)
		return nil, errors.Wrap(staticErr, errors.KindUnavailable, "no analysis tier available")
	}
	if ev.Static != nil && p.tracker.State(health.ServiceStaticScanner) == health.StateCritical {
		p.tracker.MarkRecovered(health.ServiceStaticScanner)
	}

	report := p.service.Evaluate(ev)
	res.Score = report.Verdict.Composite
	res.Level = string(report.Verdict.Level)
	res.Band = string(sentinel.BandOf(res.Score))
	res.Confidence = report.Verdict.Confidence
	res.Labels = report.Threat.Labels
	res.Explanation = report.Verdict.Explanation
	res.Scores = make(map[string]float64, len(report.Verdict.Scores))
	for d, s := range report.Verdict.Scores {
		res.Scores[string(d)] = s
	}

	// A degraded verdict is not cached so the next request gets the full analysis.
	if !res.Degraded {
		err := p.cache.Store(ctx, verdictcache.Entry{
			Hash: hash, Score: res.Score, Level: res.Level, Labels: res.Labels,
		})
		if err != nil {
			p.logger.Warn("verdict cache store failed", "sha256", hash, "error", err)
		}
	}

	res.Duration = p.observeScan(res.Level, res.Score, start)
	return res, nil
}

func (p *Pipeline) runStatic(ctx context.Context, content []byte, filename string) (*sentinel.StaticResult, error) {
	if p.static == nil {
		return nil, errors.New(errors.KindUnavailable, "static scanner not configured")
	}
	var result *sentinel.StaticResult
	err := p.staticTier.run(ctx, func(ctx context.Context) error {
		r, err := p.static.Scan(ctx, content, filename)
		if err != nil {
			return err
		}
		if r == nil {
			r = &sentinel.StaticResult{}
		}
		result = r
		return nil
	})
	return result, err
}

// wantSandbox sends executables, unrecognized content, anything the static
// tier found suspicious, and anything the static tier could not look at.
func (p *Pipeline) wantSandbox(ctype sentinel.ContentType, static *sentinel.StaticResult, staticErr error) bool {
	if p.sandbox == nil {
		return false
	}
	if staticErr != nil || ctype.Executable() || ctype == sentinel.ContentUnknown {
		return true
	}
	return p.service.SignatureScore(static) > SandboxThreshold
}

func (p *Pipeline) runSandbox(ctx context.Context, content []byte, filename string) (*sentinel.BehavioralMetrics, error) {
	var result *sentinel.BehavioralMetrics
	err := p.sandboxTier.run(ctx, func(ctx context.Context) error {
		m, err := p.sandbox.Run(ctx, content, filename)
		if err != nil {
			return err
		}
		if m == nil {
			return errors.New(errors.KindInternal, "sandbox returned no metrics")
		}
		result = m
		return nil
	})
	return result, err
}
