// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sentinel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/sentinel/internal/logging"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := New(DefaultPolicy(), DefaultVerdictConfig(), logging.Discard())
	require.NoError(t, err)
	return s
}

func TestService_EvaluateEICAR(t *testing.T) {
	s := newTestService(t)

	var (
		mu      sync.Mutex
		reports []Report
	)
	s.OnThreat(func(r Report) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, r)
	})

	scanner, err := NewSignatureScanner()
	require.NoError(t, err)
	static, err := scanner.Scan(context.Background(), []byte(EICARTestString), "eicar.com")
	require.NoError(t, err)

	r := s.Evaluate(Evidence{Static: static})
	assert.Equal(t, 0.95, r.Threat.Value)
	assert.Equal(t, 0.95, r.Verdict.Composite)
	assert.Equal(t, LevelCritical, r.Verdict.Level)
	assert.Equal(t, map[Detector]float64{DetectorSignature: 0.95}, r.Verdict.Scores)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reports, 1)
	assert.Equal(t, r, reports[0])
}

func TestService_EvaluateClean(t *testing.T) {
	s := newTestService(t)
	called := false
	s.OnThreat(func(Report) { called = true })

	r := s.Evaluate(Evidence{
		Static:   &StaticResult{},
		Behavior: &BehavioralMetrics{FileOperations: 3, ExecutionTime: time.Second},
	})
	assert.Less(t, r.Threat.Value, 0.1)
	assert.Equal(t, LevelClean, r.Verdict.Level)
	assert.False(t, called)

	assert.Equal(t, uint64(1), s.Statistics().Clean)
}

func TestService_VerdictNeverBelowThreatScore(t *testing.T) {
	s := newTestService(t)
	ml := 0.0
	rep := 0.0

	r := s.Evaluate(Evidence{
		Behavior:   &BehavioralMetrics{FileOperations: 250, ExecutionTime: time.Second},
		ML:         &ml,
		Reputation: &rep,
	})
	assert.Equal(t, 0.8, r.Threat.Value)
	assert.GreaterOrEqual(t, r.Verdict.Composite, r.Threat.Value)
	assert.Equal(t, LevelCritical, r.Verdict.Level)
	assert.Len(t, r.Verdict.Scores, 3)
}

func TestService_SignatureScore(t *testing.T) {
	s := newTestService(t)
	assert.Equal(t, 0.0, s.SignatureScore(&StaticResult{}))
	assert.Equal(t, 0.75, s.SignatureScore(&StaticResult{Matches: []SignatureMatch{
		{Rule: "a", Severity: SeverityLow},
		{Rule: "b", Severity: SeverityHigh},
	}}))
}

func TestService_StartStop(t *testing.T) {
	s := newTestService(t)
	s.Stop() // not started

	s.Start(10 * time.Millisecond)
	s.Start(10 * time.Millisecond) // second start is a no-op
	s.Evaluate(Evidence{Behavior: &BehavioralMetrics{}})
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	s.Stop()

	s.ResetStatistics()
	assert.Equal(t, uint64(0), s.Statistics().Total)
}

func TestNewDefault(t *testing.T) {
	s := NewDefault()
	require.NotNil(t, s.Engine())
	assert.Equal(t, DefaultPolicy().Weights, s.Engine().Policy().Weights)
}
