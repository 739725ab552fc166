// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sentinel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVerdictEngine(t *testing.T) *VerdictEngine {
	t.Helper()
	v, err := NewVerdictEngine(DefaultVerdictConfig())
	require.NoError(t, err)
	return v
}

func TestVerdict_SingleDetector(t *testing.T) {
	v := newVerdictEngine(t).Calculate(map[Detector]float64{DetectorBehavioral: 0.9})
	assert.Equal(t, 0.9, v.Composite)
	assert.Equal(t, 1.0, v.Confidence)
	assert.Equal(t, LevelCritical, v.Level)
	assert.Equal(t,
		"CRITICAL THREAT DETECTED. Overall threat score: 90%. Behavioral analysis detected suspicious runtime activity (90%).",
		v.Explanation)
}

func TestVerdict_CleanAgreement(t *testing.T) {
	v := newVerdictEngine(t).Calculate(map[Detector]float64{
		DetectorSignature:  0,
		DetectorML:         0.1,
		DetectorBehavioral: 0.05,
	})
	assert.InDelta(t, 0.046667, v.Composite, 1e-9)
	assert.Equal(t, LevelClean, v.Level)
	assert.GreaterOrEqual(t, v.Confidence, 0.9)
	assert.Equal(t, "File appears clean. Overall threat score: 5%.", v.Explanation)
}

func TestVerdict_Disagreement(t *testing.T) {
	v := newVerdictEngine(t).Calculate(map[Detector]float64{
		DetectorSignature: 1,
		DetectorML:        0,
	})
	assert.InDelta(t, 0.545455, v.Composite, 1e-9)
	assert.Equal(t, LevelSuspicious, v.Level)
	assert.Equal(t, 0.0, v.Confidence)
	assert.Equal(t,
		"File exhibits suspicious behavior. Overall threat score: 55%. Pattern matching detected malware signatures (100%).",
		v.Explanation)
}

func TestVerdict_AllDetectorsHigh(t *testing.T) {
	v := newVerdictEngine(t).Calculate(map[Detector]float64{
		DetectorSignature:  0.9,
		DetectorML:         0.95,
		DetectorBehavioral: 0.85,
		DetectorReputation: 0.9,
	})
	assert.InDelta(t, 0.9025, v.Composite, 1e-9)
	assert.Equal(t, LevelCritical, v.Level)
	assert.GreaterOrEqual(t, v.Confidence, 0.9)
	assert.Contains(t, v.Explanation, "Machine learning model flagged malicious features (95%).")
	assert.Contains(t, v.Explanation, "Multiple detection methods agree.")
}

func TestVerdict_Floor(t *testing.T) {
	v := newVerdictEngine(t).CalculateWithFloor(map[Detector]float64{
		DetectorBehavioral: 0.2,
		DetectorML:         0.1,
	}, 0.95)
	assert.Equal(t, 0.95, v.Composite)
	assert.Equal(t, LevelCritical, v.Level)
}

func TestVerdict_NoDetectors(t *testing.T) {
	v := newVerdictEngine(t).Calculate(nil)
	assert.Equal(t, 0.0, v.Composite)
	assert.Equal(t, 0.0, v.Confidence)
	assert.Equal(t, LevelClean, v.Level)
	assert.Empty(t, v.Scores)
}

func TestVerdict_ScoresClamped(t *testing.T) {
	v := newVerdictEngine(t).Calculate(map[Detector]float64{DetectorML: 3, DetectorSignature: -1})
	assert.Equal(t, 1.0, v.Scores[DetectorML])
	assert.Equal(t, 0.0, v.Scores[DetectorSignature])
}

func TestVerdict_LevelBoundaries(t *testing.T) {
	e := newVerdictEngine(t)
	tests := []struct {
		score float64
		want  ThreatLevel
	}{
		{0.29, LevelClean},
		{0.3, LevelSuspicious},
		{0.6, LevelMalicious},
		{0.8, LevelCritical},
	}
	for _, tt := range tests {
		v := e.Calculate(map[Detector]float64{DetectorBehavioral: tt.score})
		assert.Equal(t, tt.want, v.Level, "score=%v", tt.score)
	}
}

func TestVerdict_Statistics(t *testing.T) {
	e := newVerdictEngine(t)
	e.Calculate(map[Detector]float64{DetectorBehavioral: 0.1})
	e.Calculate(map[Detector]float64{DetectorBehavioral: 0.5})
	e.Calculate(map[Detector]float64{DetectorBehavioral: 0.9})

	st := e.Statistics()
	assert.Equal(t, uint64(3), st.Total)
	assert.Equal(t, uint64(1), st.Clean)
	assert.Equal(t, uint64(1), st.Suspicious)
	assert.Equal(t, uint64(0), st.Malicious)
	assert.Equal(t, uint64(1), st.Critical)
	assert.InDelta(t, 0.5, st.AverageComposite, 1e-9)
	assert.InDelta(t, 1.0, st.AverageConfidence, 1e-9)

	e.ResetStatistics()
	assert.Equal(t, VerdictStatistics{}, e.Statistics())
}

func TestVerdictConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultVerdictConfig().Validate())

	cfg := DefaultVerdictConfig()
	cfg.SuspiciousBelow = 0.2
	require.Error(t, cfg.Validate())

	cfg = DefaultVerdictConfig()
	cfg.Weights[DetectorML] = 2
	_, err := NewVerdictEngine(cfg)
	require.Error(t, err)
}
