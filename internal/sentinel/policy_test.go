// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sentinel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/sentinel/internal/errors"
)

func TestDefaultPolicyValidates(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())
}

func TestParsePolicy_PartialOverride(t *testing.T) {
	p, err := ParsePolicy([]byte(`
weights:
  privilege_escalation: 0.25
  code_injection: 0.25
  network: 0.25
  file_operations: 0.25
detectors:
  dga:
    threshold: 100
    floor: 0.5
signatures:
  - name: test-marker
    severity: high
    pattern: MALWARE-MARKER
`))
	require.NoError(t, err)

	assert.Equal(t, Weights{0.25, 0.25, 0.25, 0.25}, p.Weights)
	assert.Equal(t, CountDetector{Threshold: 100, Floor: 0.5}, p.Detectors.DGA)
	assert.Equal(t, DefaultPolicy().Detectors.RansomwareRate, p.Detectors.RansomwareRate)
	assert.Equal(t, DefaultPolicy().Bands, p.Bands)
	assert.Equal(t, 0.95, p.SignatureFloors[SeverityCritical])
	require.Len(t, p.Signatures, 1)
	assert.Equal(t, SeverityHigh, p.Signatures[0].Severity)
}

func TestParsePolicy_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "weights: [1, 2"},
		{"weights do not sum to one", "weights: {privilege_escalation: 0.5, code_injection: 0.3, network: 0.2, file_operations: 0.1}"},
		{"negative weight", "weights: {privilege_escalation: 1.2, code_injection: -0.2, network: 0, file_operations: 0}"},
		{"bands out of order", "bands: {medium: 0.6, high: 0.3, critical: 0.8}"},
		{"floor above one", "detectors: {dga: {threshold: 1, floor: 1.5}}"},
		{"high threshold below threshold", "detectors: {fork_bomb: {threshold: 10, floor: 0.5, high_threshold: 5, high_floor: 0.7}}"},
		{"signature severity", "signatures: [{name: x, severity: extreme, pattern: abc}]"},
		{"signature without pattern", "signatures: [{name: x, severity: low}]"},
		{"signature with both", "signatures: [{name: x, severity: low, pattern: a, hex: '61'}]"},
		{"signature bad hex", "signatures: [{name: x, severity: low, hex: zz}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, errors.KindValidation, errors.GetKind(err))
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_contribution: 0.05\n"), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 0.05, p.MinContribution)

	_, err = LoadPolicy(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestPolicy_MinContributionFiltersLabels(t *testing.T) {
	p := DefaultPolicy()
	p.MinContribution = 0.05
	e, err := NewEngine(p)
	require.NoError(t, err)

	// Hidden file: file category 0.2, weighted 0.02.
	s := e.Score(&BehavioralMetrics{HiddenFileCreates: 1})
	assert.Equal(t, 0.02, s.Value)
	assert.Empty(t, s.Labels)

	s = defaultEngine(t).Score(&BehavioralMetrics{HiddenFileCreates: 1})
	assert.Equal(t, []string{LabelFileOperations}, s.Labels)
}
