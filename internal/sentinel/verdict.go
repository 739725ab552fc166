// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sentinel

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"grimm.is/sentinel/internal/errors"
)

// Detector names one independent source of evidence about a sample.
type Detector string

const (
	DetectorSignature  Detector = "signature"
	DetectorML         Detector = "ml"
	DetectorBehavioral Detector = "behavioral"
	DetectorReputation Detector = "reputation"
)

// detectorOrder fixes iteration order and breaks ties in explanations.
var detectorOrder = []Detector{DetectorSignature, DetectorML, DetectorBehavioral, DetectorReputation}

var detectorFindings = map[Detector]string{
	DetectorSignature:  "Pattern matching detected malware signatures",
	DetectorML:         "Machine learning model flagged malicious features",
	DetectorBehavioral: "Behavioral analysis detected suspicious runtime activity",
	DetectorReputation: "Reputation services flagged this file",
}

// ThreatLevel is the verdict's severity.
type ThreatLevel string

const (
	LevelClean      ThreatLevel = "clean"
	LevelSuspicious ThreatLevel = "suspicious"
	LevelMalicious  ThreatLevel = "malicious"
	LevelCritical   ThreatLevel = "critical"
)

func (l ThreatLevel) String() string { return string(l) }

// VerdictConfig tunes the verdict engine.
type VerdictConfig struct {
	Weights map[Detector]float64 `yaml:"weights" json:"weights"`
	// Upper bounds (exclusive) of the clean, suspicious and malicious levels.
	CleanBelow      float64 `yaml:"clean_below" json:"clean_below"`
	SuspiciousBelow float64 `yaml:"suspicious_below" json:"suspicious_below"`
	MaliciousBelow  float64 `yaml:"malicious_below" json:"malicious_below"`
}

// DefaultVerdictConfig returns the stock detector weights and level bounds.
func DefaultVerdictConfig() VerdictConfig {
	return VerdictConfig{
		Weights: map[Detector]float64{
			DetectorSignature:  0.30,
			DetectorML:         0.25,
			DetectorBehavioral: 0.20,
			DetectorReputation: 0.25,
		},
		CleanBelow:      0.3,
		SuspiciousBelow: 0.6,
		MaliciousBelow:  0.8,
	}
}

// Validate checks weights and level bounds.
func (c VerdictConfig) Validate() error {
	for d, w := range c.Weights {
		if !inUnit(w) {
			return errors.Errorf(errors.KindValidation, "verdict: weight for %s outside [0, 1]", d)
		}
	}
	if !(0 < c.CleanBelow && c.CleanBelow < c.SuspiciousBelow && c.SuspiciousBelow < c.MaliciousBelow && c.MaliciousBelow <= 1) {
		return errors.New(errors.KindValidation, "verdict: level bounds must be increasing within (0, 1]")
	}
	return nil
}

// Verdict is the engine's combined decision for one sample.
type Verdict struct {
	Composite   float64              `json:"composite"`
	Confidence  float64              `json:"confidence"`
	Level       ThreatLevel          `json:"level"`
	Explanation string               `json:"explanation"`
	Scores      map[Detector]float64 `json:"scores"`
}

// VerdictStatistics summarizes every verdict since the last reset.
type VerdictStatistics struct {
	Total             uint64  `json:"total"`
	Clean             uint64  `json:"clean"`
	Suspicious        uint64  `json:"suspicious"`
	Malicious         uint64  `json:"malicious"`
	Critical          uint64  `json:"critical"`
	AverageComposite  float64 `json:"average_composite"`
	AverageConfidence float64 `json:"average_confidence"`
}

// VerdictEngine turns per-detector scores into a verdict. Detectors that
// did not run are left out of the scores map and their weight is spread
// over the ones that did.
type VerdictEngine struct {
	cfg VerdictConfig

	mu         sync.Mutex
	counts     map[ThreatLevel]uint64
	composite  Tracker
	confidence Tracker
}

// NewVerdictEngine validates cfg and returns an engine.
func NewVerdictEngine(cfg VerdictConfig) (*VerdictEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &VerdictEngine{cfg: cfg, counts: make(map[ThreatLevel]uint64)}, nil
}

// Calculate combines scores into a verdict.
func (v *VerdictEngine) Calculate(scores map[Detector]float64) Verdict {
	return v.CalculateWithFloor(scores, 0)
}

// CalculateWithFloor is Calculate with a lower bound on the composite, used
// when an authoritative score (such as the behavioral threat score with its
// detector floors) must not be diluted by the weighted mean.
func (v *VerdictEngine) CalculateWithFloor(scores map[Detector]float64, floor float64) Verdict {
	present := make(map[Detector]float64, len(scores))
	for _, d := range detectorOrder {
		if s, ok := scores[d]; ok {
			present[d] = min(1, max(0, s))
		}
	}

	composite := roundScore(min(1, max(0, max(v.weightedMean(present), floor))))
	level := v.level(composite)
	verdict := Verdict{
		Composite:   composite,
		Confidence:  roundScore(confidence(present)),
		Level:       level,
		Explanation: explain(level, composite, present),
		Scores:      present,
	}

	v.mu.Lock()
	v.counts[level]++
	v.composite.Update(verdict.Composite)
	v.confidence.Update(verdict.Confidence)
	v.mu.Unlock()

	return verdict
}

func (v *VerdictEngine) weightedMean(present map[Detector]float64) float64 {
	var sum, weights float64
	for d, s := range present {
		w := v.cfg.Weights[d]
		sum += w * s
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

func (v *VerdictEngine) level(score float64) ThreatLevel {
	switch {
	case score < v.cfg.CleanBelow:
		return LevelClean
	case score < v.cfg.SuspiciousBelow:
		return LevelSuspicious
	case score < v.cfg.MaliciousBelow:
		return LevelMalicious
	}
	return LevelCritical
}

// confidence is high when detectors agree: 1 - 2*stddev, raised to 0.9 when
// every detector is clearly high or clearly low.
func confidence(present map[Detector]float64) float64 {
	if len(present) == 0 {
		return 0
	}
	var t Tracker
	allHigh, allLow := true, true
	for _, s := range present {
		t.Update(s)
		allHigh = allHigh && s > 0.8
		allLow = allLow && s < 0.2
	}
	c := 1 - min(1, 2*math.Sqrt(t.PopulationVariance()))
	if allHigh || allLow {
		c = max(c, 0.9)
	}
	return min(1, max(0, c))
}

func explain(level ThreatLevel, composite float64, present map[Detector]float64) string {
	var parts []string
	switch level {
	case LevelClean:
		parts = append(parts, "File appears clean.")
	case LevelSuspicious:
		parts = append(parts, "File exhibits suspicious behavior.")
	case LevelMalicious:
		parts = append(parts, "File is likely malicious.")
	case LevelCritical:
		parts = append(parts, "CRITICAL THREAT DETECTED.")
	}
	parts = append(parts, fmt.Sprintf("Overall threat score: %.0f%%.", composite*100))

	var (
		top      Detector
		topScore = -1.0
		high     int
	)
	for _, d := range detectorOrder {
		s, ok := present[d]
		if !ok {
			continue
		}
		if s > topScore {
			top, topScore = d, s
		}
		if s > 0.5 {
			high++
		}
	}
	if topScore > 0.5 {
		parts = append(parts, fmt.Sprintf("%s (%.0f%%).", detectorFindings[top], topScore*100))
	}
	if high >= 2 {
		parts = append(parts, "Multiple detection methods agree.")
	}
	return strings.Join(parts, " ")
}

// Statistics returns a snapshot of the running statistics.
func (v *VerdictEngine) Statistics() VerdictStatistics {
	v.mu.Lock()
	defer v.mu.Unlock()
	return VerdictStatistics{
		Total:             uint64(v.composite.Count),
		Clean:             v.counts[LevelClean],
		Suspicious:        v.counts[LevelSuspicious],
		Malicious:         v.counts[LevelMalicious],
		Critical:          v.counts[LevelCritical],
		AverageComposite:  v.composite.Mean,
		AverageConfidence: v.confidence.Mean,
	}
}

// ResetStatistics clears the running statistics.
func (v *VerdictEngine) ResetStatistics() {
	v.mu.Lock()
	defer v.mu.Unlock()
	clear(v.counts)
	v.composite.Reset()
	v.confidence.Reset()
}
