// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sentinel

import (
	"math"
	"slices"
)

// Pattern labels emitted by the detectors.
const (
	LabelPrivilegeEscalation = "privilege-escalation"
	LabelCodeInjection       = "code-injection"
	LabelNetwork             = "network"
	LabelFileOperations      = "file-operations"

	LabelRansomwareRate = "ransomware-rate"
	LabelForkBomb       = "fork-bomb"
	LabelC2Beaconing    = "c2-beaconing"
	LabelDGA            = "dga"
	LabelHeapSpray      = "heap-spray"

	signatureLabelPrefix = "signature:"
)

// Band is a coarse bucket of a threat score.
type Band string

const (
	BandLow      Band = "low"
	BandMedium   Band = "medium"
	BandHigh     Band = "high"
	BandCritical Band = "critical"
)

func (b Band) String() string { return string(b) }

// BandOf buckets a score using the bounds of the default policy.
func BandOf(score float64) Band {
	return DefaultPolicy().Bands.Of(score)
}

// Of buckets a score.
func (b Bands) Of(score float64) Band {
	switch {
	case score >= b.Critical:
		return BandCritical
	case score >= b.High:
		return BandHigh
	case score >= b.Medium:
		return BandMedium
	}
	return BandLow
}

// CategoryScores are the per-category intensities in [0, 1], before weighting.
type CategoryScores struct {
	PrivilegeEscalation float64 `json:"privilege_escalation"`
	CodeInjection       float64 `json:"code_injection"`
	Network             float64 `json:"network"`
	FileOperations      float64 `json:"file_operations"`
}

// ThreatScore is the result of scoring one sample. It is never mutated after
// the engine returns it.
type ThreatScore struct {
	Value      float64        `json:"score"`
	Labels     []string       `json:"labels"`
	Band       Band           `json:"band"`
	Categories CategoryScores `json:"categories"`
}

// HasLabel reports whether label was emitted.
func (s ThreatScore) HasLabel(label string) bool {
	return slices.Contains(s.Labels, label)
}

// Engine scores behavioral metrics and static results against a Policy.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	policy Policy
}

// NewEngine validates p and returns an engine for it.
func NewEngine(p Policy) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Engine{policy: p}, nil
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Score scores one sandbox run.
func (e *Engine) Score(m *BehavioralMetrics) ThreatScore {
	return e.ScoreSample(nil, m)
}

// ScoreSample combines a static result and a sandbox run. Either may be nil;
// a nil metrics snapshot scores as an all-zero run.
func (e *Engine) ScoreSample(static *StaticResult, m *BehavioralMetrics) ThreatScore {
	if m == nil {
		m = &BehavioralMetrics{}
	}
	p := &e.policy

	cats := categoryScores(m)
	w := p.Weights
	weighted := []struct {
		label        string
		contribution float64
	}{
		{LabelPrivilegeEscalation, w.PrivilegeEscalation * cats.PrivilegeEscalation},
		{LabelCodeInjection, w.CodeInjection * cats.CodeInjection},
		{LabelNetwork, w.Network * cats.Network},
		{LabelFileOperations, w.FileOperations * cats.FileOperations},
	}

	var (
		sum    float64
		labels []string
	)
	for _, c := range weighted {
		sum += c.contribution
		if c.contribution > p.MinContribution {
			labels = append(labels, c.label)
		}
	}

	floor := 0.0
	raise := func(label string, f float64) {
		if f <= 0 {
			return
		}
		labels = append(labels, label)
		floor = max(floor, f)
	}

	secs := m.executionSeconds()
	d := p.Detectors
	raise(LabelRansomwareRate, d.RansomwareRate.floor(float64(m.FileOperations)/secs))
	raise(LabelForkBomb, d.ForkBomb.floor(float64(m.ProcessOperations)/secs))
	if m.NetworkOperations > 0 && m.OutboundConnections >= d.C2Beaconing.MinConnections &&
		float64(m.OutboundConnections)/float64(m.NetworkOperations) > d.C2Beaconing.Ratio {
		raise(LabelC2Beaconing, d.C2Beaconing.Floor)
	}
	if m.DNSQueries > d.DGA.Threshold {
		raise(LabelDGA, d.DGA.Floor)
	}
	if m.MemoryOperations > d.HeapSpray.Threshold {
		raise(LabelHeapSpray, d.HeapSpray.Floor)
	}

	for _, f := range Families(m) {
		labels = append(labels, familyLabelPrefix+string(f))
	}

	if static != nil {
		var sigs []string
		for _, match := range static.Matches {
			label := signatureLabelPrefix + match.Rule
			if !slices.Contains(sigs, label) {
				sigs = append(sigs, label)
			}
			floor = max(floor, p.SignatureFloors[match.Severity])
		}
		slices.Sort(sigs)
		labels = append(labels, sigs...)
	}

	value := roundScore(min(1, max(0, max(sum, floor))))
	if labels == nil {
		labels = []string{}
	}
	return ThreatScore{
		Value:      value,
		Labels:     labels,
		Band:       p.Bands.Of(value),
		Categories: cats,
	}
}

// roundScore drops float noise below the sixth decimal so that, for
// example, 0.7*0.4 reports as 0.28.
func roundScore(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func categoryScores(m *BehavioralMetrics) CategoryScores {
	return CategoryScores{
		PrivilegeEscalation: privilegeEscalationScore(m),
		CodeInjection:       codeInjectionScore(m),
		Network:             networkScore(m),
		FileOperations:      fileOperationsScore(m),
	}
}

// Any privilege escalation inside the sandbox is already a strong signal.
func privilegeEscalationScore(m *BehavioralMetrics) float64 {
	switch n := m.PrivilegeEscalationAttempts; {
	case n == 0:
		return 0
	case n == 1:
		return 0.7
	case n <= 5:
		return 0.85
	}
	return 1
}

func codeInjectionScore(m *BehavioralMetrics) float64 {
	var s float64
	switch n := m.CodeInjectionAttempts; {
	case n == 0:
	case n == 1:
		s = 0.6
	case n <= 3:
		s = 0.8
	default:
		s = 1
	}
	switch {
	case m.MemoryOperations > 100:
		s = max(s, 0.7)
	case m.MemoryOperations > 20:
		s = max(s, 0.4)
	}
	return s
}

func networkScore(m *BehavioralMetrics) float64 {
	var s float64
	if m.NetworkOperations > 0 {
		ratio := float64(m.OutboundConnections) / float64(m.NetworkOperations)
		switch {
		case ratio > 0.3 && m.OutboundConnections > 10:
			s = 0.8
		case ratio > 0.3 && m.OutboundConnections >= 3:
			s = 0.5
		case m.OutboundConnections >= 5:
			s = 0.3
		case m.OutboundConnections >= 2:
			s = 0.15
		}
	}
	switch {
	case m.DNSQueries > 50:
		s = max(s, 0.7)
	case m.DNSQueries > 10:
		s = max(s, 0.4)
	}
	return s
}

func fileOperationsScore(m *BehavioralMetrics) float64 {
	secs := m.executionSeconds()
	fileRate := float64(m.FileOperations) / secs
	procRate := float64(m.ProcessOperations) / secs

	var s float64
	switch {
	case fileRate > 200:
		s = 0.9
	case fileRate > 50:
		s = 0.6
	case fileRate > 20:
		s = 0.3
	case m.FileOperations > 50:
		s = 0.2
	}
	switch {
	case procRate > 50:
		s = max(s, 0.8)
	case procRate > 10:
		s = max(s, 0.5)
	}
	switch {
	case m.ExecutableDrops > 3:
		s = max(s, 0.7)
	case m.ExecutableDrops > 0:
		s = max(s, 0.4)
	}
	if m.HiddenFileCreates > 0 {
		s = max(s, 0.2)
	}
	if m.TempFileCreates > 5 {
		s = max(s, 0.25)
	}
	return s
}
