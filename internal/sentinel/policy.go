// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sentinel

import (
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"grimm.is/sentinel/internal/errors"
)

// Weights are the category weights of the behavioral score. They must sum to 1.
type Weights struct {
	PrivilegeEscalation float64 `yaml:"privilege_escalation" json:"privilege_escalation"`
	CodeInjection       float64 `yaml:"code_injection" json:"code_injection"`
	Network             float64 `yaml:"network" json:"network"`
	FileOperations      float64 `yaml:"file_operations" json:"file_operations"`
}

func (w Weights) sum() float64 {
	return w.PrivilegeEscalation + w.CodeInjection + w.Network + w.FileOperations
}

// RateDetector raises the score to Floor when a per-second rate exceeds
// Threshold, and to HighFloor above HighThreshold.
type RateDetector struct {
	Threshold     float64 `yaml:"threshold" json:"threshold"`
	Floor         float64 `yaml:"floor" json:"floor"`
	HighThreshold float64 `yaml:"high_threshold" json:"high_threshold"`
	HighFloor     float64 `yaml:"high_floor" json:"high_floor"`
}

func (d RateDetector) floor(rate float64) float64 {
	switch {
	case d.HighThreshold > 0 && rate > d.HighThreshold:
		return d.HighFloor
	case rate > d.Threshold:
		return d.Floor
	}
	return 0
}

// CountDetector raises the score to Floor when a counter exceeds Threshold.
type CountDetector struct {
	Threshold uint32  `yaml:"threshold" json:"threshold"`
	Floor     float64 `yaml:"floor" json:"floor"`
}

// BeaconDetector flags command-and-control beaconing: many outbound
// connections relative to all network activity.
type BeaconDetector struct {
	Ratio          float64 `yaml:"ratio" json:"ratio"`
	MinConnections uint32  `yaml:"min_connections" json:"min_connections"`
	Floor          float64 `yaml:"floor" json:"floor"`
}

// Detectors configures the rate and pattern detectors.
type Detectors struct {
	RansomwareRate RateDetector   `yaml:"ransomware_rate" json:"ransomware_rate"`
	ForkBomb       RateDetector   `yaml:"fork_bomb" json:"fork_bomb"`
	C2Beaconing    BeaconDetector `yaml:"c2_beaconing" json:"c2_beaconing"`
	DGA            CountDetector  `yaml:"dga" json:"dga"`
	HeapSpray      CountDetector  `yaml:"heap_spray" json:"heap_spray"`
}

// Bands are the lower bounds of the medium, high and critical score bands.
type Bands struct {
	Medium   float64 `yaml:"medium" json:"medium"`
	High     float64 `yaml:"high" json:"high"`
	Critical float64 `yaml:"critical" json:"critical"`
}

// Policy holds every tunable of the scoring engine.
type Policy struct {
	Weights Weights `yaml:"weights" json:"weights"`
	// MinContribution is the weighted contribution a category needs before
	// it is reported as a label.
	MinContribution float64              `yaml:"min_contribution" json:"min_contribution"`
	Detectors       Detectors            `yaml:"detectors" json:"detectors"`
	SignatureFloors map[Severity]float64 `yaml:"signature_floors" json:"signature_floors"`
	Bands           Bands                `yaml:"bands" json:"bands"`
	Signatures      []SignatureRule      `yaml:"signatures,omitempty" json:"signatures,omitempty"`
}

// DefaultPolicy returns the built-in scoring policy.
func DefaultPolicy() Policy {
	return Policy{
		Weights: Weights{
			PrivilegeEscalation: 0.40,
			CodeInjection:       0.30,
			Network:             0.20,
			FileOperations:      0.10,
		},
		MinContribution: 0.01,
		Detectors: Detectors{
			RansomwareRate: RateDetector{Threshold: 50, Floor: 0.6, HighThreshold: 200, HighFloor: 0.8},
			ForkBomb:       RateDetector{Threshold: 10, Floor: 0.5, HighThreshold: 50, HighFloor: 0.7},
			C2Beaconing:    BeaconDetector{Ratio: 0.3, MinConnections: 3, Floor: 0.3},
			DGA:            CountDetector{Threshold: 10, Floor: 0.3},
			HeapSpray:      CountDetector{Threshold: 20, Floor: 0.3},
		},
		SignatureFloors: map[Severity]float64{
			SeverityCritical: 0.95,
			SeverityHigh:     0.75,
			SeverityMedium:   0.45,
			SeverityLow:      0,
		},
		Bands: Bands{Medium: 0.3, High: 0.6, Critical: 0.8},
	}
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1 && !math.IsNaN(v)
}

// Validate checks weights, floors and bands.
func (p Policy) Validate() error {
	w := p.Weights
	for _, v := range []float64{w.PrivilegeEscalation, w.CodeInjection, w.Network, w.FileOperations} {
		if !inUnit(v) {
			return errors.Errorf(errors.KindValidation, "scoring: weight %v outside [0, 1]", v)
		}
	}
	if s := w.sum(); math.Abs(s-1) > 0.001 {
		return errors.Errorf(errors.KindValidation, "scoring: weights sum to %.3f, want 1", s)
	}

	d := p.Detectors
	floors := []float64{
		d.RansomwareRate.Floor, d.RansomwareRate.HighFloor,
		d.ForkBomb.Floor, d.ForkBomb.HighFloor,
		d.C2Beaconing.Floor, d.DGA.Floor, d.HeapSpray.Floor,
	}
	for _, f := range p.SignatureFloors {
		floors = append(floors, f)
	}
	for _, f := range floors {
		if !inUnit(f) {
			return errors.Errorf(errors.KindValidation, "scoring: floor %v outside [0, 1]", f)
		}
	}
	for _, rd := range []RateDetector{d.RansomwareRate, d.ForkBomb} {
		if rd.HighThreshold > 0 && rd.HighThreshold < rd.Threshold {
			return errors.New(errors.KindValidation, "scoring: high_threshold below threshold")
		}
	}

	b := p.Bands
	if !(0 < b.Medium && b.Medium < b.High && b.High < b.Critical && b.Critical <= 1) {
		return errors.Errorf(errors.KindValidation, "scoring: bands must satisfy 0 < medium < high < critical <= 1, got %v/%v/%v",
			b.Medium, b.High, b.Critical)
	}

	for _, sig := range p.Signatures {
		if err := sig.validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParsePolicy decodes a YAML policy. Fields left out keep their defaults.
func ParsePolicy(data []byte) (Policy, error) {
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, errors.Wrap(err, errors.KindValidation, "scoring: parse policy")
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// LoadPolicy reads a YAML policy file.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, errors.Wrapf(err, errors.KindNotFound, "scoring: read policy %s", path)
	}
	return ParsePolicy(data)
}
