// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sentinel

import (
	"bytes"
	"context"
	"encoding/hex"

	"grimm.is/sentinel/internal/errors"
)

// EICARTestString is the industry anti-virus test file content.
const EICARTestString = `X5O!P%@AP[4\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*`

// SignatureRule matches a byte pattern anywhere in a sample. Exactly one of
// Pattern (literal text) or Hex must be set.
type SignatureRule struct {
	Name     string   `yaml:"name" json:"name"`
	Severity Severity `yaml:"severity" json:"severity"`
	Pattern  string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Hex      string   `yaml:"hex,omitempty" json:"hex,omitempty"`
}

func (r SignatureRule) validate() error {
	if r.Name == "" {
		return errors.New(errors.KindValidation, "signature: rule has no name")
	}
	switch r.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return errors.Errorf(errors.KindValidation, "signature %q: unknown severity %q", r.Name, r.Severity)
	}
	if (r.Pattern == "") == (r.Hex == "") {
		return errors.Errorf(errors.KindValidation, "signature %q: set exactly one of pattern or hex", r.Name)
	}
	if r.Hex != "" {
		if _, err := hex.DecodeString(r.Hex); err != nil {
			return errors.Wrapf(err, errors.KindValidation, "signature %q: bad hex", r.Name)
		}
	}
	return nil
}

func (r SignatureRule) bytes() []byte {
	if r.Hex != "" {
		b, _ := hex.DecodeString(r.Hex)
		return b
	}
	return []byte(r.Pattern)
}

// DefaultSignatures returns the built-in rule set.
func DefaultSignatures() []SignatureRule {
	return []SignatureRule{
		{Name: "eicar-test-file", Severity: SeverityCritical, Pattern: EICARTestString},
	}
}

type compiledRule struct {
	name     string
	severity Severity
	needle   []byte
}

// SignatureScanner is the built-in static tier: literal byte signatures
// searched across the whole sample.
type SignatureScanner struct {
	rules []compiledRule
}

// NewSignatureScanner compiles rules. With no rules it uses DefaultSignatures.
func NewSignatureScanner(rules ...SignatureRule) (*SignatureScanner, error) {
	if len(rules) == 0 {
		rules = DefaultSignatures()
	}
	s := &SignatureScanner{}
	for _, r := range rules {
		if err := r.validate(); err != nil {
			return nil, err
		}
		s.rules = append(s.rules, compiledRule{name: r.Name, severity: r.Severity, needle: r.bytes()})
	}
	return s, nil
}

// Scan reports the first offset of every rule found in data.
func (s *SignatureScanner) Scan(ctx context.Context, data []byte, filename string) (*StaticResult, error) {
	res := &StaticResult{Matches: []SignatureMatch{}}
	for _, r := range s.rules {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.KindTimeout, "signature scan cancelled")
		}
		if off := bytes.Index(data, r.needle); off >= 0 {
			res.Matches = append(res.Matches, SignatureMatch{Rule: r.name, Severity: r.severity, Offset: off})
		}
	}
	return res, nil
}

// Rules returns the number of compiled rules.
func (s *SignatureScanner) Rules() int {
	return len(s.rules)
}
