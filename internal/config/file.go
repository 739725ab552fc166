// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"path/filepath"
	"time"

	"grimm.is/sentinel/internal/breaker"
	"grimm.is/sentinel/internal/errors"
	"grimm.is/sentinel/internal/sentinel"
)

// File is the on-disk shape of a config. Every setting is optional; anything
// left out keeps its value from DefaultConfig.
type File struct {
	SchemaVersion *string  `hcl:"schema_version,optional" json:"schema_version,omitempty"`
	Listen        *string  `hcl:"listen,optional" json:"listen,omitempty"`
	ReadTimeout   *string  `hcl:"read_timeout,optional" json:"read_timeout,omitempty"`
	LogLevel      *string  `hcl:"log_level,optional" json:"log_level,omitempty"`
	LogJSON       *bool    `hcl:"log_json,optional" json:"log_json,omitempty"`
	ScanRoots     []string `hcl:"scan_roots,optional" json:"scan_roots,omitempty"`
	MaxFileSize   *int64   `hcl:"max_file_size,optional" json:"max_file_size,omitempty"`

	Metrics   *MetricsBlock   `hcl:"metrics,block" json:"metrics,omitempty"`
	Sandbox   *SandboxBlock   `hcl:"sandbox,block" json:"sandbox,omitempty"`
	Breakers  []BreakerBlock  `hcl:"breaker,block" json:"breakers,omitempty"`
	Retries   []RetryBlock    `hcl:"retry,block" json:"retries,omitempty"`
	RateLimit *RateLimitBlock `hcl:"rate_limit,block" json:"rate_limit,omitempty"`
	Scoring   *ScoringBlock   `hcl:"scoring,block" json:"scoring,omitempty"`
	Cache     *CacheBlock     `hcl:"cache,block" json:"cache,omitempty"`
}

type MetricsBlock struct {
	Enabled        *bool   `hcl:"enabled,optional" json:"enabled,omitempty"`
	Listen         *string `hcl:"listen,optional" json:"listen,omitempty"`
	Runtime        *bool   `hcl:"runtime,optional" json:"runtime,omitempty"`
	ReportInterval *string `hcl:"report_interval,optional" json:"report_interval,omitempty"`
}

type SandboxBlock struct {
	Command []string `hcl:"command,optional" json:"command,omitempty"`
	Timeout *string  `hcl:"timeout,optional" json:"timeout,omitempty"`
}

// BreakerBlock configures one named breaker. Preset selects the starting
// thresholds; explicit fields override them.
type BreakerBlock struct {
	Name             string  `hcl:"name,label" json:"name"`
	Preset           *string `hcl:"preset,optional" json:"preset,omitempty"`
	FailureThreshold *int    `hcl:"failure_threshold,optional" json:"failure_threshold,omitempty"`
	SuccessThreshold *int    `hcl:"success_threshold,optional" json:"success_threshold,omitempty"`
	Timeout          *string `hcl:"timeout,optional" json:"timeout,omitempty"`
	SingleProbe      *bool   `hcl:"single_probe,optional" json:"single_probe,omitempty"`
}

type RetryBlock struct {
	Name         string   `hcl:"name,label" json:"name"`
	MaxAttempts  *int     `hcl:"max_attempts,optional" json:"max_attempts,omitempty"`
	InitialDelay *string  `hcl:"initial_delay,optional" json:"initial_delay,omitempty"`
	MaxDelay     *string  `hcl:"max_delay,optional" json:"max_delay,omitempty"`
	Multiplier   *float64 `hcl:"multiplier,optional" json:"multiplier,omitempty"`
	Jitter       *float64 `hcl:"jitter,optional" json:"jitter,omitempty"`
	Predicate    *string  `hcl:"predicate,optional" json:"predicate,omitempty"`
}

type RateLimitBlock struct {
	ScanRate           *int `hcl:"scan_rate,optional" json:"scan_rate,omitempty"`
	ScanBurst          *int `hcl:"scan_burst,optional" json:"scan_burst,omitempty"`
	PolicyRate         *int `hcl:"policy_rate,optional" json:"policy_rate,omitempty"`
	PolicyBurst        *int `hcl:"policy_burst,optional" json:"policy_burst,omitempty"`
	MaxConcurrentScans *int `hcl:"max_concurrent_scans,optional" json:"max_concurrent_scans,omitempty"`
}

// ScoringBlock overrides parts of the scoring policy. PolicyFile, when set,
// is a YAML policy loaded first; the remaining fields are applied on top.
type ScoringBlock struct {
	PolicyFile      *string       `hcl:"policy_file,optional" json:"policy_file,omitempty"`
	MinContribution *float64      `hcl:"min_contribution,optional" json:"min_contribution,omitempty"`
	Weights         *WeightsBlock `hcl:"weights,block" json:"weights,omitempty"`
	Bands           *BandsBlock   `hcl:"bands,block" json:"bands,omitempty"`
	Floors          *FloorsBlock  `hcl:"signature_floors,block" json:"signature_floors,omitempty"`
	Verdict         *VerdictBlock `hcl:"verdict,block" json:"verdict,omitempty"`
}

type WeightsBlock struct {
	PrivilegeEscalation *float64 `hcl:"privilege_escalation,optional" json:"privilege_escalation,omitempty"`
	CodeInjection       *float64 `hcl:"code_injection,optional" json:"code_injection,omitempty"`
	Network             *float64 `hcl:"network,optional" json:"network,omitempty"`
	FileOperations      *float64 `hcl:"file_operations,optional" json:"file_operations,omitempty"`
}

type BandsBlock struct {
	Medium   *float64 `hcl:"medium,optional" json:"medium,omitempty"`
	High     *float64 `hcl:"high,optional" json:"high,omitempty"`
	Critical *float64 `hcl:"critical,optional" json:"critical,omitempty"`
}

type FloorsBlock struct {
	Critical *float64 `hcl:"critical,optional" json:"critical,omitempty"`
	High     *float64 `hcl:"high,optional" json:"high,omitempty"`
	Medium   *float64 `hcl:"medium,optional" json:"medium,omitempty"`
	Low      *float64 `hcl:"low,optional" json:"low,omitempty"`
}

type VerdictBlock struct {
	Signature       *float64 `hcl:"signature,optional" json:"signature,omitempty"`
	ML              *float64 `hcl:"ml,optional" json:"ml,omitempty"`
	Behavioral      *float64 `hcl:"behavioral,optional" json:"behavioral,omitempty"`
	Reputation      *float64 `hcl:"reputation,optional" json:"reputation,omitempty"`
	CleanBelow      *float64 `hcl:"clean_below,optional" json:"clean_below,omitempty"`
	SuspiciousBelow *float64 `hcl:"suspicious_below,optional" json:"suspicious_below,omitempty"`
	MaliciousBelow  *float64 `hcl:"malicious_below,optional" json:"malicious_below,omitempty"`
}

type CacheBlock struct {
	Size    *int     `hcl:"size,optional" json:"size,omitempty"`
	TTL     *string  `hcl:"ttl,optional" json:"ttl,omitempty"`
	Allow   []string `hcl:"allow,optional" json:"allow,omitempty"`
	Deny    []string `hcl:"deny,optional" json:"deny,omitempty"`
	NATSURL *string  `hcl:"nats_url,optional" json:"nats_url,omitempty"`
	Subject *string  `hcl:"subject,optional" json:"subject,omitempty"`
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setUint(dst *uint64, v *int, field string) error {
	if v == nil {
		return nil
	}
	if *v < 0 {
		return errors.Errorf(errors.KindValidation, "%s must not be negative", field)
	}
	*dst = uint64(*v)
	return nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, field string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return errors.Wrapf(err, errors.KindValidation, "%s: invalid duration %q", field, *v)
	}
	*dst = d
	return nil
}

// apply merges the file onto cfg. baseDir resolves a relative policy_file.
func (f *File) apply(cfg *Config, baseDir string) error {
	setString(&cfg.SchemaVersion, f.SchemaVersion)
	setString(&cfg.Listen, f.Listen)
	setString(&cfg.LogLevel, f.LogLevel)
	setBool(&cfg.LogJSON, f.LogJSON)
	if err := setDuration(&cfg.ReadTimeout, f.ReadTimeout, "read_timeout"); err != nil {
		return err
	}

	if f.ScanRoots != nil {
		cfg.ScanRoots = f.ScanRoots
	}
	if f.MaxFileSize != nil {
		cfg.MaxFileSize = *f.MaxFileSize
	}

	if sb := f.Sandbox; sb != nil {
		if sb.Command != nil {
			cfg.Sandbox.Command = sb.Command
		}
		if err := setDuration(&cfg.Sandbox.Timeout, sb.Timeout, "sandbox.timeout"); err != nil {
			return err
		}
	}

	if m := f.Metrics; m != nil {
		setBool(&cfg.Metrics.Enabled, m.Enabled)
		setString(&cfg.Metrics.Listen, m.Listen)
		setBool(&cfg.Metrics.Runtime, m.Runtime)
		if err := setDuration(&cfg.Metrics.ReportInterval, m.ReportInterval, "metrics.report_interval"); err != nil {
			return err
		}
	}

	for _, b := range f.Breakers {
		if err := b.apply(cfg); err != nil {
			return err
		}
	}
	for _, r := range f.Retries {
		if err := r.apply(cfg); err != nil {
			return err
		}
	}

	if rl := f.RateLimit; rl != nil {
		lim := &cfg.RateLimit
		for _, err := range []error{
			setUint(&lim.ScanPerSecond, rl.ScanRate, "rate_limit.scan_rate"),
			setUint(&lim.ScanBurst, rl.ScanBurst, "rate_limit.scan_burst"),
			setUint(&lim.PolicyPerSecond, rl.PolicyRate, "rate_limit.policy_rate"),
			setUint(&lim.PolicyBurst, rl.PolicyBurst, "rate_limit.policy_burst"),
		} {
			if err != nil {
				return err
			}
		}
		setInt(&lim.MaxConcurrentScans, rl.MaxConcurrentScans)
	}

	if s := f.Scoring; s != nil {
		if err := s.apply(&cfg.Scoring, baseDir); err != nil {
			return err
		}
	}

	if c := f.Cache; c != nil {
		setInt(&cfg.Cache.Size, c.Size)
		if err := setDuration(&cfg.Cache.TTL, c.TTL, "cache.ttl"); err != nil {
			return err
		}
		if c.Allow != nil {
			cfg.Cache.Allow = c.Allow
		}
		if c.Deny != nil {
			cfg.Cache.Deny = c.Deny
		}
		setString(&cfg.Cache.NATSURL, c.NATSURL)
		setString(&cfg.Cache.Subject, c.Subject)
	}
	return nil
}

func (b BreakerBlock) apply(cfg *Config) error {
	if b.Name == "" {
		return errors.New(errors.KindValidation, "breaker block needs a name")
	}
	bc := cfg.Breaker(b.Name)
	if b.Preset != nil {
		p, err := breaker.Preset(*b.Preset)
		if err != nil {
			return err
		}
		bc = p
	}
	bc.Name = b.Name
	setInt(&bc.FailureThreshold, b.FailureThreshold)
	setInt(&bc.SuccessThreshold, b.SuccessThreshold)
	setBool(&bc.SingleProbe, b.SingleProbe)
	if err := setDuration(&bc.Timeout, b.Timeout, "breaker."+b.Name+".timeout"); err != nil {
		return err
	}
	cfg.Breakers[b.Name] = bc
	return nil
}

func (r RetryBlock) apply(cfg *Config) error {
	if r.Name == "" {
		return errors.New(errors.KindValidation, "retry block needs a name")
	}
	rc := cfg.Retry(r.Name)
	setInt(&rc.MaxAttempts, r.MaxAttempts)
	setFloat(&rc.Multiplier, r.Multiplier)
	setFloat(&rc.JitterFactor, r.Jitter)
	setString(&rc.Predicate, r.Predicate)
	if err := setDuration(&rc.InitialDelay, r.InitialDelay, "retry."+r.Name+".initial_delay"); err != nil {
		return err
	}
	if err := setDuration(&rc.MaxDelay, r.MaxDelay, "retry."+r.Name+".max_delay"); err != nil {
		return err
	}
	cfg.Retries[r.Name] = rc
	return nil
}

func (s *ScoringBlock) apply(sc *ScoringConfig, baseDir string) error {
	if s.PolicyFile != nil {
		path := *s.PolicyFile
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		p, err := sentinel.LoadPolicy(path)
		if err != nil {
			return err
		}
		sc.PolicyFile = path
		sc.Policy = p
	}

	p := &sc.Policy
	setFloat(&p.MinContribution, s.MinContribution)
	if w := s.Weights; w != nil {
		setFloat(&p.Weights.PrivilegeEscalation, w.PrivilegeEscalation)
		setFloat(&p.Weights.CodeInjection, w.CodeInjection)
		setFloat(&p.Weights.Network, w.Network)
		setFloat(&p.Weights.FileOperations, w.FileOperations)
	}
	if b := s.Bands; b != nil {
		setFloat(&p.Bands.Medium, b.Medium)
		setFloat(&p.Bands.High, b.High)
		setFloat(&p.Bands.Critical, b.Critical)
	}
	if fl := s.Floors; fl != nil {
		floors := make(map[sentinel.Severity]float64, len(p.SignatureFloors))
		for k, v := range p.SignatureFloors {
			floors[k] = v
		}
		for sev, v := range map[sentinel.Severity]*float64{
			sentinel.SeverityCritical: fl.Critical,
			sentinel.SeverityHigh:     fl.High,
			sentinel.SeverityMedium:   fl.Medium,
			sentinel.SeverityLow:      fl.Low,
		} {
			if v != nil {
				floors[sev] = *v
			}
		}
		p.SignatureFloors = floors
	}

	if v := s.Verdict; v != nil {
		vc := &sc.Verdict
		weights := make(map[sentinel.Detector]float64, len(vc.Weights))
		for k, w := range vc.Weights {
			weights[k] = w
		}
		for d, w := range map[sentinel.Detector]*float64{
			sentinel.DetectorSignature:  v.Signature,
			sentinel.DetectorML:         v.ML,
			sentinel.DetectorBehavioral: v.Behavioral,
			sentinel.DetectorReputation: v.Reputation,
		} {
			if w != nil {
				weights[d] = *w
			}
		}
		vc.Weights = weights
		setFloat(&vc.CleanBelow, v.CleanBelow)
		setFloat(&vc.SuspiciousBelow, v.SuspiciousBelow)
		setFloat(&vc.MaliciousBelow, v.MaliciousBelow)
	}
	return nil
}
