// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the sentinel daemon configuration from HCL or JSON.
package config

import (
	"sort"
	"time"

	"grimm.is/sentinel/internal/breaker"
	"grimm.is/sentinel/internal/errors"
	"grimm.is/sentinel/internal/install"
	"grimm.is/sentinel/internal/ipc"
	"grimm.is/sentinel/internal/logging"
	"grimm.is/sentinel/internal/ratelimit"
	"grimm.is/sentinel/internal/retry"
	"grimm.is/sentinel/internal/sentinel"
	"grimm.is/sentinel/internal/verdictcache"
)

// CurrentSchemaVersion is the schema version written by this build.
const CurrentSchemaVersion = "1.0"

// DefaultMaxFileSize bounds files read by scan_file (200 MiB).
const DefaultMaxFileSize = 200 << 20

// Names of the breakers and retry policies the daemon looks up.
const (
	StaticTier  = "static"
	SandboxTier = "sandbox"
	IPCClient   = "ipc"
)

// Config is the resolved daemon configuration.
type Config struct {
	SchemaVersion string
	Listen        string
	ReadTimeout   time.Duration
	LogLevel      string
	LogJSON       bool

	// ScanRoots are the directories scan_file may read from.
	ScanRoots   []string
	MaxFileSize int64

	Metrics   MetricsConfig
	Sandbox   SandboxConfig
	Breakers  map[string]breaker.Config
	Retries   map[string]RetryConfig
	RateLimit ratelimit.Limits
	Scoring   ScoringConfig
	Cache     CacheConfig
}

// MetricsConfig controls the HTTP admin endpoint.
type MetricsConfig struct {
	Enabled        bool
	Listen         string
	Runtime        bool
	ReportInterval time.Duration
}

// SandboxConfig names the external helper that runs samples. An empty
// Command disables the sandbox tier.
type SandboxConfig struct {
	Command []string
	Timeout time.Duration
}

// RetryConfig is a retry.Config plus the name of its predicate.
type RetryConfig struct {
	retry.Config
	Predicate string
}

// ScoringConfig holds the resolved threat scoring policy and the verdict weights.
type ScoringConfig struct {
	PolicyFile string
	Policy     sentinel.Policy
	Verdict    sentinel.VerdictConfig
}

// CacheConfig configures the verdict cache and its optional NATS publisher.
type CacheConfig struct {
	verdictcache.Config
	NATSURL string
	Subject string
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	sandboxRetry := retry.DefaultConfig()
	sandboxRetry.MaxAttempts = 2
	sandboxRetry.InitialDelay = 250 * time.Millisecond

	return &Config{
		SchemaVersion: CurrentSchemaVersion,
		Listen:        install.GetSocketPath(),
		ReadTimeout:   ipc.DefaultReadTimeout,
		LogLevel:      "info",
		ScanRoots:     []string{"/home", "/tmp", "/var/tmp"},
		MaxFileSize:   DefaultMaxFileSize,
		Sandbox:       SandboxConfig{Timeout: 30 * time.Second},
		Metrics: MetricsConfig{
			Enabled:        true,
			Listen:         "127.0.0.1:9464",
			ReportInterval: time.Minute,
		},
		Breakers: map[string]breaker.Config{
			StaticTier:  named(breaker.ScannerConfig(), StaticTier),
			SandboxTier: named(breaker.ScannerConfig(), SandboxTier),
			IPCClient:   named(breaker.IPCConfig(), IPCClient),
		},
		Retries: map[string]RetryConfig{
			StaticTier:  {Config: retry.DefaultConfig(), Predicate: "file_io"},
			SandboxTier: {Config: sandboxRetry, Predicate: "ipc"},
			IPCClient:   {Config: retry.DefaultConfig(), Predicate: "ipc"},
		},
		RateLimit: ratelimit.DefaultLimits(),
		Scoring: ScoringConfig{
			Policy:  sentinel.DefaultPolicy(),
			Verdict: sentinel.DefaultVerdictConfig(),
		},
		Cache: CacheConfig{
			Config:  verdictcache.Config{Size: verdictcache.DefaultSize, TTL: time.Hour},
			Subject: verdictcache.DefaultSubject,
		},
	}
}

func named(c breaker.Config, name string) breaker.Config {
	c.Name = name
	return c
}

// Breaker returns the breaker configuration for name, falling back to the
// scanner preset for unknown names.
func (c *Config) Breaker(name string) breaker.Config {
	if b, ok := c.Breakers[name]; ok {
		return b
	}
	return named(breaker.ScannerConfig(), name)
}

// Retry returns the retry configuration for name.
func (c *Config) Retry(name string) RetryConfig {
	if r, ok := c.Retries[name]; ok {
		return r
	}
	return RetryConfig{Config: retry.DefaultConfig()}
}

// RetryPolicy builds the named retry policy with its configured predicate.
func (c *Config) RetryPolicy(name string, opts ...retry.Option) (*retry.Policy, error) {
	rc := c.Retry(name)
	pred, err := retry.PredicateByName(rc.Predicate)
	if err != nil {
		return nil, errors.Attr(err, "retry", name)
	}
	all := []retry.Option{retry.WithName(name)}
	if pred != nil {
		all = append(all, retry.WithPredicate(pred))
	}
	return retry.New(rc.Config, append(all, opts...)...)
}

// BreakerNames returns the configured breaker names in sorted order.
func (c *Config) BreakerNames() []string {
	names := make([]string, 0, len(c.Breakers))
	for n := range c.Breakers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(c.LogLevel)
	lc.JSON = c.LogJSON
	return lc
}
