// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package breaker

import (
	"time"

	"grimm.is/sentinel/internal/errors"
)

const (
	// DefaultFailureThreshold is the number of consecutive failures that open the circuit.
	DefaultFailureThreshold = 5
	// DefaultTimeout is how long the circuit stays open before probing.
	DefaultTimeout = 30 * time.Second
	// DefaultSuccessThreshold is the number of consecutive half-open successes that close the circuit.
	DefaultSuccessThreshold = 2
)

// Config holds breaker thresholds.
type Config struct {
	Name             string
	FailureThreshold int
	Timeout          time.Duration
	SuccessThreshold int

	// SingleProbe admits exactly one trial call at a time while HalfOpen.
	// When false, concurrent callers may all probe during the half-open window.
	SingleProbe bool
}

// DefaultConfig returns the default thresholds (5 failures, 30s, 2 successes).
func DefaultConfig() Config {
	return Config{
		Name:             "default",
		FailureThreshold: DefaultFailureThreshold,
		Timeout:          DefaultTimeout,
		SuccessThreshold: DefaultSuccessThreshold,
	}
}

// DatabaseConfig suits local database access.
func DatabaseConfig() Config {
	return Config{Name: "database", FailureThreshold: 5, Timeout: 30 * time.Second, SuccessThreshold: 2}
}

// ScannerConfig suits scanner and sandbox tiers, which are slow to recover.
func ScannerConfig() Config {
	return Config{Name: "scanner", FailureThreshold: 3, Timeout: 60 * time.Second, SuccessThreshold: 3}
}

// IPCConfig suits local socket peers.
func IPCConfig() Config {
	return Config{Name: "ipc", FailureThreshold: 10, Timeout: 10 * time.Second, SuccessThreshold: 1}
}

// ExternalAPIConfig suits remote reputation services.
func ExternalAPIConfig() Config {
	return Config{Name: "external_api", FailureThreshold: 3, Timeout: 60 * time.Second, SuccessThreshold: 2}
}

// Preset returns a named preset configuration.
func Preset(name string) (Config, error) {
	switch name {
	case "", "default":
		return DefaultConfig(), nil
	case "database":
		return DatabaseConfig(), nil
	case "scanner":
		return ScannerConfig(), nil
	case "ipc":
		return IPCConfig(), nil
	case "external_api":
		return ExternalAPIConfig(), nil
	}
	return Config{}, errors.Errorf(errors.KindValidation, "unknown breaker preset %q", name)
}

// Validate checks that the thresholds are usable.
func (c Config) Validate() error {
	if c.FailureThreshold < 1 {
		return errors.Errorf(errors.KindValidation, "breaker %q: failure_threshold must be >= 1", c.Name)
	}
	if c.SuccessThreshold < 1 {
		return errors.Errorf(errors.KindValidation, "breaker %q: success_threshold must be >= 1", c.Name)
	}
	if c.Timeout <= 0 {
		return errors.Errorf(errors.KindValidation, "breaker %q: timeout must be positive", c.Name)
	}
	return nil
}

func (c Config) normalize() Config {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}
