// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package retry

import (
	"time"

	"grimm.is/sentinel/internal/errors"
)

// Config holds backoff parameters.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// JitterFactor scales each delay by a uniform factor in [1-j, 1+j].
	JitterFactor float64
}

// DefaultConfig returns 3 attempts starting at 100ms, doubling up to 10s, with 10% jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Validate enforces the configuration invariants.
func (c Config) Validate() error {
	switch {
	case c.MaxAttempts < 1:
		return errors.New(errors.KindValidation, "retry: max_attempts must be >= 1")
	case c.InitialDelay < 0:
		return errors.New(errors.KindValidation, "retry: initial_delay must not be negative")
	case c.InitialDelay > c.MaxDelay:
		return errors.Errorf(errors.KindValidation, "retry: initial_delay %s exceeds max_delay %s", c.InitialDelay, c.MaxDelay)
	case c.Multiplier < 1.0:
		return errors.New(errors.KindValidation, "retry: multiplier must be >= 1.0")
	case c.JitterFactor < 0 || c.JitterFactor > 1:
		return errors.New(errors.KindValidation, "retry: jitter must be within [0, 1]")
	}
	return nil
}
