// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"grimm.is/sentinel/internal/retry"
	"grimm.is/sentinel/internal/validation"
	"grimm.is/sentinel/internal/verdictcache"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

func (e *ValidationErrors) add(field string, err error) {
	if err != nil {
		*e = append(*e, ValidationError{Field: field, Message: err.Error()})
	}
}

func (e *ValidationErrors) addf(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate validates the entire configuration.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	errs.add("listen", validation.ValidateSocketPath(c.Listen))
	if c.ReadTimeout <= 0 {
		errs.addf("read_timeout", "must be positive")
	}

	for i, root := range c.ScanRoots {
		if !filepath.IsAbs(root) {
			errs.addf(fmt.Sprintf("scan_roots[%d]", i), "%q must be absolute", root)
		}
	}
	if c.MaxFileSize < 1 {
		errs.addf("max_file_size", "must be positive")
	}
	if len(c.Sandbox.Command) > 0 && c.Sandbox.Command[0] == "" {
		errs.addf("sandbox.command", "program must not be empty")
	}
	if c.Sandbox.Timeout <= 0 {
		errs.addf("sandbox.timeout", "must be positive")
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			errs.addf("metrics.listen", "invalid address %q: %v", c.Metrics.Listen, err)
		}
	}
	if c.Metrics.ReportInterval < 0 {
		errs.addf("metrics.report_interval", "must not be negative")
	}

	for _, name := range c.BreakerNames() {
		errs.add("breaker."+name, validation.ValidateIdentifier(name))
		errs.add("breaker."+name, c.Breakers[name].Validate())
	}
	for name, rc := range c.Retries {
		errs.add("retry."+name, validation.ValidateIdentifier(name))
		errs.add("retry."+name, rc.Validate())
		if _, err := retry.PredicateByName(rc.Predicate); err != nil {
			errs.add("retry."+name+".predicate", err)
		}
	}

	errs.add("rate_limit", c.RateLimit.Validate())
	errs.add("scoring", c.Scoring.Policy.Validate())
	errs.add("scoring.verdict", c.Scoring.Verdict.Validate())

	if c.Cache.Size < 1 {
		errs.addf("cache.size", "must be >= 1")
	}
	if c.Cache.TTL < 0 {
		errs.addf("cache.ttl", "must not be negative")
	}
	for i, h := range c.Cache.Allow {
		if _, err := verdictcache.NormalizeHash(h); err != nil {
			errs.add(fmt.Sprintf("cache.allow[%d]", i), err)
		}
	}
	for i, h := range c.Cache.Deny {
		if _, err := verdictcache.NormalizeHash(h); err != nil {
			errs.add(fmt.Sprintf("cache.deny[%d]", i), err)
		}
	}
	if c.Cache.NATSURL != "" && c.Cache.Subject == "" {
		errs.addf("cache.subject", "required when nats_url is set")
	} else if c.Cache.Subject != "" {
		errs.add("cache.subject", validation.ValidateSubject(c.Cache.Subject))
	}

	return errs
}
