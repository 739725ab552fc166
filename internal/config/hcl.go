// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"sort"
	"time"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"grimm.is/sentinel/internal/sentinel"
)

// MarshalHCL renders the resolved config as HCL. Loading the output yields
// an equivalent Config.
func MarshalHCL(c *Config) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	body.SetAttributeValue("schema_version", cty.StringVal(c.SchemaVersion))
	body.SetAttributeValue("listen", cty.StringVal(c.Listen))
	body.SetAttributeValue("read_timeout", durationVal(c.ReadTimeout))
	body.SetAttributeValue("log_level", cty.StringVal(c.LogLevel))
	body.SetAttributeValue("log_json", cty.BoolVal(c.LogJSON))
	body.SetAttributeValue("scan_roots", stringList(c.ScanRoots))
	body.SetAttributeValue("max_file_size", cty.NumberIntVal(c.MaxFileSize))

	body.AppendNewline()
	sb := body.AppendNewBlock("sandbox", nil).Body()
	sb.SetAttributeValue("command", stringList(c.Sandbox.Command))
	sb.SetAttributeValue("timeout", durationVal(c.Sandbox.Timeout))

	body.AppendNewline()
	m := body.AppendNewBlock("metrics", nil).Body()
	m.SetAttributeValue("enabled", cty.BoolVal(c.Metrics.Enabled))
	m.SetAttributeValue("listen", cty.StringVal(c.Metrics.Listen))
	m.SetAttributeValue("runtime", cty.BoolVal(c.Metrics.Runtime))
	m.SetAttributeValue("report_interval", durationVal(c.Metrics.ReportInterval))

	for _, name := range c.BreakerNames() {
		b := c.Breakers[name]
		body.AppendNewline()
		bb := body.AppendNewBlock("breaker", []string{name}).Body()
		bb.SetAttributeValue("failure_threshold", cty.NumberIntVal(int64(b.FailureThreshold)))
		bb.SetAttributeValue("success_threshold", cty.NumberIntVal(int64(b.SuccessThreshold)))
		bb.SetAttributeValue("timeout", durationVal(b.Timeout))
		if b.SingleProbe {
			bb.SetAttributeValue("single_probe", cty.True)
		}
	}

	retries := make([]string, 0, len(c.Retries))
	for name := range c.Retries {
		retries = append(retries, name)
	}
	sort.Strings(retries)
	for _, name := range retries {
		r := c.Retries[name]
		body.AppendNewline()
		rb := body.AppendNewBlock("retry", []string{name}).Body()
		rb.SetAttributeValue("max_attempts", cty.NumberIntVal(int64(r.MaxAttempts)))
		rb.SetAttributeValue("initial_delay", durationVal(r.InitialDelay))
		rb.SetAttributeValue("max_delay", durationVal(r.MaxDelay))
		rb.SetAttributeValue("multiplier", cty.NumberFloatVal(r.Multiplier))
		rb.SetAttributeValue("jitter", cty.NumberFloatVal(r.JitterFactor))
		if r.Predicate != "" {
			rb.SetAttributeValue("predicate", cty.StringVal(r.Predicate))
		}
	}

	body.AppendNewline()
	rl := body.AppendNewBlock("rate_limit", nil).Body()
	rl.SetAttributeValue("scan_rate", cty.NumberUIntVal(c.RateLimit.ScanPerSecond))
	rl.SetAttributeValue("scan_burst", cty.NumberUIntVal(c.RateLimit.ScanBurst))
	rl.SetAttributeValue("policy_rate", cty.NumberUIntVal(c.RateLimit.PolicyPerSecond))
	rl.SetAttributeValue("policy_burst", cty.NumberUIntVal(c.RateLimit.PolicyBurst))
	rl.SetAttributeValue("max_concurrent_scans", cty.NumberIntVal(int64(c.RateLimit.MaxConcurrentScans)))

	body.AppendNewline()
	writeScoring(body.AppendNewBlock("scoring", nil).Body(), c.Scoring)

	body.AppendNewline()
	cb := body.AppendNewBlock("cache", nil).Body()
	cb.SetAttributeValue("size", cty.NumberIntVal(int64(c.Cache.Size)))
	cb.SetAttributeValue("ttl", durationVal(c.Cache.TTL))
	cb.SetAttributeValue("allow", stringList(c.Cache.Allow))
	cb.SetAttributeValue("deny", stringList(c.Cache.Deny))
	if c.Cache.NATSURL != "" {
		cb.SetAttributeValue("nats_url", cty.StringVal(c.Cache.NATSURL))
	}
	cb.SetAttributeValue("subject", cty.StringVal(c.Cache.Subject))

	return f.Bytes()
}

func writeScoring(body *hclwrite.Body, s ScoringConfig) {
	p := s.Policy
	if s.PolicyFile != "" {
		body.SetAttributeValue("policy_file", cty.StringVal(s.PolicyFile))
	}
	body.SetAttributeValue("min_contribution", cty.NumberFloatVal(p.MinContribution))

	w := body.AppendNewBlock("weights", nil).Body()
	w.SetAttributeValue("privilege_escalation", cty.NumberFloatVal(p.Weights.PrivilegeEscalation))
	w.SetAttributeValue("code_injection", cty.NumberFloatVal(p.Weights.CodeInjection))
	w.SetAttributeValue("network", cty.NumberFloatVal(p.Weights.Network))
	w.SetAttributeValue("file_operations", cty.NumberFloatVal(p.Weights.FileOperations))

	b := body.AppendNewBlock("bands", nil).Body()
	b.SetAttributeValue("medium", cty.NumberFloatVal(p.Bands.Medium))
	b.SetAttributeValue("high", cty.NumberFloatVal(p.Bands.High))
	b.SetAttributeValue("critical", cty.NumberFloatVal(p.Bands.Critical))

	fl := body.AppendNewBlock("signature_floors", nil).Body()
	for _, sev := range []sentinel.Severity{
		sentinel.SeverityCritical, sentinel.SeverityHigh, sentinel.SeverityMedium, sentinel.SeverityLow,
	} {
		if v, ok := p.SignatureFloors[sev]; ok {
			fl.SetAttributeValue(string(sev), cty.NumberFloatVal(v))
		}
	}

	v := body.AppendNewBlock("verdict", nil).Body()
	for _, d := range []sentinel.Detector{
		sentinel.DetectorSignature, sentinel.DetectorML, sentinel.DetectorBehavioral, sentinel.DetectorReputation,
	} {
		if wt, ok := s.Verdict.Weights[d]; ok {
			v.SetAttributeValue(string(d), cty.NumberFloatVal(wt))
		}
	}
	v.SetAttributeValue("clean_below", cty.NumberFloatVal(s.Verdict.CleanBelow))
	v.SetAttributeValue("suspicious_below", cty.NumberFloatVal(s.Verdict.SuspiciousBelow))
	v.SetAttributeValue("malicious_below", cty.NumberFloatVal(s.Verdict.MaliciousBelow))
}

func durationVal(d time.Duration) cty.Value {
	return cty.StringVal(d.String())
}

func stringList(ss []string) cty.Value {
	if len(ss) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	vals := make([]cty.Value, len(ss))
	for i, s := range ss {
		vals[i] = cty.StringVal(s)
	}
	return cty.ListVal(vals)
}
