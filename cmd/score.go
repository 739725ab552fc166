// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"grimm.is/sentinel/internal/sentinel"
)

// RunScore scores a BehavioralMetrics JSON snapshot offline. policyFile
// optionally replaces the built-in scoring policy.
func RunScore(metricsFile, policyFile string, asJSON bool) error {
	data, err := os.ReadFile(metricsFile)
	if err != nil {
		return fmt.Errorf("read metrics: %w", err)
	}
	var m sentinel.BehavioralMetrics
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse metrics %s: %w", metricsFile, err)
	}

	policy := sentinel.DefaultPolicy()
	if policyFile != "" {
		if policy, err = sentinel.LoadPolicy(policyFile); err != nil {
			return err
		}
	}
	svc, err := sentinel.New(policy, sentinel.DefaultVerdictConfig(), nil)
	if err != nil {
		return err
	}
	report := svc.Evaluate(sentinel.Evidence{Behavior: &m})

	if asJSON {
		return printJSON(report)
	}
	t := report.Threat
	fmt.Fprintf(Out, "score:      %.3f (%s)\n", t.Value, t.Band)
	fmt.Fprintf(Out, "level:      %s\n", paintLevel(string(report.Verdict.Level)))
	fmt.Fprintf(Out, "confidence: %.2f\n", report.Verdict.Confidence)
	if len(t.Labels) > 0 {
		fmt.Fprintf(Out, "labels:     %s\n", strings.Join(t.Labels, ", "))
	}
	c := t.Categories
	fmt.Fprintf(Out, "categories: privilege_escalation=%.2f code_injection=%.2f network=%.2f file_operations=%.2f\n",
		c.PrivilegeEscalation, c.CodeInjection, c.Network, c.FileOperations)
	if report.Verdict.Explanation != "" {
		fmt.Fprintf(Out, "%s\n", report.Verdict.Explanation)
	}
	return nil
}
