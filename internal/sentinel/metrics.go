// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sentinel

import (
	"encoding/json"
	"time"
)

// BehavioralMetrics is one sandbox run's operation counters. Sandboxes
// produce it; scoring only reads it.
type BehavioralMetrics struct {
	// File system
	FileOperations    uint32 `json:"file_operations" yaml:"file_operations"`
	TempFileCreates   uint32 `json:"temp_file_creates" yaml:"temp_file_creates"`
	HiddenFileCreates uint32 `json:"hidden_file_creates" yaml:"hidden_file_creates"`
	ExecutableDrops   uint32 `json:"executable_drops" yaml:"executable_drops"`

	// Process and execution
	ProcessOperations        uint32 `json:"process_operations" yaml:"process_operations"`
	SelfModificationAttempts uint32 `json:"self_modification_attempts" yaml:"self_modification_attempts"`
	PersistenceMechanisms    uint32 `json:"persistence_mechanisms" yaml:"persistence_mechanisms"`

	// Network
	NetworkOperations   uint32 `json:"network_operations" yaml:"network_operations"`
	OutboundConnections uint32 `json:"outbound_connections" yaml:"outbound_connections"`
	DNSQueries          uint32 `json:"dns_queries" yaml:"dns_queries"`
	HTTPRequests        uint32 `json:"http_requests" yaml:"http_requests"`

	// System
	RegistryOperations          uint32 `json:"registry_operations" yaml:"registry_operations"`
	ServiceModifications        uint32 `json:"service_modifications" yaml:"service_modifications"`
	PrivilegeEscalationAttempts uint32 `json:"privilege_escalation_attempts" yaml:"privilege_escalation_attempts"`

	// Memory
	MemoryOperations      uint32 `json:"memory_operations" yaml:"memory_operations"`
	CodeInjectionAttempts uint32 `json:"code_injection_attempts" yaml:"code_injection_attempts"`

	ExecutionTime time.Duration `json:"-" yaml:"-"`
	TimedOut      bool          `json:"timed_out" yaml:"timed_out"`
	ExitCode      int32         `json:"exit_code" yaml:"exit_code"`
}

// executionSeconds is the rate denominator, never below one second.
func (m *BehavioralMetrics) executionSeconds() float64 {
	return max(1.0, m.ExecutionTime.Seconds())
}

type behavioralMetricsJSON struct {
	ExecutionTimeMS int64 `json:"execution_time_ms"`
	*behavioralMetricsAlias
}

type behavioralMetricsAlias BehavioralMetrics

// MarshalJSON encodes ExecutionTime as milliseconds.
func (m BehavioralMetrics) MarshalJSON() ([]byte, error) {
	alias := behavioralMetricsAlias(m)
	return json.Marshal(behavioralMetricsJSON{
		ExecutionTimeMS:        m.ExecutionTime.Milliseconds(),
		behavioralMetricsAlias: &alias,
	})
}

// UnmarshalJSON decodes execution_time_ms into ExecutionTime.
func (m *BehavioralMetrics) UnmarshalJSON(data []byte) error {
	aux := behavioralMetricsJSON{behavioralMetricsAlias: (*behavioralMetricsAlias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.ExecutionTime = time.Duration(aux.ExecutionTimeMS) * time.Millisecond
	return nil
}

// Severity grades a static signature.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SignatureMatch is one static rule hit.
type SignatureMatch struct {
	Rule     string   `json:"rule" yaml:"rule"`
	Severity Severity `json:"severity" yaml:"severity"`
	Offset   int      `json:"offset,omitempty" yaml:"offset,omitempty"`
}

// StaticResult is the output of the static (signature) tier.
type StaticResult struct {
	Matches []SignatureMatch `json:"matches"`
}
