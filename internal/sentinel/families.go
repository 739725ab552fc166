// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sentinel

// Family is a malware family whose behavioral shape a run matches.
// Families are reported as labels and never change the score.
type Family string

const (
	FamilyRansomware      Family = "ransomware"
	FamilyKeylogger       Family = "keylogger"
	FamilyRootkit         Family = "rootkit"
	FamilyCryptominer     Family = "cryptominer"
	FamilyProcessInjector Family = "process-injector"
)

const familyLabelPrefix = "family:"

var familyMatchers = []struct {
	family Family
	match  func(*BehavioralMetrics) bool
}{
	{FamilyRansomware, isRansomware},
	{FamilyKeylogger, isKeylogger},
	{FamilyRootkit, isRootkit},
	{FamilyCryptominer, isCryptominer},
	{FamilyProcessInjector, isProcessInjector},
}

// Families returns every family m matches, in a fixed order.
func Families(m *BehavioralMetrics) []Family {
	var out []Family
	for _, fm := range familyMatchers {
		if fm.match(m) {
			out = append(out, fm.family)
		}
	}
	return out
}

// Bulk file rewriting plus a staging or exfiltration indicator.
func isRansomware(m *BehavioralMetrics) bool {
	if m.FileOperations <= 50 {
		return false
	}
	return m.FileOperations > 100 ||
		m.ExecutableDrops > 0 ||
		m.TempFileCreates > 5 ||
		m.OutboundConnections > 0
}

// Needs at least two of: moderate file logging, hidden output,
// exfiltration, persistence.
func isKeylogger(m *BehavioralMetrics) bool {
	indicators := 0
	for _, ok := range []bool{
		m.FileOperations > 10 && m.FileOperations < 100,
		m.HiddenFileCreates > 0,
		m.OutboundConnections > 0 && m.NetworkOperations > 5,
		m.PersistenceMechanisms > 0,
	} {
		if ok {
			indicators++
		}
	}
	return indicators >= 2
}

func isRootkit(m *BehavioralMetrics) bool {
	return m.PrivilegeEscalationAttempts > 0 ||
		(m.FileOperations > 20 && m.ProcessOperations > 3) ||
		(m.MemoryOperations > 10 && m.CodeInjectionAttempts > 0) ||
		m.ServiceModifications > 0
}

// Pool beaconing plus sustained compute.
func isCryptominer(m *BehavioralMetrics) bool {
	beaconing := m.NetworkOperations > 10 && m.OutboundConnections > 5
	intensive := m.MemoryOperations > 20 || m.ProcessOperations > 5 || m.PersistenceMechanisms > 0
	return beaconing && intensive
}

func isProcessInjector(m *BehavioralMetrics) bool {
	return m.CodeInjectionAttempts > 0 ||
		(m.MemoryOperations > 10 && m.ProcessOperations > 3) ||
		(m.SelfModificationAttempts > 0 && m.ProcessOperations > 0)
}
