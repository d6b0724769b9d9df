package schemas

import "time"

// -- Finding Schemas --

// Severity represents the severity level of a security finding. The values are
// lowercase to align with report JSON keys and database ENUMs.
type Severity string

// Constants defining the standard severity levels for findings.
const (
	SeverityCritical Severity = "critical" // Requires immediate action.
	SeverityHigh     Severity = "high"     // High-impact finding.
	SeverityMedium   Severity = "medium"   // Moderate-impact finding.
	SeverityLow      Severity = "low"      // Low-impact finding.
)

// FindingType categorizes what kind of supply-chain observation a finding is.
type FindingType string

// Constants for the recognized finding types. Detection stages may emit other
// values; the pipeline treats the type as an opaque tag except where the
// deep-content-analysis trigger consults the suspicious subset.
const (
	FindingVulnerability    FindingType = "vulnerability"     // Known CVE/OSV advisory match.
	FindingObfuscatedCode   FindingType = "obfuscated_code"   // Heavily obfuscated source.
	FindingSuspiciousScript FindingType = "suspicious_script" // Suspicious install/lifecycle script.
	FindingMaliciousCode    FindingType = "malicious_code"    // Confirmed malicious behavior.
	FindingCryptoMiner      FindingType = "crypto_miner"      // Embedded mining payload.
	FindingDataExfiltration FindingType = "data_exfiltration" // Data leaving the build host.
	FindingTyposquat        FindingType = "typosquat"         // Name confusion with a popular package.
	FindingLowTrust         FindingType = "low_trust"         // Registry/repo trust heuristics failed.
)

// DetectionMethod records how a finding was produced.
type DetectionMethod string

const (
	// DetectionRuleBased marks findings produced by deterministic rules and
	// threat-intelligence lookups.
	DetectionRuleBased DetectionMethod = "rule_based"
	// DetectionAgentAnalysis marks findings produced by LLM-backed analysis.
	DetectionAgentAnalysis DetectionMethod = "agent_analysis"
)

// Finding encapsulates a single security observation about one package. A
// Finding is created once by a detection stage and never mutated afterwards;
// everything downstream (aggregation, reporting, persistence) treats it as a
// value.
type Finding struct {
	PackageName    string      `json:"package_name"`    // Name of the affected package.
	PackageVersion string      `json:"package_version"` // Resolved version that was analyzed.
	Type           FindingType `json:"type"`            // What kind of observation this is.
	Severity       Severity    `json:"severity"`        // Assessed severity.
	Description    string      `json:"description"`     // Human-readable explanation.

	// DetectionMethod distinguishes rule-based results from agent analysis so
	// report consumers can weigh them differently.
	DetectionMethod DetectionMethod `json:"detection_method"`

	// Confidence is the detector's own confidence in [0, 1]. This is distinct
	// from the pipeline-level confidence derived from degradation.
	Confidence float64 `json:"confidence"`

	// Evidence carries structured, machine-readable proof (matched patterns,
	// advisory IDs, source excerpts). Opaque to the pipeline.
	Evidence map[string]any `json:"evidence,omitempty"`

	Remediation string    `json:"remediation,omitempty"` // Suggested fix, if any.
	ObservedAt  time.Time `json:"observed_at"`           // When the finding was made.
}

// SuspiciousFindingTypes is the fixed set of finding types that trigger the
// deep-content-analysis stage.
var SuspiciousFindingTypes = map[FindingType]bool{
	FindingObfuscatedCode:   true,
	FindingSuspiciousScript: true,
	FindingMaliciousCode:    true,
	FindingCryptoMiner:      true,
	FindingDataExfiltration: true,
}

// IsSuspicious reports whether the finding's type belongs to the set that
// warrants deep content analysis.
func (f Finding) IsSuspicious() bool {
	return SuspiciousFindingTypes[f.Type]
}
