// File: internal/pipeline/protocol.go
package pipeline

import (
	"time"

	"github.com/xm4dn355/packguard-cli/api/schemas"
)

// The fixed five-stage protocol. Slots execute strictly in this order; the
// two optional stages run only when their predicates fire.
const (
	StagePrimaryDetection      = "primary-detection"
	StageTrustScoring          = "trust-scoring"
	StageDeepContentAnalysis   = "deep-content-analysis"
	StageAttackPatternAnalysis = "attack-pattern-analysis"
	StageSynthesis             = "synthesis"
)

// orderedStageNames fixes the registration order used for execution and for
// deterministic reason strings.
var orderedStageNames = []string{
	StagePrimaryDetection,
	StageTrustScoring,
	StageDeepContentAnalysis,
	StageAttackPatternAnalysis,
	StageSynthesis,
}

// LowTrustThreshold is the trust score below which a package triggers
// attack-pattern analysis.
const LowTrustThreshold = 0.3

// Slot pairs a stage's static policy with its optional run predicate. A nil
// predicate means the stage runs unconditionally.
type Slot struct {
	Config    StageConfig
	Predicate func(*AnalysisContext) bool
}

// DefaultSlots builds the fixed protocol from already-resolved per-stage
// policies. Missing entries get conservative defaults so a sparse
// configuration still yields a complete pipeline.
func DefaultSlots(settings map[string]StageConfig) []Slot {
	cfg := func(name string, required bool, fallback StageConfig) StageConfig {
		s, ok := settings[name]
		if !ok {
			s = fallback
		}
		s.Name = name
		s.Required = required
		return s
	}

	def := StageConfig{Timeout: 60 * time.Second, MaxRetries: 1, BaseDelay: 2 * time.Second}

	return []Slot{
		{Config: cfg(StagePrimaryDetection, true, def)},
		{Config: cfg(StageTrustScoring, true, def)},
		{Config: cfg(StageDeepContentAnalysis, false, def), Predicate: HasSuspiciousFindings},
		{Config: cfg(StageAttackPatternAnalysis, false, def), Predicate: HasLowTrustPackages},
		{Config: cfg(StageSynthesis, true, def)},
	}
}

// HasSuspiciousFindings is the deep-content-analysis trigger: true when any
// finding accumulated so far has a type in the suspicious set. Both the
// upstream findings list and findings emitted by completed stages count.
func HasSuspiciousFindings(ac *AnalysisContext) bool {
	for _, f := range ac.Findings {
		if f.IsSuspicious() {
			return true
		}
	}
	for _, res := range ac.results() {
		if !res.Success {
			continue
		}
		findings, ok := res.Data["findings"].([]schemas.Finding)
		if !ok {
			continue
		}
		for _, f := range findings {
			if f.IsSuspicious() {
				return true
			}
		}
	}
	return false
}

// HasLowTrustPackages is the attack-pattern-analysis trigger: true when trust
// scoring succeeded and any scored package fell below LowTrustThreshold. The
// score is read from the trust stage's payload, never recomputed.
func HasLowTrustPackages(ac *AnalysisContext) bool {
	if !ac.StageSucceeded(StageTrustScoring) {
		return false
	}
	res, _ := ac.StageResult(StageTrustScoring)

	pkgs, ok := res.Data["packages"].([]map[string]any)
	if !ok {
		// Payloads that round-tripped through JSON decode as []any.
		raw, ok := res.Data["packages"].([]any)
		if !ok {
			return false
		}
		pkgs = make([]map[string]any, 0, len(raw))
		for _, item := range raw {
			if m, ok := item.(map[string]any); ok {
				pkgs = append(pkgs, m)
			}
		}
	}

	for _, pkg := range pkgs {
		if score, ok := pkg["trust_score"].(float64); ok && score < LowTrustThreshold {
			return true
		}
	}
	return false
}
