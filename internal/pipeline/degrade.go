// File: internal/pipeline/degrade.go
package pipeline

import "strings"

// DegradationLevel summarizes how much of the pipeline completed successfully.
type DegradationLevel string

const (
	DegradationFull    DegradationLevel = "full"
	DegradationPartial DegradationLevel = "partial"
	DegradationBasic   DegradationLevel = "basic"
	DegradationMinimal DegradationLevel = "minimal"
)

// confidenceByLevel maps each level to its fixed confidence constant.
var confidenceByLevel = map[DegradationLevel]float64{
	DegradationFull:    0.95,
	DegradationPartial: 0.75,
	DegradationBasic:   0.55,
	DegradationMinimal: 0.35,
}

// Confidence returns the fixed confidence constant for the level.
func (l DegradationLevel) Confidence() float64 {
	if c, ok := confidenceByLevel[l]; ok {
		return c
	}
	return confidenceByLevel[DegradationMinimal]
}

// LevelForRate maps a success rate onto a degradation level. The 0.69
// comparison is strict: a rate of exactly 0.69 is BASIC, not PARTIAL.
func LevelForRate(successRate float64) DegradationLevel {
	switch {
	case successRate >= 1.0:
		return DegradationFull
	case successRate > 0.69:
		return DegradationPartial
	case successRate >= 0.4:
		return DegradationBasic
	default:
		return DegradationMinimal
	}
}

// ComputeLevel derives the degradation level from the context's stage-result
// map. The synthesis stage produces the report shape, not a stage-shaped
// contribution, so it never participates in the ratio. An empty map (no
// stages ran at all) is MINIMAL.
func ComputeLevel(ac *AnalysisContext) DegradationLevel {
	total := 0
	successes := 0
	for name, res := range ac.results() {
		if name == StageSynthesis {
			continue
		}
		total++
		if res.Success {
			successes++
		}
	}
	if total == 0 {
		return DegradationMinimal
	}
	return LevelForRate(float64(successes) / float64(total))
}

// stageDisplayNames maps known stage names to the labels shown to users in
// degradation reasons and the missing-analysis list.
var stageDisplayNames = map[string]string{
	StagePrimaryDetection:      "Malicious Code Detection",
	StageTrustScoring:          "Package Trust Scoring",
	StageDeepContentAnalysis:   "Deep Content Analysis",
	StageAttackPatternAnalysis: "Attack Pattern Analysis",
	StageSynthesis:             "Report Synthesis",
}

// StageDisplayName returns the user-facing label for a stage name. Unknown
// names pass through unchanged.
func StageDisplayName(name string) string {
	if label, ok := stageDisplayNames[name]; ok {
		return label
	}
	return name
}

// DegradationMetadata is the bundle injected into the final report's
// metadata section.
type DegradationMetadata struct {
	Level            DegradationLevel `json:"level"`
	Confidence       float64          `json:"confidence"`
	Reason           string           `json:"reason"`
	MissingAnalysis  []string         `json:"missing_analysis"`
	RetryRecommended bool             `json:"retry_recommended"`
}

// ComputeMetadata derives the full degradation bundle for the final report.
func ComputeMetadata(ac *AnalysisContext) DegradationMetadata {
	level := ComputeLevel(ac)

	var failed []string
	for _, name := range orderedStageNames {
		if name == StageSynthesis {
			continue
		}
		if res, ok := ac.StageResult(name); ok && !res.Success {
			failed = append(failed, name)
		}
	}

	missing := make([]string, 0, len(failed))
	for _, name := range failed {
		missing = append(missing, StageDisplayName(name))
	}

	return DegradationMetadata{
		Level:            level,
		Confidence:       level.Confidence(),
		Reason:           degradationReason(missing),
		MissingAnalysis:  missing,
		RetryRecommended: len(failed) > 0,
	}
}

// degradationReason joins failed-stage display names into a human-readable
// sentence: "X failed", "X and Y failed", "X, Y, and Z failed".
func degradationReason(failedLabels []string) string {
	switch len(failedLabels) {
	case 0:
		return "all analysis stages completed"
	case 1:
		return failedLabels[0] + " failed"
	case 2:
		return failedLabels[0] + " and " + failedLabels[1] + " failed"
	default:
		head := strings.Join(failedLabels[:len(failedLabels)-1], ", ")
		return head + ", and " + failedLabels[len(failedLabels)-1] + " failed"
	}
}
