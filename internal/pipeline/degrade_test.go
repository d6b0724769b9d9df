// File: internal/pipeline/degrade_test.go
package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// contextWithResults builds a context holding n stage results of which s are
// successes, using synthetic stage names so the ratio is exact.
func contextWithResults(successes, total int) *AnalysisContext {
	ac := NewAnalysisContext("test", nil, nil, nil)
	for i := 0; i < total; i++ {
		name := fmt.Sprintf("stage-%d", i)
		if i < successes {
			ac.SetStageResult(NewStageResult(name, true, map[string]any{"packages": []any{}}, "", time.Second, 1))
		} else {
			ac.SetStageResult(NewStageResult(name, false, nil, "boom", time.Second, 0))
		}
	}
	return ac
}

func TestComputeLevel_BoundaryTable(t *testing.T) {
	testCases := []struct {
		name       string
		successes  int
		total      int
		level      DegradationLevel
		confidence float64
	}{
		{"all succeeded", 4, 4, DegradationFull, 0.95},
		{"three quarters", 3, 4, DegradationPartial, 0.75},
		{"exactly 0.69 is BASIC not PARTIAL", 69, 100, DegradationBasic, 0.55},
		{"just above 0.69", 70, 100, DegradationPartial, 0.75},
		{"exactly 0.4", 2, 5, DegradationBasic, 0.55},
		{"below 0.4", 1, 3, DegradationMinimal, 0.35},
		{"total failure", 0, 4, DegradationMinimal, 0.35},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ac := contextWithResults(tc.successes, tc.total)
			level := ComputeLevel(ac)
			assert.Equal(t, tc.level, level)
			assert.Equal(t, tc.confidence, level.Confidence())
		})
	}
}

func TestComputeLevel_EmptyContextIsMinimal(t *testing.T) {
	ac := NewAnalysisContext("test", nil, nil, nil)
	assert.Equal(t, DegradationMinimal, ComputeLevel(ac))
}

func TestComputeLevel_SynthesisExcluded(t *testing.T) {
	ac := NewAnalysisContext("test", nil, nil, nil)
	ac.SetStageResult(NewStageResult(StagePrimaryDetection, true, map[string]any{"packages": []any{}}, "", 0, 1))
	ac.SetStageResult(NewStageResult(StageTrustScoring, true, map[string]any{"packages": []any{}}, "", 0, 1))
	// A failed synthesis must not drag the ratio below FULL.
	ac.SetStageResult(NewStageResult(StageSynthesis, false, nil, "boom", 0, 0))

	assert.Equal(t, DegradationFull, ComputeLevel(ac))
}

func TestComputeMetadata_ReasonJoining(t *testing.T) {
	t.Run("no failures", func(t *testing.T) {
		ac := NewAnalysisContext("test", nil, nil, nil)
		ac.SetStageResult(NewStageResult(StagePrimaryDetection, true, map[string]any{"packages": []any{}}, "", 0, 1))

		meta := ComputeMetadata(ac)
		assert.Equal(t, "all analysis stages completed", meta.Reason)
		assert.Empty(t, meta.MissingAnalysis)
		assert.False(t, meta.RetryRecommended)
	})

	t.Run("one failure", func(t *testing.T) {
		ac := NewAnalysisContext("test", nil, nil, nil)
		ac.SetStageResult(NewStageResult(StagePrimaryDetection, false, nil, "boom", 0, 0))

		meta := ComputeMetadata(ac)
		assert.Equal(t, "Malicious Code Detection failed", meta.Reason)
		assert.Equal(t, []string{"Malicious Code Detection"}, meta.MissingAnalysis)
		assert.True(t, meta.RetryRecommended)
	})

	t.Run("two failures", func(t *testing.T) {
		ac := NewAnalysisContext("test", nil, nil, nil)
		ac.SetStageResult(NewStageResult(StagePrimaryDetection, false, nil, "boom", 0, 0))
		ac.SetStageResult(NewStageResult(StageTrustScoring, false, nil, "boom", 0, 0))

		meta := ComputeMetadata(ac)
		assert.Equal(t, "Malicious Code Detection and Package Trust Scoring failed", meta.Reason)
	})

	t.Run("three failures use the serial comma", func(t *testing.T) {
		ac := NewAnalysisContext("test", nil, nil, nil)
		ac.SetStageResult(NewStageResult(StagePrimaryDetection, false, nil, "boom", 0, 0))
		ac.SetStageResult(NewStageResult(StageTrustScoring, false, nil, "boom", 0, 0))
		ac.SetStageResult(NewStageResult(StageDeepContentAnalysis, false, nil, "boom", 0, 0))

		meta := ComputeMetadata(ac)
		assert.Equal(t, "Malicious Code Detection, Package Trust Scoring, and Deep Content Analysis failed", meta.Reason)
	})
}

func TestStageDisplayName(t *testing.T) {
	assert.Equal(t, "Attack Pattern Analysis", StageDisplayName(StageAttackPatternAnalysis))
	assert.Equal(t, "mystery-stage", StageDisplayName("mystery-stage"))
}
