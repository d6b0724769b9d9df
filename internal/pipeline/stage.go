// File: internal/pipeline/stage.go
package pipeline

import (
	"context"
	"strings"
	"time"
)

// StageStatus is the terminal status of one stage execution.
type StageStatus string

const (
	StatusSuccess StageStatus = "success"
	StatusFailed  StageStatus = "failed"
	StatusTimeout StageStatus = "timeout"
	// StatusSkipped is never auto-derived; it is set explicitly for optional
	// stages that fell back after a terminal failure.
	StatusSkipped StageStatus = "skipped"
)

// StageResult is the outcome of one stage execution. It is created once per
// attempt and immutable afterwards; the AnalysisContext that stores it owns
// it.
type StageResult struct {
	StageName  string         `json:"stage_name"`
	Success    bool           `json:"success"`
	Data       map[string]any `json:"data"`
	Error      string         `json:"error,omitempty"`
	Duration   time.Duration  `json:"duration"`
	Status     StageStatus    `json:"status"`
	Confidence float64        `json:"confidence"`
}

// NewStageResult constructs a StageResult, enforcing the model invariants:
// confidence is clamped into [0, 1], a failed result without an error message
// gets a default one, and the status is derived from the success flag and the
// error content. Use NewSkippedResult when the status must be SKIPPED.
func NewStageResult(stageName string, success bool, data map[string]any, errMsg string, duration time.Duration, confidence float64) *StageResult {
	if !success && errMsg == "" {
		errMsg = "Unknown error occurred"
	}

	status := StatusSuccess
	if !success {
		status = StatusFailed
		if strings.Contains(strings.ToLower(errMsg), "timeout") {
			status = StatusTimeout
		}
	}

	return &StageResult{
		StageName:  stageName,
		Success:    success,
		Data:       data,
		Error:      errMsg,
		Duration:   duration,
		Status:     status,
		Confidence: clampConfidence(confidence),
	}
}

// NewSkippedResult constructs the explicit SKIPPED result used when an
// optional stage fell back after a terminal failure. Skipped is never derived
// automatically.
func NewSkippedResult(stageName string, data map[string]any, errMsg string, duration time.Duration) *StageResult {
	return &StageResult{
		StageName: stageName,
		Success:   false,
		Data:      data,
		Error:     errMsg,
		Duration:  duration,
		Status:    StatusSkipped,
	}
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// StageConfig is the static per-stage policy, loaded once at orchestrator
// construction and never mutated.
type StageConfig struct {
	Name       string
	Timeout    time.Duration
	Required   bool
	MaxRetries int
	BaseDelay  time.Duration
}

// StageFunc is the stage-executable contract. Implementations receive the
// shared context and a deadline-bound ctx; the orchestrator enforces the
// configured timeout at this boundary. The returned payload must contain a
// "packages" key (see the validation gate); anything richer is opaque to the
// pipeline.
type StageFunc func(ctx context.Context, ac *AnalysisContext) (map[string]any, error)

// Registry maps stage names to their executables. A slot whose name is absent
// from the registry fails with an UNKNOWN-classified error instead of
// aborting the run.
type Registry map[string]StageFunc
