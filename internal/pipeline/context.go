// File: internal/pipeline/context.go
package pipeline

import (
	"time"

	"github.com/xm4dn355/packguard-cli/api/schemas"
)

// AnalysisContext is the shared accumulator for one pipeline run. It carries
// the initial inputs plus every completed stage result forward. The pipeline
// is strictly sequential, so the context needs no locking: exactly one logical
// thread of control mutates it, and only by registering completed results.
type AnalysisContext struct {
	// AnalysisID uniquely identifies this run.
	AnalysisID string

	// Findings holds the observations from upstream detection. Stages append
	// their own findings to their payloads, not here; the conditional
	// triggers read both.
	Findings []schemas.Finding

	// Graph is the dependency graph. It is opaque and read-only to the
	// pipeline; stages that understand it assert the concrete type.
	Graph any

	// Packages is the full resolved package list for the target.
	Packages []schemas.Package

	// Run-level metadata.
	InputMode schemas.InputMode
	Target    string
	Ecosystem schemas.Ecosystem
	StartedAt time.Time

	stageResults map[string]*StageResult
}

// NewAnalysisContext creates the accumulator for a fresh run.
func NewAnalysisContext(analysisID string, findings []schemas.Finding, graph any, packages []schemas.Package) *AnalysisContext {
	return &AnalysisContext{
		AnalysisID:   analysisID,
		Findings:     findings,
		Graph:        graph,
		Packages:     packages,
		StartedAt:    time.Now(),
		stageResults: make(map[string]*StageResult),
	}
}

// SetStageResult registers a completed result under its stage name. Re-registering
// the same name overwrites, which only happens when a retry succeeds after an
// earlier failure within the same slot's handling.
func (ac *AnalysisContext) SetStageResult(res *StageResult) {
	if res == nil {
		return
	}
	ac.stageResults[res.StageName] = res
}

// StageResult looks up the result of a stage by name. The second return is
// false when the stage has not run.
func (ac *AnalysisContext) StageResult(name string) (*StageResult, bool) {
	res, ok := ac.stageResults[name]
	return res, ok
}

// StageSucceeded reports whether the named stage ran and succeeded.
func (ac *AnalysisContext) StageSucceeded(name string) bool {
	res, ok := ac.stageResults[name]
	return ok && res.Success
}

// StageNames returns the names of all stages registered so far, in no
// particular order.
func (ac *AnalysisContext) StageNames() []string {
	names := make([]string, 0, len(ac.stageResults))
	for name := range ac.stageResults {
		names = append(names, name)
	}
	return names
}

// results exposes the raw map to the degradation calculator and the fallback
// synthesizer within this package.
func (ac *AnalysisContext) results() map[string]*StageResult {
	return ac.stageResults
}
