// File: internal/pipeline/orchestrator.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Orchestrator drives the fixed sequential/conditional protocol over one
// AnalysisContext: required stages unconditionally, optional stages by
// predicate, each under its slot's timeout and retry policy, with fallback
// substitution on terminal failure. A run always produces a complete report;
// total failure surfaces as MINIMAL degradation, never as an error.
type Orchestrator struct {
	slots    []Slot
	registry Registry
	logger   *zap.Logger

	// budget is the soft wall-clock guideline for the whole run. Logged and
	// reported, never enforced mid-stage.
	budget time.Duration

	// sleep and now are injected so retry/backoff tests run instantly.
	sleep func(time.Duration)
	now   func() time.Time

	errorLog []ErrorLogEntry
}

// New constructs an orchestrator over the given slots and stage registry. The
// logger is injected rather than pulled from a global so the pipeline is
// testable in isolation.
func New(slots []Slot, registry Registry, budget time.Duration, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		slots:    slots,
		registry: registry,
		logger:   logger.Named("pipeline"),
		budget:   budget,
		sleep:    time.Sleep,
		now:      time.Now,
	}
}

// ErrorLog returns the internal failure log accumulated during the last run.
func (o *Orchestrator) ErrorLog() []ErrorLogEntry {
	return o.errorLog
}

// Run executes the protocol and returns the final report. Slots execute
// strictly in registration order; a predicate is evaluated only after every
// earlier slot has finished and been registered, so it always sees a
// consistent view of prior results. Stages that a predicate declines are left
// entirely absent from the context.
func (o *Orchestrator) Run(ctx context.Context, ac *AnalysisContext) map[string]any {
	start := o.now()
	o.errorLog = nil

	o.logger.Info("Starting analysis pipeline",
		zap.String("analysis_id", ac.AnalysisID),
		zap.String("target", ac.Target),
		zap.Duration("overall_budget", o.budget),
	)

	var synthesisSlot *Slot
	for i := range o.slots {
		slot := &o.slots[i]
		if slot.Config.Name == StageSynthesis {
			synthesisSlot = slot
			continue
		}

		if slot.Predicate != nil && !slot.Predicate(ac) {
			o.logger.Debug("Stage skipped by predicate", zap.String("stage", slot.Config.Name))
			continue
		}

		res := o.executeSlot(ctx, slot.Config, ac)
		ac.SetStageResult(res)
	}

	var report map[string]any
	degraded := false
	if synthesisSlot != nil {
		report, degraded = o.executeSynthesis(ctx, synthesisSlot.Config, ac)
	} else {
		// A protocol without a synthesis slot still yields a report.
		report = BuildDegradedReport(ac, o.errorLog)
		degraded = true
	}

	o.finalizeReport(report, ac, start, degraded)

	elapsed := o.now().Sub(start)
	if o.budget > 0 && elapsed > o.budget {
		o.logger.Warn("Run exceeded its wall-clock budget",
			zap.Duration("elapsed", elapsed), zap.Duration("budget", o.budget))
	}
	o.logger.Info("Analysis pipeline finished",
		zap.String("analysis_id", ac.AnalysisID),
		zap.Duration("elapsed", elapsed),
		zap.Int("failures", len(o.errorLog)),
	)
	return report
}

// executeSlot runs one non-synthesis slot to a terminal StageResult: a
// success, or a fallback after classification and bounded retry.
func (o *Orchestrator) executeSlot(ctx context.Context, cfg StageConfig, ac *AnalysisContext) *StageResult {
	fn, ok := o.registry[cfg.Name]
	if !ok {
		// A missing executable degrades gracefully instead of aborting.
		msg := fmt.Sprintf("no executable registered for stage %s", cfg.Name)
		return o.terminalFailure(cfg, msg, 0)
	}

	data, dur, err := o.invoke(ctx, cfg, fn, ac, ValidatePayload)
	total := dur
	if err == nil {
		return o.successResult(cfg, data, total)
	}

	if IsRetryable(err.Error()) {
		for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
			delay := cfg.BaseDelay * (1 << attempt)
			o.logger.Warn("Stage failed, retrying",
				zap.String("stage", cfg.Name),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			o.sleep(delay)

			data, dur, err = o.invoke(ctx, cfg, fn, ac, ValidatePayload)
			total += dur
			if err == nil {
				return o.successResult(cfg, data, total)
			}
		}
	}

	return o.terminalFailure(cfg, err.Error(), total)
}

// executeSynthesis runs the synthesis slot under the same retry policy but
// with the final-report gate; a terminal failure produces the full degraded
// report instead of a stage-shaped fallback. The second return is true when
// the degraded path was taken.
func (o *Orchestrator) executeSynthesis(ctx context.Context, cfg StageConfig, ac *AnalysisContext) (map[string]any, bool) {
	fn, ok := o.registry[cfg.Name]

	var (
		report map[string]any
		err    error
		total  time.Duration
	)
	if !ok {
		err = fmt.Errorf("no executable registered for stage %s", cfg.Name)
	} else {
		var dur time.Duration
		report, dur, err = o.invoke(ctx, cfg, fn, ac, ValidateReport)
		total = dur
		if err != nil && IsRetryable(err.Error()) {
			for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
				o.sleep(cfg.BaseDelay * (1 << attempt))
				report, dur, err = o.invoke(ctx, cfg, fn, ac, ValidateReport)
				total += dur
				if err == nil {
					break
				}
			}
		}
	}

	if err != nil {
		kind := Classify(err.Error())
		o.recordFailure(cfg, err.Error(), kind)
		res := NewStageResult(cfg.Name, false, map[string]any{"packages": []any{}}, UserFacingError(cfg.Name, kind), total, 0)
		ac.SetStageResult(res)
		return BuildDegradedReport(ac, o.errorLog), true
	}

	ac.SetStageResult(NewStageResult(cfg.Name, true, map[string]any{"packages": []any{}}, "", total, 1.0))
	return report, false
}

// invoke is the stage invocation boundary. It derives the deadline-bound
// child context, times the call, normalizes deadline expiry into a message
// that classifies as TIMEOUT, and applies the supplied validation gate so a
// malformed payload rides the same failure path as a runtime error.
func (o *Orchestrator) invoke(ctx context.Context, cfg StageConfig, fn StageFunc, ac *AnalysisContext, gate func(map[string]any) error) (map[string]any, time.Duration, error) {
	stageCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := o.now()
	data, err := fn(stageCtx, ac)
	dur := o.now().Sub(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("stage %s timeout after %s", cfg.Name, cfg.Timeout)
		}
		return nil, dur, err
	}
	if gateErr := gate(data); gateErr != nil {
		return nil, dur, gateErr
	}
	return data, dur, nil
}

// successResult wraps a validated payload. A stage may report its own
// confidence under the "confidence" key; absent that, a clean success counts
// as full confidence.
func (o *Orchestrator) successResult(cfg StageConfig, data map[string]any, dur time.Duration) *StageResult {
	confidence := 1.0
	if c, ok := data["confidence"].(float64); ok {
		confidence = c
	}
	o.logger.Info("Stage completed",
		zap.String("stage", cfg.Name),
		zap.Duration("duration", dur),
	)
	return NewStageResult(cfg.Name, true, data, "", dur, confidence)
}

// terminalFailure classifies the failure, records it, and substitutes the
// fallback result. Nothing is re-raised: a failed stage always leaves a
// stage-shaped placeholder behind.
func (o *Orchestrator) terminalFailure(cfg StageConfig, msg string, dur time.Duration) *StageResult {
	kind := Classify(msg)
	o.recordFailure(cfg, msg, kind)
	return FallbackResult(cfg, kind, dur)
}

// recordFailure appends the internal error-log entry. The entry is recorded
// unconditionally; only the user-facing strings depend on the required flag.
func (o *Orchestrator) recordFailure(cfg StageConfig, msg string, kind ErrorKind) {
	o.logger.Warn("Stage failed terminally",
		zap.String("stage", cfg.Name),
		zap.String("kind", string(kind)),
		zap.Bool("required", cfg.Required),
		zap.String("error", msg),
	)
	o.errorLog = append(o.errorLog, ErrorLogEntry{
		Stage:     cfg.Name,
		Message:   msg,
		Kind:      kind,
		Required:  cfg.Required,
		Timestamp: o.now(),
	})
}

// finalizeReport injects the degradation metadata and performance metrics
// into the report. The degraded path keeps its "degraded" status; the normal
// path gets the computed level as its analysis status.
func (o *Orchestrator) finalizeReport(report map[string]any, ac *AnalysisContext, start time.Time, degraded bool) {
	meta := ComputeMetadata(ac)

	md, ok := report["metadata"].(map[string]any)
	if !ok {
		md = make(map[string]any)
		report["metadata"] = md
	}
	if !degraded {
		md["analysis_status"] = string(meta.Level)
	}
	md["confidence"] = meta.Confidence
	md["degradation_reason"] = meta.Reason
	md["missing_analysis"] = meta.MissingAnalysis
	// A degraded report means synthesis itself failed, which ComputeMetadata's
	// stage walk does not see. Any failure keeps the retry flag set.
	md["retry_recommended"] = meta.RetryRecommended || degraded

	durations := make(map[string]any)
	completed := 0
	failed := 0
	for name, res := range ac.results() {
		durations[name] = res.Duration.Milliseconds()
		if res.Success {
			completed++
		} else {
			failed++
		}
	}
	report["performance_metrics"] = map[string]any{
		"total_duration_ms":  o.now().Sub(start).Milliseconds(),
		"stage_durations_ms": durations,
		"stages_completed":   completed,
		"stages_failed":      failed,
	}
}
