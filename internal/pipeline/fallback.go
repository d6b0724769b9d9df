// File: internal/pipeline/fallback.go
package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xm4dn355/packguard-cli/api/schemas"
)

// fallbackSources tags which degraded mode is in effect when a required stage
// was replaced by placeholder data.
var fallbackSources = map[string]string{
	StagePrimaryDetection:      "rule_based_only",
	StageTrustScoring:          "default_neutral_scores",
	StageDeepContentAnalysis:   "pattern_matching_only",
	StageAttackPatternAnalysis: "basic_checks_only",
}

// fallbackSource returns the degraded-mode tag for a stage, with a generic
// tag for unrecognized names.
func fallbackSource(stage string) string {
	if src, ok := fallbackSources[stage]; ok {
		return src
	}
	return "fallback"
}

// FallbackResult produces the stage-shaped placeholder registered when a
// stage cannot complete. Required stages get a stage-specific placeholder
// payload with status FAILED; optional stages get a skip marker with status
// SKIPPED. The user-facing error string is the fixed per-kind template.
func FallbackResult(cfg StageConfig, kind ErrorKind, duration time.Duration) *StageResult {
	msg := UserFacingError(cfg.Name, kind)

	if !cfg.Required {
		data := map[string]any{"packages": []any{}, "skipped": true}
		return NewSkippedResult(cfg.Name, data, msg, duration)
	}

	data := map[string]any{
		"packages": []any{},
		"source":   fallbackSource(cfg.Name),
	}
	res := NewStageResult(cfg.Name, false, data, msg, duration, 0)
	// The template never contains "timeout"; keep the derived status honest
	// for timeout failures.
	if kind == KindTimeout {
		res.Status = StatusTimeout
	}
	return res
}

// packageOverlayKeys are the per-package payload fields carried into the
// merged view, later stages overlaying earlier ones for the same package.
var packageOverlayKeys = []string{
	"vulnerabilities",
	"trust_score",
	"risk_level",
	"risk_factors",
	"code_analysis",
	"behavioral_indicators",
	"supply_chain",
	"attack_vectors",
	"findings",
	"source",
}

// MergePackagePayloads merges the "packages" payloads of every successful
// stage, keyed by package name, in protocol order. The result preserves
// first-seen ordering of packages.
func MergePackagePayloads(ac *AnalysisContext) []map[string]any {
	merged := make(map[string]map[string]any)
	var order []string

	for _, stageName := range orderedStageNames {
		if stageName == StageSynthesis {
			continue
		}
		res, ok := ac.StageResult(stageName)
		if !ok || !res.Success {
			continue
		}
		for _, pkg := range payloadPackages(res.Data) {
			name, _ := pkg["name"].(string)
			if name == "" {
				continue
			}
			entry, seen := merged[name]
			if !seen {
				entry = map[string]any{"name": name}
				if v, ok := pkg["version"]; ok {
					entry["version"] = v
				}
				merged[name] = entry
				order = append(order, name)
			}
			for _, key := range packageOverlayKeys {
				if v, ok := pkg[key]; ok {
					entry[key] = v
				}
			}
		}
	}

	out := make([]map[string]any, 0, len(order))
	for _, name := range order {
		out = append(out, merged[name])
	}
	return out
}

// payloadPackages normalizes the two shapes a "packages" value can take:
// native []map[string]any from in-process stages, or []any after a JSON
// round trip.
func payloadPackages(data map[string]any) []map[string]any {
	switch pkgs := data["packages"].(type) {
	case []map[string]any:
		return pkgs
	case []any:
		out := make([]map[string]any, 0, len(pkgs))
		for _, item := range pkgs {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// CountSeverities tallies vulnerability severities across the merged package
// list.
func CountSeverities(packages []map[string]any) map[string]int {
	counts := map[string]int{
		string(schemas.SeverityCritical): 0,
		string(schemas.SeverityHigh):     0,
		string(schemas.SeverityMedium):   0,
		string(schemas.SeverityLow):      0,
	}
	for _, pkg := range packages {
		for _, vuln := range anySlice(pkg["vulnerabilities"]) {
			m, ok := vuln.(map[string]any)
			if !ok {
				continue
			}
			if sev, ok := m["severity"].(string); ok {
				if _, known := counts[sev]; known {
					counts[sev]++
				}
			}
		}
	}
	return counts
}

func anySlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []map[string]any:
		out := make([]any, len(s))
		for i, m := range s {
			out[i] = m
		}
		return out
	default:
		return nil
	}
}

// deriveRecommendations builds the flat recommendation list used by the
// degraded report, from the merged package data alone.
func deriveRecommendations(packages []map[string]any, counts map[string]int) []string {
	var recs []string

	if counts[string(schemas.SeverityCritical)] > 0 {
		recs = append(recs, fmt.Sprintf("Address %d critical vulnerabilities before deploying", counts[string(schemas.SeverityCritical)]))
	}
	if counts[string(schemas.SeverityHigh)] > 0 {
		recs = append(recs, fmt.Sprintf("Review %d high severity vulnerabilities", counts[string(schemas.SeverityHigh)]))
	}
	for _, pkg := range packages {
		if score, ok := pkg["trust_score"].(float64); ok && score < LowTrustThreshold {
			name, _ := pkg["name"].(string)
			recs = append(recs, fmt.Sprintf("Verify the provenance of low-trust package %q", name))
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "Re-run the analysis to obtain complete results")
	}
	return recs
}

// BuildDegradedReport assembles the full degraded report used when the
// synthesis stage itself fails terminally. It merges every successful stage's
// package payloads, recomputes severity counts, derives recommendations, and
// stamps the report as degraded with the current degradation metadata.
func BuildDegradedReport(ac *AnalysisContext, errorLog []ErrorLogEntry) map[string]any {
	merged := MergePackagePayloads(ac)
	counts := CountSeverities(merged)
	meta := ComputeMetadata(ac)

	totalFindings := len(ac.Findings)
	for _, c := range counts {
		totalFindings += c
	}

	analysisID := ac.AnalysisID
	if analysisID == "" {
		analysisID = uuid.New().String()
	}

	errorEntries := make([]map[string]any, 0, len(errorLog))
	for _, e := range errorLog {
		errorEntries = append(errorEntries, map[string]any{
			"stage":     e.Stage,
			"message":   e.Message,
			"kind":      string(e.Kind),
			"required":  e.Required,
			"timestamp": e.Timestamp,
		})
	}

	return map[string]any{
		"metadata": map[string]any{
			"analysis_id":       analysisID,
			"started_at":        ac.StartedAt,
			"completed_at":      time.Now(),
			"target":            ac.Target,
			"ecosystem":         string(ac.Ecosystem),
			"input_mode":        string(ac.InputMode),
			"analysis_status":   "degraded",
			"degradation_level": string(meta.Level),
			"confidence":        meta.Confidence,
			"degradation_reason": meta.Reason,
			"missing_analysis":  meta.MissingAnalysis,
			// A degraded report always warrants a retry when anything failed.
			"retry_recommended": meta.RetryRecommended || len(errorLog) > 0,
			"errors":            errorEntries,
		},
		"summary": map[string]any{
			"total_packages":  len(ac.Packages),
			"total_findings":  totalFindings,
			"severity_counts": counts,
		},
		"security_findings": merged,
		"recommendations":   deriveRecommendations(merged, counts),
	}
}
