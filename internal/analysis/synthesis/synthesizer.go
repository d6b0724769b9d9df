// Filename: synthesis/synthesizer.go
// The synthesis stage: deterministic report assembly from every prior stage's
// payload, enriched by an LLM-written executive summary and categorized
// recommendations when a model is configured. The deterministic skeleton is
// always built first, so an LLM failure only costs the narrative text.
package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xm4dn355/packguard-cli/api/schemas"
	"github.com/xm4dn355/packguard-cli/internal/deps"
	"github.com/xm4dn355/packguard-cli/internal/llmclient"
	"github.com/xm4dn355/packguard-cli/internal/pipeline"
)

const systemPrompt = `You are writing the closing section of a supply-chain security report.
Given the findings summary, produce JSON only:
{"executive_summary":"<2-4 sentences>","recommendations":{"immediate":["..."],"short_term":["..."],"long_term":["..."]}}`

// Synthesizer implements the synthesis stage. A nil LLM client keeps the
// report fully deterministic.
type Synthesizer struct {
	llm    schemas.LLMClient
	logger *zap.Logger

	now func() time.Time
}

func NewSynthesizer(llm schemas.LLMClient, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{
		llm:    llm,
		logger: logger.Named("synthesis"),
		now:    time.Now,
	}
}

// Stage adapts the synthesizer to the pipeline's stage-executable contract.
func (s *Synthesizer) Stage() pipeline.StageFunc {
	return func(ctx context.Context, ac *pipeline.AnalysisContext) (map[string]any, error) {
		return s.Synthesize(ctx, ac)
	}
}

type enrichment struct {
	ExecutiveSummary string `json:"executive_summary"`
	Recommendations  struct {
		Immediate []string `json:"immediate"`
		ShortTerm []string `json:"short_term"`
		LongTerm  []string `json:"long_term"`
	} `json:"recommendations"`
}

// Synthesize assembles the final report.
func (s *Synthesizer) Synthesize(ctx context.Context, ac *pipeline.AnalysisContext) (map[string]any, error) {
	findings := collectFindings(ac)
	merged := pipeline.MergePackagePayloads(ac)
	counts := countFindingSeverities(findings)

	flagged := make(map[string]bool)
	for _, f := range findings {
		flagged[f.PackageName] = true
	}

	summary := map[string]any{
		"total_packages":    len(ac.Packages),
		"total_findings":    len(findings),
		"packages_flagged":  len(flagged),
		"severity_counts":   counts,
		"executive_summary": localSummary(ac, findings, counts),
	}
	if graph, ok := ac.Graph.(*deps.Graph); ok && graph != nil {
		summary["dependency_graph"] = graph.Summary()
	}

	report := map[string]any{
		"metadata": map[string]any{
			"analysis_id":       ac.AnalysisID,
			"started_at":        ac.StartedAt,
			"completed_at":      s.now(),
			"target":            ac.Target,
			"ecosystem":         string(ac.Ecosystem),
			"input_mode":        string(ac.InputMode),
			"packages_analyzed": len(ac.Packages),
		},
		"summary":           summary,
		"packages":          merged,
		"security_findings": findingsAsMaps(findings),
		"recommendations":   localRecommendations(findings),
	}

	if s.llm != nil {
		s.enrich(ctx, report, summary, findings)
	}

	return report, nil
}

// enrich asks the model for the narrative sections and merges them in. LLM
// failures are logged and swallowed; the deterministic text stands.
func (s *Synthesizer) enrich(ctx context.Context, report map[string]any, summary map[string]any, findings []schemas.Finding) {
	raw, err := s.llm.GenerateResponse(ctx, schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   enrichmentPrompt(findings, summary),
		Options:      schemas.GenerationOptions{Temperature: 0.3, ForceJSONFormat: true},
	})
	if err != nil {
		s.logger.Warn("Report enrichment failed, keeping deterministic text", zap.Error(err))
		return
	}

	parsed, err := llmclient.ParseJSONResponse[enrichment](raw)
	if err != nil {
		s.logger.Warn("Report enrichment returned unparseable JSON", zap.Error(err))
		return
	}

	if parsed.ExecutiveSummary != "" {
		summary["executive_summary"] = parsed.ExecutiveSummary
	}
	recs := parsed.Recommendations
	if len(recs.Immediate)+len(recs.ShortTerm)+len(recs.LongTerm) > 0 {
		report["recommendations"] = map[string]any{
			"immediate":  recs.Immediate,
			"short_term": recs.ShortTerm,
			"long_term":  recs.LongTerm,
		}
	}
}

func enrichmentPrompt(findings []schemas.Finding, summary map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Packages analyzed: %v\n", summary["total_packages"])
	fmt.Fprintf(&b, "Severity counts: %v\n\nFindings:\n", summary["severity_counts"])
	for i, f := range findings {
		if i >= 30 {
			fmt.Fprintf(&b, "... and %d more\n", len(findings)-i)
			break
		}
		fmt.Fprintf(&b, "- [%s/%s] %s: %s\n", f.Severity, f.Type, f.PackageName, f.Description)
	}
	return b.String()
}

// collectFindings gathers the upstream findings plus every successful stage's
// findings, most severe first.
func collectFindings(ac *pipeline.AnalysisContext) []schemas.Finding {
	out := append([]schemas.Finding(nil), ac.Findings...)
	for _, name := range ac.StageNames() {
		res, ok := ac.StageResult(name)
		if !ok || !res.Success {
			continue
		}
		if findings, ok := res.Data["findings"].([]schemas.Finding); ok {
			out = append(out, findings...)
		}
	}

	rank := map[schemas.Severity]int{
		schemas.SeverityCritical: 0,
		schemas.SeverityHigh:     1,
		schemas.SeverityMedium:   2,
		schemas.SeverityLow:      3,
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rank[out[i].Severity] < rank[out[j].Severity]
	})
	return out
}

func countFindingSeverities(findings []schemas.Finding) map[string]int {
	counts := map[string]int{
		string(schemas.SeverityCritical): 0,
		string(schemas.SeverityHigh):     0,
		string(schemas.SeverityMedium):   0,
		string(schemas.SeverityLow):      0,
	}
	for _, f := range findings {
		if _, known := counts[string(f.Severity)]; known {
			counts[string(f.Severity)]++
		}
	}
	return counts
}

func findingsAsMaps(findings []schemas.Finding) []map[string]any {
	out := make([]map[string]any, 0, len(findings))
	for _, f := range findings {
		m := map[string]any{
			"package_name":     f.PackageName,
			"package_version":  f.PackageVersion,
			"type":             string(f.Type),
			"severity":         string(f.Severity),
			"description":      f.Description,
			"detection_method": string(f.DetectionMethod),
			"confidence":       f.Confidence,
		}
		if len(f.Evidence) > 0 {
			m["evidence"] = f.Evidence
		}
		if f.Remediation != "" {
			m["remediation"] = f.Remediation
		}
		out = append(out, m)
	}
	return out
}

// localSummary is the deterministic executive summary used when no model is
// configured or enrichment fails.
func localSummary(ac *pipeline.AnalysisContext, findings []schemas.Finding, counts map[string]int) string {
	if len(findings) == 0 {
		return fmt.Sprintf("Analyzed %d packages from %s; no security findings.", len(ac.Packages), ac.Target)
	}
	return fmt.Sprintf("Analyzed %d packages from %s; %d findings (%d critical, %d high).",
		len(ac.Packages), ac.Target, len(findings),
		counts[string(schemas.SeverityCritical)], counts[string(schemas.SeverityHigh)])
}

// localRecommendations buckets deterministic advice by urgency.
func localRecommendations(findings []schemas.Finding) map[string]any {
	immediate := []string{}
	shortTerm := []string{}
	longTerm := []string{"Enable lockfile integrity verification in CI", "Re-scan after every dependency update"}

	seen := make(map[string]bool)
	for _, f := range findings {
		key := string(f.Type) + "/" + f.PackageName
		if seen[key] {
			continue
		}
		seen[key] = true

		switch f.Severity {
		case schemas.SeverityCritical:
			immediate = append(immediate, fmt.Sprintf("Remove or quarantine %s (%s)", f.PackageName, f.Type))
		case schemas.SeverityHigh:
			immediate = append(immediate, fmt.Sprintf("Review %s: %s", f.PackageName, f.Description))
		default:
			shortTerm = append(shortTerm, fmt.Sprintf("Audit %s (%s)", f.PackageName, f.Type))
		}
	}

	return map[string]any{
		"immediate":  immediate,
		"short_term": shortTerm,
		"long_term":  longTerm,
	}
}
