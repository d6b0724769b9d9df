// Filename: content/analyzer.go
// The deep-content-analysis stage: flagged code excerpts go to the LLM for a
// per-package verdict. This stage only runs when primary detection produced
// suspicious findings.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xm4dn355/packguard-cli/api/schemas"
	"github.com/xm4dn355/packguard-cli/internal/llmclient"
	"github.com/xm4dn355/packguard-cli/internal/pipeline"
)

// ErrNoLLMClient fails the stage when agent analysis was requested without a
// configured model. The message classifies as SERVICE_UNAVAILABLE without
// matching any retryable keyword, so the stage falls back immediately.
var ErrNoLLMClient = errors.New("llm client is not configured; agent analysis unavailable")

const systemPrompt = `You are a supply-chain security analyst reviewing code excerpts
flagged by static rules inside published packages. For each package decide whether the
flagged code is malicious, suspicious, or benign. Respond with JSON only:
{"verdicts":[{"package":"<name>","verdict":"malicious|suspicious|benign","severity":"critical|high|medium|low","explanation":"<one sentence>","confidence":<0..1>}],"confidence":<0..1>}`

// maxExcerptsPerPackage bounds the prompt size for heavily flagged packages.
const maxExcerptsPerPackage = 5

// Analyzer implements the deep-content-analysis stage.
type Analyzer struct {
	llm    schemas.LLMClient
	logger *zap.Logger
}

func NewAnalyzer(llm schemas.LLMClient, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		llm:    llm,
		logger: logger.Named("content"),
	}
}

// Stage adapts the analyzer to the pipeline's stage-executable contract.
func (a *Analyzer) Stage() pipeline.StageFunc {
	return func(ctx context.Context, ac *pipeline.AnalysisContext) (map[string]any, error) {
		return a.Analyze(ctx, ac)
	}
}

type verdict struct {
	Package     string  `json:"package"`
	Verdict     string  `json:"verdict"`
	Severity    string  `json:"severity"`
	Explanation string  `json:"explanation"`
	Confidence  float64 `json:"confidence"`
}

type contentResponse struct {
	Verdicts   []verdict `json:"verdicts"`
	Confidence float64   `json:"confidence"`
}

// Analyze builds the excerpt prompt, queries the model, and converts its
// verdicts into agent-analysis findings.
func (a *Analyzer) Analyze(ctx context.Context, ac *pipeline.AnalysisContext) (map[string]any, error) {
	if a.llm == nil {
		return nil, ErrNoLLMClient
	}

	suspicious := collectSuspicious(ac)
	if len(suspicious) == 0 {
		// The predicate should prevent this; treat it as a clean pass.
		return map[string]any{
			"packages":   []map[string]any{},
			"findings":   []schemas.Finding{},
			"confidence": 1.0,
		}, nil
	}

	prompt := buildPrompt(suspicious)
	raw, err := a.llm.GenerateResponse(ctx, schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   prompt,
		Options:      schemas.GenerationOptions{Temperature: 0.1, ForceJSONFormat: true},
	})
	if err != nil {
		return nil, fmt.Errorf("content analysis generation failed: %w", err)
	}

	parsed, err := llmclient.ParseJSONResponse[contentResponse](raw)
	if err != nil {
		return nil, fmt.Errorf("invalid_response: %w", err)
	}

	versions := make(map[string]string, len(ac.Packages))
	for _, pkg := range ac.Packages {
		versions[pkg.Name] = pkg.Version
	}

	findings := make([]schemas.Finding, 0, len(parsed.Verdicts))
	packages := make([]map[string]any, 0, len(parsed.Verdicts))
	for _, v := range parsed.Verdicts {
		packages = append(packages, map[string]any{
			"name":    v.Package,
			"version": versions[v.Package],
			"verdict": v.Verdict,
		})
		if v.Verdict == "benign" {
			continue
		}
		findings = append(findings, verdictToFinding(v, versions[v.Package]))
	}

	confidence := parsed.Confidence
	if confidence <= 0 {
		confidence = 0.7
	}

	a.logger.Info("Deep content analysis completed",
		zap.Int("excerpts", len(suspicious)),
		zap.Int("verdicts", len(parsed.Verdicts)),
		zap.Int("findings", len(findings)),
	)

	return map[string]any{
		"packages":   packages,
		"findings":   findings,
		"confidence": confidence,
	}, nil
}

func verdictToFinding(v verdict, version string) schemas.Finding {
	ftype := schemas.FindingObfuscatedCode
	if v.Verdict == "malicious" {
		ftype = schemas.FindingMaliciousCode
	}

	severity := schemas.Severity(strings.ToLower(v.Severity))
	switch severity {
	case schemas.SeverityCritical, schemas.SeverityHigh, schemas.SeverityMedium, schemas.SeverityLow:
	default:
		severity = schemas.SeverityMedium
	}

	confidence := v.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.5
	}

	return schemas.Finding{
		PackageName:     v.Package,
		PackageVersion:  version,
		Type:            ftype,
		Severity:        severity,
		Description:     v.Explanation,
		DetectionMethod: schemas.DetectionAgentAnalysis,
		Confidence:      confidence,
		Evidence:        map[string]any{"verdict": v.Verdict},
		ObservedAt:      time.Now().UTC(),
	}
}

// collectSuspicious gathers suspicious findings from the upstream list and
// every completed stage payload.
func collectSuspicious(ac *pipeline.AnalysisContext) []schemas.Finding {
	var out []schemas.Finding
	for _, f := range ac.Findings {
		if f.IsSuspicious() {
			out = append(out, f)
		}
	}
	for _, name := range ac.StageNames() {
		res, ok := ac.StageResult(name)
		if !ok || !res.Success {
			continue
		}
		findings, ok := res.Data["findings"].([]schemas.Finding)
		if !ok {
			continue
		}
		for _, f := range findings {
			if f.IsSuspicious() {
				out = append(out, f)
			}
		}
	}
	return out
}

// buildPrompt renders the flagged excerpts grouped per package.
func buildPrompt(findings []schemas.Finding) string {
	perPackage := make(map[string][]schemas.Finding)
	var order []string
	for _, f := range findings {
		if _, seen := perPackage[f.PackageName]; !seen {
			order = append(order, f.PackageName)
		}
		if len(perPackage[f.PackageName]) < maxExcerptsPerPackage {
			perPackage[f.PackageName] = append(perPackage[f.PackageName], f)
		}
	}

	var b strings.Builder
	b.WriteString("Flagged packages:\n")
	for _, name := range order {
		fmt.Fprintf(&b, "\n## %s\n", name)
		for _, f := range perPackage[name] {
			fmt.Fprintf(&b, "- [%s/%s] %s\n", f.Type, f.Severity, f.Description)
			if excerpt, ok := f.Evidence["excerpt"].(string); ok && excerpt != "" {
				fmt.Fprintf(&b, "  excerpt: %s\n", excerpt)
			}
			if script, ok := f.Evidence["script"].(string); ok && script != "" {
				fmt.Fprintf(&b, "  script: %s\n", script)
			}
		}
	}
	return b.String()
}
