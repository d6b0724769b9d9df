// Filename: attack/analyzer.go
// The attack-pattern-analysis stage: low-trust packages plus the dependency
// graph go to the LLM to reason about plausible supply-chain attack chains.
// This stage only runs when trust scoring surfaced low-trust packages.
package attack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xm4dn355/packguard-cli/api/schemas"
	"github.com/xm4dn355/packguard-cli/internal/deps"
	"github.com/xm4dn355/packguard-cli/internal/llmclient"
	"github.com/xm4dn355/packguard-cli/internal/pipeline"
)

// ErrNoLLMClient mirrors the content stage's unconfigured-model failure.
var ErrNoLLMClient = errors.New("llm client is not configured; attack analysis unavailable")

const systemPrompt = `You are a supply-chain security analyst. Given low-trust packages in a
dependency tree and the paths through which they are reached, describe plausible attack
chains an adversary controlling those packages could execute. Respond with JSON only:
{"chains":[{"packages":["<name>",...],"technique":"<short label>","severity":"critical|high|medium|low","likelihood":<0..1>,"explanation":"<one sentence>"}],"confidence":<0..1>}`

// Analyzer implements the attack-pattern-analysis stage.
type Analyzer struct {
	llm    schemas.LLMClient
	logger *zap.Logger
}

func NewAnalyzer(llm schemas.LLMClient, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		llm:    llm,
		logger: logger.Named("attack"),
	}
}

// Stage adapts the analyzer to the pipeline's stage-executable contract.
func (a *Analyzer) Stage() pipeline.StageFunc {
	return func(ctx context.Context, ac *pipeline.AnalysisContext) (map[string]any, error) {
		return a.Analyze(ctx, ac)
	}
}

type chain struct {
	Packages    []string `json:"packages"`
	Technique   string   `json:"technique"`
	Severity    string   `json:"severity"`
	Likelihood  float64  `json:"likelihood"`
	Explanation string   `json:"explanation"`
}

type attackResponse struct {
	Chains     []chain `json:"chains"`
	Confidence float64 `json:"confidence"`
}

// Analyze extracts the low-trust packages from the trust stage's payload,
// queries the model for attack chains, and converts them into findings.
func (a *Analyzer) Analyze(ctx context.Context, ac *pipeline.AnalysisContext) (map[string]any, error) {
	if a.llm == nil {
		return nil, ErrNoLLMClient
	}

	lowTrust := lowTrustPackages(ac)
	if len(lowTrust) == 0 {
		return map[string]any{
			"packages":   []map[string]any{},
			"findings":   []schemas.Finding{},
			"confidence": 1.0,
		}, nil
	}

	raw, err := a.llm.GenerateResponse(ctx, schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   a.buildPrompt(ac, lowTrust),
		Options:      schemas.GenerationOptions{Temperature: 0.2, ForceJSONFormat: true},
	})
	if err != nil {
		return nil, fmt.Errorf("attack analysis generation failed: %w", err)
	}

	parsed, err := llmclient.ParseJSONResponse[attackResponse](raw)
	if err != nil {
		return nil, fmt.Errorf("invalid_response: %w", err)
	}

	versions := make(map[string]string, len(ac.Packages))
	for _, pkg := range ac.Packages {
		versions[pkg.Name] = pkg.Version
	}

	findings := make([]schemas.Finding, 0, len(parsed.Chains))
	for _, ch := range parsed.Chains {
		if len(ch.Packages) == 0 {
			continue
		}
		findings = append(findings, chainToFinding(ch, versions))
	}

	packages := make([]map[string]any, 0, len(lowTrust))
	for name, score := range lowTrust {
		packages = append(packages, map[string]any{
			"name":        name,
			"version":     versions[name],
			"trust_score": score,
		})
	}

	confidence := parsed.Confidence
	if confidence <= 0 {
		confidence = 0.6
	}

	a.logger.Info("Attack pattern analysis completed",
		zap.Int("low_trust_packages", len(lowTrust)),
		zap.Int("chains", len(parsed.Chains)),
	)

	return map[string]any{
		"packages":   packages,
		"findings":   findings,
		"confidence": confidence,
	}, nil
}

func chainToFinding(ch chain, versions map[string]string) schemas.Finding {
	entry := ch.Packages[0]

	severity := schemas.Severity(strings.ToLower(ch.Severity))
	switch severity {
	case schemas.SeverityCritical, schemas.SeverityHigh, schemas.SeverityMedium, schemas.SeverityLow:
	default:
		severity = schemas.SeverityHigh
	}

	confidence := ch.Likelihood
	if confidence <= 0 || confidence > 1 {
		confidence = 0.5
	}

	return schemas.Finding{
		PackageName:     entry,
		PackageVersion:  versions[entry],
		Type:            schemas.FindingMaliciousCode,
		Severity:        severity,
		Description:     fmt.Sprintf("%s: %s", ch.Technique, ch.Explanation),
		DetectionMethod: schemas.DetectionAgentAnalysis,
		Confidence:      confidence,
		Evidence: map[string]any{
			"chain":     ch.Packages,
			"technique": ch.Technique,
		},
		Remediation: "Treat the chain's entry package as compromised until reviewed.",
		ObservedAt:  time.Now().UTC(),
	}
}

// lowTrustPackages reads the scores out of the trust stage's payload. The
// scores are never recomputed here.
func lowTrustPackages(ac *pipeline.AnalysisContext) map[string]float64 {
	res, ok := ac.StageResult(pipeline.StageTrustScoring)
	if !ok || !res.Success {
		return nil
	}

	out := make(map[string]float64)
	for _, m := range payloadPackageMaps(res.Data) {
		name, _ := m["name"].(string)
		score, ok := m["trust_score"].(float64)
		if name == "" || !ok {
			continue
		}
		if score < pipeline.LowTrustThreshold {
			out[name] = score
		}
	}
	return out
}

func payloadPackageMaps(data map[string]any) []map[string]any {
	if pkgs, ok := data["packages"].([]map[string]any); ok {
		return pkgs
	}
	raw, ok := data["packages"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// buildPrompt renders the low-trust packages and their graph reach.
func (a *Analyzer) buildPrompt(ac *pipeline.AnalysisContext, lowTrust map[string]float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target: %s (%s)\n", ac.Target, ac.Ecosystem)
	fmt.Fprintf(&b, "Total packages: %d\n\nLow-trust packages:\n", len(ac.Packages))

	names := make([]string, 0, len(lowTrust))
	for name, score := range lowTrust {
		fmt.Fprintf(&b, "- %s (trust %.2f)\n", name, score)
		names = append(names, name)
	}

	if graph, ok := ac.Graph.(*deps.Graph); ok && graph != nil {
		paths := graph.PathsThrough(names)
		if len(paths) > 0 {
			b.WriteString("\nDependency paths reaching them:\n")
			for name, path := range paths {
				fmt.Fprintf(&b, "- %s: %s\n", name, strings.Join(path, " -> "))
			}
		}
	}
	return b.String()
}
