// Filename: detect/scanner.go
// Rule-based primary detection: install-hook heuristics, JavaScript source
// inspection, typosquat checks, and known-vulnerability lookups.
package detect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"go.uber.org/zap"

	"github.com/xm4dn355/packguard-cli/api/schemas"
	"github.com/xm4dn355/packguard-cli/internal/intel"
	"github.com/xm4dn355/packguard-cli/internal/pipeline"
)

const (
	maxFilesPerPackage = 40
	maxFileSizeBytes   = 512 * 1024
)

// suspiciousScriptMarkers flag install hooks that pull and execute remote
// content or decode embedded payloads.
var suspiciousScriptMarkers = []string{
	"curl ", "wget ", "node -e", "base64 -d", "base64 --decode",
	"/dev/tcp/", "chmod +x", "powershell", "Invoke-WebRequest",
}

// installHookKeys are the npm lifecycle scripts that run automatically on
// install.
var installHookKeys = []string{"preinstall", "install", "postinstall"}

// Scanner implements the primary-detection stage. The intel client is
// optional; without it the scan still runs its local rules.
type Scanner struct {
	intel  *intel.Client
	logger *zap.Logger
}

func NewScanner(intelClient *intel.Client, logger *zap.Logger) *Scanner {
	return &Scanner{
		intel:  intelClient,
		logger: logger.Named("detect"),
	}
}

// Stage adapts the scanner to the pipeline's stage-executable contract.
func (s *Scanner) Stage() pipeline.StageFunc {
	return func(ctx context.Context, ac *pipeline.AnalysisContext) (map[string]any, error) {
		return s.Analyze(ctx, ac)
	}
}

// Analyze runs all detection rules over the resolved package set and returns
// the stage payload.
func (s *Scanner) Analyze(ctx context.Context, ac *pipeline.AnalysisContext) (map[string]any, error) {
	findings := make([]schemas.Finding, 0)

	findings = append(findings, s.scanInstallHooks(ac)...)
	findings = append(findings, s.scanSources(ctx, ac)...)
	findings = append(findings, s.checkTyposquats(ac.Packages)...)

	advisoryFindings, err := s.queryAdvisories(ctx, ac.Packages)
	if err != nil {
		// Intel is an enrichment; a lookup failure degrades this stage's
		// confidence rather than failing it.
		s.logger.Warn("Advisory lookup failed, continuing with local rules only", zap.Error(err))
	}
	findings = append(findings, advisoryFindings...)

	flagged := make(map[string]int)
	for _, f := range findings {
		flagged[f.PackageName]++
	}

	packages := make([]map[string]any, 0, len(ac.Packages))
	for _, pkg := range ac.Packages {
		m := pkg.PayloadMap()
		m["risk_flags"] = flagged[pkg.Name]
		packages = append(packages, m)
	}

	confidence := 1.0
	if err != nil {
		confidence = 0.8
	}

	s.logger.Info("Primary detection completed",
		zap.Int("packages", len(ac.Packages)),
		zap.Int("findings", len(findings)),
	)

	return map[string]any{
		"packages":   packages,
		"findings":   findings,
		"confidence": confidence,
	}, nil
}

// scanInstallHooks inspects npm lifecycle scripts in the target's package.json
// and in each installed dependency.
func (s *Scanner) scanInstallHooks(ac *pipeline.AnalysisContext) []schemas.Finding {
	if ac.Ecosystem != schemas.EcosystemNPM {
		return nil
	}

	var findings []schemas.Finding
	for _, pkg := range ac.Packages {
		dir := pkg.SourceDir
		if dir == "" {
			continue
		}
		manifest := filepath.Join(dir, "package.json")
		scripts, err := readScripts(manifest)
		if err != nil {
			continue
		}
		for _, hook := range installHookKeys {
			script, ok := scripts[hook]
			if !ok {
				continue
			}
			if marker := matchScriptMarker(script); marker != "" {
				findings = append(findings, schemas.Finding{
					PackageName:     pkg.Name,
					PackageVersion:  pkg.Version,
					Type:            schemas.FindingSuspiciousScript,
					Severity:        schemas.SeverityHigh,
					Description:     fmt.Sprintf("%s hook runs a command matching %q", hook, strings.TrimSpace(marker)),
					DetectionMethod: schemas.DetectionRuleBased,
					Confidence:      0.85,
					Evidence: map[string]any{
						"hook":   hook,
						"script": script,
					},
					Remediation: "Review the install hook; pin or remove the dependency if the command is not expected.",
					ObservedAt:  time.Now().UTC(),
				})
			}
		}
	}
	return findings
}

type packageManifest struct {
	Scripts map[string]string `json:"scripts"`
}

func readScripts(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m packageManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m.Scripts, nil
}

func matchScriptMarker(script string) string {
	lower := strings.ToLower(script)
	for _, marker := range suspiciousScriptMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return marker
		}
	}
	return ""
}

// scanSources runs the AST inspector over each package's JavaScript files.
func (s *Scanner) scanSources(ctx context.Context, ac *pipeline.AnalysisContext) []schemas.Finding {
	if ac.Ecosystem != schemas.EcosystemNPM {
		return nil
	}

	var findings []schemas.Finding
	for _, pkg := range ac.Packages {
		if pkg.SourceDir == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}
		signals := s.inspectPackageSources(ctx, pkg.SourceDir)
		for _, sig := range signals {
			findings = append(findings, signalToFinding(pkg, sig))
		}
	}
	return findings
}

// inspectPackageSources parses up to maxFilesPerPackage JavaScript files under
// dir and collects their signals.
func (s *Scanner) inspectPackageSources(ctx context.Context, dir string) []Signal {
	var signals []Signal
	seen := 0

	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || seen >= maxFilesPerPackage {
			return filepath.SkipDir
		}
		if info.IsDir() {
			if info.Name() == "node_modules" || info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !isJavaScriptFile(path) || info.Size() > maxFileSizeBytes {
			return nil
		}
		seen++

		source, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		tree, err := parser.ParseCtx(ctx, nil, source)
		if err != nil {
			s.logger.Debug("Parse failed, skipping file", zap.String("file", path), zap.Error(err))
			return nil
		}
		defer tree.Close()

		fileSignals := newASTInspector(source).Inspect(tree.RootNode())
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		for i := range fileSignals {
			fileSignals[i].Detail = rel + ": " + fileSignals[i].Detail
		}
		signals = append(signals, fileSignals...)
		return nil
	})

	return signals
}

func isJavaScriptFile(path string) bool {
	switch filepath.Ext(path) {
	case ".js", ".mjs", ".cjs":
		return true
	}
	return false
}

// signalToFinding maps an AST signal onto the finding taxonomy.
func signalToFinding(pkg schemas.Package, sig Signal) schemas.Finding {
	var (
		ftype      schemas.FindingType
		severity   schemas.Severity
		confidence float64
	)

	switch sig.Kind {
	case SignalMinerIndicator:
		ftype, severity, confidence = schemas.FindingCryptoMiner, schemas.SeverityCritical, 0.9
	case SignalEnvExfiltration:
		ftype, severity, confidence = schemas.FindingDataExfiltration, schemas.SeverityCritical, 0.75
	case SignalDynamicExecution:
		ftype, severity, confidence = schemas.FindingObfuscatedCode, schemas.SeverityHigh, 0.7
	case SignalProcessSpawn:
		ftype, severity, confidence = schemas.FindingSuspiciousScript, schemas.SeverityMedium, 0.6
	default:
		ftype, severity, confidence = schemas.FindingObfuscatedCode, schemas.SeverityMedium, 0.65
	}

	evidence := map[string]any{
		"signal": string(sig.Kind),
		"line":   sig.Line,
	}
	if sig.Excerpt != "" {
		evidence["excerpt"] = sig.Excerpt
	}

	return schemas.Finding{
		PackageName:     pkg.Name,
		PackageVersion:  pkg.Version,
		Type:            ftype,
		Severity:        severity,
		Description:     sig.Detail,
		DetectionMethod: schemas.DetectionRuleBased,
		Confidence:      confidence,
		Evidence:        evidence,
		ObservedAt:      time.Now().UTC(),
	}
}

// checkTyposquats flags packages one edit away from a well-known name.
func (s *Scanner) checkTyposquats(packages []schemas.Package) []schemas.Finding {
	var findings []schemas.Finding
	for _, pkg := range packages {
		popular := popularNames[pkg.Ecosystem]
		if popular == nil || popular[pkg.Name] {
			continue
		}
		for candidate := range popular {
			if editDistanceOne(pkg.Name, candidate) {
				findings = append(findings, schemas.Finding{
					PackageName:     pkg.Name,
					PackageVersion:  pkg.Version,
					Type:            schemas.FindingTyposquat,
					Severity:        schemas.SeverityHigh,
					Description:     fmt.Sprintf("name is one edit away from the popular package %q", candidate),
					DetectionMethod: schemas.DetectionRuleBased,
					Confidence:      0.7,
					Evidence:        map[string]any{"similar_to": candidate},
					Remediation:     fmt.Sprintf("Verify the dependency was not installed in place of %q.", candidate),
					ObservedAt:      time.Now().UTC(),
				})
				break
			}
		}
	}
	return findings
}

// queryAdvisories maps OSV advisories onto vulnerability findings.
func (s *Scanner) queryAdvisories(ctx context.Context, packages []schemas.Package) ([]schemas.Finding, error) {
	if s.intel == nil || len(packages) == 0 {
		return nil, nil
	}

	byName, err := s.intel.QueryBatch(ctx, packages)
	if err != nil {
		return nil, fmt.Errorf("advisory lookup: %w", err)
	}

	var findings []schemas.Finding
	for _, pkg := range packages {
		for _, adv := range byName[pkg.Name] {
			findings = append(findings, schemas.Finding{
				PackageName:     pkg.Name,
				PackageVersion:  pkg.Version,
				Type:            schemas.FindingVulnerability,
				Severity:        adv.Severity,
				Description:     adv.Summary,
				DetectionMethod: schemas.DetectionRuleBased,
				Confidence:      0.95,
				Evidence: map[string]any{
					"advisory_id": adv.ID,
					"aliases":     adv.Aliases,
				},
				Remediation: "Upgrade to a release that fixes " + adv.ID + ".",
				ObservedAt:  time.Now().UTC(),
			})
		}
	}
	return findings, nil
}

// editDistanceOne reports whether a and b differ by exactly one substitution,
// insertion, or deletion.
func editDistanceOne(a, b string) bool {
	if a == b {
		return false
	}
	la, lb := len(a), len(b)
	if la > lb {
		a, b, la, lb = b, a, lb, la
	}
	if lb-la > 1 {
		return false
	}

	if la == lb {
		diffs := 0
		for i := 0; i < la; i++ {
			if a[i] != b[i] {
				diffs++
			}
		}
		return diffs == 1
	}

	// One insertion in b relative to a.
	i, j := 0, 0
	skipped := false
	for i < la && j < lb {
		if a[i] == b[j] {
			i++
			j++
			continue
		}
		if skipped {
			return false
		}
		skipped = true
		j++
	}
	return true
}
