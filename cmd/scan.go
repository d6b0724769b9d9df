package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xm4dn355/packguard-cli/api/schemas"
	"github.com/xm4dn355/packguard-cli/internal/analysis/attack"
	"github.com/xm4dn355/packguard-cli/internal/analysis/content"
	"github.com/xm4dn355/packguard-cli/internal/analysis/detect"
	"github.com/xm4dn355/packguard-cli/internal/analysis/synthesis"
	"github.com/xm4dn355/packguard-cli/internal/analysis/trust"
	"github.com/xm4dn355/packguard-cli/internal/config"
	"github.com/xm4dn355/packguard-cli/internal/deps"
	"github.com/xm4dn355/packguard-cli/internal/fetch"
	"github.com/xm4dn355/packguard-cli/internal/intel"
	"github.com/xm4dn355/packguard-cli/internal/llmclient"
	"github.com/xm4dn355/packguard-cli/internal/observability"
	"github.com/xm4dn355/packguard-cli/internal/pipeline"
	"github.com/xm4dn355/packguard-cli/internal/reporting"
	"github.com/xm4dn355/packguard-cli/internal/store"
)

// severityRank orders severities for the --fail-on threshold.
var severityRank = map[string]int{
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

// newScanCmd creates and configures the `scan` command.
func newScanCmd() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan [target]",
		Short: "Scans a project directory, manifest file or git URL for supply-chain threats",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their Viper keys so command-line flags correctly
			// override values from the config file and environment.
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main.go (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg := appConfig
			cfg.Scan = config.ScanConfig{
				Target:    args[0],
				Ecosystem: viper.GetString("ecosystem"),
				Output:    viper.GetString("output"),
				Format:    viper.GetString("format"),
				FailOn:    strings.ToLower(viper.GetString("fail-on")),
				Store:     viper.GetBool("store"),
			}
			if cfg.Scan.FailOn != "none" {
				if _, ok := severityRank[cfg.Scan.FailOn]; !ok {
					return fmt.Errorf("invalid --fail-on value %q (none, low, medium, high, critical)", cfg.Scan.FailOn)
				}
			}

			analysisID := uuid.New().String()
			logger.Info("Starting scan",
				zap.String("analysis_id", analysisID),
				zap.String("target", cfg.Scan.Target),
			)

			// 1. Resolve the target to a local path.
			target, err := fetch.Resolve(ctx, cfg.Scan.Target, logger)
			if err != nil {
				return err
			}
			defer target.Cleanup()

			// 2. Locate and parse the dependency manifest.
			manifest, err := resolveManifest(target, cfg.Scan.Ecosystem)
			if err != nil {
				return err
			}
			packages, graph, err := deps.Parse(manifest)
			if err != nil {
				return err
			}
			if target.Mode != schemas.InputModeManifest {
				deps.AttachSourceDirs(packages, filepath.Dir(manifest.Path))
			}
			logger.Info("Manifest parsed",
				zap.String("manifest", manifest.Path),
				zap.String("ecosystem", string(manifest.Ecosystem)),
				zap.Int("packages", len(packages)),
			)

			// 3. Assemble the stage registry and run the pipeline.
			registry, cleanup := buildRegistry(cfg, logger)
			defer cleanup()

			slots := pipeline.DefaultSlots(stageConfigs(cfg.Pipeline))
			orch := pipeline.New(slots, registry, cfg.Pipeline.OverallBudget, logger)

			ac := pipeline.NewAnalysisContext(analysisID, nil, graph, packages)
			ac.Target = cfg.Scan.Target
			ac.Ecosystem = manifest.Ecosystem
			ac.InputMode = target.Mode

			report := orch.Run(ctx, ac)

			// 4. Write the report.
			if err := writeReport(report, cfg.Scan.Format, cfg.Scan.Output, logger); err != nil {
				return err
			}

			// 5. Optional history persistence.
			if cfg.Scan.Store {
				if err := persistReport(ctx, cfg, report, logger); err != nil {
					// A dead history database should not invalidate a scan
					// that already produced its report.
					logger.Warn("Failed to persist report", zap.Error(err))
				}
			}

			// 6. Exit policy.
			return applyFailOn(cfg.Scan.FailOn, report)
		},
	}

	scanCmd.Flags().StringP("output", "o", "", "Output file path for the report. If unset, the report goes to stdout.")
	scanCmd.Flags().StringP("format", "f", "json", "Report format ('json', 'markdown', 'html').")
	scanCmd.Flags().StringP("ecosystem", "e", "", "Ecosystem override ('npm', 'pypi', 'maven'). Default is auto-detect.")
	scanCmd.Flags().String("fail-on", "none", "Exit non-zero when a finding at or above this severity exists.")
	scanCmd.Flags().Bool("store", false, "Persist the finished report to the history database.")

	return scanCmd
}

// resolveManifest turns the resolved target into the single manifest the run
// analyzes. Directories may hold manifests from several ecosystems; the
// override narrows the choice, otherwise the shallowest ecosystem wins.
func resolveManifest(target *fetch.Target, override string) (deps.Manifest, error) {
	if target.Mode == schemas.InputModeManifest {
		eco, err := deps.ClassifyManifest(target.Path)
		if err != nil {
			return deps.Manifest{}, err
		}
		if override != "" && !strings.EqualFold(override, string(eco)) {
			return deps.Manifest{}, fmt.Errorf("manifest %s is %s, not %s", filepath.Base(target.Path), eco, override)
		}
		return deps.Manifest{Path: target.Path, Ecosystem: eco}, nil
	}

	manifests, err := deps.DetectManifests(target.Path)
	if err != nil {
		return deps.Manifest{}, err
	}
	if override != "" {
		filtered := manifests[:0]
		for _, m := range manifests {
			if strings.EqualFold(override, string(m.Ecosystem)) {
				filtered = append(filtered, m)
			}
		}
		manifests = filtered
		if len(manifests) == 0 {
			return deps.Manifest{}, fmt.Errorf("no %s manifest found under %s", override, target.Path)
		}
	}

	eco, err := deps.PrimaryEcosystem(manifests)
	if err != nil {
		return deps.Manifest{}, err
	}

	candidates := manifests[:0]
	for _, m := range manifests {
		if m.Ecosystem == eco {
			candidates = append(candidates, m)
		}
	}
	// Shallowest manifest wins; ties break on the sorted path order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return strings.Count(filepath.ToSlash(candidates[i].Path), "/") <
			strings.Count(filepath.ToSlash(candidates[j].Path), "/")
	})
	return candidates[0], nil
}

// buildRegistry wires the five stage executables from configuration. Optional
// backends (intel cache, GitHub token, LLM key) degrade to reduced behavior
// rather than blocking the scan.
func buildRegistry(cfg *config.Config, logger *zap.Logger) (pipeline.Registry, func()) {
	cleanups := []func(){}
	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}

	// Threat intelligence. A broken cache just means remote-only lookups.
	cache, err := intel.OpenCache(intel.CacheConfig{
		Path:     cfg.Intel.CacheDir,
		InMemory: cfg.Intel.InMemoryCache,
		TTL:      cfg.Intel.CacheTTL,
	}, logger)
	if err != nil {
		logger.Warn("Intel cache unavailable, advisory lookups will not be cached", zap.Error(err))
	} else {
		cleanups = append(cleanups, func() {
			if err := cache.Close(); err != nil {
				logger.Warn("Failed to close intel cache", zap.Error(err))
			}
		})
	}
	intelClient := intel.NewClient(cfg.Intel.Endpoint, cfg.Intel.RequestTimeout, cache, logger)

	// Registry metadata and repository health for trust scoring.
	registryClient := trust.NewRegistryClient(
		cfg.Registry.NPMEndpoint, cfg.Registry.PyPIEndpoint,
		cfg.Registry.RequestTimeout, cfg.Registry.RateLimit, cfg.Registry.Burst, logger,
	)
	var githubInspector *trust.GitHubInspector
	if cfg.Registry.GitHubToken != "" {
		githubInspector = trust.NewGitHubInspector(cfg.Registry.GitHubToken, logger)
	}

	// The agent-analysis stages need an LLM. Without one they fall back to
	// their deterministic behavior.
	var llm schemas.LLMClient
	if client, err := llmclient.NewClient(cfg.LLM, logger); err != nil {
		logger.Warn("LLM client unavailable, agent analysis stages will degrade", zap.Error(err))
	} else {
		llm = client
	}

	registry := pipeline.Registry{
		pipeline.StagePrimaryDetection:      detect.NewScanner(intelClient, logger).Stage(),
		pipeline.StageTrustScoring:          trust.NewScorer(registryClient, githubInspector, cfg.Registry.Concurrency, logger).Stage(),
		pipeline.StageDeepContentAnalysis:   content.NewAnalyzer(llm, logger).Stage(),
		pipeline.StageAttackPatternAnalysis: attack.NewAnalyzer(llm, logger).Stage(),
		pipeline.StageSynthesis:             synthesis.NewSynthesizer(llm, logger).Stage(),
	}
	return registry, cleanup
}

// stageConfigs maps the configured per-stage policies onto the pipeline's
// stage-config shape.
func stageConfigs(cfg config.PipelineConfig) map[string]pipeline.StageConfig {
	names := []string{
		pipeline.StagePrimaryDetection,
		pipeline.StageTrustScoring,
		pipeline.StageDeepContentAnalysis,
		pipeline.StageAttackPatternAnalysis,
		pipeline.StageSynthesis,
	}

	out := make(map[string]pipeline.StageConfig, len(names))
	for _, name := range names {
		s := cfg.StageSettingsFor(name)
		out[name] = pipeline.StageConfig{
			Timeout:    s.Timeout,
			MaxRetries: s.MaxRetries,
			BaseDelay:  s.BaseDelay,
		}
	}
	return out
}

// writeReport renders the report in the requested format.
func writeReport(report map[string]any, format, outputPath string, logger *zap.Logger) error {
	reporter, err := reporting.New(format, outputPath)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	defer func() {
		if err := reporter.Close(); err != nil {
			logger.Error("Failed to close reporter", zap.Error(err))
		}
	}()

	if err := reporter.Write(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if outputPath != "" {
		logger.Info("Report written", zap.String("path", outputPath), zap.String("format", format))
	}
	return nil
}

// persistReport saves the finished report into the scan-history database.
func persistReport(ctx context.Context, cfg *config.Config, report map[string]any, logger *zap.Logger) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database URL is not configured (PACKGUARD_DATABASE_URL)")
	}
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	dbStore, err := store.New(ctx, pool, logger)
	if err != nil {
		return err
	}
	return dbStore.SaveReport(ctx, report)
}

// applyFailOn turns the report's severity counts into the process exit
// policy.
func applyFailOn(failOn string, report map[string]any) error {
	if failOn == "" || failOn == "none" {
		return nil
	}
	threshold := severityRank[failOn]

	for severity, count := range reportSeverityCounts(report) {
		if count > 0 && severityRank[severity] >= threshold {
			return fmt.Errorf("findings at or above severity %q present", failOn)
		}
	}
	return nil
}

// reportSeverityCounts tolerates both the native map[string]int shape and the
// JSON-round-tripped map[string]any one.
func reportSeverityCounts(report map[string]any) map[string]int {
	summary, ok := report["summary"].(map[string]any)
	if !ok {
		return nil
	}
	switch counts := summary["severity_counts"].(type) {
	case map[string]int:
		return counts
	case map[string]any:
		out := make(map[string]int, len(counts))
		for k, raw := range counts {
			switch n := raw.(type) {
			case int:
				out[k] = n
			case float64:
				out[k] = int(n)
			}
		}
		return out
	default:
		return nil
	}
}
