// Filename: trust/scorer.go
// The trust-scoring stage: registry metadata and repo health heuristics
// collapsed into one score per package in [0,1].
package trust

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xm4dn355/packguard-cli/api/schemas"
	"github.com/xm4dn355/packguard-cli/internal/pipeline"
)

// neutralScore is assigned when no registry metadata could be obtained. It
// sits above the low-trust threshold so lookup failures alone never trigger
// attack-pattern analysis.
const neutralScore = 0.5

const defaultConcurrency = 8

// Scorer implements the trust-scoring stage. The GitHub inspector is
// optional; without it the registry signals alone drive the score.
type Scorer struct {
	registry    *RegistryClient
	github      *GitHubInspector
	concurrency int
	logger      *zap.Logger

	// now is injected for deterministic age calculations in tests.
	now func() time.Time
}

// NewScorer builds the trust-scoring stage. A non-positive concurrency picks
// the default fan-out width.
func NewScorer(registry *RegistryClient, githubInspector *GitHubInspector, concurrency int, logger *zap.Logger) *Scorer {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Scorer{
		registry:    registry,
		github:      githubInspector,
		concurrency: concurrency,
		logger:      logger.Named("trust"),
		now:         time.Now,
	}
}

// Stage adapts the scorer to the pipeline's stage-executable contract.
func (s *Scorer) Stage() pipeline.StageFunc {
	return func(ctx context.Context, ac *pipeline.AnalysisContext) (map[string]any, error) {
		return s.Analyze(ctx, ac)
	}
}

// Analyze scores every package concurrently and returns the stage payload
// with a trust_score per package plus low_trust findings for scores below
// the attack-analysis threshold.
func (s *Scorer) Analyze(ctx context.Context, ac *pipeline.AnalysisContext) (map[string]any, error) {
	type scored struct {
		pkg     schemas.Package
		score   float64
		repoURL string
		err     error
	}

	results := make([]scored, len(ac.Packages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, pkg := range ac.Packages {
		i, pkg := i, pkg
		g.Go(func() error {
			score, repoURL, err := s.scorePackage(gctx, pkg)
			results[i] = scored{pkg: pkg, score: score, repoURL: repoURL, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("trust scoring failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	packages := make([]map[string]any, 0, len(results))
	findings := make([]schemas.Finding, 0)
	failures := 0

	for _, r := range results {
		if r.err != nil {
			failures++
			s.logger.Debug("Metadata lookup failed, scoring neutrally",
				zap.String("package", r.pkg.Name), zap.Error(r.err))
		}

		m := r.pkg.PayloadMap()
		m["trust_score"] = r.score
		if r.repoURL != "" {
			m["repository_url"] = r.repoURL
		}
		packages = append(packages, m)

		if r.score < pipeline.LowTrustThreshold {
			findings = append(findings, schemas.Finding{
				PackageName:     r.pkg.Name,
				PackageVersion:  r.pkg.Version,
				Type:            schemas.FindingLowTrust,
				Severity:        schemas.SeverityMedium,
				Description:     fmt.Sprintf("trust score %.2f is below the review threshold", r.score),
				DetectionMethod: schemas.DetectionRuleBased,
				Confidence:      0.8,
				Evidence:        map[string]any{"trust_score": r.score},
				Remediation:     "Review the package's registry history and maintainers before keeping it.",
				ObservedAt:      time.Now().UTC(),
			})
		}
	}

	confidence := 1.0
	if len(results) > 0 {
		confidence = 1.0 - 0.5*float64(failures)/float64(len(results))
	}

	s.logger.Info("Trust scoring completed",
		zap.Int("packages", len(packages)),
		zap.Int("lookup_failures", failures),
		zap.Int("low_trust", len(findings)),
	)

	return map[string]any{
		"packages":   packages,
		"findings":   findings,
		"confidence": confidence,
	}, nil
}

// scorePackage resolves metadata and health for one package and computes its
// score. Lookup failures yield the neutral score and the error for logging.
func (s *Scorer) scorePackage(ctx context.Context, pkg schemas.Package) (float64, string, error) {
	meta, err := s.registry.Lookup(ctx, pkg)
	if err != nil {
		return neutralScore, "", err
	}
	if meta == nil {
		return neutralScore, "", nil
	}

	var health *RepoHealth
	if s.github != nil && meta.RepositoryURL != "" {
		health, err = s.github.Health(ctx, meta.RepositoryURL)
		if err != nil {
			// Repo signals are a bonus; score on registry data alone.
			s.logger.Debug("Repo health lookup failed",
				zap.String("package", pkg.Name), zap.Error(err))
			health = nil
		}
	}

	return computeScore(meta, health, s.now()), meta.RepositoryURL, nil
}

// computeScore folds the heuristics into [0,1]. The weights favor longevity
// and maintenance activity, the strongest practical signals against
// freshly-registered attack packages.
func computeScore(meta *Metadata, health *RepoHealth, now time.Time) float64 {
	score := 0.5

	if !meta.CreatedAt.IsZero() {
		age := now.Sub(meta.CreatedAt)
		switch {
		case age > 2*365*24*time.Hour:
			score += 0.15
		case age > 180*24*time.Hour:
			score += 0.05
		case age < 30*24*time.Hour:
			score -= 0.3
		}
	}

	switch {
	case meta.VersionCount >= 10:
		score += 0.1
	case meta.VersionCount <= 1:
		score -= 0.1
	}

	if meta.MaintainerCount == 0 {
		score -= 0.1
	} else if meta.MaintainerCount >= 3 {
		score += 0.05
	}

	if meta.RepositoryURL == "" {
		score -= 0.1
	}

	if health != nil {
		switch {
		case health.Stars >= 1000:
			score += 0.15
		case health.Stars >= 100:
			score += 0.1
		}
		if health.Archived {
			score -= 0.15
		}
		if !health.PushedAt.IsZero() {
			idle := now.Sub(health.PushedAt)
			if idle < 180*24*time.Hour {
				score += 0.05
			} else if idle > 2*365*24*time.Hour {
				score -= 0.1
			}
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
