// Filename: trust/github.go
package trust

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"
)

// RepoHealth summarizes the repository signals behind a package.
type RepoHealth struct {
	Stars      int
	OpenIssues int
	Archived   bool
	PushedAt   time.Time
}

// GitHubInspector resolves repository health for packages whose registry
// metadata points at a GitHub repository.
type GitHubInspector struct {
	client *github.Client
	logger *zap.Logger
}

// NewGitHubInspector builds an inspector. An empty token uses unauthenticated
// access, which is fine for the low request volumes of a single scan.
func NewGitHubInspector(token string, logger *zap.Logger) *GitHubInspector {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHubInspector{
		client: client,
		logger: logger.Named("trust.github"),
	}
}

// Health looks up the repository referenced by repoURL. A nil result with nil
// error means the URL does not point at GitHub.
func (g *GitHubInspector) Health(ctx context.Context, repoURL string) (*RepoHealth, error) {
	owner, repo, ok := parseGitHubRepo(repoURL)
	if !ok {
		return nil, nil
	}

	r, _, err := g.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	health := &RepoHealth{
		Stars:      r.GetStargazersCount(),
		OpenIssues: r.GetOpenIssuesCount(),
		Archived:   r.GetArchived(),
	}
	if pushed := r.GetPushedAt(); !pushed.IsZero() {
		health.PushedAt = pushed.Time
	}
	return health, nil
}

// parseGitHubRepo extracts owner/repo from a github.com URL.
func parseGitHubRepo(raw string) (string, string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}
	host := strings.TrimPrefix(u.Host, "www.")
	if host != "github.com" {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}
