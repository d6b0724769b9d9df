// Filename: trust/trust_test.go
package trust

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xm4dn355/packguard-cli/api/schemas"
	"github.com/xm4dn355/packguard-cli/internal/pipeline"
)

func TestParseGitHubRepo(t *testing.T) {
	testCases := []struct {
		url         string
		owner, repo string
		ok          bool
	}{
		{"https://github.com/lodash/lodash", "lodash", "lodash", true},
		{"https://github.com/lodash/lodash.git", "lodash", "lodash", true},
		{"https://www.github.com/expressjs/express", "expressjs", "express", true},
		{"https://gitlab.com/some/repo", "", "", false},
		{"not a url at all \x00", "", "", false},
	}
	for _, tc := range testCases {
		owner, repo, ok := parseGitHubRepo(tc.url)
		assert.Equal(t, tc.ok, ok, tc.url)
		if tc.ok {
			assert.Equal(t, tc.owner, owner)
			assert.Equal(t, tc.repo, repo)
		}
	}
}

func TestNormalizeRepoURL(t *testing.T) {
	assert.Equal(t, "https://github.com/a/b", normalizeRepoURL("git+https://github.com/a/b.git"))
	assert.Equal(t, "https://github.com/a/b", normalizeRepoURL("github.com/a/b"))
	assert.Equal(t, "", normalizeRepoURL(""))
}

func TestComputeScore(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	t.Run("established package scores high", func(t *testing.T) {
		meta := &Metadata{
			CreatedAt:       now.Add(-5 * 365 * 24 * time.Hour),
			VersionCount:    40,
			MaintainerCount: 5,
			RepositoryURL:   "https://github.com/a/b",
		}
		health := &RepoHealth{Stars: 5000, PushedAt: now.Add(-24 * time.Hour)}
		score := computeScore(meta, health, now)
		assert.GreaterOrEqual(t, score, 0.9)
		assert.LessOrEqual(t, score, 1.0)
	})

	t.Run("fresh single-release package scores low", func(t *testing.T) {
		meta := &Metadata{
			CreatedAt:    now.Add(-48 * time.Hour),
			VersionCount: 1,
		}
		score := computeScore(meta, nil, now)
		assert.Less(t, score, pipeline.LowTrustThreshold)
	})

	t.Run("archived repo is penalized", func(t *testing.T) {
		meta := &Metadata{CreatedAt: now.Add(-3 * 365 * 24 * time.Hour), VersionCount: 20, MaintainerCount: 1, RepositoryURL: "https://github.com/a/b"}
		active := computeScore(meta, &RepoHealth{Stars: 50}, now)
		archived := computeScore(meta, &RepoHealth{Stars: 50, Archived: true}, now)
		assert.Less(t, archived, active)
	})

	t.Run("score is clamped", func(t *testing.T) {
		score := computeScore(&Metadata{CreatedAt: now.Add(-time.Hour), VersionCount: 1}, &RepoHealth{Archived: true}, now)
		assert.GreaterOrEqual(t, score, 0.0)
	})
}

func npmDoc(created string, versions int) string {
	doc := `{"time":{"created":"` + created + `","modified":"` + created + `"},"maintainers":[{"name":"m"}],"repository":{"url":"git+https://github.com/a/b.git"},"versions":{`
	for i := 0; i < versions; i++ {
		if i > 0 {
			doc += ","
		}
		doc += `"1.0.` + string(rune('0'+i)) + `":{}`
	}
	return doc + `}}`
}

func TestRegistryClientNPM(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/left-pad", r.URL.Path)
		w.Write([]byte(npmDoc("2016-03-01T00:00:00Z", 3)))
	}))
	defer server.Close()

	client := NewRegistryClient(server.URL, "", 5*time.Second, 100, 0, zap.NewNop())
	meta, err := client.Lookup(context.Background(), schemas.Package{Name: "left-pad", Ecosystem: schemas.EcosystemNPM})
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 3, meta.VersionCount)
	assert.Equal(t, 1, meta.MaintainerCount)
	assert.Equal(t, "https://github.com/a/b", meta.RepositoryURL)
	assert.Equal(t, 2016, meta.CreatedAt.Year())
}

func TestRegistryClientPyPI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pypi/requests/json", r.URL.Path)
		w.Write([]byte(`{"info":{"author":"ken","project_urls":{"Source":"https://github.com/psf/requests"}},"releases":{"2.0.0":[{"upload_time_iso_8601":"2013-09-24T00:00:00Z"}],"2.31.0":[{"upload_time_iso_8601":"2023-05-22T00:00:00Z"}]}}`))
	}))
	defer server.Close()

	client := NewRegistryClient("", server.URL, 5*time.Second, 100, 0, zap.NewNop())
	meta, err := client.Lookup(context.Background(), schemas.Package{Name: "requests", Ecosystem: schemas.EcosystemPyPI})
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 2, meta.VersionCount)
	assert.Equal(t, "https://github.com/psf/requests", meta.RepositoryURL)
	assert.Equal(t, 2013, meta.CreatedAt.Year())
	assert.Equal(t, 2023, meta.ModifiedAt.Year())
}

func TestRegistryClientNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewRegistryClient(server.URL, "", 5*time.Second, 100, 0, zap.NewNop())
	_, err := client.Lookup(context.Background(), schemas.Package{Name: "ghost", Ecosystem: schemas.EcosystemNPM})
	assert.Error(t, err)
}

func TestRegistryClientUnsupportedEcosystem(t *testing.T) {
	client := NewRegistryClient("", "", 5*time.Second, 100, 0, zap.NewNop())
	meta, err := client.Lookup(context.Background(), schemas.Package{Name: "junit:junit", Ecosystem: schemas.EcosystemMaven})
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestScorerAnalyze(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/old-pkg":
			w.Write([]byte(npmDoc("2015-01-01T00:00:00Z", 9)))
		case "/new-pkg":
			w.Write([]byte(npmDoc(time.Now().UTC().Format(time.RFC3339), 1)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	registry := NewRegistryClient(server.URL, "", 5*time.Second, 100, 0, zap.NewNop())
	scorer := NewScorer(registry, nil, 0, zap.NewNop())

	ac := pipeline.NewAnalysisContext("id", nil, nil, []schemas.Package{
		{Name: "old-pkg", Version: "1.0.0", Ecosystem: schemas.EcosystemNPM},
		{Name: "new-pkg", Version: "0.0.1", Ecosystem: schemas.EcosystemNPM},
		{Name: "missing-pkg", Version: "1.0.0", Ecosystem: schemas.EcosystemNPM},
	})

	payload, err := scorer.Analyze(context.Background(), ac)
	require.NoError(t, err)
	require.NoError(t, pipeline.ValidatePayload(payload))

	pkgs := payload["packages"].([]map[string]any)
	require.Len(t, pkgs, 3)

	scores := make(map[string]float64)
	for _, pkg := range pkgs {
		scores[pkg["name"].(string)] = pkg["trust_score"].(float64)
	}
	assert.Greater(t, scores["old-pkg"], 0.5)
	assert.Less(t, scores["new-pkg"], pipeline.LowTrustThreshold)
	assert.Equal(t, neutralScore, scores["missing-pkg"])

	findings := payload["findings"].([]schemas.Finding)
	require.Len(t, findings, 1)
	assert.Equal(t, "new-pkg", findings[0].PackageName)
	assert.Equal(t, schemas.FindingLowTrust, findings[0].Type)

	// One of three lookups failed, so confidence drops below full.
	assert.InDelta(t, 1.0-0.5/3.0, payload["confidence"].(float64), 1e-9)
}
