// Filename: trust/registry.go
// Registry metadata lookups for the trust-scoring heuristics. One client
// handles both npm and PyPI; requests are rate limited so large dependency
// trees do not hammer the public registries.
package trust

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xm4dn355/packguard-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultNPMEndpoint  = "https://registry.npmjs.org"
	defaultPyPIEndpoint = "https://pypi.org"
)

// Metadata is the registry-level view of a package used for scoring.
type Metadata struct {
	Name            string
	CreatedAt       time.Time
	ModifiedAt      time.Time
	VersionCount    int
	MaintainerCount int
	RepositoryURL   string
}

// RegistryClient fetches package metadata from the public registries.
type RegistryClient struct {
	npmEndpoint  string
	pypiEndpoint string
	httpClient   *http.Client
	limiter      *rate.Limiter
	logger       *zap.Logger
}

// NewRegistryClient builds a client limited to rps requests per second with
// the given burst. Empty endpoints fall back to the public registries.
func NewRegistryClient(npmEndpoint, pypiEndpoint string, timeout time.Duration, rps float64, burst int, logger *zap.Logger) *RegistryClient {
	if npmEndpoint == "" {
		npmEndpoint = defaultNPMEndpoint
	}
	if pypiEndpoint == "" {
		pypiEndpoint = defaultPyPIEndpoint
	}
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = int(rps)
	}
	return &RegistryClient{
		npmEndpoint:  strings.TrimRight(npmEndpoint, "/"),
		pypiEndpoint: strings.TrimRight(pypiEndpoint, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
		logger:       logger.Named("trust.registry"),
	}
}

// Lookup fetches the metadata for one package. Unsupported ecosystems return
// a nil Metadata with no error; the scorer treats that as neutral.
func (c *RegistryClient) Lookup(ctx context.Context, pkg schemas.Package) (*Metadata, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	switch pkg.Ecosystem {
	case schemas.EcosystemNPM:
		return c.lookupNPM(ctx, pkg.Name)
	case schemas.EcosystemPyPI:
		return c.lookupPyPI(ctx, pkg.Name)
	default:
		return nil, nil
	}
}

type npmDocument struct {
	Time        map[string]string `json:"time"`
	Versions    map[string]any    `json:"versions"`
	Maintainers []struct {
		Name string `json:"name"`
	} `json:"maintainers"`
	Repository struct {
		URL string `json:"url"`
	} `json:"repository"`
}

func (c *RegistryClient) lookupNPM(ctx context.Context, name string) (*Metadata, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/%s", c.npmEndpoint, url.PathEscape(name)))
	if err != nil {
		return nil, err
	}

	var doc npmDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode npm metadata for %s: %w", name, err)
	}

	meta := &Metadata{
		Name:            name,
		VersionCount:    len(doc.Versions),
		MaintainerCount: len(doc.Maintainers),
		RepositoryURL:   normalizeRepoURL(doc.Repository.URL),
	}
	if created, ok := doc.Time["created"]; ok {
		meta.CreatedAt, _ = time.Parse(time.RFC3339, created)
	}
	if modified, ok := doc.Time["modified"]; ok {
		meta.ModifiedAt, _ = time.Parse(time.RFC3339, modified)
	}
	return meta, nil
}

type pypiDocument struct {
	Info struct {
		Author      string            `json:"author"`
		ProjectURLs map[string]string `json:"project_urls"`
		HomePage    string            `json:"home_page"`
	} `json:"info"`
	Releases map[string][]struct {
		UploadTime string `json:"upload_time_iso_8601"`
	} `json:"releases"`
}

func (c *RegistryClient) lookupPyPI(ctx context.Context, name string) (*Metadata, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/pypi/%s/json", c.pypiEndpoint, url.PathEscape(name)))
	if err != nil {
		return nil, err
	}

	var doc pypiDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode PyPI metadata for %s: %w", name, err)
	}

	meta := &Metadata{
		Name:         name,
		VersionCount: len(doc.Releases),
	}
	if doc.Info.Author != "" {
		meta.MaintainerCount = 1
	}

	// Oldest and newest upload times bound the project's lifespan.
	for _, files := range doc.Releases {
		for _, f := range files {
			ts, err := time.Parse(time.RFC3339, f.UploadTime)
			if err != nil {
				continue
			}
			if meta.CreatedAt.IsZero() || ts.Before(meta.CreatedAt) {
				meta.CreatedAt = ts
			}
			if ts.After(meta.ModifiedAt) {
				meta.ModifiedAt = ts
			}
		}
	}

	for key, u := range doc.Info.ProjectURLs {
		lower := strings.ToLower(key)
		if lower == "source" || lower == "repository" || lower == "source code" {
			meta.RepositoryURL = normalizeRepoURL(u)
			break
		}
	}
	if meta.RepositoryURL == "" {
		meta.RepositoryURL = normalizeRepoURL(doc.Info.HomePage)
	}
	return meta, nil
}

func (c *RegistryClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("package not found in registry (%s)", rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned status %d for %s", resp.StatusCode, rawURL)
	}
	return io.ReadAll(resp.Body)
}

// normalizeRepoURL strips VCS scheme prefixes like git+https:// and trailing
// .git so the URL can be matched against GitHub.
func normalizeRepoURL(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "git+")
	raw = strings.TrimPrefix(raw, "git://")
	raw = strings.TrimSuffix(raw, ".git")
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return raw
}
