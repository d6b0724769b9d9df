// File: internal/intel/osv.go
package intel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xm4dn355/packguard-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Advisory is one known vulnerability affecting a package version.
type Advisory struct {
	ID       string          `json:"id"`
	Summary  string          `json:"summary"`
	Severity schemas.Severity `json:"severity"`
	Aliases  []string        `json:"aliases,omitempty"`
}

// Client queries the OSV.dev batch API with a local cache in front.
type Client struct {
	endpoint   string
	httpClient *http.Client
	cache      *Cache
	logger     *zap.Logger
}

// NewClient builds an OSV client. The cache may be nil, in which case every
// query hits the network.
func NewClient(endpoint string, timeout time.Duration, cache *Cache, logger *zap.Logger) *Client {
	if endpoint == "" {
		endpoint = "https://api.osv.dev/v1/querybatch"
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		logger:     logger.Named("intel.osv"),
	}
}

// osvEcosystems maps our ecosystem tags onto OSV's names.
var osvEcosystems = map[schemas.Ecosystem]string{
	schemas.EcosystemNPM:   "npm",
	schemas.EcosystemPyPI:  "PyPI",
	schemas.EcosystemMaven: "Maven",
}

// -- OSV wire structures --

type osvQuery struct {
	Package osvPackage `json:"package"`
	Version string     `json:"version,omitempty"`
}

type osvPackage struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
}

type osvBatchRequest struct {
	Queries []osvQuery `json:"queries"`
}

type osvBatchResponse struct {
	Results []struct {
		Vulns []osvVuln `json:"vulns"`
	} `json:"results"`
}

type osvVuln struct {
	ID       string   `json:"id"`
	Summary  string   `json:"summary"`
	Aliases  []string `json:"aliases"`
	Severity []struct {
		Type  string `json:"type"`
		Score string `json:"score"`
	} `json:"severity"`
	DatabaseSpecific struct {
		Severity string `json:"severity"`
	} `json:"database_specific"`
}

// QueryBatch looks up advisories for the given packages, keyed by package
// name. Cached entries are served without a network round trip; the
// remainder goes out as a single batch request with exponential backoff on
// transient failures.
func (c *Client) QueryBatch(ctx context.Context, packages []schemas.Package) (map[string][]Advisory, error) {
	results := make(map[string][]Advisory, len(packages))
	var misses []schemas.Package

	for _, pkg := range packages {
		advisories, hit := c.cachedAdvisories(pkg)
		if hit {
			results[pkg.Name] = advisories
			continue
		}
		misses = append(misses, pkg)
	}

	if len(misses) == 0 {
		c.logger.Debug("All advisory lookups served from cache", zap.Int("packages", len(packages)))
		return results, nil
	}

	fetched, err := c.queryRemote(ctx, misses)
	if err != nil {
		return nil, err
	}
	for _, pkg := range misses {
		advisories := fetched[pkg.Name]
		results[pkg.Name] = advisories
		c.storeAdvisories(pkg, advisories)
	}
	return results, nil
}

func (c *Client) queryRemote(ctx context.Context, packages []schemas.Package) (map[string][]Advisory, error) {
	queries := make([]osvQuery, len(packages))
	for i, pkg := range packages {
		eco, ok := osvEcosystems[pkg.Ecosystem]
		if !ok {
			eco = string(pkg.Ecosystem)
		}
		queries[i] = osvQuery{
			Package: osvPackage{Name: pkg.Name, Ecosystem: eco},
			Version: pkg.Version,
		}
	}

	body, err := json.Marshal(osvBatchRequest{Queries: queries})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal OSV request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = time.Minute
	b.MaxInterval = 15 * time.Second

	var payload osvBatchResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create OSV request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("Network error during OSV query, retrying...", zap.Error(err))
			return fmt.Errorf("osv request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read OSV response: %w", err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			// continue below
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
			return fmt.Errorf("osv service returned transient status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("osv service returned status %d: %s", resp.StatusCode, string(respBody)))
		}

		if err := json.Unmarshal(respBody, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("invalid OSV response: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}

	out := make(map[string][]Advisory)
	for i, result := range payload.Results {
		if i >= len(packages) {
			break
		}
		name := packages[i].Name
		for _, vuln := range result.Vulns {
			out[name] = append(out[name], Advisory{
				ID:       vuln.ID,
				Summary:  vuln.Summary,
				Severity: severityFromVuln(vuln),
				Aliases:  vuln.Aliases,
			})
		}
	}
	return out, nil
}

// severityFromVuln maps OSV severity metadata onto our buckets. OSV encodes
// severity either as a database-specific label or a CVSS vector; a missing
// signal defaults to medium rather than dropping the advisory.
func severityFromVuln(vuln osvVuln) schemas.Severity {
	switch strings.ToLower(vuln.DatabaseSpecific.Severity) {
	case "critical":
		return schemas.SeverityCritical
	case "high":
		return schemas.SeverityHigh
	case "moderate", "medium":
		return schemas.SeverityMedium
	case "low":
		return schemas.SeverityLow
	}
	for _, sev := range vuln.Severity {
		if strings.HasPrefix(sev.Score, "CVSS:") && strings.Contains(sev.Score, "/A:H") {
			return schemas.SeverityHigh
		}
	}
	return schemas.SeverityMedium
}

func cacheKey(pkg schemas.Package) string {
	return fmt.Sprintf("osv:%s:%s@%s", pkg.Ecosystem, pkg.Name, pkg.Version)
}

func (c *Client) cachedAdvisories(pkg schemas.Package) ([]Advisory, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, hit, err := c.cache.Get(cacheKey(pkg))
	if err != nil || !hit {
		return nil, false
	}
	var advisories []Advisory
	if err := json.Unmarshal(raw, &advisories); err != nil {
		return nil, false
	}
	return advisories, true
}

func (c *Client) storeAdvisories(pkg schemas.Package, advisories []Advisory) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(advisories)
	if err != nil {
		return
	}
	if err := c.cache.Set(cacheKey(pkg), raw); err != nil {
		c.logger.Warn("Failed to cache advisories", zap.String("package", pkg.Name), zap.Error(err))
	}
}
