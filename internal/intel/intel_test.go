// File: internal/intel/intel_test.go
package intel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xm4dn355/packguard-cli/api/schemas"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := OpenCache(CacheConfig{InMemory: true, TTL: time.Hour}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestCache_RoundTrip(t *testing.T) {
	cache := newTestCache(t)

	_, hit, err := cache.Get("missing")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set("key", []byte("value")))

	value, hit, err := cache.Get("key")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte("value"), value)
}

func TestCache_Purge(t *testing.T) {
	cache := newTestCache(t)
	require.NoError(t, cache.Set("key", []byte("value")))
	require.NoError(t, cache.Purge())

	_, hit, err := cache.Get("key")
	require.NoError(t, err)
	assert.False(t, hit)
}

const osvResponse = `{
  "results": [
    {
      "vulns": [
        {
          "id": "GHSA-abcd-1234",
          "summary": "Prototype pollution in widget-js",
          "aliases": ["CVE-2024-0001"],
          "database_specific": {"severity": "HIGH"}
        }
      ]
    },
    {"vulns": []}
  ]
}`

func TestClient_QueryBatch(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(osvResponse))
	}))
	defer server.Close()

	cache := newTestCache(t)
	client := NewClient(server.URL, 5*time.Second, cache, zap.NewNop())

	packages := []schemas.Package{
		{Name: "widget-js", Version: "1.0.0", Ecosystem: schemas.EcosystemNPM},
		{Name: "clean-pkg", Version: "2.0.0", Ecosystem: schemas.EcosystemNPM},
	}

	results, err := client.QueryBatch(context.Background(), packages)
	require.NoError(t, err)

	require.Len(t, results["widget-js"], 1)
	assert.Equal(t, "GHSA-abcd-1234", results["widget-js"][0].ID)
	assert.Equal(t, schemas.SeverityHigh, results["widget-js"][0].Severity)
	assert.Empty(t, results["clean-pkg"])
	assert.Equal(t, int32(1), requests.Load())

	// Second query is fully served from cache.
	results, err = client.QueryBatch(context.Background(), packages)
	require.NoError(t, err)
	require.Len(t, results["widget-js"], 1)
	assert.Equal(t, int32(1), requests.Load(), "cached lookups must not hit the network")
}

func TestClient_QueryBatch_TransientRetry(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"results": [{"vulns": []}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, nil, zap.NewNop())
	_, err := client.QueryBatch(context.Background(), []schemas.Package{
		{Name: "pkg", Version: "1.0.0", Ecosystem: schemas.EcosystemNPM},
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, requests.Load(), int32(2))
}

func TestClient_QueryBatch_PermanentFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, nil, zap.NewNop())
	_, err := client.QueryBatch(context.Background(), []schemas.Package{
		{Name: "pkg", Version: "1.0.0", Ecosystem: schemas.EcosystemNPM},
	})
	assert.Error(t, err)
}

func TestSeverityFromVuln_CVSSFallback(t *testing.T) {
	vuln := osvVuln{}
	vuln.Severity = []struct {
		Type  string `json:"type"`
		Score string `json:"score"`
	}{{Type: "CVSS_V3", Score: "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H"}}

	assert.Equal(t, schemas.SeverityHigh, severityFromVuln(vuln))
	assert.Equal(t, schemas.SeverityMedium, severityFromVuln(osvVuln{}))
}
