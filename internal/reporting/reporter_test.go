// internal/reporting/reporter_test.go
package reporting

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func sampleReport() map[string]any {
	return map[string]any{
		"metadata": map[string]any{
			"analysis_id":        "run-1",
			"target":             "./app",
			"ecosystem":          "npm",
			"analysis_status":    "full",
			"confidence":         0.95,
			"degradation_reason": "all analysis stages completed",
		},
		"summary": map[string]any{
			"executive_summary": "Analyzed 2 packages; 1 finding.",
			"severity_counts":   map[string]int{"critical": 1, "high": 0, "medium": 0, "low": 0},
		},
		"security_findings": []map[string]any{
			{"severity": "critical", "package_name": "evil-pkg", "type": "crypto_miner", "description": "mining pool endpoint"},
		},
		"recommendations": map[string]any{
			"immediate":  []string{"Remove evil-pkg"},
			"short_term": []string{},
			"long_term":  []string{"Re-scan after updates"},
		},
		"performance_metrics": map[string]any{
			"total_duration_ms": int64(420),
			"stages_completed":  3,
			"stages_failed":     0,
		},
	}
}

func TestNewFactory(t *testing.T) {
	for _, format := range []string{"json", "markdown", "md", "html", ""} {
		r, err := New(format, "stdout")
		require.NoError(t, err, format)
		assert.NotNil(t, r)
		assert.NoError(t, r.Close())
	}

	_, err := New("sarif", "stdout")
	assert.Error(t, err)
}

func TestNewCreatesOutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	r, err := New("json", path)
	require.NoError(t, err)
	require.NoError(t, r.Write(sampleReport()))
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"analysis_id": "run-1"`)
}

func TestJSONReporter(t *testing.T) {
	buf := &bufferCloser{}
	r := NewJSONReporter(buf)
	require.NoError(t, r.Write(sampleReport()))
	require.NoError(t, r.Close())
	assert.True(t, buf.closed)

	out := buf.String()
	assert.True(t, strings.HasSuffix(out, "\n"))
	assert.Contains(t, out, `"crypto_miner"`)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Contains(t, decoded, "metadata")
}

func TestMarkdownReporter(t *testing.T) {
	buf := &bufferCloser{}
	r := NewMarkdownReporter(buf)
	require.NoError(t, r.Write(sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "# Supply-Chain Analysis Report")
	assert.Contains(t, out, "| Target | ./app |")
	assert.Contains(t, out, "| critical | 1 |")
	assert.Contains(t, out, "**critical** `evil-pkg`")
	assert.Contains(t, out, "### immediate")
	assert.Contains(t, out, "- Remove evil-pkg")
	assert.Contains(t, out, "Stages completed: 3")
	assert.NotContains(t, out, "short term", "empty buckets are omitted")
}

func TestMarkdownReporterFlatRecommendations(t *testing.T) {
	report := sampleReport()
	report["recommendations"] = []string{"Re-run the analysis to obtain complete results"}

	buf := &bufferCloser{}
	require.NoError(t, NewMarkdownReporter(buf).Write(report))
	assert.Contains(t, buf.String(), "- Re-run the analysis")
}

func TestHTMLReporter(t *testing.T) {
	buf := &bufferCloser{}
	r := NewHTMLReporter(buf)
	require.NoError(t, r.Write(sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "<!DOCTYPE html>")
	assert.Contains(t, out, "<td>./app</td>")
	assert.Contains(t, out, "evil-pkg")
	assert.Contains(t, out, "<li>Remove evil-pkg</li>")
	assert.NotContains(t, out, "src=", "report must be self-contained")
}

func TestHTMLReporterEscapesContent(t *testing.T) {
	report := sampleReport()
	report["security_findings"] = []map[string]any{
		{"severity": "high", "package_name": "<script>alert(1)</script>", "type": "typosquat", "description": "x"},
	}

	buf := &bufferCloser{}
	require.NoError(t, NewHTMLReporter(buf).Write(report))
	assert.NotContains(t, buf.String(), "<script>alert(1)</script>")
	assert.Contains(t, buf.String(), "&lt;script&gt;")
}
