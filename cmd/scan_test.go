package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xm4dn355/packguard-cli/api/schemas"
	"github.com/xm4dn355/packguard-cli/internal/config"
	"github.com/xm4dn355/packguard-cli/internal/fetch"
	"github.com/xm4dn355/packguard-cli/internal/pipeline"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const minimalLockfile = `{
  "name": "fixture",
  "lockfileVersion": 3,
  "packages": {
    "": {"dependencies": {"left-pad": "^1.3.0"}},
    "node_modules/left-pad": {"version": "1.3.0"}
  }
}`

func TestResolveManifestSingleFile(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "package-lock.json")
	writeFile(t, lockPath, minimalLockfile)

	target := &fetch.Target{Path: lockPath, Mode: schemas.InputModeManifest}

	m, err := resolveManifest(target, "")
	require.NoError(t, err)
	assert.Equal(t, schemas.EcosystemNPM, m.Ecosystem)
	assert.Equal(t, lockPath, m.Path)
}

func TestResolveManifestOverrideMismatch(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "package-lock.json")
	writeFile(t, lockPath, minimalLockfile)

	target := &fetch.Target{Path: lockPath, Mode: schemas.InputModeManifest}

	_, err := resolveManifest(target, "pypi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not pypi")
}

func TestResolveManifestDirectoryPrefersShallowest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package-lock.json"), minimalLockfile)
	writeFile(t, filepath.Join(dir, "tools", "package-lock.json"), minimalLockfile)

	target := &fetch.Target{Path: dir, Mode: schemas.InputModeDirectory}

	m, err := resolveManifest(target, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "package-lock.json"), m.Path)
}

func TestResolveManifestDirectoryOverrideFilters(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package-lock.json"), minimalLockfile)
	writeFile(t, filepath.Join(dir, "backend", "requirements.txt"), "requests==2.31.0\n")

	target := &fetch.Target{Path: dir, Mode: schemas.InputModeDirectory}

	m, err := resolveManifest(target, "pypi")
	require.NoError(t, err)
	assert.Equal(t, schemas.EcosystemPyPI, m.Ecosystem)
}

func TestResolveManifestDirectoryOverrideNoMatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package-lock.json"), minimalLockfile)

	target := &fetch.Target{Path: dir, Mode: schemas.InputModeDirectory}

	_, err := resolveManifest(target, "maven")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no maven manifest")
}

func TestResolveManifestEmptyDirectory(t *testing.T) {
	target := &fetch.Target{Path: t.TempDir(), Mode: schemas.InputModeDirectory}

	_, err := resolveManifest(target, "")
	require.Error(t, err)
}

func TestStageConfigs(t *testing.T) {
	cfg := config.PipelineConfig{
		Stages: map[string]config.StageSettings{
			pipeline.StagePrimaryDetection: {
				Timeout:    45 * time.Second,
				MaxRetries: 3,
				BaseDelay:  time.Second,
			},
		},
	}

	out := stageConfigs(cfg)
	require.Len(t, out, 5)

	assert.Equal(t, 45*time.Second, out[pipeline.StagePrimaryDetection].Timeout)
	assert.Equal(t, 3, out[pipeline.StagePrimaryDetection].MaxRetries)

	// Unconfigured stages pick up the generic defaults.
	assert.Equal(t, 60*time.Second, out[pipeline.StageSynthesis].Timeout)
}

func TestApplyFailOn(t *testing.T) {
	report := map[string]any{
		"summary": map[string]any{
			"severity_counts": map[string]int{
				"critical": 0,
				"high":     2,
				"medium":   1,
				"low":      0,
			},
		},
	}

	assert.NoError(t, applyFailOn("none", report))
	assert.NoError(t, applyFailOn("", report))
	assert.NoError(t, applyFailOn("critical", report))
	assert.Error(t, applyFailOn("high", report))
	assert.Error(t, applyFailOn("medium", report))
	assert.Error(t, applyFailOn("low", report))
}

func TestApplyFailOnDegradedReportWithoutSummary(t *testing.T) {
	report := map[string]any{"metadata": map[string]any{"analysis_status": "degraded"}}
	assert.NoError(t, applyFailOn("low", report))
}

func TestReportSeverityCountsJSONShape(t *testing.T) {
	report := map[string]any{
		"summary": map[string]any{
			"severity_counts": map[string]any{
				"critical": float64(1),
				"high":     float64(0),
			},
		},
	}

	counts := reportSeverityCounts(report)
	assert.Equal(t, 1, counts["critical"])
	assert.Equal(t, 0, counts["high"])
}
