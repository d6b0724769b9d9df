// File: internal/fetch/fetch_test.go
package fetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xm4dn355/packguard-cli/api/schemas"
)

func TestResolve_Directory(t *testing.T) {
	dir := t.TempDir()

	target, err := Resolve(context.Background(), dir, zap.NewNop())
	require.NoError(t, err)
	defer target.Cleanup()

	assert.Equal(t, schemas.InputModeDirectory, target.Mode)
	assert.Equal(t, dir, target.Path)
}

func TestResolve_ManifestFile(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "requirements.txt")
	require.NoError(t, os.WriteFile(manifest, []byte("requests==2.31.0\n"), 0o644))

	target, err := Resolve(context.Background(), manifest, zap.NewNop())
	require.NoError(t, err)
	defer target.Cleanup()

	assert.Equal(t, schemas.InputModeManifest, target.Mode)
}

func TestResolve_MissingTarget(t *testing.T) {
	_, err := Resolve(context.Background(), "/no/such/path/anywhere", zap.NewNop())
	assert.Error(t, err)
}

func TestIsGitURL(t *testing.T) {
	assert.True(t, isGitURL("https://github.com/acme/widgets.git"))
	assert.True(t, isGitURL("git@github.com:acme/widgets.git"))
	assert.True(t, isGitURL("ssh://git@internal/repo"))
	assert.False(t, isGitURL("./local/dir"))
	assert.False(t, isGitURL("/abs/path"))
}
