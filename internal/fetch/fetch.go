// File: internal/fetch/fetch.go
// Package fetch resolves the scan target into a local filesystem location:
// a project directory, a single manifest file, or a shallow clone of a
// remote git repository.
package fetch

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/xm4dn355/packguard-cli/api/schemas"
)

// Target is a resolved scan target. Cleanup removes any temporary state
// (clone directories) and is always non-nil.
type Target struct {
	// Path is a local directory (directory/git modes) or a manifest file
	// (manifest mode).
	Path    string
	Mode    schemas.InputMode
	Cleanup func()
}

// Resolve turns the raw CLI target into a local Target. Remote git URLs are
// shallow-cloned into a temporary directory.
func Resolve(ctx context.Context, raw string, logger *zap.Logger) (*Target, error) {
	log := logger.Named("fetch")

	if isGitURL(raw) {
		return cloneRepository(ctx, raw, log)
	}

	info, err := os.Stat(raw)
	if err != nil {
		return nil, fmt.Errorf("target %q is not reachable: %w", raw, err)
	}

	if info.IsDir() {
		return &Target{Path: raw, Mode: schemas.InputModeDirectory, Cleanup: func() {}}, nil
	}
	return &Target{Path: raw, Mode: schemas.InputModeManifest, Cleanup: func() {}}, nil
}

// isGitURL recognizes the URL shapes we clone rather than stat.
func isGitURL(raw string) bool {
	if strings.HasPrefix(raw, "git@") || strings.HasPrefix(raw, "ssh://") {
		return true
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return true
	}
	return false
}

func cloneRepository(ctx context.Context, url string, log *zap.Logger) (*Target, error) {
	dir, err := os.MkdirTemp("", "packguard-clone-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create clone directory: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("Failed to remove clone directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	log.Info("Cloning remote target", zap.String("url", url))
	_, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to clone %q: %w", url, err)
	}

	return &Target{Path: dir, Mode: schemas.InputModeGit, Cleanup: cleanup}, nil
}
