// File: internal/deps/detect.go
package deps

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xm4dn355/packguard-cli/api/schemas"
)

// Manifest is one discovered dependency manifest.
type Manifest struct {
	Path      string
	Ecosystem schemas.Ecosystem
}

// Ignored directories (exact match on folder name).
var ignoredDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"vendor":       {},
	"target":       {},
	"dist":         {},
	".venv":        {},
	"venv":         {},
	"__pycache__":  {},
}

// manifestEcosystems maps recognized manifest filenames to their ecosystem.
// package-lock.json is preferred over package.json because it pins exact
// versions and carries the transitive closure.
var manifestEcosystems = map[string]schemas.Ecosystem{
	"package-lock.json": schemas.EcosystemNPM,
	"requirements.txt":  schemas.EcosystemPyPI,
	"pom.xml":           schemas.EcosystemMaven,
}

// DetectManifests walks the target directory for recognized manifests,
// skipping ignored directories. Results are sorted by path for deterministic
// behavior.
func DetectManifests(root string) ([]Manifest, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var found []Manifest
	err = filepath.Walk(absRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if _, ok := ignoredDirs[info.Name()]; ok {
				return filepath.SkipDir
			}
			return nil
		}
		if eco, ok := manifestEcosystems[strings.ToLower(info.Name())]; ok {
			found = append(found, Manifest{Path: path, Ecosystem: eco})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
	return found, nil
}

// ClassifyManifest maps a single manifest file path onto its ecosystem.
func ClassifyManifest(path string) (schemas.Ecosystem, error) {
	name := strings.ToLower(filepath.Base(path))
	if eco, ok := manifestEcosystems[name]; ok {
		return eco, nil
	}
	return "", fmt.Errorf("unrecognized manifest file: %s", filepath.Base(path))
}

// PrimaryEcosystem chooses the ecosystem of a multi-manifest project: the one
// with the shallowest manifest wins, ties broken by manifest count.
func PrimaryEcosystem(manifests []Manifest) (schemas.Ecosystem, error) {
	if len(manifests) == 0 {
		return "", fmt.Errorf("no dependency manifests found")
	}

	bestDepth := make(map[schemas.Ecosystem]int)
	counts := make(map[schemas.Ecosystem]int)
	for _, m := range manifests {
		depth := strings.Count(filepath.ToSlash(m.Path), "/")
		if current, ok := bestDepth[m.Ecosystem]; !ok || depth < current {
			bestDepth[m.Ecosystem] = depth
		}
		counts[m.Ecosystem]++
	}

	var best schemas.Ecosystem
	for eco := range bestDepth {
		if best == "" {
			best = eco
			continue
		}
		if bestDepth[eco] < bestDepth[best] ||
			(bestDepth[eco] == bestDepth[best] && counts[eco] > counts[best]) {
			best = eco
		}
	}
	return best, nil
}

// AttachSourceDirs points each npm package at its installed source under
// node_modules, when present. Packages whose sources are not installed keep an
// empty SourceDir and are skipped by source-level scanning.
func AttachSourceDirs(packages []schemas.Package, manifestDir string) {
	for i, pkg := range packages {
		if pkg.Ecosystem != schemas.EcosystemNPM {
			continue
		}
		dir := filepath.Join(manifestDir, "node_modules", filepath.FromSlash(pkg.Name))
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			packages[i].SourceDir = dir
		}
	}
}

// Parse dispatches a manifest to its ecosystem parser and returns the package
// list plus the dependency graph.
func Parse(m Manifest) ([]schemas.Package, *Graph, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read manifest %s: %w", m.Path, err)
	}

	switch m.Ecosystem {
	case schemas.EcosystemNPM:
		return ParsePackageLock(data)
	case schemas.EcosystemPyPI:
		return ParseRequirements(data)
	case schemas.EcosystemMaven:
		return ParsePOM(data)
	default:
		return nil, nil, fmt.Errorf("unsupported ecosystem: %s", m.Ecosystem)
	}
}
