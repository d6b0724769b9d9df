// File: internal/deps/npm.go
package deps

import (
	"fmt"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xm4dn355/packguard-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// lockfile is the subset of package-lock.json (lockfileVersion 2/3) we need.
type lockfile struct {
	Name            string               `json:"name"`
	LockfileVersion int                  `json:"lockfileVersion"`
	Packages        map[string]lockEntry `json:"packages"`
	// Dependencies is the v1 fallback tree.
	Dependencies map[string]v1Dependency `json:"dependencies"`
}

type lockEntry struct {
	Version      string            `json:"version"`
	Dev          bool              `json:"dev"`
	Dependencies map[string]string `json:"dependencies"`
}

type v1Dependency struct {
	Version      string                  `json:"version"`
	Dev          bool                    `json:"dev"`
	Requires     map[string]string       `json:"requires"`
	Dependencies map[string]v1Dependency `json:"dependencies"`
}

// ParsePackageLock parses an npm package-lock.json into packages and a graph.
// lockfileVersion 2 and 3 use the flat "packages" map keyed by node_modules
// path; version 1 falls back to the nested "dependencies" tree.
func ParsePackageLock(data []byte) ([]schemas.Package, *Graph, error) {
	var lock lockfile
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, nil, fmt.Errorf("invalid package-lock.json: %w", err)
	}

	graph := NewGraph(schemas.EcosystemNPM)

	if len(lock.Packages) > 0 {
		return parseLockV2(lock, graph)
	}
	if len(lock.Dependencies) > 0 {
		return parseLockV1(lock, graph)
	}
	return nil, nil, fmt.Errorf("package-lock.json contains no dependency entries")
}

func parseLockV2(lock lockfile, graph *Graph) ([]schemas.Package, *Graph, error) {
	root, hasRoot := lock.Packages[""]
	if hasRoot {
		rootDeps := make([]string, 0, len(root.Dependencies))
		for dep := range root.Dependencies {
			rootDeps = append(rootDeps, dep)
		}
		sort.Strings(rootDeps)
		for _, dep := range rootDeps {
			graph.AddRoot(dep)
		}
	}

	versions := make(map[string]string)
	paths := make([]string, 0, len(lock.Packages))
	for path := range lock.Packages {
		if path == "" {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		entry := lock.Packages[path]
		name := nameFromLockPath(path)
		if name == "" {
			continue
		}
		if _, seen := versions[name]; !seen {
			versions[name] = entry.Version
		}
		deps := make([]string, 0, len(entry.Dependencies))
		for dep := range entry.Dependencies {
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		for _, dep := range deps {
			graph.AddEdge(name, dep)
		}
	}

	return buildPackages(versions, graph), graph, nil
}

func parseLockV1(lock lockfile, graph *Graph) ([]schemas.Package, *Graph, error) {
	versions := make(map[string]string)

	names := make([]string, 0, len(lock.Dependencies))
	for name := range lock.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	var walk func(name string, dep v1Dependency)
	walk = func(name string, dep v1Dependency) {
		if _, seen := versions[name]; seen {
			return
		}
		versions[name] = dep.Version
		children := make([]string, 0, len(dep.Requires))
		for child := range dep.Requires {
			children = append(children, child)
		}
		sort.Strings(children)
		for _, child := range children {
			graph.AddEdge(name, child)
		}
		nested := make([]string, 0, len(dep.Dependencies))
		for child := range dep.Dependencies {
			nested = append(nested, child)
		}
		sort.Strings(nested)
		for _, child := range nested {
			walk(child, dep.Dependencies[child])
		}
	}

	for _, name := range names {
		graph.AddRoot(name)
		walk(name, lock.Dependencies[name])
	}

	return buildPackages(versions, graph), graph, nil
}

// nameFromLockPath extracts the package name from a v2/v3 lock path like
// "node_modules/@scope/name" or "node_modules/a/node_modules/b".
func nameFromLockPath(path string) string {
	const marker = "node_modules/"
	idx := strings.LastIndex(path, marker)
	if idx < 0 {
		return ""
	}
	return path[idx+len(marker):]
}

// buildPackages materializes the package list from collected versions,
// marking direct dependencies and attaching graph depths.
func buildPackages(versions map[string]string, graph *Graph) []schemas.Package {
	direct := make(map[string]bool)
	for _, root := range graph.Roots() {
		direct[root] = true
	}
	depths := graph.Depths()

	names := make([]string, 0, len(versions))
	for name := range versions {
		names = append(names, name)
	}
	sort.Strings(names)

	packages := make([]schemas.Package, 0, len(names))
	for _, name := range names {
		depth := depths[name]
		if depth == 0 {
			depth = 1
		}
		packages = append(packages, schemas.Package{
			Name:      name,
			Version:   versions[name],
			Ecosystem: graph.Ecosystem,
			Direct:    direct[name],
			Depth:     depth,
		})
	}
	return packages
}
