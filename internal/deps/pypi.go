// File: internal/deps/pypi.go
package deps

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/xm4dn355/packguard-cli/api/schemas"
)

// ParseRequirements parses a pip requirements.txt. Only pinned ("==") and
// loosely constrained entries are resolvable; editable installs, includes and
// index options are skipped. requirements.txt carries no transitive
// information, so every entry is a direct dependency and the graph is flat.
func ParseRequirements(data []byte) ([]schemas.Package, *Graph, error) {
	graph := NewGraph(schemas.EcosystemPyPI)
	var packages []schemas.Package
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Options (-r, -e, --index-url, ...) and direct URLs are out of scope.
		if strings.HasPrefix(line, "-") || strings.Contains(line, "://") {
			continue
		}
		// Strip inline comments and environment markers.
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if idx := strings.Index(line, ";"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}

		name, version := splitRequirement(line)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		graph.AddRoot(name)
		packages = append(packages, schemas.Package{
			Name:      name,
			Version:   version,
			Ecosystem: schemas.EcosystemPyPI,
			Direct:    true,
			Depth:     1,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return packages, graph, nil
}

// splitRequirement splits "name==1.2.3" style specifiers. For non-exact
// constraints the version is left empty rather than guessed.
func splitRequirement(line string) (name, version string) {
	// Extras ("requests[security]") are part of the name syntax, not the name.
	if idx := strings.Index(line, "=="); idx >= 0 {
		name = strings.TrimSpace(line[:idx])
		version = strings.TrimSpace(line[idx+2:])
	} else {
		name = line
		for _, op := range []string{">=", "<=", "~=", "!=", ">", "<"} {
			if idx := strings.Index(name, op); idx >= 0 {
				name = strings.TrimSpace(name[:idx])
				break
			}
		}
	}
	if idx := strings.Index(name, "["); idx >= 0 {
		name = name[:idx]
	}
	// PyPI names are case-insensitive with - and _ interchangeable.
	name = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", "-"))
	return name, version
}
