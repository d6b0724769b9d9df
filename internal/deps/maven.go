// File: internal/deps/maven.go
package deps

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/xm4dn355/packguard-cli/api/schemas"
)

// ParsePOM parses a Maven pom.xml. Declared dependencies are direct; a POM
// does not carry the transitive closure, so the graph is flat. Version
// properties (${foo.version}) are resolved against the <properties> block
// when possible.
func ParsePOM(data []byte) ([]schemas.Package, *Graph, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, nil, fmt.Errorf("invalid pom.xml: %w", err)
	}

	project := doc.SelectElement("project")
	if project == nil {
		return nil, nil, fmt.Errorf("invalid pom.xml: missing project element")
	}

	properties := make(map[string]string)
	if props := project.SelectElement("properties"); props != nil {
		for _, child := range props.ChildElements() {
			properties[child.Tag] = strings.TrimSpace(child.Text())
		}
	}

	graph := NewGraph(schemas.EcosystemMaven)
	var packages []schemas.Package
	seen := make(map[string]bool)

	depsEl := project.SelectElement("dependencies")
	if depsEl == nil {
		return packages, graph, nil
	}

	for _, dep := range depsEl.SelectElements("dependency") {
		groupID := elementText(dep, "groupId")
		artifactID := elementText(dep, "artifactId")
		if groupID == "" || artifactID == "" {
			continue
		}
		// Test-scoped dependencies never ship.
		if elementText(dep, "scope") == "test" {
			continue
		}

		name := groupID + ":" + artifactID
		if seen[name] {
			continue
		}
		seen[name] = true

		version := resolveProperty(elementText(dep, "version"), properties)
		graph.AddRoot(name)
		packages = append(packages, schemas.Package{
			Name:      name,
			Version:   version,
			Ecosystem: schemas.EcosystemMaven,
			Direct:    true,
			Depth:     1,
		})
	}

	return packages, graph, nil
}

func elementText(parent *etree.Element, tag string) string {
	if el := parent.SelectElement(tag); el != nil {
		return strings.TrimSpace(el.Text())
	}
	return ""
}

// resolveProperty expands a single ${...} reference against the properties
// block. Unresolvable references pass through unchanged.
func resolveProperty(version string, properties map[string]string) string {
	if !strings.HasPrefix(version, "${") || !strings.HasSuffix(version, "}") {
		return version
	}
	key := version[2 : len(version)-1]
	if resolved, ok := properties[key]; ok {
		return resolved
	}
	return version
}
