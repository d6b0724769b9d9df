// File: internal/deps/graph.go
// Package deps ingests dependency manifests into a package list and a
// dependency graph. The pipeline treats the graph as opaque; only the
// attack-pattern stage and the report summary interpret it.
package deps

import (
	"sort"

	"github.com/xm4dn355/packguard-cli/api/schemas"
)

// Graph is an adjacency-map dependency graph rooted at the scanned project.
type Graph struct {
	// Ecosystem the graph was built from.
	Ecosystem schemas.Ecosystem

	// edges maps a package name to the names it depends on.
	edges map[string][]string

	// roots are the direct dependencies declared by the project.
	roots []string
}

// NewGraph creates an empty graph for an ecosystem.
func NewGraph(eco schemas.Ecosystem) *Graph {
	return &Graph{
		Ecosystem: eco,
		edges:     make(map[string][]string),
	}
}

// AddRoot registers a direct dependency of the project.
func (g *Graph) AddRoot(name string) {
	g.roots = append(g.roots, name)
}

// AddEdge records that from depends on to.
func (g *Graph) AddEdge(from, to string) {
	g.edges[from] = append(g.edges[from], to)
}

// Roots returns the direct dependencies in declaration order.
func (g *Graph) Roots() []string {
	return g.roots
}

// DependenciesOf returns the direct dependencies of a package.
func (g *Graph) DependenciesOf(name string) []string {
	return g.edges[name]
}

// Depths computes the shortest distance from the project root for every
// reachable package. Direct dependencies have depth 1.
func (g *Graph) Depths() map[string]int {
	depths := make(map[string]int)
	queue := make([]string, 0, len(g.roots))

	for _, root := range g.roots {
		if _, seen := depths[root]; !seen {
			depths[root] = 1
			queue = append(queue, root)
		}
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dep := range g.edges[current] {
			if _, seen := depths[dep]; !seen {
				depths[dep] = depths[current] + 1
				queue = append(queue, dep)
			}
		}
	}
	return depths
}

// PathsThrough returns, for each given package name, one shortest chain from
// a root to that package. Used by the attack-pattern prompts to show how a
// low-trust package is reachable.
func (g *Graph) PathsThrough(targets []string) map[string][]string {
	// BFS from the virtual root, remembering predecessors.
	prev := make(map[string]string)
	visited := make(map[string]bool)
	var queue []string
	for _, root := range g.roots {
		if !visited[root] {
			visited[root] = true
			queue = append(queue, root)
		}
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dep := range g.edges[current] {
			if !visited[dep] {
				visited[dep] = true
				prev[dep] = current
				queue = append(queue, dep)
			}
		}
	}

	paths := make(map[string][]string, len(targets))
	for _, target := range targets {
		if !visited[target] {
			continue
		}
		var chain []string
		for node := target; node != ""; node = prev[node] {
			chain = append([]string{node}, chain...)
			if _, ok := prev[node]; !ok {
				break
			}
		}
		paths[target] = chain
	}
	return paths
}

// Summary returns graph-level statistics for the report.
func (g *Graph) Summary() map[string]any {
	depths := g.Depths()
	maxDepth := 0
	for _, d := range depths {
		if d > maxDepth {
			maxDepth = d
		}
	}
	return map[string]any{
		"direct_dependencies": len(g.roots),
		"total_dependencies":  len(depths),
		"max_depth":           maxDepth,
	}
}

// Names returns every package name in the graph, sorted.
func (g *Graph) Names() []string {
	seen := make(map[string]bool)
	for _, r := range g.roots {
		seen[r] = true
	}
	for from, tos := range g.edges {
		seen[from] = true
		for _, to := range tos {
			seen[to] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
