package schemas

// -- Package & Ecosystem Schemas --

// Ecosystem identifies a package registry ecosystem.
type Ecosystem string

// Supported ecosystems. The manifest detector maps manifest filenames onto
// these tags.
const (
	EcosystemNPM   Ecosystem = "npm"
	EcosystemPyPI  Ecosystem = "pypi"
	EcosystemMaven Ecosystem = "maven"
)

// Package is one resolved dependency from a manifest. Packages are produced by
// the manifest parsers and carried unchanged through the whole run; stages
// attach their per-package results to payload maps keyed by Name, never to the
// Package itself.
type Package struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Ecosystem Ecosystem `json:"ecosystem"`

	// Direct is true for first-level dependencies declared in the manifest,
	// false for transitive ones pulled in by the lockfile.
	Direct bool `json:"direct"`

	// Depth is the shortest distance from the project root in the dependency
	// graph. Direct dependencies have depth 1.
	Depth int `json:"depth"`

	// SourceDir is the local directory holding the package's source, when the
	// target was a project directory with installed dependencies. Empty when
	// only the manifest was available.
	SourceDir string `json:"source_dir,omitempty"`

	// RepositoryURL is the source repository advertised by the registry,
	// populated by the trust-scoring stage when available.
	RepositoryURL string `json:"repository_url,omitempty"`
}

// PayloadMap renders the package as the map shape carried inside stage
// payloads. Stages copy this and overlay their own keys.
func (p Package) PayloadMap() map[string]any {
	return map[string]any{
		"name":      p.Name,
		"version":   p.Version,
		"ecosystem": string(p.Ecosystem),
		"direct":    p.Direct,
		"depth":     p.Depth,
	}
}

// InputMode describes how the scan target was supplied.
type InputMode string

const (
	InputModeDirectory InputMode = "directory" // Local project directory.
	InputModeManifest  InputMode = "manifest"  // Single manifest file.
	InputModeGit       InputMode = "git"       // Remote git repository URL.
)
