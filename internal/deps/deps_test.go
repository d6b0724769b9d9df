// File: internal/deps/deps_test.go
package deps

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xm4dn355/packguard-cli/api/schemas"
)

const lockV2 = `{
  "name": "demo-app",
  "lockfileVersion": 3,
  "packages": {
    "": {
      "dependencies": {"express": "^4.18.0", "left-pad": "^1.3.0"}
    },
    "node_modules/express": {
      "version": "4.18.2",
      "dependencies": {"body-parser": "1.20.1"}
    },
    "node_modules/body-parser": {
      "version": "1.20.1"
    },
    "node_modules/left-pad": {
      "version": "1.3.0"
    }
  }
}`

const lockV1 = `{
  "name": "legacy-app",
  "lockfileVersion": 1,
  "dependencies": {
    "express": {
      "version": "4.17.1",
      "requires": {"body-parser": "1.19.0"},
      "dependencies": {
        "body-parser": {"version": "1.19.0"}
      }
    }
  }
}`

func TestParsePackageLock_V2(t *testing.T) {
	packages, graph, err := ParsePackageLock([]byte(lockV2))
	require.NoError(t, err)
	require.Len(t, packages, 3)

	byName := make(map[string]schemas.Package)
	for _, p := range packages {
		byName[p.Name] = p
	}

	assert.Equal(t, "4.18.2", byName["express"].Version)
	assert.True(t, byName["express"].Direct)
	assert.Equal(t, 1, byName["express"].Depth)

	assert.False(t, byName["body-parser"].Direct)
	assert.Equal(t, 2, byName["body-parser"].Depth)

	assert.ElementsMatch(t, []string{"express", "left-pad"}, graph.Roots())
	assert.Equal(t, []string{"body-parser"}, graph.DependenciesOf("express"))
}

func TestParsePackageLock_V1Fallback(t *testing.T) {
	packages, graph, err := ParsePackageLock([]byte(lockV1))
	require.NoError(t, err)
	require.Len(t, packages, 2)
	assert.Equal(t, []string{"express"}, graph.Roots())
}

func TestParsePackageLock_Invalid(t *testing.T) {
	_, _, err := ParsePackageLock([]byte("not json"))
	assert.Error(t, err)

	_, _, err = ParsePackageLock([]byte(`{"name": "empty"}`))
	assert.Error(t, err)
}

func TestParseRequirements(t *testing.T) {
	input := `# production deps
requests==2.31.0
Flask==2.3.2  # web framework
urllib3>=1.26
requests[security]==2.31.0
-r other.txt
-e .
https://example.com/pkg.tar.gz
django ; python_version > "3.8"
`
	packages, graph, err := ParseRequirements([]byte(input))
	require.NoError(t, err)

	byName := make(map[string]schemas.Package)
	for _, p := range packages {
		byName[p.Name] = p
	}

	require.Len(t, packages, 4)
	assert.Equal(t, "2.31.0", byName["requests"].Version)
	// Names are normalized to lowercase.
	assert.Equal(t, "2.3.2", byName["flask"].Version)
	// Loose constraint keeps the name, drops the version.
	assert.Empty(t, byName["urllib3"].Version)
	assert.Contains(t, byName, "django")

	assert.Len(t, graph.Roots(), 4)
}

func TestParsePOM(t *testing.T) {
	input := `<?xml version="1.0"?>
<project>
  <properties>
    <jackson.version>2.15.2</jackson.version>
  </properties>
  <dependencies>
    <dependency>
      <groupId>com.fasterxml.jackson.core</groupId>
      <artifactId>jackson-databind</artifactId>
      <version>${jackson.version}</version>
    </dependency>
    <dependency>
      <groupId>org.apache.commons</groupId>
      <artifactId>commons-text</artifactId>
      <version>1.10.0</version>
    </dependency>
    <dependency>
      <groupId>junit</groupId>
      <artifactId>junit</artifactId>
      <version>4.13.2</version>
      <scope>test</scope>
    </dependency>
  </dependencies>
</project>`

	packages, _, err := ParsePOM([]byte(input))
	require.NoError(t, err)
	require.Len(t, packages, 2, "test-scoped dependencies are excluded")

	assert.Equal(t, "com.fasterxml.jackson.core:jackson-databind", packages[0].Name)
	assert.Equal(t, "2.15.2", packages[0].Version, "property reference must resolve")
	assert.Equal(t, "1.10.0", packages[1].Version)
}

func TestParsePOM_Invalid(t *testing.T) {
	_, _, err := ParsePOM([]byte("<not-a-pom/>"))
	assert.Error(t, err)
}

func TestDetectManifests(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "package-lock.json"), []byte("{}"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "backend"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "backend", "requirements.txt"), []byte(""), 0o644))

	// Manifests under ignored directories must not be picked up.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "dep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "dep", "package-lock.json"), []byte("{}"), 0o644))

	manifests, err := DetectManifests(root)
	require.NoError(t, err)
	require.Len(t, manifests, 2)

	eco, err := PrimaryEcosystem(manifests)
	require.NoError(t, err)
	assert.Equal(t, schemas.EcosystemNPM, eco, "shallowest manifest wins")
}

func TestPrimaryEcosystem_Empty(t *testing.T) {
	_, err := PrimaryEcosystem(nil)
	assert.Error(t, err)
}

func TestClassifyManifest(t *testing.T) {
	eco, err := ClassifyManifest("/some/dir/pom.xml")
	require.NoError(t, err)
	assert.Equal(t, schemas.EcosystemMaven, eco)

	_, err = ClassifyManifest("/some/dir/Gemfile.lock")
	assert.Error(t, err)
}

func TestGraphDepthsAndPaths(t *testing.T) {
	g := NewGraph(schemas.EcosystemNPM)
	g.AddRoot("a")
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.AddEdge("a", "c") // shorter path to c

	depths := g.Depths()
	assert.Equal(t, 1, depths["a"])
	assert.Equal(t, 2, depths["b"])
	assert.Equal(t, 2, depths["c"])

	paths := g.PathsThrough([]string{"c", "unreachable"})
	assert.Equal(t, []string{"a", "c"}, paths["c"])
	assert.NotContains(t, paths, "unreachable")

	summary := g.Summary()
	assert.Equal(t, 1, summary["direct_dependencies"])
	assert.Equal(t, 3, summary["total_dependencies"])
	assert.Equal(t, 2, summary["max_depth"])
}
