// Filename: detect/walker.go
// AST-level signal collection over JavaScript sources. The walker looks for
// the structural patterns that distinguish obfuscated or malicious package
// code from ordinary minification.
package detect

import (
	"math"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// SignalKind categorizes one suspicious pattern found in a source file.
type SignalKind string

const (
	SignalDynamicExecution SignalKind = "dynamic_execution"
	SignalProcessSpawn     SignalKind = "process_spawn"
	SignalEncodedPayload   SignalKind = "encoded_payload"
	SignalHexIdentifiers   SignalKind = "hex_identifiers"
	SignalEnvExfiltration  SignalKind = "env_exfiltration"
	SignalMinerIndicator   SignalKind = "miner_indicator"
)

// Signal is one suspicious pattern with enough location context to quote in a
// finding.
type Signal struct {
	Kind    SignalKind
	Detail  string
	Line    int
	Excerpt string
}

var (
	hexIdentifierRegex = regexp.MustCompile(`^_0x[0-9a-fA-F]{4,}`)
	base64Regex        = regexp.MustCompile(`^[A-Za-z0-9+/=]{120,}$`)
	minerIndicators    = []string{"coinhive", "cryptonight", "stratum+tcp://", "minero.cc"}
)

// dynamicExecNames are callee names whose invocation with a computed argument
// indicates runtime code construction.
var dynamicExecNames = map[string]bool{
	"eval":     true,
	"Function": true,
}

// spawnMethodNames are child_process entry points.
var spawnMethodNames = map[string]bool{
	"exec":     true,
	"execSync": true,
	"spawn":    true,
	"fork":     true,
}

// networkCalleeParts mark outbound request construction; combined with a
// process.env read they indicate environment exfiltration.
var networkCalleeParts = map[string]bool{
	"fetch":   true,
	"request": true,
	"post":    true,
}

// astInspector walks a parsed tree collecting signals. One instance inspects
// one file.
type astInspector struct {
	source  []byte
	signals []Signal

	hexIdentCount int
	readsEnv      bool
	envLine       int
	makesRequests bool
	requestDetail string
}

func newASTInspector(source []byte) *astInspector {
	return &astInspector{source: source}
}

// Inspect runs the walk and returns the collected signals, including the
// combination signals that need whole-file state.
func (in *astInspector) Inspect(root *sitter.Node) []Signal {
	in.walk(root)

	// Signals derived from whole-file state.
	if in.hexIdentCount >= 5 {
		in.add(SignalHexIdentifiers, "identifier scheme characteristic of javascript-obfuscator output", 0, "")
	}
	if in.readsEnv && in.makesRequests {
		in.add(SignalEnvExfiltration, "process.env access combined with outbound request ("+in.requestDetail+")", in.envLine, "")
	}
	return in.signals
}

func (in *astInspector) walk(node *sitter.Node) {
	if node == nil || node.IsNull() {
		return
	}

	switch node.Type() {
	case "call_expression", "new_expression":
		in.inspectCall(node)
	case "identifier", "property_identifier":
		if hexIdentifierRegex.MatchString(node.Content(in.source)) {
			in.hexIdentCount++
		}
	case "member_expression":
		in.inspectMemberAccess(node)
	case "string":
		in.inspectStringLiteral(node)
	}

	cursor := sitter.NewTreeCursor(node)
	defer cursor.Close()

	if ok := cursor.GoToFirstChild(); ok {
		for {
			in.walk(cursor.CurrentNode())
			if ok := cursor.GoToNextSibling(); !ok {
				break
			}
		}
	}
}

func (in *astInspector) inspectCall(node *sitter.Node) {
	callee := node.ChildByFieldName("function")
	if callee == nil {
		return
	}

	switch callee.Type() {
	case "identifier":
		name := callee.Content(in.source)
		if dynamicExecNames[name] && in.hasComputedArgument(node) {
			in.add(SignalDynamicExecution, name+" invoked with a computed argument", line(node), in.excerpt(node))
		}
		if networkCalleeParts[name] {
			in.makesRequests = true
			in.requestDetail = name
		}
		if name == "require" {
			in.inspectRequire(node)
		}
	case "member_expression":
		prop := callee.ChildByFieldName("property")
		if prop == nil {
			return
		}
		method := prop.Content(in.source)
		if spawnMethodNames[method] {
			in.add(SignalProcessSpawn, "child process invocation via ."+method, line(node), in.excerpt(node))
		}
		if networkCalleeParts[method] {
			in.makesRequests = true
			in.requestDetail = "." + method
		}
	}
}

// inspectRequire flags require("child_process") directly; the spawn methods
// are caught separately when invoked through a binding.
func (in *astInspector) inspectRequire(node *sitter.Node) {
	argsNode := node.ChildByFieldName("arguments")
	if argsNode == nil {
		return
	}
	for i := 0; i < int(argsNode.ChildCount()); i++ {
		arg := argsNode.Child(i)
		if arg.Type() != "string" {
			continue
		}
		modName := strings.Trim(arg.Content(in.source), "\"'`")
		if modName == "child_process" {
			in.add(SignalProcessSpawn, "require(\"child_process\")", line(node), in.excerpt(node))
		}
	}
}

func (in *astInspector) inspectMemberAccess(node *sitter.Node) {
	path := flattenMemberPath(node, in.source)
	if len(path) >= 2 && path[0] == "process" && path[1] == "env" {
		in.readsEnv = true
		if in.envLine == 0 {
			in.envLine = line(node)
		}
	}
}

func (in *astInspector) inspectStringLiteral(node *sitter.Node) {
	raw := strings.Trim(node.Content(in.source), "\"'`")
	lower := strings.ToLower(raw)
	for _, marker := range minerIndicators {
		if strings.Contains(lower, marker) {
			in.add(SignalMinerIndicator, "known mining endpoint or library string: "+marker, line(node), in.excerpt(node))
			return
		}
	}

	if len(raw) >= 120 && base64Regex.MatchString(raw) && shannonEntropy(raw) > 4.0 {
		in.add(SignalEncodedPayload, "long high-entropy base64 literal", line(node), "")
		return
	}
	if strings.Count(raw, `\x`) >= 10 {
		in.add(SignalEncodedPayload, "dense hex-escaped string literal", line(node), "")
	}
}

// hasComputedArgument reports whether any call argument is something other
// than a plain literal. eval("static string") is common in legacy bundles and
// is not flagged.
func (in *astInspector) hasComputedArgument(callNode *sitter.Node) bool {
	argsNode := callNode.ChildByFieldName("arguments")
	if argsNode == nil {
		return false
	}
	for i := 0; i < int(argsNode.ChildCount()); i++ {
		arg := argsNode.Child(i)
		switch arg.Type() {
		case "(", ")", ",", "string", "number", "true", "false", "null":
			continue
		default:
			return true
		}
	}
	return false
}

func (in *astInspector) add(kind SignalKind, detail string, ln int, excerpt string) {
	in.signals = append(in.signals, Signal{Kind: kind, Detail: detail, Line: ln, Excerpt: excerpt})
}

// excerpt returns a truncated slice of the node's source text for evidence.
func (in *astInspector) excerpt(node *sitter.Node) string {
	content := node.Content(in.source)
	if len(content) > 160 {
		content = content[:160] + "..."
	}
	return content
}

func line(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

// flattenMemberPath converts a member_expression chain like process.env.TOKEN
// into its identifier path. Returns nil for chains containing computed access.
func flattenMemberPath(node *sitter.Node, source []byte) []string {
	switch node.Type() {
	case "identifier":
		return []string{node.Content(source)}
	case "member_expression":
		object := node.ChildByFieldName("object")
		property := node.ChildByFieldName("property")
		if object == nil || property == nil || property.Type() != "property_identifier" {
			return nil
		}
		base := flattenMemberPath(object, source)
		if base == nil {
			return nil
		}
		return append(base, property.Content(source))
	default:
		return nil
	}
}

// shannonEntropy returns the per-byte entropy in bits. Base64-encoded binary
// payloads sit above 4; English text sits near 3.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	entropy := 0.0
	total := float64(len(s))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
