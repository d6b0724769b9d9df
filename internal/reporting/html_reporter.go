// -- internal/reporting/html_reporter.go --
package reporting

import (
	"fmt"
	"html/template"
	"io"
)

// HTMLReporter renders a self-contained HTML page with inline styles, no
// external assets.
type HTMLReporter struct {
	writer io.WriteCloser
	tmpl   *template.Template
}

// NewHTMLReporter takes ownership of the writer.
func NewHTMLReporter(writer io.WriteCloser) *HTMLReporter {
	return &HTMLReporter{
		writer: writer,
		tmpl:   template.Must(template.New("report").Parse(htmlTemplate)),
	}
}

// htmlView is the flattened shape the template consumes.
type htmlView struct {
	Target         string
	Ecosystem      string
	AnalysisID     string
	Status         string
	Confidence     any
	Reason         string
	Summary        string
	SeverityCounts map[string]int
	Findings       []map[string]any
	Immediate      []any
	ShortTerm      []any
	LongTerm       []any
	Flat           []any
	TotalMS        any
}

func (r *HTMLReporter) Write(report map[string]any) error {
	md := mapValue(report, "metadata")
	summary := mapValue(report, "summary")

	view := htmlView{
		Target:     str(md["target"]),
		Ecosystem:  str(md["ecosystem"]),
		AnalysisID: str(md["analysis_id"]),
		Status:     str(md["analysis_status"]),
		Confidence: md["confidence"],
		Reason:     str(md["degradation_reason"]),
		Summary:    str(summary["executive_summary"]),
	}
	if counts, ok := summary["severity_counts"].(map[string]int); ok {
		view.SeverityCounts = counts
	}
	for _, item := range sliceValue(report["security_findings"]) {
		if f, ok := item.(map[string]any); ok {
			view.Findings = append(view.Findings, f)
		}
	}
	switch recs := report["recommendations"].(type) {
	case map[string]any:
		view.Immediate = sliceValue(recs["immediate"])
		view.ShortTerm = sliceValue(recs["short_term"])
		view.LongTerm = sliceValue(recs["long_term"])
	default:
		view.Flat = sliceValue(recs)
	}
	if perf, ok := report["performance_metrics"].(map[string]any); ok {
		view.TotalMS = perf["total_duration_ms"]
	}

	if err := r.tmpl.Execute(r.writer, view); err != nil {
		return fmt.Errorf("failed to render HTML report: %w", err)
	}
	return nil
}

func (r *HTMLReporter) Close() error {
	return r.writer.Close()
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Supply-Chain Analysis Report</title>
<style>
body { font-family: sans-serif; margin: 2rem; color: #1a1a2e; }
table { border-collapse: collapse; margin-bottom: 1rem; }
td, th { border: 1px solid #ccc; padding: 0.3rem 0.7rem; text-align: left; }
.critical { color: #b00020; font-weight: bold; }
.high { color: #d2691e; font-weight: bold; }
.medium { color: #b8860b; }
.low { color: #556b2f; }
</style>
</head>
<body>
<h1>Supply-Chain Analysis Report</h1>
<table>
<tr><td>Target</td><td>{{.Target}}</td></tr>
<tr><td>Ecosystem</td><td>{{.Ecosystem}}</td></tr>
<tr><td>Analysis ID</td><td>{{.AnalysisID}}</td></tr>
<tr><td>Status</td><td>{{.Status}}</td></tr>
<tr><td>Confidence</td><td>{{.Confidence}}</td></tr>
{{if .Reason}}<tr><td>Degradation reason</td><td>{{.Reason}}</td></tr>{{end}}
{{if .TotalMS}}<tr><td>Duration (ms)</td><td>{{.TotalMS}}</td></tr>{{end}}
</table>
{{if .Summary}}<p>{{.Summary}}</p>{{end}}
{{if .SeverityCounts}}
<h2>Severity Counts</h2>
<table>
<tr><th>Severity</th><th>Count</th></tr>
<tr><td class="critical">critical</td><td>{{index .SeverityCounts "critical"}}</td></tr>
<tr><td class="high">high</td><td>{{index .SeverityCounts "high"}}</td></tr>
<tr><td class="medium">medium</td><td>{{index .SeverityCounts "medium"}}</td></tr>
<tr><td class="low">low</td><td>{{index .SeverityCounts "low"}}</td></tr>
</table>
{{end}}
{{if .Findings}}
<h2>Findings</h2>
<table>
<tr><th>Severity</th><th>Package</th><th>Type</th><th>Description</th></tr>
{{range .Findings}}
<tr><td class="{{index . "severity"}}">{{index . "severity"}}</td><td>{{index . "package_name"}}</td><td>{{index . "type"}}</td><td>{{index . "description"}}</td></tr>
{{end}}
</table>
{{end}}
{{if or .Immediate .ShortTerm .LongTerm .Flat}}
<h2>Recommendations</h2>
{{if .Immediate}}<h3>Immediate</h3><ul>{{range .Immediate}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .ShortTerm}}<h3>Short term</h3><ul>{{range .ShortTerm}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .LongTerm}}<h3>Long term</h3><ul>{{range .LongTerm}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .Flat}}<ul>{{range .Flat}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{end}}
</body>
</html>
`
