// -- internal/reporting/markdown_reporter.go --
package reporting

import (
	"fmt"
	"io"
	"strings"
)

// MarkdownReporter renders the report as a human-readable document: summary
// table, findings, recommendations, and the run's performance metrics.
type MarkdownReporter struct {
	writer io.WriteCloser
}

// NewMarkdownReporter takes ownership of the writer.
func NewMarkdownReporter(writer io.WriteCloser) *MarkdownReporter {
	return &MarkdownReporter{writer: writer}
}

func (r *MarkdownReporter) Write(report map[string]any) error {
	var b strings.Builder

	md := mapValue(report, "metadata")
	summary := mapValue(report, "summary")

	fmt.Fprintf(&b, "# Supply-Chain Analysis Report\n\n")
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	writeRow(&b, "Target", md["target"])
	writeRow(&b, "Ecosystem", md["ecosystem"])
	writeRow(&b, "Analysis ID", md["analysis_id"])
	writeRow(&b, "Status", md["analysis_status"])
	writeRow(&b, "Confidence", md["confidence"])
	writeRow(&b, "Degradation reason", md["degradation_reason"])
	b.WriteString("\n")

	if es, ok := summary["executive_summary"].(string); ok && es != "" {
		fmt.Fprintf(&b, "%s\n\n", es)
	}

	if counts, ok := summary["severity_counts"].(map[string]int); ok {
		b.WriteString("## Severity Counts\n\n| Severity | Count |\n|---|---|\n")
		for _, sev := range []string{"critical", "high", "medium", "low"} {
			fmt.Fprintf(&b, "| %s | %d |\n", sev, counts[sev])
		}
		b.WriteString("\n")
	}

	if findings := sliceValue(report["security_findings"]); len(findings) > 0 {
		b.WriteString("## Findings\n\n")
		for _, item := range findings {
			f, ok := item.(map[string]any)
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "- **%v** `%v` (%v): %v\n",
				f["severity"], f["package_name"], f["type"], f["description"])
		}
		b.WriteString("\n")
	}

	writeRecommendations(&b, report["recommendations"])

	if missing := sliceValue(md["missing_analysis"]); len(missing) > 0 {
		b.WriteString("## Missing Analysis\n\n")
		for _, m := range missing {
			fmt.Fprintf(&b, "- %v\n", m)
		}
		b.WriteString("\n")
	}

	if perf, ok := report["performance_metrics"].(map[string]any); ok {
		b.WriteString("## Performance\n\n")
		fmt.Fprintf(&b, "- Total duration: %v ms\n", perf["total_duration_ms"])
		fmt.Fprintf(&b, "- Stages completed: %v, failed: %v\n", perf["stages_completed"], perf["stages_failed"])
		b.WriteString("\n")
	}

	_, err := io.WriteString(r.writer, b.String())
	return err
}

func (r *MarkdownReporter) Close() error {
	return r.writer.Close()
}

// writeRecommendations handles both shapes: the categorized map from
// synthesis and the flat list from a degraded report.
func writeRecommendations(b *strings.Builder, recs any) {
	switch v := recs.(type) {
	case map[string]any:
		b.WriteString("## Recommendations\n\n")
		for _, bucket := range []string{"immediate", "short_term", "long_term"} {
			items := sliceValue(v[bucket])
			if len(items) == 0 {
				continue
			}
			fmt.Fprintf(b, "### %s\n\n", strings.ReplaceAll(bucket, "_", " "))
			for _, item := range items {
				fmt.Fprintf(b, "- %v\n", item)
			}
			b.WriteString("\n")
		}
	case []string:
		b.WriteString("## Recommendations\n\n")
		for _, item := range v {
			fmt.Fprintf(b, "- %s\n", item)
		}
		b.WriteString("\n")
	case []any:
		b.WriteString("## Recommendations\n\n")
		for _, item := range v {
			fmt.Fprintf(b, "- %v\n", item)
		}
		b.WriteString("\n")
	}
}

func mapValue(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

func sliceValue(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out
	case []map[string]any:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out
	default:
		return nil
	}
}

func writeRow(b *strings.Builder, label string, value any) {
	if value == nil {
		return
	}
	if s, ok := value.(string); ok && s == "" {
		return
	}
	fmt.Fprintf(b, "| %s | %v |\n", label, value)
}
