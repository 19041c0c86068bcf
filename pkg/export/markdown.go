package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

func RenderMarkdown(report *models.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Triage Report %s\n\n", report.SessionID)
	fmt.Fprintf(&b, "- Level: **ESI %d %s** (%s)\n", int(report.Triage.Level), report.Triage.Label, report.Triage.ColorCode)
	fmt.Fprintf(&b, "- Maximum wait: %s\n", report.Triage.MaxWait)
	fmt.Fprintf(&b, "- Confidence: %s\n", percent(report.Triage.Confidence))
	fmt.Fprintf(&b, "- Rules: `%s`\n", strings.Join(report.Triage.TriggeringRules, "`, `"))
	if report.Metadata.Degraded {
		failed := make([]string, len(report.Metadata.FailedExtractors))
		for i, s := range report.Metadata.FailedExtractors {
			failed[i] = string(s)
		}
		fmt.Fprintf(&b, "- Degraded: %s unavailable\n", strings.Join(failed, ", "))
	}
	if report.Transcript.Duration > 0 {
		d := time.Duration(report.Transcript.Duration * float64(time.Second))
		fmt.Fprintf(&b, "- Duration: %s\n", d.Truncate(time.Second))
	}
	fmt.Fprintf(&b, "- Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	b.WriteString("\n---\n\n")

	fmt.Fprintf(&b, "> %s\n\n", report.Triage.Recommendation)

	b.WriteString("## Transcript\n\n")
	fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(report.Transcript.Text))

	b.WriteString("## Entities\n\n")
	if len(report.Entities) == 0 {
		b.WriteString("No entities identified.\n\n")
	} else {
		b.WriteString("| Category | Text | Confidence | Span | Sources |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, e := range report.Entities {
			sources := make([]string, len(e.Sources))
			for i, s := range e.Sources {
				sources[i] = string(s)
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %d-%d | %s |\n",
				e.Category, escapeCell(e.Text), percent(e.Confidence), e.Span.Start, e.Span.End, strings.Join(sources, ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "%s\n", report.Summary.Text)
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func percent(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 1, 64) + "%"
}
