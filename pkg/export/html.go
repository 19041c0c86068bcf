package export

import (
	"html/template"
	"io"
	"strings"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"pct":   func(v float64) string { return percent(v) },
	"join":  strings.Join,
	"lower": strings.ToLower,
	"listOr": func(items []string, fallback string) string {
		if len(items) == 0 {
			return fallback
		}
		return strings.Join(items, ", ")
	},
	"sources": func(sources []models.Source) string {
		parts := make([]string, len(sources))
		for i, s := range sources {
			parts[i] = string(s)
		}
		return strings.Join(parts, ", ")
	},
	"codes": formatCodes,
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Triage Report - {{.SessionID}}</title>
<style>
body { font-family: Arial, sans-serif; margin: 40px; background-color: #f5f5f5; }
.container { max-width: 1200px; margin: 0 auto; background-color: white; padding: 30px; border-radius: 10px; }
.section { margin: 20px 0; padding: 15px; border: 1px solid #ddd; border-radius: 5px; background-color: #fafafa; }
.transcript { background-color: white; padding: 15px; border-left: 4px solid #007bff; font-style: italic; }
.banner { display: inline-block; padding: 8px 16px; border-radius: 20px; font-weight: bold; margin: 10px 0; }
.red { background-color: #dc3545; color: white; }
.orange { background-color: #fd7e14; color: white; }
.yellow { background-color: #ffc107; color: black; }
.green { background-color: #28a745; color: white; }
.blue { background-color: #007bff; color: white; }
.degraded { color: #b35c00; font-weight: bold; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 6px; border-bottom: 1px solid #ddd; }
</style>
</head>
<body>
<div class="container">
<h1>Triage Report</h1>
<p><strong>Session ID:</strong> {{.SessionID}}</p>
<p><strong>Generated:</strong> {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}</p>
{{- if .Metadata.Degraded}}
<p class="degraded">Degraded: extraction incomplete ({{sources .Metadata.FailedExtractors}})</p>
{{- end}}

<div class="section">
<h2>Triage Assessment</h2>
<div class="banner {{lower .Triage.ColorCode}}">ESI {{printf "%d" .Triage.Level}} - {{.Triage.Label}}</div>
<p><strong>Maximum wait:</strong> {{.Triage.MaxWait}}</p>
<p><strong>Recommended action:</strong> {{.Triage.Recommendation}}</p>
<p><strong>Confidence:</strong> {{pct .Triage.Confidence}}</p>
<p><strong>Triggering rules:</strong> {{join .Triage.TriggeringRules ", "}}</p>
</div>

<div class="section">
<h2>Transcript</h2>
<div class="transcript"><p>{{.Transcript.Text}}</p></div>
<p><strong>Confidence:</strong> {{pct .Transcript.Confidence}} &middot; <strong>Words:</strong> {{.Transcript.WordCount}}</p>
</div>

<div class="section">
<h2>Medical Entities</h2>
{{- if .Entities}}
<table>
<tr><th>Category</th><th>Text</th><th>Confidence</th><th>Span</th><th>Sources</th><th>Codes</th></tr>
{{- range .Entities}}
<tr><td>{{.Category}}</td><td>{{.Text}}</td><td>{{pct .Confidence}}</td><td>{{.Span.Start}}-{{.Span.End}}</td><td>{{sources .Sources}}</td><td>{{codes .Codes}}</td></tr>
{{- end}}
</table>
{{- else}}
<p>No entities identified.</p>
{{- end}}
</div>

<div class="section">
<h2>Clinical Summary</h2>
<p>{{.Summary.Text}}</p>
<p><strong>Symptoms:</strong> {{listOr .Summary.PresentingSymptoms "None identified"}}</p>
<p><strong>Medications:</strong> {{listOr .Summary.Medications "None mentioned"}}</p>
<p><strong>Conditions:</strong> {{listOr .Summary.Conditions "None mentioned"}}</p>
<p><strong>Procedures:</strong> {{listOr .Summary.Procedures "None discussed"}}</p>
</div>

<p style="text-align: center; font-size: 0.9em; color: #666;">{{.Metadata.PipelineVersion}}</p>
</div>
</body>
</html>
`))

// WriteHTML renders a standalone page. All report text is escaped.
func WriteHTML(w io.Writer, report *models.Report) error {
	return reportTemplate.Execute(w, report)
}
