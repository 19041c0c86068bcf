package pipeline

import (
	"strings"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
	"github.com/synaptica-ai/medtriage/pkg/textnorm"
)

const noFindings = "No specific clinical entities identified."

// BuildSummary groups entity texts by category in transcript order. Repeated
// mentions of the same surface text are listed once.
func BuildSummary(entities []models.ReconciledEntity, verdict models.TriageVerdict) models.ClinicalSummary {
	byCategory := make(map[models.Category][]string)
	seen := make(map[string]bool)
	for _, e := range entities {
		key := string(e.Category) + "|" + textnorm.Key(e.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		byCategory[e.Category] = append(byCategory[e.Category], e.Text)
	}

	summary := models.ClinicalSummary{
		PresentingSymptoms: head(byCategory[models.CategorySymptom], 10),
		Medications:        head(byCategory[models.CategoryMedication], 10),
		Conditions:         head(byCategory[models.CategoryDiagnosis], 5),
		Procedures:         head(byCategory[models.CategoryProcedure], 5),
		VitalSigns:         byCategory[models.CategoryVitalSign],
		Timeline:           byCategory[models.CategoryTemporalMarker],
		RecommendedAction:  verdict.Recommendation,
	}

	var parts []string
	if len(summary.PresentingSymptoms) > 0 {
		parts = append(parts, "Presenting symptoms: "+strings.Join(head(summary.PresentingSymptoms, 5), ", "))
	}
	if len(summary.Medications) > 0 {
		parts = append(parts, "Current medications: "+strings.Join(head(summary.Medications, 5), ", "))
	}
	if len(summary.Conditions) > 0 {
		parts = append(parts, "Conditions mentioned: "+strings.Join(head(summary.Conditions, 3), ", "))
	}
	if len(summary.Procedures) > 0 {
		parts = append(parts, "Procedures discussed: "+strings.Join(head(summary.Procedures, 3), ", "))
	}
	if len(summary.VitalSigns) > 0 {
		parts = append(parts, "Vital signs: "+strings.Join(summary.VitalSigns, ", "))
	}
	summary.Text = noFindings
	if len(parts) > 0 {
		summary.Text = strings.Join(parts, ". ")
	}
	return summary
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
