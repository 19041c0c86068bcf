package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
	"github.com/synaptica-ai/medtriage/pkg/extraction"
	"github.com/synaptica-ai/medtriage/pkg/reconcile"
	"github.com/synaptica-ai/medtriage/pkg/triage"
)

// triageWithDefaults runs the default dictionary, reconciler and criteria
// over text as if the model extractor were down.
func triageWithDefaults(t *testing.T, text string) (models.TriageVerdict, []models.ReconciledEntity) {
	t.Helper()
	ext, err := extraction.NewRuleExtractor(extraction.DefaultRules())
	if err != nil {
		t.Fatalf("rule extractor: %v", err)
	}
	engine, err := triage.NewEngine(triage.DefaultConfig(), triage.DefaultCriteria())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	cands, err := ext.Extract(context.Background(), text)
	if err != nil {
		t.Fatalf("extract %q: %v", text, err)
	}
	res := reconcile.New(reconcile.DefaultConfig(), nil).Reconcile(cands)
	v, err := engine.Evaluate(context.Background(), triage.Input{
		Transcript: models.NewTranscript(text, 0.9),
		Entities:   res.Entities,
		Mode:       triage.ModePartial,
	})
	if err != nil {
		t.Fatalf("evaluate %q: %v", text, err)
	}
	return v, res.Entities
}

func TestDefaultDictionaryCoversLifeThreatMarkers(t *testing.T) {
	for _, term := range triage.DefaultCriteria().LifeThreatMarkers {
		t.Run(term, func(t *testing.T) {
			v, entities := triageWithDefaults(t, "Patient reports "+term+" today")
			if v.Level != models.LevelImmediate {
				t.Fatalf("level = %d (%v), want 1; entities %+v", v.Level, v.TriggeringRules, entities)
			}
			if strings.HasSuffix(v.TriggeringRules[0], ".transcript") {
				t.Fatalf("%q was not extracted as an entity: %+v", term, entities)
			}
		})
	}
}

func TestDefaultDictionaryCoversHighRiskTerms(t *testing.T) {
	c := triage.DefaultCriteria()
	var terms []string
	terms = append(terms, c.HighRiskSymptoms...)
	terms = append(terms, c.HighRiskConditions...)
	terms = append(terms, c.HighRiskMedications...)
	for _, term := range terms {
		t.Run(term, func(t *testing.T) {
			v, entities := triageWithDefaults(t, "Patient reports "+term+" today")
			if v.Level > models.LevelEmergent {
				t.Fatalf("level = %d (%v), want at most 2; entities %+v", v.Level, v.TriggeringRules, entities)
			}
			if strings.HasSuffix(v.TriggeringRules[0], ".transcript") {
				t.Fatalf("%q was not extracted as an entity: %+v", term, entities)
			}
		})
	}
}

func TestDefaultsDoNotOvertriageMinorComplaints(t *testing.T) {
	cases := []struct {
		text  string
		level models.Level
	}{
		{"I need a refill, I take ibuprofen 200 mg", models.LevelNonUrgent},
		{"Mild headache, I take aspirin", models.LevelLessUrgent},
		{"Fever and a cough, I take acetaminophen 500 mg", models.LevelLessUrgent},
		{"Cough for two weeks, my doctor wants an x-ray", models.LevelUrgent},
	}
	for _, tc := range cases {
		v, entities := triageWithDefaults(t, tc.text)
		if v.Level != tc.level {
			t.Errorf("%q: level = %d (%v), want %d; entities %+v", tc.text, v.Level, v.TriggeringRules, tc.level, entities)
		}
	}
}
