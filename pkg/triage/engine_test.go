package triage

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig(), DefaultCriteria())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return e
}

func entity(cat models.Category, text string, start int, conf float64) models.ReconciledEntity {
	return models.ReconciledEntity{
		Category:   cat,
		Text:       text,
		Confidence: conf,
		Sources:    []models.Source{models.SourceRuleBased, models.SourceModelBased},
		Span:       models.Span{Start: start, End: start + len(text)},
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func assertVerdict(t *testing.T, v models.TriageVerdict, level models.Level, rules ...string) {
	t.Helper()
	if v.Level != level {
		t.Fatalf("level = %d, want %d (rules %v)", v.Level, level, v.TriggeringRules)
	}
	if v.Label != level.Label() {
		t.Fatalf("label %q does not match level %d", v.Label, level)
	}
	if !reflect.DeepEqual(v.TriggeringRules, rules) {
		t.Fatalf("rules = %v, want %v", v.TriggeringRules, rules)
	}
}

func TestCardiacArrestIsImmediate(t *testing.T) {
	e := newTestEngine(t)
	v, err := e.Evaluate(context.Background(), Input{
		Transcript: models.NewTranscript("He went into cardiac arrest in the car", 0.95),
		Entities:   []models.ReconciledEntity{entity(models.CategorySymptom, "cardiac arrest", 15, 0.9)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertVerdict(t, v, models.LevelImmediate, "esi-1.marker", "esi-1")
	if v.Label != "IMMEDIATE" || v.MaxWait != "0 min" || !approx(v.Confidence, 0.9) {
		t.Fatalf("unexpected verdict %+v", v)
	}
	if v.Recommendation != models.LevelImmediate.Recommendation()+" (matched: cardiac arrest)" {
		t.Fatalf("unexpected recommendation %q", v.Recommendation)
	}
}

func TestNoEntitiesIsNonUrgent(t *testing.T) {
	e := newTestEngine(t)
	v, err := e.Evaluate(context.Background(), Input{
		Transcript: models.NewTranscript("I would like a work note please", 0.8),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertVerdict(t, v, models.LevelNonUrgent, "esi-5.none", "esi-5")
	if v.Label != "NON-URGENT" || !approx(v.Confidence, 0.8) {
		t.Fatalf("unexpected verdict %+v", v)
	}
}

func TestCriticalVitalsFromTranscript(t *testing.T) {
	e := newTestEngine(t)
	text := "Patient is pale, BP 60/40 on arrival"
	v, err := e.Evaluate(context.Background(), Input{
		Transcript: models.NewTranscript(text, 0.7),
		Entities:   []models.ReconciledEntity{entity(models.CategoryVitalSign, "BP 60/40", 17, 0.95)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertVerdict(t, v, models.LevelImmediate, "esi-1.vitals", "esi-1")
	if !approx(v.Confidence, 0.95) {
		t.Fatalf("expected vital entity confidence, got %v", v.Confidence)
	}
}

func TestHighRiskNeedsConfidence(t *testing.T) {
	e := newTestEngine(t)
	text := "Crushing chest pain since this morning"

	v, err := e.Evaluate(context.Background(), Input{
		Transcript: models.NewTranscript(text, 0.9),
		Entities:   []models.ReconciledEntity{entity(models.CategorySymptom, "chest pain", 9, 0.8)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertVerdict(t, v, models.LevelEmergent, "esi-2.high-risk-entity", "esi-2")

	v, err = e.Evaluate(context.Background(), Input{
		Transcript: models.NewTranscript(text, 0.6),
		Entities:   []models.ReconciledEntity{entity(models.CategorySymptom, "chest pain", 9, 0.6)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertVerdict(t, v, models.LevelLessUrgent, "esi-4.single-resource", "esi-4")

	// a confident transcript carries the keyword past a weak entity
	v, err = e.Evaluate(context.Background(), Input{
		Transcript: models.NewTranscript(text, 0.9),
		Entities:   []models.ReconciledEntity{entity(models.CategorySymptom, "chest pain", 9, 0.6)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertVerdict(t, v, models.LevelEmergent, "esi-2.high-risk-entity.transcript", "esi-2")
	if !approx(v.Confidence, 0.9) {
		t.Fatalf("confidence = %v, want transcript confidence", v.Confidence)
	}
}

func TestLifeThreatKeywordWithoutEntity(t *testing.T) {
	e := newTestEngine(t)
	for _, tc := range []struct {
		mode Mode
		conf float64
	}{
		{ModeFull, 0.9},
		{ModePartial, 0.85},
		{ModeTranscriptOnly, 0.5},
	} {
		v, err := e.Evaluate(context.Background(), Input{
			Transcript: models.NewTranscript("The patient is comatose on arrival", 0.9),
			Entities:   []models.ReconciledEntity{entity(models.CategoryTemporalMarker, "on arrival", 24, 0.9)},
			Mode:       tc.mode,
		})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.mode, err)
		}
		assertVerdict(t, v, models.LevelImmediate, "esi-1.marker.transcript", "esi-1")
		if !approx(v.Confidence, tc.conf) {
			t.Fatalf("%s: confidence = %v, want %v", tc.mode, v.Confidence, tc.conf)
		}
	}
}

func TestResourcesCountCategoriesNotEntities(t *testing.T) {
	e := newTestEngine(t)
	cases := []struct {
		name     string
		text     string
		entities []models.ReconciledEntity
		level    models.Level
		rule     string
	}{
		{
			name: "medication and dose",
			text: "I need a refill, I take ibuprofen 200 mg",
			entities: []models.ReconciledEntity{
				entity(models.CategoryMedication, "ibuprofen", 24, 0.9),
				entity(models.CategoryMedication, "200 mg", 34, 0.85),
			},
			level: models.LevelNonUrgent,
			rule:  "esi-5.none",
		},
		{
			name: "symptom and medication",
			text: "Mild headache, I take aspirin",
			entities: []models.ReconciledEntity{
				entity(models.CategorySymptom, "headache", 5, 0.9),
				entity(models.CategoryMedication, "aspirin", 22, 0.9),
			},
			level: models.LevelLessUrgent,
			rule:  "esi-4.single-resource",
		},
		{
			name: "several symptoms",
			text: "Fever, cough and a sore throat",
			entities: []models.ReconciledEntity{
				entity(models.CategorySymptom, "Fever", 0, 0.9),
				entity(models.CategorySymptom, "cough", 7, 0.9),
				entity(models.CategorySymptom, "sore throat", 19, 0.9),
			},
			level: models.LevelLessUrgent,
			rule:  "esi-4.single-resource",
		},
		{
			name: "symptom and procedure",
			text: "Cough for a week, wants an x-ray",
			entities: []models.ReconciledEntity{
				entity(models.CategorySymptom, "Cough", 0, 0.9),
				entity(models.CategoryProcedure, "x-ray", 27, 0.9),
			},
			level: models.LevelUrgent,
			rule:  "esi-3.multi-resource",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := e.Evaluate(context.Background(), Input{
				Transcript: models.NewTranscript(tc.text, 0.9),
				Entities:   tc.entities,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			assertVerdict(t, v, tc.level, tc.rule, tc.rule[:5])
		})
	}
}

func TestElderlyWithConcern(t *testing.T) {
	e := newTestEngine(t)
	text := "She is 78 years old and had a fall at home"
	v, err := e.Evaluate(context.Background(), Input{
		Transcript: models.NewTranscript(text, 0.9),
		Entities:   []models.ReconciledEntity{entity(models.CategorySymptom, "fall", 30, 0.6)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertVerdict(t, v, models.LevelEmergent, "esi-2.elderly", "esi-2")
	if !approx(v.Confidence, 0.75) {
		t.Fatalf("confidence = %v, want mean of age and fall signals", v.Confidence)
	}
}

func TestResourceCounting(t *testing.T) {
	e := newTestEngine(t)
	text := "Fever for two days, needs an x-ray"

	v, err := e.Evaluate(context.Background(), Input{
		Transcript: models.NewTranscript(text, 0.9),
		Entities: []models.ReconciledEntity{
			entity(models.CategorySymptom, "Fever", 0, 0.8),
			entity(models.CategoryTemporalMarker, "for two days", 6, 0.9),
			entity(models.CategoryProcedure, "x-ray", 29, 0.9),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertVerdict(t, v, models.LevelUrgent, "esi-3.multi-resource", "esi-3")
	if !approx(v.Confidence, 0.85) {
		t.Fatalf("confidence = %v, want 0.85", v.Confidence)
	}

	v, err = e.Evaluate(context.Background(), Input{
		Transcript: models.NewTranscript(text, 0.9),
		Entities: []models.ReconciledEntity{
			entity(models.CategorySymptom, "Fever", 0, 0.8),
			entity(models.CategoryTemporalMarker, "for two days", 6, 0.9),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertVerdict(t, v, models.LevelLessUrgent, "esi-4.single-resource", "esi-4")
}

func TestTranscriptOnlyConfidenceAtMostDegradedCeiling(t *testing.T) {
	e := newTestEngine(t)
	v, err := e.Evaluate(context.Background(), Input{
		Transcript: models.NewTranscript("Caller says he is unresponsive and not breathing", 0.9),
		Mode:       ModeTranscriptOnly,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertVerdict(t, v, models.LevelImmediate, "esi-1.marker.transcript", "esi-1")
	if v.Confidence > DefaultConfig().DegradedCeiling {
		t.Fatalf("confidence %v above degraded ceiling", v.Confidence)
	}

	v, err = e.Evaluate(context.Background(), Input{
		Transcript: models.NewTranscript("Just here for a work note", 0.95),
		Mode:       ModeTranscriptOnly,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertVerdict(t, v, models.LevelNonUrgent, "esi-5.none", "esi-5")
	if !approx(v.Confidence, 0.5) {
		t.Fatalf("confidence = %v, want capped 0.5", v.Confidence)
	}
}

func TestTranscriptOnlyResources(t *testing.T) {
	e := newTestEngine(t)
	v, err := e.Evaluate(context.Background(), Input{
		Transcript: models.NewTranscript("I have a fever and vomiting since last night", 0.6),
		Mode:       ModeTranscriptOnly,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertVerdict(t, v, models.LevelLessUrgent, "esi-4.single-resource.transcript", "esi-4")
	if !reflect.DeepEqual(v.MatchedTerms, []string{"fever", "vomiting"}) {
		t.Fatalf("unexpected matched terms %v", v.MatchedTerms)
	}

	v, err = e.Evaluate(context.Background(), Input{
		Transcript: models.NewTranscript("I have a fever and need a urine test", 0.6),
		Mode:       ModeTranscriptOnly,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertVerdict(t, v, models.LevelUrgent, "esi-3.multi-resource.transcript", "esi-3")
	if !reflect.DeepEqual(v.MatchedTerms, []string{"fever", "urine test"}) {
		t.Fatalf("unexpected matched terms %v", v.MatchedTerms)
	}
}

func TestPartialModeCeiling(t *testing.T) {
	e := newTestEngine(t)
	v, err := e.Evaluate(context.Background(), Input{
		Transcript: models.NewTranscript("cardiac arrest", 1),
		Entities:   []models.ReconciledEntity{entity(models.CategorySymptom, "cardiac arrest", 0, 0.99)},
		Mode:       ModePartial,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approx(v.Confidence, 0.85) {
		t.Fatalf("confidence = %v, want partial ceiling 0.85", v.Confidence)
	}
}

func TestMalformedEntityIsTriageRuleError(t *testing.T) {
	e := newTestEngine(t)
	tr := models.NewTranscript("some pain", 0.9)
	bad := []models.ReconciledEntity{
		{Category: "allergy", Text: "pain", Confidence: 0.9, Span: models.Span{Start: 5, End: 9}},
		{Category: models.CategorySymptom, Text: "", Confidence: 0.9, Span: models.Span{Start: 5, End: 9}},
		{Category: models.CategorySymptom, Text: "pain", Confidence: math.NaN(), Span: models.Span{Start: 5, End: 9}},
		{Category: models.CategorySymptom, Text: "pain", Confidence: 1.2, Span: models.Span{Start: 5, End: 9}},
		{Category: models.CategorySymptom, Text: "pain", Confidence: 0.9, Span: models.Span{Start: 9, End: 5}},
	}
	for i, ent := range bad {
		_, err := e.Evaluate(context.Background(), Input{Transcript: tr, Entities: []models.ReconciledEntity{ent}})
		if !models.IsTriageRuleError(err) {
			t.Errorf("case %d: expected TriageRuleError, got %v", i, err)
		}
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	e := newTestEngine(t)
	in := Input{
		Transcript: models.NewTranscript("Fever and cough, taking aspirin", 0.88),
		Entities: []models.ReconciledEntity{
			entity(models.CategorySymptom, "Fever", 0, 0.8),
			entity(models.CategorySymptom, "cough", 10, 0.7),
			entity(models.CategoryMedication, "aspirin", 24, 0.9),
		},
	}
	first, err := e.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := e.Evaluate(context.Background(), in)
		if err != nil || !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %+v vs %+v (%v)", i, first, again, err)
		}
	}
}

func TestEvaluateRecoversPanics(t *testing.T) {
	saved := cascade
	defer func() { cascade = saved }()
	cascade = append([]tier{{id: "boom", level: models.LevelImmediate, checks: []check{
		{id: "boom.check", eval: func(*evaluation) ([]signal, bool) { panic("nil criteria") }},
	}}}, saved...)

	_, err := newTestEngine(t).Evaluate(context.Background(), Input{Transcript: models.NewTranscript("x", 1)})
	if !models.IsTriageRuleError(err) {
		t.Fatalf("expected TriageRuleError, got %v", err)
	}
}

func TestEvaluateHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestEngine(t).Evaluate(ctx, Input{Transcript: models.NewTranscript("x", 1)})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MultiResourceThreshold = 0
	if _, err := NewEngine(cfg, DefaultCriteria()); err == nil {
		t.Fatal("expected threshold error")
	}
	cfg = DefaultConfig()
	cfg.MultiResourceThreshold = 3
	if _, err := NewEngine(cfg, DefaultCriteria()); err == nil {
		t.Fatal("expected threshold above category count to fail")
	}
	cfg = DefaultConfig()
	cfg.DegradedCeiling = 1.5
	if _, err := NewEngine(cfg, DefaultCriteria()); err == nil {
		t.Fatal("expected ceiling error")
	}
}

func TestLoadCriteriaOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "criteria.yaml")
	content := []byte(`life_threat_markers: ["code blue"]
elderly_age: 70
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write criteria: %v", err)
	}
	c, err := LoadCriteria(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(c.LifeThreatMarkers, []string{"code blue"}) || c.ElderlyAge != 70 {
		t.Fatalf("unexpected criteria %+v", c)
	}
	if c.CriticalVitals.SystolicBPLow != 70 {
		t.Fatal("unset keys should keep defaults")
	}
}
