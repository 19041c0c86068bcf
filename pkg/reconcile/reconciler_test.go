package reconcile

import (
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

func cand(src models.Source, cat models.Category, text string, start int, conf float64) models.EntityCandidate {
	return models.EntityCandidate{
		Source:     src,
		Category:   cat,
		Text:       text,
		Span:       models.Span{Start: start, End: start + len(text)},
		Confidence: conf,
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestReconcileAgreeingSourcesBoost(t *testing.T) {
	r := New(DefaultConfig(), nil)
	res := r.Reconcile(
		[]models.EntityCandidate{cand(models.SourceRuleBased, models.CategoryMedication, "ibuprofen", 10, 0.8)},
		[]models.EntityCandidate{cand(models.SourceModelBased, models.CategoryMedication, "ibuprofen", 10, 0.7)},
	)
	if len(res.Entities) != 1 {
		t.Fatalf("expected 1 entity, got %+v", res.Entities)
	}
	e := res.Entities[0]
	if !approx(e.Confidence, 0.94) {
		t.Fatalf("confidence = %v, want 0.94", e.Confidence)
	}
	if !reflect.DeepEqual(e.Sources, []models.Source{models.SourceRuleBased, models.SourceModelBased}) {
		t.Fatalf("unexpected sources %v", e.Sources)
	}
	if e.Text != "ibuprofen" || e.Span != (models.Span{Start: 10, End: 19}) {
		t.Fatalf("unexpected entity %+v", e)
	}
}

func TestNoisyORBoostProperty(t *testing.T) {
	values := []float64{0, 0.1, 0.5, 0.51, 0.7, 0.8, 0.99, 1}
	for _, a := range values {
		for _, b := range values {
			c := NoisyOR(a, b)
			if c < a || c < b || c > 1 {
				t.Fatalf("NoisyOR(%v, %v) = %v", a, b, c)
			}
		}
	}
}

func TestReconcileSameSourceTakesMax(t *testing.T) {
	r := New(DefaultConfig(), nil)
	res := r.Reconcile([]models.EntityCandidate{
		cand(models.SourceRuleBased, models.CategorySymptom, "severe headache", 0, 0.7),
		cand(models.SourceRuleBased, models.CategorySymptom, "headache", 7, 0.6),
	})
	if len(res.Entities) != 1 {
		t.Fatalf("expected 1 entity, got %+v", res.Entities)
	}
	if e := res.Entities[0]; e.Confidence != 0.7 || e.Text != "severe headache" || e.Span != (models.Span{Start: 0, End: 15}) {
		t.Fatalf("unexpected entity %+v", e)
	}
}

func TestReconcileCategoryConflictPriors(t *testing.T) {
	r := New(DefaultConfig(), nil)

	res := r.Reconcile(
		[]models.EntityCandidate{cand(models.SourceRuleBased, models.CategoryDiagnosis, "chest pain", 0, 0.9)},
		[]models.EntityCandidate{cand(models.SourceModelBased, models.CategorySymptom, "chest pain", 0, 0.8)},
	)
	if res.Conflicts != 1 || len(res.Entities) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	e := res.Entities[0]
	if e.Category != models.CategorySymptom || !approx(e.Confidence, 0.64) {
		t.Fatalf("model prior should win symptom conflict with penalty, got %+v", e)
	}
	if !reflect.DeepEqual(e.Sources, []models.Source{models.SourceModelBased}) {
		t.Fatalf("loser source must not contribute, got %v", e.Sources)
	}

	res = r.Reconcile(
		[]models.EntityCandidate{cand(models.SourceRuleBased, models.CategoryMedication, "aspirin", 4, 0.9)},
		[]models.EntityCandidate{cand(models.SourceModelBased, models.CategoryVitalSign, "aspirin", 4, 0.95)},
	)
	if len(res.Entities) != 1 || res.Entities[0].Category != models.CategoryMedication || !approx(res.Entities[0].Confidence, 0.72) {
		t.Fatalf("rule prior should win medication conflict, got %+v", res.Entities)
	}
}

func TestReconcileConflictBothPreferredFallsBackToConfidence(t *testing.T) {
	r := New(DefaultConfig(), nil)
	res := r.Reconcile(
		[]models.EntityCandidate{cand(models.SourceRuleBased, models.CategoryMedication, "tylenol", 0, 0.75)},
		[]models.EntityCandidate{cand(models.SourceModelBased, models.CategorySymptom, "tylenol", 0, 0.9)},
	)
	if len(res.Entities) != 1 || res.Entities[0].Category != models.CategorySymptom || !approx(res.Entities[0].Confidence, 0.72) {
		t.Fatalf("unexpected result %+v", res.Entities)
	}
}

func TestReconcileConfigurablePriors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Priors = CategoryPriors{models.CategoryMedication: models.SourceModelBased}
	r := New(cfg, nil)
	res := r.Reconcile(
		[]models.EntityCandidate{cand(models.SourceRuleBased, models.CategoryMedication, "aspirin", 0, 0.9)},
		[]models.EntityCandidate{cand(models.SourceModelBased, models.CategoryDiagnosis, "aspirin", 0, 0.7)},
	)
	if len(res.Entities) != 1 || res.Entities[0].Category != models.CategoryMedication {
		t.Fatalf("neither side preferred: higher confidence should win, got %+v", res.Entities)
	}
}

func TestReconcileCorroboratedWinnerNotPenalised(t *testing.T) {
	r := New(DefaultConfig(), nil)
	res := r.Reconcile(
		[]models.EntityCandidate{cand(models.SourceRuleBased, models.CategoryMedication, "insulin", 0, 0.8)},
		[]models.EntityCandidate{
			cand(models.SourceModelBased, models.CategoryMedication, "insulin", 0, 0.7),
			cand(models.SourceModelBased, models.CategoryDiagnosis, "insulin", 0, 0.6),
		},
	)
	if len(res.Entities) != 1 || !approx(res.Entities[0].Confidence, 0.94) {
		t.Fatalf("unexpected result %+v", res.Entities)
	}
}

func TestReconcileDropsLowConfidence(t *testing.T) {
	r := New(DefaultConfig(), nil)
	res := r.Reconcile(
		[]models.EntityCandidate{
			cand(models.SourceRuleBased, models.CategorySymptom, "nausea", 0, 0.4),
			cand(models.SourceRuleBased, models.CategorySymptom, "cough", 20, 0.5),
		},
		[]models.EntityCandidate{
			cand(models.SourceModelBased, models.CategorySymptom, "rash", 40, 0.6),
			cand(models.SourceRuleBased, models.CategoryDiagnosis, "rash", 40, 0.5),
		},
	)
	if res.Dropped != 2 {
		t.Fatalf("expected nausea and penalised rash dropped, got %d (%+v)", res.Dropped, res.Entities)
	}
	if len(res.Entities) != 1 || res.Entities[0].Text != "cough" {
		t.Fatalf("expected only cough at threshold, got %+v", res.Entities)
	}
}

func TestReconcileTextEqualityMerges(t *testing.T) {
	r := New(DefaultConfig(), nil)
	res := r.Reconcile(
		[]models.EntityCandidate{cand(models.SourceRuleBased, models.CategorySymptom, "Fever", 30, 0.6)},
		[]models.EntityCandidate{cand(models.SourceModelBased, models.CategorySymptom, "fever", 0, 0.6)},
	)
	if len(res.Entities) != 1 {
		t.Fatalf("expected 1 entity, got %+v", res.Entities)
	}
	e := res.Entities[0]
	if e.Span != (models.Span{Start: 0, End: 5}) || !approx(e.Confidence, 0.84) {
		t.Fatalf("unexpected entity %+v", e)
	}
}

func TestReconcilePartialOverlapNeverDuplicates(t *testing.T) {
	r := New(DefaultConfig(), nil)
	res := r.Reconcile([]models.EntityCandidate{
		cand(models.SourceModelBased, models.CategorySymptom, "chest pain", 0, 0.9),
		cand(models.SourceModelBased, models.CategorySymptom, "pain radiating", 6, 0.7),
	})
	if len(res.Entities) != 1 {
		t.Fatalf("overlapping same-category entities must merge, got %+v", res.Entities)
	}
	if res.Entities[0].Span != (models.Span{Start: 0, End: 20}) || res.Entities[0].Text != "chest pain" {
		t.Fatalf("unexpected entity %+v", res.Entities[0])
	}
}

func TestReconcileOrdering(t *testing.T) {
	r := New(DefaultConfig(), nil)
	res := r.Reconcile([]models.EntityCandidate{
		cand(models.SourceRuleBased, models.CategoryProcedure, "x-ray", 30, 0.9),
		cand(models.SourceRuleBased, models.CategoryTemporalMarker, "today", 0, 0.9),
		cand(models.SourceRuleBased, models.CategorySymptom, "cough", 0, 0.9),
	})
	var got []string
	for _, e := range res.Entities {
		got = append(got, e.Text)
	}
	want := []string{"cough", "today", "x-ray"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestReconcileIgnoresInvalid(t *testing.T) {
	r := New(DefaultConfig(), nil)
	res := r.Reconcile([]models.EntityCandidate{
		{Source: models.SourceRuleBased, Category: "allergy", Text: "x", Span: models.Span{Start: 0, End: 1}, Confidence: 0.9},
		{Source: models.SourceRuleBased, Category: models.CategorySymptom, Text: "  ", Span: models.Span{Start: 0, End: 2}, Confidence: 0.9},
		{Source: models.SourceRuleBased, Category: models.CategorySymptom, Text: "pain", Span: models.Span{Start: 0, End: 4}, Confidence: math.NaN()},
	})
	if res.Invalid != 3 || len(res.Entities) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

type recordingAnnotator struct {
	calls int
}

func (a *recordingAnnotator) Annotate(entities []models.ReconciledEntity) {
	a.calls++
	for i := range entities {
		entities[i].Codes = map[string]string{"snomed": "1"}
	}
}

func TestReconcileAnnotates(t *testing.T) {
	ann := &recordingAnnotator{}
	res := New(DefaultConfig(), ann).Reconcile([]models.EntityCandidate{
		cand(models.SourceRuleBased, models.CategorySymptom, "cough", 0, 0.9),
	})
	if ann.calls != 1 || res.Entities[0].Codes["snomed"] != "1" {
		t.Fatalf("expected annotation, got %+v", res.Entities)
	}
}

// Randomised candidate sets must always satisfy the dedup invariant and be
// independent of input order.
func TestReconcileInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	terms := []string{"pain", "chest pain", "fever", "ibuprofen", "cough", "bp 90/60"}
	sources := []models.Source{models.SourceRuleBased, models.SourceModelBased}
	r := New(DefaultConfig(), nil)

	for iter := 0; iter < 200; iter++ {
		var cands []models.EntityCandidate
		n := 1 + rng.Intn(12)
		for i := 0; i < n; i++ {
			cats := models.Categories()
			cands = append(cands, cand(
				sources[rng.Intn(2)],
				cats[rng.Intn(len(cats))],
				terms[rng.Intn(len(terms))],
				rng.Intn(40),
				0.3+0.7*rng.Float64(),
			))
		}

		res := r.Reconcile(cands)
		for i := 0; i < len(res.Entities); i++ {
			for j := i + 1; j < len(res.Entities); j++ {
				a, b := res.Entities[i], res.Entities[j]
				if a.Category == b.Category && a.Span.Overlap(b.Span) > 0 {
					t.Fatalf("iteration %d: overlapping %s entities %+v and %+v", iter, a.Category, a, b)
				}
			}
			if res.Entities[i].Confidence < 0.5 {
				t.Fatalf("iteration %d: entity below threshold %+v", iter, res.Entities[i])
			}
		}

		shuffled := append([]models.EntityCandidate(nil), cands...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		again := r.Reconcile(shuffled)
		if !reflect.DeepEqual(res, again) {
			t.Fatalf("iteration %d: result depends on input order\n%+v\n%+v", iter, res, again)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := DefaultConfig()
	bad.DisagreementPenalty = 0
	if err := bad.Validate(); err == nil {
		t.Fatal("expected penalty error")
	}
	bad = DefaultConfig()
	bad.Priors = CategoryPriors{"allergy": models.SourceRuleBased}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected prior error")
	}
}
