package triage

import (
	"fmt"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
	"github.com/synaptica-ai/medtriage/pkg/textnorm"
)

// Rule identifiers recorded in TriageVerdict.TriggeringRules.
const (
	RuleLifeThreat    = "esi-1"
	RuleHighRisk      = "esi-2"
	RuleMultiResource = "esi-3"
	RuleOneResource   = "esi-4"
	RuleNoResources   = "esi-5"
)

// signal is one piece of evidence that satisfied a rule. keyword marks a
// transcript keyword hit rather than an entity.
type signal struct {
	term       string
	confidence float64
	category   models.Category
	keyword    bool
}

type check struct {
	id   string
	eval func(*evaluation) ([]signal, bool)
}

func transcriptDerived(signals []signal) bool {
	for _, s := range signals {
		if s.keyword {
			return true
		}
	}
	return false
}

type tier struct {
	id     string
	level  models.Level
	checks []check
}

// cascade is evaluated top-down; the first matching check wins.
var cascade = []tier{
	{id: RuleLifeThreat, level: models.LevelImmediate, checks: []check{
		{id: RuleLifeThreat + ".marker", eval: lifeThreatMarker},
		{id: RuleLifeThreat + ".vitals", eval: criticalVitals},
	}},
	{id: RuleHighRisk, level: models.LevelEmergent, checks: []check{
		{id: RuleHighRisk + ".high-risk-entity", eval: highRiskEntity},
		{id: RuleHighRisk + ".elderly", eval: elderlyConcern},
	}},
	{id: RuleMultiResource, level: models.LevelUrgent, checks: []check{
		{id: RuleMultiResource + ".multi-resource", eval: multiResource},
	}},
	{id: RuleOneResource, level: models.LevelLessUrgent, checks: []check{
		{id: RuleOneResource + ".single-resource", eval: singleResource},
	}},
	{id: RuleNoResources, level: models.LevelNonUrgent, checks: []check{
		{id: RuleNoResources + ".none", eval: noResources},
	}},
}

// evaluation holds per-call derived state. Rules read it and never mutate
// the input.
type evaluation struct {
	cfg        Config
	criteria   Criteria
	in         Input
	transcript textnorm.Matcher
	fallback   bool
	resources  []signal
	// categories is the number of distinct resource categories in resources.
	categories int
}

func newEvaluation(e *Engine, in Input) *evaluation {
	ev := &evaluation{
		cfg:        e.cfg,
		criteria:   e.criteria,
		in:         in,
		transcript: textnorm.NewMatcher(in.Transcript.Text),
		fallback:   in.Mode == ModeTranscriptOnly,
	}
	ev.resources = ev.countResources()
	seen := make(map[models.Category]struct{})
	for _, r := range ev.resources {
		seen[r.category] = struct{}{}
	}
	ev.categories = len(seen)
	return ev
}

// entitiesMatching returns entities in the given categories whose text
// contains one of terms.
func (ev *evaluation) entitiesMatching(terms []string, minConfidence float64, categories ...models.Category) []signal {
	var out []signal
	for _, ent := range ev.in.Entities {
		if len(categories) > 0 && !inCategories(ent.Category, categories) {
			continue
		}
		if ent.Confidence < minConfidence {
			continue
		}
		for _, term := range terms {
			if textnorm.ContainsPhrase(ent.Text, term) {
				out = append(out, signal{term: ent.Text, confidence: ent.Confidence, category: ent.Category})
				break
			}
		}
	}
	return out
}

// transcriptMatching returns keyword hits in the transcript, each carrying
// the transcript confidence.
func (ev *evaluation) transcriptMatching(terms ...[]string) []signal {
	var out []signal
	seen := make(map[string]struct{})
	for _, list := range terms {
		for _, term := range list {
			key := textnorm.Key(term)
			if _, dup := seen[key]; dup {
				continue
			}
			if ev.transcript.Contains(term) {
				seen[key] = struct{}{}
				out = append(out, signal{term: term, confidence: ev.in.Transcript.Confidence, keyword: true})
			}
		}
	}
	return out
}

// lifeThreatMarker prefers marker entities and falls back to transcript
// keywords in every mode, so a marker the extractors missed still counts.
func lifeThreatMarker(ev *evaluation) ([]signal, bool) {
	signals := ev.entitiesMatching(ev.criteria.LifeThreatMarkers, 0)
	if len(signals) == 0 {
		signals = ev.transcriptMatching(ev.criteria.LifeThreatMarkers)
	}
	return signals, len(signals) > 0
}

// criticalVitals reads numeric vitals straight from the transcript in every
// mode. A vital-sign entity covering the reading lends its confidence.
func criticalVitals(ev *evaluation) ([]signal, bool) {
	var signals []signal
	for _, v := range ParseVitals(ev.in.Transcript.Text) {
		if !ev.criteria.CriticalVitals.Critical(v) {
			continue
		}
		conf := ev.in.Transcript.Confidence
		for _, ent := range ev.in.Entities {
			span := models.Span{Start: v.Start, End: v.End}
			if ent.Category == models.CategoryVitalSign && ent.Span.Overlap(span) > 0 {
				conf = ent.Confidence
				break
			}
		}
		signals = append(signals, signal{term: v.Text, confidence: conf})
	}
	return signals, len(signals) > 0
}

// highRiskEntity looks for confident high-risk entities first. Transcript
// keywords count when the transcript itself clears the confidence threshold.
func highRiskEntity(ev *evaluation) ([]signal, bool) {
	c := ev.criteria
	threshold := ev.cfg.HighRiskConfidence
	var signals []signal
	signals = append(signals, ev.entitiesMatching(c.HighRiskSymptoms, threshold, models.CategorySymptom)...)
	signals = append(signals, ev.entitiesMatching(c.HighRiskConditions, threshold, models.CategoryDiagnosis)...)
	signals = append(signals, ev.entitiesMatching(c.HighRiskMedications, threshold, models.CategoryMedication)...)
	if len(signals) == 0 && ev.in.Transcript.Confidence >= threshold {
		signals = ev.transcriptMatching(c.HighRiskSymptoms, c.HighRiskConditions, c.HighRiskMedications)
	}
	return signals, len(signals) > 0
}

func elderlyConcern(ev *evaluation) ([]signal, bool) {
	age, ok := ParseAge(ev.in.Transcript.Text)
	if !ok || age < ev.criteria.ElderlyAge {
		return nil, false
	}

	concerns := ev.entitiesMatching(ev.criteria.ElderlyConcerningTerms, 0)
	if len(concerns) == 0 {
		concerns = ev.transcriptMatching(ev.criteria.ElderlyConcerningTerms)
	}
	if len(concerns) == 0 {
		return nil, false
	}
	ageSignal := signal{term: fmt.Sprintf("age %d", age), confidence: ev.in.Transcript.Confidence}
	return append([]signal{ageSignal}, concerns...), true
}

func multiResource(ev *evaluation) ([]signal, bool) {
	if ev.categories >= ev.cfg.MultiResourceThreshold {
		return ev.resources, true
	}
	return nil, false
}

// singleResource covers resource findings that stay within fewer categories
// than the level 3 threshold.
func singleResource(ev *evaluation) ([]signal, bool) {
	if len(ev.resources) > 0 && ev.categories < ev.cfg.MultiResourceThreshold {
		return ev.resources, true
	}
	return nil, false
}

func noResources(ev *evaluation) ([]signal, bool) {
	return nil, len(ev.resources) == 0
}

// countResources lists distinct findings in the resource categories:
// entities, or keyword hits when running on the transcript. Each keyword
// list stands for the category its terms describe.
func (ev *evaluation) countResources() []signal {
	c := ev.criteria
	var out []signal
	seen := make(map[string]struct{})
	add := func(s signal) {
		if !inCategories(s.category, c.ResourceCategories) {
			return
		}
		key := string(s.category) + "|" + textnorm.Key(s.term)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}

	if !ev.fallback {
		for _, ent := range ev.in.Entities {
			add(signal{term: ent.Text, confidence: ent.Confidence, category: ent.Category})
		}
		return out
	}

	for _, list := range []struct {
		category models.Category
		terms    []string
	}{
		{models.CategorySymptom, c.HighRiskSymptoms},
		{models.CategoryDiagnosis, c.HighRiskConditions},
		{models.CategoryMedication, c.HighRiskMedications},
		{models.CategorySymptom, c.ModerateSymptoms},
		{models.CategoryDiagnosis, c.ChronicConditions},
		{models.CategoryProcedure, c.ResourceIntensive},
		{models.CategorySymptom, c.SimpleProblems},
		{models.CategoryProcedure, c.SingleResource},
	} {
		for _, s := range ev.transcriptMatching(list.terms) {
			s.category = list.category
			add(s)
		}
	}
	return out
}

func inCategories(c models.Category, set []models.Category) bool {
	for _, s := range set {
		if s == c {
			return true
		}
	}
	return false
}
