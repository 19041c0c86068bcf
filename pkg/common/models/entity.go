package models

import (
	"fmt"
	"sort"
	"strings"
)

// Category is the fixed set of medical entity kinds. Declaration order is
// the tie-break order used when sorting reconciled entities.
type Category string

const (
	CategorySymptom        Category = "symptom"
	CategoryMedication     Category = "medication"
	CategoryDiagnosis      Category = "diagnosis"
	CategoryProcedure      Category = "procedure"
	CategoryVitalSign      Category = "vital-sign"
	CategoryTemporalMarker Category = "temporal-marker"
)

var categoryOrder = map[Category]int{
	CategorySymptom:        0,
	CategoryMedication:     1,
	CategoryDiagnosis:      2,
	CategoryProcedure:      3,
	CategoryVitalSign:      4,
	CategoryTemporalMarker: 5,
}

// Categories returns all categories in enum order.
func Categories() []Category {
	return []Category{
		CategorySymptom,
		CategoryMedication,
		CategoryDiagnosis,
		CategoryProcedure,
		CategoryVitalSign,
		CategoryTemporalMarker,
	}
}

func (c Category) Valid() bool {
	_, ok := categoryOrder[c]
	return ok
}

// Order returns the enum position, or -1 for unknown categories.
func (c Category) Order() int {
	if o, ok := categoryOrder[c]; ok {
		return o
	}
	return -1
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown entity category %q", s)
	}
	return c, nil
}

// Source tags which extraction strategy produced a candidate.
type Source string

const (
	SourceRuleBased  Source = "rule-based"
	SourceModelBased Source = "model-based"
)

func (s Source) Valid() bool {
	return s == SourceRuleBased || s == SourceModelBased
}

// Span is a half-open [Start, End) character range into the transcript.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s Span) Len() int {
	if s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

// Overlap returns the number of characters shared by both spans.
func (s Span) Overlap(o Span) int {
	lo, hi := s.Start, s.End
	if o.Start > lo {
		lo = o.Start
	}
	if o.End < hi {
		hi = o.End
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}

func (s Span) Union(o Span) Span {
	out := s
	if o.Start < out.Start {
		out.Start = o.Start
	}
	if o.End > out.End {
		out.End = o.End
	}
	return out
}

// EntityCandidate is one adapter's claim about a span of the transcript.
type EntityCandidate struct {
	Source     Source   `json:"source"`
	Category   Category `json:"category"`
	Text       string   `json:"text"`
	Span       Span     `json:"span"`
	Confidence float64  `json:"confidence"`
}

// Validate checks the candidate against the transcript length it claims to index.
func (c EntityCandidate) Validate(textLen int) error {
	if !c.Source.Valid() {
		return fmt.Errorf("candidate %q: unknown source %q", c.Text, c.Source)
	}
	if !c.Category.Valid() {
		return fmt.Errorf("candidate %q: unknown category %q", c.Text, c.Category)
	}
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("candidate at %d-%d: empty text", c.Span.Start, c.Span.End)
	}
	if c.Span.Start < 0 || c.Span.End <= c.Span.Start || c.Span.End > textLen {
		return fmt.Errorf("candidate %q: span %d-%d outside transcript of length %d", c.Text, c.Span.Start, c.Span.End, textLen)
	}
	if !validConfidence(c.Confidence) {
		return fmt.Errorf("candidate %q: confidence %v outside [0,1]", c.Text, c.Confidence)
	}
	return nil
}

// ReconciledEntity is the canonical record for one real-world entity after
// both candidate sets have been merged.
type ReconciledEntity struct {
	Category   Category          `json:"category"`
	Text       string            `json:"text"`
	Confidence float64           `json:"confidence"`
	Sources    []Source          `json:"sources"`
	Span       Span              `json:"span"`
	Codes      map[string]string `json:"codes,omitempty"`
}

// HasSource reports whether src contributed to the entity.
func (e ReconciledEntity) HasSource(src Source) bool {
	for _, s := range e.Sources {
		if s == src {
			return true
		}
	}
	return false
}

// Validate is used by the triage engine; a failure there is fatal for the session.
func (e ReconciledEntity) Validate() error {
	if !e.Category.Valid() {
		return fmt.Errorf("entity %q: unknown category %q", e.Text, e.Category)
	}
	if strings.TrimSpace(e.Text) == "" {
		return fmt.Errorf("entity at %d-%d: empty text", e.Span.Start, e.Span.End)
	}
	if e.Span.Start < 0 || e.Span.End < e.Span.Start {
		return fmt.Errorf("entity %q: invalid span %d-%d", e.Text, e.Span.Start, e.Span.End)
	}
	if !validConfidence(e.Confidence) {
		return fmt.Errorf("entity %q: confidence %v outside [0,1]", e.Text, e.Confidence)
	}
	return nil
}

// SortSources orders a source set deterministically (rule-based first).
func SortSources(sources []Source) {
	sort.Slice(sources, func(i, j int) bool { return sources[i] > sources[j] })
}

// SortEntities orders entities by ascending start offset, then category enum order.
func SortEntities(entities []ReconciledEntity) {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Span.Start != entities[j].Span.Start {
			return entities[i].Span.Start < entities[j].Span.Start
		}
		return entities[i].Category.Order() < entities[j].Category.Order()
	})
}
