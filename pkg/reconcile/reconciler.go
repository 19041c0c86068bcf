// Package reconcile merges the candidate sets of both extraction adapters
// into one conflict-free entity set.
package reconcile

import (
	"sort"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
	"github.com/synaptica-ai/medtriage/pkg/textnorm"
)

// Annotator attaches vocabulary codes to reconciled entities.
type Annotator interface {
	Annotate(entities []models.ReconciledEntity)
}

type Result struct {
	Entities []models.ReconciledEntity
	// Dropped counts entities removed by the minimum confidence threshold.
	Dropped int
	// Conflicts counts cross-source category disagreements that were resolved.
	Conflicts int
	// Invalid counts malformed candidates that were ignored.
	Invalid int
}

type Reconciler struct {
	cfg       Config
	annotator Annotator
}

// New returns a Reconciler. annotator may be nil.
func New(cfg Config, annotator Annotator) *Reconciler {
	if cfg.Priors == nil {
		cfg.Priors = DefaultPriors()
	}
	return &Reconciler{cfg: cfg, annotator: annotator}
}

type member struct {
	cand      models.EntityCandidate
	key       string
	conf      float64
	penalized bool
	alive     bool
}

// Reconcile is a pure function of its input: the result does not depend on
// the order of candidates or sets.
func (r *Reconciler) Reconcile(sets ...[]models.EntityCandidate) Result {
	var res Result
	var members []*member
	for _, set := range sets {
		for _, c := range set {
			if !c.Source.Valid() || !c.Category.Valid() || c.Span.Len() == 0 || !validConfidence(c.Confidence) {
				res.Invalid++
				continue
			}
			key := textnorm.Key(c.Text)
			if key == "" {
				res.Invalid++
				continue
			}
			members = append(members, &member{cand: c, key: key, conf: c.Confidence, alive: true})
		}
	}
	sort.SliceStable(members, func(i, j int) bool { return lessMember(members[i], members[j]) })

	res.Conflicts = r.resolveConflicts(members)

	byCategory := make(map[models.Category][]*member)
	for _, m := range members {
		if m.alive {
			byCategory[m.cand.Category] = append(byCategory[m.cand.Category], m)
		}
	}

	for _, cat := range models.Categories() {
		for _, g := range r.group(byCategory[cat]) {
			entity := g.entity()
			if entity.Confidence < r.cfg.MinConfidence {
				res.Dropped++
				continue
			}
			res.Entities = append(res.Entities, entity)
		}
	}

	if r.annotator != nil {
		r.annotator.Annotate(res.Entities)
	}
	models.SortEntities(res.Entities)
	return res
}

// sameMention applies the overlap-fraction test against the shorter span.
func (r *Reconciler) sameMention(a, b models.Span) bool {
	overlap := a.Overlap(b)
	if overlap == 0 {
		return false
	}
	shorter := a.Len()
	if b.Len() < shorter {
		shorter = b.Len()
	}
	return float64(overlap) > r.cfg.OverlapFraction*float64(shorter)
}

// resolveConflicts handles spans the two sources label with different
// categories. The loser is dropped; the winner is penalised once unless the
// losing source also reported the winner's category for that span.
func (r *Reconciler) resolveConflicts(members []*member) int {
	conflicts := 0
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			a, b := members[i], members[j]
			if !a.alive || !b.alive || a.cand.Category == b.cand.Category || a.cand.Source == b.cand.Source {
				continue
			}
			if !r.sameMention(a.cand.Span, b.cand.Span) {
				continue
			}
			winner, loser := r.pickCategory(a, b)
			loser.alive = false
			conflicts++
			if !winner.penalized && !r.corroborated(members, winner, loser.cand.Source) {
				winner.conf *= r.cfg.DisagreementPenalty
				winner.penalized = true
			}
		}
	}
	return conflicts
}

func (r *Reconciler) pickCategory(a, b *member) (winner, loser *member) {
	aPref := r.cfg.Priors[a.cand.Category] == a.cand.Source
	bPref := r.cfg.Priors[b.cand.Category] == b.cand.Source
	switch {
	case aPref && !bPref:
		return a, b
	case bPref && !aPref:
		return b, a
	case a.conf != b.conf:
		if a.conf > b.conf {
			return a, b
		}
		return b, a
	case a.cand.Category.Order() <= b.cand.Category.Order():
		return a, b
	default:
		return b, a
	}
}

// corroborated reports whether src also claims winner's category for winner's span.
func (r *Reconciler) corroborated(members []*member, winner *member, src models.Source) bool {
	for _, m := range members {
		if m.alive && m.cand.Source == src && m.cand.Category == winner.cand.Category && r.sameMention(m.cand.Span, winner.cand.Span) {
			return true
		}
	}
	return false
}

// group clusters one category's members transitively, then merges any
// clusters whose spans still overlap so the output holds no overlapping
// entities.
func (r *Reconciler) group(members []*member) []*mergeGroup {
	if len(members) == 0 {
		return nil
	}

	uf := newUnionFind(len(members))
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			if r.sameMention(members[i].cand.Span, members[j].cand.Span) || members[i].key == members[j].key {
				uf.union(i, j)
			}
		}
	}

	byRoot := make(map[int]*mergeGroup)
	var groups []*mergeGroup
	for i, m := range members {
		root := uf.find(i)
		g, ok := byRoot[root]
		if !ok {
			g = &mergeGroup{}
			byRoot[root] = g
			groups = append(groups, g)
		}
		g.members = append(g.members, m)
	}
	for _, g := range groups {
		g.settle()
	}

	for merged := true; merged; {
		merged = false
	scan:
		for i := 0; i < len(groups); i++ {
			for j := i + 1; j < len(groups); j++ {
				if groups[i].span.Overlap(groups[j].span) > 0 {
					groups[i].members = append(groups[i].members, groups[j].members...)
					groups[i].settle()
					groups = append(groups[:j], groups[j+1:]...)
					merged = true
					break scan
				}
			}
		}
	}
	return groups
}

func lessMember(a, b *member) bool {
	if a.cand.Span.Start != b.cand.Span.Start {
		return a.cand.Span.Start < b.cand.Span.Start
	}
	if a.cand.Span.End != b.cand.Span.End {
		return a.cand.Span.End < b.cand.Span.End
	}
	if a.cand.Category != b.cand.Category {
		return a.cand.Category.Order() < b.cand.Category.Order()
	}
	if a.cand.Source != b.cand.Source {
		return a.cand.Source > b.cand.Source
	}
	if a.cand.Confidence != b.cand.Confidence {
		return a.cand.Confidence > b.cand.Confidence
	}
	return a.cand.Text < b.cand.Text
}

func validConfidence(c float64) bool {
	return c >= 0 && c <= 1
}
