package reconcile

import (
	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

// mergeGroup is the set of candidates judged to describe one real-world entity.
type mergeGroup struct {
	members   []*member
	canonical *member
	span      models.Span
}

// settle picks the canonical member and derives the group span: the union of
// the canonical member with every member reachable from it through
// overlapping spans. Repeated mentions elsewhere in the text join the group
// by text equality but do not stretch its span.
func (g *mergeGroup) settle() {
	g.canonical = g.members[0]
	for _, m := range g.members[1:] {
		if better(m, g.canonical) {
			g.canonical = m
		}
	}

	g.span = g.canonical.cand.Span
	reached := map[*member]bool{g.canonical: true}
	for grew := true; grew; {
		grew = false
		for _, m := range g.members {
			if reached[m] || m.cand.Span.Overlap(g.span) == 0 {
				continue
			}
			reached[m] = true
			g.span = g.span.Union(m.cand.Span)
			grew = true
		}
	}
}

// entity combines the group. Confidence per source is the best member of
// that source; independent sources combine by noisy-OR.
func (g *mergeGroup) entity() models.ReconciledEntity {
	perSource := make(map[models.Source]float64)
	for _, m := range g.members {
		if c, ok := perSource[m.cand.Source]; !ok || m.conf > c {
			perSource[m.cand.Source] = m.conf
		}
	}

	sources := make([]models.Source, 0, len(perSource))
	for src := range perSource {
		sources = append(sources, src)
	}
	models.SortSources(sources)
	confs := make([]float64, len(sources))
	for i, src := range sources {
		confs[i] = perSource[src]
	}

	return models.ReconciledEntity{
		Category:   g.canonical.cand.Category,
		Text:       g.canonical.cand.Text,
		Confidence: NoisyOR(confs...),
		Sources:    sources,
		Span:       g.span,
	}
}

// NoisyOR combines independent confidences as 1 - prod(1 - c). A single
// confidence is returned unchanged.
func NoisyOR(confs ...float64) float64 {
	if len(confs) == 1 {
		return confs[0]
	}
	miss := 1.0
	for _, c := range confs {
		miss *= 1 - c
	}
	return 1 - miss
}

func better(a, b *member) bool {
	if a.conf != b.conf {
		return a.conf > b.conf
	}
	if a.cand.Span.Start != b.cand.Span.Start {
		return a.cand.Span.Start < b.cand.Span.Start
	}
	if a.cand.Span.Len() != b.cand.Span.Len() {
		return a.cand.Span.Len() > b.cand.Span.Len()
	}
	return a.cand.Source > b.cand.Source
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}
