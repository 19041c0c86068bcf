package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

type BatchSummary struct {
	Total              int                      `json:"total_files"`
	Successful         int                      `json:"successful"`
	Failed             int                      `json:"failed"`
	SuccessRate        float64                  `json:"success_rate"`
	TriageDistribution map[string]int           `json:"triage_distribution"`
	FailuresByCode     map[models.ErrorCode]int `json:"failures_by_code,omitempty"`
	GeneratedAt        time.Time                `json:"generated_at"`
}

// ProcessBatch submits every request and waits for all of them. Results are
// returned in request order.
func (p *Pool) ProcessBatch(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		id, done, err := p.Submit(ctx, req)
		if err != nil {
			results[i] = Result{SessionID: req.SessionID, Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, id string, done <-chan Result) {
			defer wg.Done()
			res, ok := <-done
			if !ok {
				res = Result{SessionID: id, Err: models.Cancelled("batch", context.Canceled)}
			}
			results[i] = res
		}(i, id, done)
	}
	wg.Wait()
	return results
}

// Summarize counts outcomes and the distribution of triage labels.
// SuccessRate is a percentage.
func Summarize(results []Result) BatchSummary {
	s := BatchSummary{
		Total:              len(results),
		TriageDistribution: make(map[string]int),
		FailuresByCode:     make(map[models.ErrorCode]int),
		GeneratedAt:        time.Now().UTC(),
	}
	for _, r := range results {
		if r.Err != nil || r.Report == nil {
			s.Failed++
			s.FailuresByCode[models.CodeOf(r.Err)]++
			continue
		}
		s.Successful++
		s.TriageDistribution[r.Report.Triage.Label]++
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.Total) * 100
	}
	return s
}
