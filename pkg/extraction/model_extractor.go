package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/synaptica-ai/medtriage/pkg/common/httpclient"
	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

// DefaultLabelMap maps NER service entity groups onto categories. Labels not
// listed are dropped.
var DefaultLabelMap = map[string]models.Category{
	"CHEMICAL":   models.CategoryMedication,
	"DRUG":       models.CategoryMedication,
	"MEDICATION": models.CategoryMedication,
	"DISEASE":    models.CategoryDiagnosis,
	"CONDITION":  models.CategoryDiagnosis,
	"SYMPTOM":    models.CategorySymptom,
	"PROCEDURE":  models.CategoryProcedure,
	"TEST":       models.CategoryProcedure,
	"VITAL":      models.CategoryVitalSign,
	"TIME":       models.CategoryTemporalMarker,
	"DATE":       models.CategoryTemporalMarker,
	"DURATION":   models.CategoryTemporalMarker,
}

// nerEntity is one aggregated span from the NER service. Start and End are
// code point offsets.
type nerEntity struct {
	EntityGroup string  `json:"entity_group"`
	Word        string  `json:"word"`
	Score       float64 `json:"score"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
}

// ModelExtractor calls a remote statistical NER service.
type ModelExtractor struct {
	url       string
	client    *http.Client
	labels    map[string]models.Category
	attempts  int
	baseDelay time.Duration
}

func NewModelExtractor(baseURL string, timeout time.Duration) *ModelExtractor {
	return &ModelExtractor{
		url:       strings.TrimRight(baseURL, "/") + "/extract",
		client:    httpclient.New(timeout),
		labels:    DefaultLabelMap,
		attempts:  3,
		baseDelay: 200 * time.Millisecond,
	}
}

func (e *ModelExtractor) Source() models.Source { return models.SourceModelBased }

func (e *ModelExtractor) Extract(ctx context.Context, text string) ([]models.EntityCandidate, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}

	var raw []nerEntity
	err = httpclient.Retry(ctx, e.attempts, e.baseDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
		if err != nil {
			return httpclient.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			if httpclient.IsRetriable(err) && ctx.Err() == nil {
				return err
			}
			return httpclient.Permanent(err)
		}
		defer resp.Body.Close()

		if err := httpclient.CheckResponse(resp); err != nil {
			if httpclient.IsRetriable(err) {
				return err
			}
			return httpclient.Permanent(err)
		}
		raw = raw[:0]
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return httpclient.Permanent(fmt.Errorf("decode ner response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ner service: %w", err)
	}

	return e.toCandidates(text, raw)
}

func (e *ModelExtractor) toCandidates(text string, raw []nerEntity) ([]models.EntityCandidate, error) {
	offsets := runeOffsets(text)
	runeCount := len(offsets) - 1

	out := make([]models.EntityCandidate, 0, len(raw))
	for i, ent := range raw {
		category, ok := e.labels[strings.ToUpper(strings.TrimSpace(ent.EntityGroup))]
		if !ok {
			continue
		}
		if ent.Start < 0 || ent.End <= ent.Start || ent.End > runeCount {
			return nil, fmt.Errorf("entity %d (%q): offsets %d-%d outside text of %d characters", i, ent.Word, ent.Start, ent.End, runeCount)
		}
		start, end := offsets[ent.Start], offsets[ent.End]

		// Word is the detokenised form; a stray wordpiece is noise even when
		// the offsets cover more of the text.
		if ent.Word != "" && utf8.RuneCountInString(strings.TrimSpace(strings.ReplaceAll(ent.Word, "##", ""))) < 2 {
			continue
		}
		surface := strings.TrimSpace(text[start:end])
		if utf8.RuneCountInString(surface) < 2 {
			continue
		}
		if ent.Score < 0 || ent.Score > 1 {
			return nil, fmt.Errorf("entity %d (%q): score %v outside [0,1]", i, surface, ent.Score)
		}

		out = append(out, models.EntityCandidate{
			Source:     models.SourceModelBased,
			Category:   category,
			Text:       surface,
			Span:       models.Span{Start: start, End: end},
			Confidence: ent.Score,
		})
	}
	return out, nil
}

// runeOffsets maps code point index to byte offset; the final element is len(text).
func runeOffsets(text string) []int {
	offsets := make([]int, 0, len(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}
