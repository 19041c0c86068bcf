package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/synaptica-ai/medtriage/pkg/audio"
	"github.com/synaptica-ai/medtriage/pkg/common/models"
	"github.com/synaptica-ai/medtriage/pkg/transcription"
)

func waitResult(t *testing.T, done <-chan Result) Result {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
		return Result{}
	}
}

func TestPoolProcessesSessions(t *testing.T) {
	h := newHarness(t, Options{})
	pool := NewPool(h.orch, 3, 4)

	var chans []<-chan Result
	for i := 0; i < 10; i++ {
		id, done, err := pool.Submit(context.Background(), Request{SessionID: fmt.Sprintf("p-%d", i), Payload: payload()})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if id != fmt.Sprintf("p-%d", i) {
			t.Fatalf("unexpected session id %q", id)
		}
		chans = append(chans, done)
	}
	for _, done := range chans {
		res := waitResult(t, done)
		if res.Err != nil || res.Report == nil {
			t.Fatalf("session %s failed: %v", res.SessionID, res.Err)
		}
		if res.Report.SessionID != res.SessionID {
			t.Fatalf("result carries another session's report")
		}
	}

	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, _, err := pool.Submit(context.Background(), Request{Payload: payload()}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPoolCancel(t *testing.T) {
	started := make(chan struct{}, 1)
	h := newHarness(t, Options{
		Transcriber: transcription.Func(func(ctx context.Context, p audio.Payload, hint int) (models.Transcript, error) {
			started <- struct{}{}
			<-ctx.Done()
			return models.Transcript{}, ctx.Err()
		}),
	})
	pool := NewPool(h.orch, 1, 1)
	defer pool.Close(context.Background())

	id, done, err := pool.Submit(context.Background(), Request{Payload: payload()})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started
	if err := pool.Cancel(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	res := waitResult(t, done)
	if models.CodeOf(res.Err) != models.CodeCancelled || res.Report != nil {
		t.Fatalf("expected cancelled result, got %+v", res)
	}
	if s := h.session(t, id); s.ErrorCode != models.CodeCancelled {
		t.Fatalf("unexpected session %+v", s)
	}
	if err := pool.Cancel(id); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("finished session should no longer be cancellable, got %v", err)
	}
}

func TestPoolCancelQueuedSession(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, Options{
		Transcriber: transcription.Func(func(ctx context.Context, p audio.Payload, hint int) (models.Transcript, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return models.Transcript{}, ctx.Err()
			}
			return models.NewTranscript(chestPainText, 0.9), nil
		}),
	})
	pool := NewPool(h.orch, 1, 2)

	_, first, err := pool.Submit(context.Background(), Request{Payload: payload()})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	queuedID, queued, err := pool.Submit(context.Background(), Request{Payload: payload()})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := pool.Cancel(queuedID); err != nil {
		t.Fatalf("cancel queued: %v", err)
	}
	close(release)

	if res := waitResult(t, first); res.Err != nil {
		t.Fatalf("first session should complete: %v", res.Err)
	}
	if res := waitResult(t, queued); models.CodeOf(res.Err) != models.CodeCancelled {
		t.Fatalf("queued session should be cancelled, got %v", res.Err)
	}
	if err := pool.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPoolCloseDeadlineCancelsRemaining(t *testing.T) {
	h := newHarness(t, Options{
		Transcriber: transcription.Func(func(ctx context.Context, p audio.Payload, hint int) (models.Transcript, error) {
			<-ctx.Done()
			return models.Transcript{}, ctx.Err()
		}),
	})
	pool := NewPool(h.orch, 1, 1)
	_, done, err := pool.Submit(context.Background(), Request{Payload: payload()})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := pool.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error from close, got %v", err)
	}
	if res := waitResult(t, done); models.CodeOf(res.Err) != models.CodeCancelled {
		t.Fatalf("expected session cancelled on shutdown, got %v", res.Err)
	}
}

func TestProcessBatchAndSummary(t *testing.T) {
	h := newHarness(t, Options{})
	pool := NewPool(h.orch, 2, 2)
	defer pool.Close(context.Background())

	reqs := []Request{
		{SessionID: "b-1", Payload: payload()},
		{SessionID: "b-2", Payload: payload()},
		{SessionID: "b-3"},
	}
	results := pool.ProcessBatch(context.Background(), reqs)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].SessionID != "b-1" || results[1].SessionID != "b-2" {
		t.Fatalf("results out of order: %+v", results)
	}
	if !models.IsInputError(results[2].Err) {
		t.Fatalf("expected InputError for empty payload, got %v", results[2].Err)
	}

	summary := Summarize(results)
	if summary.Total != 3 || summary.Successful != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.TriageDistribution["EMERGENT"] != 2 {
		t.Fatalf("unexpected distribution %v", summary.TriageDistribution)
	}
	if summary.FailuresByCode[models.CodeInputError] != 1 {
		t.Fatalf("unexpected failures %v", summary.FailuresByCode)
	}
	if summary.SuccessRate < 66.6 || summary.SuccessRate > 66.7 {
		t.Fatalf("unexpected success rate %v", summary.SuccessRate)
	}
}

func TestBuildSummary(t *testing.T) {
	verdict := models.NewVerdict(models.LevelUrgent, 0.8, []string{"esi-3.multi-resource", "esi-3"}, "")
	entities := []models.ReconciledEntity{
		{Category: models.CategorySymptom, Text: "Fever", Span: models.Span{Start: 0, End: 5}},
		{Category: models.CategoryTemporalMarker, Text: "two days", Span: models.Span{Start: 10, End: 18}},
		{Category: models.CategorySymptom, Text: "fever", Span: models.Span{Start: 30, End: 35}},
		{Category: models.CategoryMedication, Text: "ibuprofen", Span: models.Span{Start: 40, End: 49}},
	}

	s := BuildSummary(entities, verdict)
	if len(s.PresentingSymptoms) != 1 || s.PresentingSymptoms[0] != "Fever" {
		t.Fatalf("repeated mentions should collapse, got %v", s.PresentingSymptoms)
	}
	if want := "Presenting symptoms: Fever. Current medications: ibuprofen"; s.Text != want {
		t.Fatalf("summary text = %q, want %q", s.Text, want)
	}
	if len(s.Timeline) != 1 || s.RecommendedAction != verdict.Recommendation {
		t.Fatalf("unexpected summary %+v", s)
	}

	if empty := BuildSummary(nil, verdict); empty.Text != noFindings {
		t.Fatalf("unexpected empty summary %q", empty.Text)
	}
}
