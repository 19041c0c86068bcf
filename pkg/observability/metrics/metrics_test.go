package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

func TestCountersAndExposition(t *testing.T) {
	Reset()
	defer Reset()

	SessionAccepted()
	SessionAccepted()
	SessionCompleted(models.LevelEmergent, true)
	SessionFailed(models.CodeTranscriptionFailure)
	ExtractorFailed(models.SourceModelBased)
	ObservePool(2, 5)
	EventConsumed(models.LevelImmediate, true)

	s := Read()
	if s.SessionsAccepted != 2 || s.SessionsCompleted != 1 || s.SessionsDegraded != 1 {
		t.Fatalf("unexpected session counters: %+v", s)
	}
	if s.TriageLevels[models.LevelEmergent] != 1 || s.TriageLevels[models.LevelImmediate] != 1 {
		t.Fatalf("unexpected level distribution: %v", s.TriageLevels)
	}
	if s.FailuresByCode[models.CodeTranscriptionFailure] != 1 {
		t.Fatalf("failure by code not recorded: %v", s.FailuresByCode)
	}

	rec := httptest.NewRecorder()
	WritePrometheus(rec)
	body := rec.Body.String()
	for _, want := range []string{
		"medtriage_sessions_accepted_total 2",
		"medtriage_queue_depth 5",
		`medtriage_triage_level_total{level="2",label="EMERGENT"} 1`,
		`medtriage_sessions_failed_total{code="TRANSCRIPTION_FAILURE"} 1`,
		`medtriage_extractor_failures_total{source="model-based"} 1`,
		"medtriage_alerts_raised_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}
}

func TestResetClearsState(t *testing.T) {
	SessionFailed(models.CodeCancelled)
	Reset()
	if s := Read(); len(s.FailuresByCode) != 0 || s.SessionsAccepted != 0 {
		t.Fatalf("reset left state behind: %+v", s)
	}
}
