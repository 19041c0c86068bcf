package alerting

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
	"github.com/synaptica-ai/medtriage/pkg/observability/metrics"
)

// decoded round-trips an event through JSON so numbers arrive as float64,
// as they do from the consumer.
func decoded(t *testing.T, event models.Event) models.Event {
	t.Helper()
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out models.Event
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func completedEvent(level models.Level) models.Event {
	return models.Event{
		ID:       "evt-1",
		Type:     models.EventTriageCompleted,
		Metadata: map[string]string{"session_id": "sess-1"},
		Data: map[string]interface{}{
			"level":      int(level),
			"label":      level.Label(),
			"confidence": 0.9,
			"degraded":   false,
		},
	}
}

func TestHandleRaisesAlertsForHighAcuity(t *testing.T) {
	metrics.Reset()
	var alerts []Alert
	h := &Handler{Notify: func(ctx context.Context, a Alert) error {
		alerts = append(alerts, a)
		return nil
	}}

	for _, level := range []models.Level{models.LevelImmediate, models.LevelEmergent, models.LevelUrgent, models.LevelNonUrgent} {
		if err := h.Handle(context.Background(), decoded(t, completedEvent(level))); err != nil {
			t.Fatalf("level %d: %v", int(level), err)
		}
	}

	if len(alerts) != 2 || alerts[0].Level != models.LevelImmediate || alerts[1].Label != "EMERGENT" {
		t.Fatalf("unexpected alerts %+v", alerts)
	}
	if alerts[0].SessionID != "sess-1" || alerts[0].Confidence != 0.9 {
		t.Fatalf("alert fields not carried: %+v", alerts[0])
	}
	snap := metrics.Read()
	if snap.EventsConsumed != 4 || snap.AlertsRaised != 2 || snap.TriageLevels[models.LevelUrgent] != 1 {
		t.Fatalf("unexpected metrics %+v", snap)
	}
}

func TestHandleRejectsMalformedCompletion(t *testing.T) {
	h := &Handler{}
	cases := map[string]map[string]interface{}{
		"missing level":  {"label": "URGENT"},
		"out of range":   {"level": 7, "label": "URGENT"},
		"label mismatch": {"level": 1, "label": "URGENT"},
		"fractional":     {"level": 2.5, "label": "EMERGENT"},
	}
	for name, data := range cases {
		event := models.Event{ID: "evt", Type: models.EventTriageCompleted, Data: data}
		if err := h.Handle(context.Background(), decoded(t, event)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestHandleIgnoresOtherEvents(t *testing.T) {
	h := &Handler{Notify: func(ctx context.Context, a Alert) error {
		t.Fatal("no alert expected")
		return nil
	}}
	failed := models.Event{Type: models.EventSessionFailed, Data: map[string]interface{}{"error_code": "TRANSCRIPTION_FAILURE"}}
	if err := h.Handle(context.Background(), failed); err != nil {
		t.Fatalf("session.failed: %v", err)
	}
	if err := h.Handle(context.Background(), models.Event{Type: "something.else"}); err != nil {
		t.Fatalf("unknown type: %v", err)
	}
}
