// Package alerting turns triage events into operator alerts.
package alerting

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/medtriage/pkg/common/httpclient"
	"github.com/synaptica-ai/medtriage/pkg/common/logger"
	"github.com/synaptica-ai/medtriage/pkg/common/models"
	"github.com/synaptica-ai/medtriage/pkg/observability/metrics"
)

// AlertThreshold is the least severe level that raises an alert.
const AlertThreshold = models.LevelEmergent

type Alert struct {
	SessionID  string
	Level      models.Level
	Label      string
	Confidence float64
	Degraded   bool
}

type Handler struct {
	// Notify is called for every alert after it is logged. Optional.
	Notify func(ctx context.Context, alert Alert) error
}

// Handle matches kafka.EventHandler. Malformed completion events are
// permanent errors, so the consumer drops them without retrying. Notify
// errors are retried.
func (h *Handler) Handle(ctx context.Context, event models.Event) error {
	sessionID := event.Metadata["session_id"]
	switch event.Type {
	case models.EventTriageCompleted:
		return h.completed(ctx, sessionID, event)
	case models.EventSessionFailed:
		logger.ForSession(sessionID).WithFields(logrus.Fields{
			"error_code": event.Data["error_code"],
			"stage":      event.Data["stage"],
		}).Info("Session failed upstream")
		return nil
	default:
		logger.Log.WithField("event_type", event.Type).Debug("Ignoring event")
		return nil
	}
}

func (h *Handler) completed(ctx context.Context, sessionID string, event models.Event) error {
	level, err := levelOf(event.Data["level"])
	if err != nil {
		return httpclient.Permanent(fmt.Errorf("event %s: %w", event.ID, err))
	}
	label, _ := event.Data["label"].(string)
	if label != level.Label() {
		return httpclient.Permanent(fmt.Errorf("event %s: label %q does not match level %d", event.ID, label, int(level)))
	}

	alert := level <= AlertThreshold
	metrics.EventConsumed(level, alert)
	if !alert {
		return nil
	}

	a := Alert{SessionID: sessionID, Level: level, Label: label}
	a.Confidence, _ = event.Data["confidence"].(float64)
	a.Degraded, _ = event.Data["degraded"].(bool)

	logger.ForSession(sessionID).WithFields(logrus.Fields{
		"level":      int(level),
		"label":      label,
		"max_wait":   level.MaxWait(),
		"confidence": a.Confidence,
		"degraded":   a.Degraded,
	}).Warn("High acuity triage result")

	if h.Notify != nil {
		return h.Notify(ctx, a)
	}
	return nil
}

// levelOf accepts the float64 produced by JSON decoding as well as ints.
func levelOf(v interface{}) (models.Level, error) {
	var level models.Level
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("non-integer level %v", n)
		}
		level = models.Level(int(n))
	case int:
		level = models.Level(n)
	default:
		return 0, fmt.Errorf("missing level")
	}
	if !level.Valid() {
		return 0, fmt.Errorf("level %d out of range", int(level))
	}
	return level, nil
}
