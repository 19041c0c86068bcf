package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

var (
	sessionsAccepted  atomic.Int64
	sessionsCompleted atomic.Int64
	sessionsDegraded  atomic.Int64
	sessionsInFlight  atomic.Int64
	queueDepth        atomic.Int64
	eventsConsumed    atomic.Int64
	alertsRaised      atomic.Int64
	publishFailures   atomic.Int64

	// indexed by level, slot 0 unused
	triageLevels [6]atomic.Int64

	mu                sync.Mutex
	failuresByCode    = map[models.ErrorCode]int64{}
	extractorFailures = map[models.Source]int64{}
)

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	SessionsAccepted  int64
	SessionsCompleted int64
	SessionsDegraded  int64
	SessionsInFlight  int64
	QueueDepth        int64
	EventsConsumed    int64
	AlertsRaised      int64
	PublishFailures   int64
	TriageLevels      map[models.Level]int64
	FailuresByCode    map[models.ErrorCode]int64
	ExtractorFailures map[models.Source]int64
}

func SessionAccepted() {
	sessionsAccepted.Add(1)
}

// SessionCompleted records the verdict level of a successful session.
func SessionCompleted(level models.Level, degraded bool) {
	sessionsCompleted.Add(1)
	if degraded {
		sessionsDegraded.Add(1)
	}
	if level.Valid() {
		triageLevels[level].Add(1)
	}
}

func SessionFailed(code models.ErrorCode) {
	mu.Lock()
	failuresByCode[code]++
	mu.Unlock()
}

func ExtractorFailed(src models.Source) {
	mu.Lock()
	extractorFailures[src]++
	mu.Unlock()
}

func PublishFailed() {
	publishFailures.Add(1)
}

// ObservePool stores the current worker pool gauges.
func ObservePool(inFlight, queued int) {
	sessionsInFlight.Store(int64(inFlight))
	queueDepth.Store(int64(queued))
}

// EventConsumed is used by the alert service for every triage event read
// from the topic. Alerts are the subset at levels 1 and 2.
func EventConsumed(level models.Level, alert bool) {
	eventsConsumed.Add(1)
	if level.Valid() {
		triageLevels[level].Add(1)
	}
	if alert {
		alertsRaised.Add(1)
	}
}

func Read() Snapshot {
	s := Snapshot{
		SessionsAccepted:  sessionsAccepted.Load(),
		SessionsCompleted: sessionsCompleted.Load(),
		SessionsDegraded:  sessionsDegraded.Load(),
		SessionsInFlight:  sessionsInFlight.Load(),
		QueueDepth:        queueDepth.Load(),
		EventsConsumed:    eventsConsumed.Load(),
		AlertsRaised:      alertsRaised.Load(),
		PublishFailures:   publishFailures.Load(),
		TriageLevels:      make(map[models.Level]int64),
		FailuresByCode:    make(map[models.ErrorCode]int64),
		ExtractorFailures: make(map[models.Source]int64),
	}
	for l := models.LevelImmediate; l <= models.LevelNonUrgent; l++ {
		s.TriageLevels[l] = triageLevels[l].Load()
	}
	mu.Lock()
	defer mu.Unlock()
	for k, v := range failuresByCode {
		s.FailuresByCode[k] = v
	}
	for k, v := range extractorFailures {
		s.ExtractorFailures[k] = v
	}
	return s
}

// Reset zeroes every counter.
func Reset() {
	for _, c := range []*atomic.Int64{
		&sessionsAccepted, &sessionsCompleted, &sessionsDegraded, &sessionsInFlight,
		&queueDepth, &eventsConsumed, &alertsRaised, &publishFailures,
	} {
		c.Store(0)
	}
	for i := range triageLevels {
		triageLevels[i].Store(0)
	}
	mu.Lock()
	failuresByCode = map[models.ErrorCode]int64{}
	extractorFailures = map[models.Source]int64{}
	mu.Unlock()
}

func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WritePrometheus(w)
	})
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	writeText(w, Read())
}

func writeText(w io.Writer, s Snapshot) {
	counter(w, "medtriage_sessions_accepted_total", "Number of sessions accepted by the pipeline.", s.SessionsAccepted)
	counter(w, "medtriage_sessions_completed_total", "Number of sessions that produced a report.", s.SessionsCompleted)
	counter(w, "medtriage_sessions_degraded_total", "Number of completed sessions with at least one failed extractor.", s.SessionsDegraded)
	counter(w, "medtriage_events_consumed_total", "Number of triage events consumed by the alert service.", s.EventsConsumed)
	counter(w, "medtriage_alerts_raised_total", "Number of ESI level 1 and 2 alerts raised.", s.AlertsRaised)
	counter(w, "medtriage_event_publish_failures_total", "Number of triage events that could not be published.", s.PublishFailures)

	fmt.Fprintf(w, "# HELP medtriage_sessions_in_flight Number of sessions currently being processed.\n")
	fmt.Fprintf(w, "# TYPE medtriage_sessions_in_flight gauge\n")
	fmt.Fprintf(w, "medtriage_sessions_in_flight %d\n", s.SessionsInFlight)

	fmt.Fprintf(w, "# HELP medtriage_queue_depth Number of sessions waiting for a worker.\n")
	fmt.Fprintf(w, "# TYPE medtriage_queue_depth gauge\n")
	fmt.Fprintf(w, "medtriage_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(w, "# HELP medtriage_triage_level_total Number of verdicts per ESI level.\n")
	fmt.Fprintf(w, "# TYPE medtriage_triage_level_total counter\n")
	for l := models.LevelImmediate; l <= models.LevelNonUrgent; l++ {
		fmt.Fprintf(w, "medtriage_triage_level_total{level=\"%d\",label=\"%s\"} %d\n", int(l), l.Label(), s.TriageLevels[l])
	}

	fmt.Fprintf(w, "# HELP medtriage_sessions_failed_total Number of failed sessions per error code.\n")
	fmt.Fprintf(w, "# TYPE medtriage_sessions_failed_total counter\n")
	codes := make([]string, 0, len(s.FailuresByCode))
	for code := range s.FailuresByCode {
		codes = append(codes, string(code))
	}
	sort.Strings(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "medtriage_sessions_failed_total{code=\"%s\"} %d\n", code, s.FailuresByCode[models.ErrorCode(code)])
	}

	fmt.Fprintf(w, "# HELP medtriage_extractor_failures_total Number of extraction adapter failures per source.\n")
	fmt.Fprintf(w, "# TYPE medtriage_extractor_failures_total counter\n")
	sources := make([]string, 0, len(s.ExtractorFailures))
	for src := range s.ExtractorFailures {
		sources = append(sources, string(src))
	}
	sort.Strings(sources)
	for _, src := range sources {
		fmt.Fprintf(w, "medtriage_extractor_failures_total{source=\"%s\"} %d\n", src, s.ExtractorFailures[models.Source(src)])
	}
}

func counter(w io.Writer, name, help string, v int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, v)
}
