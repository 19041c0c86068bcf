// Package pipeline sequences transcription, dual extraction, reconciliation
// and triage for one session and persists the resulting report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/medtriage/pkg/audio"
	"github.com/synaptica-ai/medtriage/pkg/common/logger"
	"github.com/synaptica-ai/medtriage/pkg/common/models"
	"github.com/synaptica-ai/medtriage/pkg/extraction"
	"github.com/synaptica-ai/medtriage/pkg/observability/metrics"
	"github.com/synaptica-ai/medtriage/pkg/reconcile"
	"github.com/synaptica-ai/medtriage/pkg/store"
	"github.com/synaptica-ai/medtriage/pkg/transcription"
	"github.com/synaptica-ai/medtriage/pkg/triage"
	"golang.org/x/sync/errgroup"
)

// Publisher receives lifecycle events. *kafka.Producer satisfies it.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType, sessionID string, data map[string]interface{}) error
}

// Evaluator produces the triage verdict. *triage.Engine satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, in triage.Input) (models.TriageVerdict, error)
}

type Timeouts struct {
	Transcription time.Duration
	Extraction    time.Duration
	Triage        time.Duration
	// Storage bounds the final writes, which run detached from the
	// session context so a cancelled session is still recorded.
	Storage time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Transcription: 5 * time.Minute,
		Extraction:    30 * time.Second,
		Triage:        5 * time.Second,
		Storage:       10 * time.Second,
	}
}

// Request is one unit of work. SessionID is generated when empty.
type Request struct {
	SessionID      string
	PatientID      string
	Payload        audio.Payload
	SampleRateHint int
}

type Options struct {
	Transcriber transcription.Transcriber
	Extractors  []extraction.Extractor
	Reconciler  *reconcile.Reconciler
	Engine      Evaluator
	Reports     store.ReportStore
	Sessions    store.SessionStore
	// Publisher is optional.
	Publisher Publisher
	Timeouts  Timeouts
}

type Orchestrator struct {
	transcriber transcription.Transcriber
	extractors  []extraction.Extractor
	reconciler  *reconcile.Reconciler
	engine      Evaluator
	reports     store.ReportStore
	sessions    store.SessionStore
	publisher   Publisher
	timeouts    Timeouts
	now         func() time.Time
}

func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Transcriber == nil:
		return nil, errors.New("pipeline: transcriber is required")
	case len(opts.Extractors) == 0:
		return nil, errors.New("pipeline: at least one extractor is required")
	case opts.Reconciler == nil:
		return nil, errors.New("pipeline: reconciler is required")
	case opts.Engine == nil:
		return nil, errors.New("pipeline: triage engine is required")
	case opts.Reports == nil || opts.Sessions == nil:
		return nil, errors.New("pipeline: report and session stores are required")
	}
	seen := make(map[models.Source]bool)
	for _, ex := range opts.Extractors {
		if seen[ex.Source()] {
			return nil, fmt.Errorf("pipeline: duplicate %s extractor", ex.Source())
		}
		seen[ex.Source()] = true
	}

	timeouts := opts.Timeouts
	defaults := DefaultTimeouts()
	if timeouts.Transcription <= 0 {
		timeouts.Transcription = defaults.Transcription
	}
	if timeouts.Extraction <= 0 {
		timeouts.Extraction = defaults.Extraction
	}
	if timeouts.Triage <= 0 {
		timeouts.Triage = defaults.Triage
	}
	if timeouts.Storage <= 0 {
		timeouts.Storage = defaults.Storage
	}

	return &Orchestrator{
		transcriber: opts.Transcriber,
		extractors:  opts.Extractors,
		reconciler:  opts.Reconciler,
		engine:      opts.Engine,
		reports:     opts.Reports,
		sessions:    opts.Sessions,
		publisher:   opts.Publisher,
		timeouts:    timeouts,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Process runs a session end to end. On success the report has been
// persisted; on failure the session is recorded as failed and no report
// exists.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*models.Report, error) {
	session, err := o.Accept(ctx, &req)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, session, req)
}

// Accept validates the request and records a pending session. It fills in
// req.SessionID when the caller left it empty.
func (o *Orchestrator) Accept(ctx context.Context, req *Request) (*models.Session, error) {
	if len(req.Payload.Data) == 0 {
		return nil, models.InputError("accept", audio.ErrEmpty)
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	session := models.NewSession(req.SessionID, req.PatientID, o.now())
	if err := o.sessions.Create(ctx, session); err != nil {
		return nil, asStorageError("create session", err)
	}
	metrics.SessionAccepted()
	logger.ForSession(session.ID).WithFields(logrus.Fields{
		"format":      req.Payload.Format,
		"audio_bytes": req.Payload.Size(),
	}).Info("Session accepted")
	return session, nil
}

// Run drives an accepted session through every stage.
func (o *Orchestrator) Run(ctx context.Context, session *models.Session, req Request) (*models.Report, error) {
	r := &run{
		o:         o,
		session:   session,
		req:       req,
		log:       logger.ForSession(session.ID),
		durations: make(map[models.Stage]int64),
	}
	report, err := r.execute(ctx)
	if err != nil {
		o.fail(ctx, session, err)
		return nil, err
	}
	o.complete(ctx, session, report)
	return report, nil
}

// Fail records a session that will never run, for example one dropped from
// the queue on shutdown.
func (o *Orchestrator) Fail(ctx context.Context, session *models.Session, err error) {
	o.fail(ctx, session, err)
}

func (o *Orchestrator) fail(ctx context.Context, session *models.Session, err error) {
	session.Fail(err, o.now())
	log := logger.ForSession(session.ID).WithFields(logrus.Fields{
		"stage":      session.Stage,
		"error_code": session.ErrorCode,
	})
	if session.ErrorCode == models.CodeCancelled {
		log.Info("Session cancelled")
	} else {
		log.WithError(err).Error("Session failed")
	}
	metrics.SessionFailed(session.ErrorCode)

	dctx, cancel := o.detached(ctx)
	defer cancel()
	if uerr := o.sessions.Update(dctx, session); uerr != nil {
		log.WithError(uerr).Error("Failed to persist failed session")
	}
	o.publish(dctx, models.EventSessionFailed, session.ID, map[string]interface{}{
		"error_code": string(session.ErrorCode),
		"stage":      string(session.Stage),
	})
}

func (o *Orchestrator) complete(ctx context.Context, session *models.Session, report *models.Report) {
	session.Complete(report.Metadata.Degraded, o.now())
	metrics.SessionCompleted(report.Triage.Level, report.Metadata.Degraded)

	dctx, cancel := o.detached(ctx)
	defer cancel()
	log := logger.ForSession(session.ID)
	// The report is already persisted; a stale session row is reported but
	// does not turn a delivered verdict into a failure.
	if err := o.sessions.Update(dctx, session); err != nil {
		log.WithError(err).Error("Failed to mark session complete")
	}
	o.publish(dctx, models.EventTriageCompleted, session.ID, map[string]interface{}{
		"level":       int(report.Triage.Level),
		"label":       report.Triage.Label,
		"color_code":  report.Triage.ColorCode,
		"confidence":  report.Triage.Confidence,
		"degraded":    report.Metadata.Degraded,
		"rules":       report.Triage.TriggeringRules,
		"entities":    len(report.Entities),
		"patient_ref": report.PatientID != "",
	})
	log.WithFields(logrus.Fields{
		"level":      int(report.Triage.Level),
		"label":      report.Triage.Label,
		"confidence": report.Triage.Confidence,
		"degraded":   report.Metadata.Degraded,
	}).Info("Session complete")
}

func (o *Orchestrator) publish(ctx context.Context, eventType, sessionID string, data map[string]interface{}) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.PublishEvent(ctx, eventType, sessionID, data); err != nil {
		metrics.PublishFailed()
		logger.ForSession(sessionID).WithError(err).WithField("event", eventType).Warn("Failed to publish event")
	}
}

// detached returns a context that survives cancellation of ctx, bounded by
// the storage timeout.
func (o *Orchestrator) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.timeouts.Storage)
}

// run holds the per-session state of one execution.
type run struct {
	o          *Orchestrator
	session    *models.Session
	req        Request
	log        *logrus.Entry
	stageStart time.Time
	durations  map[models.Stage]int64
}

// extractionOutcome is the joined result of the extraction barrier, indexed
// like the orchestrator's extractors.
type extractionOutcome struct {
	sets   [][]models.EntityCandidate
	errs   []error
	counts map[models.Source]int
}

func (e extractionOutcome) mode() triage.Mode {
	failed := 0
	for _, err := range e.errs {
		if err != nil {
			failed++
		}
	}
	switch {
	case failed == 0:
		return triage.ModeFull
	case failed == len(e.errs):
		return triage.ModeTranscriptOnly
	default:
		return triage.ModePartial
	}
}

func (r *run) execute(ctx context.Context) (*models.Report, error) {
	o := r.o

	if err := r.enter(ctx, models.StageTranscribing); err != nil {
		return nil, err
	}
	transcript, err := r.transcribe(ctx)
	if err != nil {
		return nil, err
	}

	if err := r.enter(ctx, models.StageExtracting); err != nil {
		return nil, err
	}
	outcome := r.extract(ctx, transcript.Text)

	if err := r.enter(ctx, models.StageReconciling); err != nil {
		return nil, err
	}
	reconciled := o.reconciler.Reconcile(outcome.sets...)
	r.log.WithFields(logrus.Fields{
		"entities":  len(reconciled.Entities),
		"dropped":   reconciled.Dropped,
		"conflicts": reconciled.Conflicts,
		"invalid":   reconciled.Invalid,
	}).Debug("Candidates reconciled")

	if err := r.enter(ctx, models.StageTriaging); err != nil {
		return nil, err
	}
	mode := outcome.mode()
	verdict, err := r.triage(ctx, transcript, reconciled.Entities, mode)
	if err != nil {
		return nil, err
	}

	if err := r.enter(ctx, models.StageAssembling); err != nil {
		return nil, err
	}
	report := r.assemble(transcript, reconciled, verdict, outcome)
	if err := report.Validate(); err != nil {
		return nil, fmt.Errorf("assemble report: %w", err)
	}

	// Once saving starts the session is committed; cancellation can no
	// longer leave a report behind a failed session.
	dctx, cancel := o.detached(ctx)
	defer cancel()
	if err := o.reports.Save(dctx, report); err != nil {
		return nil, asStorageError("save report", err)
	}
	return report, nil
}

// enter checks for cancellation at a stage boundary, closes the timing of
// the previous stage and records the transition.
func (r *run) enter(ctx context.Context, stage models.Stage) error {
	now := r.o.now()
	if !r.stageStart.IsZero() {
		r.durations[r.session.Stage] = now.Sub(r.stageStart).Milliseconds()
	}
	if err := ctx.Err(); err != nil {
		return models.Cancelled(string(stage), err)
	}
	r.stageStart = now
	r.session.Advance(stage, now)
	if err := r.o.sessions.Update(ctx, r.session); err != nil {
		if ctx.Err() != nil {
			return models.Cancelled(string(stage), ctx.Err())
		}
		r.log.WithError(err).WithField("stage", stage).Warn("Failed to record stage transition")
	}
	r.log.WithField("stage", stage).Debug("Stage started")
	return nil
}

func (r *run) transcribe(ctx context.Context) (models.Transcript, error) {
	tctx, cancel := context.WithTimeout(ctx, r.o.timeouts.Transcription)
	defer cancel()

	transcript, err := r.o.transcriber.Transcribe(tctx, r.req.Payload, r.req.SampleRateHint)
	if err != nil {
		if ctx.Err() != nil {
			return models.Transcript{}, models.Cancelled("transcribe", ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, transcription.ErrTranscriptionTimeout) {
			err = fmt.Errorf("%w: %v", transcription.ErrTranscriptionTimeout, err)
		}
		return models.Transcript{}, models.TranscriptionFailure("transcribe", err)
	}
	if err := transcript.Validate(); err != nil {
		return models.Transcript{}, models.TranscriptionFailure("validate transcript", err)
	}
	r.log.WithFields(logrus.Fields{
		"words":      transcript.WordCount,
		"confidence": transcript.Confidence,
	}).Info("Transcription complete")
	return transcript, nil
}

// extract runs every extractor concurrently and waits for all of them. A
// failing extractor never cancels its sibling, so the group is created
// without a derived context.
func (r *run) extract(ctx context.Context, text string) extractionOutcome {
	n := len(r.o.extractors)
	out := extractionOutcome{
		sets:   make([][]models.EntityCandidate, n),
		errs:   make([]error, n),
		counts: make(map[models.Source]int, n),
	}

	var g errgroup.Group
	for i, ex := range r.o.extractors {
		g.Go(func() error {
			ectx, cancel := context.WithTimeout(ctx, r.o.timeouts.Extraction)
			defer cancel()

			candidates, err := ex.Extract(ectx, text)
			if err == nil {
				err = extraction.Validate(ex.Source(), text, candidates)
			}
			if err != nil {
				out.errs[i] = models.ExtractionError(string(ex.Source()), err)
				return nil
			}
			out.sets[i] = candidates
			return nil
		})
	}
	_ = g.Wait()

	for i, ex := range r.o.extractors {
		if err := out.errs[i]; err != nil {
			if ctx.Err() == nil {
				metrics.ExtractorFailed(ex.Source())
				r.log.WithError(err).WithField("source", ex.Source()).Warn("Extractor failed, continuing degraded")
			}
			continue
		}
		out.counts[ex.Source()] = len(out.sets[i])
	}
	return out
}

func (r *run) triage(ctx context.Context, transcript models.Transcript, entities []models.ReconciledEntity, mode triage.Mode) (models.TriageVerdict, error) {
	tctx, cancel := context.WithTimeout(ctx, r.o.timeouts.Triage)
	defer cancel()

	verdict, err := r.o.engine.Evaluate(tctx, triage.Input{
		Transcript: transcript,
		Entities:   entities,
		Mode:       mode,
	})
	if err != nil {
		if ctx.Err() != nil {
			return models.TriageVerdict{}, models.Cancelled("triage", ctx.Err())
		}
		if !models.IsTriageRuleError(err) {
			err = models.TriageRuleError("evaluate", err)
		}
		return models.TriageVerdict{}, err
	}
	return verdict, nil
}

func (r *run) assemble(transcript models.Transcript, reconciled reconcile.Result, verdict models.TriageVerdict, outcome extractionOutcome) *models.Report {
	meta := models.Metadata{
		CandidateCounts:  outcome.counts,
		DroppedEntities:  reconciled.Dropped,
		StageDurationsMS: r.durations,
		AudioFormat:      string(r.req.Payload.Format),
		AudioBytes:       r.req.Payload.Size(),
		AudioSHA256:      r.req.Payload.Fingerprint(),
		PipelineVersion:  models.PipelineVersion,
	}
	for i, ex := range r.o.extractors {
		if err := outcome.errs[i]; err != nil {
			meta.Degraded = true
			meta.FailedExtractors = append(meta.FailedExtractors, ex.Source())
			meta.ExtractionErrors = append(meta.ExtractionErrors, err.Error())
		}
	}
	models.SortSources(meta.FailedExtractors)

	entities := reconciled.Entities
	if entities == nil {
		entities = []models.ReconciledEntity{}
	}
	return &models.Report{
		SessionID:   r.session.ID,
		PatientID:   r.session.PatientID,
		Transcript:  transcript,
		Entities:    entities,
		Triage:      verdict,
		Summary:     BuildSummary(entities, verdict),
		Metadata:    meta,
		GeneratedAt: r.o.now(),
	}
}

func asStorageError(op string, err error) error {
	if models.IsStorageError(err) || models.IsCancelled(err) {
		return err
	}
	return models.StorageError(op, err)
}
