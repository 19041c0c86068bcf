package pipeline

import (
	"fmt"

	"github.com/synaptica-ai/medtriage/pkg/common/config"
	"github.com/synaptica-ai/medtriage/pkg/extraction"
	"github.com/synaptica-ai/medtriage/pkg/reconcile"
	"github.com/synaptica-ai/medtriage/pkg/store"
	"github.com/synaptica-ai/medtriage/pkg/terminology"
	"github.com/synaptica-ai/medtriage/pkg/transcription"
	"github.com/synaptica-ai/medtriage/pkg/triage"
)

// Backends are the storage and event dependencies that differ between the
// service and the command line tool.
type Backends struct {
	Reports   store.ReportStore
	Sessions  store.SessionStore
	Publisher Publisher
}

// FromConfig builds the adapters, reconciler and triage engine from config
// and returns an orchestrator over the given backends.
func FromConfig(cfg *config.Config, b Backends) (*Orchestrator, error) {
	rules, err := extraction.LoadRules(cfg.ExtractionRulesPath)
	if err != nil {
		return nil, err
	}
	ruleExtractor, err := extraction.NewRuleExtractor(rules)
	if err != nil {
		return nil, fmt.Errorf("compile extraction rules: %w", err)
	}

	catalog, err := terminology.Load(cfg.TerminologyPath)
	if err != nil {
		return nil, err
	}

	rcfg := reconcile.DefaultConfig()
	rcfg.OverlapFraction = cfg.ReconcileOverlapFraction
	rcfg.MinConfidence = cfg.ReconcileMinConfidence
	rcfg.DisagreementPenalty = cfg.ReconcileDisagreementPenalty
	if err := rcfg.Validate(); err != nil {
		return nil, fmt.Errorf("reconciler config: %w", err)
	}

	criteria, err := triage.LoadCriteria(cfg.TriageRulesPath)
	if err != nil {
		return nil, err
	}
	engine, err := triage.NewEngine(triage.Config{
		HighRiskConfidence:     cfg.TriageHighRiskConfidence,
		MultiResourceThreshold: cfg.TriageMultiResourceThreshold,
		DegradedCeiling:        cfg.TriageDegradedCeiling,
		PartialCeiling:         cfg.TriagePartialCeiling,
	}, criteria)
	if err != nil {
		return nil, fmt.Errorf("triage engine: %w", err)
	}

	return New(Options{
		Transcriber: transcription.NewHTTPTranscriber(cfg.TranscriptionURL, cfg.TranscriptionAPIKey, cfg.TranscriptionModel, cfg.TranscriptionTimeout),
		Extractors: []extraction.Extractor{
			ruleExtractor,
			extraction.NewModelExtractor(cfg.NERModelURL, cfg.ExtractionTimeout),
		},
		Reconciler: reconcile.New(rcfg, catalog),
		Engine:     engine,
		Reports:    b.Reports,
		Sessions:   b.Sessions,
		Publisher:  b.Publisher,
		Timeouts: Timeouts{
			Transcription: cfg.TranscriptionTimeout,
			Extraction:    cfg.ExtractionTimeout,
			Triage:        cfg.TriageTimeout,
		},
	})
}
