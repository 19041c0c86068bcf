// Package triage assigns an ESI v4 level to a session with an ordered,
// first-match rule cascade.
package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/synaptica-ai/medtriage/pkg/common/logger"
	"github.com/synaptica-ai/medtriage/pkg/common/models"
	"github.com/synaptica-ai/medtriage/pkg/textnorm"
)

// Mode describes which extraction sources fed the entity set.
type Mode int

const (
	// ModeFull means both extractors succeeded.
	ModeFull Mode = iota
	// ModePartial means exactly one extractor succeeded.
	ModePartial
	// ModeTranscriptOnly means both extractors failed; keyword matches
	// against the transcript stand in for entities.
	ModeTranscriptOnly
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModePartial:
		return "partial"
	case ModeTranscriptOnly:
		return "transcript-only"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

type Config struct {
	// HighRiskConfidence is the minimum entity confidence for the level 2 rule.
	HighRiskConfidence float64
	// MultiResourceThreshold is the number of distinct resource categories
	// for level 3.
	MultiResourceThreshold int
	// DegradedCeiling caps confidence when both extractors failed. The cap is
	// inclusive: confidence may equal it.
	DegradedCeiling float64
	// PartialCeiling caps confidence when one extractor failed, inclusively.
	PartialCeiling float64
}

func DefaultConfig() Config {
	return Config{
		HighRiskConfidence:     0.7,
		MultiResourceThreshold: 2,
		DegradedCeiling:        0.5,
		PartialCeiling:         0.85,
	}
}

type Input struct {
	Transcript models.Transcript
	Entities   []models.ReconciledEntity
	Mode       Mode
}

type Engine struct {
	cfg      Config
	criteria Criteria
}

func NewEngine(cfg Config, criteria Criteria) (*Engine, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	if cfg.MultiResourceThreshold < 1 {
		return nil, fmt.Errorf("multi-resource threshold %d must be at least 1", cfg.MultiResourceThreshold)
	}
	if n := len(criteria.ResourceCategories); cfg.MultiResourceThreshold > n {
		return nil, fmt.Errorf("multi-resource threshold %d exceeds the %d resource categories", cfg.MultiResourceThreshold, n)
	}
	for name, v := range map[string]float64{
		"high-risk confidence": cfg.HighRiskConfidence,
		"degraded ceiling":     cfg.DegradedCeiling,
		"partial ceiling":      cfg.PartialCeiling,
	} {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("%s %v outside [0,1]", name, v)
		}
	}
	return &Engine{cfg: cfg, criteria: criteria}, nil
}

// Evaluate returns exactly one verdict or a TriageRuleError. It never falls
// back to a default level.
func (e *Engine) Evaluate(ctx context.Context, in Input) (verdict models.TriageVerdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			verdict = models.TriageVerdict{}
			err = models.TriageRuleError("evaluate", fmt.Errorf("rule evaluation panicked: %v", r))
		}
	}()

	if err := validateInput(in); err != nil {
		return models.TriageVerdict{}, models.TriageRuleError("validate input", err)
	}

	ev := newEvaluation(e, in)
	for _, t := range cascade {
		if err := ctx.Err(); err != nil {
			return models.TriageVerdict{}, err
		}
		for _, check := range t.checks {
			signals, ok := check.eval(ev)
			if !ok {
				continue
			}
			id := check.id
			if transcriptDerived(signals) {
				id += ".transcript"
			}
			verdict = e.verdict(t, id, signals, in)
			if err := verdict.Validate(); err != nil {
				return models.TriageVerdict{}, models.TriageRuleError(id, err)
			}
			logger.Log.WithFields(map[string]interface{}{
				"level":      int(verdict.Level),
				"rule":       id,
				"mode":       in.Mode.String(),
				"confidence": verdict.Confidence,
				"signals":    len(signals),
			}).Debug("Triage rule matched")
			return verdict, nil
		}
	}
	return models.TriageVerdict{}, models.TriageRuleError("evaluate", fmt.Errorf("no rule matched"))
}

func validateInput(in Input) error {
	if err := in.Transcript.Validate(); err != nil {
		return err
	}
	switch in.Mode {
	case ModeFull, ModePartial, ModeTranscriptOnly:
	default:
		return fmt.Errorf("unknown source mode %d", int(in.Mode))
	}
	for i, ent := range in.Entities {
		if err := ent.Validate(); err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
	}
	return nil
}

func (e *Engine) verdict(t tier, ruleID string, signals []signal, in Input) models.TriageVerdict {
	var confidence float64
	if len(signals) == 0 {
		confidence = in.Transcript.Confidence
	} else {
		for _, s := range signals {
			confidence += s.confidence
		}
		confidence /= float64(len(signals))
	}
	switch in.Mode {
	case ModeTranscriptOnly:
		confidence = min(confidence, e.cfg.DegradedCeiling)
	case ModePartial:
		confidence = min(confidence, e.cfg.PartialCeiling)
	}

	terms := make([]string, 0, len(signals))
	seen := make(map[string]struct{}, len(signals))
	for _, s := range signals {
		key := textnorm.Key(s.term)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		terms = append(terms, s.term)
	}

	recommendation := t.level.Recommendation()
	if len(terms) > 0 {
		recommendation = fmt.Sprintf("%s (matched: %s)", recommendation, strings.Join(terms, ", "))
	}

	v := models.NewVerdict(t.level, confidence, []string{ruleID, t.id}, recommendation)
	if len(terms) > 0 {
		v.MatchedTerms = terms
	}
	return v
}
