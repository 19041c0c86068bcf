package models

import (
	"fmt"
	"time"
)

// PipelineVersion is stamped into every report's metadata.
const PipelineVersion = "medtriage/1.0"

// Report is the immutable unit persisted and exported for a completed session.
type Report struct {
	SessionID   string             `json:"session_id"`
	PatientID   string             `json:"patient_id,omitempty"`
	Transcript  Transcript         `json:"transcript"`
	Entities    []ReconciledEntity `json:"entities"`
	Triage      TriageVerdict      `json:"triage"`
	Summary     ClinicalSummary    `json:"clinical_summary"`
	Metadata    Metadata           `json:"metadata"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Metadata records how the report was produced, including any degradation.
type Metadata struct {
	Degraded         bool            `json:"degraded"`
	FailedExtractors []Source        `json:"failed_extractors,omitempty"`
	ExtractionErrors []string        `json:"extraction_errors,omitempty"`
	CandidateCounts  map[Source]int  `json:"candidate_counts,omitempty"`
	DroppedEntities  int             `json:"dropped_entities"`
	StageDurationsMS map[Stage]int64 `json:"stage_durations_ms,omitempty"`
	AudioFormat      string          `json:"audio_format,omitempty"`
	AudioBytes       int64           `json:"audio_bytes,omitempty"`
	AudioSHA256      string          `json:"audio_sha256,omitempty"`
	PipelineVersion  string          `json:"pipeline_version"`
}

// ClinicalSummary groups reconciled entity texts for a quick clinical read.
type ClinicalSummary struct {
	PresentingSymptoms []string `json:"presenting_symptoms"`
	Medications        []string `json:"medications"`
	Conditions         []string `json:"conditions"`
	Procedures         []string `json:"procedures"`
	VitalSigns         []string `json:"vital_signs"`
	Timeline           []string `json:"timeline"`
	Text               string   `json:"text"`
	RecommendedAction  string   `json:"recommended_action"`
}

// Validate checks the cross-field invariants a persisted report must hold.
func (r *Report) Validate() error {
	if r == nil {
		return fmt.Errorf("nil report")
	}
	if r.SessionID == "" {
		return fmt.Errorf("report without session id")
	}
	if err := r.Transcript.Validate(); err != nil {
		return fmt.Errorf("report %s: %w", r.SessionID, err)
	}
	for _, e := range r.Entities {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("report %s: %w", r.SessionID, err)
		}
	}
	if err := r.Triage.Validate(); err != nil {
		return fmt.Errorf("report %s: %w", r.SessionID, err)
	}
	return nil
}
