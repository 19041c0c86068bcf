package models

import "time"

type SessionStatus string

const (
	SessionPending  SessionStatus = "pending"
	SessionRunning  SessionStatus = "running"
	SessionComplete SessionStatus = "complete"
	SessionFailed   SessionStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s SessionStatus) Terminal() bool {
	return s == SessionComplete || s == SessionFailed
}

type Stage string

const (
	StageAccepted     Stage = "accepted"
	StageTranscribing Stage = "transcribing"
	StageExtracting   Stage = "extracting"
	StageReconciling  Stage = "reconciling"
	StageTriaging     Stage = "triaging"
	StageAssembling   Stage = "assembling"
	StageDone         Stage = "done"
)

// Session tracks one audio-to-report run. Only the orchestrator mutates it.
type Session struct {
	ID           string        `json:"session_id"`
	PatientID    string        `json:"patient_id,omitempty"`
	Status       SessionStatus `json:"status"`
	Stage        Stage         `json:"stage"`
	ErrorCode    ErrorCode     `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Degraded     bool          `json:"degraded"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

func NewSession(id, patientID string, now time.Time) *Session {
	return &Session{
		ID:        id,
		PatientID: patientID,
		Status:    SessionPending,
		Stage:     StageAccepted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Advance moves a running session to the given stage.
func (s *Session) Advance(stage Stage, now time.Time) {
	s.Status = SessionRunning
	s.Stage = stage
	s.UpdatedAt = now
}

func (s *Session) Complete(degraded bool, now time.Time) {
	s.Status = SessionComplete
	s.Stage = StageDone
	s.Degraded = degraded
	s.UpdatedAt = now
	s.CompletedAt = &now
}

// Fail records the error code of a fatal error. The stage is left where the
// failure happened.
func (s *Session) Fail(err error, now time.Time) {
	s.Status = SessionFailed
	s.ErrorCode = CodeOf(err)
	if err != nil {
		s.ErrorMessage = err.Error()
	}
	s.UpdatedAt = now
	s.CompletedAt = &now
}
