package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode is persisted on failed sessions and surfaced to clients.
type ErrorCode string

const (
	CodeInputError           ErrorCode = "INPUT_ERROR"
	CodeTranscriptionFailure ErrorCode = "TRANSCRIPTION_FAILURE"
	CodeExtractionError      ErrorCode = "EXTRACTION_ERROR"
	CodeTriageRuleError      ErrorCode = "TRIAGE_RULE_ERROR"
	CodeStorageError         ErrorCode = "STORAGE_ERROR"
	CodeCancelled            ErrorCode = "CANCELLED"
	CodeInternal             ErrorCode = "INTERNAL_ERROR"
)

// PipelineError tags an underlying error with its place in the error taxonomy.
type PipelineError struct {
	Code ErrorCode
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error aborts a session. Extraction errors are
// absorbed as degradation.
func (e *PipelineError) Fatal() bool {
	return e.Code != CodeExtractionError
}

func newError(code ErrorCode, op string, err error) error {
	if err == nil {
		err = errors.New(string(code))
	}
	return &PipelineError{Code: code, Op: op, Err: err}
}

func InputError(op string, err error) error { return newError(CodeInputError, op, err) }
func TranscriptionFailure(op string, err error) error { return newError(CodeTranscriptionFailure, op, err) }
func ExtractionError(op string, err error) error { return newError(CodeExtractionError, op, err) }
func TriageRuleError(op string, err error) error { return newError(CodeTriageRuleError, op, err) }
func StorageError(op string, err error) error { return newError(CodeStorageError, op, err) }
func Cancelled(op string, err error) error { return newError(CodeCancelled, op, err) }

// CodeOf returns the taxonomy code of err. Context cancellation maps to
// CANCELLED; anything untagged is INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancelled
	}
	return CodeInternal
}

func hasCode(err error, code ErrorCode) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Code == code
}

func IsInputError(err error) bool { return hasCode(err, CodeInputError) }
func IsTranscriptionFailure(err error) bool { return hasCode(err, CodeTranscriptionFailure) }
func IsExtractionError(err error) bool { return hasCode(err, CodeExtractionError) }
func IsTriageRuleError(err error) bool { return hasCode(err, CodeTriageRuleError) }
func IsStorageError(err error) bool { return hasCode(err, CodeStorageError) }
func IsCancelled(err error) bool { return CodeOf(err) == CodeCancelled }
