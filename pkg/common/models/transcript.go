package models

import (
	"fmt"
	"math"
	"strings"
)

// Transcript is the immutable output of the transcription adapter.
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	WordCount  int     `json:"word_count"`
	Language   string  `json:"language,omitempty"`
	Duration   float64 `json:"duration_seconds,omitempty"`
}

// NewTranscript derives WordCount from the text so the invariant holds by construction.
func NewTranscript(text string, confidence float64) Transcript {
	return Transcript{
		Text:       text,
		Confidence: confidence,
		WordCount:  len(strings.Fields(text)),
	}
}

func (t Transcript) Validate() error {
	if !validConfidence(t.Confidence) {
		return fmt.Errorf("transcript confidence %v outside [0,1]", t.Confidence)
	}
	if n := len(strings.Fields(t.Text)); n != t.WordCount {
		return fmt.Errorf("transcript word count %d does not match text (%d words)", t.WordCount, n)
	}
	return nil
}

func validConfidence(c float64) bool {
	return !math.IsNaN(c) && c >= 0 && c <= 1
}
