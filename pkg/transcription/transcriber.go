// Package transcription adapts a speech-to-text service to the pipeline.
package transcription

import (
	"context"
	"errors"

	"github.com/synaptica-ai/medtriage/pkg/audio"
	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

var (
	ErrUnsupportedFormat    = errors.New("transcription: unsupported audio format")
	ErrTranscriptionTimeout = errors.New("transcription: timed out")
)

// Transcriber is a pluggable speech-to-text backend. sampleRateHint may be
// zero when the client did not supply one.
type Transcriber interface {
	Transcribe(ctx context.Context, payload audio.Payload, sampleRateHint int) (models.Transcript, error)
}

// Func adapts a plain function to Transcriber.
type Func func(ctx context.Context, payload audio.Payload, sampleRateHint int) (models.Transcript, error)

func (f Func) Transcribe(ctx context.Context, payload audio.Payload, sampleRateHint int) (models.Transcript, error) {
	return f(ctx, payload, sampleRateHint)
}
