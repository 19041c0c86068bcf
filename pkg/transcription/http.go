package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/synaptica-ai/medtriage/pkg/audio"
	"github.com/synaptica-ai/medtriage/pkg/common/httpclient"
	"github.com/synaptica-ai/medtriage/pkg/common/logger"
	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

// HTTPTranscriber posts audio to a Whisper-compatible
// /audio/transcriptions endpoint and asks for verbose_json so segment
// log-probabilities are available for the confidence score.
type HTTPTranscriber struct {
	baseURL  string
	apiKey   string
	model    string
	client   *http.Client
	attempts int
}

func NewHTTPTranscriber(baseURL, apiKey, model string, timeout time.Duration) *HTTPTranscriber {
	return &HTTPTranscriber{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		model:    model,
		client:   httpclient.New(timeout),
		attempts: 2,
	}
}

type verboseResponse struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []segment `json:"segments"`
}

type segment struct {
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	AvgLogprob   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, payload audio.Payload, sampleRateHint int) (models.Transcript, error) {
	body, contentType, err := t.encode(payload, sampleRateHint)
	if err != nil {
		return models.Transcript{}, err
	}

	var out verboseResponse
	err = httpclient.Retry(ctx, t.attempts, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", bytes.NewReader(body))
		if err != nil {
			return httpclient.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)
		if t.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+t.apiKey)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			if httpclient.IsRetriable(err) && ctx.Err() == nil {
				return err
			}
			return httpclient.Permanent(err)
		}
		defer resp.Body.Close()

		if err := httpclient.CheckResponse(resp); err != nil {
			var statusErr *httpclient.StatusError
			if errors.As(err, &statusErr) &&
				(statusErr.StatusCode == http.StatusUnsupportedMediaType || statusErr.StatusCode == http.StatusBadRequest) {
				return httpclient.Permanent(fmt.Errorf("%w: %v", ErrUnsupportedFormat, err))
			}
			if httpclient.IsRetriable(err) {
				return err
			}
			return httpclient.Permanent(err)
		}

		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return httpclient.Permanent(fmt.Errorf("decode transcription response: %w", err))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.Transcript{}, fmt.Errorf("%w: %v", ErrTranscriptionTimeout, err)
		}
		return models.Transcript{}, err
	}

	tr := models.NewTranscript(strings.TrimSpace(out.Text), segmentConfidence(out.Segments))
	tr.Language = out.Language
	tr.Duration = out.Duration

	logger.Log.WithFields(map[string]interface{}{
		"format":     payload.Format,
		"words":      tr.WordCount,
		"confidence": tr.Confidence,
		"segments":   len(out.Segments),
	}).Debug("Transcription completed")

	return tr, nil
}

func (t *HTTPTranscriber) encode(payload audio.Payload, sampleRateHint int) ([]byte, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := map[string]string{
		"model":           t.model,
		"response_format": "verbose_json",
	}
	if sampleRateHint > 0 {
		fields["sample_rate"] = strconv.Itoa(sampleRateHint)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	name := payload.Filename
	if name == "" {
		name = "audio." + string(payload.Format)
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(name))
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(payload.Data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return body.Bytes(), mw.FormDataContentType(), nil
}

// segmentConfidence is exp(mean avg_logprob) over segments, or 1.0 when the
// backend reports no segments.
func segmentConfidence(segments []segment) float64 {
	if len(segments) == 0 {
		return 1.0
	}
	var sum float64
	for _, s := range segments {
		sum += s.AvgLogprob
	}
	c := math.Exp(sum / float64(len(segments)))
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
