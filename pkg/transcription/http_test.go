package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/synaptica-ai/medtriage/pkg/audio"
)

func testPayload() audio.Payload {
	return audio.Payload{Filename: "intake.wav", Format: audio.FormatWAV, Data: []byte("RIFF0000WAVEdata")}
}

func TestHTTPTranscriberVerboseJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("response_format") != "verbose_json" || r.FormValue("sample_rate") != "16000" {
			t.Errorf("unexpected form %v", r.MultipartForm.Value)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"text":     " Patient reports chest pain ",
			"language": "en",
			"duration": 3.5,
			"segments": []map[string]interface{}{
				{"avg_logprob": -0.1},
				{"avg_logprob": -0.3},
			},
		})
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(srv.URL+"/v1/", "secret", "whisper-1", time.Second)
	got, err := tr.Transcribe(context.Background(), testPayload(), 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "Patient reports chest pain" || got.WordCount != 4 {
		t.Fatalf("unexpected transcript %+v", got)
	}
	want := math.Exp(-0.2)
	if math.Abs(got.Confidence-want) > 1e-9 {
		t.Fatalf("confidence = %v, want %v", got.Confidence, want)
	}
	if got.Language != "en" || got.Duration != 3.5 {
		t.Fatalf("unexpected metadata %+v", got)
	}
}

func TestHTTPTranscriberUnsupportedFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "codec not supported", http.StatusUnsupportedMediaType)
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(srv.URL, "", "whisper-1", time.Second)
	_, err := tr.Transcribe(context.Background(), testPayload(), 0)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestHTTPTranscriberTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	tr := NewHTTPTranscriber(srv.URL, "", "whisper-1", time.Minute)
	_, err := tr.Transcribe(ctx, testPayload(), 0)
	if !errors.Is(err, ErrTranscriptionTimeout) {
		t.Fatalf("expected ErrTranscriptionTimeout, got %v", err)
	}
}

func TestSegmentConfidenceWithoutSegments(t *testing.T) {
	if got := segmentConfidence(nil); got != 1.0 {
		t.Fatalf("expected 1.0, got %v", got)
	}
}
