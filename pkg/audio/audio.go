// Package audio validates uploads at the boundary before any pipeline work.
package audio

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatM4A  Format = "m4a"
	FormatFLAC Format = "flac"
	FormatOGG  Format = "ogg"
)

// DefaultMaxBytes is the 100 MB upload ceiling.
const DefaultMaxBytes int64 = 100 * 1024 * 1024

var (
	ErrEmpty             = errors.New("empty audio payload")
	ErrTooLarge          = errors.New("audio payload exceeds size limit")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrFormatMismatch    = errors.New("file extension does not match audio content")
)

var contentTypes = map[Format]string{
	FormatWAV:  "audio/wav",
	FormatMP3:  "audio/mpeg",
	FormatM4A:  "audio/mp4",
	FormatFLAC: "audio/flac",
	FormatOGG:  "audio/ogg",
}

// ContentType returns the MIME type sent to the transcription service.
func (f Format) ContentType() string {
	if ct, ok := contentTypes[f]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Payload is an accepted upload.
type Payload struct {
	Filename string
	Format   Format
	Data     []byte
}

func (p Payload) Size() int64 { return int64(len(p.Data)) }

// Fingerprint is a short content hash recorded in report metadata.
func (p Payload) Fingerprint() string {
	sum := sha256.Sum256(p.Data)
	return hex.EncodeToString(sum[:8])
}

type Validator struct {
	maxBytes int64
	allowed  map[Format]struct{}
}

func NewValidator(maxBytes int64, formats []string) *Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	allowed := make(map[Format]struct{})
	for _, f := range formats {
		if trimmed := strings.TrimPrefix(strings.TrimSpace(strings.ToLower(f)), "."); trimmed != "" {
			allowed[Format(trimmed)] = struct{}{}
		}
	}
	return &Validator{maxBytes: maxBytes, allowed: allowed}
}

func (v *Validator) MaxBytes() int64 { return v.maxBytes }

// Validate checks size, extension and content. Every rejection is an
// InputError so callers can map it before a session is started.
func (v *Validator) Validate(filename string, data []byte) (Payload, error) {
	if len(data) == 0 {
		return Payload{}, models.InputError("validate upload", ErrEmpty)
	}
	if int64(len(data)) > v.maxBytes {
		return Payload{}, models.InputError("validate upload",
			fmt.Errorf("%d bytes > %d: %w", len(data), v.maxBytes, ErrTooLarge))
	}

	ext := Format(strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."))
	if ext != "" {
		if _, ok := v.allowed[ext]; !ok {
			return Payload{}, models.InputError("validate upload",
				fmt.Errorf("extension '%s': %w", ext, ErrUnsupportedFormat))
		}
	}

	sniffed, ok := Sniff(data)
	if !ok {
		return Payload{}, models.InputError("validate upload",
			fmt.Errorf("content not recognised as audio: %w", ErrUnsupportedFormat))
	}
	if _, ok := v.allowed[sniffed]; !ok {
		return Payload{}, models.InputError("validate upload",
			fmt.Errorf("detected '%s': %w", sniffed, ErrUnsupportedFormat))
	}
	if ext != "" && ext != sniffed {
		return Payload{}, models.InputError("validate upload",
			fmt.Errorf("extension '%s', content '%s': %w", ext, sniffed, ErrFormatMismatch))
	}

	return Payload{Filename: filename, Format: sniffed, Data: data}, nil
}

// Sniff identifies the container from its leading bytes.
func Sniff(data []byte) (Format, bool) {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV, true
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("fLaC")):
		return FormatFLAC, true
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("OggS")):
		return FormatOGG, true
	case len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp")):
		return FormatM4A, true
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return FormatMP3, true
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MPEG audio frame sync
		return FormatMP3, true
	}
	return "", false
}
