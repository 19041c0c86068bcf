// Package export renders reports for download. JSON is the canonical,
// lossless form; the other formats are views.
package export

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
)

func Formats() []Format {
	return []Format{FormatJSON, FormatCSV, FormatHTML, FormatMarkdown}
}

// ParseFormat accepts the format names and the "md" alias.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatHTML, FormatMarkdown:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	case "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "application/json"
	}
}

func (f Format) Extension() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// Render writes report in the given format.
func Render(w io.Writer, f Format, report *models.Report) error {
	if report == nil {
		return fmt.Errorf("export: nil report")
	}
	switch f {
	case FormatJSON:
		return WriteJSON(w, report)
	case FormatCSV:
		return WriteCSV(w, report)
	case FormatHTML:
		return WriteHTML(w, report)
	case FormatMarkdown:
		_, err := io.WriteString(w, RenderMarkdown(report))
		return err
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
}

// Bytes renders into memory so callers can fail before writing a response.
func Bytes(f Format, report *models.Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(&buf, f, report); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
