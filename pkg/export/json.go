package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

func WriteJSON(w io.Writer, report *models.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// ReadJSON decodes a report written by WriteJSON and checks its invariants.
func ReadJSON(r io.Reader) (*models.Report, error) {
	var report models.Report
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if err := report.Validate(); err != nil {
		return nil, err
	}
	return &report, nil
}
