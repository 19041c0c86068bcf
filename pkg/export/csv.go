package export

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

var csvHeader = []string{"session_id", "category", "text", "confidence", "start", "end", "sources", "codes"}

// WriteCSV writes one row per reconciled entity. Sources are joined with
// "|" and codes as sorted system=code pairs.
func WriteCSV(w io.Writer, report *models.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range report.Entities {
		sources := make([]string, len(e.Sources))
		for i, s := range e.Sources {
			sources[i] = string(s)
		}
		row := []string{
			report.SessionID,
			string(e.Category),
			e.Text,
			strconv.FormatFloat(e.Confidence, 'f', 4, 64),
			strconv.Itoa(e.Span.Start),
			strconv.Itoa(e.Span.End),
			strings.Join(sources, "|"),
			formatCodes(e.Codes),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCodes(codes map[string]string) string {
	if len(codes) == 0 {
		return ""
	}
	systems := make([]string, 0, len(codes))
	for system := range codes {
		systems = append(systems, system)
	}
	sort.Strings(systems)
	pairs := make([]string, len(systems))
	for i, system := range systems {
		pairs[i] = system + "=" + codes[system]
	}
	return strings.Join(pairs, ";")
}
