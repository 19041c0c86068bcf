// Package extraction holds the two independent entity extraction adapters.
package extraction

import (
	"context"
	"fmt"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

// Extractor produces candidate entities from transcript text. Offsets are
// byte offsets into text.
type Extractor interface {
	Source() models.Source
	Extract(ctx context.Context, text string) ([]models.EntityCandidate, error)
}

// Validate rejects candidates that do not index text or carry a foreign source.
func Validate(src models.Source, text string, candidates []models.EntityCandidate) error {
	for i, c := range candidates {
		if c.Source != src {
			return fmt.Errorf("candidate %d: source %q from %s extractor", i, c.Source, src)
		}
		if err := c.Validate(len(text)); err != nil {
			return fmt.Errorf("candidate %d: %w", i, err)
		}
	}
	return nil
}
