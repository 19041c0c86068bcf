package reconcile

import (
	"fmt"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

// CategoryPriors names the source trusted more for each category when the
// two extractors disagree on the category of the same span.
type CategoryPriors map[models.Category]models.Source

// DefaultPriors prefers the dictionary for medications and vitals, whose
// surface forms are regular, and the model for free-text clinical language.
func DefaultPriors() CategoryPriors {
	return CategoryPriors{
		models.CategoryMedication:     models.SourceRuleBased,
		models.CategoryVitalSign:      models.SourceRuleBased,
		models.CategorySymptom:        models.SourceModelBased,
		models.CategoryDiagnosis:      models.SourceModelBased,
		models.CategoryProcedure:      models.SourceModelBased,
		models.CategoryTemporalMarker: models.SourceModelBased,
	}
}

type Config struct {
	// OverlapFraction is the share of the shorter span two candidates must
	// exceed to be treated as the same mention.
	OverlapFraction float64
	// MinConfidence drops entities whose combined confidence is below it.
	MinConfidence float64
	// DisagreementPenalty scales the confidence of a category-conflict winner.
	DisagreementPenalty float64
	Priors              CategoryPriors
}

func DefaultConfig() Config {
	return Config{
		OverlapFraction:     0.5,
		MinConfidence:       0.5,
		DisagreementPenalty: 0.8,
		Priors:              DefaultPriors(),
	}
}

func (c Config) Validate() error {
	if c.OverlapFraction < 0 || c.OverlapFraction >= 1 {
		return fmt.Errorf("overlap fraction %v outside [0,1)", c.OverlapFraction)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min confidence %v outside [0,1]", c.MinConfidence)
	}
	if c.DisagreementPenalty <= 0 || c.DisagreementPenalty > 1 {
		return fmt.Errorf("disagreement penalty %v outside (0,1]", c.DisagreementPenalty)
	}
	for cat, src := range c.Priors {
		if !cat.Valid() || !src.Valid() {
			return fmt.Errorf("invalid prior %s=%s", cat, src)
		}
	}
	return nil
}
