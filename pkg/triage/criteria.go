package triage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
	"gopkg.in/yaml.v3"
)

// VitalThresholds are the ESI level 1 danger-zone limits.
type VitalThresholds struct {
	SystolicBPLow       int     `yaml:"systolic_bp_low" json:"systolic_bp_low"`
	HeartRateLow        int     `yaml:"heart_rate_low" json:"heart_rate_low"`
	HeartRateHigh       int     `yaml:"heart_rate_high" json:"heart_rate_high"`
	RespiratoryRateLow  int     `yaml:"respiratory_rate_low" json:"respiratory_rate_low"`
	RespiratoryRateHigh int     `yaml:"respiratory_rate_high" json:"respiratory_rate_high"`
	OxygenSaturationLow int     `yaml:"oxygen_saturation_low" json:"oxygen_saturation_low"`
	TemperatureHighF    float64 `yaml:"temperature_high_f" json:"temperature_high_f"`
}

// Criteria is the keyword configuration behind the rule cascade. The
// cascade order itself is fixed in code.
type Criteria struct {
	LifeThreatMarkers      []string          `yaml:"life_threat_markers" json:"life_threat_markers"`
	CriticalVitals         VitalThresholds   `yaml:"critical_vitals" json:"critical_vitals"`
	HighRiskSymptoms       []string          `yaml:"high_risk_symptoms" json:"high_risk_symptoms"`
	HighRiskConditions     []string          `yaml:"high_risk_conditions" json:"high_risk_conditions"`
	HighRiskMedications    []string          `yaml:"high_risk_medications" json:"high_risk_medications"`
	ElderlyAge             int               `yaml:"elderly_age" json:"elderly_age"`
	ElderlyConcerningTerms []string          `yaml:"elderly_concerning_terms" json:"elderly_concerning_terms"`
	ModerateSymptoms       []string          `yaml:"moderate_symptoms" json:"moderate_symptoms"`
	ChronicConditions      []string          `yaml:"chronic_conditions" json:"chronic_conditions"`
	ResourceIntensive      []string          `yaml:"resource_intensive" json:"resource_intensive"`
	SimpleProblems         []string          `yaml:"simple_problems" json:"simple_problems"`
	SingleResource         []string          `yaml:"single_resource" json:"single_resource"`
	ResourceCategories     []models.Category `yaml:"resource_categories" json:"resource_categories"`
}

func LoadCriteria(path string) (Criteria, error) {
	if path == "" {
		return DefaultCriteria(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Criteria{}, fmt.Errorf("read triage criteria: %w", err)
	}

	cfg := DefaultCriteria()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Criteria{}, fmt.Errorf("parse triage criteria: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Criteria{}, err
	}
	return cfg, nil
}

func (c Criteria) Validate() error {
	if len(c.LifeThreatMarkers) == 0 {
		return errors.New("triage criteria: no life threat markers")
	}
	if len(c.ResourceCategories) == 0 {
		return errors.New("triage criteria: no resource categories")
	}
	for _, cat := range c.ResourceCategories {
		if !cat.Valid() {
			return fmt.Errorf("triage criteria: unknown resource category %q", cat)
		}
	}
	if c.ElderlyAge <= 0 {
		return fmt.Errorf("triage criteria: elderly age %d must be positive", c.ElderlyAge)
	}
	return nil
}

func DefaultCriteria() Criteria {
	return Criteria{
		LifeThreatMarkers: []string{
			"cardiac arrest", "respiratory arrest", "pulseless", "apneic",
			"unresponsive", "unconscious", "comatose", "not breathing",
			"no pulse", "ventricular fibrillation", "ventricular tachycardia",
			"complete heart block", "severe shock", "major trauma with unstable vitals",
		},
		CriticalVitals: VitalThresholds{
			SystolicBPLow:       70,
			HeartRateLow:        40,
			HeartRateHigh:       180,
			RespiratoryRateLow:  8,
			RespiratoryRateHigh: 40,
			OxygenSaturationLow: 85,
			TemperatureHighF:    106,
		},
		HighRiskSymptoms: []string{
			"chest pain", "shortness of breath", "difficulty breathing",
			"severe abdominal pain", "altered mental status", "confusion",
			"severe headache", "sudden severe headache", "stroke symptoms",
			"facial drooping", "slurred speech", "weakness on one side",
			"syncope", "near syncope", "severe dehydration",
			"active bleeding", "severe trauma", "severe burns",
		},
		HighRiskConditions: []string{
			"acute myocardial infarction", "myocardial infarction", "heart attack", "stroke",
			"sepsis", "pulmonary embolism", "aortic dissection", "ruptured aneurysm",
			"severe asthma attack", "diabetic ketoacidosis", "severe allergic reaction", "anaphylaxis",
		},
		HighRiskMedications: []string{
			"warfarin", "coumadin", "heparin", "insulin overdose",
			"chemotherapy", "immunosuppressants",
		},
		ElderlyAge:             65,
		ElderlyConcerningTerms: []string{"chest pain", "shortness of breath", "confusion", "fall"},
		ModerateSymptoms: []string{
			"moderate pain", "fever", "vomiting", "diarrhea",
			"minor head injury", "laceration requiring sutures",
			"moderate abdominal pain", "urinary tract infection",
			"simple fracture", "sprain", "cellulitis",
		},
		ChronicConditions: []string{
			"diabetes", "hypertension", "asthma", "copd",
			"heart disease", "kidney disease",
		},
		ResourceIntensive: []string{
			"multiple lab tests", "imaging studies", "specialist consultation",
			"iv medications", "cardiac monitoring",
		},
		SimpleProblems: []string{
			"mild pain", "minor injury", "simple laceration",
			"medication refill", "routine follow-up", "cold symptoms",
			"minor rash", "minor headache", "constipation",
		},
		SingleResource: []string{
			"simple x-ray", "basic blood test", "urine test",
			"simple prescription", "wound cleaning",
		},
		ResourceCategories: []models.Category{
			models.CategorySymptom,
			models.CategoryProcedure,
		},
	}
}
