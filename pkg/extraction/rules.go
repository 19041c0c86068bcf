package extraction

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
	"gopkg.in/yaml.v3"
)

// DefaultRuleConfidence applies to rules that do not set their own.
const DefaultRuleConfidence = 0.9

// Rule is one dictionary entry. Either Pattern (a regular expression) or
// Terms (literal phrases) must be set; both are matched case-insensitively
// on word boundaries.
type Rule struct {
	Name       string          `yaml:"name" json:"name"`
	Category   models.Category `yaml:"category" json:"category"`
	Pattern    string          `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Terms      []string        `yaml:"terms,omitempty" json:"terms,omitempty"`
	Confidence float64         `yaml:"confidence,omitempty" json:"confidence,omitempty"`
	Disabled   bool            `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

type RulesConfig struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

func LoadRules(path string) (RulesConfig, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return RulesConfig{}, fmt.Errorf("read extraction rules: %w", err)
	}

	var cfg RulesConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return RulesConfig{}, fmt.Errorf("parse extraction rules: %w", err)
	}

	if len(cfg.Rules) == 0 {
		return RulesConfig{}, errors.New("no extraction rules configured")
	}
	for _, r := range cfg.Rules {
		if !r.Category.Valid() {
			return RulesConfig{}, fmt.Errorf("rule %q: unknown category %q", r.Name, r.Category)
		}
	}

	return cfg, nil
}

func DefaultRules() RulesConfig {
	return RulesConfig{Rules: []Rule{
		{Name: "common-medications", Category: models.CategoryMedication, Terms: []string{
			"metformin", "insulin", "lisinopril", "aspirin", "ibuprofen", "amlodipine", "atorvastatin",
			"acetaminophen", "paracetamol", "warfarin", "coumadin", "heparin", "nitroglycerin",
			"albuterol", "prednisone", "amoxicillin", "metoprolol", "furosemide",
			"insulin overdose", "chemotherapy", "immunosuppressants",
		}},
		{Name: "dosage", Category: models.CategoryMedication, Confidence: 0.85,
			Pattern: `\d+(?:\.\d+)?\s?(?:mg|mcg|g|ml|units?)\b`},
		{Name: "common-symptoms", Category: models.CategorySymptom, Terms: []string{
			"chest pain", "shortness of breath", "difficulty breathing", "fatigue", "nausea",
			"headache", "severe headache", "fever", "cough", "dizziness", "sweating", "weakness",
			"vomiting", "diarrhea", "abdominal pain", "confusion", "syncope", "palpitations",
			"slurred speech", "facial drooping", "bleeding", "rash", "back pain", "sore throat",
		}},
		{Name: "life-threat-markers", Category: models.CategorySymptom, Confidence: 0.95, Terms: []string{
			"cardiac arrest", "respiratory arrest", "pulseless", "apneic", "unresponsive",
			"unconscious", "comatose", "not breathing", "no pulse", "ventricular fibrillation",
			"ventricular tachycardia", "complete heart block", "severe shock",
			"major trauma with unstable vitals",
		}},
		{Name: "high-risk-symptoms", Category: models.CategorySymptom, Confidence: 0.95, Terms: []string{
			"severe abdominal pain", "altered mental status", "sudden severe headache", "stroke symptoms",
			"weakness on one side", "near syncope", "severe dehydration", "active bleeding",
			"severe trauma", "severe burns",
		}},
		{Name: "common-diagnoses", Category: models.CategoryDiagnosis, Terms: []string{
			"diabetes", "hypertension", "pneumonia", "asthma", "depression", "anxiety", "malaria",
			"copd", "stroke", "sepsis", "pulmonary embolism", "myocardial infarction", "heart attack",
			"heart disease", "kidney disease", "urinary tract infection", "cellulitis",
		}},
		{Name: "high-risk-conditions", Category: models.CategoryDiagnosis, Confidence: 0.95, Terms: []string{
			"acute myocardial infarction", "aortic dissection", "ruptured aneurysm", "severe asthma attack",
			"diabetic ketoacidosis", "severe allergic reaction", "anaphylaxis",
		}},
		{Name: "common-procedures", Category: models.CategoryProcedure, Terms: []string{
			"ct scan", "mri", "x-ray", "xray", "blood test", "ekg", "ecg", "echocardiogram",
			"ultrasound", "sutures", "iv fluids", "urine test",
		}},
		{Name: "blood-pressure", Category: models.CategoryVitalSign, Confidence: 0.95,
			Pattern: `(?:blood pressure|bp)(?:\s+(?:of|is|was))?\s*\d{2,3}\s*/\s*\d{2,3}`},
		{Name: "heart-rate", Category: models.CategoryVitalSign, Confidence: 0.95,
			Pattern: `(?:heart rate|pulse|hr)(?:\s+(?:of|is|was))?\s*\d{2,3}`},
		{Name: "oxygen-saturation", Category: models.CategoryVitalSign, Confidence: 0.95,
			Pattern: `(?:oxygen saturation|o2 sat|spo2|sats)(?:\s+(?:of|is|was|at))?\s*\d{2,3}`},
		{Name: "respiratory-rate", Category: models.CategoryVitalSign, Confidence: 0.95,
			Pattern: `(?:respiratory rate|resp rate|rr)(?:\s+(?:of|is|was))?\s*\d{1,2}`},
		{Name: "temperature", Category: models.CategoryVitalSign, Confidence: 0.95,
			Pattern: `(?:temperature|temp)(?:\s+(?:of|is|was))?\s*\d{2,3}(?:\.\d)?`},
		{Name: "duration", Category: models.CategoryTemporalMarker, Confidence: 0.85,
			Pattern: `(?:for|since|over)\s+(?:the\s+)?(?:past\s+|last\s+)?(?:\d+|a|an|one|two|three|four|five|six|seven|several|few)\s+(?:minutes?|hours?|days?|weeks?|months?|years?)`},
		{Name: "relative-time", Category: models.CategoryTemporalMarker, Confidence: 0.85, Terms: []string{
			"yesterday", "this morning", "last night", "tonight", "earlier today",
		}},
	}}
}
