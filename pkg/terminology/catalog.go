// Package terminology maps entity surface text onto standard vocabulary codes.
package terminology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
	"github.com/synaptica-ai/medtriage/pkg/textnorm"
	"gopkg.in/yaml.v3"
)

type Concept struct {
	Display  string          `yaml:"display" json:"display"`
	Category models.Category `yaml:"category" json:"category"`
	Synonyms []string        `yaml:"synonyms,omitempty" json:"synonyms,omitempty"`
	SNOMED   string          `yaml:"snomed,omitempty" json:"snomed,omitempty"`
	LOINC    string          `yaml:"loinc,omitempty" json:"loinc,omitempty"`
	ICD10    string          `yaml:"icd10,omitempty" json:"icd10,omitempty"`
	RxNorm   string          `yaml:"rxnorm,omitempty" json:"rxnorm,omitempty"`
}

// Codes returns the non-empty vocabulary codes keyed by system name.
func (c Concept) Codes() map[string]string {
	codes := make(map[string]string, 4)
	for system, code := range map[string]string{
		"snomed": c.SNOMED,
		"loinc":  c.LOINC,
		"icd10":  c.ICD10,
		"rxnorm": c.RxNorm,
	} {
		if code != "" {
			codes[system] = code
		}
	}
	return codes
}

type Catalog struct {
	Concepts map[string]Concept `yaml:"concepts" json:"concepts"`

	index map[string]string
	terms []string
}

func Load(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read terminology catalog: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return nil, fmt.Errorf("parse terminology catalog: %w", err)
	}
	if len(cat.Concepts) == 0 {
		return nil, fmt.Errorf("terminology catalog empty")
	}
	for key, concept := range cat.Concepts {
		if !concept.Category.Valid() {
			return nil, fmt.Errorf("concept %q: unknown category %q", key, concept.Category)
		}
	}
	cat.build()
	return &cat, nil
}

// build indexes every key and synonym by normalized text. Longer terms are
// tried first by prefix lookups.
func (c *Catalog) build() {
	c.index = make(map[string]string)
	for key, concept := range c.Concepts {
		for _, term := range append([]string{key, concept.Display}, concept.Synonyms...) {
			if k := textnorm.Key(term); k != "" {
				c.index[k] = key
			}
		}
	}
	c.terms = make([]string, 0, len(c.index))
	for term := range c.index {
		c.terms = append(c.terms, term)
	}
	sort.Slice(c.terms, func(i, j int) bool {
		if len(c.terms[i]) != len(c.terms[j]) {
			return len(c.terms[i]) > len(c.terms[j])
		}
		return c.terms[i] < c.terms[j]
	})
}

// Lookup finds the concept for text within category: an exact match on the
// normalized text first, then the longest catalog term the text starts with
// ("bp 85/50" resolves to blood pressure).
func (c *Catalog) Lookup(category models.Category, text string) (Concept, bool) {
	if c == nil || c.index == nil {
		return Concept{}, false
	}
	key := textnorm.Key(text)
	if id, ok := c.index[key]; ok {
		if concept := c.Concepts[id]; concept.Category == category {
			return concept, true
		}
	}
	for _, term := range c.terms {
		if len(term) >= len(key) || !strings.HasPrefix(key, term) || key[len(term)] != ' ' {
			continue
		}
		if concept := c.Concepts[c.index[term]]; concept.Category == category {
			return concept, true
		}
	}
	return Concept{}, false
}

// Annotate attaches codes to entities in place.
func (c *Catalog) Annotate(entities []models.ReconciledEntity) {
	for i := range entities {
		if concept, ok := c.Lookup(entities[i].Category, entities[i].Text); ok {
			if codes := concept.Codes(); len(codes) > 0 {
				entities[i].Codes = codes
			}
		}
	}
}

func DefaultCatalog() *Catalog {
	cat := &Catalog{Concepts: map[string]Concept{
		"chest-pain":            {Display: "Chest pain", Category: models.CategorySymptom, SNOMED: "29857009", ICD10: "R07.9"},
		"shortness-of-breath":   {Display: "Shortness of breath", Category: models.CategorySymptom, Synonyms: []string{"difficulty breathing", "dyspnea"}, SNOMED: "267036007", ICD10: "R06.02"},
		"headache":              {Display: "Headache", Category: models.CategorySymptom, Synonyms: []string{"severe headache"}, SNOMED: "25064002", ICD10: "R51.9"},
		"fever":                 {Display: "Fever", Category: models.CategorySymptom, SNOMED: "386661006", ICD10: "R50.9"},
		"cough":                 {Display: "Cough", Category: models.CategorySymptom, SNOMED: "49727002", ICD10: "R05.9"},
		"nausea":                {Display: "Nausea", Category: models.CategorySymptom, SNOMED: "422587007", ICD10: "R11.0"},
		"dizziness":             {Display: "Dizziness", Category: models.CategorySymptom, SNOMED: "404640003", ICD10: "R42"},
		"cardiac-arrest":        {Display: "Cardiac arrest", Category: models.CategorySymptom, SNOMED: "410429000", ICD10: "I46.9"},
		"hypertension":          {Display: "Hypertension", Category: models.CategoryDiagnosis, SNOMED: "38341003", ICD10: "I10"},
		"diabetes":              {Display: "Diabetes mellitus", Category: models.CategoryDiagnosis, SNOMED: "73211009", ICD10: "E11.9"},
		"asthma":                {Display: "Asthma", Category: models.CategoryDiagnosis, SNOMED: "195967001", ICD10: "J45.909"},
		"pneumonia":             {Display: "Pneumonia", Category: models.CategoryDiagnosis, SNOMED: "233604007", ICD10: "J18.9"},
		"stroke":                {Display: "Stroke", Category: models.CategoryDiagnosis, SNOMED: "230690007", ICD10: "I63.9"},
		"sepsis":                {Display: "Sepsis", Category: models.CategoryDiagnosis, SNOMED: "91302008", ICD10: "A41.9"},
		"myocardial-infarction": {Display: "Myocardial infarction", Category: models.CategoryDiagnosis, Synonyms: []string{"heart attack", "acute myocardial infarction"}, SNOMED: "22298006", ICD10: "I21.9"},
		"ibuprofen":             {Display: "Ibuprofen", Category: models.CategoryMedication, RxNorm: "5640"},
		"aspirin":               {Display: "Aspirin", Category: models.CategoryMedication, RxNorm: "1191"},
		"metformin":             {Display: "Metformin", Category: models.CategoryMedication, RxNorm: "6809"},
		"lisinopril":            {Display: "Lisinopril", Category: models.CategoryMedication, RxNorm: "29046"},
		"warfarin":              {Display: "Warfarin", Category: models.CategoryMedication, Synonyms: []string{"coumadin"}, RxNorm: "11289"},
		"insulin":               {Display: "Insulin", Category: models.CategoryMedication, RxNorm: "5856"},
		"atorvastatin":          {Display: "Atorvastatin", Category: models.CategoryMedication, RxNorm: "83367"},
		"amlodipine":            {Display: "Amlodipine", Category: models.CategoryMedication, RxNorm: "17767"},
		"blood-pressure":        {Display: "Blood pressure", Category: models.CategoryVitalSign, Synonyms: []string{"bp"}, SNOMED: "75367002", LOINC: "85354-9"},
		"heart-rate":            {Display: "Heart rate", Category: models.CategoryVitalSign, Synonyms: []string{"pulse", "hr"}, SNOMED: "364075005", LOINC: "8867-4"},
		"oxygen-saturation":     {Display: "Oxygen saturation", Category: models.CategoryVitalSign, Synonyms: []string{"spo2", "o2 sat", "sats"}, SNOMED: "431314004", LOINC: "2708-6"},
		"respiratory-rate":      {Display: "Respiratory rate", Category: models.CategoryVitalSign, Synonyms: []string{"resp rate", "rr"}, SNOMED: "86290005", LOINC: "9279-1"},
		"body-temperature":      {Display: "Body temperature", Category: models.CategoryVitalSign, Synonyms: []string{"temperature", "temp"}, SNOMED: "386725007", LOINC: "8310-5"},
		"ct-scan":               {Display: "CT scan", Category: models.CategoryProcedure, SNOMED: "77477000"},
		"mri":                   {Display: "MRI", Category: models.CategoryProcedure, SNOMED: "113091000"},
		"x-ray":                 {Display: "X-ray", Category: models.CategoryProcedure, Synonyms: []string{"xray"}, SNOMED: "363680008"},
		"ecg":                   {Display: "Electrocardiogram", Category: models.CategoryProcedure, Synonyms: []string{"ekg"}, SNOMED: "29303009"},
		"echocardiogram":        {Display: "Echocardiogram", Category: models.CategoryProcedure, SNOMED: "40701008"},
	}}
	cat.build()
	return cat
}
