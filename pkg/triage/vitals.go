package triage

import (
	"fmt"
	"regexp"
	"strconv"
)

type VitalKind string

const (
	VitalSystolicBP       VitalKind = "systolic-bp"
	VitalHeartRate        VitalKind = "heart-rate"
	VitalOxygenSaturation VitalKind = "oxygen-saturation"
	VitalRespiratoryRate  VitalKind = "respiratory-rate"
	VitalTemperature      VitalKind = "temperature"
)

// Vital is a numeric reading found in the transcript. Temperatures are in
// Fahrenheit; readings below 50 are taken as Celsius and converted.
type Vital struct {
	Kind  VitalKind
	Value float64
	Start int
	End   int
	Text  string
}

func (v Vital) String() string {
	return fmt.Sprintf("%s %g", v.Kind, v.Value)
}

var vitalPatterns = []struct {
	kind VitalKind
	re   *regexp.Regexp
}{
	{VitalSystolicBP, regexp.MustCompile(`(?i)\b(?:blood pressure|bp)\b\D{0,20}?(\d{2,3})\s*(?:/|over)\s*\d{2,3}\b`)},
	{VitalHeartRate, regexp.MustCompile(`(?i)\b(?:heart rate|pulse|hr)\b\D{0,15}?(\d{2,3})\b`)},
	{VitalOxygenSaturation, regexp.MustCompile(`(?i)\b(?:oxygen saturation|o2 sat(?:uration)?|spo2|sats?)\b\D{0,15}?(\d{2,3})\b`)},
	{VitalRespiratoryRate, regexp.MustCompile(`(?i)\b(?:respiratory rate|resp rate|rr)\b\D{0,15}?(\d{1,2})\b`)},
	{VitalTemperature, regexp.MustCompile(`(?i)\b(?:temperature|temp)\b\D{0,15}?(\d{2,3}(?:\.\d+)?)\b`)},
}

// ParseVitals extracts every recognisable vital sign reading from text.
func ParseVitals(text string) []Vital {
	var out []Vital
	for _, p := range vitalPatterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			value, err := strconv.ParseFloat(text[m[2]:m[3]], 64)
			if err != nil {
				continue
			}
			if p.kind == VitalTemperature && value < 50 {
				value = value*9/5 + 32
			}
			out = append(out, Vital{
				Kind:  p.kind,
				Value: value,
				Start: m[0],
				End:   m[1],
				Text:  text[m[0]:m[1]],
			})
		}
	}
	return out
}

// Critical reports whether the reading is inside the danger zone.
func (t VitalThresholds) Critical(v Vital) bool {
	switch v.Kind {
	case VitalSystolicBP:
		return v.Value < float64(t.SystolicBPLow)
	case VitalHeartRate:
		return v.Value < float64(t.HeartRateLow) || v.Value > float64(t.HeartRateHigh)
	case VitalOxygenSaturation:
		return v.Value < float64(t.OxygenSaturationLow)
	case VitalRespiratoryRate:
		return v.Value < float64(t.RespiratoryRateLow) || v.Value > float64(t.RespiratoryRateHigh)
	case VitalTemperature:
		return v.Value >= t.TemperatureHighF
	}
	return false
}

var agePattern = regexp.MustCompile(`(?i)\b(\d{1,3})[\s-]*(?:years?|yrs?)[\s-]*old\b|\baged?\s*(?:is\s*)?(\d{1,3})\b`)

// ParseAge returns the first stated patient age.
func ParseAge(text string) (int, bool) {
	m := agePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	raw := m[1]
	if raw == "" {
		raw = m[2]
	}
	age, err := strconv.Atoi(raw)
	if err != nil || age > 130 {
		return 0, false
	}
	return age, true
}
