package models

import (
	"fmt"
	"strings"
)

// Level is an ESI v4 acuity level, 1 being the most severe.
type Level int

const (
	LevelImmediate  Level = 1
	LevelEmergent   Level = 2
	LevelUrgent     Level = 3
	LevelLessUrgent Level = 4
	LevelNonUrgent  Level = 5
)

type levelInfo struct {
	label          string
	maxWait        string
	maxWaitMinutes int
	color          string
	recommendation string
}

var levelTable = map[Level]levelInfo{
	LevelImmediate: {
		label:          "IMMEDIATE",
		maxWait:        "0 min",
		maxWaitMinutes: 0,
		color:          "RED",
		recommendation: "Immediate life-saving intervention required - resuscitation team activation",
	},
	LevelEmergent: {
		label:          "EMERGENT",
		maxWait:        "10-15 min",
		maxWaitMinutes: 15,
		color:          "ORANGE",
		recommendation: "Immediate evaluation and intervention required; see provider within 10-15 minutes. Do not wait in general queue",
	},
	LevelUrgent: {
		label:          "URGENT",
		maxWait:        "30 min",
		maxWaitMinutes: 30,
		color:          "YELLOW",
		recommendation: "Urgent medical evaluation needed; multiple resources required within 30 minutes",
	},
	LevelLessUrgent: {
		label:          "LESS-URGENT",
		maxWait:        "60 min",
		maxWaitMinutes: 60,
		color:          "GREEN",
		recommendation: "Less urgent care; single resource needed within 60 minutes",
	},
	LevelNonUrgent: {
		label:          "NON-URGENT",
		maxWait:        "120 min",
		maxWaitMinutes: 120,
		color:          "BLUE",
		recommendation: "Non-urgent care; routine evaluation within 2 hours",
	},
}

func (l Level) Valid() bool {
	_, ok := levelTable[l]
	return ok
}

// Label is the only way a priority label is derived, which keeps level and
// label consistent.
func (l Level) Label() string {
	return levelTable[l].label
}

func (l Level) MaxWait() string {
	return levelTable[l].maxWait
}

// MaxWaitMinutes is the upper bound of the wait window.
func (l Level) MaxWaitMinutes() int {
	return levelTable[l].maxWaitMinutes
}

func (l Level) Color() string {
	return levelTable[l].color
}

func (l Level) Recommendation() string {
	return levelTable[l].recommendation
}

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("ESI-?(%d)", int(l))
	}
	return fmt.Sprintf("ESI-%d %s", int(l), l.Label())
}

// ParseLabel maps a priority label back to its level.
func ParseLabel(label string) (Level, error) {
	want := strings.ToUpper(strings.TrimSpace(label))
	for lvl, info := range levelTable {
		if info.label == want {
			return lvl, nil
		}
	}
	return 0, fmt.Errorf("unknown priority label %q", label)
}

// TriageVerdict is the triage engine's single decision for a session.
type TriageVerdict struct {
	Level           Level    `json:"level"`
	Label           string   `json:"label"`
	MaxWait         string   `json:"max_wait"`
	ColorCode       string   `json:"color_code"`
	Recommendation  string   `json:"recommendation"`
	Confidence      float64  `json:"confidence"`
	TriggeringRules []string `json:"triggering_rules"`
	MatchedTerms    []string `json:"matched_terms,omitempty"`
}

// NewVerdict fills the table-driven fields from the level.
func NewVerdict(level Level, confidence float64, rules []string, recommendation string) TriageVerdict {
	if recommendation == "" {
		recommendation = level.Recommendation()
	}
	return TriageVerdict{
		Level:           level,
		Label:           level.Label(),
		MaxWait:         level.MaxWait(),
		ColorCode:       level.Color(),
		Recommendation:  recommendation,
		Confidence:      confidence,
		TriggeringRules: rules,
	}
}

func (v TriageVerdict) Validate() error {
	if !v.Level.Valid() {
		return fmt.Errorf("triage level %d outside 1-5", int(v.Level))
	}
	if v.Label != v.Level.Label() {
		return fmt.Errorf("triage label %q does not match level %d (%s)", v.Label, int(v.Level), v.Level.Label())
	}
	if !validConfidence(v.Confidence) {
		return fmt.Errorf("triage confidence %v outside [0,1]", v.Confidence)
	}
	if len(v.TriggeringRules) == 0 {
		return fmt.Errorf("triage verdict without triggering rules")
	}
	return nil
}
