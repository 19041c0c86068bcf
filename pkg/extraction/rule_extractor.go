package extraction

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/synaptica-ai/medtriage/pkg/common/models"
)

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// RuleExtractor matches a dictionary of patterns against the transcript.
type RuleExtractor struct {
	rules []compiledRule
}

func NewRuleExtractor(cfg RulesConfig) (*RuleExtractor, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if rule.Disabled {
			continue
		}
		if !rule.Category.Valid() {
			return nil, fmt.Errorf("rule %q: unknown category %q", rule.Name, rule.Category)
		}
		expr, err := ruleExpression(rule)
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		if rule.Confidence == 0 {
			rule.Confidence = DefaultRuleConfidence
		}
		if rule.Confidence < 0 || rule.Confidence > 1 {
			return nil, fmt.Errorf("rule %q: confidence %v outside [0,1]", rule.Name, rule.Confidence)
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &RuleExtractor{rules: compiled}, nil
}

// ruleExpression wraps the rule body in a case-insensitive word-boundary group.
// Terms are tried longest first so "weakness on one side" wins over "weakness".
func ruleExpression(rule Rule) (string, error) {
	var body string
	switch {
	case rule.Pattern != "":
		body = rule.Pattern
	case len(rule.Terms) > 0:
		quoted := make([]string, 0, len(rule.Terms))
		for _, term := range rule.Terms {
			if t := strings.TrimSpace(term); t != "" {
				quoted = append(quoted, regexp.QuoteMeta(t))
			}
		}
		if len(quoted) == 0 {
			return "", fmt.Errorf("rule %q: no terms", rule.Name)
		}
		sort.SliceStable(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
		body = strings.Join(quoted, "|")
	default:
		return "", fmt.Errorf("rule %q: pattern or terms required", rule.Name)
	}
	return `(?i)\b(?:` + body + `)\b`, nil
}

func (e *RuleExtractor) Source() models.Source { return models.SourceRuleBased }

func (e *RuleExtractor) Extract(ctx context.Context, text string) ([]models.EntityCandidate, error) {
	var out []models.EntityCandidate
	for _, cr := range e.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, match := range cr.re.FindAllStringIndex(text, -1) {
			out = append(out, models.EntityCandidate{
				Source:     models.SourceRuleBased,
				Category:   cr.rule.Category,
				Text:       text[match[0]:match[1]],
				Span:       models.Span{Start: match[0], End: match[1]},
				Confidence: cr.rule.Confidence,
			})
		}
	}
	return out, nil
}
