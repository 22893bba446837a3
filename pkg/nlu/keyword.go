package nlu

import (
	"context"
	"regexp"
	"strings"
)

// KeywordRule scores an intent by substring match against the query.
type KeywordRule struct {
	Intent   string
	Keywords []string
	Score    float64
}

// EntityPattern extracts an entity by regular expression. When the pattern
// has a capture group the first group is used as the value, otherwise the
// whole match.
type EntityPattern struct {
	Type    string
	Pattern *regexp.Regexp
	Score   float64
}

// KeywordProvider is a deterministic, dependency-free provider driven
// entirely by configured rules. It backs simple bots and tests; production
// bots typically select an HTTP provider instead.
type KeywordProvider struct {
	rules    []KeywordRule
	patterns []EntityPattern
}

// NewKeywordProvider creates a keyword provider with the given rules.
func NewKeywordProvider(rules []KeywordRule) *KeywordProvider {
	return &KeywordProvider{rules: rules}
}

// AddRule appends an intent keyword rule.
func (p *KeywordProvider) AddRule(rule KeywordRule) {
	p.rules = append(p.rules, rule)
}

// AddEntityPattern appends an entity extraction pattern.
func (p *KeywordProvider) AddEntityPattern(ep EntityPattern) {
	p.patterns = append(p.patterns, ep)
}

func (p *KeywordProvider) Name() string { return "keyword" }

// ProcessQuery matches the query against every rule and pattern. A rule
// matches when any of its keywords appears in the lowercased query.
func (p *KeywordProvider) ProcessQuery(ctx context.Context, q Query) (*Prediction, error) {
	lowered := strings.ToLower(q.Text)

	var intents []IntentResult
	for _, rule := range p.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lowered, strings.ToLower(kw)) {
				score := rule.Score
				if score == 0 {
					score = 0.9
				}
				intents = append(intents, IntentResult{Name: rule.Intent, Score: Float64(score)})
				break
			}
		}
	}
	if len(intents) == 0 {
		intents = append(intents, IntentResult{Name: IntentNone, Score: Float64(1)})
	}

	var entities []EntityResult
	for _, ep := range p.patterns {
		m := ep.Pattern.FindStringSubmatch(q.Text)
		if m == nil {
			continue
		}
		value := m[0]
		if len(m) > 1 {
			value = m[1]
		}
		score := ep.Score
		if score == 0 {
			score = 0.9
		}
		entities = append(entities, EntityResult{
			Name:     value,
			Type:     ep.Type,
			SlotName: ep.Type,
			Value:    value,
			Score:    Float64(score),
		})
	}

	handler, err := HandlerFor(q.EntityHandler)
	if err != nil {
		return nil, err
	}
	return NewPrediction(q.Text, intents, handler.Process(q.Text, entities)), nil
}
