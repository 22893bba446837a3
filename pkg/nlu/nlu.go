// Package nlu defines the natural-language-understanding boundary of the
// orchestrator. Providers turn raw text into ranked intent and entity
// candidates; the orchestrator consumes those candidates and never scores
// text itself.
package nlu

import (
	"context"
	"sort"
)

// IntentResult is a ranked intent candidate produced by a provider.
// A nil Score means the provider did not score the candidate; unscored
// results are treated as always-valid during filtering.
type IntentResult struct {
	Name  string   `json:"name"`
	Score *float64 `json:"score,omitempty"`
}

// EntityResult is a typed value extracted from user input, or supplied via
// a context map. SlotName is the alias used to match entities against slot
// answer contracts; it defaults to the entity type.
type EntityResult struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	SlotName    string   `json:"slot_name"`
	Value       any      `json:"value"`
	Score       *float64 `json:"score,omitempty"`
	FromContext bool     `json:"from_context,omitempty"`
}

// Prediction is the full result of understanding one query.
type Prediction struct {
	Query    string         `json:"query"`
	Intents  []IntentResult `json:"intents"`
	Entities []EntityResult `json:"entities"`
}

// NewPrediction sorts intent results by descending score and returns a
// prediction. Unscored intents sort ahead of scored ones.
func NewPrediction(query string, intents []IntentResult, entities []EntityResult) *Prediction {
	sorted := make([]IntentResult, len(intents))
	copy(sorted, intents)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score == nil {
			return sorted[j].Score != nil
		}
		if sorted[j].Score == nil {
			return false
		}
		return *sorted[i].Score > *sorted[j].Score
	})
	return &Prediction{Query: query, Intents: sorted, Entities: entities}
}

// FilterIntents returns intents scoring above the threshold. The provider's
// no-match intent ("None") is always dropped.
func (p *Prediction) FilterIntents(threshold float64) []IntentResult {
	var out []IntentResult
	for _, ir := range p.Intents {
		if ir.Name == IntentNone {
			continue
		}
		if ir.Score != nil && *ir.Score <= threshold {
			continue
		}
		out = append(out, ir)
	}
	return out
}

// FilterEntities returns entities scoring above the threshold.
func (p *Prediction) FilterEntities(threshold float64) []EntityResult {
	var out []EntityResult
	for _, er := range p.Entities {
		if er.Score != nil && *er.Score <= threshold {
			continue
		}
		out = append(out, er)
	}
	return out
}

// AddEntitiesFromContext injects caller-supplied key/value pairs as
// zero-ambiguity entity results. Context-sourced entities never trigger
// follow-up confirmations.
func (p *Prediction) AddEntitiesFromContext(context map[string]any) {
	for k, v := range context {
		p.Entities = append(p.Entities, EntityResult{
			Name:        k,
			Type:        k,
			SlotName:    k,
			Value:       v,
			FromContext: true,
		})
	}
}

// IntentNone is the conventional no-match intent name returned by
// LUIS-style services.
const IntentNone = "None"

// Query describes one understanding request. EntityHandler names the
// post-processor selected by the pending slot, if any; empty selects the
// default passthrough handler.
type Query struct {
	Text          string
	EntityHandler string
}

// Provider converts raw text into a prediction. Implementations are
// selected per bot by name through the registry.
type Provider interface {
	// ProcessQuery understands one utterance. Implementations must apply
	// the entity handler named in the query before returning.
	ProcessQuery(ctx context.Context, q Query) (*Prediction, error)

	// Name returns the provider name (e.g. "keyword", "luis").
	Name() string
}

// TriggeredPrediction synthesizes a prediction for a programmatically
// triggered intent: a single full-confidence intent result, plus any
// context-supplied entities.
func TriggeredPrediction(intentName string, context map[string]any) *Prediction {
	score := 1.0
	p := NewPrediction("", []IntentResult{{Name: intentName, Score: &score}}, nil)
	if len(context) > 0 {
		p.AddEntitiesFromContext(context)
	}
	return p
}

// Float64 returns a pointer to v. Convenience for building scored results.
func Float64(v float64) *float64 { return &v }
