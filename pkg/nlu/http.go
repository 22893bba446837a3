package nlu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPConfig configures a LUIS-style REST provider.
type HTTPConfig struct {
	// URL is the prediction endpoint.
	URL string
	// SubscriptionKey is sent as the subscription-key query parameter.
	SubscriptionKey string
	// Staging selects the staging model slot.
	Staging bool
	// Timeout bounds each prediction call (default 10s).
	Timeout time.Duration
	// Client overrides the HTTP client (used in tests).
	Client *http.Client
}

// HTTPProvider calls a LUIS-style scoring service over HTTP. The response
// is expected to carry ranked intents and typed entities:
//
//	{"query": "...",
//	 "intents": [{"intent": "OrderPizza", "score": 0.97}, ...],
//	 "entities": [{"entity": "large", "type": "size", "score": 0.9,
//	               "resolution": {"values": ["large"]}}, ...]}
type HTTPProvider struct {
	config HTTPConfig
	client *http.Client
}

// Builtin LUIS entity types mapped to slot-friendly names.
var entityTypeAliases = map[string]string{
	"geographyV2":         "address",
	"builtin.personName":  "fullname",
	"builtin.email":       "email",
	"builtin.phonenumber": "phonenumber",
	"personName":          "fullname",
}

// NewHTTPProvider creates an HTTP provider.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.URL == "" {
		return nil, errors.New("nlu http provider: url is required")
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPProvider{config: cfg, client: client}, nil
}

func (p *HTTPProvider) Name() string { return "luis" }

type rawPrediction struct {
	Query   string `json:"query"`
	Intents []struct {
		Intent string   `json:"intent"`
		Score  *float64 `json:"score"`
	} `json:"intents"`
	Entities []struct {
		Entity     string   `json:"entity"`
		Type       string   `json:"type"`
		Score      *float64 `json:"score"`
		Resolution *struct {
			Value  string   `json:"value"`
			Values []string `json:"values"`
		} `json:"resolution"`
	} `json:"entities"`
}

// ProcessQuery calls the scoring service and converts the response.
func (p *HTTPProvider) ProcessQuery(ctx context.Context, q Query) (*Prediction, error) {
	raw, err := p.predict(ctx, q.Text)
	if err != nil {
		return nil, err
	}

	intents := make([]IntentResult, 0, len(raw.Intents))
	for _, ri := range raw.Intents {
		intents = append(intents, IntentResult{Name: ri.Intent, Score: ri.Score})
	}

	entities := make([]EntityResult, 0, len(raw.Entities))
	for _, re := range raw.Entities {
		typ := re.Type
		if alias, ok := entityTypeAliases[typ]; ok {
			typ = alias
		}
		var value any = re.Entity
		if re.Resolution != nil {
			switch {
			case len(re.Resolution.Values) > 0:
				value = re.Resolution.Values[0]
			case re.Resolution.Value != "":
				value = re.Resolution.Value
			}
		}
		entities = append(entities, EntityResult{
			Name:     re.Entity,
			Type:     typ,
			SlotName: typ,
			Value:    value,
			Score:    re.Score,
		})
	}

	handler, err := HandlerFor(q.EntityHandler)
	if err != nil {
		return nil, err
	}
	return NewPrediction(raw.Query, intents, handler.Process(q.Text, entities)), nil
}

func (p *HTTPProvider) predict(ctx context.Context, text string) (*rawPrediction, error) {
	params := url.Values{}
	params.Set("q", text)
	params.Set("subscription-key", p.config.SubscriptionKey)
	if p.config.Staging {
		params.Set("staging", "true")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.URL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("nlu request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nlu call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("nlu read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nlu call returned %d: %s", resp.StatusCode, body)
	}

	var raw rawPrediction
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("nlu decode response: %w", err)
	}
	if raw.Query == "" {
		raw.Query = text
	}
	return &raw, nil
}
