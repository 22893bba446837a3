// Package fulfillment delivers completed-intent payloads to bot webhooks
// and records every delivery attempt for auditing.
package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/chatkit-dev/chatkit/pkg/convo"
	"github.com/chatkit-dev/chatkit/pkg/store"
)

// ErrNoURL is returned when fulfillment is invoked for an intent with no
// webhook configured.
var ErrNoURL = errors.New("no fulfillment url configured")

const maxResponseBytes = 1 << 20

// Recorder persists delivery records. Satisfied by store.Store; nil
// disables recording.
type Recorder interface {
	RecordFulfillment(ctx context.Context, rec *store.FulfillmentRecord) error
}

// Config tunes the webhook client.
type Config struct {
	// Timeout bounds one delivery attempt. Defaults to 10s.
	Timeout time.Duration
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// Client posts fulfillment payloads as JSON and decodes the bot backend's
// response. A transport failure or non-2xx status is returned to the
// caller as an error after being recorded; the orchestrator treats that
// as a degraded completion, not a fatal one.
type Client struct {
	httpClient *http.Client
	recorder   Recorder
	logger     *slog.Logger
}

// NewClient builds a webhook client. recorder may be nil.
func NewClient(cfg Config, recorder Recorder, logger *slog.Logger) *Client {
	httpClient := cfg.Client
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{httpClient: httpClient, recorder: recorder, logger: logger}
}

// Fulfill implements convo.Fulfiller.
func (c *Client) Fulfill(ctx context.Context, req *convo.FulfillmentRequest) (*convo.FulfillmentResponse, error) {
	if req.URL == "" {
		return nil, ErrNoURL
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding fulfillment payload: %w", err)
	}

	rec := &store.FulfillmentRecord{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		TransactionID:  req.TransactionID,
		IntentName:     req.IntentName,
		URL:            req.URL,
		RequestBody:    body,
		CreatedAt:      time.Now(),
	}

	resp, err := c.post(ctx, req.URL, body, rec)
	c.record(ctx, rec)
	return resp, err
}

func (c *Client) post(ctx context.Context, url string, body []byte, rec *store.FulfillmentRecord) (*convo.FulfillmentResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		rec.Status = "error"
		rec.Error = err.Error()
		return nil, fmt.Errorf("building fulfillment request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		rec.Status = "error"
		rec.Error = err.Error()
		return nil, fmt.Errorf("delivering fulfillment to %s: %w", url, err)
	}
	defer httpResp.Body.Close()

	rec.StatusCode = httpResp.StatusCode
	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		rec.Status = "error"
		rec.Error = err.Error()
		return nil, fmt.Errorf("reading fulfillment response: %w", err)
	}
	rec.ResponseBody = respBody

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		rec.Status = "error"
		rec.Error = fmt.Sprintf("unexpected status %d", httpResp.StatusCode)
		return nil, fmt.Errorf("fulfillment endpoint %s returned status %d", url, httpResp.StatusCode)
	}

	var fr convo.FulfillmentResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &fr); err != nil {
			rec.Status = "error"
			rec.Error = err.Error()
			return nil, fmt.Errorf("decoding fulfillment response: %w", err)
		}
	}
	if fr.Status == "" {
		fr.Status = "success"
	}
	rec.Status = fr.Status
	return &fr, nil
}

func (c *Client) record(ctx context.Context, rec *store.FulfillmentRecord) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordFulfillment(ctx, rec); err != nil {
		c.logger.Error("recording fulfillment delivery failed",
			"conversation_id", rec.ConversationID, "intent", rec.IntentName, "error", err)
	}
}
