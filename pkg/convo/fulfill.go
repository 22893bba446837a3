package convo

import (
	"context"
	"encoding/json"
)

// FulfillmentRequest is the payload POSTed to an intent's fulfillment
// webhook when all of its slots are filled.
type FulfillmentRequest struct {
	URL            string         `json:"-"`
	ConversationID string         `json:"conversation_id"`
	TransactionID  string         `json:"transaction_id"`
	IntentName     string         `json:"intent_name"`
	Context        map[string]any `json:"context,omitempty"`
	SlotData       map[string]any `json:"slot_data"`
}

// FulfillmentResponse is the webhook's reply. The optional interaction is
// spoken to the user; the optional action is applied to the turn (e.g.
// TriggerIntent or EndConversation).
type FulfillmentResponse struct {
	Status       string       `json:"status"`
	StatusReason string       `json:"status_reason,omitempty"`
	Interaction  *Interaction `json:"interaction,omitempty"`
	Action       Action       `json:"action,omitempty"`
}

// Success reports whether the webhook accepted the fulfillment.
func (r *FulfillmentResponse) Success() bool { return r.Status == "success" }

// Interaction is a webhook-supplied message, optionally expecting an
// answer. A bare JSON string is shorthand for a single plain prompt.
type Interaction struct {
	Messages      []string  `json:"messages"`
	IntentActions ActionMap `json:"intent_actions,omitempty"`
	EntityActions ActionMap `json:"entity_actions,omitempty"`
}

// UnmarshalJSON accepts either a bare string or the structured form.
func (i *Interaction) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		i.Messages = []string{text}
		return nil
	}
	type alias Interaction
	var full alias
	if err := json.Unmarshal(data, &full); err != nil {
		return err
	}
	*i = Interaction(full)
	return nil
}

// RequiresAnswer reports whether the interaction expects an answer.
func (i *Interaction) RequiresAnswer() bool {
	return len(i.IntentActions) > 0 || len(i.EntityActions) > 0
}

// Fulfiller invokes fulfillment webhooks. Implementations record every
// delivery outcome, including transport failures, before returning.
type Fulfiller interface {
	Fulfill(ctx context.Context, req *FulfillmentRequest) (*FulfillmentResponse, error)
}
