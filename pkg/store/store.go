// Package store persists conversation state between turns: snapshots,
// the per-turn transaction ledger, and fulfillment delivery records.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/chatkit-dev/chatkit/pkg/convo"
)

// ErrNotFound is returned when a conversation has no stored state.
var ErrNotFound = errors.New("not found in store")

// ErrStoreClosed is returned on use after Close.
var ErrStoreClosed = errors.New("store is closed")

// FulfillmentRecord is the audit row for one webhook delivery attempt.
type FulfillmentRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	TransactionID  string    `json:"transaction_id"`
	IntentName     string    `json:"intent_name"`
	URL            string    `json:"url"`
	StatusCode     int       `json:"status_code"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	RequestBody    []byte    `json:"request_body,omitempty"`
	ResponseBody   []byte    `json:"response_body,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store is the persistence backend for conversations. Implementations
// must be safe for concurrent use.
type Store interface {
	// SaveSnapshot upserts the latest state of a conversation.
	SaveSnapshot(ctx context.Context, snap *convo.Snapshot) error
	// LoadSnapshot fetches a conversation's latest state, or ErrNotFound.
	LoadSnapshot(ctx context.Context, conversationID string) (*convo.Snapshot, error)

	// AppendTransaction adds one turn to the conversation's ledger.
	AppendTransaction(ctx context.Context, tx *convo.Transaction) error
	// ListTransactions returns a conversation's turns oldest first.
	ListTransactions(ctx context.Context, conversationID string) ([]*convo.Transaction, error)

	// RecordFulfillment appends one webhook delivery record.
	RecordFulfillment(ctx context.Context, rec *FulfillmentRecord) error
	// ListFulfillments returns a conversation's delivery records oldest first.
	ListFulfillments(ctx context.Context, conversationID string) ([]*FulfillmentRecord, error)

	Close() error
}
