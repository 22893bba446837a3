package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/chatkit-dev/chatkit/pkg/convo"
)

// Memory is an in-process Store for tests and single-node deployments
// that do not need durability.
type Memory struct {
	mu           sync.RWMutex
	closed       bool
	snapshots    map[string]*convo.Snapshot
	transactions map[string][]*convo.Transaction
	fulfillments map[string][]*FulfillmentRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		snapshots:    make(map[string]*convo.Snapshot),
		transactions: make(map[string][]*convo.Transaction),
		fulfillments: make(map[string][]*FulfillmentRecord),
	}
}

func (m *Memory) SaveSnapshot(_ context.Context, snap *convo.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.snapshots[snap.ID] = snap
	return nil
}

func (m *Memory) LoadSnapshot(_ context.Context, conversationID string) (*convo.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	snap, ok := m.snapshots[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	return snap, nil
}

func (m *Memory) AppendTransaction(_ context.Context, tx *convo.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.transactions[tx.ConversationID] = append(m.transactions[tx.ConversationID], tx)
	return nil
}

func (m *Memory) ListTransactions(_ context.Context, conversationID string) ([]*convo.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	txs := m.transactions[conversationID]
	out := make([]*convo.Transaction, len(txs))
	copy(out, txs)
	return out, nil
}

func (m *Memory) RecordFulfillment(_ context.Context, rec *FulfillmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.fulfillments[rec.ConversationID] = append(m.fulfillments[rec.ConversationID], rec)
	return nil
}

func (m *Memory) ListFulfillments(_ context.Context, conversationID string) ([]*FulfillmentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	recs := m.fulfillments[conversationID]
	out := make([]*FulfillmentRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
