package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatkit-dev/chatkit/pkg/convo"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "chatkit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			snap := &convo.Snapshot{
				ID:           "conv-1",
				Bot:          "pizzabot",
				Pending:      []string{"OrderPizza"},
				ActiveIntent: "OrderPizza",
				QuestionAttempts: map[string]map[string]int{
					"OrderPizza": {"size": 1},
				},
			}
			require.NoError(t, s.SaveSnapshot(ctx, snap))

			got, err := s.LoadSnapshot(ctx, "conv-1")
			require.NoError(t, err)
			assert.Equal(t, "pizzabot", got.Bot)
			assert.Equal(t, []string{"OrderPizza"}, got.Pending)
			assert.Equal(t, 1, got.QuestionAttempts["OrderPizza"]["size"])

			// Saving again overwrites.
			snap.Complete = true
			require.NoError(t, s.SaveSnapshot(ctx, snap))
			got, err = s.LoadSnapshot(ctx, "conv-1")
			require.NoError(t, err)
			assert.True(t, got.Complete)
		})
	}
}

func TestLoadSnapshotNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.LoadSnapshot(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestTransactionLedgerOrder(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var ids []string
			for i := 0; i < 3; i++ {
				tx := convo.NewTransaction("conv-1")
				tx.Input = convo.TextInput("hello")
				ids = append(ids, tx.ID)
				require.NoError(t, s.AppendTransaction(ctx, tx))
			}
			// A different conversation's turns stay out of the listing.
			other := convo.NewTransaction("conv-2")
			require.NoError(t, s.AppendTransaction(ctx, other))

			txs, err := s.ListTransactions(ctx, "conv-1")
			require.NoError(t, err)
			require.Len(t, txs, 3)
			for i, tx := range txs {
				assert.Equal(t, ids[i], tx.ID)
				assert.Equal(t, "hello", tx.Input.Value)
			}
		})
	}
}

func TestFulfillmentRecords(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rec := &FulfillmentRecord{
				ID:             "rec-1",
				ConversationID: "conv-1",
				TransactionID:  "tx-1",
				IntentName:     "OrderPizza",
				URL:            "http://orders.example/pizza",
				StatusCode:     200,
				Status:         "success",
				RequestBody:    []byte(`{"size":"large"}`),
				ResponseBody:   []byte(`{"status":"success"}`),
				CreatedAt:      time.Now(),
			}
			require.NoError(t, s.RecordFulfillment(ctx, rec))

			failed := &FulfillmentRecord{
				ID:             "rec-2",
				ConversationID: "conv-1",
				TransactionID:  "tx-2",
				IntentName:     "OrderPizza",
				URL:            "http://orders.example/pizza",
				Status:         "error",
				Error:          "connection refused",
				CreatedAt:      time.Now().Add(time.Second),
			}
			require.NoError(t, s.RecordFulfillment(ctx, failed))

			recs, err := s.ListFulfillments(ctx, "conv-1")
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, "rec-1", recs[0].ID)
			assert.Equal(t, 200, recs[0].StatusCode)
			assert.JSONEq(t, `{"size":"large"}`, string(recs[0].RequestBody))
			assert.Equal(t, "error", recs[1].Status)
			assert.Equal(t, "connection refused", recs[1].Error)
		})
	}
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.SaveSnapshot(context.Background(), &convo.Snapshot{ID: "x"}), ErrStoreClosed)
	_, err := m.LoadSnapshot(context.Background(), "x")
	assert.ErrorIs(t, err, ErrStoreClosed)
}
