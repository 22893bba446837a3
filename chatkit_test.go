package chatkit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatkit-dev/chatkit/pkg/botconfig"
	"github.com/chatkit-dev/chatkit/pkg/convo"
	"github.com/chatkit-dev/chatkit/pkg/nlu"
	"github.com/chatkit-dev/chatkit/pkg/store"
)

const botYAML = `
bot: coffeebot
nlu:
  provider: keyword
intents:
  OrderCoffee:
    responses:
      Active: ["Let's get your coffee ordered."]
      Resumed: ["Back to your coffee."]
      Deferred: ["I'll queue the coffee order."]
    slots:
      - name: roast
        prompts: ["Which roast would you like?"]
    fulfillment:
      url: "%s"
  StoreHours:
    responses:
      Active: ["We're open 7am to 7pm."]
`

// scripted returns canned predictions per utterance and "None" otherwise.
type scripted struct {
	mu    sync.Mutex
	preds map[string]*nlu.Prediction
	calls int
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) ProcessQuery(ctx context.Context, q nlu.Query) (*nlu.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if p, ok := s.preds[q.Text]; ok {
		return p, nil
	}
	return nlu.NewPrediction(q.Text, []nlu.IntentResult{{Name: nlu.IntentNone, Score: nlu.Float64(1)}}, nil), nil
}

func coffeeProvider() *scripted {
	return &scripted{preds: map[string]*nlu.Prediction{
		"a coffee please": nlu.NewPrediction("a coffee please",
			[]nlu.IntentResult{{Name: "OrderCoffee", Score: nlu.Float64(0.95)}}, nil),
		"dark roast": nlu.NewPrediction("dark roast",
			[]nlu.IntentResult{{Name: nlu.IntentNone, Score: nlu.Float64(1)}},
			[]nlu.EntityResult{{Name: "dark", Type: "roast", SlotName: "roast", Value: "dark", Score: nlu.Float64(0.9)}}),
		"when are you open": nlu.NewPrediction("when are you open",
			[]nlu.IntentResult{{Name: "StoreHours", Score: nlu.Float64(0.9)}}, nil),
	}}
}

func testBot(t *testing.T, fulfillURL string, opts ...Option) *Bot {
	t.Helper()
	if fulfillURL == "" {
		fulfillURL = "http://127.0.0.1:0/unused"
	}
	file, err := botconfig.Parse([]byte(fmt.Sprintf(botYAML, fulfillURL)))
	require.NoError(t, err)
	catalog, err := file.Catalog()
	require.NoError(t, err)
	opts = append([]Option{WithProvider(coffeeProvider())}, opts...)
	bot, err := NewBot(catalog, nil, nil, opts...)
	require.NoError(t, err)
	return bot
}

func TestConverseFirstTurnGreetsAndAsksSlot(t *testing.T) {
	bot := testBot(t, "")

	reply, err := bot.Converse(context.Background(), "", convo.TextInput("a coffee please"))
	require.NoError(t, err)

	assert.NotEmpty(t, reply.ConversationID)
	assert.NotEmpty(t, reply.TransactionID)
	assert.Equal(t, "OrderCoffee", reply.ActiveIntent)
	assert.True(t, reply.RequiresAnswer)
	assert.False(t, reply.Complete)
	assert.Contains(t, reply.Message, "Which roast would you like?")
}

func TestConverseCompletesIntentAndDeliversFulfillment(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	bot := testBot(t, srv.URL)
	ctx := context.Background()

	first, err := bot.Converse(ctx, "", convo.TextInput("a coffee please"))
	require.NoError(t, err)

	second, err := bot.Converse(ctx, first.ConversationID, convo.TextInput("dark roast"))
	require.NoError(t, err)

	assert.Equal(t, "OrderCoffee", second.CompletedIntent)
	assert.Empty(t, second.ActiveIntent)

	require.NotNil(t, body)
	slotData, ok := body["slot_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "dark", slotData["roast"])

	records, err := bot.Fulfillments(ctx, first.ConversationID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "success", records[0].Status)
	assert.Equal(t, "OrderCoffee", records[0].IntentName)
}

func TestConverseGeneratesDistinctConversations(t *testing.T) {
	bot := testBot(t, "")
	ctx := context.Background()

	a, err := bot.Converse(ctx, "", convo.TextInput("when are you open"))
	require.NoError(t, err)
	b, err := bot.Converse(ctx, "", convo.TextInput("when are you open"))
	require.NoError(t, err)

	assert.NotEqual(t, a.ConversationID, b.ConversationID)
}

func TestConverseResumesFromStore(t *testing.T) {
	backing := store.NewMemory()
	ctx := context.Background()

	first := testBot(t, "", WithStore(backing))
	reply, err := first.Converse(ctx, "", convo.TextInput("a coffee please"))
	require.NoError(t, err)
	require.Equal(t, "OrderCoffee", reply.ActiveIntent)

	// A fresh bot over the same store stands in for a restarted process.
	second := testBot(t, "", WithStore(backing))
	resumed, err := second.Converse(ctx, reply.ConversationID, convo.TextInput("dark roast"))
	require.NoError(t, err)

	assert.Equal(t, reply.ConversationID, resumed.ConversationID)
	assert.Equal(t, "OrderCoffee", resumed.CompletedIntent)
}

func TestConverseAfterCompletionErrors(t *testing.T) {
	bot := testBot(t, "")
	ctx := context.Background()

	reply, err := bot.Converse(ctx, "", convo.ActionInput("EndConversation"))
	require.NoError(t, err)
	assert.True(t, reply.Complete)

	// The conversation was evicted on completion; resuming it reloads the
	// snapshot, and the next turn reports the conversation as over.
	_, err = bot.Converse(ctx, reply.ConversationID, convo.TextInput("hello"))
	require.Error(t, err)
	assert.ErrorIs(t, err, convo.ErrConversationComplete)
}

func TestHistoryRecordsEveryTurn(t *testing.T) {
	bot := testBot(t, "")
	ctx := context.Background()

	first, err := bot.Converse(ctx, "", convo.TextInput("a coffee please"))
	require.NoError(t, err)
	_, err = bot.Converse(ctx, first.ConversationID, convo.TextInput("dark roast"))
	require.NoError(t, err)

	txs, err := bot.History(ctx, first.ConversationID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, first.TransactionID, txs[0].ID)
}

func TestTriggeredIntentInput(t *testing.T) {
	bot := testBot(t, "")
	ctx := context.Background()

	reply, err := bot.Converse(ctx, "", convo.IntentInput("OrderCoffee", map[string]any{"roast": "medium"}))
	require.NoError(t, err)

	assert.Equal(t, "OrderCoffee", reply.CompletedIntent)
	assert.False(t, reply.RequiresAnswer)
}
