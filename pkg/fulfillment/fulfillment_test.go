package fulfillment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatkit-dev/chatkit/pkg/convo"
	"github.com/chatkit-dev/chatkit/pkg/store"
)

func request(url string) *convo.FulfillmentRequest {
	return &convo.FulfillmentRequest{
		URL:            url,
		ConversationID: "conv-1",
		TransactionID:  "tx-1",
		IntentName:     "OrderPizza",
		SlotData:       map[string]any{"size": "large", "topping": "mushroom"},
	}
}

func TestFulfillPostsSlotData(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","interaction":"Your pizza is on its way!"}`))
	}))
	defer srv.Close()

	recorder := store.NewMemory()
	client := NewClient(Config{}, recorder, nil)

	resp, err := client.Fulfill(context.Background(), request(srv.URL))
	require.NoError(t, err)
	assert.True(t, resp.Success())
	require.NotNil(t, resp.Interaction)
	assert.Equal(t, []string{"Your pizza is on its way!"}, resp.Interaction.Messages)

	assert.Equal(t, "OrderPizza", received["intent_name"])
	slotData, ok := received["slot_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "large", slotData["size"])

	recs, err := recorder.ListFulfillments(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "success", recs[0].Status)
	assert.Equal(t, http.StatusOK, recs[0].StatusCode)
}

func TestFulfillEmptyBodyMeansSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(Config{}, nil, nil)
	resp, err := client.Fulfill(context.Background(), request(srv.URL))
	require.NoError(t, err)
	assert.True(t, resp.Success())
	assert.Nil(t, resp.Interaction)
}

func TestFulfillNon2xxRecordedAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	recorder := store.NewMemory()
	client := NewClient(Config{}, recorder, nil)

	_, err := client.Fulfill(context.Background(), request(srv.URL))
	assert.Error(t, err)

	recs, err := recorder.ListFulfillments(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "error", recs[0].Status)
	assert.Equal(t, http.StatusInternalServerError, recs[0].StatusCode)
}

func TestFulfillConnectionFailureRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	recorder := store.NewMemory()
	client := NewClient(Config{}, recorder, nil)

	_, err := client.Fulfill(context.Background(), request(url))
	assert.Error(t, err)

	recs, err := recorder.ListFulfillments(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "error", recs[0].Status)
	assert.NotEmpty(t, recs[0].Error)
	assert.Zero(t, recs[0].StatusCode)
}

func TestFulfillRequiresURL(t *testing.T) {
	client := NewClient(Config{}, nil, nil)
	req := request("")
	_, err := client.Fulfill(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoURL)
}

func TestFulfillResponseActionAndContract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{
			"status": "success",
			"interaction": {
				"messages": ["Want a drink with that?"],
				"intent_actions": {"Yes": {"name": "TriggerIntent", "params": {"intent_name": "OrderDrink"}}, "No": "NoAction"}
			}
		}`))
	}))
	defer srv.Close()

	client := NewClient(Config{}, nil, nil)
	resp, err := client.Fulfill(context.Background(), request(srv.URL))
	require.NoError(t, err)
	require.NotNil(t, resp.Interaction)
	assert.True(t, resp.Interaction.RequiresAnswer())
	assert.Equal(t, convo.ActionTriggerIntent, resp.Interaction.IntentActions["Yes"].Name)
	assert.Equal(t, "OrderDrink", resp.Interaction.IntentActions["Yes"].Params["intent_name"])
}
