package nlu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerForUnknownName(t *testing.T) {
	_, err := HandlerFor("bogus")
	require.Error(t, err)
}

func TestPassthroughFillsAliases(t *testing.T) {
	out := PassthroughHandler{}.Process("q", []EntityResult{
		{Name: "large", Type: "size"},
		{Name: "pepperoni", Type: "topping", SlotName: "extra", Value: "pepperoni"},
	})

	require.Len(t, out, 2)
	assert.Equal(t, "size", out[0].SlotName)
	assert.Equal(t, "large", out[0].Value)
	assert.Equal(t, "extra", out[1].SlotName)
}

func TestQueryHandlerPrependsRawQuery(t *testing.T) {
	out := QueryHandler{}.Process("deliver it to the back door", []EntityResult{
		{Name: "door", Type: "location"},
	})

	require.Len(t, out, 2)
	assert.Equal(t, "query", out[0].SlotName)
	assert.Equal(t, "deliver it to the back door", out[0].Value)
	assert.Equal(t, "location", out[1].SlotName)
}

func TestAddressHandler(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  map[string]string
	}{
		{
			name:  "full address",
			query: "123 Main St Apt 4 Springfield IL",
			want: map[string]string{
				"address":        "123 Main St 4 Springfield IL",
				"street_address": "123 Main St",
				"street_number":  "123",
				"street_name":    "Main",
				"street_type":    "St",
				"unit_number":    "4",
				"city":           "Springfield",
				"state":          "IL",
			},
		},
		{
			name:  "street only",
			query: "9 Elm Ave",
			want: map[string]string{
				"street_number": "9",
				"street_name":   "Elm",
				"street_type":   "Ave",
			},
		},
		{
			name:  "not an address",
			query: "no numbers here",
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := AddressHandler{}.Process(tt.query, nil)
			got := map[string]string{}
			for _, e := range out {
				if s, ok := e.Value.(string); ok {
					got[e.SlotName] = s
				}
			}
			for slot, want := range tt.want {
				assert.Equal(t, want, got[slot], "slot %s", slot)
			}
			if tt.want == nil {
				assert.Empty(t, out)
			}
		})
	}
}
