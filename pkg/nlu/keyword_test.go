package nlu

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordProviderMatchesRules(t *testing.T) {
	p := NewKeywordProvider([]KeywordRule{
		{Intent: "OrderPizza", Keywords: []string{"pizza", "pie"}},
		{Intent: "StoreHours", Keywords: []string{"open"}, Score: 0.7},
	})

	pred, err := p.ProcessQuery(context.Background(), Query{Text: "A Pizza, and when are you OPEN?"})
	require.NoError(t, err)

	require.Len(t, pred.Intents, 2)
	assert.Equal(t, "OrderPizza", pred.Intents[0].Name)
	assert.Equal(t, 0.9, *pred.Intents[0].Score)
	assert.Equal(t, "StoreHours", pred.Intents[1].Name)
	assert.Equal(t, 0.7, *pred.Intents[1].Score)
}

func TestKeywordProviderNoMatchReturnsNone(t *testing.T) {
	p := NewKeywordProvider(nil)

	pred, err := p.ProcessQuery(context.Background(), Query{Text: "anything"})
	require.NoError(t, err)

	require.Len(t, pred.Intents, 1)
	assert.Equal(t, IntentNone, pred.Intents[0].Name)
}

func TestKeywordProviderEntityPatterns(t *testing.T) {
	p := NewKeywordProvider(nil)
	p.AddEntityPattern(EntityPattern{
		Type:    "size",
		Pattern: regexp.MustCompile(`(small|medium|large)`),
	})
	p.AddEntityPattern(EntityPattern{
		Type:    "quantity",
		Pattern: regexp.MustCompile(`x(\d+)`),
	})

	pred, err := p.ProcessQuery(context.Background(), Query{Text: "large x3"})
	require.NoError(t, err)

	require.Len(t, pred.Entities, 2)
	assert.Equal(t, "size", pred.Entities[0].SlotName)
	assert.Equal(t, "large", pred.Entities[0].Value)
	assert.Equal(t, "3", pred.Entities[1].Value)
}

func TestKeywordProviderAppliesEntityHandler(t *testing.T) {
	p := NewKeywordProvider(nil)

	pred, err := p.ProcessQuery(context.Background(), Query{Text: "anything works", EntityHandler: "query"})
	require.NoError(t, err)

	require.NotEmpty(t, pred.Entities)
	assert.Equal(t, "query", pred.Entities[0].SlotName)
	assert.Equal(t, "anything works", pred.Entities[0].Value)
}

func TestKeywordProviderUnknownHandlerErrors(t *testing.T) {
	p := NewKeywordProvider(nil)

	_, err := p.ProcessQuery(context.Background(), Query{Text: "x", EntityHandler: "nope"})
	require.Error(t, err)
}
