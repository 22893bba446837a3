package convo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestActionUnmarshalYAML(t *testing.T) {
	var bare Action
	require.NoError(t, yaml.Unmarshal([]byte(`CancelIntent`), &bare))
	assert.Equal(t, ActionCancelIntent, bare.Name)
	assert.Empty(t, bare.Params)

	var full Action
	require.NoError(t, yaml.Unmarshal([]byte("name: TriggerIntent\nparams:\n  intent_name: OrderPizza\n"), &full))
	assert.Equal(t, ActionTriggerIntent, full.Name)
	assert.Equal(t, "OrderPizza", full.Params["intent_name"])
}

func TestActionUnmarshalJSON(t *testing.T) {
	var bare Action
	require.NoError(t, json.Unmarshal([]byte(`"Repeat"`), &bare))
	assert.Equal(t, ActionRepeat, bare.Name)

	var full Action
	require.NoError(t, json.Unmarshal([]byte(`{"name":"RemoveIntent","params":{"intent_name":"OrderDrink"}}`), &full))
	assert.Equal(t, ActionRemoveIntent, full.Name)
	assert.Equal(t, "OrderDrink", full.Params["intent_name"])
}

func TestActionTableCoversAllNames(t *testing.T) {
	table := newActionTable()
	for _, name := range []string{
		ActionNone,
		ActionCancelIntent,
		ActionConfirmCancelIntent,
		ActionConfirmSwitchIntent,
		ActionEndConversation,
		ActionHelp,
		ActionWhy,
		ActionRemoveIntent,
		ActionRepeat,
		ActionRepeatSlot,
		ActionRepeatSlotAndRemoveIntent,
		ActionReplaceSlot,
		ActionTriggerIntent,
	} {
		assert.Contains(t, table, name)
	}
}

func TestCatalogValidateRejectsUnknownAction(t *testing.T) {
	slot := NewSlot("size", []string{"What size?"})
	slot.EntityActions = ActionMap{"size": NewAction("DoTheImpossible")}
	slots := NewOrderedMap[*Slot]()
	slots.Set("size", slot)

	_, err := NewCatalog("bot", map[string]*IntentDef{
		"OrderPizza": {Slots: slots},
	}, nil, DefaultSettings())
	assert.ErrorIs(t, err, ErrUnsupportedAction)
}

func TestCatalogValidateRejectsPreemptiveAppIntent(t *testing.T) {
	_, err := NewCatalog("bot", map[string]*IntentDef{
		"OrderPizza": {Preemptive: true},
	}, nil, DefaultSettings())
	assert.Error(t, err)
}

func TestCatalogMergesDefaults(t *testing.T) {
	catalog, err := NewCatalog("bot", nil, nil, DefaultSettings())
	require.NoError(t, err)

	for _, name := range []string{IntentCancel, IntentYes, IntentNo, IntentHelp, IntentWhy, IntentRepeat, IntentGreeting, IntentUnsure} {
		assert.Contains(t, catalog.Intents, name)
	}
	for _, name := range []string{
		InteractionFallback, InteractionHelp, InteractionIntentsComplete,
		InteractionIntentAborted, InteractionIntentCanceled, InteractionGoodbye,
	} {
		assert.Contains(t, catalog.Interactions, name)
	}
}

func TestCatalogBotOverridesDefaultInteraction(t *testing.T) {
	catalog, err := NewCatalog("bot", nil, map[string]Prompter{
		InteractionFallback: &Message{Name: InteractionFallback, Prompts: []string{"Come again?"}},
	}, DefaultSettings())
	require.NoError(t, err)

	p, err := catalog.Interaction(InteractionFallback)
	require.NoError(t, err)
	assert.Equal(t, "Come again?", p.RenderPrompt())
}
