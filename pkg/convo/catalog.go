package convo

import (
	"fmt"

	"github.com/chatkit-dev/chatkit/pkg/nlu"
)

// Names of the common interactions every bot carries. Bots may override
// any of them in configuration.
const (
	InteractionFallback        = "fallback"
	InteractionHelp            = "help"
	InteractionWhy             = "why"
	InteractionIntentsComplete = "intents_complete"
	InteractionIntentAborted   = "intent_aborted"
	InteractionIntentCanceled  = "intent_canceled"
	InteractionIntentSwitch    = "intent_switch"
	InteractionRepeatExhausted = "repeat_exhausted"
	InteractionGoodbye         = "goodbye"
	InteractionInitialPrompt   = "initial_prompt"
	InteractionSmalltalkOff    = "smalltalk_disabled"
)

// Settings are the per-bot turn-algorithm knobs.
type Settings struct {
	// IntentThreshold drops intent results at or below this score.
	IntentThreshold float64
	// EntityThreshold drops entity results at or below this score.
	EntityThreshold float64
	// NewIntentLimit caps new intents considered per turn.
	NewIntentLimit int
	// MaxQuestionAttempts bounds how often one (intent, question) pair may
	// be asked before the intent is aborted.
	MaxQuestionAttempts int
	// MaxConsecutiveInteractionAttempts bounds consecutive emissions of
	// the same interaction (fallbacks, help) before degrading.
	MaxConsecutiveInteractionAttempts int
	// MaxConsecutiveRepeatAttempts bounds consecutive user-requested
	// repeats before "repeat exhausted".
	MaxConsecutiveRepeatAttempts int
	// Smalltalk enables rendering of smalltalk intents.
	Smalltalk bool
}

// DefaultSettings mirror the stock bot configuration.
func DefaultSettings() Settings {
	return Settings{
		IntentThreshold:                   0.50,
		EntityThreshold:                   0.50,
		NewIntentLimit:                    2,
		MaxQuestionAttempts:               2,
		MaxConsecutiveInteractionAttempts: 2,
		MaxConsecutiveRepeatAttempts:      2,
	}
}

// Catalog is the immutable per-bot catalog of intents and interactions.
// It is constructed once from validated configuration and passed into
// every Conversation at creation time; there is no ambient global lookup.
type Catalog struct {
	Bot            string
	Intents        map[string]*IntentDef
	Interactions   map[string]Prompter
	EntityHandlers map[string]string
	NLUProvider    string
	NLUConfig      map[string]string
	Settings       Settings
}

// NewCatalog builds a catalog, merging the built-in common intents and
// interactions underneath the bot's own definitions, and validates it.
func NewCatalog(bot string, intents map[string]*IntentDef, interactions map[string]Prompter, settings Settings) (*Catalog, error) {
	merged := defaultIntents()
	for name, def := range intents {
		def.Name = name
		merged[name] = def
	}

	mergedInteractions := defaultInteractions()
	for name, p := range interactions {
		mergedInteractions[name] = p
	}

	c := &Catalog{
		Bot:            bot,
		Intents:        merged,
		Interactions:   mergedInteractions,
		EntityHandlers: map[string]string{"address": "address", "street_address": "address"},
		Settings:       settings,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Intent returns the named intent definition.
func (c *Catalog) Intent(name string) (*IntentDef, error) {
	def, ok := c.Intents[name]
	if !ok {
		return nil, fmt.Errorf("invalid intent name: %s", name)
	}
	return def, nil
}

// SlotEntityHandler resolves the entity handler for a slot. A slot that
// names no handler falls back to the catalog's slot-name mapping, so an
// "address" slot gets address decomposition without per-slot wiring.
func (c *Catalog) SlotEntityHandler(slot *Slot) string {
	if slot.EntityHandler != "" {
		return slot.EntityHandler
	}
	return c.EntityHandlers[slot.Name]
}

// Interaction returns the named interaction.
func (c *Catalog) Interaction(name string) (Prompter, error) {
	p, ok := c.Interactions[name]
	if !ok {
		return nil, fmt.Errorf("invalid interaction name: %s", name)
	}
	return p, nil
}

// Validate checks every intent, interaction, and referenced action or
// entity handler. A failure here is a broken bot configuration.
func (c *Catalog) Validate() error {
	table := newActionTable()

	checkActions := func(owner string, maps ...ActionMap) error {
		for _, am := range maps {
			for key, action := range am {
				if _, ok := table[action.Name]; !ok {
					return fmt.Errorf("%s: answer %q references %w: %s", owner, key, ErrUnsupportedAction, action.Name)
				}
			}
		}
		return nil
	}

	for name, def := range c.Intents {
		if def.Name != name {
			return fmt.Errorf("intent %s: definition named %s", name, def.Name)
		}
		if err := def.Validate(); err != nil {
			return err
		}
		if def.Slots == nil {
			continue
		}
		var slotErr error
		def.Slots.Range(func(slotName string, slot *Slot) bool {
			if slot.EntityHandler != "" {
				if _, err := nlu.HandlerFor(slot.EntityHandler); err != nil {
					slotErr = fmt.Errorf("intent %s slot %s: %w", name, slotName, err)
					return false
				}
			}
			if err := checkActions(fmt.Sprintf("intent %s slot %s", name, slotName), slot.EntityActions, slot.IntentActions); err != nil {
				slotErr = err
				return false
			}
			if slot.FollowUp != nil {
				if err := checkActions(fmt.Sprintf("intent %s slot %s follow-up", name, slotName), slot.FollowUp.EntityActions, slot.FollowUp.IntentActions); err != nil {
					slotErr = err
					return false
				}
			}
			return true
		})
		if slotErr != nil {
			return slotErr
		}
	}

	for name, p := range c.Interactions {
		if q, ok := p.(*Question); ok {
			if err := checkActions("interaction "+name, q.EntityActions, q.IntentActions); err != nil {
				return err
			}
		}
		if m, ok := p.(*Message); ok && !m.Action.IsZero() {
			if _, known := table[m.Action.Name]; !known {
				return fmt.Errorf("interaction %s: %w: %s", name, ErrUnsupportedAction, m.Action.Name)
			}
		}
	}

	for slotName, handler := range c.EntityHandlers {
		if _, err := nlu.HandlerFor(handler); err != nil {
			return fmt.Errorf("entity handler for %s: %w", slotName, err)
		}
	}
	return nil
}

func defaultIntents() map[string]*IntentDef {
	preemptive := func(name string, isAnswer bool) *IntentDef {
		return &IntentDef{Name: name, Repeatable: true, Preemptive: true, IsAnswer: isAnswer}
	}
	return map[string]*IntentDef{
		IntentCancel: preemptive(IntentCancel, false),
		IntentYes:    preemptive(IntentYes, true),
		IntentNo:     preemptive(IntentNo, true),
		IntentHelp:   preemptive(IntentHelp, false),
		IntentWhy:    preemptive(IntentWhy, false),
		IntentRepeat: preemptive(IntentRepeat, false),
		IntentUnsure: preemptive(IntentUnsure, true),
		IntentGreeting: {
			Name:       IntentGreeting,
			IsGreeting: true,
			Responses: map[ResponseType][]string{
				ResponseActive: {"Hi! How can I help you today?"},
			},
		},
	}
}

func defaultInteractions() map[string]Prompter {
	return map[string]Prompter{
		InteractionFallback: &Message{
			Name:    InteractionFallback,
			Prompts: []string{"Sorry, I didn't get that."},
		},
		InteractionHelp: &Message{
			Name:    InteractionHelp,
			Prompts: []string{"You can ask me for help at any point, or say Cancel to stop."},
		},
		InteractionWhy: &Message{
			Name:    InteractionWhy,
			Prompts: []string{"I ask questions so I can complete your request."},
		},
		InteractionInitialPrompt: &Message{
			Name:    InteractionInitialPrompt,
			Prompts: []string{"What can I do for you?"},
		},
		InteractionIntentsComplete: &Question{
			Name:    InteractionIntentsComplete,
			Prompts: []string{"Is there anything else I can help you with today?"},
			IntentActions: ActionMap{
				IntentYes: NewAction(ActionNone),
				IntentNo:  NewAction(ActionEndConversation),
			},
		},
		InteractionIntentAborted: &Message{
			Name:    InteractionIntentAborted,
			Prompts: []string{"I'm sorry, I'm unable to help you with that at this time."},
		},
		InteractionIntentCanceled: &Question{
			Name:    InteractionIntentCanceled,
			Prompts: []string{"Are you sure you want to cancel the current request?"},
			IntentActions: ActionMap{
				IntentYes: NewAction(ActionCancelIntent),
				IntentNo:  NewAction(ActionNone),
			},
		},
		InteractionIntentSwitch: &Question{
			Name:    InteractionIntentSwitch,
			Prompts: []string{"Do you want to switch to the new request and abandon the current one?"},
			IntentActions: ActionMap{
				IntentYes: NewAction(ActionCancelIntent),
				IntentNo:  NewAction(ActionNone),
			},
		},
		InteractionRepeatExhausted: &Message{
			Name:    InteractionRepeatExhausted,
			Prompts: []string{"I've already repeated that a few times. Let's try something else."},
		},
		InteractionGoodbye: &Message{
			Name:    InteractionGoodbye,
			Prompts: []string{"Thanks. Have a nice day!"},
		},
		InteractionSmalltalkOff: &Message{
			Name:    InteractionSmalltalkOff,
			Prompts: []string{"Let's stick to what I can help with."},
		},
	}
}
