// Package botconfig loads per-bot YAML configuration and assembles the
// immutable convo.Catalog the orchestrator runs against.
package botconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chatkit-dev/chatkit/pkg/convo"
)

// File is the on-disk shape of one bot's configuration.
type File struct {
	Bot            string                       `yaml:"bot"`
	NLU            NLUConfig                    `yaml:"nlu"`
	Settings       SettingsConfig               `yaml:"settings"`
	Intents        map[string]IntentConfig      `yaml:"intents"`
	Interactions   map[string]InteractionConfig `yaml:"interactions"`
	EntityHandlers map[string]string            `yaml:"entity_handlers"`
}

// NLUConfig selects and configures the bot's NLU provider. Values may
// reference environment variables with ${VAR} syntax; secrets never live
// in the config file itself.
type NLUConfig struct {
	Provider string            `yaml:"provider"`
	Config   map[string]string `yaml:"config"`
}

// SettingsConfig overrides the default turn-algorithm knobs. Absent
// fields keep their defaults.
type SettingsConfig struct {
	IntentThreshold                   *float64 `yaml:"intent_threshold"`
	EntityThreshold                   *float64 `yaml:"entity_threshold"`
	NewIntentLimit                    *int     `yaml:"new_intent_limit"`
	MaxQuestionAttempts               *int     `yaml:"max_question_attempts"`
	MaxConsecutiveInteractionAttempts *int     `yaml:"max_consecutive_interaction_attempts"`
	MaxConsecutiveRepeatAttempts      *int     `yaml:"max_consecutive_repeat_attempts"`
	Smalltalk                         *bool    `yaml:"smalltalk"`
}

// IntentConfig declares one user goal.
type IntentConfig struct {
	Responses   map[string][]string `yaml:"responses"`
	Slots       []SlotConfig        `yaml:"slots"`
	Fulfillment *FulfillmentConfig  `yaml:"fulfillment"`
	Help        []string            `yaml:"help"`
	Why         []string            `yaml:"why"`
	Repeatable  bool                `yaml:"repeatable"`
	Smalltalk   bool                `yaml:"smalltalk"`
}

// FulfillmentConfig points at the webhook called when the intent's slots
// are all filled.
type FulfillmentConfig struct {
	URL string `yaml:"url"`
}

// SlotConfig declares one piece of data an intent collects, in ask order.
type SlotConfig struct {
	Name          string          `yaml:"name"`
	Prompts       []string        `yaml:"prompts"`
	Help          []string        `yaml:"help"`
	Why           []string        `yaml:"why"`
	EntityHandler string          `yaml:"entity_handler"`
	Autofill      bool            `yaml:"autofill"`
	IntentActions convo.ActionMap `yaml:"intent_actions"`
	EntityActions convo.ActionMap `yaml:"entity_actions"`
	FollowUp      *FollowUpConfig `yaml:"follow_up"`
}

// FollowUpConfig declares a confirmation question for a slot. Omitted
// actions get the stock confirmation contract.
type FollowUpConfig struct {
	Prompts       []string        `yaml:"prompts"`
	IntentActions convo.ActionMap `yaml:"intent_actions"`
	EntityActions convo.ActionMap `yaml:"entity_actions"`
}

// InteractionConfig overrides or adds a common interaction. With either
// actions map present it becomes a question; otherwise a plain message,
// optionally carrying an action.
type InteractionConfig struct {
	Prompts       []string        `yaml:"prompts"`
	Help          []string        `yaml:"help"`
	Why           []string        `yaml:"why"`
	IntentActions convo.ActionMap `yaml:"intent_actions"`
	EntityActions convo.ActionMap `yaml:"entity_actions"`
	Action        *convo.Action   `yaml:"action"`
}

// Load reads and parses one bot configuration file. ${VAR} references
// anywhere in the file are expanded from the environment before parsing.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bot config: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(raw))))
}

// Parse parses bot configuration bytes.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing bot config: %w", err)
	}
	if f.Bot == "" {
		return nil, fmt.Errorf("bot config: missing bot name")
	}
	return &f, nil
}

// Catalog assembles and validates the runtime catalog from the parsed
// file.
func (f *File) Catalog() (*convo.Catalog, error) {
	settings := f.settings()

	intents := make(map[string]*convo.IntentDef, len(f.Intents))
	for name, ic := range f.Intents {
		def, err := ic.intentDef(name)
		if err != nil {
			return nil, err
		}
		intents[name] = def
	}

	interactions := make(map[string]convo.Prompter, len(f.Interactions))
	for name, pc := range f.Interactions {
		interactions[name] = pc.prompter(name)
	}

	catalog, err := convo.NewCatalog(f.Bot, intents, interactions, settings)
	if err != nil {
		return nil, fmt.Errorf("bot %s: %w", f.Bot, err)
	}
	for slot, handler := range f.EntityHandlers {
		catalog.EntityHandlers[slot] = handler
	}
	catalog.NLUProvider = f.NLU.Provider
	catalog.NLUConfig = f.NLU.Config
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("bot %s: %w", f.Bot, err)
	}
	return catalog, nil
}

func (f *File) settings() convo.Settings {
	s := convo.DefaultSettings()
	if v := f.Settings.IntentThreshold; v != nil {
		s.IntentThreshold = *v
	}
	if v := f.Settings.EntityThreshold; v != nil {
		s.EntityThreshold = *v
	}
	if v := f.Settings.NewIntentLimit; v != nil {
		s.NewIntentLimit = *v
	}
	if v := f.Settings.MaxQuestionAttempts; v != nil {
		s.MaxQuestionAttempts = *v
	}
	if v := f.Settings.MaxConsecutiveInteractionAttempts; v != nil {
		s.MaxConsecutiveInteractionAttempts = *v
	}
	if v := f.Settings.MaxConsecutiveRepeatAttempts; v != nil {
		s.MaxConsecutiveRepeatAttempts = *v
	}
	if v := f.Settings.Smalltalk; v != nil {
		s.Smalltalk = *v
	}
	return s
}

func (ic IntentConfig) intentDef(name string) (*convo.IntentDef, error) {
	responses := make(map[convo.ResponseType][]string, len(ic.Responses))
	for phase, prompts := range ic.Responses {
		rt := convo.ResponseType(phase)
		switch rt {
		case convo.ResponseActive, convo.ResponseDeferred, convo.ResponseResumed:
			responses[rt] = prompts
		default:
			return nil, fmt.Errorf("intent %s: unknown response phase %q", name, phase)
		}
	}

	slots := convo.NewOrderedMap[*convo.Slot]()
	for _, sc := range ic.Slots {
		if sc.Name == "" {
			return nil, fmt.Errorf("intent %s: slot with no name", name)
		}
		if slots.Has(sc.Name) {
			return nil, fmt.Errorf("intent %s: duplicate slot %s", name, sc.Name)
		}
		slots.Set(sc.Name, sc.slot())
	}

	def := &convo.IntentDef{
		Name:        name,
		Responses:   responses,
		Help:        ic.Help,
		Why:         ic.Why,
		Repeatable:  ic.Repeatable,
		IsSmalltalk: ic.Smalltalk,
		Preemptive:  ic.Smalltalk,
	}
	if slots.Len() > 0 {
		def.Slots = slots
	}
	if ic.Fulfillment != nil {
		def.Fulfillment = &convo.FulfillmentDef{URL: ic.Fulfillment.URL}
	}
	return def, nil
}

func (sc SlotConfig) slot() *convo.Slot {
	slot := convo.NewSlot(sc.Name, sc.Prompts)
	slot.Help = sc.Help
	slot.Why = sc.Why
	slot.EntityHandler = sc.EntityHandler
	slot.Autofill = sc.Autofill
	if len(sc.IntentActions) > 0 {
		slot.IntentActions = sc.IntentActions
	}
	if len(sc.EntityActions) > 0 {
		slot.EntityActions = sc.EntityActions
	}
	if sc.FollowUp != nil {
		fu := convo.NewFollowUp(sc.Name, sc.FollowUp.Prompts, sc.FollowUp.IntentActions)
		if len(sc.FollowUp.EntityActions) > 0 {
			fu.EntityActions = sc.FollowUp.EntityActions
		}
		slot.FollowUp = fu
	}
	return slot
}

func (pc InteractionConfig) prompter(name string) convo.Prompter {
	if len(pc.IntentActions) > 0 || len(pc.EntityActions) > 0 {
		return &convo.Question{
			Name:          name,
			Prompts:       pc.Prompts,
			IntentActions: pc.IntentActions,
			EntityActions: pc.EntityActions,
			Help:          pc.Help,
			Why:           pc.Why,
		}
	}
	m := &convo.Message{Name: name, Prompts: pc.Prompts}
	if pc.Action != nil {
		m.Action = *pc.Action
	}
	return m
}
