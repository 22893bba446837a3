package convo

import (
	"errors"
	"fmt"

	"github.com/chatkit-dev/chatkit/pkg/nlu"
)

// Framework-level ("common") intent names every bot understands. Cancel,
// Repeat, Help, Why, and the confirmation answers are preemptive: they jump
// ahead of the normal queue and are handled immediately.
const (
	IntentCancel   = "Cancel"
	IntentYes      = "Yes"
	IntentNo       = "No"
	IntentHelp     = "Help"
	IntentRepeat   = "Repeat"
	IntentGreeting = "Greeting"
	IntentUnsure   = "Unsure"
	IntentWhy      = "Why"
)

var commonIntentNames = map[string]bool{
	IntentCancel:   true,
	IntentYes:      true,
	IntentNo:       true,
	IntentHelp:     true,
	IntentRepeat:   true,
	IntentGreeting: true,
	IntentUnsure:   true,
	IntentWhy:      true,
	nlu.IntentNone: true,
}

// IsCommonIntent reports whether name is a framework-level intent.
func IsCommonIntent(name string) bool { return commonIntentNames[name] }

// FulfillmentDef describes an intent's fulfillment webhook.
type FulfillmentDef struct {
	URL string `json:"url" yaml:"url"`
}

// IntentDef is the immutable per-bot definition of a user goal: its
// ordered slots, response templates per lifecycle phase, an optional
// fulfillment webhook, and behavioral flags.
type IntentDef struct {
	Name        string
	Responses   map[ResponseType][]string
	Slots       *OrderedMap[*Slot]
	Fulfillment *FulfillmentDef
	Help        []string
	Why         []string

	Repeatable  bool
	Preemptive  bool
	IsAnswer    bool
	IsGreeting  bool
	IsSmalltalk bool
}

// Validate enforces the structural invariants on an intent definition.
// App intents may not be preemptive: preemption is reserved for framework
// intents and smalltalk.
func (d *IntentDef) Validate() error {
	if d.Name == "" {
		return errors.New("intent name is required")
	}
	if d.IsAppIntent() && d.Preemptive {
		return fmt.Errorf("intent %s: app intents may not be preemptive", d.Name)
	}
	for rt := range d.Responses {
		switch rt {
		case ResponseActive, ResponseDeferred, ResponseResumed:
		default:
			return fmt.Errorf("intent %s: invalid response type %q", d.Name, rt)
		}
	}
	return nil
}

// IsCommon reports whether this is a framework-level intent.
func (d *IntentDef) IsCommon() bool { return IsCommonIntent(d.Name) }

// IsAppIntent reports whether this is a bot-specific intent (neither
// common nor smalltalk).
func (d *IntentDef) IsAppIntent() bool { return !d.IsCommon() && !d.IsSmalltalk }

// Response selects one response text for the given lifecycle phase, or ""
// when none is configured.
func (d *IntentDef) Response(rt ResponseType) string {
	if d.Responses == nil {
		return ""
	}
	return pickPrompt(d.Responses[rt])
}

// RenderHelp returns one of the intent's help texts, or "".
func (d *IntentDef) RenderHelp() string { return pickPrompt(d.Help) }

// RenderWhy returns one of the intent's why texts, or "".
func (d *IntentDef) RenderWhy() string { return pickPrompt(d.Why) }

// SlotCount returns the number of slot definitions.
func (d *IntentDef) SlotCount() int {
	if d.Slots == nil {
		return 0
	}
	return d.Slots.Len()
}

// NewSlotResults creates an empty result container with one entry per
// slot, in definition order.
func (d *IntentDef) NewSlotResults() *OrderedMap[*SlotResult] {
	results := NewOrderedMap[*SlotResult]()
	if d.Slots != nil {
		d.Slots.Range(func(name string, _ *Slot) bool {
			results.Set(name, &SlotResult{Name: name})
			return true
		})
	}
	return results
}

// RemainingSlots returns the slots whose result is still absent, in
// definition order.
func (d *IntentDef) RemainingSlots(results *OrderedMap[*SlotResult]) *OrderedMap[*Slot] {
	remaining := NewOrderedMap[*Slot]()
	if d.Slots == nil {
		return remaining
	}
	d.Slots.Range(func(name string, slot *Slot) bool {
		if r, ok := results.Get(name); !ok || r.Value == nil {
			remaining.Set(name, slot)
		}
		return true
	})
	return remaining
}

// SlotResult holds the runtime value collected for one slot. Value is nil
// until the slot is filled.
type SlotResult struct {
	Name  string            `json:"name"`
	Value *nlu.EntityResult `json:"value,omitempty"`
}
