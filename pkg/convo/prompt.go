package convo

import (
	"math/rand"
)

// ResponseType classifies an intent's lifecycle phase for response
// selection.
type ResponseType string

const (
	// ResponseActive is the first exposure of an intent.
	ResponseActive ResponseType = "Active"
	// ResponseDeferred marks an intent queued behind another.
	ResponseDeferred ResponseType = "Deferred"
	// ResponseResumed marks a queued intent promoted after another completed.
	ResponseResumed ResponseType = "Resumed"
)

// Prompter is the closed set of things a bot can say: a plain Message, a
// Question expecting an answer, a Slot prompting for data, or a FollowUp
// confirming a filled slot.
type Prompter interface {
	// PromptName identifies the message within its catalog.
	PromptName() string
	// RenderPrompt selects one of the configured prompt variants.
	RenderPrompt() string
	// ExpectedAnswer returns the entity and intent answer contracts, both
	// nil for messages that expect no answer.
	ExpectedAnswer() (entities ActionMap, intents ActionMap)
}

// Message is a plain statement with no expected answer. It may carry an
// action applied when the message is emitted (e.g. ending the
// conversation after a goodbye).
type Message struct {
	Name    string   `json:"name"`
	Prompts []string `json:"prompts"`
	Action  Action   `json:"action,omitempty"`
}

func (m *Message) PromptName() string { return m.Name }

func (m *Message) RenderPrompt() string {
	return pickPrompt(m.Prompts)
}

func (m *Message) ExpectedAnswer() (ActionMap, ActionMap) { return nil, nil }

// Question expects an answer matched against entity or intent results.
type Question struct {
	Name          string    `json:"name"`
	Prompts       []string  `json:"prompts"`
	IntentActions ActionMap `json:"intent_actions,omitempty"`
	EntityActions ActionMap `json:"entity_actions,omitempty"`
	Help          []string  `json:"help,omitempty"`
	Why           []string  `json:"why,omitempty"`
}

func (q *Question) PromptName() string { return q.Name }

func (q *Question) RenderPrompt() string {
	return pickPrompt(q.Prompts)
}

func (q *Question) ExpectedAnswer() (ActionMap, ActionMap) {
	return q.EntityActions, q.IntentActions
}

// RenderHelp returns one of the question's help texts, or "".
func (q *Question) RenderHelp() string { return pickPrompt(q.Help) }

// RenderWhy returns one of the question's why texts, or "".
func (q *Question) RenderWhy() string { return pickPrompt(q.Why) }

// Slot prompts for one piece of data an intent needs. Its entity contract
// implicitly accepts the slot's own entity; a follow-up, when present,
// additionally grants that entity a ReplaceSlot action so "no, it's X"
// corrections re-fill the slot.
type Slot struct {
	Question
	EntityHandler string    `json:"entity_handler,omitempty"`
	FollowUp      *FollowUp `json:"follow_up,omitempty"`
	Autofill      bool      `json:"autofill,omitempty"`
}

// NewSlot constructs a slot whose entity contract accepts its own name.
func NewSlot(name string, prompts []string) *Slot {
	return &Slot{
		Question: Question{
			Name:          name,
			Prompts:       prompts,
			EntityActions: ActionMap{name: NewAction(ActionNone)},
		},
	}
}

// FollowUp is a confirmation question attached to a slot, asked right
// after the slot is filled.
type FollowUp struct {
	Question
}

// NewFollowUp constructs a slot's follow-up with the default confirmation
// contract: Yes keeps the value, No clears and re-asks, and re-supplying
// the slot's entity replaces the value directly.
func NewFollowUp(slotName string, prompts []string, intentActions ActionMap) *FollowUp {
	if intentActions == nil {
		intentActions = ActionMap{
			IntentYes: NewAction(ActionNone),
			IntentNo:  NewAction(ActionRepeatSlot),
		}
	}
	return &FollowUp{
		Question: Question{
			Name:          slotName + "_follow_up",
			Prompts:       prompts,
			IntentActions: intentActions,
			EntityActions: ActionMap{slotName: NewAction(ActionReplaceSlot)},
		},
	}
}

func pickPrompt(prompts []string) string {
	switch len(prompts) {
	case 0:
		return ""
	case 1:
		return prompts[0]
	}
	return prompts[rand.Intn(len(prompts))]
}
