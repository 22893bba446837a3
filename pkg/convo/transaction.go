package convo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/chatkit-dev/chatkit/pkg/nlu"
)

// ErrAnswerAlreadyExpected reports an attempt to register a second
// simultaneous expected-answer contract on one transaction. That is an
// orchestrator bug or broken configuration, never user input.
var ErrAnswerAlreadyExpected = errors.New("transaction already expects an answer")

// Transaction is the ledger of exactly one turn: its input, accumulated
// output, slots filled, and the expected-answer contract left open for the
// next turn. It is append-only during the turn and immutable once the
// reply is rendered.
type Transaction struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Input          Input           `json:"input"`
	Prediction     *nlu.Prediction `json:"prediction,omitempty"`

	Output      *OrderedMap[string]            `json:"output"`
	SlotsFilled *OrderedMap[*nlu.EntityResult] `json:"slots_filled"`

	// Question is the pending prompt awaiting an answer, if any.
	Question Prompter `json:"-"`
	// QuestionName persists which question was pending.
	QuestionName string `json:"question_name,omitempty"`

	ActiveIntentName     string   `json:"active_intent_name,omitempty"`
	NewIntentNames       []string `json:"new_intent_names,omitempty"`
	AbortedIntentNames   []string `json:"aborted_intent_names,omitempty"`
	CancelledIntentNames []string `json:"cancelled_intent_names,omitempty"`
	CompletedIntentName  string   `json:"completed_intent_name,omitempty"`

	ExpectedEntities ActionMap `json:"expected_entities,omitempty"`
	ExpectedIntents  ActionMap `json:"expected_intents,omitempty"`
	ExpectedText     ActionMap `json:"expected_text,omitempty"`

	// RepeatOfID links back to the transaction this one replays.
	RepeatOfID   string `json:"repeat_of_id,omitempty"`
	RepeatReason string `json:"repeat_reason,omitempty"`
}

// NewTransaction creates an empty turn ledger for a conversation.
func NewTransaction(conversationID string) *Transaction {
	return &Transaction{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Output:         NewOrderedMap[string](),
		SlotsFilled:    NewOrderedMap[*nlu.EntityResult](),
	}
}

// IsRepeat reports whether this turn replayed a prior transaction.
func (t *Transaction) IsRepeat() bool { return t.RepeatOfID != "" }

// AnswerExpectation carries the optional expected-answer contract for
// AddOutput.
type AnswerExpectation struct {
	Entities ActionMap
	Intents  ActionMap
	Text     ActionMap
}

func (e AnswerExpectation) empty() bool {
	return len(e.Entities) == 0 && len(e.Intents) == 0 && len(e.Text) == 0
}

// AddOutput appends a rendered message under key. At most one outstanding
// expected-answer contract may exist per transaction; registering a second
// fails with ErrAnswerAlreadyExpected.
func (t *Transaction) AddOutput(key, text string, expect AnswerExpectation) error {
	if !expect.empty() && t.RequiresAnswer() {
		return fmt.Errorf("%w: cannot add %q", ErrAnswerAlreadyExpected, key)
	}
	t.Output.Set(key, text)
	t.ExpectedEntities = mergeExpectation(t.ExpectedEntities, expect.Entities)
	t.ExpectedIntents = mergeExpectation(t.ExpectedIntents, expect.Intents)
	t.ExpectedText = mergeExpectation(t.ExpectedText, expect.Text)
	return nil
}

// PrependOutput inserts a rendered message before previously-added ones,
// used to inject a greeting ahead of the turn's other messages.
func (t *Transaction) PrependOutput(key, text string) {
	t.Output.Prepend(key, text)
}

func mergeExpectation(current, add ActionMap) ActionMap {
	if len(add) == 0 {
		return current
	}
	return add
}

// RequiresAnswer reports whether any expected-answer field is set.
func (t *Transaction) RequiresAnswer() bool {
	return len(t.ExpectedEntities) > 0 || len(t.ExpectedIntents) > 0 || len(t.ExpectedText) > 0
}

// IsAnswered tests the expected-answer contract against this turn's
// understanding results. An entity satisfies the contract when its
// slot-name alias is an expected-entity key; an intent satisfies it when
// its name is an expected-intent key. Returns the matched action.
func (t *Transaction) IsAnswered(entities []nlu.EntityResult, intents []nlu.IntentResult, input Input) (bool, Action) {
	if !t.RequiresAnswer() {
		return true, Action{}
	}

	for _, entity := range entities {
		if action, ok := t.ExpectedEntities[entity.SlotName]; ok {
			return true, action
		}
	}
	for _, intent := range intents {
		if action, ok := t.ExpectedIntents[intent.Name]; ok {
			return true, action
		}
	}
	if len(t.ExpectedText) > 0 {
		if action, ok := t.ExpectedText[strings.ToLower(strings.TrimSpace(input.Value))]; ok {
			return true, action
		}
	}
	return false, Action{}
}

// CopyFrom clones another transaction's turn state into this one,
// preserving this transaction's identity fields (id, conversation id,
// input, prediction, new-intent list). Used to replay a prior turn.
func (t *Transaction) CopyFrom(other *Transaction) {
	t.Output = NewOrderedMap[string]()
	other.Output.Range(func(k, v string) bool {
		t.Output.Set(k, v)
		return true
	})
	t.SlotsFilled = NewOrderedMap[*nlu.EntityResult]()
	other.SlotsFilled.Range(func(k string, v *nlu.EntityResult) bool {
		t.SlotsFilled.Set(k, v)
		return true
	})

	t.Question = other.Question
	t.QuestionName = other.QuestionName
	t.ActiveIntentName = other.ActiveIntentName
	t.AbortedIntentNames = append([]string(nil), other.AbortedIntentNames...)
	t.CancelledIntentNames = append([]string(nil), other.CancelledIntentNames...)
	t.CompletedIntentName = other.CompletedIntentName
	t.ExpectedEntities = cloneActionMap(other.ExpectedEntities)
	t.ExpectedIntents = cloneActionMap(other.ExpectedIntents)
	t.ExpectedText = cloneActionMap(other.ExpectedText)
}

func cloneActionMap(m ActionMap) ActionMap {
	if m == nil {
		return nil
	}
	out := make(ActionMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SetQuestion records the pending prompt awaiting an answer.
func (t *Transaction) SetQuestion(p Prompter) {
	t.Question = p
	if p != nil {
		t.QuestionName = p.PromptName()
	} else {
		t.QuestionName = ""
	}
}

// RenderOutput joins the turn's messages in order and interpolates
// {placeholder} references from the given context (typically the active
// intent's filled slot values).
func (t *Transaction) RenderOutput(context map[string]any) (string, error) {
	parts := make([]string, 0, t.Output.Len())
	t.Output.Range(func(_, text string) bool {
		if text != "" {
			parts = append(parts, text)
		}
		return true
	})
	joined := strings.Join(parts, " ")
	if !strings.ContainsAny(joined, "{}") {
		return joined, nil
	}
	return interpolate(joined, context)
}

// interpolate replaces {name} placeholders. A placeholder with no context
// value is a template error: prompts must not reference unfilled slots.
func interpolate(text string, context map[string]any) (string, error) {
	var b strings.Builder
	for {
		open := strings.IndexByte(text, '{')
		if open < 0 {
			if strings.IndexByte(text, '}') >= 0 {
				return "", fmt.Errorf("invalid message template, unmatched brace: %q", text)
			}
			b.WriteString(text)
			return b.String(), nil
		}
		closing := strings.IndexByte(text[open:], '}')
		if closing < 0 {
			return "", fmt.Errorf("invalid message template, unmatched brace: %q", text)
		}
		name := text[open+1 : open+closing]
		value, ok := context[name]
		if !ok {
			return "", fmt.Errorf("invalid message template, %q not found in context", name)
		}
		b.WriteString(text[:open])
		fmt.Fprintf(&b, "%v", value)
		text = text[open+closing+1:]
	}
}
