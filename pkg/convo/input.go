package convo

import (
	"encoding/json"
	"fmt"
)

// InputType discriminates the three ways a turn can be driven.
type InputType string

const (
	// InputText is a free-text user utterance, sent to the NLU provider.
	InputText InputType = "text"
	// InputIntent programmatically triggers a named intent, optionally
	// pre-filling slots from a context map.
	InputIntent InputType = "intent"
	// InputAction dispatches a named action directly, skipping NLU.
	InputAction InputType = "action"
)

// Input is one turn's input.
type Input struct {
	Type    InputType      `json:"type"`
	Value   string         `json:"value"`
	Context map[string]any `json:"context,omitempty"`
}

// TextInput builds a free-text input.
func TextInput(text string) Input { return Input{Type: InputText, Value: text} }

// IntentInput builds a triggered-intent input.
func IntentInput(name string, context map[string]any) Input {
	return Input{Type: InputIntent, Value: name, Context: context}
}

// ActionInput builds a direct-action input.
func ActionInput(name string) Input { return Input{Type: InputAction, Value: name} }

// Validate checks the input discriminator.
func (in Input) Validate() error {
	switch in.Type {
	case InputText, InputIntent, InputAction:
		return nil
	}
	return fmt.Errorf("invalid input type: %q", in.Type)
}

// UnmarshalJSON accepts either a bare string (treated as text input) or
// the structured {type, value, context} form.
func (in *Input) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		in.Type = InputText
		in.Value = text
		return nil
	}
	type alias Input
	var full alias
	if err := json.Unmarshal(data, &full); err != nil {
		return err
	}
	*in = Input(full)
	return in.Validate()
}
