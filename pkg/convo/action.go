package convo

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Built-in action names. Actions resolve through the dispatch table built
// in newActionTable; referencing any other name is a configuration error.
const (
	ActionNone                      = "NoAction"
	ActionCancelIntent              = "CancelIntent"
	ActionConfirmCancelIntent       = "ConfirmCancelIntent"
	ActionConfirmSwitchIntent       = "ConfirmSwitchIntent"
	ActionEndConversation           = "EndConversation"
	ActionHelp                      = "Help"
	ActionWhy                       = "Why"
	ActionRemoveIntent              = "RemoveIntent"
	ActionRepeat                    = "Repeat"
	ActionRepeatSlot                = "RepeatSlot"
	ActionRepeatSlotAndRemoveIntent = "RepeatSlotAndRemoveIntent"
	ActionReplaceSlot               = "ReplaceSlot"
	ActionTriggerIntent             = "TriggerIntent"
)

// ErrUnsupportedAction reports an action name with no registered handler.
// This is a broken bot configuration or an orchestrator bug, never a
// user-input problem, so it is surfaced rather than swallowed.
var ErrUnsupportedAction = errors.New("unsupported action")

// Action is a tagged operation the orchestrator can execute: a name plus
// optional parameters. Identity is by name.
type Action struct {
	Name   string            `json:"name" yaml:"name"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// NewAction builds a parameterless action.
func NewAction(name string) Action { return Action{Name: name} }

// IsZero reports whether the action is unset.
func (a Action) IsZero() bool { return a.Name == "" }

func (a Action) String() string {
	if len(a.Params) == 0 {
		return a.Name
	}
	return fmt.Sprintf("%s%v", a.Name, a.Params)
}

// UnmarshalYAML accepts either a bare action name or a {name, params}
// mapping, matching the two config spellings.
func (a *Action) UnmarshalYAML(unmarshal func(any) error) error {
	var name string
	if err := unmarshal(&name); err == nil {
		a.Name = name
		return nil
	}
	var full struct {
		Name   string            `yaml:"name"`
		Params map[string]string `yaml:"params"`
	}
	if err := unmarshal(&full); err != nil {
		return err
	}
	a.Name = full.Name
	a.Params = full.Params
	return nil
}

// UnmarshalJSON accepts the same two spellings as YAML: a bare name or a
// {name, params} object. Fulfillment responses use the JSON forms.
func (a *Action) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		a.Name = name
		return nil
	}
	type alias Action
	var full alias
	if err := json.Unmarshal(data, &full); err != nil {
		return err
	}
	*a = Action(full)
	return nil
}

// ActionMap associates answer keys (entity slot names or intent names)
// with the action each answer triggers.
type ActionMap map[string]Action
