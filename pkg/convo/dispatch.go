package convo

import (
	"context"
	"fmt"

	"github.com/chatkit-dev/chatkit/pkg/nlu"
)

// actionHandler executes one built-in action against a conversation
// mid-turn. skipMessages suppresses the action's own messaging when the
// caller already rendered one, e.g. a fulfillment interaction followed by
// EndConversation.
type actionHandler func(c *Conversation, ctx context.Context, tx *Transaction, action Action, entities []nlu.EntityResult, skipMessages bool) error

// newActionTable builds the closed dispatch table. Every action name a
// bot configuration may reference must resolve here; Catalog.Validate
// checks configured actions against this table at load time so typos
// fail fast instead of mid-conversation.
func newActionTable() map[string]actionHandler {
	return map[string]actionHandler{
		ActionNone: func(c *Conversation, ctx context.Context, tx *Transaction, a Action, entities []nlu.EntityResult, skip bool) error {
			return nil
		},
		ActionCancelIntent: func(c *Conversation, ctx context.Context, tx *Transaction, a Action, entities []nlu.EntityResult, skip bool) error {
			c.cancelActiveIntent(tx)
			return nil
		},
		ActionConfirmCancelIntent: func(c *Conversation, ctx context.Context, tx *Transaction, a Action, entities []nlu.EntityResult, skip bool) error {
			return c.addInteraction(ctx, tx, InteractionIntentCanceled)
		},
		ActionConfirmSwitchIntent: func(c *Conversation, ctx context.Context, tx *Transaction, a Action, entities []nlu.EntityResult, skip bool) error {
			return c.addInteraction(ctx, tx, InteractionIntentSwitch)
		},
		ActionEndConversation: func(c *Conversation, ctx context.Context, tx *Transaction, a Action, entities []nlu.EntityResult, skip bool) error {
			c.Complete = true
			c.logger.Info("conversation ended")
			if skip {
				return nil
			}
			return c.addInteraction(ctx, tx, InteractionGoodbye)
		},
		ActionHelp: func(c *Conversation, ctx context.Context, tx *Transaction, a Action, entities []nlu.EntityResult, skip bool) error {
			return c.handleHelpWhy(ctx, tx, false)
		},
		ActionWhy: func(c *Conversation, ctx context.Context, tx *Transaction, a Action, entities []nlu.EntityResult, skip bool) error {
			return c.handleHelpWhy(ctx, tx, true)
		},
		ActionRemoveIntent: func(c *Conversation, ctx context.Context, tx *Transaction, a Action, entities []nlu.EntityResult, skip bool) error {
			return c.removeIntentByName(a.Params["intent_name"])
		},
		ActionRepeat: func(c *Conversation, ctx context.Context, tx *Transaction, a Action, entities []nlu.EntityResult, skip bool) error {
			return c.handleRepeat(ctx, tx)
		},
		ActionRepeatSlot: func(c *Conversation, ctx context.Context, tx *Transaction, a Action, entities []nlu.EntityResult, skip bool) error {
			return c.repeatLastSlots()
		},
		ActionRepeatSlotAndRemoveIntent: func(c *Conversation, ctx context.Context, tx *Transaction, a Action, entities []nlu.EntityResult, skip bool) error {
			if err := c.repeatLastSlots(); err != nil {
				return err
			}
			return c.removeIntentByName(a.Params["intent_name"])
		},
		ActionReplaceSlot: func(c *Conversation, ctx context.Context, tx *Transaction, a Action, entities []nlu.EntityResult, skip bool) error {
			return c.replaceLastSlots(ctx, tx, entities)
		},
		ActionTriggerIntent: func(c *Conversation, ctx context.Context, tx *Transaction, a Action, entities []nlu.EntityResult, skip bool) error {
			return c.triggerIntent(tx, a.Params["intent_name"])
		},
	}
}

var actionTable map[string]actionHandler

func init() { actionTable = newActionTable() }

// dispatch resolves and runs an action. An unknown name is a fatal
// configuration error.
func (c *Conversation) dispatch(ctx context.Context, tx *Transaction, action Action, entities []nlu.EntityResult, skipMessages bool) error {
	handler, ok := actionTable[action.Name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedAction, action.Name)
	}
	c.logger.Debug("dispatching action", "action", action.Name)
	return handler(c, ctx, tx, action, entities, skipMessages)
}

// removeIntentByName drops a named intent from the queue. Removing an
// unknown intent is a configuration error; removing one that is not
// queued is merely logged.
func (c *Conversation) removeIntentByName(name string) error {
	def, err := c.catalog.Intent(name)
	if err != nil {
		return err
	}
	if !c.pending.Has(name) && (c.activeIntent == nil || c.activeIntent.Name != name) {
		c.logger.Warn("remove requested for intent not in queue", "intent", name)
		return nil
	}
	delete(c.questionAttempts, name)
	c.removeFromQueue(def)
	return nil
}

// repeatLastSlots clears every slot filled on the previous turn so those
// slots are asked again. The previous turn must have filled at least one
// slot; anything else is a misconfigured answer contract.
func (c *Conversation) repeatLastSlots() error {
	last := c.lastTransaction()
	if last == nil || last.SlotsFilled.Len() == 0 {
		return fmt.Errorf("%w: no slot filled on previous turn", ErrSlotNotFilled)
	}
	def, err := c.intentForTurn(last)
	if err != nil {
		return err
	}
	for _, name := range last.SlotsFilled.Keys() {
		if err := c.clearFilledSlot(def, name); err != nil {
			return err
		}
	}
	return nil
}

// replaceLastSlots overwrites slots filled on the previous turn with this
// turn's matching entity values, re-asking the slot's follow-up so the
// corrected value is confirmed. Used for "no, make it large" corrections.
func (c *Conversation) replaceLastSlots(ctx context.Context, tx *Transaction, entities []nlu.EntityResult) error {
	last := c.lastTransaction()
	if last == nil || last.SlotsFilled.Len() == 0 {
		return fmt.Errorf("%w: no slot filled on previous turn", ErrSlotNotFilled)
	}
	def, err := c.intentForTurn(last)
	if err != nil {
		return err
	}

	replaced := false
	followUpAsked := false
	for _, entity := range entities {
		if !last.SlotsFilled.Has(entity.SlotName) {
			continue
		}
		if err := c.clearFilledSlot(def, entity.SlotName); err != nil {
			return err
		}
		if err := c.fillSlot(tx, def, entity.SlotName, entity); err != nil {
			return err
		}
		replaced = true
		if followUpAsked {
			continue
		}
		slot, ok := def.Slots.Get(entity.SlotName)
		if !ok || slot.FollowUp == nil {
			continue
		}
		remaining := NewOrderedMap[Prompter]()
		remaining.Set(slot.FollowUp.Name, slot.FollowUp)
		q, prompt, err := c.nextQuestion(ctx, tx, def, remaining)
		if err != nil || q == nil {
			return err
		}
		if err := c.askQuestion(tx, def.Name, q, prompt); err != nil {
			return err
		}
		followUpAsked = true
	}
	if !replaced {
		c.logger.Warn("replace slot matched no previously filled slot")
	}
	return nil
}

// triggerIntent queues a named intent at the front of the queue.
func (c *Conversation) triggerIntent(tx *Transaction, name string) error {
	def, err := c.catalog.Intent(name)
	if err != nil {
		return err
	}
	if (c.pending.Has(name) || c.completedIntents.Has(name)) && !def.Repeatable {
		c.logger.Warn("triggered intent not repeatable", "intent", name)
		return nil
	}
	c.prependPending(def)
	tx.NewIntentNames = append([]string{name}, tx.NewIntentNames...)
	return nil
}

// intentForTurn resolves the intent a past turn was driving: the current
// active intent when one exists, else the turn's recorded intent.
func (c *Conversation) intentForTurn(last *Transaction) (*IntentDef, error) {
	if c.activeIntent != nil {
		return c.activeIntent, nil
	}
	return c.catalog.Intent(last.ActiveIntentName)
}
