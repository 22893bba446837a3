package convo

import (
	"fmt"
	"log/slog"
)

// Snapshot is the serializable state of a conversation between turns.
// Intents are stored by name and resolved against the catalog on restore;
// only the most recent transaction is carried, since that is all the next
// turn's answer resolution needs. The full turn ledger lives in the store.
type Snapshot struct {
	ID                 string                              `json:"id"`
	Bot                string                              `json:"bot"`
	Context            map[string]any                      `json:"context,omitempty"`
	SlotResults        map[string]*OrderedMap[*SlotResult] `json:"slot_results,omitempty"`
	Pending            []string                            `json:"pending,omitempty"`
	Completed          []string                            `json:"completed,omitempty"`
	ActiveIntent       string                              `json:"active_intent,omitempty"`
	QuestionAttempts   map[string]map[string]int           `json:"question_attempts,omitempty"`
	ConsecutiveOutput  map[string]int                      `json:"consecutive_output,omitempty"`
	ConsecutiveRepeats int                                 `json:"consecutive_repeats,omitempty"`
	Complete           bool                                `json:"complete"`
	LastTransaction    *Transaction                        `json:"last_transaction,omitempty"`
}

// Snapshot captures the conversation's current state.
func (c *Conversation) Snapshot() *Snapshot {
	snap := &Snapshot{
		ID:                 c.ID,
		Bot:                c.catalog.Bot,
		Context:            c.Context,
		SlotResults:        c.slotResults,
		Pending:            c.pending.Keys(),
		Completed:          c.completedIntents.Keys(),
		ActiveIntent:       c.ActiveIntentName(),
		QuestionAttempts:   c.questionAttempts,
		ConsecutiveOutput:  c.consecutiveOutput,
		ConsecutiveRepeats: c.consecutiveRepeats,
		Complete:           c.Complete,
	}
	if txs := c.transactions.Values(); len(txs) > 0 {
		snap.LastTransaction = txs[len(txs)-1]
	}
	return snap
}

// Restore rebuilds a conversation from a snapshot against the same bot
// catalog it was created with. Intent names that no longer resolve are a
// hard error; the catalog changed underneath a live conversation.
func Restore(catalog *Catalog, snap *Snapshot, opts ...Option) (*Conversation, error) {
	if snap.Bot != catalog.Bot {
		return nil, fmt.Errorf("snapshot belongs to bot %q, catalog is %q", snap.Bot, catalog.Bot)
	}

	c := New(catalog, append([]Option{WithID(snap.ID)}, opts...)...)
	c.Complete = snap.Complete
	c.consecutiveRepeats = snap.ConsecutiveRepeats
	if snap.Context != nil {
		c.Context = snap.Context
	}
	if snap.SlotResults != nil {
		c.slotResults = snap.SlotResults
	}
	if snap.QuestionAttempts != nil {
		c.questionAttempts = snap.QuestionAttempts
	}
	if snap.ConsecutiveOutput != nil {
		c.consecutiveOutput = snap.ConsecutiveOutput
	}

	for _, name := range snap.Pending {
		def, err := catalog.Intent(name)
		if err != nil {
			return nil, fmt.Errorf("restoring pending queue: %w", err)
		}
		c.pending.Set(name, def)
	}
	for _, name := range snap.Completed {
		def, err := catalog.Intent(name)
		if err != nil {
			return nil, fmt.Errorf("restoring completed set: %w", err)
		}
		c.completedIntents.Set(name, def)
	}
	if snap.ActiveIntent != "" {
		def, err := catalog.Intent(snap.ActiveIntent)
		if err != nil {
			return nil, fmt.Errorf("restoring active intent: %w", err)
		}
		c.activeIntent = def
	}

	if tx := snap.LastTransaction; tx != nil {
		if tx.QuestionName != "" {
			tx.Question = resolvePrompter(catalog, tx.QuestionName, c.logger)
		}
		c.transactions.Set(tx.ID, tx)
	}
	return c, nil
}

// resolvePrompter finds the prompter behind a persisted question name:
// a common interaction, an intent slot, or a slot follow-up. Questions
// minted at runtime from fulfillment interactions cannot be resolved;
// the transaction's serialized answer contract still applies, only
// replay falls back to the recorded output.
func resolvePrompter(catalog *Catalog, name string, logger *slog.Logger) Prompter {
	if p, ok := catalog.Interactions[name]; ok {
		return p
	}
	for _, def := range catalog.Intents {
		if def.Slots == nil {
			continue
		}
		var found Prompter
		def.Slots.Range(func(_ string, slot *Slot) bool {
			if slot.PromptName() == name {
				found = slot
				return false
			}
			if slot.FollowUp != nil && slot.FollowUp.PromptName() == name {
				found = slot.FollowUp
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	logger.Warn("could not resolve persisted question", "question", name)
	return nil
}
