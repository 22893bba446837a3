package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/chatkit-dev/chatkit/pkg/nlu"
)

var (
	// ErrConversationComplete reports a turn against a finished conversation.
	ErrConversationComplete = errors.New("conversation is already complete")
	// ErrSlotAlreadyFilled reports filling a slot that was not empty.
	ErrSlotAlreadyFilled = errors.New("slot is already filled")
	// ErrSlotNotFilled reports clearing or replacing an empty slot.
	ErrSlotNotFilled = errors.New("slot is not filled")
	// ErrQuestionExhausted reports replaying a question past its attempt cap.
	ErrQuestionExhausted = errors.New("question attempts exhausted")
)

// Conversation is the mutable record of one session: the pending intent
// queue, per-slot runtime values, attempt counters, and completion flag.
// A conversation must be driven by one turn at a time; callers serialize
// concurrent turns for the same conversation id.
type Conversation struct {
	ID      string
	Context map[string]any

	catalog   *Catalog
	provider  nlu.Provider
	fulfiller Fulfiller
	logger    *slog.Logger

	slotResults      map[string]*OrderedMap[*SlotResult]
	pending          *OrderedMap[*IntentDef]
	completedIntents *OrderedMap[*IntentDef]
	activeIntent     *IntentDef

	questionAttempts   map[string]map[string]int
	consecutiveOutput  map[string]int
	consecutiveRepeats int

	transactions *OrderedMap[*Transaction]

	// Complete marks the conversation terminal; further turns fail.
	Complete bool
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithID sets an explicit conversation id.
func WithID(id string) Option { return func(c *Conversation) { c.ID = id } }

// WithProvider sets the NLU provider used for free-text turns.
func WithProvider(p nlu.Provider) Option { return func(c *Conversation) { c.provider = p } }

// WithFulfiller sets the fulfillment webhook client.
func WithFulfiller(f Fulfiller) Option { return func(c *Conversation) { c.fulfiller = f } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(c *Conversation) { c.logger = l } }

// New creates a conversation bound to an immutable bot catalog.
func New(catalog *Catalog, opts ...Option) *Conversation {
	c := &Conversation{
		ID:                uuid.NewString(),
		Context:           make(map[string]any),
		catalog:           catalog,
		logger:            slog.Default(),
		slotResults:       make(map[string]*OrderedMap[*SlotResult]),
		pending:           NewOrderedMap[*IntentDef](),
		completedIntents:  NewOrderedMap[*IntentDef](),
		questionAttempts:  make(map[string]map[string]int),
		consecutiveOutput: make(map[string]int),
		transactions:      NewOrderedMap[*Transaction](),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("conversation_id", c.ID)
	return c
}

// Catalog returns the bot catalog this conversation was created with.
func (c *Conversation) Catalog() *Catalog { return c.catalog }

// CreateTransaction opens the ledger for a new turn.
func (c *Conversation) CreateTransaction(input Input) *Transaction {
	tx := NewTransaction(c.ID)
	tx.Input = input
	c.transactions.Set(tx.ID, tx)
	return tx
}

// Transactions returns the turn ledgers in order.
func (c *Conversation) Transactions() []*Transaction { return c.transactions.Values() }

// ActiveIntentName returns the name of the active intent, or "".
func (c *Conversation) ActiveIntentName() string {
	if c.activeIntent == nil {
		return ""
	}
	return c.activeIntent.Name
}

// PendingIntentNames returns the pending queue front to back.
func (c *Conversation) PendingIntentNames() []string { return c.pending.Keys() }

// CompletedIntentNames returns the completed set in completion order.
func (c *Conversation) CompletedIntentNames() []string { return c.completedIntents.Keys() }

// lastTransaction returns the turn before the current one, assuming the
// current transaction has already been added.
func (c *Conversation) lastTransaction() *Transaction {
	txs := c.transactions.Values()
	if len(txs) < 2 {
		return nil
	}
	return txs[len(txs)-2]
}

// recognizedIntent pairs an NLU intent result with its catalog definition.
type recognizedIntent struct {
	def    *IntentDef
	result nlu.IntentResult
}

// Reply runs one turn: it consumes the transaction's input, mutates the
// conversation, fills the transaction's output, and renders the reply.
func (c *Conversation) Reply(ctx context.Context, tx *Transaction) (string, error) {
	if c.Complete {
		return "", fmt.Errorf("%w: %s", ErrConversationComplete, c.ID)
	}
	if err := tx.Input.Validate(); err != nil {
		return "", err
	}

	if tx.Input.Type == InputAction {
		// Direct action input dispatches immediately; no NLU involved.
		if err := c.dispatch(ctx, tx, NewAction(tx.Input.Value), nil, false); err != nil {
			return "", err
		}
	} else {
		pred, err := c.understand(ctx, tx)
		if err != nil {
			return "", err
		}
		tx.Prediction = pred
		recognized, entities := c.validResults(pred)
		if err := c.createResponse(ctx, tx, recognized, entities); err != nil {
			return "", err
		}
	}

	c.updateCounters(tx)
	return tx.RenderOutput(c.promptContext())
}

// understand obtains ranked intent and entity candidates for the turn,
// either from the NLU provider or synthesized for a triggered intent.
func (c *Conversation) understand(ctx context.Context, tx *Transaction) (*nlu.Prediction, error) {
	if tx.Input.Type == InputIntent {
		if _, err := c.catalog.Intent(tx.Input.Value); err != nil {
			return nil, err
		}
		return nlu.TriggeredPrediction(tx.Input.Value, tx.Input.Context), nil
	}

	if c.provider == nil {
		return nil, errors.New("no nlu provider configured")
	}

	q := nlu.Query{Text: tx.Input.Value}
	if last := c.lastTransaction(); last != nil {
		if slot, ok := last.Question.(*Slot); ok {
			q.EntityHandler = c.catalog.SlotEntityHandler(slot)
		}
	}
	pred, err := c.provider.ProcessQuery(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("nlu query failed: %w", err)
	}
	return pred, nil
}

// validResults filters the prediction by the bot's confidence thresholds
// and resolves intent names against the catalog. Unknown intents are
// dropped with a warning.
func (c *Conversation) validResults(pred *nlu.Prediction) ([]recognizedIntent, []nlu.EntityResult) {
	var recognized []recognizedIntent
	for _, ir := range pred.FilterIntents(c.catalog.Settings.IntentThreshold) {
		def, ok := c.catalog.Intents[ir.Name]
		if !ok {
			c.logger.Warn("dropping unknown intent", "intent", ir.Name)
			continue
		}
		recognized = append(recognized, recognizedIntent{def: def, result: ir})
	}
	return recognized, pred.FilterEntities(c.catalog.Settings.EntityThreshold)
}

// createResponse is the turn state machine over understood input. See the
// step comments; the order is load-bearing.
func (c *Conversation) createResponse(ctx context.Context, tx *Transaction, recognized []recognizedIntent, entities []nlu.EntityResult) error {
	isFirstTurn := c.lastTransaction() == nil

	// New intents considered per turn are clipped to the configured limit.
	newIntents := recognized
	if limit := c.catalog.Settings.NewIntentLimit; limit > 0 && len(newIntents) > limit {
		c.logger.Warn("clipping new intents", "limit", limit, "dropped", len(newIntents)-limit)
		newIntents = newIntents[:limit]
	}

	// Classify new intents in score order.
	greetingFired := false
	commonSeen := false
	for i, ri := range newIntents {
		def := ri.def

		if def.IsGreeting {
			if i > 0 || !isFirstTurn {
				c.logger.Warn("greeting only allowed as top intent of the first turn", "intent", def.Name)
				continue
			}
			greetingFired = true
			if err := tx.AddOutput(def.Name+":"+string(ResponseActive), def.Response(ResponseActive), AnswerExpectation{}); err != nil {
				return err
			}
			continue
		}

		if def.IsSmalltalk {
			if i > 0 || len(newIntents) > 1 {
				c.logger.Warn("smalltalk only honored as the sole intent", "intent", def.Name)
				continue
			}
			if !c.catalog.Settings.Smalltalk {
				c.logger.Warn("smalltalk disabled for bot", "intent", def.Name)
				continue
			}
			return tx.AddOutput(def.Name+":"+string(ResponseActive), def.Response(ResponseActive), AnswerExpectation{})
		}

		if def.IsCommon() {
			if commonSeen {
				c.logger.Warn("only one common intent honored per turn", "intent", def.Name)
				continue
			}
			commonSeen = true
		}

		if (c.pending.Has(def.Name) || c.completedIntents.Has(def.Name)) && !def.Repeatable {
			c.logger.Warn("intent not repeatable", "intent", def.Name)
			continue
		}

		if def.Preemptive {
			c.prependPending(def)
			tx.NewIntentNames = append([]string{def.Name}, tx.NewIntentNames...)

			switch def.Name {
			case IntentCancel:
				return c.addInteraction(ctx, tx, InteractionIntentCanceled)
			case IntentRepeat:
				return c.handleRepeat(ctx, tx)
			case IntentHelp:
				return c.handleHelpWhy(ctx, tx, false)
			case IntentWhy:
				return c.handleHelpWhy(ctx, tx, true)
			}
			// Confirmation answers produce no output of their own; they are
			// matched against the previous turn's contract below.
		} else {
			c.appendPending(def)
			tx.NewIntentNames = append(tx.NewIntentNames, def.Name)
		}
	}

	// First-turn bootstrap.
	if isFirstTurn {
		if !greetingFired {
			if def, ok := c.catalog.Intents[IntentGreeting]; ok {
				tx.PrependOutput(IntentGreeting+":"+string(ResponseActive), def.Response(ResponseActive))
			}
		}
		if len(newIntents) == 0 {
			return c.addInteraction(ctx, tx, InteractionInitialPrompt)
		}
	}

	// Answer resolution against the previous turn's contract.
	intentResults := make([]nlu.IntentResult, 0, len(recognized))
	for _, ri := range recognized {
		intentResults = append(intentResults, ri.result)
	}
	if last := c.lastTransaction(); last != nil && last.RequiresAnswer() {
		answered, action := last.IsAnswered(entities, intentResults, tx.Input)
		if answered {
			c.logger.Debug("previous transaction answered", "action", action.Name)
			if err := c.dispatch(ctx, tx, action, entities, false); err != nil {
				return err
			}
			if c.Complete || tx.Output.Len() > 0 {
				return nil
			}
		} else {
			c.logger.Debug("previous transaction unanswered")
			if c.transactionRepeatable(last) {
				return c.repeatTransaction(tx, last, "last transaction not answered")
			}
			return c.abortActiveIntent(ctx, tx)
		}
	}

	// Prune one-shot intents: answer-only intents existed solely for the
	// contract test above, and preemptive intents without slots already
	// said everything they had to say.
	for _, def := range c.pending.Values() {
		if def.IsAnswer || (def.Preemptive && def.SlotCount() == 0) {
			c.pending.Delete(def.Name)
		}
	}

	// Drive the active intent.
	if c.activeIntent != nil {
		tx.ActiveIntentName = c.activeIntent.Name
		remaining, err := c.fillSlots(ctx, tx, c.activeIntent, entities)
		if err != nil {
			return err
		}
		if remaining.Len() > 0 {
			q, prompt, err := c.nextQuestion(ctx, tx, c.activeIntent, remaining)
			if err != nil {
				return err
			}
			if q == nil {
				return nil // attempt cap hit; intent aborted
			}
			return c.askQuestion(tx, c.activeIntent.Name, q, prompt)
		}
	}

	// Promote the next pending intent and notify the rest.
	if c.activeIntent == nil {
		for i, def := range c.pending.Values() {
			if i == 0 {
				c.activeIntent = def
				tx.ActiveIntentName = def.Name
				rt := ResponseActive
				if tx.CompletedIntentName != "" && !slices.Contains(tx.NewIntentNames, def.Name) {
					rt = ResponseResumed
				}
				if err := c.startIntent(ctx, tx, def, rt, entities); err != nil {
					return err
				}
				continue
			}
			if resp := def.Response(ResponseDeferred); resp != "" {
				if err := tx.AddOutput(def.Name+":"+string(ResponseDeferred), resp, AnswerExpectation{}); err != nil {
					return err
				}
			}
		}
	}

	// Fallback when the turn produced nothing.
	if tx.Output.Len() == 0 {
		if tx.CompletedIntentName != "" || (c.completedIntents.Len() > 0 && c.pending.Len() == 0) {
			return c.addInteraction(ctx, tx, InteractionIntentsComplete)
		}
		if c.consecutiveOutput[InteractionFallback] >= c.catalog.Settings.MaxConsecutiveInteractionAttempts {
			c.logger.Warn("fallback attempts exhausted, ending conversation")
			c.Complete = true
			return c.addInteraction(ctx, tx, InteractionGoodbye)
		}
		return c.addInteraction(ctx, tx, InteractionFallback)
	}
	return nil
}

// startIntent renders an intent's phase response and asks its first
// unfilled slot. Intents fully satisfied by this turn's entities complete
// without rendering the response.
func (c *Conversation) startIntent(ctx context.Context, tx *Transaction, def *IntentDef, rt ResponseType, entities []nlu.EntityResult) error {
	resp := def.Response(rt)
	if resp == "" {
		c.logger.Warn("no response configured for intent", "intent", def.Name, "phase", rt)
	}

	if def.SlotCount() == 0 {
		if resp != "" {
			if err := tx.AddOutput(def.Name+":"+string(rt), resp, AnswerExpectation{}); err != nil {
				return err
			}
		}
		return c.completeIntent(ctx, tx, def)
	}

	remaining, err := c.fillSlots(ctx, tx, def, entities)
	if err != nil {
		return err
	}
	if remaining.Len() == 0 {
		// Satisfied entirely by collected entities; completion already ran.
		return nil
	}

	q, prompt, err := c.nextQuestion(ctx, tx, def, remaining)
	if err != nil || q == nil {
		return err
	}
	if resp != "" {
		if err := tx.AddOutput(def.Name+":"+string(rt), resp, AnswerExpectation{}); err != nil {
			return err
		}
	}
	return c.askQuestion(tx, def.Name, q, prompt)
}

// fillSlots fills the intent's remaining slots from this turn's entities.
// The returned queue holds the still-unanswered prompts in ask order; a
// slot filled from user input (not context) with a follow-up configured
// injects that follow-up at the front, at most one per turn. When nothing
// remains the intent completes, fulfillment included.
func (c *Conversation) fillSlots(ctx context.Context, tx *Transaction, def *IntentDef, entities []nlu.EntityResult) (*OrderedMap[Prompter], error) {
	results := c.slotResults[def.Name]
	remaining := NewOrderedMap[Prompter]()
	def.RemainingSlots(results).Range(func(name string, slot *Slot) bool {
		remaining.Set(name, slot)
		return true
	})

	// Autofill from values already collected elsewhere in the conversation.
	for _, name := range remaining.Keys() {
		p, _ := remaining.Get(name)
		slot, ok := p.(*Slot)
		if !ok || !slot.Autofill {
			continue
		}
		if value := c.filledValueByName(name); value != nil {
			if err := c.fillSlot(tx, def, name, *value); err != nil {
				return nil, err
			}
			remaining.Delete(name)
		}
	}

	followUpAdded := false
	for _, entity := range entities {
		if !remaining.Has(entity.SlotName) {
			continue
		}
		p, _ := remaining.Get(entity.SlotName)
		slot, ok := p.(*Slot)
		if !ok {
			continue // a follow-up occupies this key; never fill through it
		}
		if slot.FollowUp != nil && followUpAdded {
			c.logger.Warn("skipping slot fill, follow-up already injected this turn",
				"intent", def.Name, "slot", entity.SlotName)
			continue
		}
		if err := c.fillSlot(tx, def, entity.SlotName, entity); err != nil {
			return nil, err
		}
		remaining.Delete(entity.SlotName)
		// Context-sourced values are authoritative; no confirmation.
		if slot.FollowUp != nil && !entity.FromContext {
			remaining.Prepend(slot.FollowUp.Name, slot.FollowUp)
			followUpAdded = true
		}
	}

	if remaining.Len() == 0 {
		c.logger.Debug("all slots filled", "intent", def.Name)
		return remaining, c.completeIntent(ctx, tx, def)
	}
	return remaining, nil
}

// nextQuestion pops the front prompt and accounts one attempt. A nil
// prompter return (without error) means the attempt cap was hit and the
// active intent was aborted instead.
func (c *Conversation) nextQuestion(ctx context.Context, tx *Transaction, def *IntentDef, remaining *OrderedMap[Prompter]) (Prompter, string, error) {
	_, q, ok := remaining.Front()
	if !ok {
		return nil, "", nil
	}
	if !c.addQuestionAttempt(def.Name, q.PromptName()) {
		if err := c.abortActiveIntent(ctx, tx); err != nil {
			return nil, "", err
		}
		return nil, "", nil
	}
	return q, q.RenderPrompt(), nil
}

// askQuestion emits the prompt and registers its answer contract.
func (c *Conversation) askQuestion(tx *Transaction, intentName string, q Prompter, prompt string) error {
	entityActions, intentActions := q.ExpectedAnswer()
	err := tx.AddOutput(intentName+":"+q.PromptName(), prompt, AnswerExpectation{
		Entities: entityActions,
		Intents:  intentActions,
	})
	if err != nil {
		return err
	}
	tx.SetQuestion(q)
	return nil
}

// completeIntent invokes fulfillment and moves the intent to the
// completed set. The transition happens regardless of webhook outcome;
// a failed call is recorded by the fulfiller and reported, not fatal.
func (c *Conversation) completeIntent(ctx context.Context, tx *Transaction, def *IntentDef) error {
	c.logger.Info("intent completed", "intent", def.Name)

	c.completedIntents.Set(def.Name, def)
	c.pending.Delete(def.Name)
	if c.activeIntent != nil && c.activeIntent.Name == def.Name {
		c.activeIntent = nil
	}
	tx.CompletedIntentName = def.Name

	if def.Fulfillment == nil || c.fulfiller == nil {
		return nil
	}

	resp, err := c.fulfiller.Fulfill(ctx, c.FulfillmentData(tx, def))
	if err != nil {
		c.logger.Error("fulfillment call failed", "intent", def.Name, "error", err)
		return nil
	}
	if !resp.Success() {
		c.logger.Warn("fulfillment did not succeed", "intent", def.Name, "reason", resp.StatusReason)
	}

	hasMessage := false
	if resp.Interaction != nil && len(resp.Interaction.Messages) > 0 {
		hasMessage = true
		expect := AnswerExpectation{
			Entities: resp.Interaction.EntityActions,
			Intents:  c.padIntentActions(resp.Interaction.IntentActions),
		}
		key := def.Name + ":fulfillment"
		if err := tx.AddOutput(key, pickPrompt(resp.Interaction.Messages), expect); err != nil {
			return err
		}
		if resp.Interaction.RequiresAnswer() {
			tx.SetQuestion(&Question{
				Name:          key,
				Prompts:       resp.Interaction.Messages,
				IntentActions: resp.Interaction.IntentActions,
				EntityActions: resp.Interaction.EntityActions,
			})
		}
	}
	if !resp.Action.IsZero() {
		return c.dispatch(ctx, tx, resp.Action, nil, hasMessage)
	}
	return nil
}

// FulfillmentData assembles the webhook payload for an intent: ids,
// conversation context, and a plain map of filled slot values. It is
// built even for intents with no webhook so callers can retrieve slot
// data uniformly.
func (c *Conversation) FulfillmentData(tx *Transaction, def *IntentDef) *FulfillmentRequest {
	slotData := make(map[string]any)
	if results, ok := c.slotResults[def.Name]; ok {
		results.Range(func(name string, r *SlotResult) bool {
			if r.Value != nil {
				slotData[name] = r.Value.Value
			}
			return true
		})
	}
	req := &FulfillmentRequest{
		ConversationID: c.ID,
		TransactionID:  tx.ID,
		IntentName:     def.Name,
		Context:        c.Context,
		SlotData:       slotData,
	}
	if def.Fulfillment != nil {
		req.URL = def.Fulfillment.URL
	}
	return req
}

// handleRepeat services a user Repeat intent, bounded by the consecutive
// repeat cap.
func (c *Conversation) handleRepeat(ctx context.Context, tx *Transaction) error {
	if c.consecutiveRepeats >= c.catalog.Settings.MaxConsecutiveRepeatAttempts {
		c.logger.Warn("consecutive repeats exhausted")
		return c.addInteraction(ctx, tx, InteractionRepeatExhausted)
	}
	last := c.lastTransaction()
	if last == nil {
		return c.addInteraction(ctx, tx, InteractionFallback)
	}
	if c.transactionRepeatable(last) {
		return c.repeatTransaction(tx, last, "user request")
	}
	return c.abortActiveIntent(ctx, tx)
}

// handleHelpWhy emits the most specific help or why text available:
// slot-level, then intent-level, then the global interaction. Emission of
// one key is bounded by the consecutive-interaction cap.
func (c *Conversation) handleHelpWhy(ctx context.Context, tx *Transaction, why bool) error {
	kind := InteractionHelp
	if why {
		kind = InteractionWhy
	}

	var key, text string
	if last := c.lastTransaction(); last != nil && last.Question != nil {
		if q, ok := questionOf(last.Question); ok {
			if t := pick(why, q.RenderWhy, q.RenderHelp); t != "" {
				key, text = kind+":"+q.Name, t
			}
		}
	}
	if text == "" && c.activeIntent != nil {
		if t := pick(why, c.activeIntent.RenderWhy, c.activeIntent.RenderHelp); t != "" {
			key, text = kind+":"+c.activeIntent.Name, t
		}
	}
	if text == "" {
		return c.addInteraction(ctx, tx, kind)
	}

	if c.consecutiveOutput[key] >= c.catalog.Settings.MaxConsecutiveInteractionAttempts {
		c.logger.Warn("consecutive interaction attempts exhausted", "key", key)
		return c.addInteraction(ctx, tx, InteractionFallback)
	}
	return tx.AddOutput(key, text, AnswerExpectation{})
}

func questionOf(p Prompter) (*Question, bool) {
	switch v := p.(type) {
	case *Question:
		return v, true
	case *Slot:
		return &v.Question, true
	case *FollowUp:
		return &v.Question, true
	}
	return nil, false
}

func pick(why bool, whyFn, helpFn func() string) string {
	if why {
		return whyFn()
	}
	return helpFn()
}

// transactionRepeatable reports whether a turn may be replayed: it has no
// pending question, or that question's attempt count is below the cap.
func (c *Conversation) transactionRepeatable(last *Transaction) bool {
	if last.Question == nil {
		return true
	}
	return c.questionAttemptCount(last.ActiveIntentName, last.QuestionName) < c.catalog.Settings.MaxQuestionAttempts
}

// repeatTransaction replays the previous turn into the current one. With
// a pending question only the question is replayed; otherwise the full
// output is cloned. Output already generated earlier this turn is kept in
// front and must not itself require an answer.
func (c *Conversation) repeatTransaction(tx *Transaction, last *Transaction, reason string) error {
	if tx.RequiresAnswer() {
		return fmt.Errorf("%w: replay would add a second answer contract", ErrAnswerAlreadyExpected)
	}

	if last.Question != nil {
		if !c.addQuestionAttempt(last.ActiveIntentName, last.QuestionName) {
			return fmt.Errorf("%w: %s", ErrQuestionExhausted, last.QuestionName)
		}
		tx.ActiveIntentName = last.ActiveIntentName
		if err := c.askQuestion(tx, last.ActiveIntentName, last.Question, last.Question.RenderPrompt()); err != nil {
			return err
		}
	} else {
		preservedKeys := tx.Output.Keys()
		preservedVals := tx.Output.Values()
		tx.CopyFrom(last)
		for i := len(preservedKeys) - 1; i >= 0; i-- {
			tx.PrependOutput(preservedKeys[i], preservedVals[i])
		}
	}

	tx.RepeatOfID = last.ID
	tx.RepeatReason = reason
	c.logger.Debug("transaction repeated", "repeat_of", last.ID, "reason", reason)
	return nil
}

// abortActiveIntent gives up on the active intent: its attempt counters
// are cleared, it leaves the queue, and the aborted interaction is shown.
func (c *Conversation) abortActiveIntent(ctx context.Context, tx *Transaction) error {
	if c.activeIntent == nil {
		// A conversation-level question ran out of attempts; there is no
		// intent to drop, so clear its counters and fall back.
		delete(c.questionAttempts, attemptKey(""))
		return c.addInteraction(ctx, tx, InteractionFallback)
	}
	def := c.activeIntent
	c.logger.Info("aborting intent", "intent", def.Name)
	tx.AbortedIntentNames = append(tx.AbortedIntentNames, def.Name)
	delete(c.questionAttempts, def.Name)
	c.removeFromQueue(def)
	return c.addInteraction(ctx, tx, InteractionIntentAborted)
}

// cancelActiveIntent removes the active intent at the user's request.
func (c *Conversation) cancelActiveIntent(tx *Transaction) {
	if c.activeIntent == nil {
		c.logger.Error("cancel requested with no active intent")
		return
	}
	def := c.activeIntent
	c.logger.Info("cancelling intent", "intent", def.Name)
	tx.CancelledIntentNames = append(tx.CancelledIntentNames, def.Name)
	delete(c.questionAttempts, def.Name)
	c.removeFromQueue(def)
}

func (c *Conversation) removeFromQueue(def *IntentDef) {
	c.pending.Delete(def.Name)
	if c.activeIntent != nil && c.activeIntent.Name == def.Name {
		c.activeIntent = nil
	}
}

// appendPending queues an intent at the back, resetting its slot results.
func (c *Conversation) appendPending(def *IntentDef) {
	if !c.pending.Has(def.Name) {
		c.slotResults[def.Name] = def.NewSlotResults()
	}
	c.pending.Set(def.Name, def)
	c.logger.Debug("intent queued", "intent", def.Name)
}

// prependPending queues an intent at the front, resetting its slot results.
func (c *Conversation) prependPending(def *IntentDef) {
	if !c.pending.Has(def.Name) {
		c.slotResults[def.Name] = def.NewSlotResults()
	}
	c.pending.Prepend(def.Name, def)
	c.logger.Debug("intent queued at front", "intent", def.Name)
}

// fillSlot records a value for one slot. Filling a non-empty slot is a
// contract violation, not user error.
func (c *Conversation) fillSlot(tx *Transaction, def *IntentDef, slotName string, entity nlu.EntityResult) error {
	results, ok := c.slotResults[def.Name]
	if !ok {
		results = def.NewSlotResults()
		c.slotResults[def.Name] = results
	}
	r, ok := results.Get(slotName)
	if !ok {
		return fmt.Errorf("intent %s has no slot %s", def.Name, slotName)
	}
	if r.Value != nil {
		return fmt.Errorf("%w: %s.%s", ErrSlotAlreadyFilled, def.Name, slotName)
	}
	value := entity
	r.Value = &value
	tx.SlotsFilled.Set(slotName, &value)
	c.logger.Debug("slot filled", "intent", def.Name, "slot", slotName)
	return nil
}

// clearFilledSlot empties a previously filled slot so it is asked again.
func (c *Conversation) clearFilledSlot(def *IntentDef, slotName string) error {
	results, ok := c.slotResults[def.Name]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrSlotNotFilled, def.Name, slotName)
	}
	r, ok := results.Get(slotName)
	if !ok || r.Value == nil {
		return fmt.Errorf("%w: %s.%s", ErrSlotNotFilled, def.Name, slotName)
	}
	r.Value = nil
	c.logger.Debug("slot cleared", "intent", def.Name, "slot", slotName)
	return nil
}

// filledValueByName finds a value already collected for slotName under
// any intent in this conversation, for autofill.
func (c *Conversation) filledValueByName(slotName string) *nlu.EntityResult {
	for _, results := range c.slotResults {
		if r, ok := results.Get(slotName); ok && r.Value != nil {
			return r.Value
		}
	}
	return nil
}

// questionAttemptCount returns the attempts made for one (intent,
// question) pair. Questions asked outside any intent are keyed under the
// conversation itself.
func (c *Conversation) questionAttemptCount(intentName, questionName string) int {
	return c.questionAttempts[attemptKey(intentName)][questionName]
}

// addQuestionAttempt accounts one ask of a question and reports whether
// it was within the cap. The counter never exceeds the cap.
func (c *Conversation) addQuestionAttempt(intentName, questionName string) bool {
	key := attemptKey(intentName)
	if c.questionAttempts[key] == nil {
		c.questionAttempts[key] = make(map[string]int)
	}
	if c.questionAttempts[key][questionName]+1 > c.catalog.Settings.MaxQuestionAttempts {
		return false
	}
	c.questionAttempts[key][questionName]++
	return true
}

func attemptKey(intentName string) string {
	if intentName == "" {
		return "_conversation"
	}
	return intentName
}

// addInteraction emits a common interaction by name. Question
// interactions pad their intent contract so that any recognized intent
// counts as an answer; Message interactions may carry a follow-on action.
func (c *Conversation) addInteraction(ctx context.Context, tx *Transaction, name string) error {
	p, err := c.catalog.Interaction(name)
	if err != nil {
		return err
	}
	text := p.RenderPrompt()
	entityActions, intentActions := p.ExpectedAnswer()

	err = tx.AddOutput(name, text, AnswerExpectation{
		Entities: entityActions,
		Intents:  c.padIntentActions(intentActions),
	})
	if err != nil {
		return err
	}

	if q, ok := p.(*Question); ok {
		tx.SetQuestion(q)
	}
	if m, ok := p.(*Message); ok && !m.Action.IsZero() {
		return c.dispatch(ctx, tx, m.Action, nil, text != "")
	}
	return nil
}

// padIntentActions extends an intent contract so every catalog intent is
// an acceptable answer; unexpected intents map to NoAction and flow into
// normal processing instead of failing the contract.
func (c *Conversation) padIntentActions(actions ActionMap) ActionMap {
	if len(actions) == 0 {
		return actions
	}
	padded := make(ActionMap, len(c.catalog.Intents))
	for name := range c.catalog.Intents {
		padded[name] = NewAction(ActionNone)
	}
	for name, action := range actions {
		padded[name] = action
	}
	return padded
}

// promptContext returns the interpolation context for output templates:
// the active intent's filled slot values plus the conversation context.
func (c *Conversation) promptContext() map[string]any {
	out := make(map[string]any, len(c.Context))
	for k, v := range c.Context {
		out[k] = v
	}
	if c.activeIntent != nil {
		if results, ok := c.slotResults[c.activeIntent.Name]; ok {
			results.Range(func(name string, r *SlotResult) bool {
				if r.Value != nil {
					out[name] = r.Value.Value
				}
				return true
			})
		}
	}
	return out
}

// updateCounters maintains the per-key consecutive-output counts and the
// consecutive-repeat count. These are the backpressure against loops of
// unanswered questions, fallbacks, and help requests.
func (c *Conversation) updateCounters(tx *Transaction) {
	for key := range c.consecutiveOutput {
		if !tx.Output.Has(key) {
			delete(c.consecutiveOutput, key)
		}
	}
	tx.Output.Range(func(key, _ string) bool {
		c.consecutiveOutput[key]++
		return true
	})
	if tx.IsRepeat() {
		c.consecutiveRepeats++
	} else {
		c.consecutiveRepeats = 0
	}
}
