// Package chatkit orchestrates multi-turn, task-oriented conversations:
// it understands each user turn, reconciles new intents against the
// pending queue, fills intent slots, and calls fulfillment webhooks when
// an intent's data is complete.
package chatkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatkit-dev/chatkit/pkg/cache"
	"github.com/chatkit-dev/chatkit/pkg/convo"
	"github.com/chatkit-dev/chatkit/pkg/fulfillment"
	"github.com/chatkit-dev/chatkit/pkg/nlu"
	"github.com/chatkit-dev/chatkit/pkg/observability"
	"github.com/chatkit-dev/chatkit/pkg/store"
)

// Bot serves conversations for one bot catalog. Turns for the same
// conversation are serialized; different conversations proceed in
// parallel. Conversations are held in memory while live and snapshotted
// to the store after every turn, so a restarted process picks them up
// where they left off.
type Bot struct {
	catalog   *convo.Catalog
	provider  nlu.Provider
	fulfiller convo.Fulfiller
	store     store.Store
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]*heldConversation
}

// heldConversation carries the per-conversation turn lock.
type heldConversation struct {
	mu   sync.Mutex
	conv *convo.Conversation
}

// Option configures a Bot.
type Option func(*Bot)

// WithProvider overrides the NLU provider built from the catalog.
func WithProvider(p nlu.Provider) Option { return func(b *Bot) { b.provider = p } }

// WithFulfiller overrides the fulfillment webhook client.
func WithFulfiller(f convo.Fulfiller) Option { return func(b *Bot) { b.fulfiller = f } }

// WithStore sets the persistence backend. Defaults to in-memory.
func WithStore(s store.Store) Option { return func(b *Bot) { b.store = s } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(b *Bot) { b.logger = l } }

// NewBot assembles a bot from its catalog. Unless overridden, the NLU
// provider named in the catalog is built from the registry and wrapped
// with nluCache when non-nil, and fulfillment deliveries are recorded in
// the store.
func NewBot(catalog *convo.Catalog, registry *nlu.Registry, nluCache cache.Cache, opts ...Option) (*Bot, error) {
	b := &Bot{
		catalog: catalog,
		logger:  slog.Default(),
		active:  make(map[string]*heldConversation),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("bot", catalog.Bot)

	if b.store == nil {
		b.store = store.NewMemory()
	}

	if b.provider == nil {
		if registry == nil {
			registry = nlu.NewRegistry()
		}
		name := catalog.NLUProvider
		if name == "" {
			name = "keyword"
		}
		p, err := registry.Build(name, catalog.NLUConfig)
		if err != nil {
			return nil, fmt.Errorf("bot %s: %w", catalog.Bot, err)
		}
		b.provider = nlu.NewCachedProvider(p, nluCache, b.logger)
	}
	b.provider = &measuredProvider{inner: b.provider}

	if b.fulfiller == nil {
		b.fulfiller = fulfillment.NewClient(fulfillment.Config{}, b.store, b.logger)
	}
	b.fulfiller = &measuredFulfiller{bot: catalog.Bot, inner: b.fulfiller}

	return b, nil
}

// Catalog returns the bot's catalog.
func (b *Bot) Catalog() *convo.Catalog { return b.catalog }

// Reply is the outcome of one turn, shaped for transport adapters.
type Reply struct {
	ConversationID  string `json:"conversation_id"`
	TransactionID   string `json:"transaction_id"`
	Message         string `json:"message"`
	ActiveIntent    string `json:"active_intent,omitempty"`
	CompletedIntent string `json:"completed_intent,omitempty"`
	RequiresAnswer  bool   `json:"requires_answer"`
	Complete        bool   `json:"complete"`
}

// Converse runs one turn. An empty conversationID starts a new
// conversation; a known id resumes it, from memory or from the store.
func (b *Bot) Converse(ctx context.Context, conversationID string, input convo.Input) (*Reply, error) {
	start := time.Now()

	held, err := b.hold(ctx, conversationID)
	if err != nil {
		observability.RecordTurn(b.catalog.Bot, string(input.Type), "error", time.Since(start))
		return nil, err
	}
	held.mu.Lock()
	defer held.mu.Unlock()

	conv := held.conv
	tx := conv.CreateTransaction(input)
	message, err := conv.Reply(ctx, tx)
	if err != nil {
		observability.RecordTurn(b.catalog.Bot, string(input.Type), "error", time.Since(start))
		return nil, fmt.Errorf("conversation %s: %w", conv.ID, err)
	}

	if tx.CompletedIntentName != "" {
		observability.RecordIntentCompleted(b.catalog.Bot, tx.CompletedIntentName)
	}
	observability.RecordTurn(b.catalog.Bot, string(input.Type), "ok", time.Since(start))

	b.persist(ctx, conv, tx)
	if conv.Complete {
		b.release(conv.ID)
	}

	return &Reply{
		ConversationID:  conv.ID,
		TransactionID:   tx.ID,
		Message:         message,
		ActiveIntent:    conv.ActiveIntentName(),
		CompletedIntent: tx.CompletedIntentName,
		RequiresAnswer:  tx.RequiresAnswer(),
		Complete:        conv.Complete,
	}, nil
}

// History returns a conversation's stored turn ledger.
func (b *Bot) History(ctx context.Context, conversationID string) ([]*convo.Transaction, error) {
	return b.store.ListTransactions(ctx, conversationID)
}

// Fulfillments returns a conversation's webhook delivery records.
func (b *Bot) Fulfillments(ctx context.Context, conversationID string) ([]*store.FulfillmentRecord, error) {
	return b.store.ListFulfillments(ctx, conversationID)
}

// hold fetches or creates the in-memory conversation for an id.
func (b *Bot) hold(ctx context.Context, conversationID string) (*heldConversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	if held, ok := b.active[conversationID]; ok {
		return held, nil
	}

	conv, err := b.revive(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	held := &heldConversation{conv: conv}
	b.active[conversationID] = held
	observability.SetActiveConversations(len(b.active))
	return held, nil
}

// revive loads a conversation from the store, or starts a fresh one when
// the id is unknown.
func (b *Bot) revive(ctx context.Context, conversationID string) (*convo.Conversation, error) {
	snap, err := b.store.LoadSnapshot(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return convo.New(b.catalog,
			convo.WithID(conversationID),
			convo.WithProvider(b.provider),
			convo.WithFulfiller(b.fulfiller),
			convo.WithLogger(b.logger),
		), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}
	return convo.Restore(b.catalog, snap,
		convo.WithProvider(b.provider),
		convo.WithFulfiller(b.fulfiller),
		convo.WithLogger(b.logger),
	)
}

func (b *Bot) release(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.active, conversationID)
	observability.SetActiveConversations(len(b.active))
}

// persist snapshots the conversation and appends the turn. Persistence
// failures are logged, not surfaced; the reply already happened.
func (b *Bot) persist(ctx context.Context, conv *convo.Conversation, tx *convo.Transaction) {
	if err := b.store.SaveSnapshot(ctx, conv.Snapshot()); err != nil {
		b.logger.Error("saving conversation snapshot failed", "conversation_id", conv.ID, "error", err)
	}
	if err := b.store.AppendTransaction(ctx, tx); err != nil {
		b.logger.Error("appending transaction failed", "conversation_id", conv.ID, "error", err)
	}
}

// measuredProvider wraps the NLU provider with query metrics.
type measuredProvider struct {
	inner nlu.Provider
}

func (m *measuredProvider) Name() string { return m.inner.Name() }

func (m *measuredProvider) ProcessQuery(ctx context.Context, q nlu.Query) (*nlu.Prediction, error) {
	start := time.Now()
	pred, err := m.inner.ProcessQuery(ctx, q)
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.RecordNLUQuery(m.inner.Name(), status, time.Since(start))
	return pred, err
}

// measuredFulfiller wraps the webhook client with delivery metrics.
type measuredFulfiller struct {
	bot   string
	inner convo.Fulfiller
}

func (m *measuredFulfiller) Fulfill(ctx context.Context, req *convo.FulfillmentRequest) (*convo.FulfillmentResponse, error) {
	start := time.Now()
	resp, err := m.inner.Fulfill(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.RecordFulfillment(m.bot, req.IntentName, status, time.Since(start))
	return resp, err
}
