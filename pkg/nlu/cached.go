package nlu

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/chatkit-dev/chatkit/pkg/cache"
	"github.com/chatkit-dev/chatkit/pkg/observability"
)

// CachedProvider wraps a provider with prediction caching keyed by query
// text and entity handler. Repeated utterances skip the scoring call; a
// cache failure falls through to the provider.
type CachedProvider struct {
	provider Provider
	cache    cache.Cache
	logger   *slog.Logger
}

// NewCachedProvider wraps provider with c. A nil cache returns the
// provider unchanged.
func NewCachedProvider(provider Provider, c cache.Cache, logger *slog.Logger) Provider {
	if c == nil {
		return provider
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedProvider{provider: provider, cache: c, logger: logger}
}

func (p *CachedProvider) Name() string { return p.provider.Name() }

func (p *CachedProvider) ProcessQuery(ctx context.Context, q Query) (*Prediction, error) {
	key := "nlu:" + p.provider.Name() + ":" + q.EntityHandler + ":" + q.Text

	if data, ok, err := p.cache.Get(ctx, key); err != nil {
		p.logger.Warn("nlu cache read failed", "error", err)
	} else if ok {
		var pred Prediction
		if err := json.Unmarshal(data, &pred); err == nil {
			observability.RecordNLUCacheLookup(p.provider.Name(), true)
			return &pred, nil
		}
		p.logger.Warn("nlu cache entry corrupt, discarding", "key", key)
		_ = p.cache.Delete(ctx, key)
	}

	observability.RecordNLUCacheLookup(p.provider.Name(), false)
	pred, err := p.provider.ProcessQuery(ctx, q)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(pred); err == nil {
		if err := p.cache.Set(ctx, key, data); err != nil {
			p.logger.Warn("nlu cache write failed", "error", err)
		}
	}
	return pred, nil
}
