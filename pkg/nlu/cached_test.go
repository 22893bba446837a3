package nlu

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatkit-dev/chatkit/pkg/cache"
)

type countingProvider struct {
	inner Provider
	calls int
}

func (c *countingProvider) Name() string { return c.inner.Name() }

func (c *countingProvider) ProcessQuery(ctx context.Context, q Query) (*Prediction, error) {
	c.calls++
	return c.inner.ProcessQuery(ctx, q)
}

type brokenCache struct{}

func (brokenCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}
func (brokenCache) Set(ctx context.Context, key string, value []byte) error {
	return errors.New("cache down")
}
func (brokenCache) Delete(ctx context.Context, key string) error { return nil }
func (brokenCache) Close() error                                 { return nil }

func TestCachedProviderSkipsRepeatCalls(t *testing.T) {
	backing := &countingProvider{inner: NewKeywordProvider([]KeywordRule{
		{Intent: "StoreHours", Keywords: []string{"open"}},
	})}
	p := NewCachedProvider(backing, cache.NewMemory(cache.MemoryConfig{}), nil)
	ctx := context.Background()

	first, err := p.ProcessQuery(ctx, Query{Text: "are you open"})
	require.NoError(t, err)
	second, err := p.ProcessQuery(ctx, Query{Text: "are you open"})
	require.NoError(t, err)

	assert.Equal(t, 1, backing.calls)
	assert.Equal(t, first.Intents, second.Intents)
}

func TestCachedProviderKeysOnEntityHandler(t *testing.T) {
	backing := &countingProvider{inner: NewKeywordProvider(nil)}
	p := NewCachedProvider(backing, cache.NewMemory(cache.MemoryConfig{}), nil)
	ctx := context.Background()

	_, err := p.ProcessQuery(ctx, Query{Text: "same text"})
	require.NoError(t, err)
	_, err = p.ProcessQuery(ctx, Query{Text: "same text", EntityHandler: "query"})
	require.NoError(t, err)

	assert.Equal(t, 2, backing.calls, "different handlers must not share entries")
}

func TestCachedProviderFallsThroughOnCacheFailure(t *testing.T) {
	backing := &countingProvider{inner: NewKeywordProvider(nil)}
	p := NewCachedProvider(backing, brokenCache{}, nil)

	pred, err := p.ProcessQuery(context.Background(), Query{Text: "hello"})
	require.NoError(t, err)
	assert.NotNil(t, pred)
	assert.Equal(t, 1, backing.calls)
}

func TestNewCachedProviderNilCache(t *testing.T) {
	backing := NewKeywordProvider(nil)
	assert.Same(t, Provider(backing), NewCachedProvider(backing, nil, nil))
}
