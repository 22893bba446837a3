package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends builds one of each cache implementation, redis backed by
// miniredis.
func backends(t *testing.T) map[string]Cache {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	disk, err := NewDisk(t.TempDir(), 0)
	require.NoError(t, err)

	return map[string]Cache{
		"memory": NewMemory(MemoryConfig{}),
		"disk":   disk,
		"redis":  NewRedisFromClient(client, "", 0),
	}
}

func TestCacheRoundTrip(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := c.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, c.Set(ctx, "k", []byte("v1")))
			got, ok, err := c.Get(ctx, "k")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("v1"), got)

			require.NoError(t, c.Set(ctx, "k", []byte("v2")))
			got, ok, err = c.Get(ctx, "k")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("v2"), got)

			require.NoError(t, c.Delete(ctx, "k"))
			_, ok, err = c.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, c.Delete(ctx, "never-existed"))
		})
	}
}

func TestCacheClosed(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, c.Close())

			_, _, err := c.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrCacheClosed)
			assert.ErrorIs(t, c.Set(ctx, "k", nil), ErrCacheClosed)
			assert.ErrorIs(t, c.Delete(ctx, "k"), ErrCacheClosed)
		})
	}
}

func TestMemoryLRUEviction(t *testing.T) {
	c := NewMemory(MemoryConfig{MaxEntries: 2})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1")))
	require.NoError(t, c.Set(ctx, "b", []byte("2")))

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Set(ctx, "c", []byte("3")))

	_, ok, _ = c.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok, _ = c.Get(ctx, "a")
	assert.True(t, ok)
	_, ok, _ = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestMemoryTTLExpiry(t *testing.T) {
	c := NewMemory(MemoryConfig{TTL: time.Minute})
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v")))

	now = now.Add(30 * time.Second)
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(31 * time.Second)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryGetCopies(t *testing.T) {
	c := NewMemory(MemoryConfig{})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("abc")))
	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	got[0] = 'X'

	again, _, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again, "callers must not mutate stored values")
}

func TestDiskSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewDisk(dir, 0)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "k", []byte("v")))
	require.NoError(t, first.Close())

	second, err := NewDisk(dir, 0)
	require.NoError(t, err)
	got, ok, err := second.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestDiskKeysAreFilenameSafe(t *testing.T) {
	c, err := NewDisk(t.TempDir(), 0)
	require.NoError(t, err)
	ctx := context.Background()

	key := "nlu:luis::../../etc/passwd? with spaces\n"
	require.NoError(t, c.Set(ctx, key, []byte("v")))
	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestRedisTTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	c := NewRedisFromClient(client, "test:", time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v")))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisPrefixIsolation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	a := NewRedisFromClient(client, "a:", 0)
	b := NewRedisFromClient(client, "b:", 0)
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "k", []byte("va")))
	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
