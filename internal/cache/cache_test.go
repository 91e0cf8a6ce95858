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

func setupRedis(t *testing.T, ttl time.Duration) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedis(&Config{RedisClient: client, TTL: ttl})
	require.NoError(t, err)
	return store, mr
}

func TestRedisStore(t *testing.T) {
	store, mr := setupRedis(t, time.Minute)
	ctx := context.Background()

	_, err := store.Get(ctx, "motherfile")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Set(ctx, "motherfile", "motherfile/abc"))
	v, err := store.Get(ctx, "motherfile")
	require.NoError(t, err)
	assert.Equal(t, "motherfile/abc", v)
	assert.True(t, mr.Exists("starzzz:motherfile"))

	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, "motherfile")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Set(ctx, "k", "v"))
	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestNewRedisValidatesConfig(t *testing.T) {
	_, err := NewRedis(nil)
	assert.Error(t, err)
	_, err = NewRedis(&Config{})
	assert.Error(t, err)
}

func TestMemoryStoreExpires(t *testing.T) {
	m := NewMemory(time.Second)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", "1"))
	v, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	now = now.Add(time.Second)
	_, err = m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, m.Set(ctx, "b", "2"))
	require.NoError(t, m.Delete(ctx, "b"))
	_, err = m.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrMiss)
}
