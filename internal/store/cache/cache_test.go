package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type status struct {
	Healthy bool   `json:"healthy"`
	Groups  int    `json:"groups"`
	URL     string `json:"url"`
}

func exerciseCache(t *testing.T, c CacheService) {
	t.Helper()
	ctx := context.Background()

	var got status
	assert.ErrorIs(t, c.Get(ctx, "status", &got), ErrMiss)

	want := status{Healthy: true, Groups: 4, URL: "http://gptload:3001"}
	require.NoError(t, c.Set(ctx, "status", want, time.Minute))
	require.NoError(t, c.Get(ctx, "status", &got))
	assert.Equal(t, want, got)

	require.NoError(t, c.Delete(ctx, "status"))
	assert.ErrorIs(t, c.Get(ctx, "status", &got), ErrMiss)
}

func TestMemoryCache(t *testing.T) {
	exerciseCache(t, NewMemoryCache())
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", 1, time.Second))
	require.NoError(t, c.Set(ctx, "forever", 2, 0))

	now = now.Add(2 * time.Second)
	var v int
	assert.ErrorIs(t, c.Get(ctx, "k", &v), ErrMiss)
	require.NoError(t, c.Get(ctx, "forever", &v))
	assert.Equal(t, 2, v)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(context.Background(), RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	exerciseCache(t, c)
}

func TestRedisCache_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(context.Background(), RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 5*time.Second))
	assert.True(t, mr.Exists(keyPrefix+"k"))

	mr.FastForward(6 * time.Second)
	var v string
	assert.ErrorIs(t, c.Get(ctx, "k", &v), ErrMiss)
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(context.Background(), RedisOptions{Addr: addr})
	assert.Error(t, err)
}
