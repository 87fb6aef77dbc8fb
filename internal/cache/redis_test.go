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

func newRedisCache(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, "test:"), mr
}

func TestRedis_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))
	assert.True(t, mr.Exists("test:a"), "keys are namespaced")

	v, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, c.Delete(ctx, "a", "b"))
	require.NoError(t, c.Delete(ctx))
	_, ok, err = c.Get(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_Expiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_ServerDown(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)
	mr.Close()

	_, _, err := c.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, c.Set(ctx, "k", []byte("v"), time.Minute))
}
