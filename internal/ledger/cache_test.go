package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) (*RedisBalanceCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBalanceCache(client, "cd:", time.Minute, quietLogger()), mr
}

func TestRedisBalanceCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	_, ok := c.Get(ctx, UserScope("u1"))
	assert.False(t, ok)

	c.Set(ctx, UserScope("u1"), 42)
	v, ok := c.Get(ctx, UserScope("u1"))
	require.True(t, ok)
	assert.Equal(t, int64(42), v)

	raw, err := mr.Get("cd:balance:user:u1")
	require.NoError(t, err)
	assert.Equal(t, "42", raw)

	c.Invalidate(ctx, UserScope("u1"))
	_, ok = c.Get(ctx, UserScope("u1"))
	assert.False(t, ok)
}

func TestRedisBalanceCache_TTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	c.Set(ctx, OrgScope("o1"), 7)
	mr.FastForward(2 * time.Minute)
	_, ok := c.Get(ctx, OrgScope("o1"))
	assert.False(t, ok)
}

func TestRedisBalanceCache_DegradesToMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	require.NoError(t, mr.Set("cd:balance:user:u1", "not-a-number"))
	_, ok := c.Get(ctx, UserScope("u1"))
	assert.False(t, ok)
}

func TestLedger_WithRedisHint(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t)
	l := New(NewMemoryStore(), c, quietLogger())

	_, err := l.Grant(ctx, UserScope("u1"), 100, "", "")
	require.NoError(t, err)

	v, ok := c.Get(ctx, UserScope("u1"))
	require.True(t, ok)
	assert.Equal(t, int64(100), v)
}
