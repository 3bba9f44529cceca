package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*Limiter, *redis.Client) {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client, nil), client
}

func TestLimiter_AllowWithinWindow(t *testing.T) {
	l, client := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "bridge:rl:test:", Limit: 3, Window: time.Minute}
	id := "client-" + time.Now().Format("150405.000000000")
	t.Cleanup(func() { client.Del(ctx, rule.Key+id) })

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, id, rule)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := l.Allow(ctx, id, rule)
	require.NoError(t, err)
	assert.False(t, ok)

	left, err := l.Remaining(ctx, id, rule)
	require.NoError(t, err)
	assert.Equal(t, 0, left)
}

func TestLimiter_FirstHitStartsWindow(t *testing.T) {
	l, client := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "bridge:rl:test:", Limit: 5, Window: 30 * time.Second}
	id := "window-" + time.Now().Format("150405.000000000")
	t.Cleanup(func() { client.Del(ctx, rule.Key+id) })

	u, err := l.Hit(ctx, id, rule)
	require.NoError(t, err)
	assert.Equal(t, 1, u.Count)
	assert.Greater(t, u.ResetIn, time.Duration(0))
	assert.LessOrEqual(t, u.ResetIn, rule.Window)

	ttl, err := client.PTTL(ctx, rule.Key+id).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	u, err = l.Hit(ctx, id, rule)
	require.NoError(t, err)
	assert.Equal(t, 2, u.Count)
}

func TestLimiter_FailsOpenWithoutRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { client.Close() })
	l := NewLimiter(client, nil)

	ok, err := l.Allow(context.Background(), "c", RuleSend)
	assert.True(t, ok)
	assert.Error(t, err)

	left, err := l.Remaining(context.Background(), "c", RuleSend)
	assert.Error(t, err)
	assert.Equal(t, RuleSend.Limit, left)
}

func TestLimiter_RemainingUnknown(t *testing.T) {
	l, _ := newTestLimiter(t)
	left, err := l.Remaining(context.Background(), "never-seen", RuleSend)
	require.NoError(t, err)
	assert.Equal(t, RuleSend.Limit, left)
}

func TestLocal_Burst(t *testing.T) {
	l := NewLocal(0)
	rule := Rule{Key: "rl:test:", Limit: 2, Window: time.Hour}

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(context.Background(), "a", rule)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(context.Background(), "a", rule)
	assert.False(t, ok)

	ok, _ = l.Allow(context.Background(), "b", rule)
	assert.True(t, ok, "identifiers are independent")
}

func TestLocal_ResetsWhenFull(t *testing.T) {
	l := NewLocal(1)
	rule := Rule{Key: "rl:test:", Limit: 1, Window: time.Hour}

	ok, _ := l.Allow(context.Background(), "a", rule)
	assert.True(t, ok)
	ok, _ = l.Allow(context.Background(), "b", rule)
	assert.True(t, ok)
	ok, _ = l.Allow(context.Background(), "a", rule)
	assert.True(t, ok, "table reset forgets a")
}
