package channelstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPresence_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()

	channel := "presence-test-" + time.Now().Format("150405.000000")
	p := NewRedisPresence(rdb, 2*time.Second)
	t.Cleanup(func() {
		p.Remove(ctx, channel, "u1")
		p.Remove(ctx, channel, "u2")
	})

	require.NoError(t, p.Set(ctx, channel, "u1", "Ann"))
	require.NoError(t, p.Set(ctx, channel, "u2", "Bob"))
	require.NoError(t, p.Set(ctx, channel+"x", "u3", "Cid"))
	defer p.Remove(ctx, channel+"x", "u3")

	typing, err := p.Typing(ctx, channel)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"u1": "Ann", "u2": "Bob"}, typing)

	require.NoError(t, p.Remove(ctx, channel, "u1"))
	typing, err = p.Typing(ctx, channel)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"u2": "Bob"}, typing)

	ttl, err := rdb.TTL(ctx, typingPrefix(channel)+"u2").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisPresence_RejectsBadChannel(t *testing.T) {
	p := NewRedisPresence(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), time.Second)
	ctx := context.Background()

	assert.ErrorIs(t, p.Set(ctx, "a*b", "u1", "Ann"), ErrInvalidChannel)
	assert.ErrorIs(t, p.Remove(ctx, "", "u1"), ErrInvalidChannel)
	_, err := p.Typing(ctx, "[x]")
	assert.ErrorIs(t, err, ErrInvalidChannel)
}
