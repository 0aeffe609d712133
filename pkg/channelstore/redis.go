package channelstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPresence keeps one key per typing entry, "typing:{<channel>}:<user>",
// holding the display name. Entries expire after ttl unless rewritten, so a
// client that vanishes without clearing its entry does not type forever.
type RedisPresence struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisPresence(rdb *redis.Client, ttl time.Duration) *RedisPresence {
	return &RedisPresence{rdb: rdb, ttl: ttl}
}

func typingPrefix(channelID string) string {
	return "typing:{" + channelID + "}:"
}

func (p *RedisPresence) Set(ctx context.Context, channelID, userID, name string) error {
	if err := CheckChannel(channelID); err != nil {
		return err
	}
	if err := p.rdb.Set(ctx, typingPrefix(channelID)+userID, name, p.ttl).Err(); err != nil {
		return fmt.Errorf("set typing for %s in %s: %w", userID, channelID, err)
	}
	return nil
}

func (p *RedisPresence) Remove(ctx context.Context, channelID, userID string) error {
	if err := CheckChannel(channelID); err != nil {
		return err
	}
	if err := p.rdb.Del(ctx, typingPrefix(channelID)+userID).Err(); err != nil {
		return fmt.Errorf("remove typing for %s in %s: %w", userID, channelID, err)
	}
	return nil
}

func (p *RedisPresence) Typing(ctx context.Context, channelID string) (map[string]string, error) {
	if err := CheckChannel(channelID); err != nil {
		return nil, err
	}
	prefix := typingPrefix(channelID)

	var keys []string
	iter := p.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan typing keys for %s: %w", channelID, err)
	}

	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	names, err := p.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read typing names for %s: %w", channelID, err)
	}
	for i, v := range names {
		// Expired between SCAN and MGET.
		name, ok := v.(string)
		if !ok {
			continue
		}
		out[strings.TrimPrefix(keys[i], prefix)] = name
	}
	return out, nil
}
