package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Increments the window counter and opens the window on the first hit.
// A counter without expiry (left behind by a crashed writer) gets one.
// Returns {count, remaining ttl in ms}.
const fixedWindowLuaScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {current, ttl}
`

// DefaultRedisPrefix namespaces every key written by RedisStore.
const DefaultRedisPrefix = "signature-relay:"

// RedisStore shares window counters between relay replicas through Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	script *redis.Script
	now    func() time.Time
}

// NewRedisStore wraps an existing client. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		script: redis.NewScript(fixedWindowLuaScript),
		now:    time.Now,
	}
}

// NewRedisStoreFromURL connects to Redis and verifies the connection.
func NewRedisStoreFromURL(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisStore(client, prefix), nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Hit, error) {
	res, err := s.script.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Hit{}, fmt.Errorf("rate limit increment failed: %w", err)
	}
	if len(res) != 2 {
		return Hit{}, fmt.Errorf("unexpected rate limit script result: %v", res)
	}

	return Hit{
		Count:   res[0],
		ResetAt: s.now().Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("rate limit reset failed: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
