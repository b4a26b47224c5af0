package rebac

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// setIfGenerationScript writes KEYS[2] only if the generation counter at
// KEYS[1] (missing means 0) equals ARGV[1].
var setIfGenerationScript = redis.NewScript(`
	local gen = redis.call('GET', KEYS[1])
	if gen == false then gen = '0' end
	if gen ~= ARGV[1] then
		return 0
	end
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
	return 1
`)

// RedisCache implements Cache using Redis so every replica shares decisions
// and generation counters.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a new Redis-based decision cache.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "flowstudio:authz:"
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *RedisCache) generationKey(ns Namespace, objectID string) string {
	return c.prefix + "gen:" + string(ns) + ":" + objectID
}

func (c *RedisCache) decisionKey(key CacheKey) string {
	return c.prefix + "check:" + key.String()
}

// Generation returns the object's invalidation counter; a missing key is 0.
func (c *RedisCache) Generation(ctx context.Context, ns Namespace, objectID string) (uint64, error) {
	result, err := c.client.Get(ctx, c.generationKey(ns, objectID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis cache: read generation failed: %w", err)
	}
	gen, err := strconv.ParseUint(result, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis cache: parse generation failed: %w", err)
	}
	return gen, nil
}

func (c *RedisCache) Get(ctx context.Context, key CacheKey) (bool, bool, error) {
	result, err := c.client.Get(ctx, c.decisionKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("redis cache: get failed: %w", err)
	}
	return result == "1", true, nil
}

// Set stores a decision only while the object's generation still matches,
// using a Lua script so the compare and the write are atomic.
func (c *RedisCache) Set(ctx context.Context, key CacheKey, allowed bool) error {
	value := "0"
	if allowed {
		value = "1"
	}

	keys := []string{c.generationKey(key.Namespace, key.ObjectID), c.decisionKey(key)}
	_, err := setIfGenerationScript.Run(ctx, c.client, keys,
		strconv.FormatUint(key.Generation, 10), value, c.ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("redis cache: set failed: %w", err)
	}
	return nil
}

// InvalidateObject bumps the object's generation. Decisions stored under the
// old generation are never read again and expire with their TTL.
func (c *RedisCache) InvalidateObject(ctx context.Context, ns Namespace, objectID string) error {
	if err := c.client.Incr(ctx, c.generationKey(ns, objectID)).Err(); err != nil {
		return fmt.Errorf("redis cache: invalidate failed: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var _ Cache = (*RedisCache)(nil)
