package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// addScript prunes expired entries, inserts the new member, counts the
// window and refreshes the key TTL in one atomic step. Returns the
// post-insert cardinality and the score of the oldest surviving entry.
const addScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local member = ARGV[3]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
redis.call('ZADD', key, now, member)
local count = redis.call('ZCARD', key)
redis.call('PEXPIRE', key, window)

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {count, oldest[2]}
`

const countScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
return redis.call('ZCARD', key)
`

// RedisStore keeps sliding-window entries in Redis sorted sets, scored by
// unix milliseconds. All mutations run as Lua scripts so concurrent pollers
// on different processes see a consistent counter.
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore creates a RedisStore over the given client.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Add implements Store.
func (s *RedisStore) Add(ctx context.Context, key, member string, now time.Time, window time.Duration) (int64, time.Duration, error) {
	res, err := s.rdb.Eval(ctx, addScript, []string{key}, now.UnixMilli(), window.Milliseconds(), member).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis rate limit add: %w", err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) < 1 {
		return 0, 0, fmt.Errorf("redis rate limit add: unexpected reply %T", res)
	}
	count, _ := arr[0].(int64)

	var oldestAge time.Duration
	if len(arr) > 1 {
		// ZRANGE WITHSCORES returns the score as a bulk string.
		if raw, ok := arr[1].(string); ok {
			var oldest float64
			if _, err := fmt.Sscanf(raw, "%f", &oldest); err == nil {
				oldestAge = time.Duration(now.UnixMilli()-int64(oldest)) * time.Millisecond
			}
		}
	}
	return count, oldestAge, nil
}

// Remove implements Store.
func (s *RedisStore) Remove(ctx context.Context, key, member string) error {
	if err := s.rdb.ZRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("redis rate limit remove: %w", err)
	}
	return nil
}

// Count implements Store.
func (s *RedisStore) Count(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	res, err := s.rdb.Eval(ctx, countScript, []string{key}, now.UnixMilli(), window.Milliseconds()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis rate limit count: %w", err)
	}
	count, _ := res.(int64)
	return count, nil
}
