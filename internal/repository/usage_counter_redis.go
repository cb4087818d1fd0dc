package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// UsageCounter caches per-bucket usage totals. It is never authoritative:
// every value can be re-derived from the UsageRepository.
//
// Writers bracket each log append with Begin and Commit. Prime only fills a
// bucket when no write is in flight for the customer and the customer's
// version still matches the one read before the log was summed, so a total
// computed from the log can never miss or double count a concurrent write.
type UsageCounter interface {
	// Begin marks a usage write in flight for the customer.
	Begin(ctx context.Context, customerID string) error
	// Commit adds units to each existing key, skips missing ones, clears one
	// in-flight mark and advances the customer's version.
	Commit(ctx context.Context, customerID string, keys []string, units int64) error
	// Version returns the customer's write version, zero when unknown.
	Version(ctx context.Context, customerID string) (int64, error)
	Get(ctx context.Context, key string) (int64, bool, error)
	// Prime stores value for key unless the key exists, a write is in flight
	// or the version moved past version. It reports whether value was stored.
	Prime(ctx context.Context, customerID, key string, value, version int64) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// UsagePendingKey holds the number of in-flight writes for a customer.
func UsagePendingKey(customerID string) string {
	return "usage:" + customerID + ":pending"
}

// UsageVersionKey holds the customer's committed write count.
func UsageVersionKey(customerID string) string {
	return "usage:" + customerID + ":ver"
}

var beginWrite = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return n
`)

var commitWrite = redis.NewScript(`
local pending = tonumber(redis.call('GET', KEYS[1]) or '0')
if pending > 0 then
  redis.call('DECR', KEYS[1])
end
redis.call('INCR', KEYS[2])
for i = 3, #KEYS do
  if redis.call('EXISTS', KEYS[i]) == 1 then
    redis.call('INCRBY', KEYS[i], ARGV[1])
  end
end
return 1
`)

var primeBucket = redis.NewScript(`
if tonumber(redis.call('GET', KEYS[1]) or '0') > 0 then
  return 0
end
if tonumber(redis.call('GET', KEYS[2]) or '0') ~= tonumber(ARGV[2]) then
  return 0
end
if redis.call('SET', KEYS[3], ARGV[1], 'NX', 'PX', ARGV[3]) then
  return 1
end
return 0
`)

type redisUsageCounter struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisUsageCounter builds a counter cache on top of go-redis. ttl bounds
// both cached buckets and a stale in-flight mark left by a crashed writer.
func NewRedisUsageCounter(client *redis.Client, ttl time.Duration) UsageCounter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &redisUsageCounter{client: client, ttl: ttl}
}

func (c *redisUsageCounter) Begin(ctx context.Context, customerID string) error {
	return beginWrite.Run(ctx, c.client, []string{UsagePendingKey(customerID)}, c.ttl.Milliseconds()).Err()
}

func (c *redisUsageCounter) Commit(ctx context.Context, customerID string, keys []string, units int64) error {
	all := append([]string{UsagePendingKey(customerID), UsageVersionKey(customerID)}, keys...)
	return commitWrite.Run(ctx, c.client, all, units).Err()
}

func (c *redisUsageCounter) Version(ctx context.Context, customerID string) (int64, error) {
	v, err := c.client.Get(ctx, UsageVersionKey(customerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *redisUsageCounter) Get(ctx context.Context, key string) (int64, bool, error) {
	val, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

func (c *redisUsageCounter) Prime(ctx context.Context, customerID, key string, value, version int64) (bool, error) {
	keys := []string{UsagePendingKey(customerID), UsageVersionKey(customerID), key}
	stored, err := primeBucket.Run(ctx, c.client, keys, value, version, c.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

func (c *redisUsageCounter) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
