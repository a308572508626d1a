package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL constants
const (
	TTLPendingCount = 1 * time.Minute  // pending-entry badge (near real time)
	TTLSeen         = 24 * time.Hour   // last-seen markers per moderator
	TTLDefault      = 5 * time.Minute  // fallback
	TTLNewest       = 30 * time.Second // newest-entry timestamp
)

// Cache key prefixes
const (
	PrefixQueue  = "modqueue:"
	KeyNewest    = PrefixQueue + "newest"  // timestamp of most recent queued entry
	KeyPending   = PrefixQueue + "pending" // pending-entry count
	PrefixSeen   = PrefixQueue + "seen:"   // per-moderator last-seen timestamp
)

// Service is the moderation notification cache. The moderator UI polls the
// newest-entry timestamp against its own last-seen marker to show the
// "new entries" badge without hitting the entry table.
type Service interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// BumpNewest records that an entry was just queued.
	BumpNewest(ctx context.Context, at time.Time) error
	// Newest returns the queued-entry high-water timestamp, zero if unset.
	Newest(ctx context.Context) (time.Time, error)

	// PendingCount caching for the badge endpoint.
	SetPendingCount(ctx context.Context, n int64) error
	PendingCount(ctx context.Context) (int64, bool, error)
	InvalidatePendingCount(ctx context.Context) error

	// MarkSeen / LastSeen track when a moderator last opened the queue.
	MarkSeen(ctx context.Context, moderatorID string, at time.Time) error
	LastSeen(ctx context.Context, moderatorID string) (time.Time, error)

	IsAvailable() bool
	Ping(ctx context.Context) error
}

// redisCache Redis-backed implementation
type redisCache struct {
	client *redis.Client
}

// NewRedisCache creates a redis-backed cache service
func NewRedisCache(client *redis.Client) Service {
	return &redisCache{client: client}
}

func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal failed: %w", err)
	}
	if ttl <= 0 {
		ttl = TTLDefault
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *redisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *redisCache) BumpNewest(ctx context.Context, at time.Time) error {
	return c.client.Set(ctx, KeyNewest, at.UTC().Format(time.RFC3339Nano), 0).Err()
}

func (c *redisCache) Newest(ctx context.Context) (time.Time, error) {
	s, err := c.client.Get(ctx, KeyNewest).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}

func (c *redisCache) SetPendingCount(ctx context.Context, n int64) error {
	return c.client.Set(ctx, KeyPending, n, TTLPendingCount).Err()
}

func (c *redisCache) PendingCount(ctx context.Context) (int64, bool, error) {
	n, err := c.client.Get(ctx, KeyPending).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (c *redisCache) InvalidatePendingCount(ctx context.Context) error {
	return c.client.Del(ctx, KeyPending).Err()
}

func (c *redisCache) MarkSeen(ctx context.Context, moderatorID string, at time.Time) error {
	return c.client.Set(ctx, PrefixSeen+moderatorID, at.UTC().Format(time.RFC3339Nano), TTLSeen).Err()
}

func (c *redisCache) LastSeen(ctx context.Context, moderatorID string) (time.Time, error) {
	s, err := c.client.Get(ctx, PrefixSeen+moderatorID).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}

func (c *redisCache) IsAvailable() bool {
	return c.client != nil
}

func (c *redisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// noopCache degrades gracefully when Redis is not configured; the queue keeps
// working, only the notification badge goes stale.
type noopCache struct{}

// NewNoopCache returns a cache service that stores nothing
func NewNoopCache() Service { return noopCache{} }

func (noopCache) Get(context.Context, string, interface{}) error                { return redis.Nil }
func (noopCache) Set(context.Context, string, interface{}, time.Duration) error { return nil }
func (noopCache) Delete(context.Context, ...string) error                       { return nil }
func (noopCache) BumpNewest(context.Context, time.Time) error                   { return nil }
func (noopCache) Newest(context.Context) (time.Time, error)                     { return time.Time{}, nil }
func (noopCache) SetPendingCount(context.Context, int64) error                  { return nil }
func (noopCache) PendingCount(context.Context) (int64, bool, error)             { return 0, false, nil }
func (noopCache) InvalidatePendingCount(context.Context) error                  { return nil }
func (noopCache) MarkSeen(context.Context, string, time.Time) error             { return nil }
func (noopCache) LastSeen(context.Context, string) (time.Time, error)           { return time.Time{}, nil }
func (noopCache) IsAvailable() bool                                             { return false }
func (noopCache) Ping(context.Context) error                                    { return nil }
