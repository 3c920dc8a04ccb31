package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// ClosingBalanceCache memoizes prior-month closing balances keyed by
// owner and month. Mutating services invalidate affected keys in the same
// call path that commits the underlying change.
type ClosingBalanceCache interface {
	Get(ctx context.Context, key string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, key string, value decimal.Decimal, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ClosingKey builds the cache key for an owner's month closing balance.
// month must be the first day of the month in UTC.
func ClosingKey(ownerType string, ownerID int64, month time.Time) string {
	return fmt.Sprintf("balance.closing:%s:%d:%s", ownerType, ownerID, month.UTC().Format("2006-01"))
}

type memoryClosingCache struct {
	inner Cache[string, decimal.Decimal]
}

// NewMemoryClosingCache returns the in-process implementation.
func NewMemoryClosingCache() ClosingBalanceCache {
	return &memoryClosingCache{inner: NewTTLCache[string, decimal.Decimal]()}
}

func (c *memoryClosingCache) Get(_ context.Context, key string) (decimal.Decimal, bool, error) {
	value, ok := c.inner.Get(key)
	return value, ok, nil
}

func (c *memoryClosingCache) Set(_ context.Context, key string, value decimal.Decimal, ttl time.Duration) error {
	c.inner.Set(key, value, ttl)
	return nil
}

func (c *memoryClosingCache) Delete(_ context.Context, key string) error {
	c.inner.Delete(key)
	return nil
}

type redisClosingCache struct {
	client *redis.Client
}

// NewRedisClosingCache returns the redis-backed implementation used when
// several nodes serve reports against the same ledger.
func NewRedisClosingCache(client *redis.Client) ClosingBalanceCache {
	return &redisClosingCache{client: client}
}

func (c *redisClosingCache) Get(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, err
	}
	return value, true, nil
}

func (c *redisClosingCache) Set(ctx context.Context, key string, value decimal.Decimal, ttl time.Duration) error {
	return c.client.Set(ctx, key, value.String(), ttl).Err()
}

func (c *redisClosingCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
