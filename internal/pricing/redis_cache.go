package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisCache keeps last-known prices in Redis so a fresh instance still has a price
// when the live source is down.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "rapidfund"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{client: client, prefix: trimmedPrefix + ":price", ttl: ttl}
}

func (c *RedisCache) key(symbol string) string {
	return fmt.Sprintf("%s:%s", c.prefix, strings.ToUpper(symbol))
}

func (c *RedisCache) Get(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	if c == nil || c.client == nil {
		return decimal.Zero, false, nil
	}
	raw, err := c.client.Get(ctx, c.key(symbol)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("cached price for %s is malformed: %w", symbol, err)
	}
	return price, true, nil
}

func (c *RedisCache) Set(ctx context.Context, symbol string, price decimal.Decimal) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, c.key(symbol), price.String(), c.ttl).Err()
}
