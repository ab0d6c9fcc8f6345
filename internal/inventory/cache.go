package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const estimateVersionKey = "inventory:estimates:version"

// Cache stores producibility estimates in Redis under a version that every
// stock change bumps, so stale entries are never read again.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, estimateVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, estimateVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, estimateVersionKey).Int64()
	}
	return ver, err
}

// HandleStockChanged bumps the version.
func (c *Cache) HandleStockChanged(ctx context.Context, _ StockChangedEvent) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, estimateVersionKey).Err()
}

// Producibility returns the cached estimate or computes it with loader.
func (c *Cache) Producibility(ctx context.Context, productID int64, loader func(context.Context) (Producibility, error)) (Producibility, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return loader(ctx)
	}
	key := fmt.Sprintf("inventory:estimates:%d:%d", productID, ver)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached Producibility
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return cached, nil
		}
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		result, err := loader(ctx)
		if err != nil {
			return Producibility{}, err
		}
		if body, err := json.Marshal(result); err == nil {
			_ = c.client.Set(ctx, key, body, c.ttl).Err()
		}
		return result, nil
	})
	if err != nil {
		return Producibility{}, err
	}
	return v.(Producibility), nil
}
