package attribution

import (
	"context"
	"errors"
	"time"

	pkgredis "github.com/couponhub/backend/pkg/redis"
)

const codeCachePrefix = "attribution:code:"

// CodeCache memoizes referral code resolution. Get returns nil, nil on a miss.
type CodeCache interface {
	Get(ctx context.Context, code string) (*Resolution, error)
	Set(ctx context.Context, res *Resolution) error
}

// RedisCodeCache stores resolutions in Redis. Codes never change owner, so only the
// campaign's active flag can go stale, bounded by ttl.
type RedisCodeCache struct {
	client *pkgredis.Client
	ttl    time.Duration
}

// NewRedisCodeCache creates a Redis-backed code cache.
func NewRedisCodeCache(client *pkgredis.Client, ttl time.Duration) *RedisCodeCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCodeCache{client: client, ttl: ttl}
}

// Get implements CodeCache.
func (c *RedisCodeCache) Get(ctx context.Context, code string) (*Resolution, error) {
	var res Resolution
	err := c.client.GetJSON(ctx, codeCachePrefix+code, &res)
	if errors.Is(err, pkgredis.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Set implements CodeCache.
func (c *RedisCodeCache) Set(ctx context.Context, res *Resolution) error {
	return c.client.SetJSON(ctx, codeCachePrefix+res.ReferralCode, res, c.ttl)
}
