package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// AnalysisCache memoizes engine results in redis, keyed by position and
// strength, so repeated captures of the same position skip the search.
type AnalysisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewAnalysisCache wraps a redis client.
func NewAnalysisCache(rdb *redis.Client, ttl time.Duration) *AnalysisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AnalysisCache{rdb: rdb, prefix: "analysis:", ttl: ttl}
}

// Dial connects to addr and verifies the server answers.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (c *AnalysisCache) key(k string) string { return c.prefix + strings.TrimSpace(k) }

// Load decodes the cached value for key into out.
func (c *AnalysisCache) Load(ctx context.Context, key string, out any) (bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode cached analysis: %w", err)
	}
	return true, nil
}

// Store saves v under key with the cache TTL.
func (c *AnalysisCache) Store(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(key), raw, c.ttl).Err()
}
