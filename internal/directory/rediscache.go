package directory

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a read-through cache in front of another Directory. Policy
// lookups happen on every inbound message, so a short TTL keeps load off the
// store without letting blacklist changes lag noticeably. Cache failures are
// never surfaced: reads fall through to the inner directory.
type RedisCache struct {
	inner Directory
	rdb   *redis.Client
	ttl   time.Duration
}

// NewRedisCache wraps inner with a Redis read-through cache.
func NewRedisCache(inner Directory, addr, password string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{
		inner: inner,
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		ttl: ttl,
	}
}

func (c *RedisCache) cached(ctx context.Context, key string, load func() ([]string, error)) ([]string, error) {
	if raw, err := c.rdb.Get(ctx, key).Result(); err == nil {
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			return list, nil
		}
	}

	list, err := load()
	if err != nil {
		return nil, err
	}

	if data, merr := json.Marshal(list); merr == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			slog.Debug("directory cache set failed", "key", key, "error", err)
		}
	}
	return list, nil
}

func (c *RedisCache) Blacklist(ctx context.Context, tenantID string) ([]string, error) {
	key := "dir:bl:" + Normalize(tenantID)
	return c.cached(ctx, key, func() ([]string, error) { return c.inner.Blacklist(ctx, tenantID) })
}

func (c *RedisCache) TestList(ctx context.Context, tenantID string) ([]string, error) {
	key := "dir:test:" + Normalize(tenantID)
	return c.cached(ctx, key, func() ([]string, error) { return c.inner.TestList(ctx, tenantID) })
}

// AppendBlacklist writes through and invalidates the cached blacklist so the
// block takes effect on the very next message.
func (c *RedisCache) AppendBlacklist(ctx context.Context, tenantID, userID string) error {
	if err := c.inner.AppendBlacklist(ctx, tenantID, userID); err != nil {
		return err
	}
	if err := c.rdb.Del(ctx, "dir:bl:"+Normalize(tenantID)).Err(); err != nil {
		slog.Debug("directory cache invalidate failed", "tenant", tenantID, "error", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	cerr := c.rdb.Close()
	if err := c.inner.Close(); err != nil {
		return err
	}
	return cerr
}
