package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/domain"
)

const DefaultActivityTTL = 24 * time.Hour

var (
	_ domain.ActivityCache = (*RedisActivityCache)(nil)
	_ domain.ActivityCache = (*MemoryActivityCache)(nil)
)

// RedisActivityCache stores the last activity of every (user, device, goal) slot as JSON.
type RedisActivityCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisActivityCache(rdb *redis.Client, ttl time.Duration) *RedisActivityCache {
	if ttl <= 0 {
		ttl = DefaultActivityTTL
	}
	return &RedisActivityCache{
		rdb:    rdb,
		ttl:    ttl,
		logger: slog.Default().With("component", "cache"),
	}
}

func activityKey(key domain.ActivityCacheKey) string {
	return fmt.Sprintf("activity:last:%s:%s:%s", key.UserAnonymizedID, key.DeviceAnonymizedID, key.GoalID)
}

func (c *RedisActivityCache) Fetch(ctx context.Context, key domain.ActivityCacheKey) (domain.CachedActivity, bool) {
	k := activityKey(key)

	val, err := c.rdb.Get(ctx, k).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Error("redis read error", "key", k, "error", err)
		}
		return domain.CachedActivity{}, false
	}

	var a domain.CachedActivity
	if err := json.Unmarshal([]byte(val), &a); err != nil {
		c.logger.Warn("corrupted activity, cleaning up key", "key", k, "error", err)
		c.rdb.Del(ctx, k)
		return domain.CachedActivity{}, false
	}
	return a, true
}

func (c *RedisActivityCache) Update(ctx context.Context, key domain.ActivityCacheKey, activity domain.CachedActivity) {
	k := activityKey(key)

	data, err := json.Marshal(activity)
	if err != nil {
		c.logger.Error("failed to encode activity", "key", k, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, k, data, c.ttl).Err(); err != nil {
		c.logger.Error("redis set error", "key", k, "error", err)
	}
}

// MemoryActivityCache is a process-local cache for single-instance runs and tests.
type MemoryActivityCache struct {
	mu    sync.RWMutex
	slots map[domain.ActivityCacheKey]domain.CachedActivity
}

func NewMemoryActivityCache() *MemoryActivityCache {
	return &MemoryActivityCache{
		slots: make(map[domain.ActivityCacheKey]domain.CachedActivity),
	}
}

func (c *MemoryActivityCache) Fetch(_ context.Context, key domain.ActivityCacheKey) (domain.CachedActivity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.slots[key]
	return a, ok
}

func (c *MemoryActivityCache) Update(_ context.Context, key domain.ActivityCacheKey, activity domain.CachedActivity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[key] = activity
}

// Clear empties every slot.
func (c *MemoryActivityCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots = make(map[domain.ActivityCacheKey]domain.CachedActivity)
}
