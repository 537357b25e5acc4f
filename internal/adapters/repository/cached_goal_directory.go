package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/domain"
)

var _ domain.GoalDirectory = (*CachedGoalDirectory)(nil)

const categoriesCacheKey = "activity_categories"

// CachedGoalDirectory keeps goals and activity categories in redis in front of another
// directory. Redis failures fall through to the next directory.
type CachedGoalDirectory struct {
	next   domain.GoalDirectory
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedGoalDirectory(next domain.GoalDirectory, cache *redis.Client, ttl time.Duration) *CachedGoalDirectory {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &CachedGoalDirectory{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: slog.Default().With("component", "cache"),
	}
}

func (r *CachedGoalDirectory) goalsKey(userID string) string {
	return fmt.Sprintf("goals:%s", userID)
}

func (r *CachedGoalDirectory) GetGoalsOfUser(ctx context.Context, userID string) ([]*domain.Goal, error) {
	key := r.goalsKey(userID)

	var goals []*domain.Goal
	if r.load(ctx, key, &goals) {
		return goals, nil
	}

	goals, err := r.next.GetGoalsOfUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.store(ctx, key, goals)
	return goals, nil
}

func (r *CachedGoalDirectory) GetActivityCategories(ctx context.Context) ([]*domain.ActivityCategory, error) {
	var categories []*domain.ActivityCategory
	if r.load(ctx, categoriesCacheKey, &categories) {
		return categories, nil
	}

	categories, err := r.next.GetActivityCategories(ctx)
	if err != nil {
		return nil, err
	}
	r.store(ctx, categoriesCacheKey, categories)
	return categories, nil
}

// InvalidateGoals drops the cached goals of the user.
func (r *CachedGoalDirectory) InvalidateGoals(ctx context.Context, userID string) {
	if err := r.cache.Del(ctx, r.goalsKey(userID)).Err(); err != nil {
		r.logger.Error("failed to invalidate goals", "user_anonymized_id", userID, "error", err)
	}
}

func (r *CachedGoalDirectory) InvalidateActivityCategories(ctx context.Context) {
	if err := r.cache.Del(ctx, categoriesCacheKey).Err(); err != nil {
		r.logger.Error("failed to invalidate activity categories", "error", err)
	}
}

func (r *CachedGoalDirectory) load(ctx context.Context, key string, dest any) bool {
	val, err := r.cache.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Error("redis read error", "key", key, "error", err)
		}
		return false
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		r.logger.Warn("corrupted data, cleaning up key", "key", key, "error", err)
		r.cache.Del(ctx, key)
		return false
	}
	return true
}

func (r *CachedGoalDirectory) store(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, data, r.ttl).Err(); err != nil {
		r.logger.Error("redis set error", "key", key, "error", err)
	}
}
