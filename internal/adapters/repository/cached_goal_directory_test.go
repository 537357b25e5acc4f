package repository

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/domain"
)

type countingGoalDirectory struct {
	domain.GoalDirectory
	goalCalls, categoryCalls int
}

func (c *countingGoalDirectory) GetGoalsOfUser(ctx context.Context, userID string) ([]*domain.Goal, error) {
	c.goalCalls++
	return c.GoalDirectory.GetGoalsOfUser(ctx, userID)
}

func (c *countingGoalDirectory) GetActivityCategories(ctx context.Context) ([]*domain.ActivityCategory, error) {
	c.categoryCalls++
	return c.GoalDirectory.GetActivityCategories(ctx)
}

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	_ = godotenv.Load("../../../.env")

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(envOr("REDIS_HOST", "localhost"), envOr("REDIS_PORT", "6379")),
		Password: envOr("REDIS_PASSWORD", ""),
		DB:       2,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		t.Skipf("Skipping integration test (Redis down): %v", err)
	}
	rdb.FlushDB(context.Background())
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestCachedGoalDirectory_Integration(t *testing.T) {
	rdb := setupTestRedis(t)
	ctx := context.Background()

	store := NewInMemoryStore()
	store.AddActivityCategory(&domain.ActivityCategory{ID: "gambling", NetworkCategories: []string{"poker"}})
	goal := newTestGoal(t, "user-1")
	store.AddGoal(goal)

	next := &countingGoalDirectory{GoalDirectory: store}
	dir := NewCachedGoalDirectory(next, rdb, time.Minute)

	t.Run("Second read is served from redis", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			goals, err := dir.GetGoalsOfUser(ctx, "user-1")
			require.NoError(t, err)
			require.Len(t, goals, 1)
			assert.Equal(t, goal.ID, goals[0].ID)
			assert.True(t, goal.CreationTime.Equal(goals[0].CreationTime))

			categories, err := dir.GetActivityCategories(ctx)
			require.NoError(t, err)
			require.Len(t, categories, 1)
		}
		assert.Equal(t, 1, next.goalCalls)
		assert.Equal(t, 1, next.categoryCalls)
	})

	t.Run("Invalidation forces a reload", func(t *testing.T) {
		dir.InvalidateGoals(ctx, "user-1")
		dir.InvalidateActivityCategories(ctx)

		_, err := dir.GetGoalsOfUser(ctx, "user-1")
		require.NoError(t, err)
		_, err = dir.GetActivityCategories(ctx)
		require.NoError(t, err)

		assert.Equal(t, 2, next.goalCalls)
		assert.Equal(t, 2, next.categoryCalls)
	})

	t.Run("Corrupted entry is dropped", func(t *testing.T) {
		require.NoError(t, rdb.Set(ctx, "goals:user-1", "{not json", time.Minute).Err())

		goals, err := dir.GetGoalsOfUser(ctx, "user-1")
		require.NoError(t, err)
		assert.Len(t, goals, 1)
		assert.Equal(t, 3, next.goalCalls)
	})
}

func TestCachedGoalDirectory_RedisDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:9999", DialTimeout: 100 * time.Millisecond})
	defer rdb.Close()

	store := NewInMemoryStore()
	store.AddGoal(newTestGoal(t, "user-1"))
	next := &countingGoalDirectory{GoalDirectory: store}
	dir := NewCachedGoalDirectory(next, rdb, 0)

	goals, err := dir.GetGoalsOfUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, goals, 1)
	assert.Equal(t, 1, next.goalCalls)
}
