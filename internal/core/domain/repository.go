package domain

import (
	"context"
	"time"
)

// TxManager runs fn inside one transaction. Repositories pick the transaction up from the
// context handed to fn.
type TxManager interface {
	Within(ctx context.Context, fn func(ctx context.Context) error) error
}

type ActivityRepository interface {
	// FindDayActivity retrieves the day of goal that starts at date, or ErrDayActivityNotFound.
	FindDayActivity(ctx context.Context, userID string, date time.Time, goal *Goal) (*DayActivity, error)

	// FindWeekActivity retrieves the week starting at weekStart together with its days,
	// or ErrWeekActivityNotFound.
	FindWeekActivity(ctx context.Context, userID string, goal *Goal, weekStart time.Time) (*WeekActivity, error)

	// SaveDayActivity upserts the day and all its activities.
	SaveDayActivity(ctx context.Context, day *DayActivity) error

	// SaveWeekActivity upserts the week row only. Days are saved on their own.
	SaveWeekActivity(ctx context.Context, week *WeekActivity) error

	// FindOverlappingActivitiesOfSameApp returns the persisted activities of the day whose
	// app equals app (nil matches nil) and which touch [start, end], ordered by start time.
	FindOverlappingActivitiesOfSameApp(ctx context.Context, day *DayActivity, app *string, start, end time.Time) ([]*Activity, error)
}

type UserDirectory interface {
	// GetUserAnonymized returns the user or ErrUserNotFound.
	GetUserAnonymized(ctx context.Context, userID string) (*UserAnonymized, error)
}

type GoalDirectory interface {
	// GetGoalsOfUser returns all goals of the user, history items included.
	GetGoalsOfUser(ctx context.Context, userID string) ([]*Goal, error)

	// GetActivityCategories returns a point-in-time snapshot of all categories.
	GetActivityCategories(ctx context.Context) ([]*ActivityCategory, error)
}

type DeviceDirectory interface {
	// ResolveAnonymizedDeviceID maps a device of the user to its anonymized id,
	// or ErrDeviceNotFound.
	ResolveAnonymizedDeviceID(ctx context.Context, userID, deviceID string) (string, error)
}

type MessageSender interface {
	SendGoalConflictMessage(ctx context.Context, msg *GoalConflictMessage) error
}

// ActivityCacheKey partitions the cache by user, device and goal.
type ActivityCacheKey struct {
	UserAnonymizedID   string
	DeviceAnonymizedID string
	GoalID             string
}

// CachedActivity is the last registered activity of a cache slot.
type CachedActivity struct {
	ActivityID    string    `json:"activity_id"`
	DayActivityID string    `json:"day_activity_id"`
	App           *string   `json:"app,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
}

func NewCachedActivity(a *Activity) CachedActivity {
	c := a.Clone()
	return CachedActivity{
		ActivityID:    c.ID,
		DayActivityID: c.DayActivityID,
		App:           c.App,
		StartTime:     c.StartTime,
		EndTime:       c.EndTime,
	}
}

// ActivityCache is best effort. A miss, or any backend failure, reads as "no recent activity".
type ActivityCache interface {
	Fetch(ctx context.Context, key ActivityCacheKey) (CachedActivity, bool)

	// Update overwrites the slot.
	Update(ctx context.Context, key ActivityCacheKey, activity CachedActivity)
}
