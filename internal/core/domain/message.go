package domain

import (
	"time"

	"github.com/google/uuid"
)

// GoalConflictMessage tells the user's buddies that a goal was violated.
type GoalConflictMessage struct {
	ID                 string    `json:"id"`
	UserAnonymizedID   string    `json:"user_anonymized_id"`
	DestinationID      string    `json:"destination_id"`
	GoalID             string    `json:"goal_id"`
	ActivityCategoryID string    `json:"activity_category_id"`
	ActivityID         string    `json:"activity_id"`
	DeviceAnonymizedID string    `json:"device_anonymized_id,omitempty"`
	URL                *string   `json:"url,omitempty"`
	ActivityStartTime  time.Time `json:"activity_start_time"`
	CreatedAt          time.Time `json:"created_at"`
}

func NewGoalConflictMessage(user *UserAnonymized, goal *Goal, activity *Activity, url *string, now time.Time) *GoalConflictMessage {
	return &GoalConflictMessage{
		ID:                 uuid.NewString(),
		UserAnonymizedID:   user.ID,
		DestinationID:      user.AnonymousDestinationID,
		GoalID:             goal.ID,
		ActivityCategoryID: goal.ActivityCategoryID,
		ActivityID:         activity.ID,
		DeviceAnonymizedID: activity.DeviceAnonymizedID,
		URL:                url,
		ActivityStartTime:  activity.StartTime,
		CreatedAt:          now.UTC(),
	}
}
