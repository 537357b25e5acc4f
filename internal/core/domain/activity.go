package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrActivityNotFound   = errors.New("activity not found")
	ErrInvalidActivity    = errors.New("invalid activity data")
	ErrActivityOutsideDay = errors.New("activity does not fall within its day")
)

// MinimumActivityDuration is the shortest interval the engine records.
const MinimumActivityDuration = time.Minute

// Activity is one contiguous interval [StartTime, EndTime) of matched usage.
type Activity struct {
	ID                 string    `json:"id" db:"id"`
	DayActivityID      string    `json:"day_activity_id" db:"day_activity_id"`
	DeviceAnonymizedID string    `json:"device_anonymized_id,omitempty" db:"device_anonymized_id"`
	App                *string   `json:"app,omitempty" db:"app"`
	StartTime          time.Time `json:"start_time" db:"start_time"`
	EndTime            time.Time `json:"end_time" db:"end_time"`
}

func NewActivity(deviceAnonymizedID string, app *string, start, end time.Time) (*Activity, error) {
	a := &Activity{
		ID:                 uuid.NewString(),
		DeviceAnonymizedID: deviceAnonymizedID,
		App:                normalizeApp(app),
		StartTime:          start,
		EndTime:            end,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Activity) Validate() error {
	if a.StartTime.IsZero() || a.EndTime.IsZero() {
		return errors.New("start_time and end_time are required")
	}
	if a.EndTime.Before(a.StartTime) {
		return ErrInvalidActivity
	}
	return nil
}

func (a *Activity) Duration() time.Duration {
	return a.EndTime.Sub(a.StartTime)
}

// DurationMinutes is the duration rounded down to whole minutes.
func (a *Activity) DurationMinutes() int {
	return int(a.Duration() / time.Minute)
}

// Overlaps reports whether the activity touches or intersects [start, end].
func (a *Activity) Overlaps(start, end time.Time) bool {
	return !a.StartTime.After(end) && !a.EndTime.Before(start)
}

func (a *Activity) IsOfApp(app *string) bool {
	return SameApp(a.App, app)
}

func (a *Activity) Clone() *Activity {
	c := *a
	if a.App != nil {
		app := *a.App
		c.App = &app
	}
	return &c
}

// SameApp treats two missing apps as equal, so network activities combine with each other.
func SameApp(a, b *string) bool {
	a, b = normalizeApp(a), normalizeApp(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func normalizeApp(app *string) *string {
	if app == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*app)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
