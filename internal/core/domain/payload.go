package domain

import (
	"strings"
	"time"
)

// ActivityPayload is a classified event, ready to be recorded against a goal.
type ActivityPayload struct {
	UserAnonymizedID   string
	DeviceAnonymizedID string
	StartTime          time.Time
	EndTime            time.Time
	App                *string
	URL                *string
}

func NewActivityPayload(userID, deviceAnonymizedID string, start, end time.Time, app, url *string) (ActivityPayload, error) {
	p := ActivityPayload{
		UserAnonymizedID:   userID,
		DeviceAnonymizedID: deviceAnonymizedID,
		StartTime:          start,
		EndTime:            end,
		App:                normalizeApp(app),
		URL:                url,
	}
	if err := p.Validate(); err != nil {
		return ActivityPayload{}, err
	}
	return p, nil
}

func (p ActivityPayload) Validate() error {
	if strings.TrimSpace(p.UserAnonymizedID) == "" {
		return ErrInvalidUserID
	}
	if p.StartTime.IsZero() || p.EndTime.IsZero() || p.EndTime.Before(p.StartTime) {
		return ErrInvalidActivity
	}
	return nil
}

func (p ActivityPayload) Duration() time.Duration {
	return p.EndTime.Sub(p.StartTime)
}

// WithMinimumDuration widens a payload shorter than a minute by moving its end.
func (p ActivityPayload) WithMinimumDuration() ActivityPayload {
	if p.Duration() < MinimumActivityDuration {
		p.EndTime = p.StartTime.Add(MinimumActivityDuration)
	}
	return p
}

func (p ActivityPayload) In(loc *time.Location) ActivityPayload {
	p.StartTime = p.StartTime.In(loc)
	p.EndTime = p.EndTime.In(loc)
	return p
}

// SplitAtMidnights cuts the payload at every local midnight strictly inside it, using the
// location of StartTime.
func (p ActivityPayload) SplitAtMidnights() []ActivityPayload {
	var parts []ActivityPayload
	cur := p
	for {
		midnight := StartOfDay(cur.StartTime).AddDate(0, 0, 1)
		if !cur.EndTime.After(midnight) {
			return append(parts, cur)
		}
		head := cur
		head.EndTime = midnight
		parts = append(parts, head)
		cur.StartTime = midnight
	}
}

func (p ActivityPayload) Date() time.Time {
	return StartOfDay(p.StartTime)
}
