package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrInvalidUserID  = errors.New("invalid user id")
	ErrDeviceNotFound = errors.New("device not found")
)

// UserAnonymized is the pseudonymous side of a user the engine works with.
type UserAnonymized struct {
	ID                     string `json:"id" db:"id"`
	TimeZone               string `json:"time_zone" db:"time_zone"`
	AnonymousDestinationID string `json:"anonymous_destination_id" db:"anonymous_destination_id"`
}

func (u *UserAnonymized) Location() (*time.Location, error) {
	if u.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(u.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("user %s has an unknown time zone %q: %w", u.ID, u.TimeZone, err)
	}
	return loc, nil
}

// CurrentGoals drops history items.
func CurrentGoals(goals []*Goal) []*Goal {
	var current []*Goal
	for _, g := range goals {
		if !g.IsHistoryItem() {
			current = append(current, g)
		}
	}
	return current
}
