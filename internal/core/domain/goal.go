package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrGoalNotFound           = errors.New("goal not found")
	ErrInvalidGoalType        = errors.New("invalid goal type (must be budget or time_zone)")
	ErrInvalidGoalCategory    = errors.New("invalid activity category id")
	ErrNegativeBudget         = errors.New("max duration minutes cannot be negative")
	ErrInvalidTimeWindow      = errors.New("invalid time window (must be HH:MM-HH:MM, quarter-hour aligned)")
	ErrOverlappingTimeWindows = errors.New("time windows cannot overlap")
	ErrMissingTimeWindows     = errors.New("time zone goal needs at least one window")
	ErrMandatoryNoGo          = errors.New("activity category only allows no-go budget goals")
)

const (
	GoalTypeBudget   = "budget"
	GoalTypeTimeZone = "time_zone"
)

// Goal is a per-user policy on one activity category. Type selects which of
// MaxDurationMinutes or Zones is meaningful.
type Goal struct {
	ID                 string     `json:"id" db:"id"`
	UserAnonymizedID   string     `json:"user_anonymized_id" db:"user_anonymized_id"`
	ActivityCategoryID string     `json:"activity_category_id" db:"activity_category_id"`
	Type               string     `json:"type" db:"type"`
	MaxDurationMinutes int        `json:"max_duration_minutes,omitempty" db:"max_duration_minutes"`
	Zones              []string   `json:"zones,omitempty" db:"zones"`
	CreationTime       time.Time  `json:"creation_time" db:"creation_time"`
	EndTime            *time.Time `json:"end_time,omitempty" db:"end_time"`
}

func NewBudgetGoal(userID, categoryID string, maxDurationMinutes int, created time.Time) (*Goal, error) {
	g := &Goal{
		ID:                 uuid.NewString(),
		UserAnonymizedID:   userID,
		ActivityCategoryID: categoryID,
		Type:               GoalTypeBudget,
		MaxDurationMinutes: maxDurationMinutes,
		CreationTime:       created,
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func NewTimeZoneGoal(userID, categoryID string, zones []string, created time.Time) (*Goal, error) {
	g := &Goal{
		ID:                 uuid.NewString(),
		UserAnonymizedID:   userID,
		ActivityCategoryID: categoryID,
		Type:               GoalTypeTimeZone,
		Zones:              append([]string(nil), zones...),
		CreationTime:       created,
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Goal) Validate() error {
	if strings.TrimSpace(g.UserAnonymizedID) == "" {
		return ErrInvalidUserID
	}
	if strings.TrimSpace(g.ActivityCategoryID) == "" {
		return ErrInvalidGoalCategory
	}
	_, err := g.Policy()
	return err
}

// ValidateFor checks the goal against the rules of its activity category.
func (g *Goal) ValidateFor(category *ActivityCategory) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if category.MandatoryNoGo && !g.IsNoGoGoal() {
		return ErrMandatoryNoGo
	}
	return nil
}

func (g *Goal) Policy() (GoalPolicy, error) {
	switch g.Type {
	case GoalTypeBudget:
		if g.MaxDurationMinutes < 0 {
			return nil, ErrNegativeBudget
		}
		return BudgetPolicy{MaxDurationMinutes: g.MaxDurationMinutes}, nil
	case GoalTypeTimeZone:
		return NewTimeZonePolicy(g.Zones)
	default:
		return nil, ErrInvalidGoalType
	}
}

// MinutesBeyondGoal evaluates a day's aggregates against the goal. A goal that no longer
// parses counts every minute as beyond.
func (g *Goal) MinutesBeyondGoal(spread Spread, totalMinutes int) int {
	policy, err := g.Policy()
	if err != nil {
		return totalMinutes
	}
	return policy.MinutesBeyondGoal(spread, totalMinutes)
}

func (g *Goal) IsNoGoGoal() bool {
	return g.Type == GoalTypeBudget && g.MaxDurationMinutes == 0
}

func (g *Goal) IsHistoryItem() bool {
	return g.EndTime != nil
}

// AppliesTo reports whether activity ending at t is governed by this goal.
func (g *Goal) AppliesTo(t time.Time) bool {
	return !g.IsHistoryItem() && !g.CreationTime.After(t)
}

// CloneAsHistoryItem freezes the current settings of the goal, ending at end.
func (g *Goal) CloneAsHistoryItem(end time.Time) *Goal {
	c := *g
	c.ID = uuid.NewString()
	c.Zones = append([]string(nil), g.Zones...)
	c.EndTime = &end
	return &c
}

// GoalPolicy turns a day's aggregates into minutes beyond goal.
type GoalPolicy interface {
	MinutesBeyondGoal(spread Spread, totalMinutes int) int
}

type BudgetPolicy struct {
	MaxDurationMinutes int
}

func (p BudgetPolicy) MinutesBeyondGoal(_ Spread, totalMinutes int) int {
	return max(0, totalMinutes-p.MaxDurationMinutes)
}

type TimeZonePolicy struct {
	allowed [SpreadCells]bool
}

func NewTimeZonePolicy(zones []string) (TimeZonePolicy, error) {
	var p TimeZonePolicy
	if len(zones) == 0 {
		return p, ErrMissingTimeWindows
	}

	for _, z := range zones {
		from, to, err := ParseTimeWindow(z)
		if err != nil {
			return p, err
		}
		for cell := from; cell < to; cell++ {
			if p.allowed[cell] {
				return p, ErrOverlappingTimeWindows
			}
			p.allowed[cell] = true
		}
	}
	return p, nil
}

func (p TimeZonePolicy) IsAllowed(cell int) bool {
	return cell >= 0 && cell < SpreadCells && p.allowed[cell]
}

func (p TimeZonePolicy) MinutesBeyondGoal(spread Spread, _ int) int {
	beyond := 0
	for cell, minutes := range spread {
		if !p.allowed[cell] {
			beyond += minutes
		}
	}
	return beyond
}

// ParseTimeWindow parses "HH:MM-HH:MM" into a half-open range of spread cells.
func ParseTimeWindow(window string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(window), "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeWindow, window)
	}

	from, err := parseQuarterHour(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeWindow, window)
	}
	to, err := parseQuarterHour(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeWindow, window)
	}
	if from >= to {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeWindow, window)
	}
	return from, to, nil
}

func parseQuarterHour(clock string) (int, error) {
	hm := strings.Split(strings.TrimSpace(clock), ":")
	if len(hm) != 2 || len(hm[0]) != 2 || len(hm[1]) != 2 {
		return 0, ErrInvalidTimeWindow
	}
	h, err := strconv.Atoi(hm[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(hm[1])
	if err != nil {
		return 0, err
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || m%SpreadCellMinutes != 0 || (h == 24 && m != 0) {
		return 0, ErrInvalidTimeWindow
	}
	return (h*60 + m) / SpreadCellMinutes, nil
}
