package domain

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	ErrWeekActivityNotFound = errors.New("week activity not found")
	ErrDayOutsideWeek       = errors.New("day activity does not belong to this week")
)

type weekAggregates struct {
	state             aggregateState
	daysRevision      uint64
	dayCount          int
	spread            Spread
	totalMinutes      int
	minutesBeyondGoal int
	accomplished      bool
}

// WeekActivity groups the day activities of one goal in a Sunday-start week.
type WeekActivity struct {
	ID               string
	UserAnonymizedID string
	GoalID           string
	StartDate        time.Time

	goal *Goal
	days []*DayActivity
	agg  weekAggregates
}

func NewWeekActivity(userID string, goal *Goal, date time.Time) *WeekActivity {
	return &WeekActivity{
		ID:               uuid.NewString(),
		UserAnonymizedID: userID,
		GoalID:           goal.ID,
		StartDate:        WeekStart(date),
		goal:             goal,
	}
}

func RestoreWeekActivity(id, userID string, goal *Goal, startDate time.Time, days []*DayActivity) *WeekActivity {
	w := &WeekActivity{
		ID:               id,
		UserAnonymizedID: userID,
		GoalID:           goal.ID,
		StartDate:        WeekStart(startDate),
		goal:             goal,
	}
	for _, d := range days {
		_ = w.AddDayActivity(d)
	}
	return w
}

func (w *WeekActivity) Goal() *Goal {
	return w.goal
}

func (w *WeekActivity) EndDate() time.Time {
	return w.StartDate.AddDate(0, 0, 7)
}

func (w *WeekActivity) Includes(date time.Time) bool {
	day := StartOfDay(date.In(w.StartDate.Location()))
	return !day.Before(w.StartDate) && day.Before(w.EndDate())
}

// AddDayActivity links a day into the week, replacing an existing day with the same date.
func (w *WeekActivity) AddDayActivity(d *DayActivity) error {
	if !w.Includes(d.Date) {
		return ErrDayOutsideWeek
	}
	d.WeekActivityID = w.ID

	for i, existing := range w.days {
		if existing.Date.Equal(d.Date) {
			w.days[i] = d
			w.agg.state = aggregatesDirty
			return nil
		}
	}

	w.days = append(w.days, d)
	sort.Slice(w.days, func(i, j int) bool {
		return w.days[i].Date.Before(w.days[j].Date)
	})
	w.agg.state = aggregatesDirty
	return nil
}

func (w *WeekActivity) DayActivities() []*DayActivity {
	return append([]*DayActivity(nil), w.days...)
}

func (w *WeekActivity) DayActivity(date time.Time) (*DayActivity, bool) {
	day := StartOfDay(date.In(w.StartDate.Location()))
	for _, d := range w.days {
		if d.Date.Equal(day) {
			return d, true
		}
	}
	return nil, false
}

func (w *WeekActivity) Spread() Spread {
	w.ComputeAggregates()
	return w.agg.spread
}

func (w *WeekActivity) TotalActivityDurationMinutes() int {
	w.ComputeAggregates()
	return w.agg.totalMinutes
}

func (w *WeekActivity) TotalMinutesBeyondGoal() int {
	w.ComputeAggregates()
	return w.agg.minutesBeyondGoal
}

// IsGoalAccomplished holds when every recorded day accomplished the goal.
func (w *WeekActivity) IsGoalAccomplished() bool {
	w.ComputeAggregates()
	return w.agg.accomplished
}

// AreAggregatesComputed also turns false when any contained day was mutated.
func (w *WeekActivity) AreAggregatesComputed() bool {
	return w.agg.state == aggregatesComputed &&
		w.agg.dayCount == len(w.days) &&
		w.agg.daysRevision == w.daysRevision()
}

func (w *WeekActivity) ComputeAggregates() {
	if w.AreAggregatesComputed() {
		return
	}

	agg := weekAggregates{
		state:        aggregatesComputed,
		daysRevision: w.daysRevision(),
		dayCount:     len(w.days),
		accomplished: true,
	}
	for _, d := range w.days {
		agg.spread = agg.spread.Add(d.Spread())
		agg.totalMinutes += d.TotalActivityDurationMinutes()
		agg.minutesBeyondGoal += d.TotalMinutesBeyondGoal()
		if !d.IsGoalAccomplished() {
			agg.accomplished = false
		}
	}
	w.agg = agg
}

func (w *WeekActivity) daysRevision() uint64 {
	var sum uint64
	for _, d := range w.days {
		sum += d.Revision()
	}
	return sum
}
