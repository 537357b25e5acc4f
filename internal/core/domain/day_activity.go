package domain

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDayActivityNotFound = errors.New("day activity not found")
)

type aggregateState int

const (
	aggregatesDirty aggregateState = iota
	aggregatesComputed
)

type dayAggregates struct {
	state             aggregateState
	spread            Spread
	totalMinutes      int
	minutesBeyondGoal int
}

// DayActivity holds the activities of one goal on one calendar day of the user.
// The raw activities are the source of truth. Aggregates are computed on first read
// and invalidated by every mutation.
type DayActivity struct {
	ID               string
	UserAnonymizedID string
	GoalID           string
	WeekActivityID   string
	Date             time.Time

	goal       *Goal
	activities []*Activity
	revision   uint64
	agg        dayAggregates
}

// NewDayActivity creates an empty day. The date's location is the user's zone.
func NewDayActivity(userID string, goal *Goal, date time.Time) *DayActivity {
	return &DayActivity{
		ID:               uuid.NewString(),
		UserAnonymizedID: userID,
		GoalID:           goal.ID,
		Date:             StartOfDay(date),
		goal:             goal,
	}
}

// RestoreDayActivity rebuilds a persisted day without re-validating its activities.
func RestoreDayActivity(id, userID, weekActivityID string, goal *Goal, date time.Time, activities []*Activity) *DayActivity {
	d := &DayActivity{
		ID:               id,
		UserAnonymizedID: userID,
		GoalID:           goal.ID,
		WeekActivityID:   weekActivityID,
		Date:             StartOfDay(date),
		goal:             goal,
	}
	for _, a := range activities {
		c := a.Clone()
		c.DayActivityID = id
		d.activities = append(d.activities, c)
	}
	return d
}

func (d *DayActivity) Goal() *Goal {
	return d.goal
}

func (d *DayActivity) Location() *time.Location {
	return d.Date.Location()
}

func (d *DayActivity) EndOfDay() time.Time {
	return d.Date.AddDate(0, 0, 1)
}

// Contains reports whether [start, end] lies within this calendar day.
func (d *DayActivity) Contains(start, end time.Time) bool {
	return !start.Before(d.Date) && !end.After(d.EndOfDay())
}

func (d *DayActivity) AddActivity(a *Activity) error {
	if !d.Contains(a.StartTime, a.EndTime) {
		return ErrActivityOutsideDay
	}
	c := a.Clone()
	c.DayActivityID = d.ID
	a.DayActivityID = d.ID
	d.activities = append(d.activities, c)
	d.invalidate()
	return nil
}

// Activities returns copies in insertion order.
func (d *DayActivity) Activities() []*Activity {
	list := make([]*Activity, 0, len(d.activities))
	for _, a := range d.activities {
		list = append(list, a.Clone())
	}
	return list
}

func (d *DayActivity) ActivityByID(id string) (*Activity, bool) {
	a := d.find(id)
	if a == nil {
		return nil, false
	}
	return a.Clone(), true
}

// ExtendActivityEnd moves the end of an activity forward. It never moves it back and
// reports whether anything changed.
func (d *DayActivity) ExtendActivityEnd(id string, end time.Time) (bool, error) {
	a := d.find(id)
	if a == nil {
		return false, ErrActivityNotFound
	}
	if !end.After(a.EndTime) {
		return false, nil
	}
	if end.After(d.EndOfDay()) {
		return false, ErrActivityOutsideDay
	}
	a.EndTime = end
	d.invalidate()
	return true, nil
}

func (d *DayActivity) UpdateActivityTimes(id string, start, end time.Time) error {
	a := d.find(id)
	if a == nil {
		return ErrActivityNotFound
	}
	if end.Before(start) {
		return ErrInvalidActivity
	}
	if !d.Contains(start, end) {
		return ErrActivityOutsideDay
	}
	a.StartTime = start
	a.EndTime = end
	d.invalidate()
	return nil
}

// LastActivityOfDevice returns the most recently started activity of the device.
func (d *DayActivity) LastActivityOfDevice(deviceAnonymizedID string) (*Activity, bool) {
	var last *Activity
	for _, a := range d.activities {
		if a.DeviceAnonymizedID != deviceAnonymizedID {
			continue
		}
		if last == nil || a.StartTime.After(last.StartTime) ||
			(a.StartTime.Equal(last.StartTime) && a.EndTime.After(last.EndTime)) {
			last = a
		}
	}
	if last == nil {
		return nil, false
	}
	return last.Clone(), true
}

// OverlappingActivitiesOfSameApp returns the activities of app touching [start, end],
// ordered by start time.
func (d *DayActivity) OverlappingActivitiesOfSameApp(app *string, start, end time.Time) []*Activity {
	var list []*Activity
	for _, a := range d.activities {
		if a.IsOfApp(app) && a.Overlaps(start, end) {
			list = append(list, a.Clone())
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].StartTime.Before(list[j].StartTime)
	})
	return list
}

func (d *DayActivity) Spread() Spread {
	d.ComputeAggregates()
	return d.agg.spread
}

func (d *DayActivity) TotalActivityDurationMinutes() int {
	d.ComputeAggregates()
	return d.agg.totalMinutes
}

func (d *DayActivity) TotalMinutesBeyondGoal() int {
	d.ComputeAggregates()
	return d.agg.minutesBeyondGoal
}

func (d *DayActivity) IsGoalAccomplished() bool {
	return d.TotalMinutesBeyondGoal() == 0
}

func (d *DayActivity) AreAggregatesComputed() bool {
	return d.agg.state == aggregatesComputed
}

// Revision increases with every mutation.
func (d *DayActivity) Revision() uint64 {
	return d.revision
}

func (d *DayActivity) ComputeAggregates() {
	if d.agg.state == aggregatesComputed {
		return
	}

	spread := computeSpread(d.activities, d.Location())

	total := 0
	for _, a := range d.activities {
		total += a.DurationMinutes()
	}

	beyond := 0
	if d.goal != nil {
		beyond = d.goal.MinutesBeyondGoal(spread, total)
	}

	d.agg = dayAggregates{
		state:             aggregatesComputed,
		spread:            spread,
		totalMinutes:      total,
		minutesBeyondGoal: beyond,
	}
}

func (d *DayActivity) Clone() *DayActivity {
	c := RestoreDayActivity(d.ID, d.UserAnonymizedID, d.WeekActivityID, d.goal, d.Date, d.activities)
	c.revision = d.revision
	return c
}

func (d *DayActivity) find(id string) *Activity {
	for _, a := range d.activities {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (d *DayActivity) invalidate() {
	d.revision++
	d.agg.state = aggregatesDirty
}
