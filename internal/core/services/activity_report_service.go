package services

import (
	"context"
	"errors"
	"time"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/domain"
)

type DayActivityOverview struct {
	DayActivityID                string             `json:"day_activity_id,omitempty"`
	GoalID                       string             `json:"goal_id"`
	Date                         string             `json:"date"`
	Spread                       []int              `json:"spread"`
	TotalActivityDurationMinutes int                `json:"total_activity_duration_minutes"`
	TotalMinutesBeyondGoal       int                `json:"total_minutes_beyond_goal"`
	GoalAccomplished             bool               `json:"goal_accomplished"`
	Activities                   []*domain.Activity `json:"activities"`
}

type WeekActivityOverview struct {
	WeekActivityID               string                `json:"week_activity_id,omitempty"`
	GoalID                       string                `json:"goal_id"`
	StartDate                    string                `json:"start_date"`
	EndDate                      string                `json:"end_date"`
	Spread                       []int                 `json:"spread"`
	TotalActivityDurationMinutes int                   `json:"total_activity_duration_minutes"`
	TotalMinutesBeyondGoal       int                   `json:"total_minutes_beyond_goal"`
	GoalAccomplished             bool                  `json:"goal_accomplished"`
	Days                         []DayActivityOverview `json:"days"`
}

// ActivityReportService reads the recorded activity of a goal back out, one day or one
// week at a time. Dates are taken as calendar dates in the zone of the user.
type ActivityReportService struct {
	users domain.UserDirectory
	goals domain.GoalDirectory
	repo  domain.ActivityRepository
}

func NewActivityReportService(users domain.UserDirectory, goals domain.GoalDirectory, repo domain.ActivityRepository) *ActivityReportService {
	return &ActivityReportService{
		users: users,
		goals: goals,
		repo:  repo,
	}
}

func (s *ActivityReportService) GetDayActivityOverview(ctx context.Context, userID, goalID string, date time.Time) (*DayActivityOverview, error) {
	goal, loc, err := s.resolve(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}
	day := localDate(date, loc)

	d, err := s.repo.FindDayActivity(ctx, userID, day, goal)
	if errors.Is(err, domain.ErrDayActivityNotFound) {
		d = domain.NewDayActivity(userID, goal, day)
		overview := newDayOverview(d)
		overview.DayActivityID = ""
		return &overview, nil
	}
	if err != nil {
		return nil, err
	}

	overview := newDayOverview(d)
	return &overview, nil
}

func (s *ActivityReportService) GetWeekActivityOverview(ctx context.Context, userID, goalID string, date time.Time) (*WeekActivityOverview, error) {
	goal, loc, err := s.resolve(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}
	start := domain.WeekStart(localDate(date, loc))

	w, err := s.repo.FindWeekActivity(ctx, userID, goal, start)
	empty := errors.Is(err, domain.ErrWeekActivityNotFound)
	if empty {
		w = domain.NewWeekActivity(userID, goal, start)
	} else if err != nil {
		return nil, err
	}

	overview := &WeekActivityOverview{
		WeekActivityID:               w.ID,
		GoalID:                       goal.ID,
		StartDate:                    w.StartDate.Format(time.DateOnly),
		EndDate:                      w.EndDate().AddDate(0, 0, -1).Format(time.DateOnly),
		Spread:                       spreadSlice(w.Spread()),
		TotalActivityDurationMinutes: w.TotalActivityDurationMinutes(),
		TotalMinutesBeyondGoal:       w.TotalMinutesBeyondGoal(),
		GoalAccomplished:             w.IsGoalAccomplished(),
		Days:                         make([]DayActivityOverview, 0, 7),
	}
	if empty {
		overview.WeekActivityID = ""
	}
	for _, d := range w.DayActivities() {
		overview.Days = append(overview.Days, newDayOverview(d))
	}
	return overview, nil
}

// resolve finds the goal among all goals of the user, history items included.
func (s *ActivityReportService) resolve(ctx context.Context, userID, goalID string) (*domain.Goal, *time.Location, error) {
	user, err := s.users.GetUserAnonymized(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	loc, err := user.Location()
	if err != nil {
		return nil, nil, err
	}

	goals, err := s.goals.GetGoalsOfUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	for _, g := range goals {
		if g.ID == goalID {
			return g, loc, nil
		}
	}
	return nil, nil, domain.ErrGoalNotFound
}

func newDayOverview(d *domain.DayActivity) DayActivityOverview {
	return DayActivityOverview{
		DayActivityID:                d.ID,
		GoalID:                       d.GoalID,
		Date:                         d.Date.Format(time.DateOnly),
		Spread:                       spreadSlice(d.Spread()),
		TotalActivityDurationMinutes: d.TotalActivityDurationMinutes(),
		TotalMinutesBeyondGoal:       d.TotalMinutesBeyondGoal(),
		GoalAccomplished:             d.IsGoalAccomplished(),
		Activities:                   d.Activities(),
	}
}

func spreadSlice(s domain.Spread) []int {
	return append([]int(nil), s[:]...)
}

func localDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
