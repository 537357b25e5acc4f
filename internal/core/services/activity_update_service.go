package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/domain"
)

const (
	DefaultConflictInterval = 15 * time.Minute
	DefaultUpdateSkipWindow = 5 * time.Second
)

type UpdateOutcome string

const (
	// OutcomeAdded is a new activity following the last one of the device.
	OutcomeAdded UpdateOutcome = "added"
	// OutcomeBackfilled is a new activity recorded before the last one, without overlap.
	OutcomeBackfilled UpdateOutcome = "backfilled"
	OutcomeExtended   UpdateOutcome = "extended"
	OutcomeMerged     UpdateOutcome = "merged"
	OutcomeUnchanged  UpdateOutcome = "unchanged"
)

// UpdateResult describes what happened to one day-sized part of a payload.
type UpdateResult struct {
	Outcome      UpdateOutcome
	Day          *domain.DayActivity
	Activity     *domain.Activity
	ShouldNotify bool
}

type ActivityUpdateConfig struct {
	// ConflictInterval is the largest gap after the last activity that still continues it.
	ConflictInterval time.Duration
	// UpdateSkipWindow is the smallest growth of the end time worth writing.
	UpdateSkipWindow time.Duration
}

type ActivityUpdateService struct {
	repo   domain.ActivityRepository
	cfg    ActivityUpdateConfig
	logger *slog.Logger
}

func NewActivityUpdateService(repo domain.ActivityRepository, cfg ActivityUpdateConfig, logger *slog.Logger) *ActivityUpdateService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityUpdateService{
		repo:   repo,
		cfg:    cfg,
		logger: logger.With("component", "activity-update"),
	}
}

// Apply records payload against goal. The payload is widened to the minimum duration, moved
// into the zone of the user and cut at local midnights; every part is applied to its own day.
// ctx must carry the transaction of the event, and cache writes go through the given cache.
func (s *ActivityUpdateService) Apply(ctx context.Context, cache domain.ActivityCache, user *domain.UserAnonymized, goal *domain.Goal, payload domain.ActivityPayload) ([]UpdateResult, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	loc, err := user.Location()
	if err != nil {
		return nil, err
	}

	key := domain.ActivityCacheKey{
		UserAnonymizedID:   user.ID,
		DeviceAnonymizedID: payload.DeviceAnonymizedID,
		GoalID:             goal.ID,
	}

	parts := payload.WithMinimumDuration().In(loc).SplitAtMidnights()
	results := make([]UpdateResult, 0, len(parts))
	for _, part := range parts {
		r, err := s.applyToDay(ctx, cache, key, user, goal, part)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *ActivityUpdateService) applyToDay(ctx context.Context, cache domain.ActivityCache, key domain.ActivityCacheKey, user *domain.UserAnonymized, goal *domain.Goal, p domain.ActivityPayload) (UpdateResult, error) {
	day, err := s.repo.FindDayActivity(ctx, user.ID, p.Date(), goal)
	if err != nil {
		if !errors.Is(err, domain.ErrDayActivityNotFound) {
			return UpdateResult{}, fmt.Errorf("failed to load day activity of %s: %w", p.Date().Format(time.DateOnly), err)
		}
		day = nil
	}

	last, ok := s.lastActivity(ctx, cache, key, day)
	switch {
	case !ok:
		return s.addActivity(ctx, cache, key, user, goal, day, p, true)
	case s.canCombine(day, last, p):
		return s.extendActivity(ctx, cache, key, day, last, p)
	case !p.StartTime.Before(last.StartTime):
		return s.addActivity(ctx, cache, key, user, goal, day, p, true)
	default:
		return s.backfill(ctx, cache, key, user, goal, day, last, p)
	}
}

// lastActivity returns the last activity of the device on the day of the payload. The cache
// is used only when its entry belongs to that day; otherwise the day itself is searched.
func (s *ActivityUpdateService) lastActivity(ctx context.Context, cache domain.ActivityCache, key domain.ActivityCacheKey, day *domain.DayActivity) (domain.CachedActivity, bool) {
	if day == nil {
		return domain.CachedActivity{}, false
	}

	if cached, ok := cache.Fetch(ctx, key); ok && cached.DayActivityID == day.ID {
		if a, ok := day.ActivityByID(cached.ActivityID); ok {
			return domain.NewCachedActivity(a), true
		}
		s.logger.Debug("cached activity missing from its day", "activity_id", cached.ActivityID, "day_activity_id", day.ID)
	}

	a, ok := day.LastActivityOfDevice(key.DeviceAnonymizedID)
	if !ok {
		return domain.CachedActivity{}, false
	}
	return domain.NewCachedActivity(a), true
}

func (s *ActivityUpdateService) canCombine(day *domain.DayActivity, last domain.CachedActivity, p domain.ActivityPayload) bool {
	return day != nil &&
		last.DayActivityID == day.ID &&
		!p.StartTime.Before(last.StartTime) &&
		!p.StartTime.After(last.EndTime.Add(s.cfg.ConflictInterval)) &&
		domain.SameApp(last.App, p.App)
}

func (s *ActivityUpdateService) addActivity(ctx context.Context, cache domain.ActivityCache, key domain.ActivityCacheKey, user *domain.UserAnonymized, goal *domain.Goal, day *domain.DayActivity, p domain.ActivityPayload, announce bool) (UpdateResult, error) {
	if day == nil {
		var err error
		if day, err = s.createDayActivity(ctx, user, goal, p.Date()); err != nil {
			return UpdateResult{}, err
		}
	}

	a, err := domain.NewActivity(p.DeviceAnonymizedID, p.App, p.StartTime, p.EndTime)
	if err != nil {
		return UpdateResult{}, err
	}
	if err := day.AddActivity(a); err != nil {
		return UpdateResult{}, err
	}
	if err := s.repo.SaveDayActivity(ctx, day); err != nil {
		return UpdateResult{}, fmt.Errorf("failed to save day activity %s: %w", day.ID, err)
	}

	if !announce {
		return UpdateResult{Outcome: OutcomeBackfilled, Day: day, Activity: a}, nil
	}

	cache.Update(ctx, key, domain.NewCachedActivity(a))
	return UpdateResult{
		Outcome:      OutcomeAdded,
		Day:          day,
		Activity:     a,
		ShouldNotify: goal.IsNoGoGoal() || day.TotalMinutesBeyondGoal() > 0,
	}, nil
}

func (s *ActivityUpdateService) createDayActivity(ctx context.Context, user *domain.UserAnonymized, goal *domain.Goal, date time.Time) (*domain.DayActivity, error) {
	week, err := s.repo.FindWeekActivity(ctx, user.ID, goal, domain.WeekStart(date))
	switch {
	case errors.Is(err, domain.ErrWeekActivityNotFound):
		week = domain.NewWeekActivity(user.ID, goal, date)
		if err := s.repo.SaveWeekActivity(ctx, week); err != nil {
			return nil, fmt.Errorf("failed to save week activity %s: %w", week.ID, err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load week activity: %w", err)
	}

	day := domain.NewDayActivity(user.ID, goal, date)
	if err := week.AddDayActivity(day); err != nil {
		return nil, err
	}
	return day, nil
}

func (s *ActivityUpdateService) extendActivity(ctx context.Context, cache domain.ActivityCache, key domain.ActivityCacheKey, day *domain.DayActivity, last domain.CachedActivity, p domain.ActivityPayload) (UpdateResult, error) {
	current, _ := day.ActivityByID(last.ActivityID)
	unchanged := UpdateResult{Outcome: OutcomeUnchanged, Day: day, Activity: current}

	if p.EndTime.Sub(last.EndTime) < s.cfg.UpdateSkipWindow {
		return unchanged, nil
	}

	changed, err := day.ExtendActivityEnd(last.ActivityID, p.EndTime)
	if err != nil {
		return UpdateResult{}, err
	}
	if !changed {
		return unchanged, nil
	}
	if err := s.repo.SaveDayActivity(ctx, day); err != nil {
		return UpdateResult{}, fmt.Errorf("failed to save day activity %s: %w", day.ID, err)
	}

	a, _ := day.ActivityByID(last.ActivityID)
	cache.Update(ctx, key, domain.NewCachedActivity(a))
	return UpdateResult{Outcome: OutcomeExtended, Day: day, Activity: a}, nil
}

// backfill handles a payload that starts before the last activity. Only the first
// overlapping activity is widened; further overlaps are reported and left alone.
func (s *ActivityUpdateService) backfill(ctx context.Context, cache domain.ActivityCache, key domain.ActivityCacheKey, user *domain.UserAnonymized, goal *domain.Goal, day *domain.DayActivity, last domain.CachedActivity, p domain.ActivityPayload) (UpdateResult, error) {
	var overlaps []*domain.Activity
	if day != nil {
		var err error
		overlaps, err = s.repo.FindOverlappingActivitiesOfSameApp(ctx, day, p.App, p.StartTime, p.EndTime)
		if err != nil {
			return UpdateResult{}, fmt.Errorf("failed to find overlapping activities: %w", err)
		}
	}
	if len(overlaps) == 0 {
		return s.addActivity(ctx, cache, key, user, goal, day, p, false)
	}

	first := overlaps[0]
	if len(overlaps) > 1 {
		s.logger.Warn("multiple overlapping activities, only the first one is updated",
			"user_anonymized_id", user.ID,
			"payload_start", p.StartTime,
			"payload_end", p.EndTime,
			"day_activity_id", day.ID,
			"activity_category_id", goal.ActivityCategoryID,
			"overlapping_activities", describeActivities(overlaps),
		)
	}

	start, end := first.StartTime, first.EndTime
	if p.StartTime.Before(start) {
		start = p.StartTime
	}
	if p.EndTime.After(end) {
		end = p.EndTime
	}
	if start.Equal(first.StartTime) && end.Equal(first.EndTime) {
		return UpdateResult{Outcome: OutcomeUnchanged, Day: day, Activity: first}, nil
	}

	if err := day.UpdateActivityTimes(first.ID, start, end); err != nil {
		return UpdateResult{}, fmt.Errorf("failed to merge into activity %s: %w", first.ID, err)
	}
	if err := s.repo.SaveDayActivity(ctx, day); err != nil {
		return UpdateResult{}, fmt.Errorf("failed to save day activity %s: %w", day.ID, err)
	}

	a, _ := day.ActivityByID(first.ID)
	if a.ID == last.ActivityID {
		cache.Update(ctx, key, domain.NewCachedActivity(a))
	}
	return UpdateResult{Outcome: OutcomeMerged, Day: day, Activity: a}, nil
}

func describeActivities(list []*domain.Activity) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, fmt.Sprintf("%s [%s, %s]", a.ID, a.StartTime.Format(time.RFC3339), a.EndTime.Format(time.RFC3339)))
	}
	return out
}
