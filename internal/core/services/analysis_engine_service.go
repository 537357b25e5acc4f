package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/domain"
)

// deviceClockTolerance is how far in the future an event may end.
const deviceClockTolerance = time.Minute

// GoalConflictNotifier hands goal-conflict messages to the delivery pipeline.
type GoalConflictNotifier interface {
	Enqueue(msg *domain.GoalConflictMessage)
}

type NetworkActivityInput struct {
	UserAnonymizedID   string
	DeviceAnonymizedID string
	Categories         []string
	URL                string
	EventTime          *time.Time
}

type AppActivity struct {
	Application string
	StartTime   time.Time
	EndTime     time.Time
}

type AppActivitiesInput struct {
	UserAnonymizedID string
	DeviceID         string
	// DeviceDateTime is the clock of the device when it sent the batch.
	DeviceDateTime time.Time
	Activities     []AppActivity
}

// AnalysisSummary lists the goals an event matched and the goals it raised a conflict for.
type AnalysisSummary struct {
	MatchedGoalIDs  []string
	NotifiedGoalIDs []string
	Results         []UpdateResult
}

type AnalysisEngineDeps struct {
	Users    domain.UserDirectory
	Goals    domain.GoalDirectory
	Devices  domain.DeviceDirectory
	Tx       domain.TxManager
	Updater  *ActivityUpdateService
	Cache    domain.ActivityCache
	Locks    *UserLock
	Notifier GoalConflictNotifier
	Clock    func() time.Time
	Logger   *slog.Logger
}

type AnalysisEngineService struct {
	users    domain.UserDirectory
	goals    domain.GoalDirectory
	devices  domain.DeviceDirectory
	tx       domain.TxManager
	updater  *ActivityUpdateService
	cache    domain.ActivityCache
	locks    *UserLock
	notifier GoalConflictNotifier
	now      func() time.Time
	logger   *slog.Logger
}

func NewAnalysisEngineService(deps AnalysisEngineDeps) *AnalysisEngineService {
	s := &AnalysisEngineService{
		users:    deps.Users,
		goals:    deps.Goals,
		devices:  deps.Devices,
		tx:       deps.Tx,
		updater:  deps.Updater,
		cache:    deps.Cache,
		locks:    deps.Locks,
		notifier: deps.Notifier,
		now:      deps.Clock,
		logger:   deps.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.locks == nil {
		s.locks = NewUserLock(0)
	}
	s.logger = s.logger.With("component", "analysis-engine")
	return s
}

// goalMatch is one payload to record against one goal.
type goalMatch struct {
	goal    *domain.Goal
	payload domain.ActivityPayload
}

func (s *AnalysisEngineService) AnalyzeNetworkActivity(ctx context.Context, input NetworkActivityInput) (*AnalysisSummary, error) {
	if strings.TrimSpace(input.UserAnonymizedID) == "" {
		return nil, domain.ErrInvalidUserID
	}

	now := s.now()
	eventTime := now
	if input.EventTime != nil && !input.EventTime.IsZero() {
		eventTime = *input.EventTime
	}
	if eventTime.After(now.Add(deviceClockTolerance)) {
		return nil, fmt.Errorf("%w: network event in the future (%s)", domain.ErrInvalidActivity, eventTime.Format(time.RFC3339))
	}

	var url *string
	if u := strings.TrimSpace(input.URL); u != "" {
		url = &u
	}

	payload, err := domain.NewActivityPayload(input.UserAnonymizedID, input.DeviceAnonymizedID, eventTime, eventTime, nil, url)
	if err != nil {
		return nil, err
	}

	user, goals, categories, err := s.loadUser(ctx, input.UserAnonymizedID)
	if err != nil {
		return nil, err
	}

	var matches []goalMatch
	for _, g := range goals {
		c, ok := categories[g.ActivityCategoryID]
		if ok && c.MatchesNetworkCategories(input.Categories) && g.AppliesTo(payload.EndTime) {
			matches = append(matches, goalMatch{goal: g, payload: payload})
		}
	}

	return s.process(ctx, user, matches)
}

func (s *AnalysisEngineService) AnalyzeAppActivities(ctx context.Context, input AppActivitiesInput) (*AnalysisSummary, error) {
	if strings.TrimSpace(input.UserAnonymizedID) == "" {
		return nil, domain.ErrInvalidUserID
	}

	deviceAnonymizedID, err := s.devices.ResolveAnonymizedDeviceID(ctx, input.UserAnonymizedID, input.DeviceID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var offset time.Duration
	if !input.DeviceDateTime.IsZero() {
		offset = now.Sub(input.DeviceDateTime)
	}

	payloads := make([]domain.ActivityPayload, 0, len(input.Activities))
	for _, a := range input.Activities {
		start, end := a.StartTime.Add(offset), a.EndTime.Add(offset)
		if end.After(now.Add(deviceClockTolerance)) {
			return nil, fmt.Errorf("%w: %s ends in the future (%s)", domain.ErrInvalidActivity, a.Application, end.Format(time.RFC3339))
		}
		app := a.Application
		p, err := domain.NewActivityPayload(input.UserAnonymizedID, deviceAnonymizedID, start, end, &app, nil)
		if err != nil {
			return nil, fmt.Errorf("app activity %q: %w", a.Application, err)
		}
		payloads = append(payloads, p)
	}

	user, goals, categories, err := s.loadUser(ctx, input.UserAnonymizedID)
	if err != nil {
		return nil, err
	}

	var matches []goalMatch
	for _, p := range payloads {
		for _, g := range goals {
			c, ok := categories[g.ActivityCategoryID]
			if ok && p.App != nil && c.MatchesApplication(*p.App) && g.AppliesTo(p.EndTime) {
				matches = append(matches, goalMatch{goal: g, payload: p})
			}
		}
	}

	return s.process(ctx, user, matches)
}

func (s *AnalysisEngineService) loadUser(ctx context.Context, userID string) (*domain.UserAnonymized, []*domain.Goal, map[string]*domain.ActivityCategory, error) {
	user, err := s.users.GetUserAnonymized(ctx, userID)
	if err != nil {
		return nil, nil, nil, err
	}

	goals, err := s.goals.GetGoalsOfUser(ctx, userID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load goals of user %s: %w", userID, err)
	}

	list, err := s.goals.GetActivityCategories(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load activity categories: %w", err)
	}
	categories := make(map[string]*domain.ActivityCategory, len(list))
	for _, c := range list {
		categories[c.ID] = c
	}

	return user, domain.CurrentGoals(goals), categories, nil
}

// process records all matches of one event while holding the lock of the user. Cache
// writes and messages are released only once the transaction has committed. Only the
// wait for the lock honours cancellation of ctx; once held, the event runs to completion.
func (s *AnalysisEngineService) process(ctx context.Context, user *domain.UserAnonymized, matches []goalMatch) (*AnalysisSummary, error) {
	summary := &AnalysisSummary{}
	if len(matches) == 0 {
		return summary, nil
	}

	unlock, err := s.locks.Lock(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	scope := newCacheScope(s.cache)
	var messages []*domain.GoalConflictMessage

	err = s.tx.Within(ctx, func(ctx context.Context) error {
		for _, m := range matches {
			results, err := s.updater.Apply(ctx, scope, user, m.goal, m.payload)
			if err != nil {
				return fmt.Errorf("goal %s: %w", m.goal.ID, err)
			}
			summary.MatchedGoalIDs = appendUnique(summary.MatchedGoalIDs, m.goal.ID)
			summary.Results = append(summary.Results, results...)

			for _, r := range results {
				if r.ShouldNotify {
					messages = append(messages, domain.NewGoalConflictMessage(user, m.goal, r.Activity, m.payload.URL, s.now()))
					summary.NotifiedGoalIDs = appendUnique(summary.NotifiedGoalIDs, m.goal.ID)
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("event rejected, nothing persisted", "user_anonymized_id", user.ID, "error", err)
		return nil, err
	}

	scope.Flush(ctx)
	for _, msg := range messages {
		s.notifier.Enqueue(msg)
	}
	return summary, nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
