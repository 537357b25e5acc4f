package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/domain"
)

var (
	_ domain.ActivityRepository = (*InMemoryStore)(nil)
	_ domain.UserDirectory      = (*InMemoryStore)(nil)
	_ domain.GoalDirectory      = (*InMemoryStore)(nil)
	_ domain.DeviceDirectory    = (*InMemoryStore)(nil)
	_ domain.TxManager          = (*InMemoryStore)(nil)
)

type weekRecord struct {
	ID        string
	UserID    string
	GoalID    string
	StartDate time.Time
}

type memTxKey struct{}

// memTx stages the writes of one transaction.
type memTx struct {
	days  map[string]*domain.DayActivity
	weeks map[string]weekRecord
}

// InMemoryStore implements every persistence port on maps. Writes made inside Within stay
// invisible to other callers until fn returns without error.
type InMemoryStore struct {
	users      map[string]*domain.UserAnonymized
	devices    map[string]map[string]string
	categories map[string]*domain.ActivityCategory
	goals      map[string]*domain.Goal
	days       map[string]*domain.DayActivity
	weeks      map[string]weekRecord

	mu sync.RWMutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:      make(map[string]*domain.UserAnonymized),
		devices:    make(map[string]map[string]string),
		categories: make(map[string]*domain.ActivityCategory),
		goals:      make(map[string]*domain.Goal),
		days:       make(map[string]*domain.DayActivity),
		weeks:      make(map[string]weekRecord),
	}
}

func dayKey(userID, goalID string, date time.Time) string {
	return userID + "/" + goalID + "/" + date.Format(time.DateOnly)
}

func txFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

func (s *InMemoryStore) Within(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	tx := &memTx{
		days:  make(map[string]*domain.DayActivity),
		weeks: make(map[string]weekRecord),
	}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, d := range tx.days {
		s.days[k] = d
	}
	for k, w := range tx.weeks {
		s.weeks[k] = w
	}
	return nil
}

func (s *InMemoryStore) AddUser(u *domain.UserAnonymized) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *u
	s.users[u.ID] = &c
}

func (s *InMemoryStore) AddDevice(userID, deviceID, anonymizedID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.devices[userID] == nil {
		s.devices[userID] = make(map[string]string)
	}
	s.devices[userID][deviceID] = anonymizedID
}

func (s *InMemoryStore) AddActivityCategory(c *domain.ActivityCategory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
}

func (s *InMemoryStore) AddGoal(g *domain.Goal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals[g.ID] = g
}

func (s *InMemoryStore) GetUserAnonymized(ctx context.Context, userID string) (*domain.UserAnonymized, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (s *InMemoryStore) ResolveAnonymizedDeviceID(ctx context.Context, userID, deviceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.devices[userID][deviceID]
	if !ok {
		return "", domain.ErrDeviceNotFound
	}
	return id, nil
}

func (s *InMemoryStore) GetGoalsOfUser(ctx context.Context, userID string) ([]*domain.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var goals []*domain.Goal
	for _, g := range s.goals {
		if g.UserAnonymizedID == userID {
			goals = append(goals, g)
		}
	}
	sort.Slice(goals, func(i, j int) bool {
		return goals[i].CreationTime.Before(goals[j].CreationTime)
	})
	return goals, nil
}

func (s *InMemoryStore) GetActivityCategories(ctx context.Context) ([]*domain.ActivityCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*domain.ActivityCategory, 0, len(s.categories))
	for _, c := range s.categories {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (s *InMemoryStore) FindDayActivity(ctx context.Context, userID string, date time.Time, goal *domain.Goal) (*domain.DayActivity, error) {
	d, ok := s.lookupDay(ctx, dayKey(userID, goal.ID, domain.StartOfDay(date)))
	if !ok {
		return nil, domain.ErrDayActivityNotFound
	}
	return domain.RestoreDayActivity(d.ID, d.UserAnonymizedID, d.WeekActivityID, goal, d.Date, d.Activities()), nil
}

func (s *InMemoryStore) FindWeekActivity(ctx context.Context, userID string, goal *domain.Goal, weekStart time.Time) (*domain.WeekActivity, error) {
	start := domain.WeekStart(weekStart)
	w, ok := s.lookupWeek(ctx, dayKey(userID, goal.ID, start))
	if !ok {
		return nil, domain.ErrWeekActivityNotFound
	}

	var days []*domain.DayActivity
	for i := 0; i < 7; i++ {
		d, err := s.FindDayActivity(ctx, userID, start.AddDate(0, 0, i), goal)
		if err == nil {
			days = append(days, d)
		}
	}
	return domain.RestoreWeekActivity(w.ID, userID, goal, w.StartDate, days), nil
}

func (s *InMemoryStore) SaveDayActivity(ctx context.Context, day *domain.DayActivity) error {
	key := dayKey(day.UserAnonymizedID, day.GoalID, day.Date)
	snapshot := day.Clone()

	if tx := txFrom(ctx); tx != nil {
		tx.days[key] = snapshot
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.days[key] = snapshot
	return nil
}

func (s *InMemoryStore) SaveWeekActivity(ctx context.Context, week *domain.WeekActivity) error {
	key := dayKey(week.UserAnonymizedID, week.GoalID, week.StartDate)
	rec := weekRecord{ID: week.ID, UserID: week.UserAnonymizedID, GoalID: week.GoalID, StartDate: week.StartDate}

	if tx := txFrom(ctx); tx != nil {
		tx.weeks[key] = rec
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.weeks[key] = rec
	return nil
}

func (s *InMemoryStore) FindOverlappingActivitiesOfSameApp(ctx context.Context, day *domain.DayActivity, app *string, start, end time.Time) ([]*domain.Activity, error) {
	d, ok := s.lookupDay(ctx, dayKey(day.UserAnonymizedID, day.GoalID, day.Date))
	if !ok {
		return nil, nil
	}
	return d.OverlappingActivitiesOfSameApp(app, start, end), nil
}

func (s *InMemoryStore) lookupDay(ctx context.Context, key string) (*domain.DayActivity, bool) {
	if tx := txFrom(ctx); tx != nil {
		if d, ok := tx.days[key]; ok {
			return d, true
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.days[key]
	return d, ok
}

func (s *InMemoryStore) lookupWeek(ctx context.Context, key string) (weekRecord, bool) {
	if tx := txFrom(ctx); tx != nil {
		if w, ok := tx.weeks[key]; ok {
			return w, true
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.weeks[key]
	return w, ok
}
