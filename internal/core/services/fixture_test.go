package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/adapters/cache"
	"github.com/comitanigiacomo/kanso-analysis-engine/internal/adapters/repository"
	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/domain"
	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/services"
)

const (
	testUser   = "user-1"
	testDevice = "device-anon-1"
)

var goalCreation = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T {
	return &v
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []*domain.GoalConflictMessage
}

func (n *recordingNotifier) Enqueue(msg *domain.GoalConflictMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *recordingNotifier) messages() []*domain.GoalConflictMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*domain.GoalConflictMessage(nil), n.msgs...)
}

// failingRepo fails the nth SaveDayActivity call.
type failingRepo struct {
	*repository.InMemoryStore
	failOn int
	saves  int
}

var errDiskFull = errors.New("disk full")

func (r *failingRepo) SaveDayActivity(ctx context.Context, day *domain.DayActivity) error {
	r.saves++
	if r.saves == r.failOn {
		return errDiskFull
	}
	return r.InMemoryStore.SaveDayActivity(ctx, day)
}

// cancellingRepo cancels the caller's request while the event is being recorded and,
// like a database driver, refuses writes on a done context.
type cancellingRepo struct {
	*repository.InMemoryStore
	cancel context.CancelFunc
}

func (r *cancellingRepo) FindDayActivity(ctx context.Context, userID string, date time.Time, goal *domain.Goal) (*domain.DayActivity, error) {
	r.cancel()
	return r.InMemoryStore.FindDayActivity(ctx, userID, date, goal)
}

func (r *cancellingRepo) SaveDayActivity(ctx context.Context, day *domain.DayActivity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.InMemoryStore.SaveDayActivity(ctx, day)
}

type fixture struct {
	store    *repository.InMemoryStore
	cache    *cache.MemoryActivityCache
	notifier *recordingNotifier
	engine   *services.AnalysisEngineService
	now      time.Time
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	update   services.ActivityUpdateConfig
	timeZone string
	repo     func(*repository.InMemoryStore) domain.ActivityRepository
}

func withUpdateConfig(cfg services.ActivityUpdateConfig) fixtureOption {
	return func(c *fixtureConfig) { c.update = cfg }
}

func withTimeZone(tz string) fixtureOption {
	return func(c *fixtureConfig) { c.timeZone = tz }
}

func withFailingSave(n int) fixtureOption {
	return func(c *fixtureConfig) {
		c.repo = func(s *repository.InMemoryStore) domain.ActivityRepository {
			return &failingRepo{InMemoryStore: s, failOn: n}
		}
	}
}

func withCancelDuringLoad(cancel context.CancelFunc) fixtureOption {
	return func(c *fixtureConfig) {
		c.repo = func(s *repository.InMemoryStore) domain.ActivityRepository {
			return &cancellingRepo{InMemoryStore: s, cancel: cancel}
		}
	}
}

func newFixture(t *testing.T, now time.Time, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := fixtureConfig{
		update: services.ActivityUpdateConfig{
			ConflictInterval: services.DefaultConflictInterval,
			UpdateSkipWindow: services.DefaultUpdateSkipWindow,
		},
		timeZone: "UTC",
	}
	for _, o := range opts {
		o(&cfg)
	}

	store := repository.NewInMemoryStore()
	store.AddUser(&domain.UserAnonymized{ID: testUser, TimeZone: cfg.timeZone, AnonymousDestinationID: "dest-1"})
	store.AddDevice(testUser, "phone", testDevice)
	store.AddActivityCategory(&domain.ActivityCategory{
		ID:                "gambling",
		NetworkCategories: []string{"poker", "lotto"},
		Applications:      []string{"Poker Stars"},
		MandatoryNoGo:     true,
	})
	store.AddActivityCategory(&domain.ActivityCategory{
		ID:                "gaming",
		NetworkCategories: []string{"games"},
		Applications:      []string{"Chess"},
	})

	var repo domain.ActivityRepository = store
	if cfg.repo != nil {
		repo = cfg.repo(store)
	}

	f := &fixture{
		store:    store,
		cache:    cache.NewMemoryActivityCache(),
		notifier: &recordingNotifier{},
		now:      now,
	}
	f.engine = services.NewAnalysisEngineService(services.AnalysisEngineDeps{
		Users:    store,
		Goals:    store,
		Devices:  store,
		Tx:       store,
		Updater:  services.NewActivityUpdateService(repo, cfg.update, nil),
		Cache:    f.cache,
		Locks:    services.NewUserLock(time.Second),
		Notifier: f.notifier,
		Clock:    func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) budgetGoal(t *testing.T, category string, maxMinutes int) *domain.Goal {
	t.Helper()
	g, err := domain.NewBudgetGoal(testUser, category, maxMinutes, goalCreation)
	require.NoError(t, err)
	f.store.AddGoal(g)
	return g
}

func (f *fixture) network(t *testing.T, at time.Time, categories ...string) *services.AnalysisSummary {
	t.Helper()
	summary, err := f.engine.AnalyzeNetworkActivity(context.Background(), services.NetworkActivityInput{
		UserAnonymizedID:   testUser,
		DeviceAnonymizedID: testDevice,
		Categories:         categories,
		URL:                "https://example.com/play",
		EventTime:          &at,
	})
	require.NoError(t, err)
	return summary
}

func (f *fixture) apps(ctx context.Context, activities ...services.AppActivity) (*services.AnalysisSummary, error) {
	return f.engine.AnalyzeAppActivities(ctx, services.AppActivitiesInput{
		UserAnonymizedID: testUser,
		DeviceID:         "phone",
		DeviceDateTime:   f.now,
		Activities:       activities,
	})
}

func (f *fixture) day(t *testing.T, goal *domain.Goal, date time.Time) *domain.DayActivity {
	t.Helper()
	d, err := f.store.FindDayActivity(context.Background(), testUser, date, goal)
	require.NoError(t, err)
	return d
}

func clock(h, m, s int) time.Time {
	return time.Date(2026, 3, 16, h, m, s, 0, time.UTC)
}

func chess(start, end time.Time) services.AppActivity {
	return services.AppActivity{Application: "Chess", StartTime: start, EndTime: end}
}
