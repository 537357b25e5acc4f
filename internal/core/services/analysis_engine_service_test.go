package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/domain"
	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/services"
)

func poker(start, end time.Time) services.AppActivity {
	return services.AppActivity{Application: "Poker Stars", StartTime: start, EndTime: end}
}

func TestAnalysisEngine_NetworkActivity(t *testing.T) {
	t.Run("No-go goal raises a conflict on the first minute", func(t *testing.T) {
		f := newFixture(t, clock(12, 0, 0))
		g := f.budgetGoal(t, "gambling", 0)

		summary := f.network(t, clock(10, 0, 0), "news", "Poker")

		assert.Equal(t, []string{g.ID}, summary.MatchedGoalIDs)
		assert.Equal(t, []string{g.ID}, summary.NotifiedGoalIDs)
		require.Len(t, summary.Results, 1)
		assert.Equal(t, services.OutcomeAdded, summary.Results[0].Outcome)

		msgs := f.notifier.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "dest-1", msgs[0].DestinationID)
		assert.Equal(t, g.ID, msgs[0].GoalID)
		assert.Equal(t, "gambling", msgs[0].ActivityCategoryID)
		assert.Equal(t, clock(10, 0, 0), msgs[0].ActivityStartTime)
		require.NotNil(t, msgs[0].URL)
		assert.Equal(t, "https://example.com/play", *msgs[0].URL)

		d := f.day(t, g, clock(0, 0, 0))
		assert.Equal(t, 1, d.TotalActivityDurationMinutes(), "A single event is widened to one minute")
	})

	t.Run("Continuation extends silently, a pause starts a new conflict", func(t *testing.T) {
		f := newFixture(t, clock(12, 0, 0))
		g := f.budgetGoal(t, "gambling", 0)

		f.network(t, clock(10, 0, 0), "poker")

		summary := f.network(t, clock(10, 3, 0), "poker")
		assert.Equal(t, services.OutcomeExtended, summary.Results[0].Outcome)
		assert.Empty(t, summary.NotifiedGoalIDs)
		assert.Len(t, f.notifier.messages(), 1)

		d := f.day(t, g, clock(0, 0, 0))
		require.Len(t, d.Activities(), 1)
		assert.Equal(t, 4, d.TotalActivityDurationMinutes())

		summary = f.network(t, clock(10, 30, 0), "poker")
		assert.Equal(t, services.OutcomeAdded, summary.Results[0].Outcome)
		assert.Equal(t, []string{g.ID}, summary.NotifiedGoalIDs)
		assert.Len(t, f.notifier.messages(), 2)
		assert.Len(t, f.day(t, g, clock(0, 0, 0)).Activities(), 2)
	})

	t.Run("Conflict interval is inclusive", func(t *testing.T) {
		tests := []struct {
			name string
			next time.Time
			want services.UpdateOutcome
		}{
			{"On the boundary", clock(10, 16, 0), services.OutcomeExtended},
			{"One second past", clock(10, 16, 1), services.OutcomeAdded},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newFixture(t, clock(12, 0, 0))
				f.budgetGoal(t, "gambling", 0)

				f.network(t, clock(10, 0, 0), "poker")
				summary := f.network(t, tt.next, "poker")
				assert.Equal(t, tt.want, summary.Results[0].Outcome)
			})
		}
	})

	t.Run("Small end time growth is skipped", func(t *testing.T) {
		f := newFixture(t, clock(12, 0, 0))
		g := f.budgetGoal(t, "gambling", 0)

		f.network(t, clock(10, 0, 0), "poker")
		summary := f.network(t, clock(10, 0, 3), "poker")
		assert.Equal(t, services.OutcomeUnchanged, summary.Results[0].Outcome)

		a := f.day(t, g, clock(0, 0, 0)).Activities()[0]
		assert.Equal(t, clock(10, 1, 0), a.EndTime)

		summary = f.network(t, clock(10, 0, 6), "poker")
		assert.Equal(t, services.OutcomeExtended, summary.Results[0].Outcome)
	})

	t.Run("Duplicate event without skip window is idempotent", func(t *testing.T) {
		f := newFixture(t, clock(12, 0, 0), withUpdateConfig(services.ActivityUpdateConfig{
			ConflictInterval: services.DefaultConflictInterval,
		}))
		g := f.budgetGoal(t, "gambling", 0)

		f.network(t, clock(10, 0, 0), "poker")
		summary := f.network(t, clock(10, 0, 0), "poker")

		assert.Equal(t, services.OutcomeUnchanged, summary.Results[0].Outcome)
		assert.Len(t, f.notifier.messages(), 1)
		assert.Len(t, f.day(t, g, clock(0, 0, 0)).Activities(), 1)
	})

	t.Run("Unmatched event records nothing", func(t *testing.T) {
		f := newFixture(t, clock(12, 0, 0))
		g := f.budgetGoal(t, "gambling", 0)

		summary := f.network(t, clock(10, 0, 0), "news")

		assert.Empty(t, summary.MatchedGoalIDs)
		assert.Empty(t, f.notifier.messages())
		_, err := f.store.FindDayActivity(context.Background(), testUser, clock(0, 0, 0), g)
		assert.ErrorIs(t, err, domain.ErrDayActivityNotFound)
	})

	t.Run("Goal does not apply before it was created", func(t *testing.T) {
		f := newFixture(t, clock(12, 0, 0))
		g, err := domain.NewBudgetGoal(testUser, "gambling", 0, clock(11, 0, 0))
		require.NoError(t, err)
		f.store.AddGoal(g)
		f.store.AddGoal(g.CloneAsHistoryItem(clock(11, 0, 0)))

		summary := f.network(t, clock(10, 0, 0), "poker")
		assert.Empty(t, summary.MatchedGoalIDs, "Neither the new goal nor its history item applies")
	})

	t.Run("Errors", func(t *testing.T) {
		f := newFixture(t, clock(12, 0, 0))
		ctx := context.Background()

		_, err := f.engine.AnalyzeNetworkActivity(ctx, services.NetworkActivityInput{Categories: []string{"poker"}})
		assert.ErrorIs(t, err, domain.ErrInvalidUserID)

		_, err = f.engine.AnalyzeNetworkActivity(ctx, services.NetworkActivityInput{UserAnonymizedID: "ghost", Categories: []string{"poker"}})
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})

	t.Run("Error: Event time in the future", func(t *testing.T) {
		f := newFixture(t, clock(12, 0, 0))
		g := f.budgetGoal(t, "gambling", 0)
		ctx := context.Background()

		future := clock(12, 1, 1)
		_, err := f.engine.AnalyzeNetworkActivity(ctx, services.NetworkActivityInput{
			UserAnonymizedID:   testUser,
			DeviceAnonymizedID: testDevice,
			Categories:         []string{"poker"},
			EventTime:          &future,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidActivity)
		_, err = f.store.FindDayActivity(ctx, testUser, clock(0, 0, 0), g)
		assert.ErrorIs(t, err, domain.ErrDayActivityNotFound)

		summary := f.network(t, clock(12, 1, 0), "poker")
		assert.Equal(t, []string{g.ID}, summary.MatchedGoalIDs, "Within the clock tolerance")
	})

	t.Run("Client gone after the lock is taken", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f := newFixture(t, clock(12, 0, 0), withCancelDuringLoad(cancel))
		g := f.budgetGoal(t, "gambling", 0)

		at := clock(10, 0, 0)
		summary, err := f.engine.AnalyzeNetworkActivity(ctx, services.NetworkActivityInput{
			UserAnonymizedID:   testUser,
			DeviceAnonymizedID: testDevice,
			Categories:         []string{"poker"},
			EventTime:          &at,
		})
		require.NoError(t, err)
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
		assert.Equal(t, []string{g.ID}, summary.NotifiedGoalIDs)
		assert.Len(t, f.day(t, g, clock(0, 0, 0)).Activities(), 1)
		assert.Len(t, f.notifier.messages(), 1)
	})
}

func TestAnalysisEngine_AppActivities(t *testing.T) {
	ctx := context.Background()

	t.Run("Budget and time zone goals are evaluated independently", func(t *testing.T) {
		f := newFixture(t, clock(12, 0, 0))
		budget := f.budgetGoal(t, "gaming", 30)
		zone, err := domain.NewTimeZoneGoal(testUser, "gaming", []string{"20:00-22:00"}, goalCreation)
		require.NoError(t, err)
		f.store.AddGoal(zone)

		summary, err := f.apps(ctx, chess(clock(10, 0, 0), clock(10, 20, 0)))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{budget.ID, zone.ID}, summary.MatchedGoalIDs)
		assert.Equal(t, []string{zone.ID}, summary.NotifiedGoalIDs, "Budget still has ten minutes left")

		summary, err = f.apps(ctx, chess(clock(10, 40, 0), clock(11, 0, 0)))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{budget.ID, zone.ID}, summary.NotifiedGoalIDs)

		d := f.day(t, budget, clock(0, 0, 0))
		assert.Equal(t, 40, d.TotalActivityDurationMinutes())
		assert.Equal(t, 10, d.TotalMinutesBeyondGoal())
	})

	t.Run("Activity across midnight is split in the zone of the user", func(t *testing.T) {
		ams, err := time.LoadLocation("Europe/Amsterdam")
		require.NoError(t, err)

		f := newFixture(t, time.Date(2026, 3, 17, 1, 0, 0, 0, time.UTC), withTimeZone("Europe/Amsterdam"))
		g := f.budgetGoal(t, "gaming", 600)

		start := time.Date(2026, 3, 16, 22, 30, 0, 0, time.UTC)
		summary, err := f.apps(ctx, chess(start, start.Add(time.Hour)))
		require.NoError(t, err)
		require.Len(t, summary.Results, 2)
		assert.Equal(t, services.OutcomeAdded, summary.Results[0].Outcome)
		assert.Equal(t, services.OutcomeAdded, summary.Results[1].Outcome)

		first := f.day(t, g, time.Date(2026, 3, 16, 0, 0, 0, 0, ams))
		second := f.day(t, g, time.Date(2026, 3, 17, 0, 0, 0, 0, ams))
		assert.Equal(t, 30, first.TotalActivityDurationMinutes())
		assert.Equal(t, 30, second.TotalActivityDurationMinutes())
		assert.Equal(t, 30, first.Spread()[95]+first.Spread()[94])
		assert.Equal(t, first.WeekActivityID, second.WeekActivityID)

		cached, ok := f.cache.Fetch(ctx, domain.ActivityCacheKey{UserAnonymizedID: testUser, DeviceAnonymizedID: testDevice, GoalID: g.ID})
		require.True(t, ok)
		assert.True(t, cached.StartTime.Equal(time.Date(2026, 3, 17, 0, 0, 0, 0, ams)), "Cache holds the last part")
	})

	t.Run("Split conflict is announced once", func(t *testing.T) {
		f := newFixture(t, time.Date(2026, 3, 17, 1, 0, 0, 0, time.UTC))
		g := f.budgetGoal(t, "gambling", 0)

		summary, err := f.apps(ctx, poker(clock(23, 50, 0), clock(23, 50, 0).Add(20*time.Minute)))
		require.NoError(t, err)
		require.Len(t, summary.Results, 2)
		assert.True(t, summary.Results[0].ShouldNotify)
		assert.True(t, summary.Results[1].ShouldNotify)
		assert.Equal(t, []string{g.ID}, summary.NotifiedGoalIDs)
		assert.Len(t, f.notifier.messages(), 1)
	})

	t.Run("Device clock offset is corrected", func(t *testing.T) {
		f := newFixture(t, clock(12, 0, 0))
		g := f.budgetGoal(t, "gaming", 600)

		_, err := f.engine.AnalyzeAppActivities(ctx, services.AppActivitiesInput{
			UserAnonymizedID: testUser,
			DeviceID:         "phone",
			DeviceDateTime:   clock(11, 0, 0),
			Activities:       []services.AppActivity{chess(clock(10, 0, 0), clock(10, 30, 0))},
		})
		require.NoError(t, err)

		a := f.day(t, g, clock(0, 0, 0)).Activities()[0]
		assert.Equal(t, clock(11, 0, 0), a.StartTime)
		assert.Equal(t, clock(11, 30, 0), a.EndTime)
		require.NotNil(t, a.App)
		assert.Equal(t, "Chess", *a.App)
	})

	t.Run("Error: Activity ending in the future rejects the batch", func(t *testing.T) {
		f := newFixture(t, clock(12, 0, 0))
		g := f.budgetGoal(t, "gaming", 600)

		_, err := f.apps(ctx, chess(clock(10, 0, 0), clock(10, 30, 0)), chess(clock(11, 50, 0), clock(12, 2, 0)))
		assert.ErrorIs(t, err, domain.ErrInvalidActivity)

		_, err = f.store.FindDayActivity(ctx, testUser, clock(0, 0, 0), g)
		assert.ErrorIs(t, err, domain.ErrDayActivityNotFound)

		_, err = f.apps(ctx, chess(clock(11, 50, 0), clock(12, 0, 30)))
		assert.NoError(t, err, "Within the clock tolerance")
	})

	t.Run("Error: Unknown device", func(t *testing.T) {
		f := newFixture(t, clock(12, 0, 0))
		_, err := f.engine.AnalyzeAppActivities(ctx, services.AppActivitiesInput{
			UserAnonymizedID: testUser,
			DeviceID:         "tablet",
			Activities:       []services.AppActivity{chess(clock(10, 0, 0), clock(10, 30, 0))},
		})
		assert.ErrorIs(t, err, domain.ErrDeviceNotFound)
	})
}

func TestAnalysisEngine_Backfill(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, clock(12, 0, 0))
	g := f.budgetGoal(t, "gaming", 600)
	key := domain.ActivityCacheKey{UserAnonymizedID: testUser, DeviceAnonymizedID: testDevice, GoalID: g.ID}

	for _, a := range []services.AppActivity{
		chess(clock(9, 0, 0), clock(9, 10, 0)),
		chess(clock(9, 30, 0), clock(9, 40, 0)),
		chess(clock(11, 0, 0), clock(11, 30, 0)),
	} {
		summary, err := f.apps(ctx, a)
		require.NoError(t, err)
		require.Equal(t, services.OutcomeAdded, summary.Results[0].Outcome)
	}

	t.Run("Only the first overlapping activity is widened", func(t *testing.T) {
		summary, err := f.apps(ctx, chess(clock(9, 5, 0), clock(9, 35, 0)))
		require.NoError(t, err)

		r := summary.Results[0]
		assert.Equal(t, services.OutcomeMerged, r.Outcome)
		assert.False(t, r.ShouldNotify)
		assert.Equal(t, clock(9, 0, 0), r.Activity.StartTime)
		assert.Equal(t, clock(9, 35, 0), r.Activity.EndTime)

		list := f.day(t, g, clock(0, 0, 0)).Activities()
		require.Len(t, list, 3)
		var second *domain.Activity
		for _, a := range list {
			if a.StartTime.Equal(clock(9, 30, 0)) {
				second = a
			}
		}
		require.NotNil(t, second)
		assert.Equal(t, clock(9, 40, 0), second.EndTime, "Later overlaps stay untouched")

		cached, ok := f.cache.Fetch(ctx, key)
		require.True(t, ok)
		assert.Equal(t, clock(11, 0, 0), cached.StartTime)
	})

	t.Run("Without overlap the activity is added silently", func(t *testing.T) {
		summary, err := f.apps(ctx, chess(clock(10, 0, 0), clock(10, 10, 0)))
		require.NoError(t, err)

		r := summary.Results[0]
		assert.Equal(t, services.OutcomeBackfilled, r.Outcome)
		assert.False(t, r.ShouldNotify)
		assert.Len(t, f.day(t, g, clock(0, 0, 0)).Activities(), 4)

		cached, ok := f.cache.Fetch(ctx, key)
		require.True(t, ok)
		assert.Equal(t, clock(11, 0, 0), cached.StartTime, "Backfill never moves the cache back")
	})

	t.Run("Contained payload changes nothing", func(t *testing.T) {
		summary, err := f.apps(ctx, chess(clock(9, 1, 0), clock(9, 4, 0)))
		require.NoError(t, err)
		assert.Equal(t, services.OutcomeUnchanged, summary.Results[0].Outcome)
	})
}

func TestAnalysisEngine_Atomicity(t *testing.T) {
	ctx := context.Background()

	t.Run("Failed batch persists, caches and sends nothing", func(t *testing.T) {
		f := newFixture(t, clock(12, 0, 0), withFailingSave(2))
		g := f.budgetGoal(t, "gambling", 0)

		_, err := f.apps(ctx, poker(clock(9, 0, 0), clock(9, 10, 0)), poker(clock(10, 0, 0), clock(10, 10, 0)))
		require.ErrorIs(t, err, errDiskFull)

		assert.Empty(t, f.notifier.messages())
		_, ok := f.cache.Fetch(ctx, domain.ActivityCacheKey{UserAnonymizedID: testUser, DeviceAnonymizedID: testDevice, GoalID: g.ID})
		assert.False(t, ok)
		_, err = f.store.FindDayActivity(ctx, testUser, clock(0, 0, 0), g)
		assert.ErrorIs(t, err, domain.ErrDayActivityNotFound)
		_, err = f.store.FindWeekActivity(ctx, testUser, g, clock(0, 0, 0))
		assert.ErrorIs(t, err, domain.ErrWeekActivityNotFound)

		summary, err := f.apps(ctx, poker(clock(9, 0, 0), clock(9, 10, 0)))
		require.NoError(t, err)
		assert.Equal(t, []string{g.ID}, summary.NotifiedGoalIDs)
		assert.Len(t, f.notifier.messages(), 1)
	})

	t.Run("Lost cache falls back to the stored day", func(t *testing.T) {
		f := newFixture(t, clock(12, 0, 0))
		g := f.budgetGoal(t, "gambling", 0)

		f.network(t, clock(10, 0, 0), "poker")
		f.cache.Clear()

		summary := f.network(t, clock(10, 3, 0), "poker")
		assert.Equal(t, services.OutcomeExtended, summary.Results[0].Outcome)
		assert.Len(t, f.notifier.messages(), 1)
		assert.Len(t, f.day(t, g, clock(0, 0, 0)).Activities(), 1)
	})

	t.Run("Late event for the previous day ignores the cache of today", func(t *testing.T) {
		yesterday := clock(0, 0, 0).AddDate(0, 0, -1)

		for _, clearCache := range []bool{false, true} {
			f := newFixture(t, clock(12, 0, 0))
			g := f.budgetGoal(t, "gambling", 0)

			f.network(t, yesterday.Add(22*time.Hour), "poker")
			f.network(t, clock(10, 0, 0), "poker")
			if clearCache {
				f.cache.Clear()
			}

			summary := f.network(t, yesterday.Add(22*time.Hour+3*time.Minute), "poker")
			assert.Equal(t, services.OutcomeExtended, summary.Results[0].Outcome, "cache cleared: %v", clearCache)

			list := f.day(t, g, yesterday).Activities()
			require.Len(t, list, 1, "cache cleared: %v", clearCache)
			assert.Equal(t, yesterday.Add(22*time.Hour+4*time.Minute), list[0].EndTime)
			assert.Len(t, f.day(t, g, clock(0, 0, 0)).Activities(), 1)
			assert.Len(t, f.notifier.messages(), 2)
		}
	})
}
