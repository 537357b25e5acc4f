package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/domain"
)

var _ domain.ActivityRepository = (*PostgresActivityRepository)(nil)

type PostgresActivityRepository struct {
	db *sqlx.DB
}

func NewPostgresActivityRepository(db *sqlx.DB) *PostgresActivityRepository {
	return &PostgresActivityRepository{db: db}
}

type dayActivityRow struct {
	ID               string    `db:"id"`
	UserAnonymizedID string    `db:"user_anonymized_id"`
	GoalID           string    `db:"goal_id"`
	WeekActivityID   string    `db:"week_activity_id"`
	Date             time.Time `db:"date"`
}

type weekActivityRow struct {
	ID               string    `db:"id"`
	UserAnonymizedID string    `db:"user_anonymized_id"`
	GoalID           string    `db:"goal_id"`
	StartDate        time.Time `db:"start_date"`
}

const activityColumns = `id, day_activity_id, device_anonymized_id, app, start_time, end_time`

func (r *PostgresActivityRepository) FindDayActivity(ctx context.Context, userID string, date time.Time, goal *domain.Goal) (*domain.DayActivity, error) {
	day := domain.StartOfDay(date)
	q := conn(ctx, r.db)

	var row dayActivityRow
	err := q.GetContext(ctx, &row, `
		SELECT id, user_anonymized_id, goal_id, week_activity_id, date
		FROM day_activities
		WHERE user_anonymized_id = $1 AND goal_id = $2 AND date = $3
		FOR UPDATE`,
		userID, goal.ID, day.Format(time.DateOnly))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDayActivityNotFound
		}
		return nil, fmt.Errorf("repository: find day activity failed: %w", err)
	}

	var activities []*domain.Activity
	err = q.SelectContext(ctx, &activities,
		`SELECT `+activityColumns+` FROM activities WHERE day_activity_id = $1 ORDER BY start_time`, row.ID)
	if err != nil {
		return nil, fmt.Errorf("repository: list activities failed: %w", err)
	}

	return domain.RestoreDayActivity(row.ID, row.UserAnonymizedID, row.WeekActivityID, goal, day, inLocation(activities, day.Location())), nil
}

func (r *PostgresActivityRepository) FindWeekActivity(ctx context.Context, userID string, goal *domain.Goal, weekStart time.Time) (*domain.WeekActivity, error) {
	start := domain.WeekStart(weekStart)
	loc := start.Location()
	q := conn(ctx, r.db)

	var week weekActivityRow
	err := q.GetContext(ctx, &week, `
		SELECT id, user_anonymized_id, goal_id, start_date
		FROM week_activities
		WHERE user_anonymized_id = $1 AND goal_id = $2 AND start_date = $3`,
		userID, goal.ID, start.Format(time.DateOnly))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWeekActivityNotFound
		}
		return nil, fmt.Errorf("repository: find week activity failed: %w", err)
	}

	var rows []dayActivityRow
	err = q.SelectContext(ctx, &rows, `
		SELECT id, user_anonymized_id, goal_id, week_activity_id, date
		FROM day_activities
		WHERE week_activity_id = $1
		ORDER BY date`, week.ID)
	if err != nil {
		return nil, fmt.Errorf("repository: list day activities failed: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	byDay := make(map[string][]*domain.Activity, len(rows))
	if len(ids) > 0 {
		var activities []*domain.Activity
		err = q.SelectContext(ctx, &activities,
			`SELECT `+activityColumns+` FROM activities WHERE day_activity_id = ANY($1) ORDER BY start_time`,
			pq.Array(ids))
		if err != nil {
			return nil, fmt.Errorf("repository: list week activities failed: %w", err)
		}
		for _, a := range inLocation(activities, loc) {
			byDay[a.DayActivityID] = append(byDay[a.DayActivityID], a)
		}
	}

	days := make([]*domain.DayActivity, 0, len(rows))
	for _, row := range rows {
		date := time.Date(row.Date.Year(), row.Date.Month(), row.Date.Day(), 0, 0, 0, 0, loc)
		days = append(days, domain.RestoreDayActivity(row.ID, row.UserAnonymizedID, row.WeekActivityID, goal, date, byDay[row.ID]))
	}

	return domain.RestoreWeekActivity(week.ID, week.UserAnonymizedID, goal, start, days), nil
}

func (r *PostgresActivityRepository) SaveWeekActivity(ctx context.Context, week *domain.WeekActivity) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO week_activities (id, user_anonymized_id, goal_id, start_date)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		week.ID, week.UserAnonymizedID, week.GoalID, week.StartDate.Format(time.DateOnly))
	if err != nil {
		if pgErrorCode(err) == codeUniqueViolation {
			return fmt.Errorf("repository: week activity of %s already exists: %w", week.StartDate.Format(time.DateOnly), err)
		}
		return fmt.Errorf("repository: save week activity failed: %w", err)
	}
	return nil
}

// SaveDayActivity upserts the day row and each of its activities. Activities are never
// removed by the engine, so rows missing from the day are left alone.
func (r *PostgresActivityRepository) SaveDayActivity(ctx context.Context, day *domain.DayActivity) error {
	q := conn(ctx, r.db)

	_, err := q.ExecContext(ctx, `
		INSERT INTO day_activities (id, user_anonymized_id, goal_id, week_activity_id, date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET week_activity_id = EXCLUDED.week_activity_id`,
		day.ID, day.UserAnonymizedID, day.GoalID, day.WeekActivityID, day.Date.Format(time.DateOnly))
	if err != nil {
		if pgErrorCode(err) == codeForeignKeyViolation {
			return fmt.Errorf("repository: day activity %s references a missing week or goal: %w", day.ID, err)
		}
		return fmt.Errorf("repository: save day activity failed: %w", err)
	}

	for _, a := range day.Activities() {
		_, err := q.ExecContext(ctx, `
			INSERT INTO activities (`+activityColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time`,
			a.ID, day.ID, a.DeviceAnonymizedID, a.App, a.StartTime, a.EndTime)
		if err != nil {
			return fmt.Errorf("repository: save activity %s failed: %w", a.ID, err)
		}
	}
	return nil
}

func (r *PostgresActivityRepository) FindOverlappingActivitiesOfSameApp(ctx context.Context, day *domain.DayActivity, app *string, start, end time.Time) ([]*domain.Activity, error) {
	var activities []*domain.Activity
	err := conn(ctx, r.db).SelectContext(ctx, &activities, `
		SELECT `+activityColumns+`
		FROM activities
		WHERE day_activity_id = $1
		  AND app IS NOT DISTINCT FROM $2::text
		  AND start_time <= $4
		  AND end_time >= $3
		ORDER BY start_time`,
		day.ID, app, start, end)
	if err != nil {
		return nil, fmt.Errorf("repository: find overlapping activities failed: %w", err)
	}
	return inLocation(activities, day.Location()), nil
}

func inLocation(activities []*domain.Activity, loc *time.Location) []*domain.Activity {
	for _, a := range activities {
		a.StartTime = a.StartTime.In(loc)
		a.EndTime = a.EndTime.In(loc)
	}
	return activities
}
