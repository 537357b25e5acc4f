package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/domain"
)

var (
	_ domain.UserDirectory   = (*PostgresDirectory)(nil)
	_ domain.GoalDirectory   = (*PostgresDirectory)(nil)
	_ domain.DeviceDirectory = (*PostgresDirectory)(nil)
)

// PostgresDirectory reads users, devices, goals and activity categories. The engine only
// reads them; the write methods exist for provisioning and tests.
type PostgresDirectory struct {
	db *sqlx.DB
}

func NewPostgresDirectory(db *sqlx.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

type goalRow struct {
	ID                 string         `db:"id"`
	UserAnonymizedID   string         `db:"user_anonymized_id"`
	ActivityCategoryID string         `db:"activity_category_id"`
	Type               string         `db:"type"`
	MaxDurationMinutes int            `db:"max_duration_minutes"`
	Zones              pq.StringArray `db:"zones"`
	CreationTime       time.Time      `db:"creation_time"`
	EndTime            *time.Time     `db:"end_time"`
}

func (g goalRow) toDomain() *domain.Goal {
	return &domain.Goal{
		ID:                 g.ID,
		UserAnonymizedID:   g.UserAnonymizedID,
		ActivityCategoryID: g.ActivityCategoryID,
		Type:               g.Type,
		MaxDurationMinutes: g.MaxDurationMinutes,
		Zones:              []string(g.Zones),
		CreationTime:       g.CreationTime,
		EndTime:            g.EndTime,
	}
}

type categoryRow struct {
	ID                string         `db:"id"`
	Name              string         `db:"name"`
	NetworkCategories pq.StringArray `db:"network_categories"`
	Applications      pq.StringArray `db:"applications"`
	MandatoryNoGo     bool           `db:"mandatory_no_go"`
}

func (r *PostgresDirectory) GetUserAnonymized(ctx context.Context, userID string) (*domain.UserAnonymized, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var u domain.UserAnonymized
	err := r.db.GetContext(ctx, &u,
		`SELECT id, time_zone, anonymous_destination_id FROM users_anonymized WHERE id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("repository: get user failed: %w", err)
	}
	return &u, nil
}

func (r *PostgresDirectory) ResolveAnonymizedDeviceID(ctx context.Context, userID, deviceID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var id string
	err := r.db.GetContext(ctx, &id, `
		SELECT device_anonymized_id FROM user_devices
		WHERE user_anonymized_id = $1 AND device_id = $2`, userID, deviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrDeviceNotFound
		}
		return "", fmt.Errorf("repository: resolve device failed: %w", err)
	}
	return id, nil
}

func (r *PostgresDirectory) GetGoalsOfUser(ctx context.Context, userID string) ([]*domain.Goal, error) {
	var rows []goalRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, user_anonymized_id, activity_category_id, type, max_duration_minutes, zones, creation_time, end_time
		FROM goals
		WHERE user_anonymized_id = $1
		ORDER BY creation_time`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: list goals failed: %w", err)
	}

	goals := make([]*domain.Goal, 0, len(rows))
	for _, row := range rows {
		goals = append(goals, row.toDomain())
	}
	return goals, nil
}

func (r *PostgresDirectory) GetActivityCategories(ctx context.Context) ([]*domain.ActivityCategory, error) {
	var rows []categoryRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, name, network_categories, applications, mandatory_no_go
		FROM activity_categories
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("repository: list activity categories failed: %w", err)
	}

	categories := make([]*domain.ActivityCategory, 0, len(rows))
	for _, row := range rows {
		categories = append(categories, &domain.ActivityCategory{
			ID:                row.ID,
			Name:              row.Name,
			NetworkCategories: []string(row.NetworkCategories),
			Applications:      []string(row.Applications),
			MandatoryNoGo:     row.MandatoryNoGo,
		})
	}
	return categories, nil
}

func (r *PostgresDirectory) SaveUser(ctx context.Context, u *domain.UserAnonymized) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users_anonymized (id, time_zone, anonymous_destination_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET time_zone = EXCLUDED.time_zone, anonymous_destination_id = EXCLUDED.anonymous_destination_id`,
		u.ID, u.TimeZone, u.AnonymousDestinationID)
	if err != nil {
		return fmt.Errorf("repository: save user failed: %w", err)
	}
	return nil
}

func (r *PostgresDirectory) SaveDevice(ctx context.Context, userID, deviceID, anonymizedID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_devices (user_anonymized_id, device_id, device_anonymized_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_anonymized_id, device_id) DO UPDATE SET device_anonymized_id = EXCLUDED.device_anonymized_id`,
		userID, deviceID, anonymizedID)
	if err != nil {
		if pgErrorCode(err) == codeForeignKeyViolation {
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("repository: save device failed: %w", err)
	}
	return nil
}

func (r *PostgresDirectory) SaveActivityCategory(ctx context.Context, c *domain.ActivityCategory) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_categories (id, name, network_categories, applications, mandatory_no_go)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			network_categories = EXCLUDED.network_categories,
			applications = EXCLUDED.applications,
			mandatory_no_go = EXCLUDED.mandatory_no_go`,
		c.ID, c.Name, pq.Array(nonNil(c.NetworkCategories)), pq.Array(nonNil(c.Applications)), c.MandatoryNoGo)
	if err != nil {
		return fmt.Errorf("repository: save activity category failed: %w", err)
	}
	return nil
}

// SaveGoal validates the goal against its category before writing it.
func (r *PostgresDirectory) SaveGoal(ctx context.Context, g *domain.Goal, category *domain.ActivityCategory) error {
	if err := g.ValidateFor(category); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO goals (id, user_anonymized_id, activity_category_id, type, max_duration_minutes, zones, creation_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			max_duration_minutes = EXCLUDED.max_duration_minutes,
			zones = EXCLUDED.zones,
			end_time = EXCLUDED.end_time`,
		g.ID, g.UserAnonymizedID, g.ActivityCategoryID, g.Type, g.MaxDurationMinutes,
		pq.Array(nonNil(g.Zones)), g.CreationTime, g.EndTime)
	if err != nil {
		if pgErrorCode(err) == codeForeignKeyViolation {
			return fmt.Errorf("repository: goal %s references a missing user or category: %w", g.ID, domain.ErrUserNotFound)
		}
		return fmt.Errorf("repository: save goal failed: %w", err)
	}
	return nil
}

// nonNil keeps pq from writing NULL into NOT NULL array columns.
func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
