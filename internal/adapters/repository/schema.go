package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users_anonymized (
		id TEXT PRIMARY KEY,
		time_zone TEXT NOT NULL DEFAULT 'UTC',
		anonymous_destination_id TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS user_devices (
		user_anonymized_id TEXT NOT NULL REFERENCES users_anonymized(id) ON DELETE CASCADE,
		device_id TEXT NOT NULL,
		device_anonymized_id TEXT NOT NULL,
		PRIMARY KEY (user_anonymized_id, device_id)
	)`,

	`CREATE TABLE IF NOT EXISTS activity_categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		network_categories TEXT[] NOT NULL DEFAULT '{}',
		applications TEXT[] NOT NULL DEFAULT '{}',
		mandatory_no_go BOOLEAN NOT NULL DEFAULT FALSE
	)`,

	`CREATE TABLE IF NOT EXISTS goals (
		id TEXT PRIMARY KEY,
		user_anonymized_id TEXT NOT NULL REFERENCES users_anonymized(id) ON DELETE CASCADE,
		activity_category_id TEXT NOT NULL REFERENCES activity_categories(id),
		type TEXT NOT NULL,
		max_duration_minutes INTEGER NOT NULL DEFAULT 0,
		zones TEXT[] NOT NULL DEFAULT '{}',
		creation_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_goals_user ON goals(user_anonymized_id)`,

	`CREATE TABLE IF NOT EXISTS week_activities (
		id TEXT PRIMARY KEY,
		user_anonymized_id TEXT NOT NULL REFERENCES users_anonymized(id) ON DELETE CASCADE,
		goal_id TEXT NOT NULL REFERENCES goals(id) ON DELETE CASCADE,
		start_date DATE NOT NULL,
		UNIQUE (user_anonymized_id, goal_id, start_date)
	)`,

	`CREATE TABLE IF NOT EXISTS day_activities (
		id TEXT PRIMARY KEY,
		user_anonymized_id TEXT NOT NULL REFERENCES users_anonymized(id) ON DELETE CASCADE,
		goal_id TEXT NOT NULL REFERENCES goals(id) ON DELETE CASCADE,
		week_activity_id TEXT NOT NULL REFERENCES week_activities(id) ON DELETE CASCADE,
		date DATE NOT NULL,
		UNIQUE (user_anonymized_id, goal_id, date)
	)`,

	`CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		day_activity_id TEXT NOT NULL REFERENCES day_activities(id) ON DELETE CASCADE,
		device_anonymized_id TEXT NOT NULL DEFAULT '',
		app TEXT,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		CHECK (end_time >= start_time)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activities_day_start ON activities(day_activity_id, start_time)`,
}

// Migrate creates the tables of the engine. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	slog.Info("database schema up to date", "statements", len(migrations))
	return nil
}
