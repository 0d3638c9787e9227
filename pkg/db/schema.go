package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('admin', 'editor', 'user')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS tokens (
		id SERIAL PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		refresh_token TEXT NOT NULL UNIQUE,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id SERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		project_id TEXT NOT NULL DEFAULT '',
		distance DOUBLE PRECISION NOT NULL DEFAULT 0,
		assigned_user_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS milestones (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		sequence INTEGER NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS dependencies (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS project_milestones (
		id SERIAL PRIMARY KEY,
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		milestone_id INTEGER NOT NULL REFERENCES milestones(id),
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ,
		completed SMALLINT NOT NULL DEFAULT 0 CHECK (completed IN (0, 1)),
		UNIQUE (project_id, milestone_id)
	)`,
	// 每个项目最多只有一个未关闭的里程碑
	`CREATE UNIQUE INDEX IF NOT EXISTS project_milestones_single_open
		ON project_milestones (project_id) WHERE end_time IS NULL`,
	`CREATE INDEX IF NOT EXISTS project_milestones_latest
		ON project_milestones (project_id, start_time DESC)`,
	`CREATE TABLE IF NOT EXISTS project_dependencies (
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		dependency_id INTEGER NOT NULL REFERENCES dependencies(id),
		cleared SMALLINT NOT NULL DEFAULT 0 CHECK (cleared IN (0, 1)),
		PRIMARY KEY (project_id, dependency_id)
	)`,
	`CREATE TABLE IF NOT EXISTS project_activity (
		id BIGSERIAL PRIMARY KEY,
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		event_type TEXT NOT NULL,
		milestone_id INTEGER,
		dependency_id INTEGER,
		message TEXT NOT NULL,
		dedup_key TEXT NOT NULL UNIQUE,
		occurred_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id BIGSERIAL PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id BIGINT,
		routing_key TEXT NOT NULL,
		payload JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		next_retry_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_events_pending
		ON outbox_events (status, next_retry_at, created_at)`,
}

// Migrate creates every table the service needs. Statements are idempotent so
// it runs on each start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	logger.Info("Applying schema migrations", zap.Int("statements", len(migrations)))

	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			logger.Error("Migration failed", zap.Int("index", i), zap.Error(err))
			return fmt.Errorf("failed to apply migration %d: %w", i, err)
		}
	}

	logger.Info("Schema is up to date")
	return nil
}
