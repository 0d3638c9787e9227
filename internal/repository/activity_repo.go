package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"milestone-tracker/internal/model"
)

type ActivityRepository struct {
	db *pgxpool.Pool
}

func NewActivityRepository(db *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Insert 按 dedup_key 幂等写入。重复投递返回 (false, nil)。
func (r *ActivityRepository) Insert(ctx context.Context, a *model.ProjectActivity) (bool, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO project_activity (project_id, event_type, milestone_id, dependency_id, message, dedup_key, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING id, created_at
	`, a.ProjectID, a.EventType, a.MilestoneID, a.DependencyID, a.Message, a.DedupKey, a.OccurredAt).
		Scan(&a.ID, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert project activity: %w", err)
	}
	return true, nil
}

// ListByProject 最新的在前
func (r *ActivityRepository) ListByProject(ctx context.Context, projectID, limit int) ([]model.ProjectActivity, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, project_id, event_type, milestone_id, dependency_id, message, dedup_key, occurred_at, created_at
		FROM project_activity
		WHERE project_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list project activity: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ProjectActivity, error) {
		var a model.ProjectActivity
		err := row.Scan(
			&a.ID,
			&a.ProjectID,
			&a.EventType,
			&a.MilestoneID,
			&a.DependencyID,
			&a.Message,
			&a.DedupKey,
			&a.OccurredAt,
			&a.CreatedAt,
		)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan project activity: %w", err)
	}
	return out, nil
}
