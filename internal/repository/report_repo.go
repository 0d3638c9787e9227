package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"milestone-tracker/internal/model"
)

type ReportRepository struct {
	db *pgxpool.Pool
}

func NewReportRepository(db *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{db: db}
}

// LatestMilestones 每个项目取最近进入的里程碑。还没有历史的项目也返回，
// milestone_id 和 completed 为 0。
func (r *ReportRepository) LatestMilestones(ctx context.Context, ownerID *int) ([]model.DashboardProject, error) {
	query := `
		SELECT p.id, p.title, p.project_id, p.distance, p.assigned_user_id,
		       COALESCE(u.username, ''),
		       COALESCE(lm.milestone_id, 0), COALESCE(lm.completed, 0)
		FROM projects p
		LEFT JOIN LATERAL (
			SELECT pm.milestone_id, pm.completed
			FROM project_milestones pm
			WHERE pm.project_id = p.id
			ORDER BY pm.start_time DESC, pm.id DESC
			LIMIT 1
		) lm ON true
		LEFT JOIN users u ON u.id = p.assigned_user_id
	`
	args := []any{}
	if ownerID != nil {
		query += ` WHERE p.assigned_user_id = $1`
		args = append(args, *ownerID)
	}
	query += ` ORDER BY p.id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dashboard: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.DashboardProject, error) {
		var d model.DashboardProject
		err := row.Scan(
			&d.ProjectID,
			&d.Title,
			&d.ProjectCode,
			&d.Distance,
			&d.AssignedUserID,
			&d.Username,
			&d.MilestoneID,
			&d.Completed,
		)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan dashboard: %w", err)
	}
	return out, nil
}
