package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"milestone-tracker/internal/model"
	"milestone-tracker/internal/workflow"
	"milestone-tracker/pkg/otel"
	"milestone-tracker/pkg/outbox"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const historyQuery = `
	SELECT pm.id, pm.project_id, pm.milestone_id, pm.start_time, pm.end_time, pm.completed,
	       m.name, m.sequence
	FROM project_milestones pm
	JOIN milestones m ON m.id = pm.milestone_id
	WHERE pm.project_id = $1
	ORDER BY pm.start_time ASC, pm.id ASC
`

// WorkflowStore 是 workflow.Engine 的 PostgreSQL 实现。每个工作流操作在一个
// 事务里执行，事务开头对 projects 行加 FOR UPDATE 锁，同一项目的操作串行，
// 不同项目互不影响。
type WorkflowStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewWorkflowStore(db *pgxpool.Pool, logger *zap.Logger) *WorkflowStore {
	return &WorkflowStore{db: db, logger: logger}
}

var _ workflow.Store = (*WorkflowStore)(nil)

func (s *WorkflowStore) InProjectTx(ctx context.Context, fn func(ctx context.Context, tx workflow.Tx) error) error {
	ctx, span := otel.StartSpan(ctx, "workflow.tx")
	defer span.End()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &workflowTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *WorkflowStore) ProjectExists(ctx context.Context, projectID int) (bool, error) {
	return projectExists(ctx, s.db, projectID, false)
}

func (s *WorkflowStore) History(ctx context.Context, projectID int) ([]model.ProjectMilestone, error) {
	return loadHistory(ctx, s.db, projectID)
}

type workflowTx struct {
	tx pgx.Tx
}

func (t *workflowTx) LockProject(ctx context.Context, projectID int) (bool, error) {
	return projectExists(ctx, t.tx, projectID, true)
}

func (t *workflowTx) Milestone(ctx context.Context, milestoneID int) (*model.Milestone, error) {
	var m model.Milestone
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, sequence FROM milestones WHERE id = $1`, milestoneID,
	).Scan(&m.ID, &m.Name, &m.Sequence)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load milestone: %w", err)
	}
	return &m, nil
}

func (t *workflowTx) DependencyExists(ctx context.Context, dependencyID int) (bool, error) {
	var ok bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM dependencies WHERE id = $1)`, dependencyID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check dependency: %w", err)
	}
	return ok, nil
}

func (t *workflowTx) History(ctx context.Context, projectID int) ([]model.ProjectMilestone, error) {
	return loadHistory(ctx, t.tx, projectID)
}

func (t *workflowTx) CloseOpenMilestones(ctx context.Context, projectID int, at time.Time) (int64, error) {
	const query = `
		UPDATE project_milestones
		SET end_time = $2, completed = 1
		WHERE project_id = $1 AND end_time IS NULL
	`
	var n int64
	err := otel.WithDBSpan(ctx, "update", query, func(ctx context.Context) error {
		tag, err := t.tx.Exec(ctx, query, projectID, at)
		n = tag.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to close open milestone: %w", err)
	}
	return n, nil
}

func (t *workflowTx) InsertProjectMilestone(ctx context.Context, pm *model.ProjectMilestone) error {
	const query = `
		INSERT INTO project_milestones (project_id, milestone_id, start_time, end_time, completed)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := otel.WithDBSpan(ctx, "insert", query, func(ctx context.Context) error {
		return t.tx.QueryRow(ctx, query,
			pm.ProjectID, pm.MilestoneID, pm.StartTime, pm.EndTime, pm.Completed,
		).Scan(&pm.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to insert project milestone: %w", err)
	}
	return nil
}

func (t *workflowTx) PendingDependencies(ctx context.Context, projectID int) ([]int, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT dependency_id FROM project_dependencies
		WHERE project_id = $1 AND cleared = 0
		ORDER BY dependency_id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending dependencies: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending dependencies: %w", err)
	}
	return ids, nil
}

func (t *workflowTx) ProjectDependency(ctx context.Context, projectID, dependencyID int) (*model.ProjectDependency, error) {
	pd := model.ProjectDependency{ProjectID: projectID, DependencyID: dependencyID}
	err := t.tx.QueryRow(ctx, `
		SELECT pd.cleared, d.name
		FROM project_dependencies pd
		JOIN dependencies d ON d.id = pd.dependency_id
		WHERE pd.project_id = $1 AND pd.dependency_id = $2
	`, projectID, dependencyID).Scan(&pd.Cleared, &pd.DependencyName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project dependency: %w", err)
	}
	return &pd, nil
}

func (t *workflowTx) InsertProjectDependency(ctx context.Context, projectID, dependencyID int) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO project_dependencies (project_id, dependency_id, cleared)
		VALUES ($1, $2, 0)
	`, projectID, dependencyID)
	if err != nil {
		return fmt.Errorf("failed to insert project dependency: %w", err)
	}
	return nil
}

func (t *workflowTx) MarkDependencyCleared(ctx context.Context, projectID, dependencyID int) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE project_dependencies SET cleared = 1
		WHERE project_id = $1 AND dependency_id = $2
	`, projectID, dependencyID)
	if err != nil {
		return fmt.Errorf("failed to clear project dependency: %w", err)
	}
	return nil
}

func (t *workflowTx) RecordEvent(ctx context.Context, routingKey string, projectID int, payload interface{}) error {
	return outbox.InsertEventInTx(ctx, t.tx, "project", int64(projectID), routingKey, payload)
}

func projectExists(ctx context.Context, q querier, projectID int, lock bool) (bool, error) {
	query := `SELECT id FROM projects WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var id int
	err := otel.WithDBSpan(ctx, "select", query, func(ctx context.Context) error {
		return q.QueryRow(ctx, query, projectID).Scan(&id)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load project: %w", err)
	}
	return true, nil
}

func loadHistory(ctx context.Context, q querier, projectID int) ([]model.ProjectMilestone, error) {
	rows, err := q.Query(ctx, historyQuery, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query milestone history: %w", err)
	}
	defer rows.Close()

	var history []model.ProjectMilestone
	for rows.Next() {
		var pm model.ProjectMilestone
		if err := rows.Scan(
			&pm.ID,
			&pm.ProjectID,
			&pm.MilestoneID,
			&pm.StartTime,
			&pm.EndTime,
			&pm.Completed,
			&pm.MilestoneName,
			&pm.Sequence,
		); err != nil {
			return nil, fmt.Errorf("failed to scan milestone history: %w", err)
		}
		history = append(history, pm)
	}
	return history, rows.Err()
}
