package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"milestone-tracker/internal/model"
	"milestone-tracker/pkg/logger"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrUserNotFound    = errors.New("user not found")
)

// 可以通过 Update 修改的列
var updatableColumns = map[string]bool{
	"title":            true,
	"description":      true,
	"distance":         true,
	"project_id":       true,
	"status":           true,
	"assigned_user_id": true,
}

const projectSelect = `
	SELECT p.id, p.title, p.description, p.project_id, p.distance, p.assigned_user_id,
	       p.status, p.created_at, p.updated_at, COALESCE(u.username, '')
	FROM projects p
	LEFT JOIN users u ON u.id = p.assigned_user_id
`

type ProjectRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewProjectRepository(db *pgxpool.Pool, logger *zap.Logger) *ProjectRepository {
	return &ProjectRepository{db: db, logger: logger}
}

// List 返回项目列表。ownerID 非空时只返回分配给该用户的项目。
// 未分配的项目排在前面，其余按 id 排序。
func (r *ProjectRepository) List(ctx context.Context, ownerID *int) ([]model.Project, error) {
	query := projectSelect
	args := []any{}
	if ownerID != nil {
		query += ` WHERE p.assigned_user_id = $1`
		args = append(args, *ownerID)
	}
	query += ` ORDER BY (p.assigned_user_id IS NOT NULL), p.id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	projects, err := pgx.CollectRows(rows, scanProject)
	if err != nil {
		return nil, fmt.Errorf("failed to scan projects: %w", err)
	}
	return projects, nil
}

// GetByID returns nil when the project does not exist.
func (r *ProjectRepository) GetByID(ctx context.Context, id int) (*model.Project, error) {
	rows, err := r.db.Query(ctx, projectSelect+` WHERE p.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	p, err := pgx.CollectOneRow(rows, scanProject)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	return &p, nil
}

func (r *ProjectRepository) Create(ctx context.Context, p *model.Project) error {
	if p.Status == "" {
		p.Status = model.ProjectStatusActive
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO projects (title, description, project_id, distance, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, p.Title, p.Description, p.ProjectCode, p.Distance, p.Status).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	logger.WithTrace(ctx, r.logger).Info("Project created", zap.Int("project_id", p.ID))
	return nil
}

// Update 只写入白名单里的列，调用方负责按角色过滤字段
func (r *ProjectRepository) Update(ctx context.Context, id int, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !updatableColumns[col] {
			return fmt.Errorf("column %q is not updatable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+1)
	for i, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+1))
		args = append(args, fields[col])
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE projects SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	tag, err := r.db.Exec(ctx, query, args...)
	if isForeignKeyViolation(err) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProjectNotFound
	}
	return nil
}

func (r *ProjectRepository) Delete(ctx context.Context, id int) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProjectNotFound
	}

	logger.WithTrace(ctx, r.logger).Info("Project deleted", zap.Int("project_id", id))
	return nil
}

// Dependencies 返回项目挂载的依赖及其清除状态
func (r *ProjectRepository) Dependencies(ctx context.Context, projectID int) ([]model.ProjectDependency, error) {
	rows, err := r.db.Query(ctx, `
		SELECT pd.project_id, pd.dependency_id, pd.cleared, d.name
		FROM project_dependencies pd
		JOIN dependencies d ON d.id = pd.dependency_id
		WHERE pd.project_id = $1
		ORDER BY pd.dependency_id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query project dependencies: %w", err)
	}
	deps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ProjectDependency, error) {
		var pd model.ProjectDependency
		err := row.Scan(&pd.ProjectID, &pd.DependencyID, &pd.Cleared, &pd.DependencyName)
		return pd, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan project dependencies: %w", err)
	}
	return deps, nil
}

func scanProject(row pgx.CollectableRow) (model.Project, error) {
	var p model.Project
	err := row.Scan(
		&p.ID,
		&p.Title,
		&p.Description,
		&p.ProjectCode,
		&p.Distance,
		&p.AssignedUserID,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.AssignedUsername,
	)
	return p, err
}
