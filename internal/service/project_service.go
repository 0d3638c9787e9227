package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"milestone-tracker/internal/model"
	"milestone-tracker/internal/repository"
	"milestone-tracker/internal/workflow"
	"milestone-tracker/pkg/logger"
	"milestone-tracker/pkg/rbac"
)

// Action is what a caller wants to do with a single project.
type Action string

const (
	ActionView               Action = "view"
	ActionTransition         Action = "transition"
	ActionManageDependencies Action = "manage_dependencies"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

var projectStatuses = map[string]bool{
	"active":  true,
	"on_hold": true,
	"closed":  true,
}

type projectStore interface {
	List(ctx context.Context, ownerID *int) ([]model.Project, error)
	GetByID(ctx context.Context, id int) (*model.Project, error)
	Create(ctx context.Context, p *model.Project) error
	Update(ctx context.Context, id int, fields map[string]any) error
	Delete(ctx context.Context, id int) error
	Dependencies(ctx context.Context, projectID int) ([]model.ProjectDependency, error)
}

type userDirectory interface {
	FindByID(ctx context.Context, id int) (*model.User, error)
	ListByRole(ctx context.Context, role string) ([]model.User, error)
}

type catalogStore interface {
	Milestones(ctx context.Context) ([]model.Milestone, error)
	Dependencies(ctx context.Context) ([]model.Dependency, error)
}

type reportStore interface {
	LatestMilestones(ctx context.Context, ownerID *int) ([]model.DashboardProject, error)
}

type activityStore interface {
	ListByProject(ctx context.Context, projectID, limit int) ([]model.ProjectActivity, error)
}

// readCache is satisfied by *cache.Cache.
type readCache interface {
	Milestones(ctx context.Context, load func(context.Context) ([]model.Milestone, error)) ([]model.Milestone, error)
	Dependencies(ctx context.Context, load func(context.Context) ([]model.Dependency, error)) ([]model.Dependency, error)
	Dashboard(ctx context.Context, scope string, load func(context.Context) (*model.Dashboard, error)) (*model.Dashboard, error)
	InvalidateDashboard(ctx context.Context) error
}

type historyReader interface {
	History(ctx context.Context, projectID int) ([]model.ProjectMilestone, error)
	CurrentStage(ctx context.Context, projectID int) (*workflow.Stage, error)
}

// ProjectDetails is the single-project view: the row, its history newest
// sequence first, its dependency links and the derived stage.
type ProjectDetails struct {
	Project      *model.Project            `json:"project"`
	Milestones   []model.ProjectMilestone  `json:"milestones"`
	Dependencies []model.ProjectDependency `json:"dependencies"`
	Stage        *workflow.Stage           `json:"stage"`
}

type ProjectService struct {
	projects projectStore
	users    userDirectory
	catalog  catalogStore
	reports  reportStore
	activity activityStore
	cache    readCache
	workflow historyReader
	logger   *zap.Logger
}

func NewProjectService(
	projects projectStore,
	users userDirectory,
	catalog catalogStore,
	reports reportStore,
	activity activityStore,
	cache readCache,
	history historyReader,
	logger *zap.Logger,
) *ProjectService {
	return &ProjectService{
		projects: projects,
		users:    users,
		catalog:  catalog,
		reports:  reports,
		activity: activity,
		cache:    cache,
		workflow: history,
		logger:   logger,
	}
}

func denied(c rbac.Capability, action string) error {
	return &rbac.PermissionDeniedError{UserID: c.UserID(), Action: action}
}

func ownerFilter(c rbac.Capability) *int {
	if id, ok := c.OwnerScope(); ok {
		return &id
	}
	return nil
}

// Authorize loads the project and checks that c may perform action on it.
func (s *ProjectService) Authorize(ctx context.Context, c rbac.Capability, projectID int, action Action) (*model.Project, error) {
	p, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, repository.ErrProjectNotFound
	}

	var ok bool
	switch action {
	case ActionView:
		ok = c.CanView(p.AssignedUserID)
	case ActionTransition:
		ok = c.CanTransition(p.AssignedUserID)
	case ActionManageDependencies:
		ok = c.CanManageDependencies(p.AssignedUserID)
	}
	if !ok {
		return nil, denied(c, string(action))
	}
	return p, nil
}

func (s *ProjectService) List(ctx context.Context, c rbac.Capability) ([]model.Project, error) {
	projects, err := s.projects.List(ctx, ownerFilter(c))
	if err != nil {
		return nil, err
	}
	if projects == nil {
		projects = []model.Project{}
	}
	return projects, nil
}

type CreateProjectInput struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	ProjectCode string  `json:"project_id"`
	Distance    float64 `json:"distance"`
}

func (s *ProjectService) Create(ctx context.Context, c rbac.Capability, in CreateProjectInput) (*model.Project, error) {
	if !c.CanCreateProject() {
		return nil, denied(c, "create_project")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	p := &model.Project{
		Title:       title,
		Description: in.Description,
		ProjectCode: in.ProjectCode,
		Distance:    in.Distance,
		Status:      model.ProjectStatusActive,
	}
	if err := s.projects.Create(ctx, p); err != nil {
		return nil, err
	}
	s.invalidateDashboard(ctx)
	return p, nil
}

// Update applies the subset of fields the caller's role may change. Fields
// outside that set are ignored; if nothing is left the call fails.
func (s *ProjectService) Update(ctx context.Context, c rbac.Capability, projectID int, fields map[string]any) error {
	permitted := make(map[string]any, len(fields))
	for name, raw := range fields {
		if !rbac.Allows(c, name) {
			continue
		}
		v, err := normalizeField(name, raw)
		if err != nil {
			return err
		}
		permitted[name] = v
	}
	if len(permitted) == 0 {
		return ErrNoUpdatableFields
	}
	// 改 owner 走和 Assign 一样的校验；置空是取消分配，不校验
	if userID, ok := permitted["assigned_user_id"].(int); ok {
		if err := s.checkAssignment(ctx, projectID, userID); err != nil {
			return err
		}
	}

	if err := s.projects.Update(ctx, projectID, permitted); err != nil {
		return err
	}

	logger.WithTrace(ctx, s.logger).Info("Project updated",
		zap.Int("project_id", projectID),
		zap.Int("user_id", c.UserID()),
		zap.Int("fields", len(permitted)),
	)
	s.invalidateDashboard(ctx)
	return nil
}

// normalizeField converts JSON-decoded values to the column's Go type.
func normalizeField(name string, raw any) (any, error) {
	switch name {
	case "title", "description", "project_id", "status":
		v, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidInput, name)
		}
		if name == "title" && strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
		}
		if name == "status" && !projectStatuses[v] {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, v)
		}
		return v, nil
	case "distance":
		v, ok := raw.(float64)
		if !ok || v < 0 {
			return nil, fmt.Errorf("%w: distance must be a non-negative number", ErrInvalidInput)
		}
		return v, nil
	case "assigned_user_id":
		if raw == nil {
			return nil, nil
		}
		v, ok := raw.(float64)
		if !ok || v <= 0 || v != float64(int(v)) {
			return nil, fmt.Errorf("%w: assigned_user_id must be a positive integer", ErrInvalidInput)
		}
		return int(v), nil
	}
	return nil, fmt.Errorf("%w: %s is not updatable", ErrInvalidInput, name)
}

func (s *ProjectService) Delete(ctx context.Context, c rbac.Capability, projectID int) error {
	if !c.CanDeleteProject() {
		return denied(c, "delete_project")
	}
	if err := s.projects.Delete(ctx, projectID); err != nil {
		return err
	}
	s.invalidateDashboard(ctx)
	return nil
}

// Assign sets the project's owner. The target must be an existing account
// with the user role.
func (s *ProjectService) Assign(ctx context.Context, c rbac.Capability, projectID, userID int) error {
	if !c.CanAssign() {
		return denied(c, "assign_project")
	}
	if userID <= 0 {
		return fmt.Errorf("%w: userId must be a positive integer", ErrInvalidInput)
	}

	if err := s.checkAssignment(ctx, projectID, userID); err != nil {
		return err
	}

	if err := s.projects.Update(ctx, projectID, map[string]any{"assigned_user_id": userID}); err != nil {
		return err
	}

	logger.WithTrace(ctx, s.logger).Info("Project assigned",
		zap.Int("project_id", projectID),
		zap.Int("assigned_user_id", userID),
	)
	s.invalidateDashboard(ctx)
	return nil
}

// checkAssignment requires the target to be an existing user-role account
// that does not already own the project.
func (s *ProjectService) checkAssignment(ctx context.Context, projectID, userID int) error {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if u == nil {
		return repository.ErrUserNotFound
	}
	if u.Role != rbac.RoleUser {
		return fmt.Errorf("%w: projects can only be assigned to user accounts", ErrInvalidInput)
	}

	p, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return err
	}
	if p == nil {
		return repository.ErrProjectNotFound
	}
	if p.AssignedUserID != nil && *p.AssignedUserID == userID {
		return ErrAlreadyAssigned
	}
	return nil
}

// ListUsers returns the accounts projects can be assigned to.
func (s *ProjectService) ListUsers(ctx context.Context, c rbac.Capability) ([]model.User, error) {
	if !c.CanListUsers() {
		return nil, denied(c, "list_users")
	}
	users, err := s.users.ListByRole(ctx, rbac.RoleUser)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []model.User{}
	}
	return users, nil
}

func (s *ProjectService) Details(ctx context.Context, c rbac.Capability, projectID int) (*ProjectDetails, error) {
	p, err := s.Authorize(ctx, c, projectID, ActionView)
	if err != nil {
		return nil, err
	}

	history, err := s.workflow.History(ctx, projectID)
	if err != nil {
		return nil, err
	}
	deps, err := s.projects.Dependencies(ctx, projectID)
	if err != nil {
		return nil, err
	}
	stage, err := s.workflow.CurrentStage(ctx, projectID)
	if err != nil {
		// 项目可能在两次读取之间被删除
		if workflow.IsKind(err, workflow.KindNotFound) {
			return nil, repository.ErrProjectNotFound
		}
		return nil, err
	}

	if history == nil {
		history = []model.ProjectMilestone{}
	}
	if deps == nil {
		deps = []model.ProjectDependency{}
	}
	return &ProjectDetails{Project: p, Milestones: history, Dependencies: deps, Stage: stage}, nil
}

func (s *ProjectService) Milestones(ctx context.Context) ([]model.Milestone, error) {
	return s.cache.Milestones(ctx, s.catalog.Milestones)
}

func (s *ProjectService) Dependencies(ctx context.Context) ([]model.Dependency, error) {
	return s.cache.Dependencies(ctx, s.catalog.Dependencies)
}

// Dashboard returns each visible project's latest milestone together with
// the milestone catalog. Results are cached per owner scope.
func (s *ProjectService) Dashboard(ctx context.Context, c rbac.Capability) (*model.Dashboard, error) {
	owner := ownerFilter(c)
	scope := "all"
	if owner != nil {
		scope = fmt.Sprintf("user:%d", *owner)
	}

	return s.cache.Dashboard(ctx, scope, func(ctx context.Context) (*model.Dashboard, error) {
		rows, err := s.reports.LatestMilestones(ctx, owner)
		if err != nil {
			return nil, err
		}
		milestones, err := s.Milestones(ctx)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []model.DashboardProject{}
		}
		return &model.Dashboard{Projects: rows, MilestoneName: milestones}, nil
	})
}

// Activity lists the worker-written audit trail, newest first.
func (s *ProjectService) Activity(ctx context.Context, c rbac.Capability, projectID, limit int) ([]model.ProjectActivity, error) {
	if _, err := s.Authorize(ctx, c, projectID, ActionView); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}

	out, err := s.activity.ListByProject(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.ProjectActivity{}
	}
	return out, nil
}

// invalidateDashboard is best effort; a stale entry expires with its TTL.
func (s *ProjectService) invalidateDashboard(ctx context.Context) {
	if err := s.cache.InvalidateDashboard(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithTrace(ctx, s.logger).Warn("Failed to invalidate dashboard cache", zap.Error(err))
	}
}
