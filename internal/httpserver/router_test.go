package httpserver

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"milestone-tracker/internal/api"
	"milestone-tracker/internal/model"
	"milestone-tracker/internal/repository"
	"milestone-tracker/internal/service"
	"milestone-tracker/internal/workflow"
	"milestone-tracker/pkg/outbox"
	"milestone-tracker/pkg/rbac"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type tokenTable map[string]rbac.Identity

func (t tokenTable) Identify(token string) (rbac.Identity, error) {
	id, ok := t[token]
	if !ok {
		return rbac.Identity{}, errors.New("bad token")
	}
	return id, nil
}

// ownership maps project id to the assigned user, 0 for unassigned.
type ownership map[int]int

func (o ownership) Authorize(_ context.Context, c rbac.Capability, projectID int, action service.Action) (*model.Project, error) {
	owner, ok := o[projectID]
	if !ok {
		return nil, repository.ErrProjectNotFound
	}
	p := &model.Project{ID: projectID}
	if owner != 0 {
		p.AssignedUserID = &owner
	}
	var allowed bool
	switch action {
	case service.ActionView:
		allowed = c.CanView(p.AssignedUserID)
	case service.ActionTransition:
		allowed = c.CanTransition(p.AssignedUserID)
	case service.ActionManageDependencies:
		allowed = c.CanManageDependencies(p.AssignedUserID)
	}
	if !allowed {
		return nil, &rbac.PermissionDeniedError{UserID: c.UserID(), Action: string(action)}
	}
	return p, nil
}

type nopProjects struct{}

func (nopProjects) List(context.Context, rbac.Capability) ([]model.Project, error) {
	return []model.Project{}, nil
}
func (nopProjects) Create(context.Context, rbac.Capability, service.CreateProjectInput) (*model.Project, error) {
	return &model.Project{ID: 1}, nil
}
func (nopProjects) Update(context.Context, rbac.Capability, int, map[string]any) error { return nil }
func (nopProjects) Delete(context.Context, rbac.Capability, int) error                  { return nil }
func (nopProjects) Details(context.Context, rbac.Capability, int) (*service.ProjectDetails, error) {
	return &service.ProjectDetails{}, nil
}
func (nopProjects) Assign(context.Context, rbac.Capability, int, int) error { return nil }
func (nopProjects) ListUsers(context.Context, rbac.Capability) ([]model.User, error) {
	return []model.User{}, nil
}
func (nopProjects) Milestones(context.Context) ([]model.Milestone, error)    { return nil, nil }
func (nopProjects) Dependencies(context.Context) ([]model.Dependency, error) { return nil, nil }
func (nopProjects) Dashboard(context.Context, rbac.Capability) (*model.Dashboard, error) {
	return &model.Dashboard{}, nil
}
func (nopProjects) Activity(context.Context, rbac.Capability, int, int) ([]model.ProjectActivity, error) {
	return nil, nil
}

type countingEngine struct {
	advances int
}

func (e *countingEngine) Advance(_ context.Context, _, milestoneID int) (*workflow.TransitionResult, error) {
	e.advances++
	return &workflow.TransitionResult{MilestoneID: milestoneID, SequencePosition: milestoneID}, nil
}
func (e *countingEngine) Attach(context.Context, int, int) error { return nil }
func (e *countingEngine) Clear(context.Context, int, int) error  { return nil }
func (e *countingEngine) CheckCleared(_ context.Context, _, milestoneID int) (*workflow.GateResult, error) {
	return &workflow.GateResult{MilestoneID: milestoneID, Cleared: true, Pending: []int{}}, nil
}
func (e *countingEngine) ComputeDurations(context.Context, int) ([]workflow.MilestoneDuration, error) {
	return []workflow.MilestoneDuration{}, nil
}

type nopReplay struct{}

func (nopReplay) ListFailed(context.Context, int) ([]*outbox.Event, error) { return nil, nil }
func (nopReplay) ReplayEvent(context.Context, int64) error                 { return nil }
func (nopReplay) ReplayFailedEvents(context.Context, int) (int, error)     { return 0, nil }

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubConn bool

func (c stubConn) IsConnected() bool { return bool(c) }

func newTestRouter(t *testing.T, db stubPinger) (*gin.Engine, *countingEngine) {
	t.Helper()
	log := zap.NewNop()
	engine := &countingEngine{}
	r := NewRouter(Deps{
		Auth:     api.NewAuthHandler(nil, log),
		Projects: api.NewProjectHandler(nopProjects{}, log),
		Workflow: api.NewWorkflowHandler(engine, log),
		Admin:    api.NewAdminHandler(nopReplay{}, log),
		Identifier: tokenTable{
			"admin":  {UserID: 1, Role: rbac.RoleAdmin},
			"editor": {UserID: 2, Role: rbac.RoleEditor},
			"owner":  {UserID: 7, Role: rbac.RoleUser},
			"other":  {UserID: 8, Role: rbac.RoleUser},
			"ghost":  {UserID: 9, Role: "superuser"},
		},
		Authorizer: ownership{1: 7, 2: 0},
		DB:         db,
		Publisher:  stubConn(true),
		Logger:     log,
	})
	return r.Engine, engine
}

func call(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthAndReadiness(t *testing.T) {
	r, _ := newTestRouter(t, stubPinger{})
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/readyz", "", "").Code)

	down, _ := newTestRouter(t, stubPinger{err: errors.New("db down")})
	assert.Equal(t, http.StatusServiceUnavailable, call(down, http.MethodGet, "/readyz", "", "").Code)
}

func TestTraceHeaderEchoed(t *testing.T) {
	r, _ := newTestRouter(t, stubPinger{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Trace-ID", "abc123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc123", w.Header().Get("X-Trace-ID"))

	w = call(r, http.MethodGet, "/healthz", "", "")
	assert.Len(t, w.Header().Get("X-Trace-ID"), 32)
}

func TestAuthRequired(t *testing.T) {
	r, _ := newTestRouter(t, stubPinger{})
	assert.Equal(t, http.StatusUnauthorized, call(r, http.MethodGet, "/api/projects", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, http.MethodGet, "/api/projects", "forged", "").Code)
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodGet, "/api/projects", "ghost", "").Code)
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/api/projects", "owner", "").Code)
}

func TestAdvanceAuthorizedBeforeEngine(t *testing.T) {
	r, engine := newTestRouter(t, stubPinger{})
	body := `{"milestoneId": 1}`

	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPost, "/api/projects/1/milestones", "other", body).Code)
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPost, "/api/projects/1/milestones", "editor", body).Code)
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPost, "/api/projects/1/milestones", "admin", body).Code)
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPost, "/api/projects/2/milestones", "owner", body).Code)
	assert.Equal(t, http.StatusNotFound, call(r, http.MethodPost, "/api/projects/3/milestones", "owner", body).Code)
	assert.Equal(t, 0, engine.advances)

	w := call(r, http.MethodPost, "/api/projects/1/milestones", "owner", body)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, engine.advances)
}

func TestGateVisibleToViewers(t *testing.T) {
	r, _ := newTestRouter(t, stubPinger{})
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/api/projects/1/gate/3", "editor", "").Code)
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/api/projects/1/gate/3", "owner", "").Code)
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodGet, "/api/projects/1/gate/3", "other", "").Code)
}

func TestRoleGatedRoutes(t *testing.T) {
	r, _ := newTestRouter(t, stubPinger{})
	create := `{"title": "Fiber"}`

	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPost, "/api/projects", "owner", create).Code)
	assert.Equal(t, http.StatusCreated, call(r, http.MethodPost, "/api/projects", "editor", create).Code)

	assert.Equal(t, http.StatusForbidden, call(r, http.MethodGet, "/api/users", "owner", "").Code)
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/api/users", "admin", "").Code)

	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPost, "/api/admin/outbox/replay", "editor", "").Code)
	assert.Equal(t, http.StatusOK, call(r, http.MethodPost, "/api/admin/outbox/replay", "admin", "").Code)

	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPut, "/api/admin/assign/1", "editor", `{"userId": 7}`).Code)
	assert.Equal(t, http.StatusOK, call(r, http.MethodPut, "/api/admin/assign/1", "admin", `{"userId": 7}`).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, stubPinger{})
	_ = call(r, http.MethodGet, "/healthz", "", "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
