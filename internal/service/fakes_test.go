package service

import (
	"context"
	"sort"
	"sync"

	"milestone-tracker/internal/model"
	"milestone-tracker/internal/repository"
	"milestone-tracker/internal/workflow"
)

type fakeUsers struct {
	mu     sync.Mutex
	byID   map[int]*model.User
	nextID int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[int]*model.User{}}
}

func (f *fakeUsers) CreateUser(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Username == u.Username {
			return repository.ErrDuplicate
		}
	}
	f.nextID++
	u.ID = f.nextID
	cp := *u
	f.byID[u.ID] = &cp
	return nil
}

func (f *fakeUsers) FindByUsername(_ context.Context, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) FindByID(_ context.Context, id int) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) ListByRole(_ context.Context, role string) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.User
	for _, u := range f.byID {
		if u.Role == role {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeTokens struct {
	mu     sync.Mutex
	tokens map[string]model.RefreshToken
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{tokens: map[string]model.RefreshToken{}}
}

func (f *fakeTokens) Save(_ context.Context, t *model.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[t.Token] = *t
	return nil
}

func (f *fakeTokens) Find(_ context.Context, token string) (*model.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeTokens) Delete(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, token)
	return nil
}

type fakeProjects struct {
	projects map[int]*model.Project
	deps     map[int][]model.ProjectDependency
	nextID   int
	updates  []map[string]any
}

func newFakeProjects() *fakeProjects {
	return &fakeProjects{projects: map[int]*model.Project{}, deps: map[int][]model.ProjectDependency{}}
}

func (f *fakeProjects) add(p model.Project) {
	f.nextID++
	if p.ID == 0 {
		p.ID = f.nextID
	}
	f.projects[p.ID] = &p
}

func (f *fakeProjects) List(_ context.Context, ownerID *int) ([]model.Project, error) {
	var out []model.Project
	for _, p := range f.projects {
		if ownerID != nil && (p.AssignedUserID == nil || *p.AssignedUserID != *ownerID) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeProjects) GetByID(_ context.Context, id int) (*model.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProjects) Create(_ context.Context, p *model.Project) error {
	f.nextID++
	p.ID = f.nextID
	cp := *p
	f.projects[p.ID] = &cp
	return nil
}

func (f *fakeProjects) Update(_ context.Context, id int, fields map[string]any) error {
	p, ok := f.projects[id]
	if !ok {
		return repository.ErrProjectNotFound
	}
	f.updates = append(f.updates, fields)
	for k, v := range fields {
		switch k {
		case "title":
			p.Title = v.(string)
		case "status":
			p.Status = v.(string)
		case "distance":
			p.Distance = v.(float64)
		case "assigned_user_id":
			if v == nil {
				p.AssignedUserID = nil
			} else {
				uid := v.(int)
				p.AssignedUserID = &uid
			}
		}
	}
	return nil
}

func (f *fakeProjects) Delete(_ context.Context, id int) error {
	if _, ok := f.projects[id]; !ok {
		return repository.ErrProjectNotFound
	}
	delete(f.projects, id)
	return nil
}

func (f *fakeProjects) Dependencies(_ context.Context, projectID int) ([]model.ProjectDependency, error) {
	return f.deps[projectID], nil
}

type fakeCatalog struct{}

func (fakeCatalog) Milestones(context.Context) ([]model.Milestone, error) {
	return []model.Milestone{{ID: 1, Name: "Survey", Sequence: 1}, {ID: 2, Name: "Design", Sequence: 2}}, nil
}

func (fakeCatalog) Dependencies(context.Context) ([]model.Dependency, error) {
	return []model.Dependency{{ID: 1, Name: "Right of way"}}, nil
}

type fakeReports struct {
	lastOwner *int
	calls     int
	rows      []model.DashboardProject
}

func (f *fakeReports) LatestMilestones(_ context.Context, ownerID *int) ([]model.DashboardProject, error) {
	f.calls++
	f.lastOwner = ownerID
	if f.rows != nil {
		return f.rows, nil
	}
	return []model.DashboardProject{{ProjectID: 1, MilestoneID: 2}}, nil
}

type fakeActivity struct {
	limit int
}

func (f *fakeActivity) ListByProject(_ context.Context, projectID, limit int) ([]model.ProjectActivity, error) {
	f.limit = limit
	return []model.ProjectActivity{{ProjectID: projectID, EventType: "milestone.advanced"}}, nil
}

// passCache always calls through and remembers the scopes it was asked for.
type passCache struct {
	scopes      []string
	invalidated int
}

func (c *passCache) Milestones(ctx context.Context, load func(context.Context) ([]model.Milestone, error)) ([]model.Milestone, error) {
	return load(ctx)
}

func (c *passCache) Dependencies(ctx context.Context, load func(context.Context) ([]model.Dependency, error)) ([]model.Dependency, error) {
	return load(ctx)
}

func (c *passCache) Dashboard(ctx context.Context, scope string, load func(context.Context) (*model.Dashboard, error)) (*model.Dashboard, error) {
	c.scopes = append(c.scopes, scope)
	return load(ctx)
}

func (c *passCache) InvalidateDashboard(context.Context) error {
	c.invalidated++
	return nil
}

type fakeHistory struct {
	history []model.ProjectMilestone
	stage   *workflow.Stage
	err     error
}

func (f *fakeHistory) History(context.Context, int) ([]model.ProjectMilestone, error) {
	return f.history, nil
}

func (f *fakeHistory) CurrentStage(context.Context, int) (*workflow.Stage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stage, nil
}
