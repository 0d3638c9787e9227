package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"milestone-tracker/internal/model"
)

type recordedEvent struct {
	RoutingKey string
	ProjectID  int
	Payload    interface{}
}

// memStore keeps committed rows in memory. A transaction stages its writes
// and applies them on commit, so a failed callback leaves nothing behind.
type memStore struct {
	mu         sync.Mutex
	locks      map[int]*sync.Mutex
	projects   map[int]bool
	milestones map[int]model.Milestone
	deps       map[int]model.Dependency
	history    []model.ProjectMilestone
	links      map[[2]int]model.ProjectDependency
	events     []recordedEvent
	nextID     int

	// hooks, set before the store is shared
	onHistory func(projectID int)
	failOn    map[string]error
}

func newMemStore() *memStore {
	s := &memStore{
		locks:      map[int]*sync.Mutex{},
		projects:   map[int]bool{},
		milestones: map[int]model.Milestone{},
		deps:       map[int]model.Dependency{},
		links:      map[[2]int]model.ProjectDependency{},
		failOn:     map[string]error{},
	}
	names := []string{"Survey", "Design", "Permitting", "Construction", "Inspection", "Closeout"}
	for i, n := range names {
		s.milestones[i+1] = model.Milestone{ID: i + 1, Name: n, Sequence: i + 1}
	}
	s.deps[1] = model.Dependency{ID: 1, Name: "Right of way"}
	s.deps[2] = model.Dependency{ID: 2, Name: "Utility locate"}
	return s
}

func (s *memStore) addProject(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[id] = true
}

// seed writes a committed history row directly.
func (s *memStore) seed(pm model.ProjectMilestone) model.ProjectMilestone {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	pm.ID = s.nextID
	if m, ok := s.milestones[pm.MilestoneID]; ok {
		pm.MilestoneName = m.Name
		pm.Sequence = m.Sequence
	}
	s.history = append(s.history, pm)
	return pm
}

func (s *memStore) seedLink(projectID, dependencyID, cleared int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[[2]int{projectID, dependencyID}] = model.ProjectDependency{
		ProjectID: projectID, DependencyID: dependencyID, Cleared: cleared,
	}
}

func (s *memStore) link(projectID, dependencyID int) (model.ProjectDependency, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[[2]int{projectID, dependencyID}]
	return l, ok
}

func (s *memStore) projectHistory(projectID int) []model.ProjectMilestone {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ProjectMilestone
	for _, pm := range s.history {
		if pm.ProjectID == projectID {
			out = append(out, pm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) openCount(projectID int) int {
	n := 0
	for _, pm := range s.projectHistory(projectID) {
		if pm.IsOpen() {
			n++
		}
	}
	return n
}

func (s *memStore) recorded() []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedEvent(nil), s.events...)
}

func (s *memStore) projectLock(projectID int) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[projectID] = l
	}
	return l
}

func (s *memStore) InProjectTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{store: s}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := s.failOn["commit"]; err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, apply := range tx.staged {
		apply()
	}
	return nil
}

func (s *memStore) ProjectExists(_ context.Context, projectID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projects[projectID], nil
}

func (s *memStore) History(_ context.Context, projectID int) ([]model.ProjectMilestone, error) {
	return s.projectHistory(projectID), nil
}

type memTx struct {
	store  *memStore
	held   []*sync.Mutex
	staged []func()
}

func (t *memTx) release() {
	for _, l := range t.held {
		l.Unlock()
	}
}

func (t *memTx) fail(op string) error {
	return t.store.failOn[op]
}

func (t *memTx) LockProject(ctx context.Context, projectID int) (bool, error) {
	l := t.store.projectLock(projectID)
	l.Lock()
	t.held = append(t.held, l)
	return t.store.ProjectExists(ctx, projectID)
}

func (t *memTx) Milestone(_ context.Context, milestoneID int) (*model.Milestone, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	m, ok := t.store.milestones[milestoneID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (t *memTx) DependencyExists(_ context.Context, dependencyID int) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	_, ok := t.store.deps[dependencyID]
	return ok, nil
}

func (t *memTx) History(ctx context.Context, projectID int) ([]model.ProjectMilestone, error) {
	if t.store.onHistory != nil {
		t.store.onHistory(projectID)
	}
	if err := t.fail("history"); err != nil {
		return nil, err
	}
	return t.store.History(ctx, projectID)
}

func (t *memTx) CloseOpenMilestones(_ context.Context, projectID int, at time.Time) (int64, error) {
	if err := t.fail("close"); err != nil {
		return 0, err
	}
	var n int64
	for _, pm := range t.store.projectHistory(projectID) {
		if pm.IsOpen() {
			n++
		}
	}
	t.staged = append(t.staged, func() {
		for i := range t.store.history {
			pm := &t.store.history[i]
			if pm.ProjectID == projectID && pm.EndTime == nil {
				end := at
				pm.EndTime = &end
				pm.Completed = 1
			}
		}
	})
	return n, nil
}

func (t *memTx) InsertProjectMilestone(_ context.Context, pm *model.ProjectMilestone) error {
	if err := t.fail("insert"); err != nil {
		return err
	}
	t.store.mu.Lock()
	t.store.nextID++
	pm.ID = t.store.nextID
	if m, ok := t.store.milestones[pm.MilestoneID]; ok {
		pm.MilestoneName = m.Name
		pm.Sequence = m.Sequence
	}
	t.store.mu.Unlock()

	row := *pm
	t.staged = append(t.staged, func() {
		t.store.history = append(t.store.history, row)
	})
	return nil
}

func (t *memTx) PendingDependencies(_ context.Context, projectID int) ([]int, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var pending []int
	for key, l := range t.store.links {
		if key[0] == projectID && !l.IsCleared() {
			pending = append(pending, key[1])
		}
	}
	sort.Ints(pending)
	return pending, nil
}

func (t *memTx) ProjectDependency(_ context.Context, projectID, dependencyID int) (*model.ProjectDependency, error) {
	l, ok := t.store.link(projectID, dependencyID)
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (t *memTx) InsertProjectDependency(_ context.Context, projectID, dependencyID int) error {
	t.staged = append(t.staged, func() {
		t.store.links[[2]int{projectID, dependencyID}] = model.ProjectDependency{
			ProjectID: projectID, DependencyID: dependencyID,
		}
	})
	return nil
}

func (t *memTx) MarkDependencyCleared(_ context.Context, projectID, dependencyID int) error {
	t.staged = append(t.staged, func() {
		key := [2]int{projectID, dependencyID}
		l := t.store.links[key]
		l.Cleared = 1
		t.store.links[key] = l
	})
	return nil
}

func (t *memTx) RecordEvent(_ context.Context, routingKey string, projectID int, payload interface{}) error {
	if err := t.fail("event"); err != nil {
		return err
	}
	t.staged = append(t.staged, func() {
		t.store.events = append(t.store.events, recordedEvent{routingKey, projectID, payload})
	})
	return nil
}

var errStorage = errors.New("storage unavailable")
