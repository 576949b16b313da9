package storage

import (
	"cmp"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ignatij/todoflow/pkg/models"
	"github.com/pkg/errors"
)

// memData holds one consistent snapshot of the in-memory tables.
type memData struct {
	projects     map[int64]models.Project
	actors       map[int64]models.Actor
	batches      map[int64]models.Batch
	protos       map[int64]models.Proto
	nestings     map[int64]models.Nesting
	trackers     map[int64]models.Tracker
	tasks        map[int64]models.Task
	taskStatuses map[int64]models.TaskInProject
	steps        map[int64]models.Step
	actions      []models.Action
	sequences    map[string]int64
}

func newMemData() *memData {
	return &memData{
		projects:     make(map[int64]models.Project),
		actors:       make(map[int64]models.Actor),
		batches:      make(map[int64]models.Batch),
		protos:       make(map[int64]models.Proto),
		nestings:     make(map[int64]models.Nesting),
		trackers:     make(map[int64]models.Tracker),
		tasks:        make(map[int64]models.Task),
		taskStatuses: make(map[int64]models.TaskInProject),
		steps:        make(map[int64]models.Step),
		sequences:    make(map[string]int64),
	}
}

func (d *memData) clone() *memData {
	return &memData{
		projects:     maps.Clone(d.projects),
		actors:       maps.Clone(d.actors),
		batches:      maps.Clone(d.batches),
		protos:       maps.Clone(d.protos),
		nestings:     maps.Clone(d.nestings),
		trackers:     maps.Clone(d.trackers),
		tasks:        maps.Clone(d.tasks),
		taskStatuses: maps.Clone(d.taskStatuses),
		steps:        maps.Clone(d.steps),
		actions:      slices.Clone(d.actions),
		sequences:    maps.Clone(d.sequences),
	}
}

func (d *memData) next(table string) int64 {
	d.sequences[table]++
	return d.sequences[table]
}

// mockStore implements storage.Store with in-memory storage.
// A transaction works on a copy of the data which replaces the parent's on Commit,
// so concurrent writers are last-writer-wins.
type mockStore struct {
	mu     sync.RWMutex
	data   *memData
	parent *mockStore // set for transactions
	done   bool
}

func NewMockStore() Store {
	return &mockStore{data: newMemData()}
}

func (m *mockStore) Begin() (Store, error) {
	if m.parent != nil {
		return nil, errors.New("cannot begin transaction inside a transaction")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &mockStore{data: m.data.clone(), parent: m}, nil
}

func (m *mockStore) Commit() error {
	if m.parent == nil {
		return errors.New("cannot commit: not a transaction")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return errors.New("already committed")
	}
	m.done = true
	m.parent.mu.Lock()
	m.parent.data = m.data
	m.parent.mu.Unlock()
	return nil
}

func (m *mockStore) Rollback() error {
	if m.parent == nil {
		return errors.New("cannot rollback: not a transaction")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return errors.New("cannot rollback committed transaction")
	}
	m.done = true
	return nil
}

func (m *mockStore) Close() error {
	return nil
}

// write locks the store for a mutation and rejects finished transactions.
func (m *mockStore) write() (*memData, func(), error) {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil, nil, errors.New("transaction already committed")
	}
	return m.data, m.mu.Unlock, nil
}

func (m *mockStore) read() (*memData, func()) {
	m.mu.RLock()
	return m.data, m.mu.RUnlock
}

func sortedByID[T any](items map[int64]T) []T {
	keys := slices.Sorted(maps.Keys(items))
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, items[k])
	}
	return out
}

func (m *mockStore) SaveProject(p models.Project) (int64, error) {
	d, unlock, err := m.write()
	if err != nil {
		return 0, err
	}
	defer unlock()
	for _, existing := range d.projects {
		if existing.Code == p.Code {
			return 0, errors.Wrapf(ErrDuplicate, "project %q", p.Code)
		}
	}
	p.ID = d.next("projects")
	d.projects[p.ID] = p
	return p.ID, nil
}

func (m *mockStore) GetProject(id int64) (models.Project, error) {
	d, unlock := m.read()
	defer unlock()
	p, ok := d.projects[id]
	if !ok {
		return models.Project{}, ErrNotFound
	}
	return p, nil
}

func (m *mockStore) ListProjects() ([]models.Project, error) {
	d, unlock := m.read()
	defer unlock()
	return sortedByID(d.projects), nil
}

func (m *mockStore) SaveActor(a models.Actor) (int64, error) {
	d, unlock, err := m.write()
	if err != nil {
		return 0, err
	}
	defer unlock()
	for _, existing := range d.actors {
		if existing.Name == a.Name {
			return 0, errors.Wrapf(ErrDuplicate, "actor %q", a.Name)
		}
	}
	a.ID = d.next("actors")
	d.actors[a.ID] = a
	return a.ID, nil
}

func (m *mockStore) GetActor(id int64) (models.Actor, error) {
	d, unlock := m.read()
	defer unlock()
	a, ok := d.actors[id]
	if !ok {
		return models.Actor{}, ErrNotFound
	}
	return a, nil
}

func (m *mockStore) ListActors() ([]models.Actor, error) {
	d, unlock := m.read()
	defer unlock()
	return sortedByID(d.actors), nil
}

func (m *mockStore) SaveBatch(b models.Batch) (int64, error) {
	d, unlock, err := m.write()
	if err != nil {
		return 0, err
	}
	defer unlock()
	for _, existing := range d.batches {
		if existing.ProjectID == b.ProjectID && existing.Slug == b.Slug {
			return 0, errors.Wrapf(ErrDuplicate, "batch %q", b.Slug)
		}
	}
	b.ID = d.next("batches")
	d.batches[b.ID] = b
	return b.ID, nil
}

func (m *mockStore) GetBatch(id int64) (models.Batch, error) {
	d, unlock := m.read()
	defer unlock()
	b, ok := d.batches[id]
	if !ok {
		return models.Batch{}, ErrNotFound
	}
	return b, nil
}

func (m *mockStore) GetBatchBySlug(projectID int64, slug string) (models.Batch, error) {
	d, unlock := m.read()
	defer unlock()
	for _, b := range d.batches {
		if b.ProjectID == projectID && b.Slug == slug {
			return b, nil
		}
	}
	return models.Batch{}, ErrNotFound
}

func (m *mockStore) SaveProto(p models.Proto) (int64, error) {
	d, unlock, err := m.write()
	if err != nil {
		return 0, err
	}
	defer unlock()
	p.ID = d.next("protos")
	d.protos[p.ID] = p
	return p.ID, nil
}

func (m *mockStore) GetProto(id int64) (models.Proto, error) {
	d, unlock := m.read()
	defer unlock()
	p, ok := d.protos[id]
	if !ok {
		return models.Proto{}, ErrNotFound
	}
	return p, nil
}

func (m *mockStore) ListProtos(protoType models.ProtoType) ([]models.Proto, error) {
	d, unlock := m.read()
	defer unlock()
	var protos []models.Proto
	for _, p := range sortedByID(d.protos) {
		if protoType == 0 || p.Type == protoType {
			protos = append(protos, p)
		}
	}
	return protos, nil
}

func (m *mockStore) SaveNesting(n models.Nesting) (int64, error) {
	d, unlock, err := m.write()
	if err != nil {
		return 0, err
	}
	defer unlock()
	n.ID = d.next("nestings")
	d.nestings[n.ID] = n
	return n.ID, nil
}

func (m *mockStore) GetNestings(parentID int64) ([]models.Nesting, error) {
	d, unlock := m.read()
	defer unlock()
	var nestings []models.Nesting
	for _, n := range sortedByID(d.nestings) {
		if n.ParentID == parentID {
			nestings = append(nestings, n)
		}
	}
	slices.SortStableFunc(nestings, func(a, b models.Nesting) int {
		return cmp.Compare(a.Order, b.Order)
	})
	return nestings, nil
}

func (m *mockStore) SaveTracker(t models.Tracker) (int64, error) {
	d, unlock, err := m.write()
	if err != nil {
		return 0, err
	}
	defer unlock()
	t.ID = d.next("trackers")
	t.Trackers, t.Tasks = nil, nil
	d.trackers[t.ID] = t
	return t.ID, nil
}

func (m *mockStore) GetTracker(id int64) (models.Tracker, error) {
	d, unlock := m.read()
	defer unlock()
	t, ok := d.trackers[id]
	if !ok {
		return models.Tracker{}, ErrNotFound
	}
	return t, nil
}

func (m *mockStore) GetChildTrackers(parentID int64) ([]models.Tracker, error) {
	d, unlock := m.read()
	defer unlock()
	var trackers []models.Tracker
	for _, t := range sortedByID(d.trackers) {
		if t.ParentID != nil && *t.ParentID == parentID {
			trackers = append(trackers, t)
		}
	}
	return trackers, nil
}

func (m *mockStore) SaveTask(t models.Task) (int64, error) {
	d, unlock, err := m.write()
	if err != nil {
		return 0, err
	}
	defer unlock()
	t.ID = d.next("tasks")
	t.Statuses, t.Steps = nil, nil
	d.tasks[t.ID] = t
	return t.ID, nil
}

func (m *mockStore) GetTask(id int64) (models.Task, error) {
	d, unlock := m.read()
	defer unlock()
	t, ok := d.tasks[id]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	return t, nil
}

func (m *mockStore) ListTasks(filter models.TaskFilter) ([]models.Task, error) {
	d, unlock := m.read()
	defer unlock()
	var tasks []models.Task
	for _, t := range sortedByID(d.tasks) {
		if len(filter.Locales) > 0 && !slices.Contains(filter.Locales, t.Locale) {
			continue
		}
		if filter.BatchID != nil && (t.BatchID == nil || *t.BatchID != *filter.BatchID) {
			continue
		}
		if filter.ParentID != nil && (t.ParentID == nil || *t.ParentID != *filter.ParentID) {
			continue
		}
		if len(filter.ProjectIDs) > 0 && !d.taskInProjects(t.ID, filter.ProjectIDs) {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (d *memData) taskInProjects(taskID int64, projectIDs []int64) bool {
	for _, tp := range d.taskStatuses {
		if tp.TaskID == taskID && slices.Contains(projectIDs, tp.ProjectID) {
			return true
		}
	}
	return false
}

func (m *mockStore) UpdateTaskResolutionTS(id int64, ts time.Time) error {
	d, unlock, err := m.write()
	if err != nil {
		return err
	}
	defer unlock()
	t, ok := d.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.LatestResolutionTS = &ts
	d.tasks[id] = t
	return nil
}

func (m *mockStore) SaveTaskInProject(tp models.TaskInProject) (int64, error) {
	d, unlock, err := m.write()
	if err != nil {
		return 0, err
	}
	defer unlock()
	for _, existing := range d.taskStatuses {
		if existing.TaskID == tp.TaskID && existing.ProjectID == tp.ProjectID {
			return 0, errors.Wrapf(ErrDuplicate, "task %d in project %d", tp.TaskID, tp.ProjectID)
		}
	}
	tp.ID = d.next("task_in_project")
	d.taskStatuses[tp.ID] = tp
	return tp.ID, nil
}

func (m *mockStore) GetTaskStatuses(taskID int64) ([]models.TaskInProject, error) {
	d, unlock := m.read()
	defer unlock()
	var statuses []models.TaskInProject
	for _, tp := range sortedByID(d.taskStatuses) {
		if tp.TaskID == taskID {
			statuses = append(statuses, tp)
		}
	}
	return statuses, nil
}

func (m *mockStore) GetTaskInProject(id int64) (models.TaskInProject, error) {
	d, unlock := m.read()
	defer unlock()
	tp, ok := d.taskStatuses[id]
	if !ok {
		return models.TaskInProject{}, ErrNotFound
	}
	return tp, nil
}

func (m *mockStore) UpdateTaskInProject(tp models.TaskInProject) error {
	d, unlock, err := m.write()
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := d.taskStatuses[tp.ID]; !ok {
		return ErrNotFound
	}
	d.taskStatuses[tp.ID] = tp
	return nil
}

func (m *mockStore) SaveStep(s models.Step) (int64, error) {
	d, unlock, err := m.write()
	if err != nil {
		return 0, err
	}
	defer unlock()
	s.ID = d.next("steps")
	s.Children, s.IsOverdue = nil, false
	d.steps[s.ID] = s
	return s.ID, nil
}

func (m *mockStore) GetStep(id int64) (models.Step, error) {
	d, unlock := m.read()
	defer unlock()
	s, ok := d.steps[id]
	if !ok {
		return models.Step{}, ErrNotFound
	}
	return s, nil
}

func (m *mockStore) UpdateStep(s models.Step) error {
	d, unlock, err := m.write()
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := d.steps[s.ID]; !ok {
		return ErrNotFound
	}
	s.Children, s.IsOverdue = nil, false
	d.steps[s.ID] = s
	return nil
}

func (m *mockStore) GetSteps(taskID int64, parentID *int64) ([]models.Step, error) {
	d, unlock := m.read()
	defer unlock()
	var steps []models.Step
	for _, s := range sortedByID(d.steps) {
		if s.TaskID != taskID {
			continue
		}
		if parentID == nil && s.ParentID != nil {
			continue
		}
		if parentID != nil && (s.ParentID == nil || *s.ParentID != *parentID) {
			continue
		}
		steps = append(steps, s)
	}
	slices.SortStableFunc(steps, func(a, b models.Step) int {
		return cmp.Compare(a.Order, b.Order)
	})
	return steps, nil
}

func (m *mockStore) ListNextSteps(filter models.StepFilter) ([]models.Step, error) {
	d, unlock := m.read()
	defer unlock()
	var steps []models.Step
	for _, s := range sortedByID(d.steps) {
		if s.Status != models.NextStatus {
			continue
		}
		if len(filter.TaskIDs) > 0 && !slices.Contains(filter.TaskIDs, s.TaskID) {
			continue
		}
		if len(filter.OwnerIDs) > 0 && (s.OwnerID == nil || !slices.Contains(filter.OwnerIDs, *s.OwnerID)) {
			continue
		}
		if len(filter.Locales) > 0 && !slices.Contains(filter.Locales, d.tasks[s.TaskID].Locale) {
			continue
		}
		if len(filter.ProjectIDs) > 0 {
			if s.ProjectID != nil {
				if !slices.Contains(filter.ProjectIDs, *s.ProjectID) {
					continue
				}
			} else if !d.taskInProjects(s.TaskID, filter.ProjectIDs) {
				continue
			}
		}
		steps = append(steps, s)
	}
	slices.SortStableFunc(steps, func(a, b models.Step) int {
		return cmp.Compare(a.TaskID, b.TaskID)
	})
	return steps, nil
}

func (m *mockStore) SaveAction(a models.Action) (int64, error) {
	d, unlock, err := m.write()
	if err != nil {
		return 0, err
	}
	defer unlock()
	a.ID = d.next("actions")
	d.actions = append(d.actions, a)
	return a.ID, nil
}

func (m *mockStore) GetLatestAction(subjectType models.SubjectType, subjectID int64, flag models.Flag) (models.Action, error) {
	d, unlock := m.read()
	defer unlock()
	var latest *models.Action
	for i := range d.actions {
		a := &d.actions[i]
		if a.SubjectType != subjectType || a.SubjectID != subjectID || a.Flag != flag {
			continue
		}
		if latest == nil || !a.Timestamp.Before(latest.Timestamp) {
			latest = a
		}
	}
	if latest == nil {
		return models.Action{}, ErrNotFound
	}
	return *latest, nil
}

func (m *mockStore) ListActions(filter models.ActionFilter) ([]models.Action, error) {
	d, unlock := m.read()
	defer unlock()
	var actions []models.Action
	for i := len(d.actions) - 1; i >= 0; i-- {
		a := d.actions[i]
		if filter.SubjectType != "" && a.SubjectType != filter.SubjectType {
			continue
		}
		if filter.SubjectID != nil && a.SubjectID != *filter.SubjectID {
			continue
		}
		actions = append(actions, a)
		if filter.Limit > 0 && len(actions) == filter.Limit {
			break
		}
	}
	return actions, nil
}
