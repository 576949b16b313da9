package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ignatij/todoflow/pkg/models"
	"github.com/ignatij/todoflow/pkg/storage"
	"github.com/pkg/errors"
)

// Logger defines the logging interface for TodoService
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Option configures a TodoService.
type Option func(*TodoService)

// WithNotifier announces committed status changes to n.
func WithNotifier(n Notifier) Option {
	return func(s *TodoService) {
		s.notifier = n
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *TodoService) {
		s.now = now
	}
}

// TodoService runs the todo workflow on top of a store.
// Each operation runs in its own transaction.
type TodoService struct {
	store    storage.Store
	logger   Logger
	notifier Notifier
	now      func() time.Time
}

func NewTodoService(store storage.Store, logger Logger, opts ...Option) *TodoService {
	s := &TodoService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// inTx runs fn against a transactional engine, committing when fn succeeds and
// announcing the collected status changes once committed.
func (s *TodoService) inTx(ctx context.Context, fn func(e *engine) error) (err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	e := &engine{store: txStore, logger: s.logger, now: s.now}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
			return
		}
		s.announce(ctx, e.changes)
	}()
	return fn(e)
}

// reader gives read-only operations an engine on the non-transactional store.
func (s *TodoService) reader() *engine {
	return &engine{store: s.store, logger: s.logger, now: s.now}
}

func (s *TodoService) announce(ctx context.Context, changes []StatusChange) {
	if s.notifier == nil {
		return
	}
	for _, change := range changes {
		if err := s.notifier.StatusChanged(ctx, change); err != nil {
			s.logger.Errorf("Failed to announce %s of %s %d: %v", change.Flag, change.SubjectType, change.SubjectID, err)
		}
	}
}

func (s *TodoService) CreateProject(ctx context.Context, code, label string) (id int64, err error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, invalid("code", "project code cannot be empty")
	}
	err = s.inTx(ctx, func(e *engine) error {
		id, err = e.store.SaveProject(models.Project{Code: code, Label: label, IsActive: true, CreatedAt: s.now()})
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Infof("Created project '%s' with ID %d", code, id)
	return id, nil
}

func (s *TodoService) ListProjects(ctx context.Context) ([]models.Project, error) {
	return s.store.ListProjects()
}

func (s *TodoService) CreateActor(ctx context.Context, name string) (id int64, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, invalid("name", "actor name cannot be empty")
	}
	err = s.inTx(ctx, func(e *engine) error {
		id, err = e.store.SaveActor(models.Actor{Name: name, CreatedAt: s.now()})
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Infof("Created actor '%s' with ID %d", name, id)
	return id, nil
}

func (s *TodoService) ListActors(ctx context.Context) ([]models.Actor, error) {
	return s.store.ListActors()
}

func (s *TodoService) CreateProto(ctx context.Context, proto models.Proto) (id int64, err error) {
	switch proto.Type {
	case models.TrackerProto, models.TaskProto, models.StepProto:
	default:
		return 0, invalid("type", "must be 'tracker', 'task' or 'step'")
	}
	if strings.TrimSpace(proto.Summary) == "" {
		return 0, invalid("summary", "proto summary cannot be empty")
	}
	if len(proto.Summary) > 200 {
		return 0, invalid("summary", "proto summary too long (max 200 characters)")
	}
	if proto.Type == models.StepProto && proto.AllowedTime <= 0 {
		proto.AllowedTime = models.DefaultAllowedTime
	}
	proto.CreatedAt = s.now()
	err = s.inTx(ctx, func(e *engine) error {
		if proto.OwnerID != nil {
			if _, err := e.store.GetActor(*proto.OwnerID); err != nil {
				return errors.Wrapf(err, "get owner %d", *proto.OwnerID)
			}
		}
		id, err = e.store.SaveProto(proto)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Infof("Created %s proto '%s' with ID %d", proto.Type, proto.Summary, id)
	return id, nil
}

func (s *TodoService) ListProtos(ctx context.Context, protoType models.ProtoType) ([]models.Proto, error) {
	return s.store.ListProtos(protoType)
}

// allowedNesting lists which proto types each proto type can contain.
var allowedNesting = map[models.ProtoType][]models.ProtoType{
	models.TrackerProto: {models.TrackerProto, models.TaskProto},
	models.TaskProto:    {models.StepProto},
	models.StepProto:    {models.StepProto},
}

// AddNesting attaches a child proto to a parent proto.
func (s *TodoService) AddNesting(ctx context.Context, nesting models.Nesting) (id int64, err error) {
	if nesting.ParentID == nesting.ChildID {
		return 0, invalid("child_id", "a proto cannot nest itself")
	}
	err = s.inTx(ctx, func(e *engine) error {
		parent, err := e.store.GetProto(nesting.ParentID)
		if err != nil {
			return errors.Wrapf(err, "get parent proto %d", nesting.ParentID)
		}
		child, err := e.store.GetProto(nesting.ChildID)
		if err != nil {
			return errors.Wrapf(err, "get child proto %d", nesting.ChildID)
		}
		allowed := false
		for _, t := range allowedNesting[parent.Type] {
			allowed = allowed || t == child.Type
		}
		if !allowed {
			return invalid("child_id", fmt.Sprintf("a %s proto cannot nest a %s proto", parent.Type, child.Type))
		}
		if child.Type == models.StepProto && nesting.Order <= 0 {
			return invalid("order", "step nestings need a positive order")
		}
		id, err = e.store.SaveNesting(nesting)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Infof("Nested proto %d under proto %d at position %d", nesting.ChildID, nesting.ParentID, nesting.Order)
	return id, nil
}

func (s *TodoService) SpawnTracker(ctx context.Context, user string, protoID int64, args TrackerSpawn) (tracker models.Tracker, err error) {
	err = s.inTx(ctx, func(e *engine) error {
		proto, err := e.protoOfType(protoID, models.TrackerProto)
		if err != nil {
			return err
		}
		tracker, err = e.spawnTracker(user, proto, args)
		return err
	})
	return tracker, err
}

// GetTracker fetches a tracker with its sub-trackers and tasks
func (s *TodoService) GetTracker(ctx context.Context, id int64) (models.Tracker, error) {
	tracker, err := s.store.GetTracker(id)
	if err != nil {
		return models.Tracker{}, errors.Wrapf(err, "get tracker %d", id)
	}
	if tracker.Trackers, err = s.store.GetChildTrackers(id); err != nil {
		return models.Tracker{}, err
	}
	if tracker.Tasks, err = s.store.ListTasks(models.TaskFilter{ParentID: &id}); err != nil {
		return models.Tracker{}, err
	}
	return tracker, nil
}

func (s *TodoService) ListActions(ctx context.Context, filter models.ActionFilter) ([]models.Action, error) {
	return s.store.ListActions(filter)
}

var slugPattern = regexp.MustCompile(`^[-a-zA-Z0-9_]+$`)
