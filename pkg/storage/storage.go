package storage

import (
	"time"

	"github.com/ignatij/todoflow/pkg/models"
	"github.com/pkg/errors"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Store defines the storage operations for todoflow.
type Store interface {
	// Transactions
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Project, actor and batch operations
	SaveProject(p models.Project) (int64, error)
	GetProject(id int64) (models.Project, error)
	ListProjects() ([]models.Project, error)
	SaveActor(a models.Actor) (int64, error)
	GetActor(id int64) (models.Actor, error)
	ListActors() ([]models.Actor, error)
	SaveBatch(b models.Batch) (int64, error)
	GetBatch(id int64) (models.Batch, error)
	GetBatchBySlug(projectID int64, slug string) (models.Batch, error)

	// Prototype operations
	SaveProto(p models.Proto) (int64, error)
	GetProto(id int64) (models.Proto, error)
	ListProtos(protoType models.ProtoType) ([]models.Proto, error)
	SaveNesting(n models.Nesting) (int64, error)
	GetNestings(parentID int64) ([]models.Nesting, error) // ordered by order

	// Tracker operations
	SaveTracker(t models.Tracker) (int64, error)
	GetTracker(id int64) (models.Tracker, error)
	GetChildTrackers(parentID int64) ([]models.Tracker, error)

	// Task operations
	SaveTask(t models.Task) (int64, error)
	GetTask(id int64) (models.Task, error)
	ListTasks(filter models.TaskFilter) ([]models.Task, error)
	UpdateTaskResolutionTS(id int64, ts time.Time) error
	SaveTaskInProject(tp models.TaskInProject) (int64, error)
	GetTaskStatuses(taskID int64) ([]models.TaskInProject, error)
	GetTaskInProject(id int64) (models.TaskInProject, error)
	UpdateTaskInProject(tp models.TaskInProject) error

	// Step operations
	SaveStep(s models.Step) (int64, error)
	GetStep(id int64) (models.Step, error)
	UpdateStep(s models.Step) error
	GetSteps(taskID int64, parentID *int64) ([]models.Step, error) // siblings under a parent, nil for top-level; ordered by order, id
	ListNextSteps(filter models.StepFilter) ([]models.Step, error)

	// Action operations
	SaveAction(a models.Action) (int64, error)
	GetLatestAction(subjectType models.SubjectType, subjectID int64, flag models.Flag) (models.Action, error)
	ListActions(filter models.ActionFilter) ([]models.Action, error)
}
