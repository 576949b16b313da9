package service

import (
	"context"
	"strings"

	"github.com/ignatij/todoflow/pkg/models"
	"github.com/ignatij/todoflow/pkg/storage"
	"github.com/pkg/errors"
)

// BugTasks describes one bug filed for a set of locales when adding tasks in bulk.
type BugTasks struct {
	Summary string   `json:"summary"`
	Locales []string `json:"locales"`
	Bug     string   `json:"bug"`
}

// AddTasksRequest adds one task per bug and locale, grouped in a batch of the project.
// Without a batch and without a new batch name the tasks go to the uncategorized batch.
type AddTasksRequest struct {
	PrototypeID  int64      `json:"prototype_id"`
	ProjectID    int64      `json:"project_id"`
	ParentID     *int64     `json:"parent_id,omitempty"`
	BatchID      *int64     `json:"batch_id,omitempty"`
	NewBatchName string     `json:"new_batch_name"`
	NewBatchSlug string     `json:"new_batch_slug"`
	Bugs         []BugTasks `json:"bugs"`
}

func (s *TodoService) SpawnTask(ctx context.Context, user string, protoID int64, args TaskSpawn) (task models.Task, err error) {
	err = s.inTx(ctx, func(e *engine) error {
		proto, err := e.protoOfType(protoID, models.TaskProto)
		if err != nil {
			return err
		}
		if args.BatchID != nil {
			if _, err := e.store.GetBatch(*args.BatchID); err != nil {
				return errors.Wrapf(err, "get batch %d", *args.BatchID)
			}
		}
		task, err = e.spawnTask(user, proto, args)
		return err
	})
	return task, err
}

func (s *TodoService) AddTasks(ctx context.Context, user string, req AddTasksRequest) (batch models.Batch, tasks []models.Task, err error) {
	req.NewBatchName = strings.TrimSpace(req.NewBatchName)
	req.NewBatchSlug = strings.TrimSpace(req.NewBatchSlug)
	if req.ProjectID == 0 {
		return models.Batch{}, nil, invalid("project", "You must choose a project.")
	}
	if req.NewBatchName != "" && !slugPattern.MatchString(req.NewBatchSlug) {
		return models.Batch{}, nil, invalid("new_batch_slug", "You must specify a valid slug if you're creating a new batch.")
	}
	if len(req.Bugs) == 0 {
		return models.Batch{}, nil, invalid("bugs", "at least one bug is required")
	}

	err = s.inTx(ctx, func(e *engine) error {
		proto, err := e.protoOfType(req.PrototypeID, models.TaskProto)
		if err != nil {
			return err
		}
		if _, err := e.store.GetProject(req.ProjectID); err != nil {
			return errors.Wrapf(err, "get project %d", req.ProjectID)
		}
		if batch, err = s.resolveBatch(e, req); err != nil {
			return err
		}
		for _, bug := range req.Bugs {
			locales := bug.Locales
			if len(locales) == 0 {
				locales = []string{""}
			}
			for _, locale := range locales {
				task, err := e.spawnTask(user, proto, TaskSpawn{
					Summary:    bug.Summary,
					ParentID:   req.ParentID,
					Suffix:     locale,
					Locale:     locale,
					Bug:        bug.Bug,
					BatchID:    &batch.ID,
					ProjectIDs: []int64{req.ProjectID},
				})
				if err != nil {
					return err
				}
				tasks = append(tasks, task)
			}
		}
		return nil
	})
	if err != nil {
		return models.Batch{}, nil, err
	}
	s.logger.Infof("Added %d tasks to batch '%s'", len(tasks), batch.Slug)
	return batch, tasks, nil
}

// resolveBatch picks the existing batch, creates the new one, or falls back to the
// project's uncategorized batch.
func (s *TodoService) resolveBatch(e *engine, req AddTasksRequest) (models.Batch, error) {
	if req.NewBatchName != "" {
		if _, err := e.store.GetBatchBySlug(req.ProjectID, req.NewBatchSlug); err == nil {
			return models.Batch{}, invalid("new_batch_slug", "A batch with this slug already exists.")
		} else if !errors.Is(err, storage.ErrNotFound) {
			return models.Batch{}, err
		}
		return s.saveBatch(e, req.ProjectID, req.NewBatchName, req.NewBatchSlug)
	}
	if req.BatchID != nil {
		batch, err := e.store.GetBatch(*req.BatchID)
		if errors.Is(err, storage.ErrNotFound) {
			return models.Batch{}, invalid("batch", "If given, batch must be a valid Batch object.")
		}
		return batch, err
	}
	batch, err := e.store.GetBatchBySlug(req.ProjectID, models.UncategorizedBatchSlug)
	if errors.Is(err, storage.ErrNotFound) {
		return s.saveBatch(e, req.ProjectID, models.UncategorizedBatchName, models.UncategorizedBatchSlug)
	}
	return batch, err
}

func (s *TodoService) saveBatch(e *engine, projectID int64, name, slug string) (models.Batch, error) {
	batch := models.Batch{Name: name, Slug: slug, ProjectID: projectID, CreatedAt: s.now()}
	id, err := e.store.SaveBatch(batch)
	if err != nil {
		return models.Batch{}, errors.Wrapf(err, "save batch '%s'", slug)
	}
	batch.ID = id
	return batch, nil
}

// GetTask fetches a task with its project statuses and its step tree.
func (s *TodoService) GetTask(ctx context.Context, id int64) (models.Task, error) {
	task, err := s.store.GetTask(id)
	if err != nil {
		return models.Task{}, errors.Wrapf(err, "get task %d", id)
	}
	if task.Statuses, err = s.store.GetTaskStatuses(id); err != nil {
		return models.Task{}, err
	}
	steps, err := s.store.GetSteps(id, nil)
	if err != nil {
		return models.Task{}, err
	}
	if err := s.reader().loadStepTree(steps); err != nil {
		return models.Task{}, err
	}
	task.Steps = steps
	return task, nil
}

func (s *TodoService) ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	tasks, err := s.store.ListTasks(filter)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].Statuses, err = s.store.GetTaskStatuses(tasks[i].ID); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// CloneTask spawns a new task from the prototype of an existing one.
func (s *TodoService) CloneTask(ctx context.Context, user string, id int64) (clone models.Task, err error) {
	err = s.inTx(ctx, func(e *engine) error {
		task, err := e.store.GetTask(id)
		if err != nil {
			return errors.Wrapf(err, "get task %d", id)
		}
		clone, err = e.cloneTask(user, task)
		return err
	})
	return clone, err
}

// ActivateTask activates the task's first steps and marks it active in every project.
func (s *TodoService) ActivateTask(ctx context.Context, user string, id int64) error {
	err := s.inTx(ctx, func(e *engine) error {
		task, err := e.store.GetTask(id)
		if err != nil {
			return errors.Wrapf(err, "get task %d", id)
		}
		return e.activateTask(user, task)
	})
	if err != nil {
		return err
	}
	s.logger.Infof("Activated task %d", id)
	return nil
}

// ResolveTask resolves the task in one project.
func (s *TodoService) ResolveTask(ctx context.Context, user string, id, projectID int64, resolution models.Resolution) error {
	switch resolution {
	case models.CompletedResolution, models.FailedResolution, models.IncompleteResolution:
	default:
		return invalid("resolution", "must be 'completed', 'failed' or 'incomplete'")
	}
	err := s.inTx(ctx, func(e *engine) error {
		statuses, err := e.store.GetTaskStatuses(id)
		if err != nil {
			return errors.Wrapf(err, "get statuses of task %d", id)
		}
		for _, status := range statuses {
			if status.ProjectID != projectID {
				continue
			}
			if status.Status == models.ResolvedStatus {
				return errors.Wrapf(ErrInvalidTransition, "task %d is already resolved in project %d", id, projectID)
			}
			return e.resolveTask(user, status, resolution)
		}
		return errors.Wrapf(storage.ErrNotFound, "task %d in project %d", id, projectID)
	})
	if err != nil {
		return err
	}
	s.logger.Infof("Resolved task %d in project %d as %s", id, projectID, resolution)
	return nil
}
