package service

import (
	"time"

	"github.com/ignatij/todoflow/pkg/models"
	"github.com/ignatij/todoflow/pkg/storage"
	"github.com/pkg/errors"
)

// engine applies workflow transitions inside one store transaction.
// Every change is logged as an action and collected so it can be announced after commit.
type engine struct {
	store   storage.Store
	logger  Logger
	now     func() time.Time
	changes []StatusChange
}

func (e *engine) emit(user string, subjectType models.SubjectType, subjectID, taskID int64, flag models.Flag) error {
	ts := e.now()
	action := models.Action{
		User:        user,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Flag:        flag,
		Timestamp:   ts,
	}
	if _, err := e.store.SaveAction(action); err != nil {
		return errors.Wrapf(err, "log %s of %s %d", flag, subjectType, subjectID)
	}
	if subjectType == models.StepSubject && flag.IsResolution() {
		if err := e.store.UpdateTaskResolutionTS(taskID, ts); err != nil {
			return errors.Wrapf(err, "update latest resolution of task %d", taskID)
		}
	}
	e.changes = append(e.changes, StatusChange{
		User:        user,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		TaskID:      taskID,
		Flag:        flag,
		Timestamp:   ts,
	})
	return nil
}

func (e *engine) siblings(step models.Step) ([]models.Step, error) {
	return e.store.GetSteps(step.TaskID, step.ParentID)
}

// sameProject reports whether the sibling belongs to the step's project.
// Steps not cloned per project belong to every project.
func sameProject(step, sibling models.Step) bool {
	if step.ProjectID == nil || sibling.ProjectID == nil {
		return true
	}
	return *step.ProjectID == *sibling.ProjectID
}

// nextSteps returns the siblings ordered right after the step. There can be
// several when a step was cloned per project or re-spawned after a failure.
// A step cloned for one project only leads to the next steps of that project.
func (e *engine) nextSteps(step models.Step) ([]models.Step, error) {
	siblings, err := e.siblings(step)
	if err != nil {
		return nil, err
	}
	var next []models.Step
	for _, sibling := range siblings {
		if sibling.Order == step.Order+1 && sameProject(step, sibling) {
			next = append(next, sibling)
		}
	}
	return next, nil
}

func (e *engine) isLast(step models.Step) (bool, error) {
	next, err := e.nextSteps(step)
	if err != nil {
		return false, err
	}
	return len(next) == 0, nil
}

// isOnlyActive reports whether no other sibling is active or next.
func (e *engine) isOnlyActive(step models.Step) (bool, error) {
	siblings, err := e.siblings(step)
	if err != nil {
		return false, err
	}
	for _, sibling := range siblings {
		if sibling.ID == step.ID {
			continue
		}
		if sibling.Status == models.ActiveStatus || sibling.Status == models.NextStatus {
			return false, nil
		}
	}
	return true, nil
}

// isLastOpen reports whether every other sibling is resolved.
func (e *engine) isLastOpen(step models.Step) (bool, error) {
	siblings, err := e.siblings(step)
	if err != nil {
		return false, err
	}
	for _, sibling := range siblings {
		if sibling.ID != step.ID && sibling.Status.IsOpen() {
			return false, nil
		}
	}
	return true, nil
}

// closesParent decides whether resolving the step should resolve its parent.
func (e *engine) closesParent(step models.Step) (bool, error) {
	if step.ResolvesParent {
		return true, nil
	}
	last, err := e.isLast(step)
	if err != nil {
		return false, err
	}
	if last {
		onlyActive, err := e.isOnlyActive(step)
		if err != nil {
			return false, err
		}
		if onlyActive {
			return true, nil
		}
	}
	return e.isLastOpen(step)
}

func (e *engine) isOverdue(step models.Step) (bool, error) {
	if step.Status != models.NextStatus {
		return false, nil
	}
	nexted, err := e.store.GetLatestAction(models.StepSubject, step.ID, models.NextedFlag)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "get last nexted action of step %d", step.ID)
	}
	return e.now().After(nexted.Timestamp.Add(step.AllowedDuration())), nil
}

func (e *engine) activateChildren(user string, taskID int64, parentID *int64) error {
	children, err := e.store.GetSteps(taskID, parentID)
	if err != nil {
		return err
	}
	for i := range children {
		if !children[i].ShouldBeActivated() {
			continue
		}
		if err := e.activateStep(user, &children[i]); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) activateStep(user string, step *models.Step) error {
	if step.HasChildren {
		if err := e.activateChildren(user, step.TaskID, &step.ID); err != nil {
			return err
		}
		// active, because one of the children is next
		step.Status = models.ActiveStatus
	} else {
		step.Status = models.NextStatus
	}
	if err := e.store.UpdateStep(*step); err != nil {
		return errors.Wrapf(err, "activate step %d", step.ID)
	}
	e.logger.Debugf("Step %d is now %s", step.ID, step.Status)
	return e.emit(user, models.StepSubject, step.ID, step.TaskID, models.StatusFlag(step.Status))
}

// resetTime restarts the overdue clock of a next step.
func (e *engine) resetTime(user string, step models.Step) error {
	if step.Status != models.NextStatus {
		return nil
	}
	return e.emit(user, models.StepSubject, step.ID, step.TaskID, models.NextedFlag)
}

// resolveStep resolves the step and, with bubbleUp, its parents.
//
// A completed step that closes its parent resolves the parent as completed, and the
// resolution keeps bubbling up as long as each parent closes its own parent. A failed
// step resolves only its immediate parent as failed and spawns a fresh copy of that
// parent so the work can be done again. Top-level steps stop the bubbling: resolving
// the task is left to the caller. A step that does not close its parent activates
// the next sibling(s) instead.
func (e *engine) resolveStep(user string, step *models.Step, resolution models.Resolution, bubbleUp bool) error {
	step.Status = models.ResolvedStatus
	step.Resolution = &resolution
	if err := e.store.UpdateStep(*step); err != nil {
		return errors.Wrapf(err, "resolve step %d", step.ID)
	}
	if err := e.emit(user, models.StepSubject, step.ID, step.TaskID, models.ResolutionFlag(resolution)); err != nil {
		return err
	}
	if !bubbleUp {
		return nil
	}

	closes, err := e.closesParent(*step)
	if err != nil {
		return err
	}
	if closes {
		if step.ParentID == nil {
			e.logger.Debugf("Top-level step %d resolved, task %d is left to the user", step.ID, step.TaskID)
			return nil
		}
		parent, err := e.store.GetStep(*step.ParentID)
		if err != nil {
			return errors.Wrapf(err, "get parent of step %d", step.ID)
		}
		if parent.Status == models.ResolvedStatus {
			return nil
		}
		if resolution == models.FailedResolution {
			// only the immediate parent fails; its fresh copy takes over
			bubbleUp = false
			if _, err := e.cloneStep(user, parent); err != nil {
				return err
			}
		}
		return e.resolveStep(user, &parent, resolution, bubbleUp)
	}

	next, err := e.nextSteps(*step)
	if err != nil {
		return err
	}
	for i := range next {
		if next[i].Status != models.NewStatus {
			continue
		}
		if err := e.activateStep(user, &next[i]); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) activateTask(user string, task models.Task) error {
	if err := e.activateChildren(user, task.ID, nil); err != nil {
		return err
	}
	statuses, err := e.store.GetTaskStatuses(task.ID)
	if err != nil {
		return errors.Wrapf(err, "get statuses of task %d", task.ID)
	}
	for _, status := range statuses {
		status.Status = models.ActiveStatus
		if err := e.store.UpdateTaskInProject(status); err != nil {
			return errors.Wrapf(err, "activate task %d in project %d", task.ID, status.ProjectID)
		}
		if err := e.emit(user, models.TaskInProjectSubject, status.ID, task.ID, models.ActivatedFlag); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) resolveTask(user string, status models.TaskInProject, resolution models.Resolution) error {
	status.Status = models.ResolvedStatus
	status.Resolution = &resolution
	if err := e.store.UpdateTaskInProject(status); err != nil {
		return errors.Wrapf(err, "resolve task %d in project %d", status.TaskID, status.ProjectID)
	}
	return e.emit(user, models.TaskInProjectSubject, status.ID, status.TaskID, models.ResolutionFlag(resolution))
}

// loadStepTree fills in the children of the given steps, recursively.
func (e *engine) loadStepTree(steps []models.Step) error {
	for i := range steps {
		overdue, err := e.isOverdue(steps[i])
		if err != nil {
			return err
		}
		steps[i].IsOverdue = overdue
		if !steps[i].HasChildren {
			continue
		}
		children, err := e.store.GetSteps(steps[i].TaskID, &steps[i].ID)
		if err != nil {
			return err
		}
		if err := e.loadStepTree(children); err != nil {
			return err
		}
		steps[i].Children = children
	}
	return nil
}
