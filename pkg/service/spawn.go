package service

import (
	"fmt"

	"github.com/ignatij/todoflow/pkg/models"
	"github.com/pkg/errors"
)

// TrackerSpawn holds the arguments for spawning a tracker from a prototype.
type TrackerSpawn struct {
	Summary    string   `json:"summary"`
	ParentID   *int64   `json:"parent_id,omitempty"`
	Suffix     string   `json:"suffix"`
	Locale     string   `json:"locale"`
	Locales    []string `json:"locales"` // Used by nestings cloned per locale
	ProjectIDs []int64  `json:"project_ids"`
}

// TaskSpawn holds the arguments for spawning a task from a prototype.
type TaskSpawn struct {
	Summary    string  `json:"summary"`
	ParentID   *int64  `json:"parent_id,omitempty"`
	Suffix     string  `json:"suffix"`
	Alias      string  `json:"alias"`
	Locale     string  `json:"locale"`
	Bug        string  `json:"bug"`
	BatchID    *int64  `json:"batch_id,omitempty"`
	ProjectIDs []int64 `json:"project_ids"`
}

// StepSpawn holds the arguments for spawning a step from a prototype.
type StepSpawn struct {
	Summary         string
	TaskID          int64
	ParentID        *int64
	Order           int
	ProjectID       *int64
	ProjectIDs      []int64 // Used by nestings cloned per project
	IsAutoActivated bool
	ResolvesParent  bool
	Activate        bool
}

func (e *engine) protoOfType(id int64, protoType models.ProtoType) (models.Proto, error) {
	proto, err := e.store.GetProto(id)
	if err != nil {
		return models.Proto{}, errors.Wrapf(err, "get proto %d", id)
	}
	if proto.Type != protoType {
		return models.Proto{}, invalid("prototype", fmt.Sprintf("proto %d is a %s proto, expected %s", id, proto.Type, protoType))
	}
	return proto, nil
}

func (e *engine) spawnTracker(user string, proto models.Proto, args TrackerSpawn) (models.Tracker, error) {
	if proto.Type != models.TrackerProto {
		return models.Tracker{}, invalid("prototype", fmt.Sprintf("proto %d is not a tracker proto", proto.ID))
	}
	tracker := models.Tracker{
		PrototypeID: &proto.ID,
		ParentID:    args.ParentID,
		Summary:     args.Summary,
		Locale:      args.Locale,
		CreatedAt:   e.now(),
	}
	if tracker.Summary == "" {
		tracker.Summary = proto.Summary
	}
	prefix := ""
	if args.ParentID != nil {
		parent, err := e.store.GetTracker(*args.ParentID)
		if err != nil {
			return models.Tracker{}, errors.Wrapf(err, "get parent tracker %d", *args.ParentID)
		}
		prefix = parent.Alias
	}
	tracker.Alias = models.JoinAlias(prefix, args.Suffix)
	id, err := e.store.SaveTracker(tracker)
	if err != nil {
		return models.Tracker{}, errors.Wrap(err, "save tracker")
	}
	tracker.ID = id

	nestings, err := e.store.GetNestings(proto.ID)
	if err != nil {
		return models.Tracker{}, err
	}
	for _, nesting := range nestings {
		child, err := e.store.GetProto(nesting.ChildID)
		if err != nil {
			return models.Tracker{}, errors.Wrapf(err, "get proto %d", nesting.ChildID)
		}
		// a clone per locale is suffixed with its locale; a single child inherits ours
		locales := []string{args.Locale}
		cloned := nesting.ClonePerLocale && len(args.Locales) > 0
		if cloned {
			locales = args.Locales
		}
		for _, locale := range locales {
			suffix := ""
			if cloned {
				suffix = locale
			}
			switch child.Type {
			case models.TrackerProto:
				sub, err := e.spawnTracker(user, child, TrackerSpawn{
					ParentID:   &tracker.ID,
					Suffix:     suffix,
					Locale:     locale,
					Locales:    args.Locales,
					ProjectIDs: args.ProjectIDs,
				})
				if err != nil {
					return models.Tracker{}, err
				}
				tracker.Trackers = append(tracker.Trackers, sub)
			case models.TaskProto:
				task, err := e.spawnTask(user, child, TaskSpawn{
					ParentID:   &tracker.ID,
					Suffix:     suffix,
					Locale:     locale,
					ProjectIDs: args.ProjectIDs,
				})
				if err != nil {
					return models.Tracker{}, err
				}
				tracker.Tasks = append(tracker.Tasks, task)
			default:
				return models.Tracker{}, invalid("prototype", fmt.Sprintf("tracker proto %d cannot nest %s proto %d", proto.ID, child.Type, child.ID))
			}
		}
	}
	e.logger.Infof("Spawned tracker '%s' (%d) from proto %d", tracker.Summary, tracker.ID, proto.ID)
	return tracker, nil
}

// spawnTask creates the task with its steps and activates it.
func (e *engine) spawnTask(user string, proto models.Proto, args TaskSpawn) (models.Task, error) {
	if proto.Type != models.TaskProto {
		return models.Task{}, invalid("prototype", fmt.Sprintf("proto %d is not a task proto", proto.ID))
	}
	task := models.Task{
		PrototypeID: &proto.ID,
		ParentID:    args.ParentID,
		BatchID:     args.BatchID,
		Summary:     args.Summary,
		Locale:      args.Locale,
		Alias:       args.Alias,
		CreatedAt:   e.now(),
	}
	if task.Summary == "" {
		task.Summary = proto.Summary
	}
	if task.Alias == "" {
		prefix := ""
		if args.ParentID != nil {
			parent, err := e.store.GetTracker(*args.ParentID)
			if err != nil {
				return models.Task{}, errors.Wrapf(err, "get parent tracker %d", *args.ParentID)
			}
			prefix = parent.Alias
		}
		task.Alias = models.JoinAlias(prefix, args.Suffix)
	}
	if args.Bug != "" {
		task.SetBug(args.Bug)
	}
	id, err := e.store.SaveTask(task)
	if err != nil {
		return models.Task{}, errors.Wrap(err, "save task")
	}
	task.ID = id

	for _, projectID := range args.ProjectIDs {
		if _, err := e.store.GetProject(projectID); err != nil {
			return models.Task{}, errors.Wrapf(err, "get project %d", projectID)
		}
		status := models.TaskInProject{TaskID: task.ID, ProjectID: projectID, Status: models.NewStatus}
		if _, err := e.store.SaveTaskInProject(status); err != nil {
			return models.Task{}, errors.Wrapf(err, "assign task %d to project %d", task.ID, projectID)
		}
	}
	if _, err := e.spawnChildSteps(user, proto.ID, task.ID, nil, nil, args.ProjectIDs); err != nil {
		return models.Task{}, err
	}
	if err := e.activateTask(user, task); err != nil {
		return models.Task{}, err
	}
	e.logger.Infof("Spawned task '%s' (%d) from proto %d", task.FormatRepr(), task.ID, proto.ID)
	return task, nil
}

// spawnChildSteps spawns the steps nested in the proto and returns how many were created.
func (e *engine) spawnChildSteps(user string, protoID, taskID int64, parentID, projectID *int64, projectIDs []int64) (int, error) {
	nestings, err := e.store.GetNestings(protoID)
	if err != nil {
		return 0, err
	}
	spawned := 0
	for _, nesting := range nestings {
		child, err := e.protoOfType(nesting.ChildID, models.StepProto)
		if err != nil {
			return 0, err
		}
		projects := []*int64{projectID}
		if nesting.ClonePerProject && len(projectIDs) > 0 {
			projects = projects[:0]
			for i := range projectIDs {
				projects = append(projects, &projectIDs[i])
			}
		}
		for _, project := range projects {
			_, err := e.spawnStep(user, child, StepSpawn{
				TaskID:          taskID,
				ParentID:        parentID,
				Order:           nesting.Order,
				ProjectID:       project,
				ProjectIDs:      projectIDs,
				IsAutoActivated: nesting.IsAutoActivated,
				ResolvesParent:  nesting.ResolvesParent,
			})
			if err != nil {
				return 0, err
			}
			spawned++
		}
	}
	return spawned, nil
}

func (e *engine) spawnStep(user string, proto models.Proto, args StepSpawn) (models.Step, error) {
	if proto.Type != models.StepProto {
		return models.Step{}, invalid("prototype", fmt.Sprintf("proto %d is not a step proto", proto.ID))
	}
	step := models.Step{
		PrototypeID:     &proto.ID,
		Summary:         args.Summary,
		ParentID:        args.ParentID,
		TaskID:          args.TaskID,
		ProjectID:       args.ProjectID,
		OwnerID:         proto.OwnerID,
		Order:           args.Order,
		Status:          models.NewStatus,
		IsAutoActivated: args.IsAutoActivated,
		IsReview:        proto.IsReview,
		ResolvesParent:  args.ResolvesParent,
		AllowedTime:     proto.AllowedTime,
		CreatedAt:       e.now(),
	}
	if step.Summary == "" {
		step.Summary = proto.Summary
	}
	if step.AllowedTime <= 0 {
		step.AllowedTime = models.DefaultAllowedTime
	}
	id, err := e.store.SaveStep(step)
	if err != nil {
		return models.Step{}, errors.Wrap(err, "save step")
	}
	step.ID = id

	children, err := e.spawnChildSteps(user, proto.ID, step.TaskID, &step.ID, step.ProjectID, args.ProjectIDs)
	if err != nil {
		return models.Step{}, err
	}
	if children > 0 {
		step.HasChildren = true
		if err := e.store.UpdateStep(step); err != nil {
			return models.Step{}, errors.Wrapf(err, "update step %d", step.ID)
		}
	}
	if args.Activate {
		if err := e.activateStep(user, &step); err != nil {
			return models.Step{}, err
		}
	}
	return step, nil
}

// cloneStep spawns a fresh, active copy of the step from its prototype.
func (e *engine) cloneStep(user string, step models.Step) (models.Step, error) {
	if step.PrototypeID == nil {
		return models.Step{}, errors.Errorf("step %d has no prototype to clone from", step.ID)
	}
	proto, err := e.protoOfType(*step.PrototypeID, models.StepProto)
	if err != nil {
		return models.Step{}, err
	}
	var projectIDs []int64
	if step.ProjectID != nil {
		projectIDs = []int64{*step.ProjectID}
	}
	clone, err := e.spawnStep(user, proto, StepSpawn{
		Summary:         step.Summary,
		TaskID:          step.TaskID,
		ParentID:        step.ParentID,
		Order:           step.Order,
		ProjectID:       step.ProjectID,
		ProjectIDs:      projectIDs,
		IsAutoActivated: step.IsAutoActivated,
		ResolvesParent:  step.ResolvesParent,
		Activate:        true,
	})
	if err != nil {
		return models.Step{}, errors.WithMessagef(err, "clone step %d", step.ID)
	}
	e.logger.Infof("Cloned step %d as %d", step.ID, clone.ID)
	return clone, nil
}

// cloneTask spawns a fresh copy of the task from its prototype, keeping its
// summary, tracker, locale, bug, batch and projects.
func (e *engine) cloneTask(user string, task models.Task) (models.Task, error) {
	if task.PrototypeID == nil {
		return models.Task{}, errors.Errorf("task %d has no prototype to clone from", task.ID)
	}
	proto, err := e.protoOfType(*task.PrototypeID, models.TaskProto)
	if err != nil {
		return models.Task{}, err
	}
	statuses, err := e.store.GetTaskStatuses(task.ID)
	if err != nil {
		return models.Task{}, errors.Wrapf(err, "get statuses of task %d", task.ID)
	}
	args := TaskSpawn{
		Summary:  task.Summary,
		ParentID: task.ParentID,
		Alias:    task.Alias,
		Locale:   task.Locale,
		BatchID:  task.BatchID,
	}
	if task.BugID != nil {
		args.Bug = task.Bug()
	}
	for _, status := range statuses {
		args.ProjectIDs = append(args.ProjectIDs, status.ProjectID)
	}
	clone, err := e.spawnTask(user, proto, args)
	if err != nil {
		return models.Task{}, errors.WithMessagef(err, "clone task %d", task.ID)
	}
	e.logger.Infof("Cloned task %d as %d", task.ID, clone.ID)
	return clone, nil
}
