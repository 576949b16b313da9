package models

import (
	"strconv"
	"time"
)

// TaskInProject tracks the status of a task in one project.
type TaskInProject struct {
	ID         int64       `json:"id" db:"id"`
	TaskID     int64       `json:"task_id" db:"task_id"`
	ProjectID  int64       `json:"project_id" db:"project_id"`
	Status     Status      `json:"status" db:"status"`
	Resolution *Resolution `json:"resolution,omitempty" db:"resolution"`
}

// Task represents a unit of work under a tracker, made of steps.
type Task struct {
	ID                 int64           `json:"id" db:"id"`
	PrototypeID        *int64          `json:"prototype_id,omitempty" db:"prototype_id"`
	ParentID           *int64          `json:"parent_id,omitempty" db:"parent_id"` // Tracker
	BatchID            *int64          `json:"batch_id,omitempty" db:"batch_id"`
	Summary            string          `json:"summary" db:"summary"`
	Locale             string          `json:"locale,omitempty" db:"locale"`
	BugID              *int64          `json:"bugid,omitempty" db:"bugid"`
	Alias              string          `json:"alias" db:"alias"`
	LatestResolutionTS *time.Time      `json:"latest_resolution_ts,omitempty" db:"latest_resolution_ts"` // Last time a step under the task was resolved
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	Statuses           []TaskInProject `json:"statuses,omitempty"` // Populated at runtime
	Steps              []Step          `json:"steps,omitempty"`    // Top-level steps, populated at runtime
}

// Bug returns the bug id, or the alias when no id is set.
func (t Task) Bug() string {
	if t.BugID != nil {
		return strconv.FormatInt(*t.BugID, 10)
	}
	return t.Alias
}

// SetBug stores a positive number as the bug id and anything else as the alias.
func (t *Task) SetBug(val string) {
	if id, err := strconv.ParseInt(val, 10, 64); err == nil && id > 0 {
		t.BugID = &id
		return
	}
	t.BugID = nil
	t.Alias = val
}

// FormatRepr renders the task, prefixed with its locale code when it has one.
func (t Task) FormatRepr() string {
	if t.Locale != "" {
		return "[" + t.Locale + "] " + t.Summary
	}
	return t.Summary
}

func (t Task) String() string {
	return t.FormatRepr()
}

// IsResolvedAll reports whether the task is resolved in every project it belongs to.
func IsResolvedAll(statuses []TaskInProject) bool {
	for _, status := range statuses {
		if status.Status != ResolvedStatus {
			return false
		}
	}
	return true
}

// IsResolvedAll uses the statuses loaded on the task.
func (t Task) IsResolvedAll() bool {
	return IsResolvedAll(t.Statuses)
}

// StatusFor returns the status row of the task in the given project.
func (t Task) StatusFor(projectID int64) (TaskInProject, bool) {
	for _, status := range t.Statuses {
		if status.ProjectID == projectID {
			return status, true
		}
	}
	return TaskInProject{}, false
}

// TaskFilter narrows down task listings; empty fields match everything.
type TaskFilter struct {
	ProjectIDs []int64  `json:"project_ids,omitempty"`
	Locales    []string `json:"locales,omitempty"`
	BatchID    *int64   `json:"batch_id,omitempty"`
	ParentID   *int64   `json:"parent_id,omitempty"`
}
