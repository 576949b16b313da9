package models

import "time"

// Step is a unit of work inside a task. Steps can nest under other steps.
type Step struct {
	ID              int64       `json:"id" db:"id"`
	PrototypeID     *int64      `json:"prototype_id,omitempty" db:"prototype_id"`
	Summary         string      `json:"summary" db:"summary"`
	ParentID        *int64      `json:"parent_id,omitempty" db:"parent_id"`
	TaskID          int64       `json:"task_id" db:"task_id"`
	ProjectID       *int64      `json:"project_id,omitempty" db:"project_id"`
	OwnerID         *int64      `json:"owner_id,omitempty" db:"owner_id"`
	Order           int         `json:"order" db:"position"`
	Status          Status      `json:"status" db:"status"`
	Resolution      *Resolution `json:"resolution,omitempty" db:"resolution"`
	HasChildren     bool        `json:"has_children" db:"has_children"`
	IsAutoActivated bool        `json:"is_auto_activated" db:"is_auto_activated"`
	IsReview        bool        `json:"is_review" db:"is_review"`
	ResolvesParent  bool        `json:"resolves_parent" db:"resolves_parent"`
	AllowedTime     int         `json:"allowed_time" db:"allowed_time"` // Days
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	IsOverdue       bool        `json:"is_overdue,omitempty" db:"-"` // Computed for next steps
	Children        []Step      `json:"children,omitempty"`          // Populated at runtime
}

// ShouldBeActivated reports whether activating the parent activates this step too.
func (s Step) ShouldBeActivated() bool {
	return s.IsAutoActivated || s.Order == 1
}

// FormatRepr renders the step summary followed by its project, if any.
func (s Step) FormatRepr(project *Project) string {
	if project != nil {
		return s.Summary + " " + project.String()
	}
	return s.Summary
}

// AllowedDuration converts the allowed time in days into a duration.
func (s Step) AllowedDuration() time.Duration {
	return time.Duration(s.AllowedTime) * 24 * time.Hour
}

// StepFilter narrows down next-step listings; empty fields match everything.
type StepFilter struct {
	OwnerIDs   []int64  `json:"owner_ids,omitempty"`
	Locales    []string `json:"locales,omitempty"`
	ProjectIDs []int64  `json:"project_ids,omitempty"`
	TaskIDs    []int64  `json:"task_ids,omitempty"`
}
