package models

import "time"

type SubjectType string

const (
	StepSubject          SubjectType = "step"
	TaskInProjectSubject SubjectType = "task_in_project"
)

// Action records a status change for auditing and overdue tracking.
type Action struct {
	ID          int64       `json:"id" db:"id"`
	User        string      `json:"user" db:"username"`
	SubjectType SubjectType `json:"subject_type" db:"subject_type"`
	SubjectID   int64       `json:"subject_id" db:"subject_id"`
	Flag        Flag        `json:"flag" db:"flag"`
	Timestamp   time.Time   `json:"timestamp" db:"timestamp"`
}

// ActionFilter narrows down action listings.
type ActionFilter struct {
	SubjectType SubjectType `json:"subject_type,omitempty"`
	SubjectID   *int64      `json:"subject_id,omitempty"`
	Limit       int         `json:"limit,omitempty"`
}
