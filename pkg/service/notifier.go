package service

import (
	"context"
	"time"

	"github.com/ignatij/todoflow/pkg/models"
)

// StatusChange describes one status change of a step or of a task in a project.
type StatusChange struct {
	User        string             `json:"user"`
	SubjectType models.SubjectType `json:"subject_type"`
	SubjectID   int64              `json:"subject_id"`
	TaskID      int64              `json:"task_id"`
	Flag        models.Flag        `json:"flag"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Notifier is told about status changes once the transaction making them has committed.
type Notifier interface {
	StatusChanged(ctx context.Context, change StatusChange) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, change StatusChange) error

func (f NotifierFunc) StatusChanged(ctx context.Context, change StatusChange) error {
	return f(ctx, change)
}

// MultiNotifier fans a change out to every notifier, returning the first error.
type MultiNotifier []Notifier

func (m MultiNotifier) StatusChanged(ctx context.Context, change StatusChange) error {
	var firstErr error
	for _, n := range m {
		if err := n.StatusChanged(ctx, change); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogNotifier writes status changes to the logger.
type LogNotifier struct {
	Logger Logger
}

func (n LogNotifier) StatusChanged(_ context.Context, change StatusChange) error {
	n.Logger.Infof("%s %d of task %d changed: %s (by %s)",
		change.SubjectType, change.SubjectID, change.TaskID, change.Flag, change.User)
	return nil
}
