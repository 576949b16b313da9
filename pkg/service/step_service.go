package service

import (
	"context"

	"github.com/ignatij/todoflow/pkg/models"
	"github.com/pkg/errors"
)

// GetStep fetches a step with its children and overdue flags.
func (s *TodoService) GetStep(ctx context.Context, id int64) (models.Step, error) {
	step, err := s.store.GetStep(id)
	if err != nil {
		return models.Step{}, errors.Wrapf(err, "get step %d", id)
	}
	steps := []models.Step{step}
	if err := s.reader().loadStepTree(steps); err != nil {
		return models.Step{}, err
	}
	return steps[0], nil
}

// ActivateStep activates a new or on-hold step.
func (s *TodoService) ActivateStep(ctx context.Context, user string, id int64) (step models.Step, err error) {
	err = s.inTx(ctx, func(e *engine) error {
		if step, err = e.store.GetStep(id); err != nil {
			return errors.Wrapf(err, "get step %d", id)
		}
		if step.Status != models.NewStatus && step.Status != models.OnHoldStatus {
			return errors.Wrapf(ErrInvalidTransition, "step %d is %s", id, step.Status)
		}
		return e.activateStep(user, &step)
	})
	if err != nil {
		return models.Step{}, err
	}
	s.logger.Infof("Activated step %d", id)
	return step, nil
}

// ResolveStep resolves an open step. With bubbleUp the resolution propagates to
// the parents and the next steps get activated.
func (s *TodoService) ResolveStep(ctx context.Context, user string, id int64, resolution models.Resolution, bubbleUp bool) (step models.Step, err error) {
	switch resolution {
	case models.CompletedResolution, models.FailedResolution, models.IncompleteResolution:
	default:
		return models.Step{}, invalid("resolution", "must be 'completed', 'failed' or 'incomplete'")
	}
	err = s.inTx(ctx, func(e *engine) error {
		if step, err = e.store.GetStep(id); err != nil {
			return errors.Wrapf(err, "get step %d", id)
		}
		if !step.Status.IsOpen() {
			return errors.Wrapf(ErrInvalidTransition, "step %d is already resolved", id)
		}
		if resolution == models.FailedResolution && !step.IsReview {
			return errors.Wrapf(ErrInvalidTransition, "step %d is not a review and cannot fail", id)
		}
		return e.resolveStep(user, &step, resolution, bubbleUp)
	})
	if err != nil {
		return models.Step{}, err
	}
	s.logger.Infof("Resolved step %d as %s", id, resolution)
	return step, nil
}

// ResolveReview resolves a review step as completed on success or failed on failure.
// Exactly one of the two must be set.
func (s *TodoService) ResolveReview(ctx context.Context, user string, id int64, success, failure bool) (models.Step, error) {
	if success == failure {
		if success {
			return models.Step{}, invalid("", "A review cannot both succeed and fail.")
		}
		return models.Step{}, invalid("", "A resolution needs to be specified for review todos.")
	}
	resolution := models.CompletedResolution
	if failure {
		resolution = models.FailedResolution
	}
	return s.ResolveStep(ctx, user, id, resolution, true)
}

// ResetStepTime restarts the overdue clock of a next step.
func (s *TodoService) ResetStepTime(ctx context.Context, user string, id int64) error {
	err := s.inTx(ctx, func(e *engine) error {
		step, err := e.store.GetStep(id)
		if err != nil {
			return errors.Wrapf(err, "get step %d", id)
		}
		if step.Status != models.NextStatus {
			return errors.Wrapf(ErrInvalidTransition, "step %d is %s, not NEXT", id, step.Status)
		}
		return e.resetTime(user, step)
	})
	if err != nil {
		return err
	}
	s.logger.Infof("Reset time of step %d", id)
	return nil
}

// ListNextSteps lists the actionable steps matching the filter, flagging the overdue ones.
func (s *TodoService) ListNextSteps(ctx context.Context, filter models.StepFilter) ([]models.Step, error) {
	steps, err := s.store.ListNextSteps(filter)
	if err != nil {
		return nil, errors.Wrap(err, "list next steps")
	}
	e := s.reader()
	for i := range steps {
		if steps[i].IsOverdue, err = e.isOverdue(steps[i]); err != nil {
			return nil, err
		}
	}
	return steps, nil
}

func (s *TodoService) ListOverdueSteps(ctx context.Context, filter models.StepFilter) ([]models.Step, error) {
	steps, err := s.ListNextSteps(ctx, filter)
	if err != nil {
		return nil, err
	}
	overdue := steps[:0]
	for _, step := range steps {
		if step.IsOverdue {
			overdue = append(overdue, step)
		}
	}
	return overdue, nil
}
