package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/ignatij/todoflow/pkg/models"
	"github.com/ignatij/todoflow/pkg/service"
	"github.com/pkg/errors"
)

// OverdueLister is the part of the todo service the sweeper needs.
type OverdueLister interface {
	ListOverdueSteps(ctx context.Context, filter models.StepFilter) ([]models.Step, error)
}

// OverdueSweeper periodically reports next steps that ran out of their allowed time.
type OverdueSweeper struct {
	lister    OverdueLister
	logger    service.Logger
	interval  time.Duration
	scheduler *gocron.Scheduler
}

func NewOverdueSweeper(lister OverdueLister, logger service.Logger, interval time.Duration) *OverdueSweeper {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &OverdueSweeper{
		lister:    lister,
		logger:    logger,
		interval:  interval,
		scheduler: s,
	}
}

// Sweep logs a warning for every overdue step and returns how many there are.
func (o *OverdueSweeper) Sweep(ctx context.Context) (int, error) {
	steps, err := o.lister.ListOverdueSteps(ctx, models.StepFilter{})
	if err != nil {
		return 0, errors.Wrap(err, "list overdue steps")
	}
	for _, step := range steps {
		o.logger.Warnf("Step %d '%s' of task %d is overdue (allowed %d days)", step.ID, step.Summary, step.TaskID, step.AllowedTime)
	}
	if len(steps) > 0 {
		o.logger.Infof("Found %d overdue steps", len(steps))
	}
	return len(steps), nil
}

// Start runs Sweep every interval until Stop is called or ctx is done.
func (o *OverdueSweeper) Start(ctx context.Context) error {
	if o.interval <= 0 {
		return errors.Errorf("invalid sweep interval %s", o.interval)
	}
	_, err := o.scheduler.Every(o.interval).Tag("overdue").Do(func() {
		if _, err := o.Sweep(ctx); err != nil {
			o.logger.Errorf("Overdue sweep failed: %v", err)
		}
	})
	if err != nil {
		return errors.Wrap(err, "schedule overdue sweep")
	}
	o.scheduler.StartAsync()
	o.logger.Infof("Sweeping overdue steps every %s", o.interval)
	go func() {
		<-ctx.Done()
		o.Stop()
	}()
	return nil
}

func (o *OverdueSweeper) Stop() {
	if o.scheduler.IsRunning() {
		o.scheduler.Stop()
	}
}
