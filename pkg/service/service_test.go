package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/ignatij/todoflow/pkg/models"
	"github.com/ignatij/todoflow/pkg/service"
	"github.com/ignatij/todoflow/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type logger struct{}

func (l logger) Debugf(format string, args ...interface{}) {
	// no-op
}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Warnf(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

type notifierMock struct {
	mock.Mock
}

func (n *notifierMock) StatusChanged(ctx context.Context, change service.StatusChange) error {
	args := n.Called(ctx, change)
	return args.Error(0)
}

const user = "gandalf"

// workflow is a small localization workflow:
//
//	translate (1)
//	review (2)
//	  proofread (1)
//	  sign-off (2, review)
//	ship (3)
type workflow struct {
	svc       *service.TodoService
	store     storage.Store
	clock     *time.Time
	projectID int64
	taskProto int64
	review    int64
	signOff   int64
}

func newWorkflow(t *testing.T, opts ...service.Option) *workflow {
	t.Helper()
	ctx := context.Background()
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	w := &workflow{store: storage.NewMockStore(), clock: &clock}
	opts = append([]service.Option{service.WithClock(func() time.Time { return *w.clock })}, opts...)
	w.svc = service.NewTodoService(w.store, logger{}, opts...)

	var err error
	w.projectID, err = w.svc.CreateProject(ctx, "fx", "Firefox")
	require.NoError(t, err)

	proto := func(p models.Proto) int64 {
		id, err := w.svc.CreateProto(ctx, p)
		require.NoError(t, err)
		return id
	}
	nest := func(parent, child int64, order int) {
		_, err := w.svc.AddNesting(ctx, models.Nesting{ParentID: parent, ChildID: child, Order: order})
		require.NoError(t, err)
	}

	w.taskProto = proto(models.Proto{Type: models.TaskProto, Summary: "Localize"})
	translate := proto(models.Proto{Type: models.StepProto, Summary: "Translate"})
	w.review = proto(models.Proto{Type: models.StepProto, Summary: "Review"})
	proofread := proto(models.Proto{Type: models.StepProto, Summary: "Proofread"})
	w.signOff = proto(models.Proto{Type: models.StepProto, Summary: "Sign-off", IsReview: true, AllowedTime: 5})
	ship := proto(models.Proto{Type: models.StepProto, Summary: "Ship"})

	nest(w.taskProto, translate, 1)
	nest(w.taskProto, w.review, 2)
	nest(w.taskProto, ship, 3)
	nest(w.review, proofread, 1)
	nest(w.review, w.signOff, 2)
	return w
}

func (w *workflow) spawn(t *testing.T) models.Task {
	t.Helper()
	task, err := w.svc.SpawnTask(context.Background(), user, w.taskProto, service.TaskSpawn{
		Locale:     "de",
		Bug:        "123456",
		ProjectIDs: []int64{w.projectID},
	})
	require.NoError(t, err)
	task, err = w.svc.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	return task
}

func (w *workflow) resolve(t *testing.T, id int64, resolution models.Resolution) {
	t.Helper()
	_, err := w.svc.ResolveStep(context.Background(), user, id, resolution, true)
	require.NoError(t, err)
}

func (w *workflow) step(t *testing.T, id int64) models.Step {
	t.Helper()
	step, err := w.svc.GetStep(context.Background(), id)
	require.NoError(t, err)
	return step
}

func TestSpawnTask(t *testing.T) {
	w := newWorkflow(t)
	task := w.spawn(t)

	assert.Equal(t, "Localize", task.Summary)
	assert.Equal(t, "123456", task.Bug())
	assert.Equal(t, "[de] Localize", task.FormatRepr())
	require.Len(t, task.Statuses, 1)
	assert.Equal(t, models.ActiveStatus, task.Statuses[0].Status)
	assert.False(t, task.IsResolvedAll())

	require.Len(t, task.Steps, 3)
	translate, review, ship := task.Steps[0], task.Steps[1], task.Steps[2]
	assert.Equal(t, "Translate", translate.Summary)
	assert.Equal(t, models.NextStatus, translate.Status)
	assert.Equal(t, models.NewStatus, review.Status)
	assert.True(t, review.HasChildren)
	require.Len(t, review.Children, 2)
	assert.Equal(t, models.NewStatus, review.Children[0].Status)
	assert.True(t, review.Children[1].IsReview)
	assert.Equal(t, 5, review.Children[1].AllowedTime)
	assert.Equal(t, models.DefaultAllowedTime, ship.AllowedTime)
	assert.Equal(t, models.NewStatus, ship.Status)
}

func TestSpawnTask_WrongPrototype(t *testing.T) {
	w := newWorkflow(t)
	_, err := w.svc.SpawnTask(context.Background(), user, w.review, service.TaskSpawn{})
	assert.True(t, service.IsValidation(err))
}

func TestSpawnTask_RollsBackOnError(t *testing.T) {
	w := newWorkflow(t)
	_, err := w.svc.SpawnTask(context.Background(), user, w.taskProto, service.TaskSpawn{ProjectIDs: []int64{404}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	tasks, err := w.svc.ListTasks(context.Background(), models.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestResolveStep_CompletesWorkflow(t *testing.T) {
	w := newWorkflow(t)
	task := w.spawn(t)
	translate, review, ship := task.Steps[0], task.Steps[1], task.Steps[2]
	proofread, signOff := review.Children[0], review.Children[1]

	w.resolve(t, translate.ID, models.CompletedResolution)
	assert.Equal(t, models.ResolvedStatus, w.step(t, translate.ID).Status)
	assert.Equal(t, models.ActiveStatus, w.step(t, review.ID).Status)
	assert.Equal(t, models.NextStatus, w.step(t, proofread.ID).Status)
	assert.Equal(t, models.NewStatus, w.step(t, signOff.ID).Status)

	w.resolve(t, proofread.ID, models.CompletedResolution)
	assert.Equal(t, models.NextStatus, w.step(t, signOff.ID).Status)
	assert.Equal(t, models.ActiveStatus, w.step(t, review.ID).Status)

	// last child resolves the parent and the next top-level step is activated
	w.resolve(t, signOff.ID, models.CompletedResolution)
	got := w.step(t, review.ID)
	assert.Equal(t, models.ResolvedStatus, got.Status)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, models.CompletedResolution, *got.Resolution)
	assert.Equal(t, models.NextStatus, w.step(t, ship.ID).Status)

	w.resolve(t, ship.ID, models.CompletedResolution)
	got = w.step(t, ship.ID)
	assert.Equal(t, models.ResolvedStatus, got.Status)

	// the task itself is left to the user
	task, err := w.svc.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActiveStatus, task.Statuses[0].Status)
	require.NotNil(t, task.LatestResolutionTS)
}

func TestResolveStep_FailedReviewClonesParent(t *testing.T) {
	w := newWorkflow(t)
	task := w.spawn(t)
	translate, review, ship := task.Steps[0], task.Steps[1], task.Steps[2]
	proofread, signOff := review.Children[0], review.Children[1]

	w.resolve(t, translate.ID, models.CompletedResolution)
	w.resolve(t, proofread.ID, models.CompletedResolution)
	w.resolve(t, signOff.ID, models.FailedResolution)

	got := w.step(t, review.ID)
	assert.Equal(t, models.ResolvedStatus, got.Status)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, models.FailedResolution, *got.Resolution)
	// failures don't move the workflow forward
	assert.Equal(t, models.NewStatus, w.step(t, ship.ID).Status)

	task, err := w.svc.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, task.Steps, 4)
	var clone models.Step
	for _, step := range task.Steps {
		if step.Order == 2 && step.ID != review.ID {
			clone = step
		}
	}
	require.NotZero(t, clone.ID)
	assert.Equal(t, "Review", clone.Summary)
	assert.Equal(t, models.ActiveStatus, clone.Status)
	require.Len(t, clone.Children, 2)
	assert.Equal(t, models.NextStatus, clone.Children[0].Status)
	assert.Equal(t, models.NewStatus, clone.Children[1].Status)

	// the fresh copy carries the workflow on
	w.resolve(t, clone.Children[0].ID, models.CompletedResolution)
	w.resolve(t, clone.Children[1].ID, models.CompletedResolution)
	assert.Equal(t, models.ResolvedStatus, w.step(t, clone.ID).Status)
	assert.Equal(t, models.NextStatus, w.step(t, ship.ID).Status)
}

func TestResolveStep_FailureStopsAtImmediateParent(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t)

	// outer (1) > inner (1) > check (1, review)
	outer, err := w.svc.CreateProto(ctx, models.Proto{Type: models.StepProto, Summary: "Outer"})
	require.NoError(t, err)
	inner, err := w.svc.CreateProto(ctx, models.Proto{Type: models.StepProto, Summary: "Inner"})
	require.NoError(t, err)
	check, err := w.svc.CreateProto(ctx, models.Proto{Type: models.StepProto, Summary: "Check", IsReview: true})
	require.NoError(t, err)
	taskProto, err := w.svc.CreateProto(ctx, models.Proto{Type: models.TaskProto, Summary: "Nested"})
	require.NoError(t, err)
	for _, n := range []models.Nesting{
		{ParentID: taskProto, ChildID: outer, Order: 1},
		{ParentID: outer, ChildID: inner, Order: 1},
		{ParentID: inner, ChildID: check, Order: 1},
	} {
		_, err := w.svc.AddNesting(ctx, n)
		require.NoError(t, err)
	}

	task, err := w.svc.SpawnTask(ctx, user, taskProto, service.TaskSpawn{ProjectIDs: []int64{w.projectID}})
	require.NoError(t, err)
	task, err = w.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	outerStep := task.Steps[0]
	innerStep := outerStep.Children[0]
	checkStep := innerStep.Children[0]
	assert.Equal(t, models.ActiveStatus, outerStep.Status)
	assert.Equal(t, models.ActiveStatus, innerStep.Status)
	assert.Equal(t, models.NextStatus, checkStep.Status)

	w.resolve(t, checkStep.ID, models.FailedResolution)
	assert.Equal(t, models.ResolvedStatus, w.step(t, innerStep.ID).Status)
	assert.Equal(t, models.ActiveStatus, w.step(t, outerStep.ID).Status)

	got := w.step(t, outerStep.ID)
	require.Len(t, got.Children, 2)
	assert.Equal(t, models.ActiveStatus, got.Children[1].Status)
	assert.Equal(t, models.NextStatus, got.Children[1].Children[0].Status)
}

func TestResolveStep_WithoutBubbling(t *testing.T) {
	w := newWorkflow(t)
	task := w.spawn(t)

	_, err := w.svc.ResolveStep(context.Background(), user, task.Steps[0].ID, models.CompletedResolution, false)
	require.NoError(t, err)
	assert.Equal(t, models.ResolvedStatus, w.step(t, task.Steps[0].ID).Status)
	assert.Equal(t, models.NewStatus, w.step(t, task.Steps[1].ID).Status)
}

func TestResolveStep_ResolvesParentFlag(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t)
	shortcut, err := w.svc.CreateProto(ctx, models.Proto{Type: models.StepProto, Summary: "Skip review"})
	require.NoError(t, err)
	_, err = w.svc.AddNesting(ctx, models.Nesting{
		ParentID:        w.review,
		ChildID:         shortcut,
		Order:           1,
		IsAutoActivated: true,
		ResolvesParent:  true,
	})
	require.NoError(t, err)

	task := w.spawn(t)
	w.resolve(t, task.Steps[0].ID, models.CompletedResolution)
	review := w.step(t, task.Steps[1].ID)
	require.Len(t, review.Children, 3)

	var skip models.Step
	for _, child := range review.Children {
		if child.ResolvesParent {
			skip = child
		}
	}
	assert.Equal(t, models.NextStatus, skip.Status)
	w.resolve(t, skip.ID, models.CompletedResolution)
	assert.Equal(t, models.ResolvedStatus, w.step(t, review.ID).Status)
	assert.Equal(t, models.NextStatus, w.step(t, task.Steps[2].ID).Status)
}

// A parent closes once the last step is resolved and nothing else is in progress,
// or once every other child is resolved, whatever the order.
func TestResolveStep_ClosesParentWhenSiblingsDone(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t)
	proto := func(p models.Proto) int64 {
		id, err := w.svc.CreateProto(ctx, p)
		require.NoError(t, err)
		return id
	}
	nest := func(n models.Nesting) {
		_, err := w.svc.AddNesting(ctx, n)
		require.NoError(t, err)
	}
	release := proto(models.Proto{Type: models.TaskProto, Summary: "Release"})
	check := proto(models.Proto{Type: models.StepProto, Summary: "Check"})
	proofread := proto(models.Proto{Type: models.StepProto, Summary: "Proofread"})
	links := proto(models.Proto{Type: models.StepProto, Summary: "Check links"})
	ship := proto(models.Proto{Type: models.StepProto, Summary: "Ship"})
	nest(models.Nesting{ParentID: release, ChildID: check, Order: 1})
	nest(models.Nesting{ParentID: release, ChildID: ship, Order: 2})
	nest(models.Nesting{ParentID: check, ChildID: proofread, Order: 1})
	nest(models.Nesting{ParentID: check, ChildID: links, Order: 2, IsAutoActivated: true})

	task, err := w.svc.SpawnTask(ctx, user, release, service.TaskSpawn{ProjectIDs: []int64{w.projectID}})
	require.NoError(t, err)
	task, err = w.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, task.Steps, 2)
	parent := task.Steps[0]
	require.Len(t, parent.Children, 2)
	first, last := parent.Children[0], parent.Children[1]
	assert.Equal(t, models.NextStatus, first.Status)
	assert.Equal(t, models.NextStatus, last.Status)

	// the last step is done but the first one is still next
	w.resolve(t, last.ID, models.CompletedResolution)
	assert.Equal(t, models.ActiveStatus, w.step(t, parent.ID).Status)
	assert.Equal(t, models.NextStatus, w.step(t, first.ID).Status)
	assert.Equal(t, models.NewStatus, w.step(t, task.Steps[1].ID).Status)

	// the first step is not the last one, but it is the last open one
	w.resolve(t, first.ID, models.CompletedResolution)
	got := w.step(t, parent.ID)
	assert.Equal(t, models.ResolvedStatus, got.Status)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, models.CompletedResolution, *got.Resolution)
	assert.Equal(t, models.NextStatus, w.step(t, task.Steps[1].ID).Status)
}

func TestResolveStep_InvalidTransitions(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t)
	task := w.spawn(t)
	translate := task.Steps[0]

	_, err := w.svc.ResolveStep(ctx, user, translate.ID, models.FailedResolution, true)
	assert.True(t, errors.Is(err, service.ErrInvalidTransition))

	w.resolve(t, translate.ID, models.CompletedResolution)
	_, err = w.svc.ResolveStep(ctx, user, translate.ID, models.CompletedResolution, true)
	assert.True(t, errors.Is(err, service.ErrInvalidTransition))

	_, err = w.svc.ResolveStep(ctx, user, 999, models.CompletedResolution, true)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	_, err = w.svc.ActivateStep(ctx, user, translate.ID)
	assert.True(t, errors.Is(err, service.ErrInvalidTransition))
}

func TestResolveReview(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t)
	task := w.spawn(t)
	signOff := task.Steps[1].Children[1]

	_, err := w.svc.ResolveReview(ctx, user, signOff.ID, false, false)
	require.Error(t, err)
	assert.True(t, service.IsValidation(err))
	assert.Equal(t, "A resolution needs to be specified for review todos.", err.Error())

	_, err = w.svc.ResolveReview(ctx, user, signOff.ID, true, true)
	assert.True(t, service.IsValidation(err))

	step, err := w.svc.ResolveReview(ctx, user, signOff.ID, false, true)
	require.NoError(t, err)
	assert.Equal(t, models.ResolvedStatus, step.Status)
	assert.Equal(t, models.FailedResolution, *step.Resolution)
}

func TestActivateStep(t *testing.T) {
	w := newWorkflow(t)
	task := w.spawn(t)

	step, err := w.svc.ActivateStep(context.Background(), user, task.Steps[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActiveStatus, step.Status)

	got := w.step(t, step.ID)
	assert.Equal(t, models.NextStatus, got.Children[0].Status)
	assert.Equal(t, models.NewStatus, got.Children[1].Status)
}

func TestOverdueSteps(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t)
	task := w.spawn(t)
	translate := task.Steps[0]

	overdue, err := w.svc.ListOverdueSteps(ctx, models.StepFilter{})
	require.NoError(t, err)
	assert.Empty(t, overdue)

	*w.clock = w.clock.Add(3*24*time.Hour + time.Minute)
	overdue, err = w.svc.ListOverdueSteps(ctx, models.StepFilter{})
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, translate.ID, overdue[0].ID)
	assert.True(t, w.step(t, translate.ID).IsOverdue)

	require.NoError(t, w.svc.ResetStepTime(ctx, user, translate.ID))
	overdue, err = w.svc.ListOverdueSteps(ctx, models.StepFilter{})
	require.NoError(t, err)
	assert.Empty(t, overdue)

	next, err := w.svc.ListNextSteps(ctx, models.StepFilter{Locales: []string{"de"}})
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.False(t, next[0].IsOverdue)

	next, err = w.svc.ListNextSteps(ctx, models.StepFilter{Locales: []string{"fr"}})
	require.NoError(t, err)
	assert.Empty(t, next)

	// only next steps run against the clock
	err = w.svc.ResetStepTime(ctx, user, task.Steps[2].ID)
	assert.True(t, errors.Is(err, service.ErrInvalidTransition))
}

func TestResolveTask(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t)
	other, err := w.svc.CreateProject(ctx, "tb", "Thunderbird")
	require.NoError(t, err)

	task, err := w.svc.SpawnTask(ctx, user, w.taskProto, service.TaskSpawn{ProjectIDs: []int64{w.projectID, other}})
	require.NoError(t, err)

	require.NoError(t, w.svc.ResolveTask(ctx, user, task.ID, w.projectID, models.CompletedResolution))
	task, err = w.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, task.IsResolvedAll())

	err = w.svc.ResolveTask(ctx, user, task.ID, w.projectID, models.CompletedResolution)
	assert.True(t, errors.Is(err, service.ErrInvalidTransition))

	require.NoError(t, w.svc.ResolveTask(ctx, user, task.ID, other, models.IncompleteResolution))
	task, err = w.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, task.IsResolvedAll())
	status, ok := task.StatusFor(other)
	require.True(t, ok)
	assert.Equal(t, models.IncompleteResolution, *status.Resolution)

	err = w.svc.ResolveTask(ctx, user, task.ID, 404, models.CompletedResolution)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestClonePerProject(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t)
	other, err := w.svc.CreateProject(ctx, "tb", "Thunderbird")
	require.NoError(t, err)

	taskProto, err := w.svc.CreateProto(ctx, models.Proto{Type: models.TaskProto, Summary: "Release"})
	require.NoError(t, err)
	prepare, err := w.svc.CreateProto(ctx, models.Proto{Type: models.StepProto, Summary: "Prepare"})
	require.NoError(t, err)
	_, err = w.svc.AddNesting(ctx, models.Nesting{ParentID: taskProto, ChildID: prepare, Order: 1})
	require.NoError(t, err)
	_, err = w.svc.AddNesting(ctx, models.Nesting{ParentID: taskProto, ChildID: w.signOff, Order: 2, ClonePerProject: true})
	require.NoError(t, err)

	task, err := w.svc.SpawnTask(ctx, user, taskProto, service.TaskSpawn{ProjectIDs: []int64{w.projectID, other}})
	require.NoError(t, err)
	task, err = w.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, task.Steps, 3)

	w.resolve(t, task.Steps[0].ID, models.CompletedResolution)
	next, err := w.svc.ListNextSteps(ctx, models.StepFilter{TaskIDs: []int64{task.ID}})
	require.NoError(t, err)
	require.Len(t, next, 2)

	next, err = w.svc.ListNextSteps(ctx, models.StepFilter{ProjectIDs: []int64{other}})
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, other, *next[0].ProjectID)
}

func TestClonePerProject_Chained(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t)
	other, err := w.svc.CreateProject(ctx, "tb", "Thunderbird")
	require.NoError(t, err)

	taskProto, err := w.svc.CreateProto(ctx, models.Proto{Type: models.TaskProto, Summary: "Release"})
	require.NoError(t, err)
	prepare, err := w.svc.CreateProto(ctx, models.Proto{Type: models.StepProto, Summary: "Prepare"})
	require.NoError(t, err)
	publish, err := w.svc.CreateProto(ctx, models.Proto{Type: models.StepProto, Summary: "Publish"})
	require.NoError(t, err)
	_, err = w.svc.AddNesting(ctx, models.Nesting{ParentID: taskProto, ChildID: prepare, Order: 1, ClonePerProject: true})
	require.NoError(t, err)
	_, err = w.svc.AddNesting(ctx, models.Nesting{ParentID: taskProto, ChildID: publish, Order: 2, ClonePerProject: true})
	require.NoError(t, err)

	task, err := w.svc.SpawnTask(ctx, user, taskProto, service.TaskSpawn{ProjectIDs: []int64{w.projectID, other}})
	require.NoError(t, err)
	task, err = w.svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, task.Steps, 4)

	steps := map[string]models.Step{}
	for _, step := range task.Steps {
		require.NotNil(t, step.ProjectID)
		project := "fx"
		if *step.ProjectID == other {
			project = "tb"
		}
		steps[step.Summary+"/"+project] = step
	}
	require.Len(t, steps, 4)

	w.resolve(t, steps["Prepare/fx"].ID, models.CompletedResolution)
	assert.Equal(t, models.NextStatus, w.step(t, steps["Publish/fx"].ID).Status)
	assert.Equal(t, models.NewStatus, w.step(t, steps["Publish/tb"].ID).Status)
	assert.Equal(t, models.NextStatus, w.step(t, steps["Prepare/tb"].ID).Status)

	next, err := w.svc.ListNextSteps(ctx, models.StepFilter{ProjectIDs: []int64{other}})
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, steps["Prepare/tb"].ID, next[0].ID)

	w.resolve(t, steps["Prepare/tb"].ID, models.CompletedResolution)
	assert.Equal(t, models.NextStatus, w.step(t, steps["Publish/tb"].ID).Status)
}

func TestCloneTask(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t)
	task := w.spawn(t)
	w.resolve(t, task.Steps[0].ID, models.CompletedResolution)

	clone, err := w.svc.CloneTask(ctx, user, task.ID)
	require.NoError(t, err)
	assert.NotEqual(t, task.ID, clone.ID)

	got, err := w.svc.GetTask(ctx, clone.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Summary, got.Summary)
	assert.Equal(t, "de", got.Locale)
	assert.Equal(t, "123456", got.Bug())
	assert.Equal(t, task.PrototypeID, got.PrototypeID)
	require.Len(t, got.Statuses, 1)
	assert.Equal(t, w.projectID, got.Statuses[0].ProjectID)
	assert.Equal(t, models.ActiveStatus, got.Statuses[0].Status)
	require.Len(t, got.Steps, 3)
	assert.Equal(t, models.NextStatus, got.Steps[0].Status)
	assert.Equal(t, models.NewStatus, got.Steps[1].Status)

	// the original keeps its progress
	assert.Equal(t, models.ActiveStatus, w.step(t, task.Steps[1].ID).Status)

	_, err = w.svc.CloneTask(ctx, user, 404)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestSpawnTracker(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t)

	trackerProto, err := w.svc.CreateProto(ctx, models.Proto{Type: models.TrackerProto, Summary: "Fx 4"})
	require.NoError(t, err)
	localeProto, err := w.svc.CreateProto(ctx, models.Proto{Type: models.TrackerProto, Summary: "Locale"})
	require.NoError(t, err)
	_, err = w.svc.AddNesting(ctx, models.Nesting{ParentID: trackerProto, ChildID: localeProto, ClonePerLocale: true})
	require.NoError(t, err)
	_, err = w.svc.AddNesting(ctx, models.Nesting{ParentID: localeProto, ChildID: w.taskProto})
	require.NoError(t, err)

	tracker, err := w.svc.SpawnTracker(ctx, user, trackerProto, service.TrackerSpawn{
		Suffix:     "fx4",
		Locales:    []string{"de", "fr"},
		ProjectIDs: []int64{w.projectID},
	})
	require.NoError(t, err)
	assert.Equal(t, "fx4", tracker.Alias)
	require.Len(t, tracker.Trackers, 2)
	assert.Equal(t, "fx4-de", tracker.Trackers[0].Alias)
	assert.Equal(t, "fx4-fr", tracker.Trackers[1].Alias)

	got, err := w.svc.GetTracker(ctx, tracker.Trackers[1].ID)
	require.NoError(t, err)
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, "fx4-fr", got.Tasks[0].Alias)
	assert.Equal(t, "fr", got.Tasks[0].Locale)

	tasks, err := w.svc.ListTasks(ctx, models.TaskFilter{Locales: []string{"de"}})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.ActiveStatus, tasks[0].Statuses[0].Status)
}

func TestAddNesting_Validation(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t)

	_, err := w.svc.AddNesting(ctx, models.Nesting{ParentID: w.review, ChildID: w.taskProto, Order: 1})
	assert.True(t, service.IsValidation(err))

	_, err = w.svc.AddNesting(ctx, models.Nesting{ParentID: w.review, ChildID: w.review, Order: 1})
	assert.True(t, service.IsValidation(err))

	_, err = w.svc.AddNesting(ctx, models.Nesting{ParentID: w.taskProto, ChildID: w.review})
	assert.True(t, service.IsValidation(err))

	_, err = w.svc.AddNesting(ctx, models.Nesting{ParentID: w.taskProto, ChildID: 404, Order: 1})
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestAddTasks(t *testing.T) {
	ctx := context.Background()
	w := newWorkflow(t)

	t.Run("UncategorizedBatch", func(t *testing.T) {
		batch, tasks, err := w.svc.AddTasks(ctx, user, service.AddTasksRequest{
			PrototypeID: w.taskProto,
			ProjectID:   w.projectID,
			Bugs: []service.BugTasks{
				{Summary: "Translate about:home", Locales: []string{"de", "fr"}, Bug: "555"},
				{Summary: "Translate snippets", Locales: []string{"pl"}, Bug: "snippets"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, models.UncategorizedBatchSlug, batch.Slug)
		require.Len(t, tasks, 3)
		assert.Equal(t, "555", tasks[1].Bug())
		assert.Equal(t, "fr", tasks[1].Locale)
		assert.Equal(t, "snippets", tasks[2].Bug())

		again, _, err := w.svc.AddTasks(ctx, user, service.AddTasksRequest{
			PrototypeID: w.taskProto,
			ProjectID:   w.projectID,
			Bugs:        []service.BugTasks{{Summary: "More", Locales: []string{"it"}}},
		})
		require.NoError(t, err)
		assert.Equal(t, batch.ID, again.ID)

		listed, err := w.svc.ListTasks(ctx, models.TaskFilter{BatchID: &batch.ID})
		require.NoError(t, err)
		assert.Len(t, listed, 4)
	})

	t.Run("NewBatch", func(t *testing.T) {
		req := service.AddTasksRequest{
			PrototypeID:  w.taskProto,
			ProjectID:    w.projectID,
			NewBatchName: "Aurora",
			NewBatchSlug: "aurora",
			Bugs:         []service.BugTasks{{Summary: "Aurora strings", Locales: []string{"de"}}},
		}
		batch, tasks, err := w.svc.AddTasks(ctx, user, req)
		require.NoError(t, err)
		assert.Equal(t, "Aurora", batch.Name)
		require.Len(t, tasks, 1)
		assert.Equal(t, batch.ID, *tasks[0].BatchID)

		_, _, err = w.svc.AddTasks(ctx, user, req)
		require.Error(t, err)
		assert.True(t, service.IsValidation(err))
		assert.Contains(t, err.Error(), "A batch with this slug already exists.")
	})

	t.Run("SummaryFromPrototype", func(t *testing.T) {
		_, tasks, err := w.svc.AddTasks(ctx, user, service.AddTasksRequest{
			PrototypeID: w.taskProto,
			ProjectID:   w.projectID,
			Bugs:        []service.BugTasks{{Locales: []string{"cs"}, Bug: "777"}},
		})
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "Localize", tasks[0].Summary)
		assert.Equal(t, "777", tasks[0].Bug())
	})

	t.Run("Validation", func(t *testing.T) {
		_, _, err := w.svc.AddTasks(ctx, user, service.AddTasksRequest{PrototypeID: w.taskProto})
		assert.True(t, service.IsValidation(err))

		_, _, err = w.svc.AddTasks(ctx, user, service.AddTasksRequest{
			PrototypeID:  w.taskProto,
			ProjectID:    w.projectID,
			NewBatchName: "No slug",
			Bugs:         []service.BugTasks{{Summary: "x"}},
		})
		assert.True(t, service.IsValidation(err))

		batchID := int64(404)
		_, _, err = w.svc.AddTasks(ctx, user, service.AddTasksRequest{
			PrototypeID: w.taskProto,
			ProjectID:   w.projectID,
			BatchID:     &batchID,
			Bugs:        []service.BugTasks{{Summary: "x"}},
		})
		assert.True(t, service.IsValidation(err))
	})
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	notifier := &notifierMock{}
	notifier.On("StatusChanged", mock.Anything, mock.Anything).Return(nil)
	w := newWorkflow(t, service.WithNotifier(notifier))
	task := w.spawn(t)

	notifier.AssertCalled(t, "StatusChanged", mock.Anything, mock.MatchedBy(func(c service.StatusChange) bool {
		return c.SubjectType == models.StepSubject && c.SubjectID == task.Steps[0].ID && c.Flag == models.NextedFlag
	}))
	notifier.AssertCalled(t, "StatusChanged", mock.Anything, mock.MatchedBy(func(c service.StatusChange) bool {
		return c.SubjectType == models.TaskInProjectSubject && c.TaskID == task.ID && c.Flag == models.ActivatedFlag
	}))

	w.resolve(t, task.Steps[0].ID, models.CompletedResolution)
	notifier.AssertCalled(t, "StatusChanged", mock.Anything, mock.MatchedBy(func(c service.StatusChange) bool {
		return c.SubjectID == task.Steps[0].ID && c.Flag == models.CompletedFlag && c.User == user
	}))

	actions, err := w.svc.ListActions(ctx, models.ActionFilter{SubjectType: models.StepSubject, SubjectID: &task.Steps[0].ID})
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, models.CompletedFlag, actions[0].Flag)
	assert.Equal(t, models.NextedFlag, actions[1].Flag)
}

func TestNotifications_NotSentOnRollback(t *testing.T) {
	notifier := &notifierMock{}
	w := newWorkflow(t, service.WithNotifier(notifier))

	_, err := w.svc.SpawnTask(context.Background(), user, w.taskProto, service.TaskSpawn{ProjectIDs: []int64{404}})
	require.Error(t, err)
	notifier.AssertNotCalled(t, "StatusChanged", mock.Anything, mock.Anything)
}

func TestNotifications_FailuresDoNotFailOperations(t *testing.T) {
	notifier := &notifierMock{}
	notifier.On("StatusChanged", mock.Anything, mock.Anything).Return(errors.New("sink down"))
	w := newWorkflow(t, service.WithNotifier(notifier))

	task := w.spawn(t)
	assert.Equal(t, models.NextStatus, task.Steps[0].Status)
	notifier.AssertExpectations(t)
}

func TestCreateProject_Duplicate(t *testing.T) {
	w := newWorkflow(t)
	_, err := w.svc.CreateProject(context.Background(), "fx", "Firefox again")
	assert.True(t, errors.Is(err, storage.ErrDuplicate))

	_, err = w.svc.CreateProject(context.Background(), " ", "")
	assert.True(t, service.IsValidation(err))

	projects, err := w.svc.ListProjects(context.Background())
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}
