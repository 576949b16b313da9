package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	internal_http "github.com/ignatij/todoflow/internal/http"
	"github.com/ignatij/todoflow/pkg/models"
	"github.com/ignatij/todoflow/pkg/service"
	"github.com/ignatij/todoflow/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logger struct{}

func (l logger) Debugf(format string, args ...interface{}) {}
func (l logger) Infof(format string, args ...interface{})  {}
func (l logger) Warnf(format string, args ...interface{})  {}
func (l logger) Errorf(format string, args ...interface{}) {}

type client struct {
	t       *testing.T
	handler http.Handler
	user    string
}

func newClient(t *testing.T) *client {
	svc := service.NewTodoService(storage.NewMockStore(), logger{})
	return &client{t: t, handler: internal_http.NewServer(svc, logger{}).Handler(), user: "frodo"}
}

func (c *client) do(method, path string, body interface{}, out interface{}) int {
	c.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.Header.Set(internal_http.UserHeader, c.user)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func (c *client) create(path string, body interface{}) int64 {
	c.t.Helper()
	var created struct {
		ID int64 `json:"id"`
	}
	require.Equal(c.t, http.StatusCreated, c.do(http.MethodPost, path, body, &created))
	return created.ID
}

type apiError struct {
	Error string `json:"error"`
}

// localizeProto creates a task proto with a translate step followed by a review step.
func (c *client) localizeProto() int64 {
	taskProto := c.create("/protos", map[string]interface{}{"type": "task", "summary": "Localize"})
	translate := c.create("/protos", map[string]interface{}{"type": "step", "summary": "Translate"})
	review := c.create("/protos", map[string]interface{}{"type": "step", "summary": "Review", "is_review": true})
	c.create(fmt.Sprintf("/protos/%d/nestings", taskProto), map[string]interface{}{"child_id": translate, "order": 1})
	c.create(fmt.Sprintf("/protos/%d/nestings", taskProto), map[string]interface{}{"child_id": review, "order": 2})
	return taskProto
}

func TestServer_Health(t *testing.T) {
	c := newClient(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/health", nil, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_Projects(t *testing.T) {
	c := newClient(t)
	id := c.create("/projects", map[string]string{"code": "fx", "label": "Firefox"})
	assert.Greater(t, id, int64(0))

	var projects []models.Project
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/projects", nil, &projects))
	require.Len(t, projects, 1)
	assert.Equal(t, "fx", projects[0].Code)

	var errBody apiError
	assert.Equal(t, http.StatusConflict, c.do(http.MethodPost, "/projects", map[string]string{"code": "fx"}, &errBody))
	assert.NotEmpty(t, errBody.Error)

	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/projects", map[string]string{"code": " "}, &errBody))
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/projects", "not an object", &errBody))
}

func TestServer_Protos(t *testing.T) {
	c := newClient(t)
	c.localizeProto()

	var protos []models.Proto
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/protos?type=step", nil, &protos))
	assert.Len(t, protos, 2)
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/protos", nil, &protos))
	assert.Len(t, protos, 3)

	var errBody apiError
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/protos?type=bug", nil, &errBody))
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/protos", map[string]string{"type": "step"}, &errBody))
}

func TestServer_Workflow(t *testing.T) {
	c := newClient(t)
	projectID := c.create("/projects", map[string]string{"code": "fx"})
	taskProto := c.localizeProto()

	var task models.Task
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/tasks", map[string]interface{}{
		"prototype_id": taskProto,
		"locale":       "de",
		"bug":          "123456",
		"project_ids":  []int64{projectID},
	}, &task))
	assert.Equal(t, "de", task.Locale)

	require.Equal(t, http.StatusOK, c.do(http.MethodGet, fmt.Sprintf("/tasks/%d", task.ID), nil, &task))
	require.Len(t, task.Steps, 2)
	translate, review := task.Steps[0], task.Steps[1]
	assert.Equal(t, models.NextStatus, translate.Status)
	assert.Equal(t, models.NewStatus, review.Status)

	var next []models.Step
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, fmt.Sprintf("/steps/next?locale=de&project=%d", projectID), nil, &next))
	require.Len(t, next, 1)
	assert.Equal(t, translate.ID, next[0].ID)

	var step models.Step
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, fmt.Sprintf("/steps/%d/resolve", translate.ID), map[string]string{"resolution": "completed"}, &step))
	assert.Equal(t, models.ResolvedStatus, step.Status)

	var errBody apiError
	assert.Equal(t, http.StatusConflict, c.do(http.MethodPost, fmt.Sprintf("/steps/%d/resolve", translate.ID), map[string]string{"resolution": "completed"}, &errBody))

	require.Equal(t, http.StatusOK, c.do(http.MethodGet, fmt.Sprintf("/steps/%d", review.ID), nil, &step))
	assert.Equal(t, models.NextStatus, step.Status)

	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, fmt.Sprintf("/steps/%d/review", review.ID), map[string]bool{}, &errBody))
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, fmt.Sprintf("/steps/%d/review", review.ID), map[string]bool{"success": true}, &step))
	assert.Equal(t, models.CompletedResolution, *step.Resolution)

	require.Equal(t, http.StatusOK, c.do(http.MethodGet, fmt.Sprintf("/tasks/%d", task.ID), nil, &task))
	assert.False(t, task.IsResolvedAll())
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, fmt.Sprintf("/tasks/%d/resolve", task.ID), map[string]interface{}{
		"project_id": projectID,
		"resolution": "completed",
	}, &task))
	assert.True(t, task.IsResolvedAll())

	var clone models.Task
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, fmt.Sprintf("/tasks/%d/clone", task.ID), nil, &clone))
	assert.NotEqual(t, task.ID, clone.ID)
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, fmt.Sprintf("/tasks/%d", clone.ID), nil, &clone))
	assert.Equal(t, "de", clone.Locale)
	assert.Equal(t, "123456", clone.Bug())
	assert.False(t, clone.IsResolvedAll())
	require.Len(t, clone.Steps, 2)
	assert.Equal(t, models.NextStatus, clone.Steps[0].Status)

	var actions []models.Action
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, fmt.Sprintf("/actions?subject_type=step&subject_id=%d&limit=1", review.ID), nil, &actions))
	require.Len(t, actions, 1)
	assert.Equal(t, models.CompletedFlag, actions[0].Flag)
	assert.Equal(t, "frodo", actions[0].User)
}

func TestServer_AnonymousUser(t *testing.T) {
	c := newClient(t)
	c.user = ""
	projectID := c.create("/projects", map[string]string{"code": "fx"})
	taskProto := c.localizeProto()

	var task models.Task
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/tasks", map[string]interface{}{
		"prototype_id": taskProto,
		"project_ids":  []int64{projectID},
	}, &task))

	var actions []models.Action
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/actions", nil, &actions))
	require.NotEmpty(t, actions)
	for _, action := range actions {
		assert.Equal(t, internal_http.AnonymousUser, action.User)
	}
}

func TestServer_AddTasks(t *testing.T) {
	c := newClient(t)
	projectID := c.create("/projects", map[string]string{"code": "fx"})
	taskProto := c.localizeProto()

	var added struct {
		Batch models.Batch  `json:"batch"`
		Tasks []models.Task `json:"tasks"`
	}
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/tasks/batch", map[string]interface{}{
		"prototype_id":   taskProto,
		"project_id":     projectID,
		"new_batch_name": "Aurora",
		"new_batch_slug": "aurora",
		"bugs": []map[string]interface{}{
			{"summary": "Localize snippets", "bug": "123", "locales": []string{"de", "fr"}},
		},
	}, &added))
	assert.Equal(t, "aurora", added.Batch.Slug)
	assert.Len(t, added.Tasks, 2)

	var tasks []models.Task
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, fmt.Sprintf("/tasks?batch=%d&locale=fr", added.Batch.ID), nil, &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "fr", tasks[0].Locale)

	var errBody apiError
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/tasks/batch", map[string]interface{}{
		"prototype_id": taskProto,
		"bugs":         []map[string]interface{}{{"summary": "x"}},
	}, &errBody))
	assert.Equal(t, "project: You must choose a project.", errBody.Error)
}

func TestServer_Errors(t *testing.T) {
	c := newClient(t)
	var errBody apiError

	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/tasks/999", nil, &errBody))
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/steps/999", nil, &errBody))
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/steps/abc", nil, &errBody))
	assert.Equal(t, "Invalid id: abc", errBody.Error)
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/steps/next?owner=me", nil, &errBody))
	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/actions?limit=-1", nil, &errBody))
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/workflows", nil, &errBody))
}
