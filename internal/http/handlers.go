package http

import (
	"net/http"
	"strconv"

	"github.com/ignatij/todoflow/pkg/models"
	"github.com/ignatij/todoflow/pkg/service"
	"github.com/labstack/echo/v4"
)

type idResponse struct {
	ID int64 `json:"id"`
}

func user(c echo.Context) string {
	if u := c.Request().Header.Get(UserHeader); u != "" {
		return u
	}
	return AnonymousUser
}

func bind(c echo.Context, dest interface{}) error {
	if err := c.Bind(dest); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	return nil
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid id: "+c.Param("id"))
	}
	return id, nil
}

// queryIDs parses every value of a repeated query parameter as an id.
func queryIDs(c echo.Context, name string) ([]int64, error) {
	var ids []int64
	for _, raw := range c.QueryParams()[name] {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid "+name+": "+raw)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func optionalQueryID(c echo.Context, name string) (*int64, error) {
	ids, err := queryIDs(c, name)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return &ids[0], nil
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listProjects(c echo.Context) error {
	projects, err := s.svc.ListProjects(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, projects)
}

func (s *Server) createProject(c echo.Context) error {
	var req struct {
		Code  string `json:"code"`
		Label string `json:"label"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	id, err := s.svc.CreateProject(c.Request().Context(), req.Code, req.Label)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, idResponse{ID: id})
}

func (s *Server) listActors(c echo.Context) error {
	actors, err := s.svc.ListActors(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, actors)
}

func (s *Server) createActor(c echo.Context) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	id, err := s.svc.CreateActor(c.Request().Context(), req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, idResponse{ID: id})
}

func (s *Server) listProtos(c echo.Context) error {
	var protoType models.ProtoType
	if raw := c.QueryParam("type"); raw != "" {
		parsed, err := models.ParseProtoType(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		protoType = parsed
	}
	protos, err := s.svc.ListProtos(c.Request().Context(), protoType)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, protos)
}

func (s *Server) createProto(c echo.Context) error {
	var proto models.Proto
	if err := bind(c, &proto); err != nil {
		return err
	}
	id, err := s.svc.CreateProto(c.Request().Context(), proto)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, idResponse{ID: id})
}

func (s *Server) addNesting(c echo.Context) error {
	parentID, err := pathID(c)
	if err != nil {
		return err
	}
	var nesting models.Nesting
	if err := bind(c, &nesting); err != nil {
		return err
	}
	nesting.ParentID = parentID
	id, err := s.svc.AddNesting(c.Request().Context(), nesting)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, idResponse{ID: id})
}

func (s *Server) spawnTracker(c echo.Context) error {
	var req struct {
		PrototypeID int64 `json:"prototype_id"`
		service.TrackerSpawn
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	tracker, err := s.svc.SpawnTracker(c.Request().Context(), user(c), req.PrototypeID, req.TrackerSpawn)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, tracker)
}

func (s *Server) getTracker(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	tracker, err := s.svc.GetTracker(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tracker)
}

func (s *Server) listTasks(c echo.Context) error {
	projects, err := queryIDs(c, "project")
	if err != nil {
		return err
	}
	batch, err := optionalQueryID(c, "batch")
	if err != nil {
		return err
	}
	tracker, err := optionalQueryID(c, "tracker")
	if err != nil {
		return err
	}
	tasks, err := s.svc.ListTasks(c.Request().Context(), models.TaskFilter{
		ProjectIDs: projects,
		Locales:    c.QueryParams()["locale"],
		BatchID:    batch,
		ParentID:   tracker,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tasks)
}

func (s *Server) spawnTask(c echo.Context) error {
	var req struct {
		PrototypeID int64 `json:"prototype_id"`
		service.TaskSpawn
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	task, err := s.svc.SpawnTask(c.Request().Context(), user(c), req.PrototypeID, req.TaskSpawn)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, task)
}

func (s *Server) addTasks(c echo.Context) error {
	var req service.AddTasksRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	batch, tasks, err := s.svc.AddTasks(c.Request().Context(), user(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"batch": batch, "tasks": tasks})
}

func (s *Server) getTask(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	task, err := s.svc.GetTask(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) cloneTask(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	clone, err := s.svc.CloneTask(c.Request().Context(), user(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, clone)
}

func (s *Server) activateTask(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.svc.ActivateTask(c.Request().Context(), user(c), id); err != nil {
		return err
	}
	return s.getTask(c)
}

func (s *Server) resolveTask(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req struct {
		ProjectID  int64             `json:"project_id"`
		Resolution models.Resolution `json:"resolution"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.svc.ResolveTask(c.Request().Context(), user(c), id, req.ProjectID, req.Resolution); err != nil {
		return err
	}
	return s.getTask(c)
}

func (s *Server) stepFilter(c echo.Context) (models.StepFilter, error) {
	var filter models.StepFilter
	var err error
	if filter.OwnerIDs, err = queryIDs(c, "owner"); err != nil {
		return filter, err
	}
	if filter.ProjectIDs, err = queryIDs(c, "project"); err != nil {
		return filter, err
	}
	if filter.TaskIDs, err = queryIDs(c, "task"); err != nil {
		return filter, err
	}
	filter.Locales = c.QueryParams()["locale"]
	return filter, nil
}

func (s *Server) listNextSteps(c echo.Context) error {
	filter, err := s.stepFilter(c)
	if err != nil {
		return err
	}
	steps, err := s.svc.ListNextSteps(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, steps)
}

func (s *Server) listOverdueSteps(c echo.Context) error {
	filter, err := s.stepFilter(c)
	if err != nil {
		return err
	}
	steps, err := s.svc.ListOverdueSteps(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, steps)
}

func (s *Server) getStep(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	step, err := s.svc.GetStep(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, step)
}

func (s *Server) activateStep(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if _, err := s.svc.ActivateStep(c.Request().Context(), user(c), id); err != nil {
		return err
	}
	return s.getStep(c)
}

func (s *Server) resolveStep(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req struct {
		Resolution models.Resolution `json:"resolution"`
		BubbleUp   *bool             `json:"bubble_up"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	bubbleUp := req.BubbleUp == nil || *req.BubbleUp
	step, err := s.svc.ResolveStep(c.Request().Context(), user(c), id, req.Resolution, bubbleUp)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, step)
}

func (s *Server) resolveReview(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req struct {
		Success bool `json:"success"`
		Failure bool `json:"failure"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	step, err := s.svc.ResolveReview(c.Request().Context(), user(c), id, req.Success, req.Failure)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, step)
}

func (s *Server) resetStepTime(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.svc.ResetStepTime(c.Request().Context(), user(c), id); err != nil {
		return err
	}
	return s.getStep(c)
}

func (s *Server) listActions(c echo.Context) error {
	filter := models.ActionFilter{SubjectType: models.SubjectType(c.QueryParam("subject_type"))}
	subjectID, err := optionalQueryID(c, "subject_id")
	if err != nil {
		return err
	}
	filter.SubjectID = subjectID
	if raw := c.QueryParam("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil || filter.Limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid limit: "+raw)
		}
	}
	actions, err := s.svc.ListActions(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, actions)
}
