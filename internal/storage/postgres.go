package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ignatij/todoflow/pkg/models"
	"github.com/ignatij/todoflow/pkg/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, errors.New("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return errors.New("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return errors.New("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// insert runs an INSERT ... RETURNING id, mapping unique violations to ErrDuplicate.
func (s *PostgresStore) insert(what, query string, args ...interface{}) (int64, error) {
	var id int64
	if err := s.db.QueryRowx(query, args...).Scan(&id); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return 0, errors.Wrapf(storage.ErrDuplicate, "save %s", what)
		}
		return 0, errors.Wrapf(err, "save %s", what)
	}
	return id, nil
}

// get loads a single row, mapping sql.ErrNoRows to ErrNotFound.
func (s *PostgresStore) get(dest interface{}, query string, args ...interface{}) error {
	err := s.db.Get(dest, query, args...)
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	return err
}

// update runs an UPDATE and reports ErrNotFound when no row matched.
func (s *PostgresStore) update(query string, args ...interface{}) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// where collects SQL conditions with positional arguments.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (s *PostgresStore) SaveProject(p models.Project) (int64, error) {
	return s.insert("project", "INSERT INTO projects (code, label, is_active, created_at) VALUES ($1, $2, $3, $4) RETURNING id",
		p.Code, p.Label, p.IsActive, p.CreatedAt)
}

func (s *PostgresStore) GetProject(id int64) (models.Project, error) {
	var p models.Project
	err := s.get(&p, "SELECT * FROM projects WHERE id = $1", id)
	return p, err
}

func (s *PostgresStore) ListProjects() ([]models.Project, error) {
	projects := []models.Project{}
	err := s.db.Select(&projects, "SELECT * FROM projects ORDER BY id")
	return projects, err
}

func (s *PostgresStore) SaveActor(a models.Actor) (int64, error) {
	return s.insert("actor", "INSERT INTO actors (name, created_at) VALUES ($1, $2) RETURNING id", a.Name, a.CreatedAt)
}

func (s *PostgresStore) GetActor(id int64) (models.Actor, error) {
	var a models.Actor
	err := s.get(&a, "SELECT * FROM actors WHERE id = $1", id)
	return a, err
}

func (s *PostgresStore) ListActors() ([]models.Actor, error) {
	actors := []models.Actor{}
	err := s.db.Select(&actors, "SELECT * FROM actors ORDER BY id")
	return actors, err
}

func (s *PostgresStore) SaveBatch(b models.Batch) (int64, error) {
	return s.insert("batch", "INSERT INTO batches (name, slug, project_id, created_at) VALUES ($1, $2, $3, $4) RETURNING id",
		b.Name, b.Slug, b.ProjectID, b.CreatedAt)
}

func (s *PostgresStore) GetBatch(id int64) (models.Batch, error) {
	var b models.Batch
	err := s.get(&b, "SELECT * FROM batches WHERE id = $1", id)
	return b, err
}

func (s *PostgresStore) GetBatchBySlug(projectID int64, slug string) (models.Batch, error) {
	var b models.Batch
	err := s.get(&b, "SELECT * FROM batches WHERE project_id = $1 AND slug = $2", projectID, slug)
	return b, err
}

func (s *PostgresStore) SaveProto(p models.Proto) (int64, error) {
	return s.insert("proto", `
		INSERT INTO protos (type, summary, owner_id, is_review, allowed_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		p.Type, p.Summary, p.OwnerID, p.IsReview, p.AllowedTime, p.CreatedAt)
}

func (s *PostgresStore) GetProto(id int64) (models.Proto, error) {
	var p models.Proto
	err := s.get(&p, "SELECT * FROM protos WHERE id = $1", id)
	return p, err
}

// ListProtos lists protos of the given type, or all of them for type 0.
func (s *PostgresStore) ListProtos(protoType models.ProtoType) ([]models.Proto, error) {
	protos := []models.Proto{}
	w := &where{}
	if protoType != 0 {
		w.add("type = $%d", protoType)
	}
	err := s.db.Select(&protos, "SELECT * FROM protos"+w.String()+" ORDER BY id", w.args...)
	return protos, err
}

func (s *PostgresStore) SaveNesting(n models.Nesting) (int64, error) {
	return s.insert("nesting", `
		INSERT INTO nestings (parent_id, child_id, position, is_auto_activated, resolves_parent, clone_per_locale, clone_per_project)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		n.ParentID, n.ChildID, n.Order, n.IsAutoActivated, n.ResolvesParent, n.ClonePerLocale, n.ClonePerProject)
}

func (s *PostgresStore) GetNestings(parentID int64) ([]models.Nesting, error) {
	nestings := []models.Nesting{}
	err := s.db.Select(&nestings, "SELECT * FROM nestings WHERE parent_id = $1 ORDER BY position, id", parentID)
	return nestings, err
}

func (s *PostgresStore) SaveTracker(t models.Tracker) (int64, error) {
	return s.insert("tracker", `
		INSERT INTO trackers (prototype_id, parent_id, summary, alias, locale, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		t.PrototypeID, t.ParentID, t.Summary, t.Alias, t.Locale, t.CreatedAt)
}

func (s *PostgresStore) GetTracker(id int64) (models.Tracker, error) {
	var t models.Tracker
	err := s.get(&t, "SELECT * FROM trackers WHERE id = $1", id)
	return t, err
}

func (s *PostgresStore) GetChildTrackers(parentID int64) ([]models.Tracker, error) {
	trackers := []models.Tracker{}
	err := s.db.Select(&trackers, "SELECT * FROM trackers WHERE parent_id = $1 ORDER BY id", parentID)
	return trackers, err
}

func (s *PostgresStore) SaveTask(t models.Task) (int64, error) {
	return s.insert("task", `
		INSERT INTO tasks (prototype_id, parent_id, batch_id, summary, locale, bugid, alias, latest_resolution_ts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		t.PrototypeID, t.ParentID, t.BatchID, t.Summary, t.Locale, t.BugID, t.Alias, t.LatestResolutionTS, t.CreatedAt)
}

func (s *PostgresStore) GetTask(id int64) (models.Task, error) {
	var t models.Task
	err := s.get(&t, "SELECT * FROM tasks WHERE id = $1", id)
	return t, err
}

func (s *PostgresStore) ListTasks(filter models.TaskFilter) ([]models.Task, error) {
	tasks := []models.Task{}
	w := &where{}
	if len(filter.Locales) > 0 {
		w.add("locale = ANY($%d)", pq.Array(filter.Locales))
	}
	if filter.BatchID != nil {
		w.add("batch_id = $%d", *filter.BatchID)
	}
	if filter.ParentID != nil {
		w.add("parent_id = $%d", *filter.ParentID)
	}
	if len(filter.ProjectIDs) > 0 {
		w.add("id IN (SELECT task_id FROM task_in_project WHERE project_id = ANY($%d))", pq.Array(filter.ProjectIDs))
	}
	err := s.db.Select(&tasks, "SELECT * FROM tasks"+w.String()+" ORDER BY id", w.args...)
	return tasks, err
}

func (s *PostgresStore) UpdateTaskResolutionTS(id int64, ts time.Time) error {
	return s.update("UPDATE tasks SET latest_resolution_ts = $1 WHERE id = $2", ts, id)
}

func (s *PostgresStore) SaveTaskInProject(tp models.TaskInProject) (int64, error) {
	return s.insert("task in project", "INSERT INTO task_in_project (task_id, project_id, status, resolution) VALUES ($1, $2, $3, $4) RETURNING id",
		tp.TaskID, tp.ProjectID, tp.Status, tp.Resolution)
}

func (s *PostgresStore) GetTaskStatuses(taskID int64) ([]models.TaskInProject, error) {
	statuses := []models.TaskInProject{}
	err := s.db.Select(&statuses, "SELECT * FROM task_in_project WHERE task_id = $1 ORDER BY id", taskID)
	return statuses, err
}

func (s *PostgresStore) GetTaskInProject(id int64) (models.TaskInProject, error) {
	var tp models.TaskInProject
	err := s.get(&tp, "SELECT * FROM task_in_project WHERE id = $1", id)
	return tp, err
}

func (s *PostgresStore) UpdateTaskInProject(tp models.TaskInProject) error {
	return s.update("UPDATE task_in_project SET status = $1, resolution = $2 WHERE id = $3", tp.Status, tp.Resolution, tp.ID)
}

func (s *PostgresStore) SaveStep(st models.Step) (int64, error) {
	return s.insert("step", `
		INSERT INTO steps (prototype_id, summary, parent_id, task_id, project_id, owner_id, position, status, resolution,
			has_children, is_auto_activated, is_review, resolves_parent, allowed_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15) RETURNING id`,
		st.PrototypeID, st.Summary, st.ParentID, st.TaskID, st.ProjectID, st.OwnerID, st.Order, st.Status, st.Resolution,
		st.HasChildren, st.IsAutoActivated, st.IsReview, st.ResolvesParent, st.AllowedTime, st.CreatedAt)
}

func (s *PostgresStore) GetStep(id int64) (models.Step, error) {
	var st models.Step
	err := s.get(&st, "SELECT * FROM steps WHERE id = $1", id)
	return st, err
}

// UpdateStep writes the mutable workflow fields of a step.
func (s *PostgresStore) UpdateStep(st models.Step) error {
	return s.update(`
		UPDATE steps
		SET summary = $1, owner_id = $2, status = $3, resolution = $4, has_children = $5
		WHERE id = $6`,
		st.Summary, st.OwnerID, st.Status, st.Resolution, st.HasChildren, st.ID)
}

func (s *PostgresStore) GetSteps(taskID int64, parentID *int64) ([]models.Step, error) {
	steps := []models.Step{}
	var err error
	if parentID == nil {
		err = s.db.Select(&steps, "SELECT * FROM steps WHERE task_id = $1 AND parent_id IS NULL ORDER BY position, id", taskID)
	} else {
		err = s.db.Select(&steps, "SELECT * FROM steps WHERE task_id = $1 AND parent_id = $2 ORDER BY position, id", taskID, *parentID)
	}
	return steps, err
}

func (s *PostgresStore) ListNextSteps(filter models.StepFilter) ([]models.Step, error) {
	steps := []models.Step{}
	w := &where{}
	w.add("s.status = $%d", models.NextStatus)
	if len(filter.TaskIDs) > 0 {
		w.add("s.task_id = ANY($%d)", pq.Array(filter.TaskIDs))
	}
	if len(filter.OwnerIDs) > 0 {
		w.add("s.owner_id = ANY($%d)", pq.Array(filter.OwnerIDs))
	}
	if len(filter.Locales) > 0 {
		w.add("t.locale = ANY($%d)", pq.Array(filter.Locales))
	}
	if len(filter.ProjectIDs) > 0 {
		// steps without a project follow the projects of their task
		w.add(`CASE WHEN s.project_id IS NOT NULL THEN s.project_id = ANY($%[1]d)
			ELSE s.task_id IN (SELECT task_id FROM task_in_project WHERE project_id = ANY($%[1]d)) END`,
			pq.Array(filter.ProjectIDs))
	}
	query := "SELECT s.* FROM steps s JOIN tasks t ON t.id = s.task_id" + w.String() + " ORDER BY s.task_id, s.id"
	err := s.db.Select(&steps, query, w.args...)
	return steps, err
}

func (s *PostgresStore) SaveAction(a models.Action) (int64, error) {
	return s.insert("action", "INSERT INTO actions (username, subject_type, subject_id, flag, timestamp) VALUES ($1, $2, $3, $4, $5) RETURNING id",
		a.User, a.SubjectType, a.SubjectID, a.Flag, a.Timestamp)
}

func (s *PostgresStore) GetLatestAction(subjectType models.SubjectType, subjectID int64, flag models.Flag) (models.Action, error) {
	var a models.Action
	err := s.get(&a, `
		SELECT * FROM actions
		WHERE subject_type = $1 AND subject_id = $2 AND flag = $3
		ORDER BY timestamp DESC, id DESC LIMIT 1`,
		subjectType, subjectID, flag)
	return a, err
}

func (s *PostgresStore) ListActions(filter models.ActionFilter) ([]models.Action, error) {
	actions := []models.Action{}
	w := &where{}
	if filter.SubjectType != "" {
		w.add("subject_type = $%d", filter.SubjectType)
	}
	if filter.SubjectID != nil {
		w.add("subject_id = $%d", *filter.SubjectID)
	}
	query := "SELECT * FROM actions" + w.String() + " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		w.args = append(w.args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(w.args))
	}
	err := s.db.Select(&actions, query, w.args...)
	return actions, err
}
