package models

import "time"

type Project struct {
	ID        int64     `json:"id" db:"id"`
	Code      string    `json:"code" db:"code"`
	Label     string    `json:"label" db:"label"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (p Project) String() string {
	if p.Label != "" {
		return p.Label
	}
	return p.Code
}

// Actor owns steps: a person or a team.
type Actor struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Batch groups tasks added to a project together.
type Batch struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	ProjectID int64     `json:"project_id" db:"project_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

const (
	UncategorizedBatchName = "Uncategorized tasks"
	UncategorizedBatchSlug = "uncategorized-tasks"
)
