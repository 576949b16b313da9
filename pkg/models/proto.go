package models

import (
	"fmt"
	"strings"
	"time"
)

type ProtoType int

const (
	TrackerProto ProtoType = 1
	TaskProto    ProtoType = 2
	StepProto    ProtoType = 3
)

func (t ProtoType) String() string {
	switch t {
	case TrackerProto:
		return "tracker"
	case TaskProto:
		return "task"
	case StepProto:
		return "step"
	}
	return fmt.Sprintf("ProtoType(%d)", int(t))
}

func (t ProtoType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ProtoType) UnmarshalText(text []byte) error {
	parsed, err := ParseProtoType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseProtoType(name string) (ProtoType, error) {
	switch strings.ToLower(name) {
	case "tracker":
		return TrackerProto, nil
	case "task":
		return TaskProto, nil
	case "step":
		return StepProto, nil
	}
	return 0, fmt.Errorf("invalid proto type %q", name)
}

// DefaultAllowedTime is the number of days the owner has to complete a step.
const DefaultAllowedTime = 3

// Proto is a reusable template for trackers, tasks and steps.
type Proto struct {
	ID          int64     `json:"id" db:"id"`
	Type        ProtoType `json:"type" db:"type"`
	Summary     string    `json:"summary" db:"summary"`
	OwnerID     *int64    `json:"owner_id,omitempty" db:"owner_id"`         // Default owner of spawned steps
	IsReview    bool      `json:"is_review" db:"is_review"`                 // Spawned steps can fail
	AllowedTime int       `json:"allowed_time" db:"allowed_time"`           // Days, steps only
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Nesting links a parent proto to one of its child protos.
type Nesting struct {
	ID              int64 `json:"id" db:"id"`
	ParentID        int64 `json:"parent_id" db:"parent_id"`
	ChildID         int64 `json:"child_id" db:"child_id"`
	Order           int   `json:"order" db:"position"`
	IsAutoActivated bool  `json:"is_auto_activated" db:"is_auto_activated"`
	ResolvesParent  bool  `json:"resolves_parent" db:"resolves_parent"`
	ClonePerLocale  bool  `json:"clone_per_locale" db:"clone_per_locale"`
	ClonePerProject bool  `json:"clone_per_project" db:"clone_per_project"`
}
