package models

import "time"

// Tracker groups tasks and other trackers.
type Tracker struct {
	ID          int64     `json:"id" db:"id"`
	PrototypeID *int64    `json:"prototype_id,omitempty" db:"prototype_id"`
	ParentID    *int64    `json:"parent_id,omitempty" db:"parent_id"`
	Summary     string    `json:"summary" db:"summary"`
	Alias       string    `json:"alias" db:"alias"`
	Locale      string    `json:"locale,omitempty" db:"locale"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	Trackers    []Tracker `json:"trackers,omitempty"` // Populated at runtime
	Tasks       []Task    `json:"tasks,omitempty"`    // Populated at runtime
}

// JoinAlias builds a breadcrumb alias from a parent alias and a suffix.
func JoinAlias(prefix, suffix string) string {
	bits := make([]string, 0, 2)
	for _, bit := range []string{prefix, suffix} {
		if bit != "" {
			bits = append(bits, bit)
		}
	}
	switch len(bits) {
	case 0:
		return ""
	case 1:
		return bits[0]
	}
	return bits[0] + "-" + bits[1]
}
