package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ResultStatusNew      = "new"
	ResultStatusComplete = "complete"
)

// Result is the aggregate outcome for one participant across all their
// scanned pages. Created lazily when the first page for (subject, user) is
// committed, deleted when the last page referencing it goes.
type Result struct {
	ID         uuid.UUID  `db:"id"          json:"id"`
	SubjectID  uuid.UUID  `db:"subject_id"  json:"subject_id"`
	UserID     string     `db:"user_id"     json:"user_id"`
	Status     string     `db:"status"      json:"status"`
	SumMarks   int        `db:"sum_marks"   json:"sum_marks"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at"  json:"created_at"`
}
