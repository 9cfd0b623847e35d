package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusNew        = "new"
	JobStatusProcessing = "processing"
	JobStatusDone       = "done"
	JobStatusError      = "error"
)

const (
	JobFileStatusNew        = "new"
	JobFileStatusProcessing = "processing"
	JobFileStatusOK         = "ok"
	JobFileStatusError      = "error"
)

// Job is one upload batch of scanned pages. The API returns the job on
// POST /uploads; the client polls GET /jobs/{id} until status is done or error.
type Job struct {
	ID         uuid.UUID  `db:"id"          json:"id"`
	SubjectID  uuid.UUID  `db:"subject_id"  json:"subject_id"`
	Creator    string     `db:"creator"     json:"creator"`
	Status     string     `db:"status"      json:"status"`
	TempDir    string     `db:"temp_dir"    json:"-"`
	CreatedAt  time.Time  `db:"created_at"  json:"created_at"`
	StartedAt  *time.Time `db:"started_at"  json:"started_at,omitempty"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// JobFile is a single unpacked page file within a job. Its status only moves
// forward: new -> processing -> ok|error.
type JobFile struct {
	ID       uuid.UUID `db:"id"       json:"id"`
	JobID    uuid.UUID `db:"job_id"   json:"job_id"`
	Filename string    `db:"filename" json:"filename"`
	Position int       `db:"position" json:"position"`
	Status   string    `db:"status"   json:"status"`
}

// JobCounts aggregates per-status file counts for the job summary endpoint.
type JobCounts struct {
	Total      int `json:"total"`
	New        int `json:"new"`
	Processing int `json:"processing"`
	OK         int `json:"ok"`
	Error      int `json:"error"`
}

// Terminal reports whether every file has reached a final status.
func (c JobCounts) Terminal() bool {
	return c.New == 0 && c.Processing == 0
}
