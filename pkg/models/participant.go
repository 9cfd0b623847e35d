package models

import (
	"time"

	"github.com/google/uuid"
)

// Subject is the minimal owning record for an attendance instance. The
// surrounding course/enrollment framework lives elsewhere; the scanner only
// needs the group count and the expected pages per form.
type Subject struct {
	ID            uuid.UUID `db:"id"             json:"id"`
	Name          string    `db:"name"           json:"name"`
	NumGroups     int       `db:"num_groups"     json:"num_groups"`
	PagesPerForm  int       `db:"pages_per_form" json:"pages_per_form"`
	SheetsCreated bool      `db:"sheets_created" json:"sheets_created"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
}

// ParticipantList is a named roster snapshot used both to print sign-in
// sheets and to validate incoming scans. Filename points at the generated
// PDF in the blob store and is nil until the sheet has been rendered.
type ParticipantList struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	SubjectID  uuid.UUID `db:"subject_id"  json:"subject_id"`
	Name       string    `db:"name"        json:"name"`
	ListNumber int       `db:"list_number" json:"list_number"`
	Filename   *string   `db:"filename"    json:"filename,omitempty"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
}

// Participant is one roster row. Userkey is the numeric value encoded in the
// userkey strip on the participant's printed form.
type Participant struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	ListID    uuid.UUID `db:"list_id"    json:"list_id"`
	UserID    string    `db:"user_id"    json:"user_id"`
	Userkey   uint32    `db:"userkey"    json:"userkey"`
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name"  json:"last_name"`
	Checked   bool      `db:"checked"    json:"checked"`
}
