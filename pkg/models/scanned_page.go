package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	PageStatusOK        = "ok"
	PageStatusError     = "error"
	PageStatusSuspended = "suspended"
	PageStatusSubmitted = "submitted"
)

// Error codes recorded on scanned pages. These are data, not Go error types:
// the correction report resolves them to operator-facing messages.
const (
	PageErrorUpsideDown     = "upsidedown"
	PageErrorMissingCorners = "missingcorners"
	PageErrorUser           = "usererror"
	PageErrorGroup          = "grouperror"
	PageErrorDouble         = "doubleerror"
	PageErrorDifferingPage  = "differingpageerror"
	PageErrorMissingPages   = "missingpages"
	PageErrorFatal          = "fatalerror"
	PageErrorInsecure       = "insecureerror"
	PageErrorFileNotFound   = "filenotfound"
)

// PageErrorMessages maps error codes to operator-facing text for the
// correction report.
var PageErrorMessages = map[string]string{
	PageErrorUpsideDown:     "page was scanned upside down",
	PageErrorMissingCorners: "corner reference marks could not be located",
	PageErrorUser:           "userkey not found in the participant roster",
	PageErrorGroup:          "group number out of range",
	PageErrorDouble:         "exact duplicate of an already imported page",
	PageErrorDifferingPage:  "duplicate page with conflicting marks",
	PageErrorMissingPages:   "waiting for the remaining pages of this form",
	PageErrorFatal:          "unrecoverable structural problem",
	PageErrorInsecure:       "page failed integrity checks",
	PageErrorFileNotFound:   "stored page image is missing",
}

// ScannedPage is the recognized record of one physical scanned sheet.
// ResultID is set once the page's choices have been committed.
type ScannedPage struct {
	ID              uuid.UUID  `db:"id"               json:"id"`
	SubjectID       uuid.UUID  `db:"subject_id"       json:"subject_id"`
	ResultID        *uuid.UUID `db:"result_id"        json:"result_id,omitempty"`
	GroupNumber     int        `db:"group_number"     json:"group_number"`
	PageNumber      int        `db:"page_number"      json:"page_number"`
	Userkey         string     `db:"userkey"          json:"userkey"`
	Status          string     `db:"status"           json:"status"`
	ErrorCode       *string    `db:"error_code"       json:"error_code,omitempty"`
	Info            string     `db:"info"             json:"info"`
	Filename        string     `db:"filename"         json:"filename"`
	WarningFilename *string    `db:"warning_filename" json:"warning_filename,omitempty"`
	CreatedAt       time.Time  `db:"created_at"       json:"created_at"`
}

// ErrorMessage resolves the page's error code to operator-facing text.
// Suspended pages always read as waiting, whatever their code.
func (p *ScannedPage) ErrorMessage() string {
	if p.Status == PageStatusSuspended {
		return PageErrorMessages[PageErrorMissingPages]
	}
	if p.ErrorCode == nil {
		return ""
	}
	if msg, ok := PageErrorMessages[*p.ErrorCode]; ok {
		return msg
	}
	return *p.ErrorCode
}

// PageCorner is one of the four reference points located on a scanned page,
// in pixel coordinates of the stored image. Position runs 0..3 in the order
// top-left, top-right, bottom-left, bottom-right.
type PageCorner struct {
	ID       uuid.UUID `db:"id"       json:"id"`
	PageID   uuid.UUID `db:"page_id"  json:"page_id"`
	Position int       `db:"position" json:"position"`
	X        float64   `db:"x"        json:"x"`
	Y        float64   `db:"y"        json:"y"`
}

// Choice is one extracted mark box from a scanned page.
type Choice struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	PageID    uuid.UUID `db:"page_id"    json:"page_id"`
	RowNumber int       `db:"row_number" json:"row_number"`
	BoxNumber int       `db:"box_number" json:"box_number"`
	Checked   bool      `db:"checked"    json:"checked"`
}
