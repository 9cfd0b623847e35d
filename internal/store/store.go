package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/edumark/sheetscan/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when a job or job file status update would
// move backwards. Statuses only ever advance.
var ErrInvalidTransition = errors.New("invalid status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetSubject(ctx context.Context, id uuid.UUID) (*models.Subject, error)
	GetDefaultSubject(ctx context.Context) (*models.Subject, error)
	CreateSubject(ctx context.Context, subject *models.Subject) error

	CreateParticipantList(ctx context.Context, list *models.ParticipantList) error
	GetParticipantList(ctx context.Context, id uuid.UUID) (*models.ParticipantList, error)
	ListParticipantLists(ctx context.Context, subjectID uuid.UUID) ([]*models.ParticipantList, error)
	SetListFilename(ctx context.Context, listID uuid.UUID, filename *string) error
	CreateParticipants(ctx context.Context, participants []*models.Participant) error
	ListParticipants(ctx context.Context, listID uuid.UUID) ([]*models.Participant, error)
	FindParticipantsByUserkey(ctx context.Context, subjectID uuid.UUID, userkey uint32) ([]*models.Participant, error)
	FindParticipantsByUserID(ctx context.Context, subjectID uuid.UUID, userID string) ([]*models.Participant, error)
	SetParticipantChecked(ctx context.Context, participantID uuid.UUID, checked bool) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string) error
	ClaimNextJob(ctx context.Context) (*models.Job, error)
	// ReleaseJob returns a claimed job to the queue so another worker can
	// pick it up, for example during shutdown.
	ReleaseJob(ctx context.Context, id uuid.UUID) error
	// TouchJob renews a processing job's claim so it is not treated as
	// abandoned while a worker is still making progress on it.
	TouchJob(ctx context.Context, id uuid.UUID) error
	// ResetProcessingFiles requeues files a previous worker left mid-flight
	// so a reclaimed job processes them again.
	ResetProcessingFiles(ctx context.Context, jobID uuid.UUID) error
	AddJobFiles(ctx context.Context, files []*models.JobFile) error
	NextFileBatch(ctx context.Context, jobID uuid.UUID, afterPosition, limit int) ([]*models.JobFile, error)
	MarkJobFile(ctx context.Context, fileID uuid.UUID, status string) error
	JobCounts(ctx context.Context, jobID uuid.UUID) (models.JobCounts, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error

	CreateScannedPage(ctx context.Context, page *models.ScannedPage) error
	GetScannedPage(ctx context.Context, id uuid.UUID) (*models.ScannedPage, error)
	UpdateScannedPage(ctx context.Context, page *models.ScannedPage) error
	FindSubmittedPage(ctx context.Context, subjectID uuid.UUID, userkey string, pageNumber int) (*models.ScannedPage, error)
	ListSubmittedPages(ctx context.Context, subjectID uuid.UUID, userkey string) ([]*models.ScannedPage, error)
	ListSuspendedPages(ctx context.Context, subjectID uuid.UUID, userkey string) ([]*models.ScannedPage, error)
	ListErrorPages(ctx context.Context, filter ErrorPageFilter) ([]*models.ScannedPage, int, error)
	SavePageCorners(ctx context.Context, pageID uuid.UUID, corners []models.PageCorner) error
	GetPageCorners(ctx context.Context, pageID uuid.UUID) ([]*models.PageCorner, error)
	SaveChoices(ctx context.Context, pageID uuid.UUID, choices []models.Choice) error
	GetChoices(ctx context.Context, pageID uuid.UUID) ([]*models.Choice, error)

	// CommitPage persists a page's choices and corners, attaches or lazily
	// creates the owning result, recomputes its aggregate and completeness,
	// and flips the page to submitted, all in one transaction.
	CommitPage(ctx context.Context, page *models.ScannedPage, choices []models.Choice, corners []models.PageCorner, expectedPages int) (*models.Result, error)

	// DeleteScannedPage removes the page with its choices and corners and,
	// if no pages remain for the owning result, the result too, all in one
	// transaction. It returns the blob filenames the caller must remove.
	DeleteScannedPage(ctx context.Context, pageID uuid.UUID) ([]string, error)

	GetResult(ctx context.Context, id uuid.UUID) (*models.Result, error)
	GetResultByUser(ctx context.Context, subjectID uuid.UUID, userID string) (*models.Result, error)
}

// ErrorPageFilter selects scanned pages for the correction report.
// Initial, when set, keeps only pages whose userkey starts with that rune.
// Page is 1-based; 0 and 1 both mean the first page.
type ErrorPageFilter struct {
	SubjectID uuid.UUID
	Initial   string
	SortBy    string // "time" (default) or "userkey"
	Page      int
	Limit     int
}
