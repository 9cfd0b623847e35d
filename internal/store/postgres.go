package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edumark/sheetscan/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Subjects ---

func (s *PostgresStore) GetSubject(ctx context.Context, id uuid.UUID) (*models.Subject, error) {
	var sub models.Subject
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, num_groups, pages_per_form, sheets_created, created_at
		 FROM subjects WHERE id = $1`, id,
	).Scan(&sub.ID, &sub.Name, &sub.NumGroups, &sub.PagesPerForm, &sub.SheetsCreated, &sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subject: %w", err)
	}
	return &sub, nil
}

func (s *PostgresStore) GetDefaultSubject(ctx context.Context) (*models.Subject, error) {
	var sub models.Subject
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, num_groups, pages_per_form, sheets_created, created_at
		 FROM subjects WHERE name = 'default' LIMIT 1`,
	).Scan(&sub.ID, &sub.Name, &sub.NumGroups, &sub.PagesPerForm, &sub.SheetsCreated, &sub.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default subject: %w", err)
	}
	return &sub, nil
}

func (s *PostgresStore) CreateSubject(ctx context.Context, subject *models.Subject) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subjects (id, name, num_groups, pages_per_form, sheets_created, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		subject.ID, subject.Name, subject.NumGroups, subject.PagesPerForm, subject.SheetsCreated, subject.CreatedAt)
	if err != nil {
		return fmt.Errorf("create subject: %w", err)
	}
	return nil
}

// --- Participant lists ---

func (s *PostgresStore) CreateParticipantList(ctx context.Context, list *models.ParticipantList) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO participant_lists (id, subject_id, name, list_number, filename, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		list.ID, list.SubjectID, list.Name, list.ListNumber, list.Filename, list.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create participant list: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetParticipantList(ctx context.Context, id uuid.UUID) (*models.ParticipantList, error) {
	var l models.ParticipantList
	err := s.pool.QueryRow(ctx,
		`SELECT id, subject_id, name, list_number, filename, created_at
		 FROM participant_lists WHERE id = $1`, id,
	).Scan(&l.ID, &l.SubjectID, &l.Name, &l.ListNumber, &l.Filename, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get participant list: %w", err)
	}
	return &l, nil
}

func (s *PostgresStore) ListParticipantLists(ctx context.Context, subjectID uuid.UUID) ([]*models.ParticipantList, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, subject_id, name, list_number, filename, created_at
		 FROM participant_lists WHERE subject_id = $1 ORDER BY list_number ASC`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list participant lists: %w", err)
	}
	defer rows.Close()

	var lists []*models.ParticipantList
	for rows.Next() {
		var l models.ParticipantList
		if err := rows.Scan(&l.ID, &l.SubjectID, &l.Name, &l.ListNumber, &l.Filename, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan participant list: %w", err)
		}
		lists = append(lists, &l)
	}
	return lists, rows.Err()
}

func (s *PostgresStore) SetListFilename(ctx context.Context, listID uuid.UUID, filename *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE participant_lists SET filename = $2 WHERE id = $1`, listID, filename)
	if err != nil {
		return fmt.Errorf("set list filename: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Participants ---

func (s *PostgresStore) CreateParticipants(ctx context.Context, participants []*models.Participant) error {
	if len(participants) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range participants {
		batch.Queue(
			`INSERT INTO participants (id, list_id, user_id, userkey, first_name, last_name, checked)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.ID, p.ListID, p.UserID, int64(p.Userkey), p.FirstName, p.LastName, p.Checked)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range participants {
		if _, err := br.Exec(); err != nil {
			if isDuplicateKeyError(err) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("create participants: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, listID uuid.UUID) ([]*models.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, list_id, user_id, userkey, first_name, last_name, checked
		 FROM participants WHERE list_id = $1 ORDER BY last_name, first_name`, listID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()
	return scanParticipants(rows)
}

func (s *PostgresStore) FindParticipantsByUserkey(ctx context.Context, subjectID uuid.UUID, userkey uint32) ([]*models.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.list_id, p.user_id, p.userkey, p.first_name, p.last_name, p.checked
		 FROM participants p
		 JOIN participant_lists pl ON p.list_id = pl.id
		 WHERE pl.subject_id = $1 AND p.userkey = $2`, subjectID, int64(userkey))
	if err != nil {
		return nil, fmt.Errorf("find participants by userkey: %w", err)
	}
	defer rows.Close()
	return scanParticipants(rows)
}

func (s *PostgresStore) FindParticipantsByUserID(ctx context.Context, subjectID uuid.UUID, userID string) ([]*models.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.list_id, p.user_id, p.userkey, p.first_name, p.last_name, p.checked
		 FROM participants p
		 JOIN participant_lists pl ON p.list_id = pl.id
		 WHERE pl.subject_id = $1 AND p.user_id = $2`, subjectID, userID)
	if err != nil {
		return nil, fmt.Errorf("find participants by user id: %w", err)
	}
	defer rows.Close()
	return scanParticipants(rows)
}

func (s *PostgresStore) SetParticipantChecked(ctx context.Context, participantID uuid.UUID, checked bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE participants SET checked = $2 WHERE id = $1`, participantID, checked)
	if err != nil {
		return fmt.Errorf("set participant checked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanParticipants(rows pgx.Rows) ([]*models.Participant, error) {
	var parts []*models.Participant
	for rows.Next() {
		var p models.Participant
		var key int64
		if err := rows.Scan(&p.ID, &p.ListID, &p.UserID, &key, &p.FirstName, &p.LastName, &p.Checked); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.Userkey = uint32(key)
		parts = append(parts, &p)
	}
	return parts, rows.Err()
}

// --- Jobs ---

var validJobTransitions = map[string][]string{
	models.JobStatusNew:        {models.JobStatusProcessing},
	models.JobStatusProcessing: {models.JobStatusDone, models.JobStatusError},
}

var validJobFileTransitions = map[string][]string{
	models.JobFileStatusNew:        {models.JobFileStatusProcessing},
	models.JobFileStatusProcessing: {models.JobFileStatusOK, models.JobFileStatusError},
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO import_jobs (id, subject_id, creator, status, temp_dir, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.SubjectID, job.Creator, job.Status, job.TempDir, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var j models.Job
	err := s.pool.QueryRow(ctx,
		`SELECT id, subject_id, creator, status, temp_dir, created_at, started_at, finished_at
		 FROM import_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.SubjectID, &j.Creator, &j.Status, &j.TempDir, &j.CreatedAt, &j.StartedAt, &j.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string) error {
	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM import_jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	if !transitionAllowed(validJobTransitions, currentStatus, status) {
		return fmt.Errorf("%w: job %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	query := `UPDATE import_jobs SET status = $2`
	if status == models.JobStatusProcessing {
		query += `, started_at = NOW()`
	}
	if status == models.JobStatusDone || status == models.JobStatusError {
		query += `, finished_at = NOW()`
	}
	query += ` WHERE id = $1`

	if _, err := s.pool.Exec(ctx, query, id, status); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// staleClaimAfter is how long a processing job may go without a claim
// renewal before another worker may take it over. Workers renew via
// TouchJob once per file batch, so a healthy job never gets this old.
const staleClaimAfter = 15 * time.Minute

// ClaimNextJob atomically flips the oldest claimable job to processing and
// returns it. Claimable means status new, or status processing with a claim
// older than staleClaimAfter, which covers workers that crashed mid-job.
// Returns ErrNotFound when the queue is empty. SKIP LOCKED keeps concurrent
// workers from claiming the same job.
func (s *PostgresStore) ClaimNextJob(ctx context.Context) (*models.Job, error) {
	var j models.Job
	err := s.pool.QueryRow(ctx,
		`UPDATE import_jobs SET status = 'processing', started_at = NOW()
		 WHERE id = (
		     SELECT id FROM import_jobs
		     WHERE status = 'new'
		        OR (status = 'processing' AND started_at < NOW() - $1::interval)
		     ORDER BY created_at ASC
		     FOR UPDATE SKIP LOCKED
		     LIMIT 1
		 )
		 RETURNING id, subject_id, creator, status, temp_dir, created_at, started_at, finished_at`,
		staleClaimAfter,
	).Scan(&j.ID, &j.SubjectID, &j.Creator, &j.Status, &j.TempDir, &j.CreatedAt, &j.StartedAt, &j.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return &j, nil
}

// ReleaseJob puts a claimed job back into the queue. This is the one
// backward transition jobs may take; it exists so a shutting-down worker
// can hand its job to a later one instead of failing it.
func (s *PostgresStore) ReleaseJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_jobs SET status = 'new', started_at = NULL
		 WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchJob renews a processing job's claim timestamp.
func (s *PostgresStore) TouchJob(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE import_jobs SET started_at = NOW()
		 WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return fmt.Errorf("touch job: %w", err)
	}
	return nil
}

// ResetProcessingFiles requeues files an interrupted worker left mid-flight.
// Called when a job is claimed so a takeover re-reads those pages.
func (s *PostgresStore) ResetProcessingFiles(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE import_job_files SET status = 'new'
		 WHERE job_id = $1 AND status = 'processing'`, jobID)
	if err != nil {
		return fmt.Errorf("reset processing files: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddJobFiles(ctx context.Context, files []*models.JobFile) error {
	if len(files) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, f := range files {
		batch.Queue(
			`INSERT INTO import_job_files (id, job_id, filename, position, status)
			 VALUES ($1, $2, $3, $4, $5)`,
			f.ID, f.JobID, f.Filename, f.Position, f.Status)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range files {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("add job files: %w", err)
		}
	}
	return nil
}

// NextFileBatch returns up to limit files after the given position, in strict
// unpack order. The position cursor makes processing resumable.
func (s *PostgresStore) NextFileBatch(ctx context.Context, jobID uuid.UUID, afterPosition, limit int) ([]*models.JobFile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, filename, position, status
		 FROM import_job_files
		 WHERE job_id = $1 AND position > $2
		 ORDER BY position ASC LIMIT $3`, jobID, afterPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("next file batch: %w", err)
	}
	defer rows.Close()

	var files []*models.JobFile
	for rows.Next() {
		var f models.JobFile
		if err := rows.Scan(&f.ID, &f.JobID, &f.Filename, &f.Position, &f.Status); err != nil {
			return nil, fmt.Errorf("scan job file: %w", err)
		}
		files = append(files, &f)
	}
	return files, rows.Err()
}

func (s *PostgresStore) MarkJobFile(ctx context.Context, fileID uuid.UUID, status string) error {
	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM import_job_files WHERE id = $1`, fileID).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job file status: %w", err)
	}

	if !transitionAllowed(validJobFileTransitions, currentStatus, status) {
		return fmt.Errorf("%w: job file %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE import_job_files SET status = $2 WHERE id = $1`, fileID, status); err != nil {
		return fmt.Errorf("mark job file: %w", err)
	}
	return nil
}

func (s *PostgresStore) JobCounts(ctx context.Context, jobID uuid.UUID) (models.JobCounts, error) {
	var c models.JobCounts
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'new'),
		        COUNT(*) FILTER (WHERE status = 'processing'),
		        COUNT(*) FILTER (WHERE status = 'ok'),
		        COUNT(*) FILTER (WHERE status = 'error')
		 FROM import_job_files WHERE job_id = $1`, jobID,
	).Scan(&c.Total, &c.New, &c.Processing, &c.OK, &c.Error)
	if err != nil {
		return models.JobCounts{}, fmt.Errorf("job counts: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM import_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func transitionAllowed(transitions map[string][]string, from, to string) bool {
	for _, a := range transitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
