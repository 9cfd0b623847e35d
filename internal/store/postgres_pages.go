package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edumark/sheetscan/pkg/models"
)

const scannedPageColumns = `id, subject_id, result_id, group_number, page_number,
	userkey, status, error_code, info, filename, warning_filename, created_at`

func scanScannedPage(row pgx.Row) (*models.ScannedPage, error) {
	var p models.ScannedPage
	err := row.Scan(&p.ID, &p.SubjectID, &p.ResultID, &p.GroupNumber, &p.PageNumber,
		&p.Userkey, &p.Status, &p.ErrorCode, &p.Info, &p.Filename, &p.WarningFilename, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanScannedPages(rows pgx.Rows) ([]*models.ScannedPage, error) {
	var pages []*models.ScannedPage
	for rows.Next() {
		p, err := scanScannedPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func (s *PostgresStore) CreateScannedPage(ctx context.Context, page *models.ScannedPage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scanned_pages (id, subject_id, result_id, group_number, page_number,
		     userkey, status, error_code, info, filename, warning_filename, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		page.ID, page.SubjectID, page.ResultID, page.GroupNumber, page.PageNumber,
		page.Userkey, page.Status, page.ErrorCode, page.Info, page.Filename,
		page.WarningFilename, page.CreatedAt)
	if err != nil {
		return fmt.Errorf("create scanned page: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetScannedPage(ctx context.Context, id uuid.UUID) (*models.ScannedPage, error) {
	p, err := scanScannedPage(s.pool.QueryRow(ctx,
		`SELECT `+scannedPageColumns+` FROM scanned_pages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scanned page: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) UpdateScannedPage(ctx context.Context, page *models.ScannedPage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scanned_pages SET result_id = $2, group_number = $3, page_number = $4,
		     userkey = $5, status = $6, error_code = $7, info = $8, filename = $9,
		     warning_filename = $10
		 WHERE id = $1`,
		page.ID, page.ResultID, page.GroupNumber, page.PageNumber, page.Userkey,
		page.Status, page.ErrorCode, page.Info, page.Filename, page.WarningFilename)
	if err != nil {
		return fmt.Errorf("update scanned page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindSubmittedPage(ctx context.Context, subjectID uuid.UUID, userkey string, pageNumber int) (*models.ScannedPage, error) {
	p, err := scanScannedPage(s.pool.QueryRow(ctx,
		`SELECT `+scannedPageColumns+` FROM scanned_pages
		 WHERE subject_id = $1 AND userkey = $2 AND page_number = $3 AND status = 'submitted'
		 LIMIT 1`, subjectID, userkey, pageNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find submitted page: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListSubmittedPages(ctx context.Context, subjectID uuid.UUID, userkey string) ([]*models.ScannedPage, error) {
	return s.listPagesByStatus(ctx, subjectID, userkey, models.PageStatusSubmitted)
}

func (s *PostgresStore) ListSuspendedPages(ctx context.Context, subjectID uuid.UUID, userkey string) ([]*models.ScannedPage, error) {
	return s.listPagesByStatus(ctx, subjectID, userkey, models.PageStatusSuspended)
}

func (s *PostgresStore) listPagesByStatus(ctx context.Context, subjectID uuid.UUID, userkey, status string) ([]*models.ScannedPage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scannedPageColumns+` FROM scanned_pages
		 WHERE subject_id = $1 AND userkey = $2 AND status = $3
		 ORDER BY page_number ASC, created_at ASC`, subjectID, userkey, status)
	if err != nil {
		return nil, fmt.Errorf("list %s pages: %w", status, err)
	}
	defer rows.Close()
	return scanScannedPages(rows)
}

// ListErrorPages returns pages needing operator attention (error or
// suspended), with optional initial-letter filtering, sorting and
// pagination. The second return value is the total matching count before
// pagination.
func (s *PostgresStore) ListErrorPages(ctx context.Context, filter ErrorPageFilter) ([]*models.ScannedPage, int, error) {
	conditions := []string{"subject_id = $1", "status IN ('error', 'suspended')"}
	args := []any{filter.SubjectID}

	if filter.Initial != "" {
		args = append(args, filter.Initial+"%")
		conditions = append(conditions, fmt.Sprintf("userkey LIKE $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM scanned_pages WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count error pages: %w", err)
	}

	orderBy := "created_at DESC"
	if filter.SortBy == "userkey" {
		orderBy = "userkey ASC, created_at DESC"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM scanned_pages WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		scannedPageColumns, where, orderBy, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list error pages: %w", err)
	}
	defer rows.Close()

	pages, err := scanScannedPages(rows)
	if err != nil {
		return nil, 0, err
	}
	return pages, total, nil
}

func (s *PostgresStore) SavePageCorners(ctx context.Context, pageID uuid.UUID, corners []models.PageCorner) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save corners: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := saveCornersTx(ctx, tx, pageID, corners); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save corners: %w", err)
	}
	return nil
}

func saveCornersTx(ctx context.Context, tx pgx.Tx, pageID uuid.UUID, corners []models.PageCorner) error {
	if _, err := tx.Exec(ctx, `DELETE FROM page_corners WHERE page_id = $1`, pageID); err != nil {
		return fmt.Errorf("clear corners: %w", err)
	}
	for _, c := range corners {
		if _, err := tx.Exec(ctx,
			`INSERT INTO page_corners (page_id, position, x, y) VALUES ($1, $2, $3, $4)`,
			pageID, c.Position, c.X, c.Y); err != nil {
			return fmt.Errorf("insert corner: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetPageCorners(ctx context.Context, pageID uuid.UUID) ([]*models.PageCorner, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, page_id, position, x, y FROM page_corners
		 WHERE page_id = $1 ORDER BY position ASC`, pageID)
	if err != nil {
		return nil, fmt.Errorf("get page corners: %w", err)
	}
	defer rows.Close()

	var corners []*models.PageCorner
	for rows.Next() {
		var c models.PageCorner
		if err := rows.Scan(&c.ID, &c.PageID, &c.Position, &c.X, &c.Y); err != nil {
			return nil, fmt.Errorf("scan corner: %w", err)
		}
		corners = append(corners, &c)
	}
	return corners, rows.Err()
}

// SaveChoices replaces a page's extracted marks wholesale. Used for
// suspended pages that are committed later, once their siblings arrive.
func (s *PostgresStore) SaveChoices(ctx context.Context, pageID uuid.UUID, choices []models.Choice) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save choices: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM page_choices WHERE page_id = $1`, pageID); err != nil {
		return fmt.Errorf("clear choices: %w", err)
	}
	for _, c := range choices {
		if _, err := tx.Exec(ctx,
			`INSERT INTO page_choices (page_id, row_number, box_number, checked)
			 VALUES ($1, $2, $3, $4)`,
			pageID, c.RowNumber, c.BoxNumber, c.Checked); err != nil {
			return fmt.Errorf("insert choice: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save choices: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetChoices(ctx context.Context, pageID uuid.UUID) ([]*models.Choice, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, page_id, row_number, box_number, checked FROM page_choices
		 WHERE page_id = $1 ORDER BY row_number ASC, box_number ASC`, pageID)
	if err != nil {
		return nil, fmt.Errorf("get choices: %w", err)
	}
	defer rows.Close()

	var choices []*models.Choice
	for rows.Next() {
		var c models.Choice
		if err := rows.Scan(&c.ID, &c.PageID, &c.RowNumber, &c.BoxNumber, &c.Checked); err != nil {
			return nil, fmt.Errorf("scan choice: %w", err)
		}
		choices = append(choices, &c)
	}
	return choices, rows.Err()
}

// CommitPage stores a page's recognized marks and wires it to its result.
// The result row is created on first contact and locked for the duration of
// the transaction, so concurrent commits for the same participant serialize
// here. Completeness is reached when the number of distinct submitted page
// numbers equals expectedPages.
func (s *PostgresStore) CommitPage(ctx context.Context, page *models.ScannedPage, choices []models.Choice, corners []models.PageCorner, expectedPages int) (*models.Result, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin commit page: %w", err)
	}
	defer tx.Rollback(ctx)

	var result models.Result
	err = tx.QueryRow(ctx,
		`INSERT INTO results (subject_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT (subject_id, user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING id, subject_id, user_id, status, sum_marks, finished_at, created_at`,
		page.SubjectID, page.Userkey,
	).Scan(&result.ID, &result.SubjectID, &result.UserID, &result.Status,
		&result.SumMarks, &result.FinishedAt, &result.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert result: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`SELECT id FROM results WHERE id = $1 FOR UPDATE`, result.ID); err != nil {
		return nil, fmt.Errorf("lock result: %w", err)
	}

	page.ResultID = &result.ID
	page.Status = models.PageStatusSubmitted
	page.ErrorCode = nil

	tag, err := tx.Exec(ctx,
		`UPDATE scanned_pages SET result_id = $2, group_number = $3, page_number = $4,
		     userkey = $5, status = 'submitted', error_code = NULL, info = $6,
		     filename = $7, warning_filename = $8
		 WHERE id = $1`,
		page.ID, page.ResultID, page.GroupNumber, page.PageNumber, page.Userkey,
		page.Info, page.Filename, page.WarningFilename)
	if err != nil {
		return nil, fmt.Errorf("submit page: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM page_choices WHERE page_id = $1`, page.ID); err != nil {
		return nil, fmt.Errorf("clear choices: %w", err)
	}
	for _, c := range choices {
		if _, err := tx.Exec(ctx,
			`INSERT INTO page_choices (page_id, row_number, box_number, checked)
			 VALUES ($1, $2, $3, $4)`,
			page.ID, c.RowNumber, c.BoxNumber, c.Checked); err != nil {
			return nil, fmt.Errorf("insert choice: %w", err)
		}
	}
	if err := saveCornersTx(ctx, tx, page.ID, corners); err != nil {
		return nil, err
	}

	// Recompute the aggregate from all submitted pages of this result so
	// re-imports of a corrected page stay idempotent.
	var sumMarks, distinctPages int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN pc.checked THEN 1 ELSE 0 END), 0),
		        COUNT(DISTINCT sp.page_number)
		 FROM scanned_pages sp
		 LEFT JOIN page_choices pc ON pc.page_id = sp.id
		 WHERE sp.result_id = $1 AND sp.status = 'submitted'`, result.ID,
	).Scan(&sumMarks, &distinctPages)
	if err != nil {
		return nil, fmt.Errorf("recompute result: %w", err)
	}

	status := models.ResultStatusNew
	if distinctPages >= expectedPages {
		status = models.ResultStatusComplete
	}
	err = tx.QueryRow(ctx,
		`UPDATE results SET sum_marks = $2, status = $3,
		     finished_at = CASE WHEN $3 = 'complete' THEN NOW() ELSE NULL END
		 WHERE id = $1
		 RETURNING id, subject_id, user_id, status, sum_marks, finished_at, created_at`,
		result.ID, sumMarks, status,
	).Scan(&result.ID, &result.SubjectID, &result.UserID, &result.Status,
		&result.SumMarks, &result.FinishedAt, &result.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("finalize result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit page tx: %w", err)
	}
	return &result, nil
}

// DeleteScannedPage removes a page and everything hanging off it. Choices
// and corners go by foreign key cascade; the owning result goes too when
// this was its last page, otherwise its aggregate is recomputed. Blob
// filenames are returned for the caller to remove after the transaction,
// since file deletion cannot roll back.
func (s *PostgresStore) DeleteScannedPage(ctx context.Context, pageID uuid.UUID) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin delete page: %w", err)
	}
	defer tx.Rollback(ctx)

	var resultID *uuid.UUID
	var filename string
	var warningFilename *string
	err = tx.QueryRow(ctx,
		`SELECT result_id, filename, warning_filename FROM scanned_pages WHERE id = $1 FOR UPDATE`,
		pageID,
	).Scan(&resultID, &filename, &warningFilename)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load page for delete: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM scanned_pages WHERE id = $1`, pageID); err != nil {
		return nil, fmt.Errorf("delete page: %w", err)
	}

	if resultID != nil {
		var remaining int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM scanned_pages WHERE result_id = $1`, *resultID,
		).Scan(&remaining)
		if err != nil {
			return nil, fmt.Errorf("count remaining pages: %w", err)
		}
		if remaining == 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM results WHERE id = $1`, *resultID); err != nil {
				return nil, fmt.Errorf("delete orphaned result: %w", err)
			}
		} else {
			var sumMarks int
			err = tx.QueryRow(ctx,
				`SELECT COALESCE(SUM(CASE WHEN pc.checked THEN 1 ELSE 0 END), 0)
				 FROM scanned_pages sp
				 LEFT JOIN page_choices pc ON pc.page_id = sp.id
				 WHERE sp.result_id = $1 AND sp.status = 'submitted'`, *resultID,
			).Scan(&sumMarks)
			if err != nil {
				return nil, fmt.Errorf("recompute after delete: %w", err)
			}
			if _, err := tx.Exec(ctx,
				`UPDATE results SET sum_marks = $2, status = 'new', finished_at = NULL
				 WHERE id = $1`, *resultID, sumMarks); err != nil {
				return nil, fmt.Errorf("demote result: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit delete page: %w", err)
	}

	files := []string{}
	if filename != "" {
		files = append(files, filename)
	}
	if warningFilename != nil && *warningFilename != "" {
		files = append(files, *warningFilename)
	}
	return files, nil
}

// --- Results ---

func (s *PostgresStore) GetResult(ctx context.Context, id uuid.UUID) (*models.Result, error) {
	var r models.Result
	err := s.pool.QueryRow(ctx,
		`SELECT id, subject_id, user_id, status, sum_marks, finished_at, created_at
		 FROM results WHERE id = $1`, id,
	).Scan(&r.ID, &r.SubjectID, &r.UserID, &r.Status, &r.SumMarks, &r.FinishedAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) GetResultByUser(ctx context.Context, subjectID uuid.UUID, userID string) (*models.Result, error) {
	var r models.Result
	err := s.pool.QueryRow(ctx,
		`SELECT id, subject_id, user_id, status, sum_marks, finished_at, created_at
		 FROM results WHERE subject_id = $1 AND user_id = $2`, subjectID, userID,
	).Scan(&r.ID, &r.SubjectID, &r.UserID, &r.Status, &r.SumMarks, &r.FinishedAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result by user: %w", err)
	}
	return &r, nil
}
