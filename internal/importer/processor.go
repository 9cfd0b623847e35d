package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/edumark/sheetscan/internal/blob"
	"github.com/edumark/sheetscan/internal/scan"
	"github.com/edumark/sheetscan/internal/store"
	"github.com/edumark/sheetscan/pkg/models"
)

// ErrPageNotCorrectable is returned when a correction targets a page that
// already committed.
var ErrPageNotCorrectable = errors.New("page is not in a correctable state")

// Processor runs one page file through normalize, recognize, validate and
// commit. Every failure is recorded on the page or job file, never
// propagated as a job abort.
type Processor struct {
	store     store.Store
	blobs     blob.Store
	scanner   *scan.Scanner
	matcher   *Matcher
	committer *Committer
	logger    *slog.Logger
}

func NewProcessor(s store.Store, blobs blob.Store, scanner *scan.Scanner, matcher *Matcher, committer *Committer, logger *slog.Logger) *Processor {
	return &Processor{
		store:     s,
		blobs:     blobs,
		scanner:   scanner,
		matcher:   matcher,
		committer: committer,
		logger:    logger,
	}
}

// ProcessFile ingests one unpacked page image. A nil return means the page
// committed or was suspended waiting for its siblings; a non-nil return
// means the file failed and, where the image was readable, an error page
// now sits in the correction report.
func (p *Processor) ProcessFile(ctx context.Context, subject *models.Subject, path string) error {
	img, err := scan.NormalizeFile(path)
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}

	rec, err := p.scanner.Recognize(img)
	if err != nil {
		code := models.PageErrorFatal
		switch {
		case errors.Is(err, scan.ErrUpsideDown):
			code = models.PageErrorUpsideDown
		case errors.Is(err, scan.ErrMissingCorners):
			code = models.PageErrorMissingCorners
		}
		if recordErr := p.recordUnrecognized(ctx, subject, img, code, err.Error()); recordErr != nil {
			return recordErr
		}
		return fmt.Errorf("recognize: %w", err)
	}

	page := &models.ScannedPage{
		ID:          uuid.New(),
		SubjectID:   subject.ID,
		GroupNumber: rec.Group,
		PageNumber:  rec.Page,
		Userkey:     strconv.FormatUint(uint64(rec.Userkey), 10),
		Status:      models.PageStatusOK,
		CreatedAt:   time.Now().UTC(),
	}
	choices := recognitionChoices(page.ID, rec)
	corners := recognitionCorners(page.ID, rec)

	verdict, err := p.matcher.Validate(ctx, subject, page, choices)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	if err := p.storePageImage(ctx, page, img); err != nil {
		return err
	}

	if verdict.ErrorCode != "" {
		page.Status = models.PageStatusError
		page.ErrorCode = &verdict.ErrorCode
		page.Info = verdict.Info
		if err := p.createWithMarks(ctx, page, choices, corners); err != nil {
			return err
		}
		return fmt.Errorf("page %s: %s", page.ID, verdict.ErrorCode)
	}

	if verdict.Suspend {
		if err := p.store.CreateScannedPage(ctx, page); err != nil {
			return fmt.Errorf("create page: %w", err)
		}
		if err := p.committer.Suspend(ctx, page, choices, corners); err != nil {
			return err
		}
		p.logger.Info("page suspended awaiting siblings",
			"page_id", page.ID, "userkey", page.Userkey, "page_number", page.PageNumber)
		return nil
	}

	if err := p.store.CreateScannedPage(ctx, page); err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	result, err := p.committer.Commit(ctx, subject, page, choices, corners)
	if err != nil {
		return err
	}
	p.markRosterChecked(ctx, page, verdict.Participant)
	p.logger.Info("page committed",
		"page_id", page.ID, "userkey", page.Userkey, "result_status", result.Status)
	return nil
}

// markRosterChecked flips the roster row's checked flag once the page
// committed. The flag feeds the CSV export; losing the update is not worth
// failing an already committed page over.
func (p *Processor) markRosterChecked(ctx context.Context, page *models.ScannedPage, participant *models.Participant) {
	if participant == nil {
		return
	}
	if err := p.store.SetParticipantChecked(ctx, participant.ID, true); err != nil {
		p.logger.Warn("could not mark participant checked",
			"page_id", page.ID, "participant_id", participant.ID, "error", err)
	}
}

// Correct re-runs validation and commit for an error or suspended page with
// operator-supplied userkey and group. The page's stored marks and corners
// are reused; the image is not re-recognized.
func (p *Processor) Correct(ctx context.Context, subject *models.Subject, pageID uuid.UUID, userkey string, group int) (*models.ScannedPage, error) {
	page, err := p.store.GetScannedPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if page.Status != models.PageStatusError && page.Status != models.PageStatusSuspended {
		return nil, ErrPageNotCorrectable
	}

	page.Userkey = userkey
	page.GroupNumber = group

	storedChoices, err := p.store.GetChoices(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("load choices: %w", err)
	}
	choices := derefChoices(storedChoices)
	storedCorners, err := p.store.GetPageCorners(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("load corners: %w", err)
	}
	corners := derefCorners(storedCorners)

	verdict, err := p.matcher.Validate(ctx, subject, page, choices)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	switch {
	case verdict.ErrorCode != "":
		page.Status = models.PageStatusError
		page.ErrorCode = &verdict.ErrorCode
		page.Info = verdict.Info
		if err := p.store.UpdateScannedPage(ctx, page); err != nil {
			return nil, fmt.Errorf("update page: %w", err)
		}
	case verdict.Suspend:
		if err := p.committer.Suspend(ctx, page, choices, corners); err != nil {
			return nil, err
		}
	default:
		if _, err := p.committer.Commit(ctx, subject, page, choices, corners); err != nil {
			return nil, err
		}
		p.markRosterChecked(ctx, page, verdict.Participant)
	}
	return page, nil
}

// CorrectPage resolves the owning subject and applies Correct.
func (p *Processor) CorrectPage(ctx context.Context, pageID uuid.UUID, userkey string, group int) (*models.ScannedPage, error) {
	page, err := p.store.GetScannedPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	subject, err := p.store.GetSubject(ctx, page.SubjectID)
	if err != nil {
		return nil, err
	}
	return p.Correct(ctx, subject, pageID, userkey, group)
}

// DeletePage removes a page with its marks, corners, image files and, when
// it was the user's last page, the owning result.
func (p *Processor) DeletePage(ctx context.Context, pageID uuid.UUID) error {
	filenames, err := p.store.DeleteScannedPage(ctx, pageID)
	if err != nil {
		return err
	}
	for _, name := range filenames {
		if err := p.blobs.Delete(name); err != nil {
			p.logger.Warn("could not delete page blob", "filename", name, "error", err)
		}
	}
	return nil
}

// recordUnrecognized persists an error page for an image the scanner could
// not decode, so the failure shows up in the correction report. Upside-down
// pages also get a rotated warning image as an operator aid.
func (p *Processor) recordUnrecognized(ctx context.Context, subject *models.Subject, img *image.Gray, code, info string) error {
	page := &models.ScannedPage{
		ID:        uuid.New(),
		SubjectID: subject.ID,
		Status:    models.PageStatusError,
		ErrorCode: &code,
		Info:      info,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.storePageImage(ctx, page, img); err != nil {
		return err
	}
	if code == models.PageErrorUpsideDown {
		name := fmt.Sprintf("%s_rotated.png", page.ID)
		if err := p.putImage(name, scan.Rotate180(img)); err != nil {
			return err
		}
		page.WarningFilename = &name
	}
	if err := p.store.CreateScannedPage(ctx, page); err != nil {
		return fmt.Errorf("create error page: %w", err)
	}
	return nil
}

func (p *Processor) storePageImage(ctx context.Context, page *models.ScannedPage, img *image.Gray) error {
	name := fmt.Sprintf("%s.png", page.ID)
	if err := p.putImage(name, img); err != nil {
		return err
	}
	page.Filename = name
	return nil
}

func (p *Processor) putImage(name string, img *image.Gray) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return fmt.Errorf("encode page image: %w", err)
	}
	if err := p.blobs.Put(name, &buf); err != nil {
		return fmt.Errorf("store page image: %w", err)
	}
	return nil
}

func recognitionChoices(pageID uuid.UUID, rec *scan.Recognition) []models.Choice {
	var out []models.Choice
	for r, row := range rec.Choices {
		for b, checked := range row {
			out = append(out, models.Choice{
				PageID:    pageID,
				RowNumber: r,
				BoxNumber: b,
				Checked:   checked,
			})
		}
	}
	return out
}

func recognitionCorners(pageID uuid.UUID, rec *scan.Recognition) []models.PageCorner {
	out := make([]models.PageCorner, 4)
	for i, c := range rec.Corners {
		out[i] = models.PageCorner{PageID: pageID, Position: i, X: c.X, Y: c.Y}
	}
	return out
}

func (p *Processor) createWithMarks(ctx context.Context, page *models.ScannedPage, choices []models.Choice, corners []models.PageCorner) error {
	if err := p.store.CreateScannedPage(ctx, page); err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	if err := p.store.SaveChoices(ctx, page.ID, choices); err != nil {
		return fmt.Errorf("save choices: %w", err)
	}
	if err := p.store.SavePageCorners(ctx, page.ID, corners); err != nil {
		return fmt.Errorf("save corners: %w", err)
	}
	return nil
}
