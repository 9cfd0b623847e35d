// Package importer drains the import job queue: it unpacks uploads,
// recognizes pages, validates them against the roster and commits clean
// pages to results.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/edumark/sheetscan/internal/store"
	"github.com/edumark/sheetscan/pkg/models"
)

// Verdict is the outcome of validating a recognized page draft.
type Verdict struct {
	// ErrorCode is empty when the page can be committed or suspended.
	ErrorCode string
	// Suspend marks a clean page of an incomplete multi-page form. It is
	// committed later, when the rest of the form arrives.
	Suspend bool
	// Info carries operator-facing detail for the correction report.
	Info string

	Participant *models.Participant
}

// Matcher validates recognized pages against the participant roster.
// idField names the roster column the barcode value identifies, "userkey"
// or "user_id".
type Matcher struct {
	store   store.Store
	idField string
}

func NewMatcher(s store.Store, idField string) *Matcher {
	return &Matcher{store: s, idField: idField}
}

// Validate classifies a page draft. The returned Verdict carries an error
// code for pages the operator must fix, a suspend flag for clean pages of
// incomplete forms, and nothing for pages ready to commit. Ambiguous
// roster matches are rejected, never guessed.
func (m *Matcher) Validate(ctx context.Context, subject *models.Subject, page *models.ScannedPage, choices []models.Choice) (*Verdict, error) {
	participant, code, info, err := m.lookupParticipant(ctx, subject, page.Userkey)
	if err != nil {
		return nil, err
	}
	if code != "" {
		return &Verdict{ErrorCode: code, Info: info}, nil
	}

	if page.GroupNumber < 1 || page.GroupNumber > subject.NumGroups {
		return &Verdict{
			ErrorCode:   models.PageErrorGroup,
			Info:        fmt.Sprintf("group %d not in 1..%d", page.GroupNumber, subject.NumGroups),
			Participant: participant,
		}, nil
	}
	if page.PageNumber < 1 || page.PageNumber > subject.PagesPerForm {
		return &Verdict{
			ErrorCode:   models.PageErrorFatal,
			Info:        fmt.Sprintf("page number %d not in 1..%d", page.PageNumber, subject.PagesPerForm),
			Participant: participant,
		}, nil
	}

	if v, err := m.checkDuplicate(ctx, subject, page, choices); err != nil || v != nil {
		if v != nil {
			v.Participant = participant
		}
		return v, err
	}

	if subject.PagesPerForm > 1 {
		complete, err := m.formComplete(ctx, subject, page)
		if err != nil {
			return nil, err
		}
		if !complete {
			return &Verdict{Suspend: true, Participant: participant}, nil
		}
	}
	return &Verdict{Participant: participant}, nil
}

func (m *Matcher) lookupParticipant(ctx context.Context, subject *models.Subject, userkey string) (*models.Participant, string, string, error) {
	var matches []*models.Participant
	switch m.idField {
	case "user_id":
		found, err := m.store.FindParticipantsByUserID(ctx, subject.ID, userkey)
		if err != nil {
			return nil, "", "", fmt.Errorf("roster lookup: %w", err)
		}
		matches = found
	default:
		key, err := strconv.ParseUint(userkey, 10, 32)
		if err != nil {
			return nil, models.PageErrorUser, fmt.Sprintf("unreadable userkey %q", userkey), nil
		}
		found, err := m.store.FindParticipantsByUserkey(ctx, subject.ID, uint32(key))
		if err != nil {
			return nil, "", "", fmt.Errorf("roster lookup: %w", err)
		}
		matches = found
	}

	switch len(matches) {
	case 0:
		return nil, models.PageErrorUser, fmt.Sprintf("userkey %s not in roster", userkey), nil
	case 1:
		return matches[0], "", "", nil
	default:
		return nil, models.PageErrorUser, fmt.Sprintf("userkey %s matches %d participants", userkey, len(matches)), nil
	}
}

// checkDuplicate compares the page against an already submitted or
// suspended page with the same (user, page number). An identical twin is a
// harmless double, conflicting marks need operator judgment.
func (m *Matcher) checkDuplicate(ctx context.Context, subject *models.Subject, page *models.ScannedPage, choices []models.Choice) (*Verdict, error) {
	existing, err := m.store.FindSubmittedPage(ctx, subject.ID, page.Userkey, page.PageNumber)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if existing == nil {
		suspended, err := m.store.ListSuspendedPages(ctx, subject.ID, page.Userkey)
		if err != nil {
			return nil, fmt.Errorf("duplicate check: %w", err)
		}
		for _, s := range suspended {
			if s.PageNumber == page.PageNumber && s.ID != page.ID {
				existing = s
				break
			}
		}
	}
	if existing == nil {
		return nil, nil
	}

	stored, err := m.store.GetChoices(ctx, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("load existing choices: %w", err)
	}
	if choicesEqual(stored, choices) {
		return &Verdict{
			ErrorCode: models.PageErrorDouble,
			Info:      fmt.Sprintf("identical to page %s", existing.ID),
		}, nil
	}
	return &Verdict{
		ErrorCode: models.PageErrorDifferingPage,
		Info:      fmt.Sprintf("conflicts with page %s", existing.ID),
	}, nil
}

// formComplete reports whether this page, together with the user's
// suspended and submitted pages, covers every page of the form.
func (m *Matcher) formComplete(ctx context.Context, subject *models.Subject, page *models.ScannedPage) (bool, error) {
	have := map[int]bool{page.PageNumber: true}

	suspended, err := m.store.ListSuspendedPages(ctx, subject.ID, page.Userkey)
	if err != nil {
		return false, fmt.Errorf("list suspended pages: %w", err)
	}
	for _, s := range suspended {
		have[s.PageNumber] = true
	}
	submitted, err := m.store.ListSubmittedPages(ctx, subject.ID, page.Userkey)
	if err != nil {
		return false, fmt.Errorf("list submitted pages: %w", err)
	}
	for _, s := range submitted {
		have[s.PageNumber] = true
	}

	for n := 1; n <= subject.PagesPerForm; n++ {
		if !have[n] {
			return false, nil
		}
	}
	return true, nil
}

func choicesEqual(stored []*models.Choice, incoming []models.Choice) bool {
	marked := func(row, box int) bool {
		for _, c := range incoming {
			if c.RowNumber == row && c.BoxNumber == box {
				return c.Checked
			}
		}
		return false
	}
	if len(stored) != len(incoming) {
		return false
	}
	for _, c := range stored {
		if c.Checked != marked(c.RowNumber, c.BoxNumber) {
			return false
		}
	}
	return true
}
