package importer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/edumark/sheetscan/internal/store"
	"github.com/edumark/sheetscan/pkg/models"
)

// Committer is the only component that mutates Result state. Commits are
// serialized per subject so two concurrent jobs cannot race on lazy Result
// creation.
type Committer struct {
	store store.Store

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewCommitter(s store.Store) *Committer {
	return &Committer{store: s, locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (c *Committer) subjectLock(subjectID uuid.UUID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[subjectID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[subjectID] = l
	}
	return l
}

// Commit persists one clean page and, when the page completes a multi-page
// form, resolves the user's suspended siblings by committing them too.
// Returns the result after all commits.
func (c *Committer) Commit(ctx context.Context, subject *models.Subject, page *models.ScannedPage, choices []models.Choice, corners []models.PageCorner) (*models.Result, error) {
	l := c.subjectLock(subject.ID)
	l.Lock()
	defer l.Unlock()

	// Siblings are read before this page flips to submitted so the list
	// is exactly the pages waiting on this one.
	var siblings []*models.ScannedPage
	if subject.PagesPerForm > 1 {
		suspended, err := c.store.ListSuspendedPages(ctx, subject.ID, page.Userkey)
		if err != nil {
			return nil, fmt.Errorf("list suspended siblings: %w", err)
		}
		siblings = suspended
	}

	result, err := c.store.CommitPage(ctx, page, choices, corners, subject.PagesPerForm)
	if err != nil {
		return nil, fmt.Errorf("commit page: %w", err)
	}

	for _, sib := range siblings {
		if sib.ID == page.ID {
			continue
		}
		sibChoices, err := c.store.GetChoices(ctx, sib.ID)
		if err != nil {
			return nil, fmt.Errorf("load sibling choices: %w", err)
		}
		sibCorners, err := c.store.GetPageCorners(ctx, sib.ID)
		if err != nil {
			return nil, fmt.Errorf("load sibling corners: %w", err)
		}
		result, err = c.store.CommitPage(ctx, sib, derefChoices(sibChoices), derefCorners(sibCorners), subject.PagesPerForm)
		if err != nil {
			return nil, fmt.Errorf("commit sibling page %s: %w", sib.ID, err)
		}
	}
	return result, nil
}

// Suspend parks a clean page of an incomplete form, keeping its extracted
// marks and corners so a later commit needs no re-recognition.
func (c *Committer) Suspend(ctx context.Context, page *models.ScannedPage, choices []models.Choice, corners []models.PageCorner) error {
	page.Status = models.PageStatusSuspended
	page.ErrorCode = nil
	if err := c.store.UpdateScannedPage(ctx, page); err != nil {
		return fmt.Errorf("suspend page: %w", err)
	}
	if err := c.store.SaveChoices(ctx, page.ID, choices); err != nil {
		return fmt.Errorf("save suspended choices: %w", err)
	}
	if err := c.store.SavePageCorners(ctx, page.ID, corners); err != nil {
		return fmt.Errorf("save suspended corners: %w", err)
	}
	return nil
}

func derefChoices(in []*models.Choice) []models.Choice {
	out := make([]models.Choice, 0, len(in))
	for _, c := range in {
		out = append(out, *c)
	}
	return out
}

func derefCorners(in []*models.PageCorner) []models.PageCorner {
	out := make([]models.PageCorner, 0, len(in))
	for _, c := range in {
		out = append(out, *c)
	}
	return out
}
