package sheet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/edumark/sheetscan/internal/blob"
	"github.com/edumark/sheetscan/pkg/models"
)

// ErrAlreadyGenerated is returned when a sheet exists and force was not set.
var ErrAlreadyGenerated = errors.New("sheet already generated")

// ErrNotGenerated is returned when a download is requested before the
// sheet has been rendered.
var ErrNotGenerated = errors.New("sheet not generated yet")

// ListStore is the slice of the data layer the manager needs.
type ListStore interface {
	GetSubject(ctx context.Context, id uuid.UUID) (*models.Subject, error)
	GetParticipantList(ctx context.Context, id uuid.UUID) (*models.ParticipantList, error)
	ListParticipants(ctx context.Context, listID uuid.UUID) ([]*models.Participant, error)
	SetListFilename(ctx context.Context, listID uuid.UUID, filename *string) error
}

// Manager renders sign-in sheets into the blob store and hands them back
// out for download.
type Manager struct {
	store  ListStore
	blobs  blob.Store
	logger *slog.Logger
}

func NewManager(s ListStore, blobs blob.Store, logger *slog.Logger) *Manager {
	return &Manager{store: s, blobs: blobs, logger: logger}
}

// Generate renders the sheet PDF for a list and stores it. A previously
// generated sheet is only replaced when force is set; regeneration removes
// the old blob first so a stale file never survives a failed render.
func (m *Manager) Generate(ctx context.Context, listID uuid.UUID, force bool) (*string, error) {
	list, err := m.store.GetParticipantList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if list.Filename != nil && !force {
		return nil, ErrAlreadyGenerated
	}

	subject, err := m.store.GetSubject(ctx, list.SubjectID)
	if err != nil {
		return nil, err
	}
	participants, err := m.store.ListParticipants(ctx, listID)
	if err != nil {
		return nil, err
	}

	pdf, err := Generate(subject, list, participants)
	if err != nil {
		return nil, err
	}

	if list.Filename != nil {
		if err := m.blobs.Delete(*list.Filename); err != nil {
			m.logger.Warn("stale sheet delete failed", "list_id", listID, "error", err)
		}
	}
	name := fmt.Sprintf("sheet-%s.pdf", listID)
	if err := m.blobs.Put(name, bytes.NewReader(pdf)); err != nil {
		return nil, fmt.Errorf("store sheet: %w", err)
	}
	if err := m.store.SetListFilename(ctx, listID, &name); err != nil {
		return nil, err
	}
	m.logger.Info("sheet generated", "list_id", listID, "participants", len(participants), "bytes", len(pdf))
	return &name, nil
}

// Open returns the rendered sheet PDF for streaming to the client.
func (m *Manager) Open(ctx context.Context, listID uuid.UUID) (io.ReadCloser, error) {
	list, err := m.store.GetParticipantList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if list.Filename == nil {
		return nil, ErrNotGenerated
	}
	rc, err := m.blobs.Open(*list.Filename)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, ErrNotGenerated
	}
	return rc, err
}

// WriteRoster streams the list's participants as CSV.
func (m *Manager) WriteRoster(ctx context.Context, listID uuid.UUID, w io.Writer) error {
	if _, err := m.store.GetParticipantList(ctx, listID); err != nil {
		return err
	}
	participants, err := m.store.ListParticipants(ctx, listID)
	if err != nil {
		return err
	}
	return WriteCSV(w, participants)
}
