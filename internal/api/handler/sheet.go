package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/edumark/sheetscan/internal/api/response"
	"github.com/edumark/sheetscan/internal/sheet"
	"github.com/edumark/sheetscan/internal/store"
)

// SheetService renders and serves sign-in sheets and roster exports.
type SheetService interface {
	Generate(ctx context.Context, listID uuid.UUID, force bool) (*string, error)
	Open(ctx context.Context, listID uuid.UUID) (io.ReadCloser, error)
	WriteRoster(ctx context.Context, listID uuid.UUID, w io.Writer) error
}

// NewGenerateSheetHandler returns an http.HandlerFunc for
// POST /api/v1/lists/{listID}/sheet. Pass force=true to replace an already
// rendered sheet.
func NewGenerateSheetHandler(svc SheetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listID, err := uuid.Parse(chi.URLParam(r, "listID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "listID must be a valid UUID", nil)
			return
		}
		force := r.URL.Query().Get("force") == "true"

		filename, err := svc.Generate(r.Context(), listID, force)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "List not found", nil)
			case errors.Is(err, sheet.ErrAlreadyGenerated):
				response.Error(w, http.StatusConflict, "ALREADY_GENERATED",
					"Sheet already exists; pass force=true to regenerate", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to generate sheet", nil)
			}
			return
		}

		response.Created(w, map[string]string{"filename": *filename})
	}
}

// NewDownloadSheetHandler returns an http.HandlerFunc for
// GET /api/v1/lists/{listID}/sheet. Streams the rendered PDF.
func NewDownloadSheetHandler(svc SheetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listID, err := uuid.Parse(chi.URLParam(r, "listID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "listID must be a valid UUID", nil)
			return
		}

		rc, err := svc.Open(r.Context(), listID)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "List not found", nil)
			case errors.Is(err, sheet.ErrNotGenerated):
				response.Error(w, http.StatusNotFound, "NOT_GENERATED",
					"Sheet has not been generated for this list", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to open sheet", nil)
			}
			return
		}
		defer rc.Close()

		response.Attachment(w, "application/pdf", "sheet-"+listID.String()+".pdf", rc)
	}
}

// NewRosterCSVHandler returns an http.HandlerFunc for
// GET /api/v1/lists/{listID}/participants.csv.
func NewRosterCSVHandler(svc SheetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listID, err := uuid.Parse(chi.URLParam(r, "listID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "listID must be a valid UUID", nil)
			return
		}

		// Buffer so a database failure can still produce a JSON error.
		var buf bytes.Buffer
		if err := svc.WriteRoster(r.Context(), listID, &buf); err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "List not found", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to export roster", nil)
			}
			return
		}

		response.Attachment(w, "text/csv", "participants-"+listID.String()+".csv", &buf)
	}
}
