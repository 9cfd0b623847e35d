package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/edumark/sheetscan/internal/api/response"
	"github.com/edumark/sheetscan/internal/importer"
	"github.com/edumark/sheetscan/internal/store"
	"github.com/edumark/sheetscan/pkg/models"
)

// PageDeleter removes a scanned page with its marks and stored images.
type PageDeleter interface {
	DeletePage(ctx context.Context, pageID uuid.UUID) error
}

// PageCorrector re-validates an error or suspended page with operator input.
type PageCorrector interface {
	CorrectPage(ctx context.Context, pageID uuid.UUID, userkey string, group int) (*models.ScannedPage, error)
}

// NewDeletePagesHandler returns an http.HandlerFunc for POST /api/v1/pages/delete.
// The body names the pages to remove; unknown ids are reported per-id rather
// than failing the batch.
func NewDeletePagesHandler(svc PageDeleter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PageIDs []string `json:"page_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if len(req.PageIDs) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page_ids must not be empty", nil)
			return
		}

		deleted := 0
		failed := map[string]string{}
		for _, raw := range req.PageIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				failed[raw] = "not a valid UUID"
				continue
			}
			switch err := svc.DeletePage(r.Context(), id); {
			case err == nil:
				deleted++
			case errors.Is(err, store.ErrNotFound):
				failed[raw] = "page not found"
			default:
				failed[raw] = "delete failed"
			}
		}

		response.JSON(w, map[string]any{
			"deleted": deleted,
			"failed":  failed,
		})
	}
}

// NewCorrectPageHandler returns an http.HandlerFunc for
// POST /api/v1/pages/{pageID}/correct.
func NewCorrectPageHandler(svc PageCorrector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pageID, err := uuid.Parse(chi.URLParam(r, "pageID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "pageID must be a valid UUID", nil)
			return
		}

		var req struct {
			Userkey     string `json:"userkey"`
			GroupNumber int    `json:"group_number"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Userkey == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "userkey is required", nil)
			return
		}
		if req.GroupNumber < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "group_number must be at least 1", nil)
			return
		}

		page, err := svc.CorrectPage(r.Context(), pageID, req.Userkey, req.GroupNumber)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Page not found", nil)
			case errors.Is(err, importer.ErrPageNotCorrectable):
				response.Error(w, http.StatusConflict, "NOT_CORRECTABLE",
					"Only error or suspended pages can be corrected", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to correct page", nil)
			}
			return
		}

		response.JSON(w, errorReportEntry{ScannedPage: page, Message: page.ErrorMessage()})
	}
}
