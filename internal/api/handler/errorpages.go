package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/edumark/sheetscan/internal/api/response"
	"github.com/edumark/sheetscan/internal/store"
	"github.com/edumark/sheetscan/pkg/models"
)

// ErrorPageLister serves the correction report query.
type ErrorPageLister interface {
	GetSubject(ctx context.Context, id uuid.UUID) (*models.Subject, error)
	ListErrorPages(ctx context.Context, filter store.ErrorPageFilter) ([]*models.ScannedPage, int, error)
}

// errorReportEntry is one row of the correction report: the page plus the
// resolved operator-facing message.
type errorReportEntry struct {
	*models.ScannedPage
	Message string `json:"message"`
}

// NewErrorReportHandler returns an http.HandlerFunc for
// GET /api/v1/subjects/{subjectID}/errorpages. Supported query parameters:
// page, limit, sort (time or userkey) and initial (first userkey character).
func NewErrorReportHandler(svc ErrorPageLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subjectID, err := uuid.Parse(chi.URLParam(r, "subjectID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "subjectID must be a valid UUID", nil)
			return
		}
		if _, err := svc.GetSubject(r.Context(), subjectID); err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Subject not found", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load subject", nil)
			}
			return
		}

		q := r.URL.Query()

		page := 1
		if v := q.Get("page"); v != "" {
			page, err = strconv.Atoi(v)
			if err != nil || page < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be a positive integer", nil)
				return
			}
		}

		limit := 50
		if v := q.Get("limit"); v != "" {
			limit, err = strconv.Atoi(v)
			if err != nil || limit < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
		}
		if limit > 200 {
			limit = 200
		}

		sortBy := q.Get("sort")
		switch sortBy {
		case "", "time":
			sortBy = "time"
		case "userkey":
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "sort must be time or userkey", nil)
			return
		}

		initial := q.Get("initial")
		if len(initial) > 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "initial must be a single character", nil)
			return
		}

		pages, total, err := svc.ListErrorPages(r.Context(), store.ErrorPageFilter{
			SubjectID: subjectID,
			Initial:   initial,
			SortBy:    sortBy,
			Page:      page,
			Limit:     limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list error pages", nil)
			return
		}

		entries := make([]errorReportEntry, 0, len(pages))
		for _, p := range pages {
			entries = append(entries, errorReportEntry{ScannedPage: p, Message: p.ErrorMessage()})
		}

		response.Collection(w, entries, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}
