package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/edumark/sheetscan/internal/api/response"
	"github.com/edumark/sheetscan/internal/cache"
	"github.com/edumark/sheetscan/internal/store"
	"github.com/edumark/sheetscan/pkg/models"
)

// JobReader loads a job and its per-file progress counts.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	JobCounts(ctx context.Context, jobID uuid.UUID) (models.JobCounts, error)
}

// Abandoner removes a job, its files and its temp directory.
type Abandoner interface {
	Abandon(ctx context.Context, jobID uuid.UUID) error
}

// NewJobStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// The cached status is consulted first so polling clients do not hit the
// database on every request; the full record is only loaded on cache miss or
// when the cached status is terminal.
func NewJobStatusHandler(svc JobReader, c cache.Cache) http.HandlerFunc {
	type jobStatus struct {
		*models.Job
		Counts models.JobCounts `json:"counts"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		if status, ok, err := c.GetJobStatus(r.Context(), jobID); err == nil && ok &&
			status != models.JobStatusDone && status != models.JobStatusError {
			response.JSON(w, map[string]string{
				"id":     jobID.String(),
				"status": status,
			})
			return
		}

		job, err := svc.GetJob(r.Context(), jobID)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			}
			return
		}

		counts, err := svc.JobCounts(r.Context(), jobID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job counts", nil)
			return
		}

		response.JSON(w, jobStatus{Job: job, Counts: counts})
	}
}

// NewAbandonJobHandler returns an http.HandlerFunc for DELETE /api/v1/jobs/{jobID}.
func NewAbandonJobHandler(svc Abandoner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		if err := svc.Abandon(r.Context(), jobID); err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to abandon job", nil)
			}
			return
		}

		response.JSON(w, map[string]string{"status": "deleted"})
	}
}
