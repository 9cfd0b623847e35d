package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/edumark/sheetscan/internal/api/response"
	"github.com/edumark/sheetscan/internal/importer"
	"github.com/edumark/sheetscan/internal/store"
	"github.com/edumark/sheetscan/pkg/models"
)

// maxUploadBytes bounds a whole multipart upload batch. Scanned page
// archives are large; 512 MiB covers several hundred 300 DPI pages.
const maxUploadBytes = 512 << 20

// Enqueuer accepts an upload batch and creates the import job for it.
type Enqueuer interface {
	Enqueue(ctx context.Context, subjectID uuid.UUID, creator string, uploads []importer.Upload) (*models.Job, error)
}

// NewUploadHandler returns an http.HandlerFunc for
// POST /api/v1/subjects/{subjectID}/uploads. It accepts one or more files
// under the "scans" multipart field and responds 202 with the created job.
func NewUploadHandler(svc Enqueuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subjectID, err := uuid.Parse(chi.URLParam(r, "subjectID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "subjectID must be a valid UUID", nil)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid multipart body", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		files := r.MultipartForm.File["scans"]
		if len(files) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "At least one file is required under the scans field", nil)
			return
		}

		uploads := make([]importer.Upload, 0, len(files))
		open := make([]interface{ Close() error }, 0, len(files))
		defer func() {
			for _, f := range open {
				f.Close()
			}
		}()
		for _, fh := range files {
			f, err := fh.Open()
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Could not read uploaded file "+fh.Filename, nil)
				return
			}
			open = append(open, f)
			uploads = append(uploads, importer.Upload{Name: fh.Filename, Data: f})
		}

		creator := r.FormValue("creator")

		job, err := svc.Enqueue(r.Context(), subjectID, creator, uploads)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Subject not found", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to enqueue upload", nil)
			}
			return
		}

		response.Accepted(w, job)
	}
}
