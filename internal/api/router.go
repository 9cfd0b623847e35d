package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/edumark/sheetscan/internal/api/middleware"
	"github.com/edumark/sheetscan/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	UploadHandler    http.HandlerFunc
	JobStatusHandler http.HandlerFunc
	AbandonJob       http.HandlerFunc

	ErrorReport http.HandlerFunc
	DeletePages http.HandlerFunc
	CorrectPage http.HandlerFunc

	ListLists     http.HandlerFunc
	CreateList    http.HandlerFunc
	GenerateSheet http.HandlerFunc
	DownloadSheet http.HandlerFunc
	RosterCSV     http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Rate-limited application routes
	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/subjects/{subjectID}/uploads", orNotImplemented(deps.UploadHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.JobStatusHandler))
		r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(deps.AbandonJob))

		r.Get("/api/v1/subjects/{subjectID}/errorpages", orNotImplemented(deps.ErrorReport))
		r.Post("/api/v1/pages/delete", orNotImplemented(deps.DeletePages))
		r.Post("/api/v1/pages/{pageID}/correct", orNotImplemented(deps.CorrectPage))

		r.Get("/api/v1/subjects/{subjectID}/lists", orNotImplemented(deps.ListLists))
		r.Post("/api/v1/subjects/{subjectID}/lists", orNotImplemented(deps.CreateList))
		r.Post("/api/v1/lists/{listID}/sheet", orNotImplemented(deps.GenerateSheet))
		r.Get("/api/v1/lists/{listID}/sheet", orNotImplemented(deps.DownloadSheet))
		r.Get("/api/v1/lists/{listID}/participants.csv", orNotImplemented(deps.RosterCSV))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
