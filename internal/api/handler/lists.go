package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/edumark/sheetscan/internal/api/response"
	"github.com/edumark/sheetscan/internal/scan"
	"github.com/edumark/sheetscan/internal/store"
	"github.com/edumark/sheetscan/pkg/models"
)

// ListStore covers the participant list operations the roster handlers need.
type ListStore interface {
	GetSubject(ctx context.Context, id uuid.UUID) (*models.Subject, error)
	ListParticipantLists(ctx context.Context, subjectID uuid.UUID) ([]*models.ParticipantList, error)
	CreateParticipantList(ctx context.Context, list *models.ParticipantList) error
	CreateParticipants(ctx context.Context, participants []*models.Participant) error
}

// NewListListsHandler returns an http.HandlerFunc for
// GET /api/v1/subjects/{subjectID}/lists.
func NewListListsHandler(svc ListStore) http.HandlerFunc {
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

		lists, err := svc.ListParticipantLists(r.Context(), subjectID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list participant lists", nil)
			return
		}
		response.JSON(w, lists)
	}
}

// NewCreateListHandler returns an http.HandlerFunc for
// POST /api/v1/subjects/{subjectID}/lists. The body carries the list name,
// its number and the full roster in one request.
func NewCreateListHandler(svc ListStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subjectID, err := uuid.Parse(chi.URLParam(r, "subjectID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "subjectID must be a valid UUID", nil)
			return
		}

		var req struct {
			Name         string `json:"name"`
			ListNumber   int    `json:"list_number"`
			Participants []struct {
				UserID    string `json:"user_id"`
				Userkey   uint32 `json:"userkey"`
				FirstName string `json:"first_name"`
				LastName  string `json:"last_name"`
			} `json:"participants"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}
		if req.ListNumber < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "list_number must be at least 1", nil)
			return
		}
		layout := scan.DefaultLayout
		for _, p := range req.Participants {
			if p.UserID == "" {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "every participant needs a user_id", nil)
				return
			}
			if err := layout.ValidateUserkey(p.Userkey); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
				return
			}
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

		list := &models.ParticipantList{
			ID:         uuid.New(),
			SubjectID:  subjectID,
			Name:       req.Name,
			ListNumber: req.ListNumber,
			CreatedAt:  time.Now().UTC(),
		}
		if err := svc.CreateParticipantList(r.Context(), list); err != nil {
			switch {
			case errors.Is(err, store.ErrDuplicateKey):
				response.Error(w, http.StatusConflict, "DUPLICATE_LIST",
					"A list with this number already exists for the subject", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create list", nil)
			}
			return
		}

		participants := make([]*models.Participant, 0, len(req.Participants))
		for _, p := range req.Participants {
			participants = append(participants, &models.Participant{
				ID:        uuid.New(),
				ListID:    list.ID,
				UserID:    p.UserID,
				Userkey:   p.Userkey,
				FirstName: p.FirstName,
				LastName:  p.LastName,
			})
		}
		if len(participants) > 0 {
			if err := svc.CreateParticipants(r.Context(), participants); err != nil {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store participants", nil)
				return
			}
		}

		response.Created(w, list)
	}
}
