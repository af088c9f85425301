package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kozaktomas/photo-consent/internal/consent"
	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/pipeline"
	"github.com/rs/zerolog"
)

// ConsentService is the part of the ledger the consent endpoints use.
type ConsentService interface {
	ListForIdentity(ctx context.Context, identityID int64, status database.ConsentStatus) ([]database.ConsentRequest, error)
	Decide(ctx context.Context, requestID uuid.UUID, actorID int64, outcome database.ConsentStatus) (database.ConsentRequest, error)
}

// ConsentHandler handles consent request endpoints.
type ConsentHandler struct {
	ledger ConsentService
	log    zerolog.Logger
}

// NewConsentHandler creates a new consent handler.
func NewConsentHandler(ledger ConsentService, log zerolog.Logger) *ConsentHandler {
	return &ConsentHandler{ledger: ledger, log: log}
}

// ConsentRequestResponse represents a consent request in API responses.
type ConsentRequestResponse struct {
	ID         string     `json:"id"`
	PhotoID    string     `json:"photo_id"`
	IdentityID int64      `json:"identity_id"`
	Region     string     `json:"region"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
}

func requestToResponse(req database.ConsentRequest) ConsentRequestResponse {
	return ConsentRequestResponse{
		ID:         req.ID.String(),
		PhotoID:    req.PhotoID.String(),
		IdentityID: req.IdentityID,
		Region:     req.Region.String(),
		Status:     string(req.Status),
		CreatedAt:  req.CreatedAt,
		DecidedAt:  req.DecidedAt,
	}
}

// DecisionRequest is the body of a decision.
type DecisionRequest struct {
	Outcome string `json:"outcome"`
}

// List returns the caller's consent requests, optionally filtered by status.
func (h *ConsentHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := callerID(w, r)
	if !ok {
		return
	}
	status := database.ConsentStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		respondError(w, http.StatusBadRequest, "invalid status")
		return
	}

	reqs, err := h.ledger.ListForIdentity(r.Context(), actor, status)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	resp := make([]ConsentRequestResponse, 0, len(reqs))
	for _, req := range reqs {
		resp = append(resp, requestToResponse(req))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Decide records the caller's answer to a request addressed to them. On
// approval the response is written after the photo was re-rendered.
func (h *ConsentHandler) Decide(w http.ResponseWriter, r *http.Request) {
	actor, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "request id")
	if !ok {
		return
	}
	var body DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	decided, err := h.ledger.Decide(r.Context(), id, actor, database.ConsentStatus(body.Outcome))
	if errors.Is(err, consent.ErrRegenerationFailed) {
		// The decision stands; only the re-render has to be retried.
		h.log.Error().Err(err).Str("request_id", id.String()).Msg("re-redaction after approval failed")
		respondJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "decision recorded but re-redaction failed",
			"code":    string(pipeline.CodeOf(err)),
			"request": requestToResponse(decided),
		})
		return
	}
	if err != nil {
		h.log.Debug().Err(err).Str("outcome", sanitizeForLog(body.Outcome)).Msg("decision rejected")
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, requestToResponse(decided))
}
