package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kozaktomas/photo-consent/internal/constants"
	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/rs/zerolog"
)

// IdentityService is the part of the identity service the endpoints use.
type IdentityService interface {
	Get(ctx context.Context, id int64) (*database.Identity, error)
	SetSharingMode(ctx context.Context, id int64, mode database.SharingMode) (int, error)
	SetProfileImage(ctx context.Context, id int64, data []byte) (database.EncodingStatus, error)
}

// IdentitiesHandler handles the caller's identity endpoints.
type IdentitiesHandler struct {
	identities IdentityService
	log        zerolog.Logger
}

// NewIdentitiesHandler creates a new identities handler.
func NewIdentitiesHandler(identities IdentityService, log zerolog.Logger) *IdentitiesHandler {
	return &IdentitiesHandler{identities: identities, log: log}
}

// IdentityResponse represents an identity in API responses. The appearance
// vector is never exposed.
type IdentityResponse struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	SharingMode    string `json:"sharing_mode"`
	EncodingStatus string `json:"encoding_status"`
	Enrolled       bool   `json:"enrolled"`
}

func identityToResponse(i *database.Identity) IdentityResponse {
	return IdentityResponse{
		ID:             i.ID,
		Username:       i.Username,
		SharingMode:    string(i.SharingMode),
		EncodingStatus: string(i.EncodingStatus),
		Enrolled:       len(i.Appearance) > 0,
	}
}

// SharingRequest is the body of a sharing preference update.
type SharingRequest struct {
	SharingMode string `json:"sharing_mode"`
}

// Me returns the caller's identity.
func (h *IdentitiesHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := callerID(w, r)
	if !ok {
		return
	}
	ident, err := h.identities.Get(r.Context(), actor)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, identityToResponse(ident))
}

// SetSharing updates the caller's preference and re-renders their photos.
func (h *IdentitiesHandler) SetSharing(w http.ResponseWriter, r *http.Request) {
	actor, ok := callerID(w, r)
	if !ok {
		return
	}
	var body SharingRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	mode, err := database.ParseSharingMode(body.SharingMode)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid sharing_mode")
		return
	}

	regenerated, err := h.identities.SetSharingMode(r.Context(), actor, mode)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	ident, err := h.identities.Get(r.Context(), actor)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"identity":           identityToResponse(ident),
		"photos_regenerated": regenerated,
	})
}

// SetProfileImage stores a new profile image and enrols its largest face.
func (h *IdentitiesHandler) SetProfileImage(w http.ResponseWriter, r *http.Request) {
	actor, ok := callerID(w, r)
	if !ok {
		return
	}
	data, ok := readUpload(w, r, constants.MaxProfileImageSize)
	if !ok {
		return
	}

	status, err := h.identities.SetProfileImage(r.Context(), actor, data)
	if err != nil && status != database.EncodingError {
		respondServiceError(w, h.log, err)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("identity_id", actor).Msg("profile enrolment failed")
	}
	respondJSON(w, http.StatusOK, map[string]string{"encoding_status": string(status)})
}
