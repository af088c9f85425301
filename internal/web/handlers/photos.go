package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kozaktomas/photo-consent/internal/constants"
	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/pipeline"
	"github.com/kozaktomas/photo-consent/internal/storage"
	"github.com/rs/zerolog"
)

// PhotoService is the part of the pipeline the photo endpoints use.
type PhotoService interface {
	Upload(ctx context.Context, uploaderID int64, data []byte) (*database.Photo, error)
	Photo(ctx context.Context, photoID uuid.UUID) (*database.Photo, error)
	Derived(ctx context.Context, photoID uuid.UUID) ([]byte, *database.Photo, error)
	Original(ctx context.Context, photoID uuid.UUID, actorID int64) ([]byte, *database.Photo, error)
	Faces(ctx context.Context, photoID uuid.UUID, actorID int64) ([]database.DetectedFace, error)
	Regenerate(ctx context.Context, photoID uuid.UUID) error
	DeletePhoto(ctx context.Context, photoID uuid.UUID, actorID int64) error
}

// PhotosHandler handles photo endpoints.
type PhotosHandler struct {
	photos PhotoService
	log    zerolog.Logger
}

// NewPhotosHandler creates a new photos handler.
func NewPhotosHandler(photos PhotoService, log zerolog.Logger) *PhotosHandler {
	return &PhotosHandler{photos: photos, log: log}
}

// PhotoResponse represents a photo in API responses.
type PhotoResponse struct {
	ID           string     `json:"id"`
	UploaderID   int64      `json:"uploader_id"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	Format       string     `json:"format"`
	Status       string     `json:"status"`
	StatusDetail string     `json:"status_detail,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	IngestedAt   *time.Time `json:"ingested_at,omitempty"`
	DerivedAt    *time.Time `json:"derived_at,omitempty"`
	ImageURL     string     `json:"image_url,omitempty"`
}

func photoToResponse(p *database.Photo) PhotoResponse {
	resp := PhotoResponse{
		ID:           p.ID.String(),
		UploaderID:   p.UploaderID,
		Width:        p.Width,
		Height:       p.Height,
		Format:       p.Format,
		Status:       string(p.Status),
		StatusDetail: p.StatusDetail,
		CreatedAt:    p.CreatedAt,
		IngestedAt:   p.IngestedAt,
		DerivedAt:    p.DerivedAt,
	}
	if p.DerivedAt != nil && p.Status != database.PhotoWithheld {
		resp.ImageURL = "/api/v1/photos/" + p.ID.String() + "/image"
	}
	return resp
}

// FaceResponse represents a detected face in API responses.
type FaceResponse struct {
	FaceIndex         int     `json:"face_index"`
	Region            string  `json:"region"` // "left,top,right,bottom"
	MatchedIdentityID *int64  `json:"matched_identity_id"`
	Similarity        float64 `json:"similarity"`
	DetScore          float64 `json:"det_score"`
}

// Upload accepts a multipart "file" and ingests it. Responds 201 once the
// derived image exists, 202 when ingestion was queued.
func (h *PhotosHandler) Upload(w http.ResponseWriter, r *http.Request) {
	actor, ok := callerID(w, r)
	if !ok {
		return
	}
	data, ok := readUpload(w, r, constants.MaxUploadSize)
	if !ok {
		return
	}

	photo, err := h.photos.Upload(r.Context(), actor, data)
	if err != nil {
		if photo == nil {
			respondServiceError(w, h.log, err)
			return
		}
		// The photo exists but ingestion failed; report both.
		status, msg := statusFor(err)
		h.log.Error().Err(err).Str("photo_id", photo.ID.String()).Msg("ingestion failed after upload")
		respondJSON(w, status, map[string]any{
			"error": msg,
			"code":  string(pipeline.CodeOf(err)),
			"photo": photoToResponse(photo),
		})
		return
	}

	status := http.StatusCreated
	if !photo.Ingested() {
		status = http.StatusAccepted
	}
	respondJSON(w, status, photoToResponse(photo))
}

// Get returns photo metadata.
func (h *PhotosHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "photo id")
	if !ok {
		return
	}
	photo, err := h.photos.Photo(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, photoToResponse(photo))
}

// Image serves the derived image. It never falls back to the original.
func (h *PhotosHandler) Image(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "photo id")
	if !ok {
		return
	}
	data, photo, err := h.photos.Derived(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	// Consent decisions change this image, so it must not be cached.
	writeImage(w, data, photo, "no-store")
}

// Original serves the unredacted upload to its uploader.
func (h *PhotosHandler) Original(w http.ResponseWriter, r *http.Request) {
	actor, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "photo id")
	if !ok {
		return
	}
	data, photo, err := h.photos.Original(r.Context(), id, actor)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	writeImage(w, data, photo, "private, no-store")
}

func writeImage(w http.ResponseWriter, data []byte, photo *database.Photo, cacheControl string) {
	w.Header().Set("Content-Type", storage.ContentType(photo.Format))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Faces lists the detected faces to the uploader.
func (h *PhotosHandler) Faces(w http.ResponseWriter, r *http.Request) {
	actor, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "photo id")
	if !ok {
		return
	}
	faces, err := h.photos.Faces(r.Context(), id, actor)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}

	resp := make([]FaceResponse, 0, len(faces))
	for _, f := range faces {
		resp = append(resp, FaceResponse{
			FaceIndex:         f.FaceIndex,
			Region:            f.Region.String(),
			MatchedIdentityID: f.MatchedIdentityID,
			Similarity:        f.Similarity,
			DetScore:          f.DetScore,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// Regenerate rebuilds the derived image; uploader only.
func (h *PhotosHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	actor, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "photo id")
	if !ok {
		return
	}
	photo, err := h.photos.Photo(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	if photo.UploaderID != actor {
		respondServiceError(w, h.log, pipeline.ErrForbidden)
		return
	}
	if err := h.photos.Regenerate(r.Context(), id); err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	if photo, err = h.photos.Photo(r.Context(), id); err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, photoToResponse(photo))
}

// Delete removes a photo with both images; uploader only.
func (h *PhotosHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := parseUUIDParam(w, chi.URLParam(r, "id"), "photo id")
	if !ok {
		return
	}
	if err := h.photos.DeletePhoto(r.Context(), id, actor); err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
