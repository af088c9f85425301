package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/photo-consent/internal/consent"
	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/identity"
	"github.com/kozaktomas/photo-consent/internal/pipeline"
	"github.com/kozaktomas/photo-consent/internal/redaction"
	"github.com/kozaktomas/photo-consent/internal/storage"
	"github.com/kozaktomas/photo-consent/internal/web/middleware"
	"github.com/rs/zerolog"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errorResponse is the body of a failed request. Code carries the pipeline
// error code when there is one.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusFor maps a service error to an HTTP status and a client message.
// Internal details of 5xx errors are not exposed.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, pipeline.ErrForbidden), errors.Is(err, consent.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, consent.ErrInvalidTransition):
		return http.StatusConflict, "consent request already decided"
	case errors.Is(err, database.ErrAlreadyIngested):
		return http.StatusConflict, "photo already ingested"
	case errors.Is(err, pipeline.ErrNotIngested):
		return http.StatusConflict, "photo not ingested yet"
	case errors.Is(err, database.ErrConflict):
		return http.StatusConflict, "already exists"
	case errors.Is(err, consent.ErrInvalidOutcome),
		errors.Is(err, identity.ErrInvalidSharingMode),
		errors.Is(err, identity.ErrInvalidUsername):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}

	switch pipeline.CodeOf(err) {
	case pipeline.CodeDetectionFailure:
		return http.StatusBadGateway, "face detection failed"
	case pipeline.CodeSourceUnavailable, pipeline.CodeStorageFailure:
		return http.StatusServiceUnavailable, "storage unavailable"
	case pipeline.CodeRedactionFailure:
		return http.StatusInternalServerError, "redaction failed"
	}

	// Undecodable uploads surface unwrapped from Inspect.
	if errors.Is(err, redaction.ErrUnsupportedFormat) || errors.Is(err, redaction.ErrSourceCorrupt) {
		return http.StatusUnsupportedMediaType, "unsupported or corrupt image"
	}
	return http.StatusInternalServerError, "internal error"
}

// respondServiceError logs 5xx errors and writes the mapped response.
func respondServiceError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	respondJSON(w, status, errorResponse{Error: msg, Code: string(pipeline.CodeOf(err))})
}

// callerID returns the authenticated identity or writes 401.
func callerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
	}
	return id, ok
}

// parseUUIDParam parses a UUID path value or writes 400.
func parseUUIDParam(w http.ResponseWriter, raw, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// readUpload reads the "file" part of a multipart request, bounded by limit.
func readUpload(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			respondError(w, http.StatusRequestEntityTooLarge, "file too large")
			return nil, false
		}
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return nil, false
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read file")
		return nil, false
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "file is empty")
		return nil, false
	}
	return data, true
}

// HealthHandler reports whether the service can reach its database.
type HealthHandler struct {
	ping func(ctx context.Context) error
}

// NewHealthHandler creates a health handler. ping may be nil.
func NewHealthHandler(ping func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{ping: ping}
}

// Check handles the health check endpoint.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  "database unreachable",
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
