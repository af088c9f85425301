package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/kozaktomas/photo-consent/internal/consent"
	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/detector"
	"github.com/kozaktomas/photo-consent/internal/pipeline"
	"github.com/kozaktomas/photo-consent/internal/redaction"
	"github.com/kozaktomas/photo-consent/internal/storage"
)

func TestRespondJSON(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusCreated, map[string]int{"count": 42})

	assertStatusCode(t, recorder, http.StatusCreated)
	assertContentType(t, recorder, "application/json")
	var result map[string]int
	parseJSONResponse(t, recorder, &result)
	if result["count"] != 42 {
		t.Errorf("expected count 42, got %d", result["count"])
	}
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusOK, nil)
	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", recorder.Body.String())
	}
}

func TestRespondError(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusBadRequest, "something went wrong")

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "something went wrong")
}

func TestStatusFor(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"photo not found", fmt.Errorf("photo: %w", database.ErrNotFound), http.StatusNotFound},
		{"asset not found", fmt.Errorf("derived: %w", storage.ErrNotFound), http.StatusNotFound},
		{"not owner", pipeline.ErrForbidden, http.StatusForbidden},
		{"not addressee", fmt.Errorf("request: %w", consent.ErrForbidden), http.StatusForbidden},
		{"already decided", consent.ErrInvalidTransition, http.StatusConflict},
		{"already ingested", database.ErrAlreadyIngested, http.StatusConflict},
		{"not ingested", pipeline.ErrNotIngested, http.StatusConflict},
		{"bad outcome", consent.ErrInvalidOutcome, http.StatusBadRequest},
		{"detector down", &pipeline.Error{Code: pipeline.CodeDetectionFailure, PhotoID: id, Err: detector.ErrUnavailable}, http.StatusBadGateway},
		{"storage", &pipeline.Error{Code: pipeline.CodeStorageFailure, Err: errors.New("disk")}, http.StatusServiceUnavailable},
		{"redaction", &pipeline.Error{Code: pipeline.CodeRedactionFailure, Err: redaction.ErrSourceCorrupt}, http.StatusInternalServerError},
		{"bad upload", redaction.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := statusFor(tt.err); got != tt.expected {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.expected)
			}
		})
	}
}

func TestStatusFor_HidesInternalDetails(t *testing.T) {
	_, msg := statusFor(errors.New("pq: password authentication failed for user admin"))
	if strings.Contains(msg, "password") {
		t.Errorf("internal error leaked: %q", msg)
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name     string
		ping     func(ctx context.Context) error
		expected int
		status   string
	}{
		{"no database check", nil, http.StatusOK, "ok"},
		{"database up", func(ctx context.Context) error { return nil }, http.StatusOK, "ok"},
		{"database down", func(ctx context.Context) error { return errors.New("refused") }, http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			NewHealthHandler(tt.ping).Check(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

			assertStatusCode(t, recorder, tt.expected)
			var result map[string]string
			parseJSONResponse(t, recorder, &result)
			if result["status"] != tt.status {
				t.Errorf("expected status '%s', got '%s'", tt.status, result["status"])
			}
		})
	}
}

func TestCallerID_Unauthenticated(t *testing.T) {
	recorder := httptest.NewRecorder()
	if _, ok := callerID(recorder, httptest.NewRequest(http.MethodGet, "/", nil)); ok {
		t.Fatal("expected no identity")
	}
	assertStatusCode(t, recorder, http.StatusUnauthorized)
}

func TestReadUpload_TooLarge(t *testing.T) {
	body, contentType := multipartBody(t, make([]byte, 4096))
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()

	if _, ok := readUpload(recorder, req, 1024); ok {
		t.Fatal("expected rejection")
	}
	assertStatusCode(t, recorder, http.StatusRequestEntityTooLarge)
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("APPROVED\nfake line\r"); got != "APPROVEDfake line" {
		t.Errorf("sanitizeForLog = %q", got)
	}
}
