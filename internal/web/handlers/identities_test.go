package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/detector"
	"github.com/rs/zerolog"
)

func (env *testEnv) identitiesHandler() *IdentitiesHandler {
	return NewIdentitiesHandler(env.identities, zerolog.Nop())
}

func TestIdentitiesHandler_Me(t *testing.T) {
	env := newTestEnv(t)

	recorder := httptest.NewRecorder()
	env.identitiesHandler().Me(recorder, asIdentity(httptest.NewRequest(http.MethodGet, "/", nil), subjectID))

	assertStatusCode(t, recorder, http.StatusOK)
	var ident IdentityResponse
	parseJSONResponse(t, recorder, &ident)
	if ident.Username != "subject" || ident.SharingMode != "REQUIRE_CONSENT" || !ident.Enrolled {
		t.Errorf("unexpected identity %+v", ident)
	}
	if bytes.Contains(recorder.Body.Bytes(), []byte("appearance")) {
		t.Error("appearance vector exposed")
	}

	recorder = httptest.NewRecorder()
	env.identitiesHandler().Me(recorder, asIdentity(httptest.NewRequest(http.MethodGet, "/", nil), 99))
	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestIdentitiesHandler_SetSharing(t *testing.T) {
	env := newTestEnv(t)
	photo := env.uploadPhoto(t)
	before, _, _ := env.orch.Derived(context.Background(), photo.ID)
	handler := env.identitiesHandler()

	tests := []struct {
		name     string
		body     string
		expected int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"unknown mode", `{"sharing_mode":"FRIENDS"}`, http.StatusBadRequest},
		{"public", `{"sharing_mode":"PUBLIC"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			req := asIdentity(httptest.NewRequest(http.MethodPut, "/", bytes.NewBufferString(tt.body)), subjectID)
			handler.SetSharing(recorder, req)
			assertStatusCode(t, recorder, tt.expected)

			if tt.expected == http.StatusOK {
				var result struct {
					Identity          IdentityResponse `json:"identity"`
					PhotosRegenerated int              `json:"photos_regenerated"`
				}
				parseJSONResponse(t, recorder, &result)
				if result.Identity.SharingMode != "PUBLIC" || result.PhotosRegenerated != 1 {
					t.Errorf("unexpected result %+v", result)
				}
			}
		})
	}

	after, _, _ := env.orch.Derived(context.Background(), photo.ID)
	if bytes.Equal(before, after) {
		t.Error("photo not re-rendered after switching to PUBLIC")
	}
}

func TestIdentitiesHandler_SetProfileImage(t *testing.T) {
	tests := []struct {
		name       string
		detections []detector.Detection
		detectErr  error
		expected   int
		status     database.EncodingStatus
	}{
		{"face found", []detector.Detection{{Embedding: []float32{0.6, 0.8}, BBox: []float64{1, 1, 20, 20}}}, nil, http.StatusOK, database.EncodingSuccess},
		{"no face", nil, nil, http.StatusOK, database.EncodingNoFace},
		{"detector down", nil, detector.ErrUnavailable, http.StatusOK, database.EncodingError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.detections = tt.detections
			env.detectErr = tt.detectErr

			body, contentType := multipartBody(t, testPNG(t))
			req := httptest.NewRequest(http.MethodPut, "/", body)
			req.Header.Set("Content-Type", contentType)
			recorder := httptest.NewRecorder()
			env.identitiesHandler().SetProfileImage(recorder, asIdentity(req, outsiderID))

			assertStatusCode(t, recorder, tt.expected)
			var result map[string]string
			parseJSONResponse(t, recorder, &result)
			if result["encoding_status"] != string(tt.status) {
				t.Errorf("expected %s, got %s", tt.status, result["encoding_status"])
			}
			ident, _ := env.store.GetIdentity(context.Background(), outsiderID)
			if ident.EncodingStatus != tt.status {
				t.Errorf("stored status %s, want %s", ident.EncodingStatus, tt.status)
			}
		})
	}
}
