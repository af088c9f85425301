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

func (env *testEnv) photosHandler() *PhotosHandler {
	return NewPhotosHandler(env.orch, zerolog.Nop())
}

func (env *testEnv) uploadPhoto(t *testing.T) *database.Photo {
	t.Helper()
	photo, err := env.orch.Upload(context.Background(), ownerID, testPNG(t))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return photo
}

func uploadRequest(t *testing.T, data []byte) *http.Request {
	t.Helper()
	body, contentType := multipartBody(t, data)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/photos", body)
	req.Header.Set("Content-Type", contentType)
	return req
}

func photoRequest(method, path, id string, actor int64) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if actor != 0 {
		req = asIdentity(req, actor)
	}
	return requestWithChiParams(req, map[string]string{"id": id})
}

func TestPhotosHandler_Upload_Success(t *testing.T) {
	env := newTestEnv(t)
	handler := env.photosHandler()

	recorder := httptest.NewRecorder()
	handler.Upload(recorder, asIdentity(uploadRequest(t, testPNG(t)), ownerID))

	assertStatusCode(t, recorder, http.StatusCreated)
	var photo PhotoResponse
	parseJSONResponse(t, recorder, &photo)
	if photo.Status != "ready" || photo.UploaderID != ownerID {
		t.Errorf("unexpected photo %+v", photo)
	}
	if photo.Width != 64 || photo.Height != 48 || photo.Format != "png" {
		t.Errorf("unexpected dimensions %+v", photo)
	}
	if photo.ImageURL != "/api/v1/photos/"+photo.ID+"/image" {
		t.Errorf("unexpected image url %q", photo.ImageURL)
	}
}

func TestPhotosHandler_Upload_Errors(t *testing.T) {
	tests := []struct {
		name     string
		request  func(t *testing.T) *http.Request
		expected int
	}{
		{"unauthenticated", func(t *testing.T) *http.Request {
			return uploadRequest(t, testPNG(t))
		}, http.StatusUnauthorized},
		{"not multipart", func(t *testing.T) *http.Request {
			return asIdentity(httptest.NewRequest(http.MethodPost, "/api/v1/photos", bytes.NewReader([]byte("{}"))), ownerID)
		}, http.StatusBadRequest},
		{"empty file", func(t *testing.T) *http.Request {
			return asIdentity(uploadRequest(t, nil), ownerID)
		}, http.StatusBadRequest},
		{"not an image", func(t *testing.T) *http.Request {
			return asIdentity(uploadRequest(t, []byte("plain text, not pixels")), ownerID)
		}, http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			recorder := httptest.NewRecorder()
			env.photosHandler().Upload(recorder, tt.request(t))
			assertStatusCode(t, recorder, tt.expected)
		})
	}
}

func TestPhotosHandler_Upload_DetectionFailure(t *testing.T) {
	env := newTestEnv(t)
	env.detectErr = detector.ErrUnavailable

	recorder := httptest.NewRecorder()
	env.photosHandler().Upload(recorder, asIdentity(uploadRequest(t, testPNG(t)), ownerID))

	assertStatusCode(t, recorder, http.StatusBadGateway)
	var result struct {
		Error string        `json:"error"`
		Code  string        `json:"code"`
		Photo PhotoResponse `json:"photo"`
	}
	parseJSONResponse(t, recorder, &result)
	if result.Code != "DETECTION_FAILURE" {
		t.Errorf("expected DETECTION_FAILURE, got %q", result.Code)
	}
	if result.Photo.Status != "detection_failed" || result.Photo.ImageURL != "" {
		t.Errorf("unexpected photo %+v", result.Photo)
	}

	// Nothing public exists for the photo.
	recorder = httptest.NewRecorder()
	env.photosHandler().Image(recorder, photoRequest(http.MethodGet, "/", result.Photo.ID, 0))
	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestPhotosHandler_Get(t *testing.T) {
	env := newTestEnv(t)
	photo := env.uploadPhoto(t)
	handler := env.photosHandler()

	tests := []struct {
		name     string
		id       string
		expected int
	}{
		{"existing", photo.ID.String(), http.StatusOK},
		{"unknown", "6f1c2a52-8a4e-4c55-9d0e-2f3f1b7f0c11", http.StatusNotFound},
		{"malformed", "123", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.Get(recorder, photoRequest(http.MethodGet, "/", tt.id, outsiderID))
			assertStatusCode(t, recorder, tt.expected)
		})
	}
}

func TestPhotosHandler_Image(t *testing.T) {
	env := newTestEnv(t)
	photo := env.uploadPhoto(t)

	recorder := httptest.NewRecorder()
	env.photosHandler().Image(recorder, photoRequest(http.MethodGet, "/", photo.ID.String(), 0))

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "image/png")
	if cc := recorder.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("expected no-store, got %q", cc)
	}
	derived, _, err := env.orch.Derived(context.Background(), photo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(recorder.Body.Bytes(), derived) {
		t.Error("served bytes differ from the derived image")
	}
	if bytes.Equal(recorder.Body.Bytes(), testPNG(t)) {
		t.Error("served the original while a face is pending consent")
	}
}

func TestPhotosHandler_WithheldImage(t *testing.T) {
	env := newTestEnv(t)
	photo := env.uploadPhoto(t)
	handler := env.photosHandler()
	if err := env.store.SetPhotoStatus(context.Background(), photo.ID, database.PhotoWithheld, "disk full"); err != nil {
		t.Fatal(err)
	}

	recorder := httptest.NewRecorder()
	handler.Image(recorder, photoRequest(http.MethodGet, "/", photo.ID.String(), 0))
	assertStatusCode(t, recorder, http.StatusNotFound)

	recorder = httptest.NewRecorder()
	handler.Get(recorder, photoRequest(http.MethodGet, "/", photo.ID.String(), outsiderID))
	assertStatusCode(t, recorder, http.StatusOK)
	var resp PhotoResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Status != "withheld" || resp.ImageURL != "" {
		t.Errorf("unexpected photo %+v", resp)
	}
}

func TestPhotosHandler_OwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	photo := env.uploadPhoto(t)
	handler := env.photosHandler()
	id := photo.ID.String()

	tests := []struct {
		name     string
		call     func(w http.ResponseWriter, r *http.Request)
		method   string
		actor    int64
		expected int
	}{
		{"original by owner", handler.Original, http.MethodGet, ownerID, http.StatusOK},
		{"original by subject", handler.Original, http.MethodGet, subjectID, http.StatusForbidden},
		{"faces by owner", handler.Faces, http.MethodGet, ownerID, http.StatusOK},
		{"faces by outsider", handler.Faces, http.MethodGet, outsiderID, http.StatusForbidden},
		{"regenerate by outsider", handler.Regenerate, http.MethodPost, outsiderID, http.StatusForbidden},
		{"regenerate by owner", handler.Regenerate, http.MethodPost, ownerID, http.StatusOK},
		{"delete by subject", handler.Delete, http.MethodDelete, subjectID, http.StatusForbidden},
		{"delete unauthenticated", handler.Delete, http.MethodDelete, 0, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			tt.call(recorder, photoRequest(tt.method, "/", id, tt.actor))
			assertStatusCode(t, recorder, tt.expected)
		})
	}
}

func TestPhotosHandler_Faces(t *testing.T) {
	env := newTestEnv(t)
	photo := env.uploadPhoto(t)

	recorder := httptest.NewRecorder()
	env.photosHandler().Faces(recorder, photoRequest(http.MethodGet, "/", photo.ID.String(), ownerID))

	assertStatusCode(t, recorder, http.StatusOK)
	var faces []FaceResponse
	parseJSONResponse(t, recorder, &faces)
	if len(faces) != 1 {
		t.Fatalf("expected 1 face, got %d", len(faces))
	}
	if faces[0].Region != "4,4,28,28" {
		t.Errorf("expected region 4,4,28,28, got %q", faces[0].Region)
	}
	if faces[0].MatchedIdentityID == nil || *faces[0].MatchedIdentityID != subjectID {
		t.Errorf("expected match to %d, got %v", subjectID, faces[0].MatchedIdentityID)
	}
}

func TestPhotosHandler_Delete(t *testing.T) {
	env := newTestEnv(t)
	photo := env.uploadPhoto(t)
	handler := env.photosHandler()
	id := photo.ID.String()

	recorder := httptest.NewRecorder()
	handler.Delete(recorder, photoRequest(http.MethodDelete, "/", id, ownerID))
	assertStatusCode(t, recorder, http.StatusNoContent)

	recorder = httptest.NewRecorder()
	handler.Image(recorder, photoRequest(http.MethodGet, "/", id, 0))
	assertStatusCode(t, recorder, http.StatusNotFound)

	if env.assets.Len() != 0 {
		t.Errorf("expected no assets left, got %d", env.assets.Len())
	}
}
