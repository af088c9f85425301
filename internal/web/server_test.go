package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/photo-consent/internal/config"
	"github.com/kozaktomas/photo-consent/internal/consent"
	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/database/mock"
	"github.com/kozaktomas/photo-consent/internal/detector"
	"github.com/kozaktomas/photo-consent/internal/identity"
	"github.com/kozaktomas/photo-consent/internal/lock"
	"github.com/kozaktomas/photo-consent/internal/pipeline"
	"github.com/kozaktomas/photo-consent/internal/redaction"
	"github.com/kozaktomas/photo-consent/internal/storage"
	"github.com/kozaktomas/photo-consent/internal/web/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const testSecret = "server-test-secret"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := mock.NewMockStore()
	store.AddIdentity(database.Identity{ID: 1, Username: "owner"})
	store.AddIdentity(database.Identity{ID: 2, Username: "subject", Appearance: []float32{1, 0}})

	assets := storage.NewMemoryStore()
	det := detector.Func(func(ctx context.Context, img []byte) ([]detector.Detection, error) {
		return []detector.Detection{{Embedding: []float32{1, 0}, BBox: []float64{2, 2, 14, 14}}}, nil
	})
	engine, err := redaction.NewEngine(redaction.Options{})
	if err != nil {
		t.Fatal(err)
	}
	reg := prometheus.NewRegistry()
	ledger := consent.NewLedger(store, zerolog.Nop())
	orch := pipeline.New(pipeline.Deps{
		Store:    store,
		Assets:   assets,
		Detector: det,
		Engine:   engine,
		Ledger:   ledger,
		Locker:   lock.NewKeyedMutex(),
		Metrics:  pipeline.NewMetrics(reg),
		Log:      zerolog.Nop(),
	})

	cfg := config.Defaults()
	cfg.Auth.JWTSecret = testSecret
	return NewServer(&cfg, Deps{
		Photos:     orch,
		Consent:    ledger,
		Identities: identity.NewService(store, assets, det, orch, 1, zerolog.Nop()),
		Ping:       func(ctx context.Context) error { return nil },
		Gatherer:   reg,
		Log:        zerolog.Nop(),
	})
}

func bearer(t *testing.T, id int64) string {
	t.Helper()
	token, err := middleware.SignToken(testSecret, id, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + token
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestServer_PublicEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("metrics: expected 200, got %d", rec.Code)
	}
}

func TestServer_RequiresToken(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/api/v1/identities/me", "/api/v1/consent-requests"} {
		rec := serve(s, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestServer_ConsentFlow(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 16, 16))); err != nil {
		t.Fatal(err)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "p.png")
	part.Write(buf.Bytes())
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/photos", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", bearer(t, 1))
	rec := serve(s, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var photo struct {
		ID string `json:"id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &photo)

	// Anyone may fetch the public image.
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/photos/"+photo.ID+"/image", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("image: got %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/consent-requests?status=PENDING", nil)
	req.Header.Set("Authorization", bearer(t, 2))
	rec = serve(s, req)
	var reqs []struct {
		ID string `json:"id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &reqs)
	if rec.Code != http.StatusOK || len(reqs) != 1 {
		t.Fatalf("list: got %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/consent-requests/"+reqs[0].ID+"/decision",
		strings.NewReader(`{"outcome":"APPROVED"}`))
	req.Header.Set("Authorization", bearer(t, 2))
	rec = serve(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("decide: got %d %s", rec.Code, rec.Body.String())
	}

	// The original stays private to the uploader.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/photos/"+photo.ID+"/original", nil)
	req.Header.Set("Authorization", bearer(t, 2))
	if rec = serve(s, req); rec.Code != http.StatusForbidden {
		t.Errorf("original by subject: expected 403, got %d", rec.Code)
	}
}
