package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
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

const (
	ownerID    int64 = 1
	subjectID  int64 = 2
	outsiderID int64 = 3
)

// testEnv wires the real services over in-memory stores.
type testEnv struct {
	store      *mock.MockStore
	assets     *storage.MemoryStore
	ledger     *consent.Ledger
	orch       *pipeline.Orchestrator
	identities *identity.Service
	detections []detector.Detection
	detectErr  error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  mock.NewMockStore(),
		assets: storage.NewMemoryStore(),
	}
	env.store.AddIdentity(database.Identity{ID: ownerID, Username: "owner", Appearance: []float32{1, 0}})
	env.store.AddIdentity(database.Identity{ID: subjectID, Username: "subject", Appearance: []float32{0, 1}})
	env.store.AddIdentity(database.Identity{ID: outsiderID, Username: "outsider"})
	env.detections = []detector.Detection{
		{Embedding: []float32{0, 1}, BBox: []float64{4, 4, 28, 28}, DetScore: 0.9},
	}

	det := detector.Func(func(ctx context.Context, img []byte) ([]detector.Detection, error) {
		return env.detections, env.detectErr
	})
	engine, err := redaction.NewEngine(redaction.Options{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	env.ledger = consent.NewLedger(env.store, zerolog.Nop())
	env.orch = pipeline.New(pipeline.Deps{
		Store:    env.store,
		Assets:   env.assets,
		Detector: det,
		Engine:   engine,
		Ledger:   env.ledger,
		Locker:   lock.NewKeyedMutex(),
		Metrics:  pipeline.NewMetrics(prometheus.NewRegistry()),
		Log:      zerolog.Nop(),
	})
	env.identities = identity.NewService(env.store, env.assets, det, env.orch, 1, zerolog.Nop())
	return env
}

// testPNG returns a small patterned PNG.
func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for y := range 48 {
		for x := range 64 {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 5), B: uint8((x + y) % 2 * 255), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// multipartBody builds a body with a single "file" part.
func multipartBody(t *testing.T, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "photo.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

// asIdentity attaches an authenticated identity to the request.
func asIdentity(r *http.Request, id int64) *http.Request {
	return r.WithContext(middleware.SetIdentityInContext(r.Context(), id))
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%v'", expectedMessage, result["error"])
	}
}
