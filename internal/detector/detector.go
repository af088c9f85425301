// Package detector talks to the InsightFace embedding service, which finds
// faces in an image and returns one appearance vector per face.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/kozaktomas/photo-consent/internal/constants"
	"github.com/kozaktomas/photo-consent/internal/storage"
)

const defaultURL = "http://localhost:8000"

// ErrUnavailable is returned when the service cannot be reached or fails.
var ErrUnavailable = errors.New("face detector unavailable")

// Detection is one face found by the service.
type Detection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2] in raw pixels
	DetScore  float64   `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int         `json:"faces_count"`
	Faces      []Detection `json:"faces"`
	Model      string      `json:"model"`
}

// Detector finds faces in encoded images.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]Detection, error)
}

// Func adapts a plain function to the Detector interface.
type Func func(ctx context.Context, image []byte) ([]Detection, error)

// Detect calls f.
func (f Func) Detect(ctx context.Context, image []byte) ([]Detection, error) {
	return f(ctx, image)
}

// Client is the HTTP Detector.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client with the given per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Detect posts the image to /embed/face.
func (c *Client) Detect(ctx context.Context, image []byte) ([]Detection, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", image)
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrUnavailable, err)
	}
	return resp.Faces, nil
}

// Warmup runs one inference on a blank frame so the first real request does
// not pay for model loading.
func (c *Client) Warmup(ctx context.Context) error {
	blank := imaging.New(constants.WarmupImageSize, constants.WarmupImageSize, color.Black)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, blank, imaging.JPEG); err != nil {
		return fmt.Errorf("encode warmup frame: %w", err)
	}
	if _, err := c.Detect(ctx, buf.Bytes()); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	return nil
}

// postMultipartImage posts the image as the "file" form field.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}

// detectMIMEType maps the image magic bytes to a content type.
func detectMIMEType(data []byte) string {
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	if len(data) >= 2 && data[0] == 'B' && data[1] == 'M' {
		return storage.ContentType("bmp")
	}
	if len(data) >= 4 && (string(data[:4]) == "II*\x00" || string(data[:4]) == "MM\x00*") {
		return storage.ContentType("tiff")
	}
	return "application/octet-stream"
}
