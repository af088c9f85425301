// Package redaction obscures rectangular regions of an image and re-encodes it
// in its original format.
package redaction

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/kozaktomas/photo-consent/internal/constants"
	"github.com/kozaktomas/photo-consent/internal/facematch"
	"golang.org/x/image/draw"
)

var (
	// ErrSourceCorrupt is returned when the original cannot be decoded.
	ErrSourceCorrupt = errors.New("source image corrupt")
	// ErrUnsupportedFormat is returned for formats that cannot be re-encoded.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrBlurTooWeak is returned for blur settings that would leave faces recognisable.
	ErrBlurTooWeak = errors.New("blur strength below minimum")
)

// MinBlurSigma is the weakest accepted blur.
const MinBlurSigma = constants.MinBlurSigma

// Options configure an Engine. Zero values select defaults.
type Options struct {
	Sigma       float64
	JPEGQuality int
}

// Engine applies the redaction filter. It is safe for concurrent use.
type Engine struct {
	sigma       float64
	block       int
	jpegQuality int
}

// NewEngine validates opts and builds an engine.
func NewEngine(opts Options) (*Engine, error) {
	sigma := opts.Sigma
	if sigma == 0 {
		sigma = constants.DefaultBlurSigma
	}
	if sigma < MinBlurSigma {
		return nil, fmt.Errorf("%w: sigma %.1f < %.1f", ErrBlurTooWeak, sigma, MinBlurSigma)
	}

	quality := opts.JPEGQuality
	if quality == 0 {
		quality = constants.DefaultJPEGQuality
	}
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("jpeg quality %d out of range 1-100", quality)
	}

	return &Engine{
		sigma:       sigma,
		block:       max(2, int(sigma/2)),
		jpegQuality: quality,
	}, nil
}

// Sigma returns the effective blur strength.
func (e *Engine) Sigma() float64 {
	return e.sigma
}

// ImageInfo describes an encoded image without decoding its pixels.
type ImageInfo struct {
	Width  int
	Height int
	Format string
}

// Inspect reads the image header.
func Inspect(data []byte) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return ImageInfo{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return ImageInfo{}, fmt.Errorf("%w: %v", ErrSourceCorrupt, err)
	}
	if _, err := imaging.FormatFromExtension(format); err != nil {
		return ImageInfo{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return ImageInfo{}, fmt.Errorf("%w: empty image", ErrSourceCorrupt)
	}
	return ImageInfo{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// Redact obscures every region of original and returns the re-encoded image.
// Regions are clipped to the image; a region entirely outside is skipped.
// When no region remains the original bytes are returned as they are.
func (e *Engine) Redact(original []byte, regions []facematch.Region) ([]byte, error) {
	info, err := Inspect(original)
	if err != nil {
		return nil, err
	}

	effective := make([]image.Rectangle, 0, len(regions))
	for _, r := range regions {
		if c, ok := r.Clip(info.Width, info.Height); ok {
			effective = append(effective, c.Rect())
		}
	}
	if len(effective) == 0 {
		return original, nil
	}

	src, err := imaging.Decode(bytes.NewReader(original))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceCorrupt, err)
	}

	canvas := imaging.Clone(src)
	for _, rect := range effective {
		e.obscure(canvas, rect)
	}

	format, _ := imaging.FormatFromExtension(info.Format)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, format, imaging.JPEGQuality(e.jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode %s: %w", info.Format, err)
	}
	return buf.Bytes(), nil
}

// obscure pixelates rect and then blurs it. Only pixels inside rect change.
func (e *Engine) obscure(canvas *image.NRGBA, rect image.Rectangle) {
	rect = rect.Add(canvas.Bounds().Min)
	w, h := rect.Dx(), rect.Dy()

	region := imaging.Crop(canvas, rect)
	small := imaging.Resize(region, max(1, w/e.block), max(1, h/e.block), imaging.Box)
	pixelated := imaging.Resize(small, w, h, imaging.NearestNeighbor)
	blurred := imaging.Blur(pixelated, e.sigma)

	draw.Draw(canvas, rect, blurred, image.Point{}, draw.Src)
}
