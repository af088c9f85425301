// Package facematch holds the face geometry and identity matching logic used by
// the ingestion pipeline. Everything here is pure: no storage, no logging.
package facematch

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
)

// ErrInvalidRegion is returned when a region cannot be parsed.
var ErrInvalidRegion = errors.New("invalid region")

// Region is an axis-aligned rectangle in original-image pixel coordinates.
// Left and Top are inclusive, Right and Bottom exclusive.
type Region struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Empty reports whether the region covers no pixels.
func (r Region) Empty() bool {
	return r.Right <= r.Left || r.Bottom <= r.Top
}

// Width returns the horizontal extent, or 0 for an empty region.
func (r Region) Width() int {
	if r.Empty() {
		return 0
	}
	return r.Right - r.Left
}

// Height returns the vertical extent, or 0 for an empty region.
func (r Region) Height() int {
	if r.Empty() {
		return 0
	}
	return r.Bottom - r.Top
}

// Area returns the number of pixels covered.
func (r Region) Area() int {
	return r.Width() * r.Height()
}

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Right, r.Bottom)
}

// String encodes the region as "left,top,right,bottom". This is the only
// textual geometry format and ParseRegion reverses it exactly.
func (r Region) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.Left, r.Top, r.Right, r.Bottom)
}

// Ints returns the region as a [left, top, right, bottom] slice for array columns.
func (r Region) Ints() []int64 {
	return []int64{int64(r.Left), int64(r.Top), int64(r.Right), int64(r.Bottom)}
}

// RegionFromInts builds a region from a [left, top, right, bottom] slice.
func RegionFromInts(v []int64) (Region, error) {
	if len(v) != 4 {
		return Region{}, fmt.Errorf("%w: expected 4 values, got %d", ErrInvalidRegion, len(v))
	}
	return Region{Left: int(v[0]), Top: int(v[1]), Right: int(v[2]), Bottom: int(v[3])}, nil
}

// ParseRegion decodes a "left,top,right,bottom" string.
func ParseRegion(s string) (Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Region{}, fmt.Errorf("%w: %q", ErrInvalidRegion, s)
	}
	vals := make([]int64, 4)
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return Region{}, fmt.Errorf("%w: %q: %v", ErrInvalidRegion, s, err)
		}
		vals[i] = n
	}
	return RegionFromInts(vals)
}
