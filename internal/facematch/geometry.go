package facematch

import "math"

// Clip intersects the region with the image extent [0,width)x[0,height).
// The boolean is false when nothing of the region lies inside the image;
// that is a no-op for redaction, not an error.
func (r Region) Clip(width, height int) (Region, bool) {
	c := Region{
		Left:   max(r.Left, 0),
		Top:    max(r.Top, 0),
		Right:  min(r.Right, width),
		Bottom: min(r.Bottom, height),
	}
	if c.Empty() {
		return Region{}, false
	}
	return c, true
}

// RegionFromBBox converts a detector box [x1, y1, x2, y2] in float pixels to a
// Region. Left/top are floored and right/bottom ceiled so the integer region
// always covers the whole detected box.
func RegionFromBBox(bbox []float64) (Region, bool) {
	if len(bbox) != 4 {
		return Region{}, false
	}
	for _, v := range bbox {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Region{}, false
		}
	}
	r := Region{
		Left:   int(math.Floor(bbox[0])),
		Top:    int(math.Floor(bbox[1])),
		Right:  int(math.Ceil(bbox[2])),
		Bottom: int(math.Ceil(bbox[3])),
	}
	if r.Empty() {
		return Region{}, false
	}
	return r, true
}
