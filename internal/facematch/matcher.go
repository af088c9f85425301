package facematch

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// MatchThreshold is the cosine similarity a gallery entry must strictly exceed
// for a face to be attributed to that identity.
const MatchThreshold = 0.5

var (
	// ErrNoGalleryEntry marks an identity whose stored vector cannot be used.
	// The identity is left out of the gallery; its faces end up unmatched.
	ErrNoGalleryEntry = errors.New("no gallery entry")

	// ErrInvalidQuery is returned when a detected face vector cannot be compared.
	ErrInvalidQuery = errors.New("invalid appearance vector")
)

// GalleryEntry is one identity's stored appearance vector.
type GalleryEntry struct {
	IdentityID int64
	Vector     []float32
}

// Match is the outcome of matching one face against the gallery.
// IdentityID is only meaningful when Matched is true.
type Match struct {
	IdentityID int64
	Similarity float64
	Matched    bool
}

type galleryItem struct {
	identityID int64
	vector     []float64
	norm2      float64
}

// Gallery is an immutable snapshot of identity vectors, sorted by identity ID.
type Gallery struct {
	items []galleryItem
	dim   int
}

// NewGallery validates and snapshots the entries. Entries with empty, zero,
// non-finite or wrong-dimension vectors are excluded and reported as errors
// wrapping ErrNoGalleryEntry. The dimension is taken from the first valid
// entry in identity order. Duplicate identity IDs keep the first entry.
func NewGallery(entries []GalleryEntry) (*Gallery, []error) {
	sorted := make([]GalleryEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].IdentityID < sorted[j].IdentityID })

	g := &Gallery{}
	var diags []error
	seen := make(map[int64]struct{}, len(sorted))
	for _, e := range sorted {
		if _, dup := seen[e.IdentityID]; dup {
			diags = append(diags, fmt.Errorf("%w: identity %d listed twice", ErrNoGalleryEntry, e.IdentityID))
			continue
		}
		vec, norm2, err := toFloat64(e.Vector)
		if err != nil {
			diags = append(diags, fmt.Errorf("%w: identity %d: %v", ErrNoGalleryEntry, e.IdentityID, err))
			continue
		}
		if g.dim == 0 {
			g.dim = len(vec)
		} else if len(vec) != g.dim {
			diags = append(diags, fmt.Errorf("%w: identity %d: dimension %d, gallery uses %d",
				ErrNoGalleryEntry, e.IdentityID, len(vec), g.dim))
			continue
		}
		seen[e.IdentityID] = struct{}{}
		g.items = append(g.items, galleryItem{identityID: e.IdentityID, vector: vec, norm2: norm2})
	}
	return g, diags
}

// Len returns the number of usable identities.
func (g *Gallery) Len() int {
	if g == nil {
		return 0
	}
	return len(g.items)
}

// Dim returns the vector dimension of the gallery, 0 when empty.
func (g *Gallery) Dim() int {
	if g == nil {
		return 0
	}
	return g.dim
}

// Match returns the single most similar identity. Similarity is the cosine of
// the angle between the vectors. The best entry is accepted only when its
// similarity is strictly greater than MatchThreshold. On ties the lowest
// identity ID wins. An empty gallery yields an unmatched result and no error.
func (g *Gallery) Match(query []float32) (Match, error) {
	if g.Len() == 0 {
		return Match{}, nil
	}
	q, qNorm2, err := toFloat64(query)
	if err != nil {
		return Match{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if len(q) != g.dim {
		return Match{}, fmt.Errorf("%w: dimension %d, gallery uses %d", ErrInvalidQuery, len(q), g.dim)
	}

	best := Match{Similarity: math.Inf(-1)}
	for _, item := range g.items {
		var dot float64
		for i := range q {
			dot += q[i] * item.vector[i]
		}
		sim := dot / math.Sqrt(qNorm2*item.norm2)
		// Strict comparison keeps the earlier (lower) identity on ties.
		if sim > best.Similarity {
			best = Match{IdentityID: item.identityID, Similarity: sim}
		}
	}
	best.Matched = best.Similarity > MatchThreshold
	if !best.Matched {
		best.IdentityID = 0
	}
	return best, nil
}

func toFloat64(v []float32) ([]float64, float64, error) {
	if len(v) == 0 {
		return nil, 0, errors.New("empty vector")
	}
	out := make([]float64, len(v))
	var norm2 float64
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, 0, fmt.Errorf("non-finite component at %d", i)
		}
		out[i] = f
		norm2 += f * f
	}
	if norm2 == 0 {
		return nil, 0, errors.New("zero vector")
	}
	return out, norm2, nil
}
