// Package visibility decides, face by face, whether a face may appear
// unobscured in the public image of a photo.
package visibility

import (
	"github.com/kozaktomas/photo-consent/internal/consent"
	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/facematch"
)

// Policy is the snapshot of preferences and consent decisions for one photo.
type Policy struct {
	SharingModes map[int64]database.SharingMode
	Decisions    map[int64]consent.Decision
}

// Reason explains a verdict.
type Reason string

const (
	ReasonUnmatched Reason = "unmatched"
	ReasonUploader  Reason = "uploader"
	ReasonPublic    Reason = "public"
	ReasonApproved  Reason = "approved"
	ReasonPending   Reason = "pending"
	ReasonDenied    Reason = "denied"
	ReasonNoRequest Reason = "no_request"
)

// Verdict is the resolution for a single face.
type Verdict struct {
	Face    database.DetectedFace
	Visible bool
	Reason  Reason
}

func decide(face *database.DetectedFace, photo *database.Photo, policy Policy) (bool, Reason) {
	if !face.Matched() {
		return false, ReasonUnmatched
	}
	id := *face.MatchedIdentityID
	if id == photo.UploaderID {
		return true, ReasonUploader
	}
	// A missing preference reads as REQUIRE_CONSENT.
	if policy.SharingModes[id] == database.SharingPublic {
		return true, ReasonPublic
	}
	switch policy.Decisions[id] {
	case consent.Approved:
		return true, ReasonApproved
	case consent.Denied:
		return false, ReasonDenied
	case consent.Pending:
		return false, ReasonPending
	default:
		return false, ReasonNoRequest
	}
}

// ShouldUnmask reports whether the face may be shown.
func ShouldUnmask(face database.DetectedFace, photo database.Photo, policy Policy) bool {
	visible, _ := decide(&face, &photo, policy)
	return visible
}

// Resolve returns one verdict per face, in input order.
func Resolve(faces []database.DetectedFace, photo database.Photo, policy Policy) []Verdict {
	out := make([]Verdict, len(faces))
	for i := range faces {
		visible, reason := decide(&faces[i], &photo, policy)
		out[i] = Verdict{Face: faces[i], Visible: visible, Reason: reason}
	}
	return out
}

// HiddenRegions returns the regions that must be obscured, in face order.
func HiddenRegions(faces []database.DetectedFace, photo database.Photo, policy Policy) []facematch.Region {
	var regions []facematch.Region
	for i := range faces {
		if visible, _ := decide(&faces[i], &photo, policy); !visible {
			regions = append(regions, faces[i].Region)
		}
	}
	return regions
}

// IdentityIDs returns the distinct matched identities of the faces.
func IdentityIDs(faces []database.DetectedFace) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, f := range faces {
		if f.MatchedIdentityID != nil && !seen[*f.MatchedIdentityID] {
			seen[*f.MatchedIdentityID] = true
			ids = append(ids, *f.MatchedIdentityID)
		}
	}
	return ids
}
