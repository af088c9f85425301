package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/photo-consent/internal/facematch"
)

// SharingMode is an identity's standing preference for appearing unmasked.
type SharingMode string

const (
	// SharingRequireConsent hides the identity's face unless a consent request
	// for that photo was approved. It is the default for new identities.
	SharingRequireConsent SharingMode = "REQUIRE_CONSENT"
	// SharingPublic shows the identity's face in every photo.
	SharingPublic SharingMode = "PUBLIC"
)

// Valid reports whether m is a known sharing mode.
func (m SharingMode) Valid() bool {
	return m == SharingRequireConsent || m == SharingPublic
}

// ParseSharingMode validates a sharing mode received from a client.
func ParseSharingMode(s string) (SharingMode, error) {
	m := SharingMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("invalid sharing mode %q", s)
	}
	return m, nil
}

// EncodingStatus tracks extraction of an identity's appearance vector.
type EncodingStatus string

const (
	EncodingPending EncodingStatus = "PENDING"
	EncodingSuccess EncodingStatus = "SUCCESS"
	EncodingNoFace  EncodingStatus = "NO_FACE"
	EncodingError   EncodingStatus = "ERROR"
)

// PhotoStatus is the processing state of a photo.
type PhotoStatus string

const (
	PhotoPending         PhotoStatus = "pending"
	PhotoReady           PhotoStatus = "ready"
	PhotoDetectionFailed PhotoStatus = "detection_failed"
	PhotoRedactionFailed PhotoStatus = "redaction_failed"
	// PhotoWithheld means a render that would have hidden more faces failed,
	// so no public image is served until a render succeeds.
	PhotoWithheld PhotoStatus = "withheld"
)

// ConsentStatus is the state of a consent request.
type ConsentStatus string

const (
	ConsentPending  ConsentStatus = "PENDING"
	ConsentApproved ConsentStatus = "APPROVED"
	ConsentDenied   ConsentStatus = "DENIED"
)

// Valid reports whether s is a known consent status.
func (s ConsentStatus) Valid() bool {
	switch s {
	case ConsentPending, ConsentApproved, ConsentDenied:
		return true
	}
	return false
}

// Identity is a registered person who may appear in photos.
type Identity struct {
	ID             int64
	Username       string
	SharingMode    SharingMode
	Appearance     []float32 // nil until a profile image yielded a face
	EncodingStatus EncodingStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Photo is an uploaded image. The original asset never changes; the derived
// asset is rebuilt from scratch whenever its inputs change.
type Photo struct {
	ID           uuid.UUID
	UploaderID   int64
	Width        int
	Height       int
	Format       string
	Status       PhotoStatus
	StatusDetail string
	CreatedAt    time.Time
	IngestedAt   *time.Time // set once faces were detected and persisted
	DerivedAt    *time.Time // last successful derived image write
}

// Ingested reports whether detection already ran for the photo.
func (p *Photo) Ingested() bool {
	return p.IngestedAt != nil
}

// DetectedFace is one face found in a photo at ingestion time.
type DetectedFace struct {
	ID                int64
	PhotoID           uuid.UUID
	FaceIndex         int
	Region            facematch.Region
	MatchedIdentityID *int64
	Similarity        float64
	DetScore          float64
	CreatedAt         time.Time
}

// Matched reports whether the face was linked to an identity.
func (f *DetectedFace) Matched() bool {
	return f.MatchedIdentityID != nil
}

// ConsentRequest asks an identity whether their face may be shown in a photo.
type ConsentRequest struct {
	ID         uuid.UUID
	PhotoID    uuid.UUID
	IdentityID int64
	Region     facematch.Region
	Status     ConsentStatus
	CreatedAt  time.Time
	DecidedAt  *time.Time
}
