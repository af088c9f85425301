package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/photo-consent/internal/facematch"
)

// PhotoStore persists photo metadata.
type PhotoStore interface {
	// CreatePhoto inserts a new photo row. ID and CreatedAt are filled in when zero.
	CreatePhoto(ctx context.Context, photo *Photo) error
	// GetPhoto returns ErrNotFound for an unknown id.
	GetPhoto(ctx context.Context, id uuid.UUID) (*Photo, error)
	// ListPhotos returns all photos, oldest first.
	ListPhotos(ctx context.Context) ([]Photo, error)
	// ListPhotoIDsByIdentity returns photos with at least one face matched to the identity.
	ListPhotoIDsByIdentity(ctx context.Context, identityID int64) ([]uuid.UUID, error)
	// SetPhotoStatus records a processing outcome without touching derived_at.
	SetPhotoStatus(ctx context.Context, id uuid.UUID, status PhotoStatus, detail string) error
	// MarkDerived records a successful derived image write and sets status ready.
	MarkDerived(ctx context.Context, id uuid.UUID, at time.Time) error
	// DeletePhoto removes the photo together with its faces and consent requests.
	DeletePhoto(ctx context.Context, id uuid.UUID) error
}

// FaceStore persists detected faces. Faces are written once per photo.
type FaceStore interface {
	// SaveIngestion stores the faces and marks the photo ingested in one
	// transaction. Returns ErrAlreadyIngested when the photo was ingested before.
	SaveIngestion(ctx context.Context, photoID uuid.UUID, faces []DetectedFace) ([]DetectedFace, error)
	// GetFaces returns the faces of a photo ordered by face index.
	GetFaces(ctx context.Context, photoID uuid.UUID) ([]DetectedFace, error)
}

// ConsentStore persists consent requests.
type ConsentStore interface {
	// CreateConsentRequest inserts req unless one exists for (photo, identity).
	// On conflict req is overwritten with the stored row and created is false.
	CreateConsentRequest(ctx context.Context, req *ConsentRequest) (created bool, err error)
	GetConsentRequest(ctx context.Context, id uuid.UUID) (*ConsentRequest, error)
	FindConsentRequest(ctx context.Context, photoID uuid.UUID, identityID int64) (*ConsentRequest, error)
	ListConsentRequestsByPhoto(ctx context.Context, photoID uuid.UUID) ([]ConsentRequest, error)
	// ListConsentRequestsByIdentity filters by status unless status is empty.
	ListConsentRequestsByIdentity(ctx context.Context, identityID int64, status ConsentStatus) ([]ConsentRequest, error)
	// TransitionConsentRequest moves a request from one status to another only
	// if it is currently in from. Returns ErrInvalidTransition otherwise.
	TransitionConsentRequest(ctx context.Context, id uuid.UUID, from, to ConsentStatus, at time.Time) (*ConsentRequest, error)
}

// IdentityStore persists identities and their preferences.
type IdentityStore interface {
	// CreateIdentity returns ErrConflict when the username is taken.
	CreateIdentity(ctx context.Context, username string) (*Identity, error)
	GetIdentity(ctx context.Context, id int64) (*Identity, error)
	GetIdentityByUsername(ctx context.Context, username string) (*Identity, error)
	ListIdentities(ctx context.Context) ([]Identity, error)
	SetSharingMode(ctx context.Context, id int64, mode SharingMode) error
	// SetAppearance stores the vector (nil clears it) together with the status.
	SetAppearance(ctx context.Context, id int64, vector []float32, status EncodingStatus) error
	// SharingModes returns the preferences of the given identities. Unknown ids are absent.
	SharingModes(ctx context.Context, ids []int64) (map[int64]SharingMode, error)
	// Gallery returns every identity with an appearance vector, read in one
	// query so a single ingestion sees a consistent snapshot.
	Gallery(ctx context.Context) ([]facematch.GalleryEntry, error)
}

// Store groups every repository the pipeline needs.
type Store interface {
	PhotoStore
	FaceStore
	ConsentStore
	IdentityStore
}
