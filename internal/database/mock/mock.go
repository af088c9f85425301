// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/facematch"
)

// MockStore is an in-memory implementation of database.Store
type MockStore struct {
	mu         sync.RWMutex
	identities map[int64]*database.Identity
	photos     map[uuid.UUID]*database.Photo
	faces      map[uuid.UUID][]database.DetectedFace
	requests   map[uuid.UUID]*database.ConsentRequest
	nextID     int64
	nextFaceID int64

	// Error injection
	CreatePhotoError       error
	GetPhotoError          error
	SetPhotoStatusError    error
	MarkDerivedError       error
	DeletePhotoError       error
	SaveIngestionError     error
	GetFacesError          error
	CreateConsentError     error
	TransitionConsentError error
	ListConsentError       error
	SharingModesError      error
	GalleryError           error
	SetAppearanceError     error
	SetSharingModeError    error

	// Calls records mutating calls in order, for assertions.
	Calls []string
}

var _ database.Store = (*MockStore)(nil)

// NewMockStore creates an empty mock store
func NewMockStore() *MockStore {
	return &MockStore{
		identities: make(map[int64]*database.Identity),
		photos:     make(map[uuid.UUID]*database.Photo),
		faces:      make(map[uuid.UUID][]database.DetectedFace),
		requests:   make(map[uuid.UUID]*database.ConsentRequest),
	}
}

func (m *MockStore) record(call string) {
	m.Calls = append(m.Calls, call)
}

// AddIdentity inserts an identity directly, assigning an id when zero
func (m *MockStore) AddIdentity(ident database.Identity) *database.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ident.ID == 0 {
		m.nextID++
		ident.ID = m.nextID
	} else if ident.ID > m.nextID {
		m.nextID = ident.ID
	}
	if ident.SharingMode == "" {
		ident.SharingMode = database.SharingRequireConsent
	}
	if ident.EncodingStatus == "" {
		ident.EncodingStatus = database.EncodingPending
		if ident.Appearance != nil {
			ident.EncodingStatus = database.EncodingSuccess
		}
	}
	m.identities[ident.ID] = &ident
	cp := ident
	return &cp
}

// AddFaces stores faces for a photo without marking it ingested
func (m *MockStore) AddFaces(photoID uuid.UUID, faces []database.DetectedFace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range faces {
		m.nextFaceID++
		faces[i].ID = m.nextFaceID
		faces[i].PhotoID = photoID
	}
	m.faces[photoID] = append(m.faces[photoID], faces...)
}

// CreatePhoto inserts a photo
func (m *MockStore) CreatePhoto(ctx context.Context, photo *database.Photo) error {
	if m.CreatePhotoError != nil {
		return m.CreatePhotoError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if photo.ID == uuid.Nil {
		photo.ID = uuid.New()
	}
	if _, ok := m.photos[photo.ID]; ok {
		return fmt.Errorf("photo %s: %w", photo.ID, database.ErrConflict)
	}
	if photo.Status == "" {
		photo.Status = database.PhotoPending
	}
	photo.CreatedAt = time.Now()
	cp := *photo
	m.photos[photo.ID] = &cp
	m.record("CreatePhoto")
	return nil
}

// GetPhoto returns a copy of the stored photo
func (m *MockStore) GetPhoto(ctx context.Context, id uuid.UUID) (*database.Photo, error) {
	if m.GetPhotoError != nil {
		return nil, m.GetPhotoError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.photos[id]
	if !ok {
		return nil, fmt.Errorf("photo %s: %w", id, database.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// ListPhotos returns all photos ordered by creation time
func (m *MockStore) ListPhotos(ctx context.Context) ([]database.Photo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.Photo, 0, len(m.photos))
	for _, p := range m.photos {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b database.Photo) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

// ListPhotoIDsByIdentity returns photos with a face matched to the identity
func (m *MockStore) ListPhotoIDsByIdentity(ctx context.Context, identityID int64) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []uuid.UUID
	for photoID, faces := range m.faces {
		for _, f := range faces {
			if f.MatchedIdentityID != nil && *f.MatchedIdentityID == identityID {
				ids = append(ids, photoID)
				break
			}
		}
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
	return ids, nil
}

// SetPhotoStatus updates the photo status
func (m *MockStore) SetPhotoStatus(ctx context.Context, id uuid.UUID, status database.PhotoStatus, detail string) error {
	if m.SetPhotoStatusError != nil {
		return m.SetPhotoStatusError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.photos[id]
	if !ok {
		return fmt.Errorf("photo %s: %w", id, database.ErrNotFound)
	}
	p.Status = status
	p.StatusDetail = detail
	m.record("SetPhotoStatus:" + string(status))
	return nil
}

// MarkDerived records a derived image write
func (m *MockStore) MarkDerived(ctx context.Context, id uuid.UUID, at time.Time) error {
	if m.MarkDerivedError != nil {
		return m.MarkDerivedError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.photos[id]
	if !ok {
		return fmt.Errorf("photo %s: %w", id, database.ErrNotFound)
	}
	p.Status = database.PhotoReady
	p.StatusDetail = ""
	p.DerivedAt = &at
	m.record("MarkDerived")
	return nil
}

// DeletePhoto removes the photo with its faces and consent requests
func (m *MockStore) DeletePhoto(ctx context.Context, id uuid.UUID) error {
	if m.DeletePhotoError != nil {
		return m.DeletePhotoError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.photos[id]; !ok {
		return fmt.Errorf("photo %s: %w", id, database.ErrNotFound)
	}
	delete(m.photos, id)
	delete(m.faces, id)
	for rid, r := range m.requests {
		if r.PhotoID == id {
			delete(m.requests, rid)
		}
	}
	m.record("DeletePhoto")
	return nil
}

// SaveIngestion stores faces and marks the photo ingested
func (m *MockStore) SaveIngestion(
	ctx context.Context, photoID uuid.UUID, faces []database.DetectedFace,
) ([]database.DetectedFace, error) {
	if m.SaveIngestionError != nil {
		return nil, m.SaveIngestionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.photos[photoID]
	if !ok {
		return nil, fmt.Errorf("photo %s: %w", photoID, database.ErrNotFound)
	}
	if p.IngestedAt != nil {
		return nil, fmt.Errorf("photo %s: %w", photoID, database.ErrAlreadyIngested)
	}
	now := time.Now()
	p.IngestedAt = &now

	saved := make([]database.DetectedFace, len(faces))
	for i, f := range faces {
		m.nextFaceID++
		f.ID = m.nextFaceID
		f.PhotoID = photoID
		f.CreatedAt = now
		saved[i] = f
	}
	m.faces[photoID] = slices.Clone(saved)
	m.record("SaveIngestion")
	return saved, nil
}

// GetFaces returns the faces of a photo ordered by face index
func (m *MockStore) GetFaces(ctx context.Context, photoID uuid.UUID) ([]database.DetectedFace, error) {
	if m.GetFacesError != nil {
		return nil, m.GetFacesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.faces[photoID])
	slices.SortFunc(out, func(a, b database.DetectedFace) int { return a.FaceIndex - b.FaceIndex })
	return out, nil
}

// CreateConsentRequest inserts a request unless one exists for (photo, identity)
func (m *MockStore) CreateConsentRequest(ctx context.Context, req *database.ConsentRequest) (bool, error) {
	if m.CreateConsentError != nil {
		return false, m.CreateConsentError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.PhotoID == req.PhotoID && r.IdentityID == req.IdentityID {
			*req = *r
			return false, nil
		}
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = database.ConsentPending
	}
	req.CreatedAt = time.Now()
	cp := *req
	m.requests[req.ID] = &cp
	m.record("CreateConsentRequest")
	return true, nil
}

// GetConsentRequest returns a request by id
func (m *MockStore) GetConsentRequest(ctx context.Context, id uuid.UUID) (*database.ConsentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("consent request %s: %w", id, database.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

// FindConsentRequest returns the request for (photo, identity)
func (m *MockStore) FindConsentRequest(
	ctx context.Context, photoID uuid.UUID, identityID int64,
) (*database.ConsentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.requests {
		if r.PhotoID == photoID && r.IdentityID == identityID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("consent request for photo %s identity %d: %w", photoID, identityID, database.ErrNotFound)
}

// ListConsentRequestsByPhoto returns requests for a photo ordered by identity
func (m *MockStore) ListConsentRequestsByPhoto(ctx context.Context, photoID uuid.UUID) ([]database.ConsentRequest, error) {
	if m.ListConsentError != nil {
		return nil, m.ListConsentError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.ConsentRequest
	for _, r := range m.requests {
		if r.PhotoID == photoID {
			out = append(out, *r)
		}
	}
	slices.SortFunc(out, func(a, b database.ConsentRequest) int { return int(a.IdentityID - b.IdentityID) })
	return out, nil
}

// ListConsentRequestsByIdentity returns requests addressed to an identity
func (m *MockStore) ListConsentRequestsByIdentity(
	ctx context.Context, identityID int64, status database.ConsentStatus,
) ([]database.ConsentRequest, error) {
	if m.ListConsentError != nil {
		return nil, m.ListConsentError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.ConsentRequest
	for _, r := range m.requests {
		if r.IdentityID == identityID && (status == "" || r.Status == status) {
			out = append(out, *r)
		}
	}
	slices.SortFunc(out, func(a, b database.ConsentRequest) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// TransitionConsentRequest performs a compare-and-set on the status
func (m *MockStore) TransitionConsentRequest(
	ctx context.Context, id uuid.UUID, from, to database.ConsentStatus, at time.Time,
) (*database.ConsentRequest, error) {
	if m.TransitionConsentError != nil {
		return nil, m.TransitionConsentError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("consent request %s: %w", id, database.ErrNotFound)
	}
	if r.Status != from {
		return nil, fmt.Errorf("consent request %s is %s: %w", id, r.Status, database.ErrInvalidTransition)
	}
	r.Status = to
	r.DecidedAt = &at
	m.record("TransitionConsentRequest:" + string(to))
	cp := *r
	return &cp, nil
}

// CreateIdentity registers a username
func (m *MockStore) CreateIdentity(ctx context.Context, username string) (*database.Identity, error) {
	m.mu.RLock()
	for _, ident := range m.identities {
		if ident.Username == username {
			m.mu.RUnlock()
			return nil, fmt.Errorf("username %q: %w", username, database.ErrConflict)
		}
	}
	m.mu.RUnlock()
	now := time.Now()
	return m.AddIdentity(database.Identity{Username: username, CreatedAt: now, UpdatedAt: now}), nil
}

// GetIdentity returns an identity by id
func (m *MockStore) GetIdentity(ctx context.Context, id int64) (*database.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ident, ok := m.identities[id]
	if !ok {
		return nil, fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	cp := *ident
	return &cp, nil
}

// GetIdentityByUsername returns an identity by username
func (m *MockStore) GetIdentityByUsername(ctx context.Context, username string) (*database.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ident := range m.identities {
		if ident.Username == username {
			cp := *ident
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("identity %q: %w", username, database.ErrNotFound)
}

// ListIdentities returns all identities ordered by id
func (m *MockStore) ListIdentities(ctx context.Context) ([]database.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.Identity, 0, len(m.identities))
	for _, ident := range m.identities {
		out = append(out, *ident)
	}
	slices.SortFunc(out, func(a, b database.Identity) int { return int(a.ID - b.ID) })
	return out, nil
}

// SetSharingMode updates an identity's preference
func (m *MockStore) SetSharingMode(ctx context.Context, id int64, mode database.SharingMode) error {
	if m.SetSharingModeError != nil {
		return m.SetSharingModeError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[id]
	if !ok {
		return fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	ident.SharingMode = mode
	ident.UpdatedAt = time.Now()
	m.record("SetSharingMode:" + string(mode))
	return nil
}

// SetAppearance stores or clears an appearance vector
func (m *MockStore) SetAppearance(ctx context.Context, id int64, vector []float32, status database.EncodingStatus) error {
	if m.SetAppearanceError != nil {
		return m.SetAppearanceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[id]
	if !ok {
		return fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	if len(vector) == 0 {
		ident.Appearance = nil
	} else {
		ident.Appearance = slices.Clone(vector)
	}
	ident.EncodingStatus = status
	ident.UpdatedAt = time.Now()
	return nil
}

// SharingModes returns preferences of the given identities
func (m *MockStore) SharingModes(ctx context.Context, ids []int64) (map[int64]database.SharingMode, error) {
	if m.SharingModesError != nil {
		return nil, m.SharingModesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	modes := make(map[int64]database.SharingMode, len(ids))
	for _, id := range ids {
		if ident, ok := m.identities[id]; ok {
			modes[id] = ident.SharingMode
		}
	}
	return modes, nil
}

// Gallery returns every enrolled identity ordered by id
func (m *MockStore) Gallery(ctx context.Context) ([]facematch.GalleryEntry, error) {
	if m.GalleryError != nil {
		return nil, m.GalleryError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []facematch.GalleryEntry
	for _, ident := range m.identities {
		if ident.Appearance != nil && ident.EncodingStatus == database.EncodingSuccess {
			entries = append(entries, facematch.GalleryEntry{IdentityID: ident.ID, Vector: slices.Clone(ident.Appearance)})
		}
	}
	slices.SortFunc(entries, func(a, b facematch.GalleryEntry) int { return int(a.IdentityID - b.IdentityID) })
	return entries, nil
}
