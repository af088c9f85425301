// Package identity manages identities: their sharing preference and the
// appearance vector enrolled from a profile image.
package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/kozaktomas/photo-consent/internal/constants"
	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/detector"
	"github.com/kozaktomas/photo-consent/internal/facematch"
	"github.com/kozaktomas/photo-consent/internal/redaction"
	"github.com/kozaktomas/photo-consent/internal/storage"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidUsername is returned for usernames that normalize to nothing
	// usable.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidSharingMode is returned for unknown preferences.
	ErrInvalidSharingMode = errors.New("invalid sharing mode")
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

// Regenerator re-renders the photos of an identity after its preference
// changed.
type Regenerator interface {
	RegenerateForIdentity(ctx context.Context, identityID int64) (int, error)
}

// Service implements identity operations.
type Service struct {
	store       database.IdentityStore
	assets      storage.AssetStore
	detector    detector.Detector
	regenerator Regenerator
	concurrency int
	log         zerolog.Logger
}

// NewService creates an identity service. concurrency bounds RecomputeAll;
// zero selects the default.
func NewService(
	store database.IdentityStore,
	assets storage.AssetStore,
	det detector.Detector,
	regen Regenerator,
	concurrency int,
	log zerolog.Logger,
) *Service {
	if concurrency <= 0 {
		concurrency = constants.WorkerPoolSize
	}
	return &Service{
		store:       store,
		assets:      assets,
		detector:    det,
		regenerator: regen,
		concurrency: concurrency,
		log:         log.With().Str("component", "identity").Logger(),
	}
}

func profileKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Create registers a new identity with the default REQUIRE_CONSENT preference.
func (s *Service) Create(ctx context.Context, username string) (*database.Identity, error) {
	name := facematch.NormalizeUsername(username)
	if !usernamePattern.MatchString(name) {
		return nil, fmt.Errorf("%q: %w", username, ErrInvalidUsername)
	}
	ident, err := s.store.CreateIdentity(ctx, name)
	if err != nil {
		return nil, err
	}
	s.log.Info().Int64("identity_id", ident.ID).Str("username", name).Msg("identity created")
	return ident, nil
}

// Get returns an identity by id.
func (s *Service) Get(ctx context.Context, id int64) (*database.Identity, error) {
	return s.store.GetIdentity(ctx, id)
}

// GetByUsername looks an identity up by its normalized username.
func (s *Service) GetByUsername(ctx context.Context, username string) (*database.Identity, error) {
	return s.store.GetIdentityByUsername(ctx, facematch.NormalizeUsername(username))
}

// List returns every identity.
func (s *Service) List(ctx context.Context) ([]database.Identity, error) {
	return s.store.ListIdentities(ctx)
}

// SetSharingMode stores the preference and re-renders every photo showing the
// identity. The preference is stored even when some photos fail to render;
// the render error is returned alongside.
func (s *Service) SetSharingMode(ctx context.Context, id int64, mode database.SharingMode) (int, error) {
	if !mode.Valid() {
		return 0, fmt.Errorf("%q: %w", mode, ErrInvalidSharingMode)
	}
	if err := s.store.SetSharingMode(ctx, id, mode); err != nil {
		return 0, err
	}
	s.log.Info().Int64("identity_id", id).Str("mode", string(mode)).Msg("sharing mode changed")

	if s.regenerator == nil {
		return 0, nil
	}
	return s.regenerator.RegenerateForIdentity(ctx, id)
}

// SetProfileImage stores the profile image and enrols the appearance of its
// largest face. A decodable image without a face clears the vector with
// status NO_FACE; a detector failure records ERROR and returns the error.
func (s *Service) SetProfileImage(ctx context.Context, id int64, data []byte) (database.EncodingStatus, error) {
	if _, err := s.store.GetIdentity(ctx, id); err != nil {
		return "", err
	}
	info, err := redaction.Inspect(data)
	if err != nil {
		return "", err
	}
	if err := s.assets.Store(ctx, storage.KindProfile, profileKey(id), data, storage.ContentType(info.Format)); err != nil {
		return "", fmt.Errorf("store profile image: %w", err)
	}
	return s.enrol(ctx, id, data)
}

// enrol detects the largest face of a profile image and stores its vector.
func (s *Service) enrol(ctx context.Context, id int64, data []byte) (database.EncodingStatus, error) {
	log := s.log.With().Int64("identity_id", id).Logger()

	detections, err := s.detector.Detect(ctx, data)
	if err != nil {
		log.Error().Err(err).Msg("profile face detection failed")
		if serr := s.store.SetAppearance(ctx, id, nil, database.EncodingError); serr != nil {
			return database.EncodingError, errors.Join(err, serr)
		}
		return database.EncodingError, fmt.Errorf("detect profile face: %w", err)
	}

	best, ok := largestFace(detections)
	if !ok {
		log.Info().Int("detected", len(detections)).Msg("no usable face in profile image")
		if err := s.store.SetAppearance(ctx, id, nil, database.EncodingNoFace); err != nil {
			return "", err
		}
		return database.EncodingNoFace, nil
	}

	if err := s.store.SetAppearance(ctx, id, best.Embedding, database.EncodingSuccess); err != nil {
		return "", err
	}
	log.Info().Int("dim", len(best.Embedding)).Int("faces", len(detections)).Msg("appearance enrolled")
	return database.EncodingSuccess, nil
}

// largestFace picks the detection with the biggest box area. Detections with
// a malformed box or no vector are ignored; ties keep the first.
func largestFace(detections []detector.Detection) (detector.Detection, bool) {
	var (
		best     detector.Detection
		bestArea = -1
	)
	for _, d := range detections {
		if len(d.Embedding) == 0 {
			continue
		}
		r, ok := facematch.RegionFromBBox(d.BBox)
		if !ok {
			continue
		}
		if area := r.Area(); area > bestArea {
			best, bestArea = d, area
		}
	}
	return best, bestArea >= 0
}

// Stats summarizes RecomputeAll.
type Stats struct {
	Total   int
	Success int
	NoFace  int
	Error   int
	Skipped int // identities without a profile image
}

// RecomputeAll re-enrols every identity that has a profile image, for use
// after the detector model changed. onDone, if set, is called once per
// identity from a worker goroutine.
func (s *Service) RecomputeAll(
	ctx context.Context, onDone func(id int64, status database.EncodingStatus, err error),
) (Stats, error) {
	idents, err := s.store.ListIdentities(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Total: len(idents)}
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, s.concurrency)

	for _, ident := range idents {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			status, err := s.recompute(ctx, id)

			mu.Lock()
			switch {
			case errors.Is(err, storage.ErrNotFound):
				stats.Skipped++
				err = nil
			case status == database.EncodingSuccess:
				stats.Success++
			case status == database.EncodingNoFace:
				stats.NoFace++
			default:
				stats.Error++
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("identity %d: %w", id, err))
			}
			mu.Unlock()

			if onDone != nil {
				onDone(id, status, err)
			}
		}(ident.ID)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	s.log.Info().
		Int("total", stats.Total).
		Int("success", stats.Success).
		Int("no_face", stats.NoFace).
		Int("error", stats.Error).
		Int("skipped", stats.Skipped).
		Msg("appearance vectors recomputed")
	return stats, errors.Join(errs...)
}

func (s *Service) recompute(ctx context.Context, id int64) (database.EncodingStatus, error) {
	data, err := s.assets.Load(ctx, storage.KindProfile, profileKey(id))
	if err != nil {
		return "", err
	}
	return s.enrol(ctx, id, data)
}
