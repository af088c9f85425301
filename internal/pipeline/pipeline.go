// Package pipeline turns uploaded photos into public images in which every
// face the viewer has no right to see is obscured. It owns ingestion
// (detect, match, persist, open consent requests) and re-redaction, and
// serializes both per photo.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/photo-consent/internal/consent"
	"github.com/kozaktomas/photo-consent/internal/constants"
	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/detector"
	"github.com/kozaktomas/photo-consent/internal/lock"
	"github.com/kozaktomas/photo-consent/internal/redaction"
	"github.com/kozaktomas/photo-consent/internal/storage"
	"github.com/rs/zerolog"
)

// Enqueuer hands a photo to a background ingestion worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, photoID uuid.UUID) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store    database.Store
	Assets   storage.AssetStore
	Detector detector.Detector
	Engine   *redaction.Engine
	Ledger   *consent.Ledger
	Locker   lock.Locker
	Metrics  *Metrics
	Log      zerolog.Logger

	// Enqueuer switches Upload to asynchronous ingestion when set.
	Enqueuer Enqueuer
	// Concurrency bounds batch regeneration. Zero selects the default.
	Concurrency int
}

// Orchestrator runs ingestion and re-redaction.
type Orchestrator struct {
	store       database.Store
	assets      storage.AssetStore
	detector    detector.Detector
	engine      *redaction.Engine
	ledger      *consent.Ledger
	locker      lock.Locker
	metrics     *Metrics
	log         zerolog.Logger
	enqueuer    Enqueuer
	concurrency int
	now         func() time.Time
}

// New builds an orchestrator and registers it as the ledger's notifier.
func New(d Deps) *Orchestrator {
	concurrency := d.Concurrency
	if concurrency <= 0 {
		concurrency = constants.WorkerPoolSize
	}
	o := &Orchestrator{
		store:       d.Store,
		assets:      d.Assets,
		detector:    d.Detector,
		engine:      d.Engine,
		ledger:      d.Ledger,
		locker:      d.Locker,
		metrics:     d.Metrics,
		log:         d.Log.With().Str("component", "pipeline").Logger(),
		enqueuer:    d.Enqueuer,
		concurrency: concurrency,
		now:         time.Now,
	}
	d.Ledger.SetNotifier(o)
	return o
}

func assetKey(photoID uuid.UUID) string {
	return photoID.String()
}

// Upload stores a new original and ingests it, synchronously or through the
// queue. The returned photo reflects the state after ingestion in sync mode.
func (o *Orchestrator) Upload(ctx context.Context, uploaderID int64, data []byte) (*database.Photo, error) {
	info, err := redaction.Inspect(data)
	if err != nil {
		return nil, err
	}

	photo := &database.Photo{
		ID:         uuid.New(),
		UploaderID: uploaderID,
		Width:      info.Width,
		Height:     info.Height,
		Format:     info.Format,
		Status:     database.PhotoPending,
	}

	// Original first so no row ever points at a missing asset.
	key := assetKey(photo.ID)
	if err := o.assets.Store(ctx, storage.KindOriginal, key, data, storage.ContentType(info.Format)); err != nil {
		err = newError(CodeStorageFailure, photo.ID, "store original", err)
		o.metrics.failure(err)
		return nil, err
	}
	if err := o.store.CreatePhoto(ctx, photo); err != nil {
		if derr := o.assets.Delete(ctx, storage.KindOriginal, key); derr != nil {
			o.log.Warn().Err(derr).Str("photo_id", key).Msg("failed to remove orphaned original")
		}
		return nil, fmt.Errorf("create photo: %w", err)
	}

	o.log.Info().
		Str("photo_id", key).
		Int64("uploader_id", uploaderID).
		Str("format", info.Format).
		Int("width", info.Width).
		Int("height", info.Height).
		Msg("photo uploaded")

	if o.enqueuer != nil {
		if err := o.enqueuer.Enqueue(ctx, photo.ID); err != nil {
			return photo, fmt.Errorf("enqueue ingestion: %w", err)
		}
		return photo, nil
	}

	ingestErr := o.Ingest(ctx, photo.ID)
	if updated, err := o.store.GetPhoto(ctx, photo.ID); err == nil {
		photo = updated
	}
	return photo, ingestErr
}

// ConsentApproved implements consent.Notifier.
func (o *Orchestrator) ConsentApproved(ctx context.Context, req database.ConsentRequest) error {
	return o.Regenerate(ctx, req.PhotoID)
}

// Regenerate rebuilds the derived image from the stored faces and the current
// preferences and decisions. Faces are neither re-detected nor re-matched.
func (o *Orchestrator) Regenerate(ctx context.Context, photoID uuid.UUID) error {
	unlock, err := o.locker.Lock(ctx, photoID.String())
	if err != nil {
		return fmt.Errorf("lock photo %s: %w", photoID, err)
	}
	defer unlock()

	return o.regenerateLocked(ctx, photoID, 0)
}

// regenerateLocked re-renders a photo. When ensureFor is non-zero its sharing
// preference just changed: a consent request is opened for that identity if
// it needs one and has none, and a failed render withholds the photo.
func (o *Orchestrator) regenerateLocked(ctx context.Context, photoID uuid.UUID, ensureFor int64) error {
	photo, err := o.store.GetPhoto(ctx, photoID)
	if err != nil {
		return err
	}
	if !photo.Ingested() {
		return fmt.Errorf("photo %s: %w", photoID, ErrNotIngested)
	}

	faces, err := o.store.GetFaces(ctx, photoID)
	if err != nil {
		err = newError(CodeStorageFailure, photoID, "load faces", err)
		o.metrics.failure(err)
		return err
	}

	var openErr error
	if ensureFor != 0 {
		openErr = o.openRequests(ctx, photo, faces, ensureFor)
	}

	return errors.Join(o.render(ctx, photo, faces, ensureFor), openErr)
}

// RegenerateForIdentity re-renders every photo containing the identity, for
// use after its sharing preference changed. Photos that now need the
// identity's consent get a request if they had none.
func (o *Orchestrator) RegenerateForIdentity(ctx context.Context, identityID int64) (int, error) {
	ids, err := o.store.ListPhotoIDsByIdentity(ctx, identityID)
	if err != nil {
		return 0, fmt.Errorf("list photos of identity %d: %w", identityID, err)
	}

	stats := o.forEach(ctx, ids, func(ctx context.Context, id uuid.UUID) error {
		unlock, err := o.locker.Lock(ctx, id.String())
		if err != nil {
			return fmt.Errorf("lock photo %s: %w", id, err)
		}
		defer unlock()
		return o.regenerateLocked(ctx, id, identityID)
	}, nil)

	o.log.Info().
		Int64("identity_id", identityID).
		Int("photos", len(ids)).
		Int("failed", stats.Failed).
		Msg("regenerated photos for identity")
	return stats.Regenerated, stats.Err
}

// DeletePhoto removes both assets and every row of the photo. Only the
// uploader may delete.
func (o *Orchestrator) DeletePhoto(ctx context.Context, photoID uuid.UUID, actorID int64) error {
	unlock, err := o.locker.Lock(ctx, photoID.String())
	if err != nil {
		return fmt.Errorf("lock photo %s: %w", photoID, err)
	}
	defer unlock()

	photo, err := o.store.GetPhoto(ctx, photoID)
	if err != nil {
		return err
	}
	if photo.UploaderID != actorID {
		return ErrForbidden
	}

	key := assetKey(photoID)
	// Derived first so the public image disappears before anything else.
	for _, kind := range []storage.Kind{storage.KindDerived, storage.KindOriginal} {
		if err := o.assets.Delete(ctx, kind, key); err != nil {
			err = newError(CodeStorageFailure, photoID, "delete "+string(kind), err)
			o.metrics.failure(err)
			return err
		}
	}
	if err := o.store.DeletePhoto(ctx, photoID); err != nil {
		return fmt.Errorf("delete photo row: %w", err)
	}

	o.log.Info().Str("photo_id", key).Int64("actor_id", actorID).Msg("photo deleted")
	return nil
}

// Photo returns the metadata of a photo.
func (o *Orchestrator) Photo(ctx context.Context, photoID uuid.UUID) (*database.Photo, error) {
	return o.store.GetPhoto(ctx, photoID)
}

// Derived returns the public image. storage.ErrNotFound means no derived
// image was produced yet or the photo is withheld; the original is never
// returned in its place.
func (o *Orchestrator) Derived(ctx context.Context, photoID uuid.UUID) ([]byte, *database.Photo, error) {
	photo, err := o.store.GetPhoto(ctx, photoID)
	if err != nil {
		return nil, nil, err
	}
	if photo.Status == database.PhotoWithheld {
		return nil, photo, fmt.Errorf("photo %s withheld: %w", photoID, storage.ErrNotFound)
	}
	data, err := o.assets.Load(ctx, storage.KindDerived, assetKey(photoID))
	if err != nil {
		return nil, photo, err
	}
	return data, photo, nil
}

// Original returns the unredacted upload to its uploader.
func (o *Orchestrator) Original(ctx context.Context, photoID uuid.UUID, actorID int64) ([]byte, *database.Photo, error) {
	photo, err := o.store.GetPhoto(ctx, photoID)
	if err != nil {
		return nil, nil, err
	}
	if photo.UploaderID != actorID {
		return nil, nil, ErrForbidden
	}
	data, err := o.assets.Load(ctx, storage.KindOriginal, assetKey(photoID))
	if err != nil {
		return nil, photo, err
	}
	return data, photo, nil
}

// Faces returns the detected faces to the uploader.
func (o *Orchestrator) Faces(ctx context.Context, photoID uuid.UUID, actorID int64) ([]database.DetectedFace, error) {
	photo, err := o.store.GetPhoto(ctx, photoID)
	if err != nil {
		return nil, err
	}
	if photo.UploaderID != actorID {
		return nil, ErrForbidden
	}
	return o.store.GetFaces(ctx, photoID)
}
