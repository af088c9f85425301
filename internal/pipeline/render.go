package pipeline

import (
	"context"
	"time"

	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/storage"
	"github.com/kozaktomas/photo-consent/internal/visibility"
)

// render resolves visibility, redacts and atomically replaces the derived
// image. The caller holds the photo lock. On failure the photo is marked
// redaction_failed and the previous derived image is left untouched, unless
// restrictFor names an identity that no longer shares publicly: the previous
// image may show that face, so it is deleted and the photo is withheld until
// a render succeeds.
func (o *Orchestrator) render(
	ctx context.Context, photo *database.Photo, faces []database.DetectedFace, restrictFor int64,
) (err error) {
	start := time.Now()
	log := o.log.With().Str("photo_id", photo.ID.String()).Logger()
	withhold := restrictFor != 0 || photo.Status == database.PhotoWithheld

	defer func() {
		o.metrics.Renders.WithLabelValues(result(err)).Inc()
		if err == nil {
			o.metrics.RenderDuration.Observe(time.Since(start).Seconds())
			return
		}
		o.metrics.failure(err)
		log.Error().Err(err).Str("code", string(CodeOf(err))).Bool("withheld", withhold).Msg("render failed")
		if withhold {
			o.withhold(ctx, photo, err)
			return
		}
		if serr := o.store.SetPhotoStatus(ctx, photo.ID, database.PhotoRedactionFailed, err.Error()); serr != nil {
			log.Error().Err(serr).Msg("failed to record render failure")
		}
	}()

	key := assetKey(photo.ID)
	original, err := o.assets.Load(ctx, storage.KindOriginal, key)
	if err != nil {
		return newError(CodeSourceUnavailable, photo.ID, "load original", err)
	}

	policy, err := o.policy(ctx, photo, faces)
	if err != nil {
		return newError(CodeStorageFailure, photo.ID, "load policy", err)
	}
	if restrictFor != 0 && policy.SharingModes[restrictFor] == database.SharingPublic {
		withhold = photo.Status == database.PhotoWithheld
	}
	hidden := visibility.HiddenRegions(faces, *photo, policy)

	derived, err := o.engine.Redact(original, hidden)
	if err != nil {
		return newError(CodeRedactionFailure, photo.ID, "redact", err)
	}

	if err := o.assets.Store(ctx, storage.KindDerived, key, derived, storage.ContentType(photo.Format)); err != nil {
		return newError(CodeStorageFailure, photo.ID, "store derived", err)
	}
	if err := o.store.MarkDerived(ctx, photo.ID, o.now()); err != nil {
		return newError(CodeStorageFailure, photo.ID, "mark derived", err)
	}

	o.metrics.FacesHidden.Add(float64(len(hidden)))
	log.Debug().Int("faces", len(faces)).Int("hidden", len(hidden)).Msg("derived image written")
	return nil
}

// withhold takes the public image of a photo offline after a failed render.
// The status is written first so Derived stops serving even if the delete
// fails.
func (o *Orchestrator) withhold(ctx context.Context, photo *database.Photo, cause error) {
	log := o.log.With().Str("photo_id", photo.ID.String()).Logger()
	if err := o.store.SetPhotoStatus(ctx, photo.ID, database.PhotoWithheld, cause.Error()); err != nil {
		log.Error().Err(err).Msg("failed to record withheld status")
	}
	if err := o.assets.Delete(ctx, storage.KindDerived, assetKey(photo.ID)); err != nil {
		log.Error().Err(err).Msg("failed to delete withheld derived image")
	}
}

// policy snapshots the preferences and decisions relevant to the faces.
func (o *Orchestrator) policy(
	ctx context.Context, photo *database.Photo, faces []database.DetectedFace,
) (visibility.Policy, error) {
	ids := visibility.IdentityIDs(faces)
	modes, err := o.store.SharingModes(ctx, ids)
	if err != nil {
		return visibility.Policy{}, err
	}
	decisions, err := o.ledger.Decisions(ctx, photo.ID)
	if err != nil {
		return visibility.Policy{}, err
	}
	return visibility.Policy{SharingModes: modes, Decisions: decisions}, nil
}
