package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/detector"
	"github.com/kozaktomas/photo-consent/internal/facematch"
	"github.com/kozaktomas/photo-consent/internal/storage"
)

// Ingest detects and matches the faces of a photo, persists them, opens the
// consent requests they need and renders the first derived image. A photo is
// ingested at most once; a failed detection leaves nothing behind and may be
// retried.
func (o *Orchestrator) Ingest(ctx context.Context, photoID uuid.UUID) (err error) {
	// Once faces are saved, render and openRequests count their own failures.
	saved := false
	defer func() {
		o.metrics.Ingestions.WithLabelValues(result(err)).Inc()
		if !saved {
			o.metrics.failure(err)
		}
	}()

	unlock, err := o.locker.Lock(ctx, photoID.String())
	if err != nil {
		return fmt.Errorf("lock photo %s: %w", photoID, err)
	}
	defer unlock()

	photo, err := o.store.GetPhoto(ctx, photoID)
	if err != nil {
		return err
	}
	if photo.Ingested() {
		return fmt.Errorf("photo %s: %w", photoID, database.ErrAlreadyIngested)
	}
	log := o.log.With().Str("photo_id", photoID.String()).Logger()

	original, err := o.assets.Load(ctx, storage.KindOriginal, assetKey(photoID))
	if err != nil {
		return newError(CodeSourceUnavailable, photoID, "load original", err)
	}

	// One read of the identity store: every face of this photo is matched
	// against the same gallery.
	entries, err := o.store.Gallery(ctx)
	if err != nil {
		return newError(CodeStorageFailure, photoID, "load gallery", err)
	}
	gallery, excluded := facematch.NewGallery(entries)
	for _, e := range excluded {
		o.metrics.Failures.WithLabelValues(string(CodeNoGalleryEntry)).Inc()
		log.Warn().Err(e).Str("code", string(CodeNoGalleryEntry)).Msg("gallery entry excluded")
	}

	start := time.Now()
	detections, err := o.detector.Detect(ctx, original)
	o.metrics.DetectDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		perr := newError(CodeDetectionFailure, photoID, "detect faces", err)
		if serr := o.store.SetPhotoStatus(ctx, photoID, database.PhotoDetectionFailed, err.Error()); serr != nil {
			log.Error().Err(serr).Msg("failed to record detection failure")
		}
		log.Error().Err(err).Msg("face detection failed")
		return perr
	}

	faces := o.buildFaces(photo, detections, gallery)
	persisted, err := o.store.SaveIngestion(ctx, photoID, faces)
	if err != nil {
		if errors.Is(err, database.ErrAlreadyIngested) {
			return err
		}
		return newError(CodeStorageFailure, photoID, "save faces", err)
	}
	saved = true
	o.metrics.FacesDetected.Add(float64(len(persisted)))
	log.Info().Int("detected", len(detections)).Int("faces", len(persisted)).Msg("faces ingested")

	openErr := o.openRequests(ctx, photo, persisted, 0)
	return errors.Join(o.render(ctx, photo, persisted, 0), openErr)
}

// buildFaces converts detections into faces in image coordinates and matches
// each one. Boxes that do not intersect the image are dropped; a face whose
// vector cannot be matched stays unmatched.
func (o *Orchestrator) buildFaces(
	photo *database.Photo, detections []detector.Detection, gallery *facematch.Gallery,
) []database.DetectedFace {
	log := o.log.With().Str("photo_id", photo.ID.String()).Logger()
	faces := make([]database.DetectedFace, 0, len(detections))

	for i, det := range detections {
		region, ok := facematch.RegionFromBBox(det.BBox)
		if !ok {
			log.Warn().Int("face_index", i).Floats64("bbox", det.BBox).Msg("dropping malformed face box")
			continue
		}
		clipped, ok := region.Clip(photo.Width, photo.Height)
		if !ok {
			log.Warn().Int("face_index", i).Str("region", region.String()).Msg("dropping face box outside image")
			continue
		}

		face := database.DetectedFace{
			FaceIndex: i,
			Region:    clipped,
			DetScore:  det.DetScore,
		}
		m, err := gallery.Match(det.Embedding)
		if err != nil {
			log.Warn().Err(err).Int("face_index", i).Msg("face left unmatched")
		}
		face.Similarity = m.Similarity
		if m.Matched {
			id := m.IdentityID
			face.MatchedIdentityID = &id
		}
		faces = append(faces, face)
	}
	return faces
}

// openRequests opens one consent request per distinct matched identity that
// is neither the uploader nor PUBLIC, using that identity's first face
// region. When only is non-zero just that identity is considered. A failure
// leaves the face obscured and is returned after the remaining identities
// were processed.
func (o *Orchestrator) openRequests(
	ctx context.Context, photo *database.Photo, faces []database.DetectedFace, only int64,
) error {
	first := make(map[int64]facematch.Region)
	var ids []int64
	for _, f := range faces {
		if !f.Matched() {
			continue
		}
		id := *f.MatchedIdentityID
		if id == photo.UploaderID || (only != 0 && id != only) {
			continue
		}
		if _, seen := first[id]; !seen {
			first[id] = f.Region
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	modes, err := o.store.SharingModes(ctx, ids)
	if err != nil {
		err = newError(CodeStorageFailure, photo.ID, "load sharing modes", err)
		o.metrics.failure(err)
		return err
	}

	var errs []error
	for _, id := range ids {
		if modes[id] == database.SharingPublic {
			continue
		}
		_, created, err := o.ledger.OpenRequest(ctx, photo.ID, id, first[id])
		if err != nil {
			o.log.Error().Err(err).
				Str("photo_id", photo.ID.String()).
				Int64("identity_id", id).
				Msg("failed to open consent request; face stays obscured")
			err = newError(CodeStorageFailure, photo.ID, "open consent request", err)
			o.metrics.failure(err)
			errs = append(errs, err)
			continue
		}
		if created {
			o.metrics.RequestsOpened.Inc()
		}
	}
	return errors.Join(errs...)
}
