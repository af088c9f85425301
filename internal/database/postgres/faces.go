package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/facematch"
	"github.com/lib/pq"
)

// FaceRepository provides PostgreSQL-backed storage for detected faces.
type FaceRepository struct {
	pool *Pool
}

// NewFaceRepository creates a new PostgreSQL face repository.
func NewFaceRepository(pool *Pool) *FaceRepository {
	return &FaceRepository{pool: pool}
}

// SaveIngestion stores the faces of a photo and marks it ingested atomically.
// The conditional update on photos.ingested_at also serializes concurrent
// ingestions of the same photo at the row level.
func (r *FaceRepository) SaveIngestion(
	ctx context.Context, photoID uuid.UUID, faces []database.DetectedFace,
) ([]database.DetectedFace, error) {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE photos SET ingested_at = NOW() WHERE id = $1 AND ingested_at IS NULL
	`, photoID)
	if err != nil {
		return nil, fmt.Errorf("mark photo ingested: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM photos WHERE id = $1)", photoID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check photo exists: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("photo %s: %w", photoID, database.ErrNotFound)
		}
		return nil, fmt.Errorf("photo %s: %w", photoID, database.ErrAlreadyIngested)
	}

	inserted, err := insertFaces(ctx, tx, photoID, faces)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return inserted, nil
}

// insertFaces inserts faces and returns them with assigned IDs.
func insertFaces(
	ctx context.Context, tx *sql.Tx, photoID uuid.UUID, faces []database.DetectedFace,
) ([]database.DetectedFace, error) {
	inserted := make([]database.DetectedFace, 0, len(faces))

	for i := range faces {
		face := faces[i]
		face.PhotoID = photoID

		err := tx.QueryRowContext(ctx, `
			INSERT INTO detected_faces (photo_id, face_index, region, matched_identity_id, similarity, det_score)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at
		`,
			photoID, face.FaceIndex, pq.Array(face.Region.Ints()), face.MatchedIdentityID,
			face.Similarity, face.DetScore,
		).Scan(&face.ID, &face.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert face %d: %w", face.FaceIndex, err)
		}
		inserted = append(inserted, face)
	}
	return inserted, nil
}

// GetFaces retrieves all faces for a photo.
func (r *FaceRepository) GetFaces(ctx context.Context, photoID uuid.UUID) ([]database.DetectedFace, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, photo_id, face_index, region, matched_identity_id, similarity, det_score, created_at
		FROM detected_faces
		WHERE photo_id = $1
		ORDER BY face_index
	`, photoID)
	if err != nil {
		return nil, fmt.Errorf("query faces: %w", err)
	}
	defer rows.Close()

	var faces []database.DetectedFace
	for rows.Next() {
		var (
			f      database.DetectedFace
			region []int64
		)
		if err := rows.Scan(
			&f.ID, &f.PhotoID, &f.FaceIndex, pq.Array(&region), &f.MatchedIdentityID,
			&f.Similarity, &f.DetScore, &f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		if f.Region, err = facematch.RegionFromInts(region); err != nil {
			return nil, fmt.Errorf("face %d: %w", f.ID, err)
		}
		faces = append(faces, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, nil
}
