package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/photo-consent/internal/database"
)

const photoColumns = `id, uploader_id, width, height, format, status, status_detail,
       created_at, ingested_at, derived_at`

// PhotoRepository provides PostgreSQL-backed photo metadata storage.
type PhotoRepository struct {
	pool *Pool
}

// NewPhotoRepository creates a new PostgreSQL photo repository.
func NewPhotoRepository(pool *Pool) *PhotoRepository {
	return &PhotoRepository{pool: pool}
}

// CreatePhoto inserts a new photo row.
func (r *PhotoRepository) CreatePhoto(ctx context.Context, photo *database.Photo) error {
	if photo.ID == uuid.Nil {
		photo.ID = uuid.New()
	}
	if photo.Status == "" {
		photo.Status = database.PhotoPending
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO photos (id, uploader_id, width, height, format, status, status_detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, photo.ID, photo.UploaderID, photo.Width, photo.Height, photo.Format, photo.Status, photo.StatusDetail,
	).Scan(&photo.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert photo %s: %w", photo.ID, database.ErrConflict)
		}
		return fmt.Errorf("insert photo: %w", err)
	}
	return nil
}

// GetPhoto retrieves a photo by id.
func (r *PhotoRepository) GetPhoto(ctx context.Context, id uuid.UUID) (*database.Photo, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+photoColumns+" FROM photos WHERE id = $1", id)
	p, err := scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("photo %s: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPhotos returns all photos ordered by creation time.
func (r *PhotoRepository) ListPhotos(ctx context.Context) ([]database.Photo, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+photoColumns+" FROM photos ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("query photos: %w", err)
	}
	defer rows.Close()

	var photos []database.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}
	return photos, nil
}

// ListPhotoIDsByIdentity returns photos containing a face matched to the identity.
func (r *PhotoRepository) ListPhotoIDsByIdentity(ctx context.Context, identityID int64) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT photo_id
		FROM detected_faces
		WHERE matched_identity_id = $1
		ORDER BY photo_id
	`, identityID)
	if err != nil {
		return nil, fmt.Errorf("query photos by identity: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan photo id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photo ids: %w", err)
	}
	return ids, nil
}

// SetPhotoStatus updates the processing status.
func (r *PhotoRepository) SetPhotoStatus(
	ctx context.Context, id uuid.UUID, status database.PhotoStatus, detail string,
) error {
	res, err := r.pool.Exec(ctx, "UPDATE photos SET status = $2, status_detail = $3 WHERE id = $1", id, status, detail)
	if err != nil {
		return fmt.Errorf("update photo status: %w", err)
	}
	return expectOneRow(res, "photo", id)
}

// MarkDerived records a successful derived image write.
func (r *PhotoRepository) MarkDerived(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.pool.Exec(ctx, `
		UPDATE photos SET status = $2, status_detail = '', derived_at = $3 WHERE id = $1
	`, id, database.PhotoReady, at)
	if err != nil {
		return fmt.Errorf("mark photo derived: %w", err)
	}
	return expectOneRow(res, "photo", id)
}

// DeletePhoto removes the photo; faces and consent requests cascade.
func (r *PhotoRepository) DeletePhoto(ctx context.Context, id uuid.UUID) error {
	res, err := r.pool.Exec(ctx, "DELETE FROM photos WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete photo: %w", err)
	}
	return expectOneRow(res, "photo", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhoto(row rowScanner) (*database.Photo, error) {
	var p database.Photo
	err := row.Scan(
		&p.ID, &p.UploaderID, &p.Width, &p.Height, &p.Format, &p.Status, &p.StatusDetail,
		&p.CreatedAt, &p.IngestedAt, &p.DerivedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan photo: %w", err)
	}
	return &p, nil
}

func expectOneRow(res sql.Result, kind string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %v: %w", kind, id, database.ErrNotFound)
	}
	return nil
}
