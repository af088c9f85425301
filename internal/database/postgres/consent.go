package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/facematch"
	"github.com/lib/pq"
)

const consentColumns = `id, photo_id, identity_id, region, status, created_at, decided_at`

// ConsentRepository provides PostgreSQL-backed consent request storage.
type ConsentRepository struct {
	pool *Pool
}

// NewConsentRepository creates a new PostgreSQL consent repository.
func NewConsentRepository(pool *Pool) *ConsentRepository {
	return &ConsentRepository{pool: pool}
}

// CreateConsentRequest inserts req unless a request for the same photo and
// identity already exists, in which case req is replaced by the stored row.
func (r *ConsentRepository) CreateConsentRequest(ctx context.Context, req *database.ConsentRequest) (bool, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = database.ConsentPending
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO consent_requests (id, photo_id, identity_id, region, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (photo_id, identity_id) DO NOTHING
		RETURNING `+consentColumns,
		req.ID, req.PhotoID, req.IdentityID, pq.Array(req.Region.Ints()), req.Status,
	)
	created, err := scanConsentRequest(row)
	if err == nil {
		*req = *created
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("insert consent request: %w", err)
	}

	existing, err := r.FindConsentRequest(ctx, req.PhotoID, req.IdentityID)
	if err != nil {
		return false, err
	}
	*req = *existing
	return false, nil
}

// GetConsentRequest retrieves a request by id.
func (r *ConsentRepository) GetConsentRequest(ctx context.Context, id uuid.UUID) (*database.ConsentRequest, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+consentColumns+" FROM consent_requests WHERE id = $1", id)
	req, err := scanConsentRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("consent request %s: %w", id, database.ErrNotFound)
	}
	return req, err
}

// FindConsentRequest retrieves the request for a photo and identity.
func (r *ConsentRepository) FindConsentRequest(
	ctx context.Context, photoID uuid.UUID, identityID int64,
) (*database.ConsentRequest, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+consentColumns+" FROM consent_requests WHERE photo_id = $1 AND identity_id = $2",
		photoID, identityID)
	req, err := scanConsentRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("consent request for photo %s identity %d: %w", photoID, identityID, database.ErrNotFound)
	}
	return req, err
}

// ListConsentRequestsByPhoto returns every request opened for a photo.
func (r *ConsentRepository) ListConsentRequestsByPhoto(
	ctx context.Context, photoID uuid.UUID,
) ([]database.ConsentRequest, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+consentColumns+" FROM consent_requests WHERE photo_id = $1 ORDER BY identity_id", photoID)
	if err != nil {
		return nil, fmt.Errorf("query consent requests: %w", err)
	}
	defer rows.Close()
	return scanConsentRequests(rows)
}

// ListConsentRequestsByIdentity returns requests addressed to an identity, newest first.
func (r *ConsentRepository) ListConsentRequestsByIdentity(
	ctx context.Context, identityID int64, status database.ConsentStatus,
) ([]database.ConsentRequest, error) {
	query := "SELECT " + consentColumns + " FROM consent_requests WHERE identity_id = $1"
	args := []any{identityID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query consent requests: %w", err)
	}
	defer rows.Close()
	return scanConsentRequests(rows)
}

// TransitionConsentRequest performs a compare-and-set on the request status.
func (r *ConsentRepository) TransitionConsentRequest(
	ctx context.Context, id uuid.UUID, from, to database.ConsentStatus, at time.Time,
) (*database.ConsentRequest, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE consent_requests SET status = $3, decided_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+consentColumns,
		id, from, to, at,
	)
	req, err := scanConsentRequest(row)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update consent request: %w", err)
	}

	// Distinguish a missing row from one in the wrong state.
	current, err := r.GetConsentRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("consent request %s is %s: %w", id, current.Status, database.ErrInvalidTransition)
}

func scanConsentRequest(row rowScanner) (*database.ConsentRequest, error) {
	var (
		req    database.ConsentRequest
		region []int64
	)
	err := row.Scan(
		&req.ID, &req.PhotoID, &req.IdentityID, pq.Array(&region), &req.Status, &req.CreatedAt, &req.DecidedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan consent request: %w", err)
	}
	if req.Region, err = facematch.RegionFromInts(region); err != nil {
		return nil, fmt.Errorf("consent request %s: %w", req.ID, err)
	}
	return &req, nil
}

func scanConsentRequests(rows *sql.Rows) ([]database.ConsentRequest, error) {
	var reqs []database.ConsentRequest
	for rows.Next() {
		req, err := scanConsentRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consent requests: %w", err)
	}
	return reqs, nil
}
