package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/facematch"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

const identityColumns = `id, username, sharing_mode, appearance, encoding_status, created_at, updated_at`

// IdentityRepository provides PostgreSQL-backed identity storage.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// CreateIdentity registers a username with default preferences.
func (r *IdentityRepository) CreateIdentity(ctx context.Context, username string) (*database.Identity, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO identities (username) VALUES ($1)
		RETURNING `+identityColumns, username)
	id, err := scanIdentity(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("username %q: %w", username, database.ErrConflict)
		}
		return nil, err
	}
	return id, nil
}

// GetIdentity retrieves an identity by id.
func (r *IdentityRepository) GetIdentity(ctx context.Context, id int64) (*database.Identity, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+identityColumns+" FROM identities WHERE id = $1", id)
	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	return ident, err
}

// GetIdentityByUsername retrieves an identity by username.
func (r *IdentityRepository) GetIdentityByUsername(ctx context.Context, username string) (*database.Identity, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+identityColumns+" FROM identities WHERE username = $1", username)
	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identity %q: %w", username, database.ErrNotFound)
	}
	return ident, err
}

// ListIdentities returns all identities ordered by id.
func (r *IdentityRepository) ListIdentities(ctx context.Context) ([]database.Identity, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+identityColumns+" FROM identities ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var out []database.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return out, nil
}

// SetSharingMode updates the identity's preference.
func (r *IdentityRepository) SetSharingMode(ctx context.Context, id int64, mode database.SharingMode) error {
	res, err := r.pool.Exec(ctx,
		"UPDATE identities SET sharing_mode = $2, updated_at = NOW() WHERE id = $1", id, mode)
	if err != nil {
		return fmt.Errorf("update sharing mode: %w", err)
	}
	return expectOneRow(res, "identity", id)
}

// SetAppearance stores or clears the appearance vector.
func (r *IdentityRepository) SetAppearance(
	ctx context.Context, id int64, vector []float32, status database.EncodingStatus,
) error {
	var vec any
	if len(vector) > 0 {
		vec = pgvector.NewVector(vector)
	}
	res, err := r.pool.Exec(ctx, `
		UPDATE identities SET appearance = $2, encoding_status = $3, updated_at = NOW() WHERE id = $1
	`, id, vec, status)
	if err != nil {
		return fmt.Errorf("update appearance: %w", err)
	}
	return expectOneRow(res, "identity", id)
}

// SharingModes returns the sharing preference of each known identity.
func (r *IdentityRepository) SharingModes(ctx context.Context, ids []int64) (map[int64]database.SharingMode, error) {
	modes := make(map[int64]database.SharingMode, len(ids))
	if len(ids) == 0 {
		return modes, nil
	}

	rows, err := r.pool.Query(ctx, "SELECT id, sharing_mode FROM identities WHERE id = ANY($1)", pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query sharing modes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			mode database.SharingMode
		)
		if err := rows.Scan(&id, &mode); err != nil {
			return nil, fmt.Errorf("scan sharing mode: %w", err)
		}
		modes[id] = mode
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sharing modes: %w", err)
	}
	return modes, nil
}

// Gallery returns all enrolled appearance vectors in a single statement.
func (r *IdentityRepository) Gallery(ctx context.Context) ([]facematch.GalleryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appearance
		FROM identities
		WHERE appearance IS NOT NULL AND encoding_status = $1
		ORDER BY id
	`, database.EncodingSuccess)
	if err != nil {
		return nil, fmt.Errorf("query gallery: %w", err)
	}
	defer rows.Close()

	var entries []facematch.GalleryEntry
	for rows.Next() {
		var (
			id  int64
			vec pgvector.Vector
		)
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("scan gallery entry: %w", err)
		}
		entries = append(entries, facematch.GalleryEntry{IdentityID: id, Vector: vec.Slice()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gallery: %w", err)
	}
	return entries, nil
}

func scanIdentity(row rowScanner) (*database.Identity, error) {
	var (
		ident database.Identity
		vec   *pgvector.Vector
	)
	err := row.Scan(
		&ident.ID, &ident.Username, &ident.SharingMode, &vec, &ident.EncodingStatus,
		&ident.CreatedAt, &ident.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	if vec != nil {
		ident.Appearance = vec.Slice()
	}
	return &ident, nil
}
