package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockID keys the advisory lock that keeps concurrently starting
// processes from applying the same migration twice.
const migrationLockID = 0x70686f746f // "photo"

// ErrChecksumMismatch means an applied migration file was edited afterwards.
var ErrChecksumMismatch = errors.New("applied migration was modified")

// Migration is one embedded schema change and its state in the database.
type Migration struct {
	Version   string     `json:"version"`
	Checksum  string     `json:"checksum"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// Pending reports whether the migration has not been applied.
func (m Migration) Pending() bool {
	return m.AppliedAt == nil
}

// MigrationReport lists every embedded migration in order and the versions
// the run applied.
type MigrationReport struct {
	Migrations []Migration `json:"migrations"`
	Applied    []string    `json:"applied"`
}

// Pending returns the versions still to be applied.
func (r *MigrationReport) Pending() []string {
	var out []string
	for _, m := range r.Migrations {
		if m.Pending() {
			out = append(out, m.Version)
		}
	}
	return out
}

type migrationFile struct {
	version  string
	checksum string
	sql      string
}

// loadMigrations reads the embedded files sorted by version.
func loadMigrations() ([]migrationFile, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var files []migrationFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		content, err := migrationsFS.ReadFile(path.Join("migrations", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(content)
		files = append(files, migrationFile{
			version:  e.Name(),
			checksum: hex.EncodeToString(sum[:]),
			sql:      string(content),
		})
	}
	slices.SortFunc(files, func(a, b migrationFile) int { return strings.Compare(a.version, b.version) })
	return files, nil
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func ensureMigrationsTable(ctx context.Context, q queryer) error {
	_, err := q.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	return nil
}

// appliedMigrations returns the recorded migrations keyed by version.
func appliedMigrations(ctx context.Context, q queryer) (map[string]Migration, error) {
	rows, err := q.QueryContext(ctx, "SELECT version, checksum, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]Migration)
	for rows.Next() {
		var (
			m  Migration
			at time.Time
		)
		if err := rows.Scan(&m.Version, &m.Checksum, &at); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		m.AppliedAt = &at
		applied[m.Version] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// report merges the embedded files with the recorded state. A recorded
// checksum that differs from the embedded file is an error.
func report(files []migrationFile, applied map[string]Migration) (*MigrationReport, error) {
	r := &MigrationReport{Migrations: make([]Migration, 0, len(files))}
	for _, f := range files {
		m := Migration{Version: f.version, Checksum: f.checksum}
		if rec, ok := applied[f.version]; ok {
			if rec.Checksum != f.checksum {
				return nil, fmt.Errorf("%s: %w", f.version, ErrChecksumMismatch)
			}
			m.AppliedAt = rec.AppliedAt
		}
		r.Migrations = append(r.Migrations, m)
	}
	return r, nil
}

// MigrationStatus reports the embedded migrations without applying any.
func (p *Pool) MigrationStatus(ctx context.Context) (*MigrationReport, error) {
	if err := ensureMigrationsTable(ctx, p.db); err != nil {
		return nil, err
	}
	files, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	applied, err := appliedMigrations(ctx, p.db)
	if err != nil {
		return nil, err
	}
	return report(files, applied)
}

// Migrate applies pending migrations in version order, each in its own
// transaction, while holding an advisory lock.
func (p *Pool) Migrate(ctx context.Context) (*MigrationReport, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		// The lock is session scoped; release it before the connection returns to the pool.
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			p.log.Warn().Err(err).Msg("failed to release migration lock")
		}
	}()

	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return nil, err
	}
	files, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	applied, err := appliedMigrations(ctx, conn)
	if err != nil {
		return nil, err
	}
	r, err := report(files, applied)
	if err != nil {
		return nil, err
	}

	for i, f := range files {
		if !r.Migrations[i].Pending() {
			continue
		}
		start := time.Now()
		at, err := p.apply(ctx, conn, f)
		if err != nil {
			return r, err
		}
		r.Migrations[i].AppliedAt = &at
		r.Applied = append(r.Applied, f.version)
		p.log.Info().
			Str("migration", f.version).
			Str("checksum", f.checksum[:12]).
			Dur("took", time.Since(start)).
			Msg("applied migration")
	}
	if len(r.Applied) == 0 {
		p.log.Debug().Int("migrations", len(files)).Msg("schema up to date")
	}
	return r, nil
}

func (p *Pool) apply(ctx context.Context, conn *sql.Conn, f migrationFile) (time.Time, error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("begin transaction for %s: %w", f.version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, f.sql); err != nil {
		return time.Time{}, fmt.Errorf("execute migration %s: %w", f.version, err)
	}
	var at time.Time
	err = tx.QueryRowContext(ctx,
		"INSERT INTO schema_migrations (version, checksum) VALUES ($1, $2) RETURNING applied_at",
		f.version, f.checksum,
	).Scan(&at)
	if err != nil {
		return time.Time{}, fmt.Errorf("record migration %s: %w", f.version, err)
	}
	if err := tx.Commit(); err != nil {
		return time.Time{}, fmt.Errorf("commit migration %s: %w", f.version, err)
	}
	return at, nil
}
