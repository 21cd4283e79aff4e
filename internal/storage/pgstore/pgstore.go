// Package pgstore is the PostgreSQL adapter for the storage port. It uses
// pgx directly (no ORM) and golang-migrate with an embedded migration
// directory.
package pgstore

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage"
)

//go:embed migrations
var migrationsFS embed.FS

// Store implements storage.Store against a PostgreSQL connection pool.
type Store struct {
	Pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New opens a connection pool, verifies connectivity, and runs pending
// migrations before returning.
func New(ctx context.Context, databaseURL string, maxConns int, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	cfg.MaxConns = int32(maxConns)
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := migrateUp(databaseURL, logger); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("postgres storage ready", slog.Int("max_conns", maxConns))
	return &Store{Pool: pool, logger: logger}, nil
}

func migrateUp(databaseURL string, logger *slog.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("initializing migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.Pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.logger.Info("closing postgres connection pool")
	s.Pool.Close()
}

// --- Meta ---

func (s *Store) MetaGet(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.Pool.QueryRow(ctx, `SELECT value FROM relay_meta WHERE key = $1`, key).Scan(&v)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) MetaSet(ctx context.Context, key, value string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO relay_meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

// --- Dedup ---

func (s *Store) MarkSeenOnce(ctx context.Context, dedupID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO inbox_seen (dedup_id, first_seen) VALUES ($1, now())
		ON CONFLICT (dedup_id) DO NOTHING`, dedupID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// --- Inbox log ---

func (s *Store) InsertInboxLog(ctx context.Context, e models.InboxLogEntry) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO inbox_log (dedup_id, activity_id, type, actor, body, is_public, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (dedup_id) DO NOTHING`,
		e.DedupID, e.ActivityID, e.Type, e.Actor, e.Bytes, e.Public)
	return err
}

func (s *Store) GetInboxLogByActivityID(ctx context.Context, activityID string) (*models.InboxLogEntry, error) {
	var e models.InboxLogEntry
	err := s.Pool.QueryRow(ctx, `
		SELECT dedup_id, activity_id, type, actor, body, is_public, created_at
		FROM inbox_log WHERE activity_id = $1 LIMIT 1`, activityID).
		Scan(&e.DedupID, &e.ActivityID, &e.Type, &e.Actor, &e.Bytes, &e.Public, &e.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) ListFederatedFeed(ctx context.Context, cursor string, limit int) ([]models.InboxLogEntry, string, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT dedup_id, activity_id, type, actor, body, is_public, created_at
		FROM inbox_log WHERE is_public = true AND ($1 = '' OR dedup_id < $1)
		ORDER BY created_at DESC, dedup_id DESC LIMIT $2`, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	var out []models.InboxLogEntry
	for rows.Next() {
		var e models.InboxLogEntry
		if err := rows.Scan(&e.DedupID, &e.ActivityID, &e.Type, &e.Actor, &e.Bytes, &e.Public, &e.CreatedAt); err != nil {
			return nil, "", err
		}
		out = append(out, e)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].DedupID
	}
	return out, next, rows.Err()
}
