// Package sqlitestore is the pure-Go SQLite adapter for the storage port,
// used by single-operator fedi3 Node deployments that would rather not run
// PostgreSQL. It mirrors internal/storage/pgstore's embedded-schema
// bootstrap shape, swapped to modernc.org/sqlite so the binary stays
// cgo-free.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage"
)

//go:embed schema
var schemaFS embed.FS

// Store implements storage.Store against a single SQLite database file.
type Store struct {
	DB     *sql.DB
	logger *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New opens (creating if absent) the SQLite database at path and applies the
// embedded schema. WAL mode is enabled so readers don't block the single
// writer goroutine that owns delivery/object-fetch leasing.
func New(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sqlite storage ready", slog.String("path", path))
	return &Store{DB: db, logger: logger}, nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	entries, err := schemaFS.ReadDir("schema")
	if err != nil {
		return fmt.Errorf("reading embedded schema: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		sqlBytes, err := schemaFS.ReadFile("schema/" + e.Name())
		if err != nil {
			return fmt.Errorf("reading schema file %s: %w", e.Name(), err)
		}
		if _, err := db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("applying schema file %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.DB.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("sqlite health check: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.logger.Info("closing sqlite database")
	s.DB.Close()
}

// --- Meta ---

func (s *Store) MetaGet(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM relay_meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) MetaSet(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO relay_meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// --- Dedup ---

func (s *Store) MarkSeenOnce(ctx context.Context, dedupID string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO inbox_seen (dedup_id, first_seen) VALUES (?, ?)
		ON CONFLICT (dedup_id) DO NOTHING`, dedupID, timeStr(time.Now()))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// --- Inbox log ---

func (s *Store) InsertInboxLog(ctx context.Context, e models.InboxLogEntry) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO inbox_log (dedup_id, activity_id, type, actor, body, is_public, created_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT (dedup_id) DO NOTHING`,
		e.DedupID, e.ActivityID, e.Type, e.Actor, e.Bytes, boolToInt(e.Public), timeStr(time.Now()))
	return err
}

func (s *Store) GetInboxLogByActivityID(ctx context.Context, activityID string) (*models.InboxLogEntry, error) {
	var e models.InboxLogEntry
	var isPublic int64
	var createdAt string
	err := s.DB.QueryRowContext(ctx, `
		SELECT dedup_id, activity_id, type, actor, body, is_public, created_at
		FROM inbox_log WHERE activity_id = ? LIMIT 1`, activityID).
		Scan(&e.DedupID, &e.ActivityID, &e.Type, &e.Actor, &e.Bytes, &isPublic, &createdAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Public = intToBool(isPublic)
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

func (s *Store) ListFederatedFeed(ctx context.Context, cursor string, limit int) ([]models.InboxLogEntry, string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT dedup_id, activity_id, type, actor, body, is_public, created_at
		FROM inbox_log WHERE is_public = 1 AND (? = '' OR dedup_id < ?)
		ORDER BY created_at DESC, dedup_id DESC LIMIT ?`, cursor, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	var out []models.InboxLogEntry
	for rows.Next() {
		var e models.InboxLogEntry
		var isPublic int64
		var createdAt string
		if err := rows.Scan(&e.DedupID, &e.ActivityID, &e.Type, &e.Actor, &e.Bytes, &isPublic, &createdAt); err != nil {
			return nil, "", err
		}
		e.Public = intToBool(isPublic)
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].DedupID
	}
	return out, next, rows.Err()
}
