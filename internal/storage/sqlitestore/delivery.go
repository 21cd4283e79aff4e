package sqlitestore

import (
	"context"
	"time"

	"github.com/fedi3/fedi3/internal/models"
)

func (s *Store) EnqueueDelivery(ctx context.Context, item models.DeliveryItem) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO delivery_items (id, activity_id, activity_bytes, target, attempt, next_visible_at, state, created_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (activity_id, target) WHERE state = 'pending' DO NOTHING`,
		item.ID, item.ActivityID, item.ActivityBytes, item.Target, item.Attempt, timeStr(item.NextVisibleAt), string(item.State), timeStr(time.Now()))
	return err
}

func (s *Store) LeaseDeliveries(ctx context.Context, now time.Time, limit int) ([]models.DeliveryItem, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, activity_id, activity_bytes, target, attempt, next_visible_at, state, COALESCE(last_error,''), created_at
		FROM delivery_items WHERE state='pending' AND next_visible_at <= ?
		ORDER BY next_visible_at ASC LIMIT ?`, timeStr(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.DeliveryItem
	for rows.Next() {
		var it models.DeliveryItem
		var state, nextVisible, createdAt string
		if err := rows.Scan(&it.ID, &it.ActivityID, &it.ActivityBytes, &it.Target, &it.Attempt, &nextVisible, &state, &it.LastError, &createdAt); err != nil {
			return nil, err
		}
		it.State = models.DeliveryState(state)
		it.NextVisibleAt = parseTime(nextVisible)
		it.CreatedAt = parseTime(createdAt)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDeliveryOutcome(ctx context.Context, id string, state models.DeliveryState, nextVisibleAt time.Time, attempt int, lastErr string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE delivery_items SET state=?, next_visible_at=?, attempt=?, last_error=? WHERE id=?`,
		string(state), timeStr(nextVisibleAt), attempt, lastErr, id)
	return err
}

func (s *Store) MarkDeliveredByActivity(ctx context.Context, activityID, target string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE delivery_items SET state='delivered' WHERE activity_id=? AND target=? AND state='pending'`,
		activityID, target)
	return err
}

func (s *Store) EnqueueObjectFetch(ctx context.Context, item models.ObjectFetchItem) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO object_fetch_items (id, url, attempt, next_visible_at, done) VALUES (?,?,?,?,0)`,
		item.ID, item.URL, item.Attempt, timeStr(item.NextVisibleAt))
	return err
}

func (s *Store) LeaseObjectFetches(ctx context.Context, now time.Time, limit int) ([]models.ObjectFetchItem, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, url, attempt, next_visible_at, COALESCE(last_error,'')
		FROM object_fetch_items WHERE done=0 AND next_visible_at <= ?
		ORDER BY next_visible_at ASC LIMIT ?`, timeStr(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ObjectFetchItem
	for rows.Next() {
		var it models.ObjectFetchItem
		var nextVisible string
		if err := rows.Scan(&it.ID, &it.URL, &it.Attempt, &nextVisible, &it.LastError); err != nil {
			return nil, err
		}
		it.NextVisibleAt = parseTime(nextVisible)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) UpdateObjectFetchOutcome(ctx context.Context, id string, nextVisibleAt time.Time, attempt int, lastErr string, done bool) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE object_fetch_items SET next_visible_at=?, attempt=?, last_error=?, done=? WHERE id=?`,
		timeStr(nextVisibleAt), attempt, lastErr, boolToInt(done), id)
	return err
}

// BumpQuota mirrors pgstore's atomic window bump using SQLite's UPSERT; the
// single-writer connection pool (MaxOpenConns=1) makes the read-modify-write
// race-free without needing Postgres's RETURNING round trip.
func (s *Store) BumpQuota(ctx context.Context, key string, windowMs, maxReqs, maxBytes, bytes int64) (bool, error) {
	nowMs := time.Now().UnixMilli()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var windowStart, reqCount, byteCount int64
	err = tx.QueryRowContext(ctx, `SELECT window_start, req_count, byte_count FROM quota_windows WHERE key=?`, key).
		Scan(&windowStart, &reqCount, &byteCount)
	if err != nil {
		windowStart, reqCount, byteCount = nowMs, 0, 0
	}
	if nowMs-windowStart >= windowMs {
		windowStart, reqCount, byteCount = nowMs, 0, 0
	}
	reqCount++
	byteCount += bytes

	_, err = tx.ExecContext(ctx, `
		INSERT INTO quota_windows (key, window_start, req_count, byte_count) VALUES (?,?,?,?)
		ON CONFLICT (key) DO UPDATE SET window_start=excluded.window_start, req_count=excluded.req_count, byte_count=excluded.byte_count`,
		key, windowStart, reqCount, byteCount)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return reqCount <= maxReqs && byteCount <= maxBytes, nil
}
