package pgstore

import (
	"context"
	"time"

	"github.com/fedi3/fedi3/internal/models"
)

func (s *Store) EnqueueDelivery(ctx context.Context, item models.DeliveryItem) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO delivery_items (id, activity_id, activity_bytes, target, attempt, next_visible_at, state, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (activity_id, target) WHERE state = 'pending' DO NOTHING`,
		item.ID, item.ActivityID, item.ActivityBytes, item.Target, item.Attempt, item.NextVisibleAt, string(item.State))
	return err
}

func (s *Store) LeaseDeliveries(ctx context.Context, now time.Time, limit int) ([]models.DeliveryItem, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, activity_id, activity_bytes, target, attempt, next_visible_at, state, COALESCE(last_error,''), created_at
		FROM delivery_items WHERE state='pending' AND next_visible_at <= $1
		ORDER BY next_visible_at ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.DeliveryItem
	for rows.Next() {
		var it models.DeliveryItem
		var state string
		if err := rows.Scan(&it.ID, &it.ActivityID, &it.ActivityBytes, &it.Target, &it.Attempt, &it.NextVisibleAt, &state, &it.LastError, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.State = models.DeliveryState(state)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) UpdateDeliveryOutcome(ctx context.Context, id string, state models.DeliveryState, nextVisibleAt time.Time, attempt int, lastErr string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE delivery_items SET state=$2, next_visible_at=$3, attempt=$4, last_error=$5 WHERE id=$1`,
		id, string(state), nextVisibleAt, attempt, lastErr)
	return err
}

func (s *Store) MarkDeliveredByActivity(ctx context.Context, activityID, target string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE delivery_items SET state='delivered' WHERE activity_id=$1 AND target=$2 AND state='pending'`,
		activityID, target)
	return err
}

func (s *Store) EnqueueObjectFetch(ctx context.Context, item models.ObjectFetchItem) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO object_fetch_items (id, url, attempt, next_visible_at, done) VALUES ($1,$2,$3,$4,false)`,
		item.ID, item.URL, item.Attempt, item.NextVisibleAt)
	return err
}

func (s *Store) LeaseObjectFetches(ctx context.Context, now time.Time, limit int) ([]models.ObjectFetchItem, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, url, attempt, next_visible_at, COALESCE(last_error,'')
		FROM object_fetch_items WHERE done=false AND next_visible_at <= $1
		ORDER BY next_visible_at ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ObjectFetchItem
	for rows.Next() {
		var it models.ObjectFetchItem
		if err := rows.Scan(&it.ID, &it.URL, &it.Attempt, &it.NextVisibleAt, &it.LastError); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) UpdateObjectFetchOutcome(ctx context.Context, id string, nextVisibleAt time.Time, attempt int, lastErr string, done bool) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE object_fetch_items SET next_visible_at=$2, attempt=$3, last_error=$4, done=$5 WHERE id=$1`,
		id, nextVisibleAt, attempt, lastErr, done)
	return err
}

// BumpQuota implements an atomic monotonic-window bump: if the stored
// window has expired, it is reset; counters are incremented and compared
// against the caps in one round trip.
func (s *Store) BumpQuota(ctx context.Context, key string, windowMs, maxReqs, maxBytes, bytes int64) (bool, error) {
	nowMs := time.Now().UnixMilli()
	var reqCount, byteCount, windowStart int64
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO quota_windows (key, window_start, req_count, byte_count)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (key) DO UPDATE SET
			window_start = CASE WHEN $2 - quota_windows.window_start >= $4 THEN $2 ELSE quota_windows.window_start END,
			req_count = CASE WHEN $2 - quota_windows.window_start >= $4 THEN 1 ELSE quota_windows.req_count + 1 END,
			byte_count = CASE WHEN $2 - quota_windows.window_start >= $4 THEN $3 ELSE quota_windows.byte_count + $3 END
		RETURNING window_start, req_count, byte_count`,
		key, nowMs, bytes, windowMs).Scan(&windowStart, &reqCount, &byteCount)
	if err != nil {
		return false, err
	}
	return reqCount <= maxReqs && byteCount <= maxBytes, nil
}
