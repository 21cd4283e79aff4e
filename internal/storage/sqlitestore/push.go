package sqlitestore

import (
	"context"
	"time"

	"github.com/fedi3/fedi3/internal/models"
)

func (s *Store) UpsertPushSubscription(ctx context.Context, sub models.PushSubscription) error {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO push_subscriptions (id, actor_url, endpoint, key_p256dh, key_auth, user_agent, created_ms, last_used_ms)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (actor_url, endpoint) DO UPDATE SET
			key_p256dh=excluded.key_p256dh, key_auth=excluded.key_auth,
			user_agent=excluded.user_agent, last_used_ms=excluded.last_used_ms`,
		sub.ID, sub.ActorURL, sub.Endpoint, sub.KeyP256dh, sub.KeyAuth, sub.UserAgent, now, now)
	return err
}

func (s *Store) ListPushSubscriptions(ctx context.Context, actorURL string) ([]models.PushSubscription, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, actor_url, endpoint, key_p256dh, key_auth, COALESCE(user_agent,''), created_ms, last_used_ms
		FROM push_subscriptions WHERE actor_url = ?`, actorURL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.PushSubscription
	for rows.Next() {
		var sub models.PushSubscription
		var createdMs, lastUsedMs int64
		if err := rows.Scan(&sub.ID, &sub.ActorURL, &sub.Endpoint, &sub.KeyP256dh, &sub.KeyAuth, &sub.UserAgent, &createdMs, &lastUsedMs); err != nil {
			return nil, err
		}
		sub.CreatedAt = time.UnixMilli(createdMs)
		sub.LastUsedAt = time.UnixMilli(lastUsedMs)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) TouchPushSubscription(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE push_subscriptions SET last_used_ms = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	return err
}

func (s *Store) DeletePushSubscription(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = ?`, id)
	return err
}

func (s *Store) DeleteStalePushSubscriptions(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE last_used_ms < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
