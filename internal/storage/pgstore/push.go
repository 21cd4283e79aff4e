package pgstore

import (
	"context"
	"time"

	"github.com/fedi3/fedi3/internal/models"
)

func (s *Store) UpsertPushSubscription(ctx context.Context, sub models.PushSubscription) error {
	now := time.Now().UnixMilli()
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO push_subscriptions (id, actor_url, endpoint, key_p256dh, key_auth, user_agent, created_ms, last_used_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		ON CONFLICT (actor_url, endpoint) DO UPDATE SET
			key_p256dh=EXCLUDED.key_p256dh, key_auth=EXCLUDED.key_auth,
			user_agent=EXCLUDED.user_agent, last_used_ms=EXCLUDED.last_used_ms`,
		sub.ID, sub.ActorURL, sub.Endpoint, sub.KeyP256dh, sub.KeyAuth, sub.UserAgent, now)
	return err
}

func (s *Store) ListPushSubscriptions(ctx context.Context, actorURL string) ([]models.PushSubscription, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, actor_url, endpoint, key_p256dh, key_auth, COALESCE(user_agent,''), created_ms, last_used_ms
		FROM push_subscriptions WHERE actor_url = $1`, actorURL)
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
	_, err := s.Pool.Exec(ctx, `UPDATE push_subscriptions SET last_used_ms = $2 WHERE id = $1`, id, time.Now().UnixMilli())
	return err
}

func (s *Store) DeletePushSubscription(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM push_subscriptions WHERE id = $1`, id)
	return err
}

func (s *Store) DeleteStalePushSubscriptions(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM push_subscriptions WHERE last_used_ms < $1`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
