package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/fedi3/fedi3/internal/models"
)

func (s *Store) UpsertFollower(ctx context.Context, f models.Follower) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO followers (actor_url, created_at) VALUES ($1, now())
		ON CONFLICT (actor_url) DO NOTHING`, f.ActorURL)
	return err
}

func (s *Store) DeleteFollower(ctx context.Context, actorURL string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM followers WHERE actor_url = $1`, actorURL)
	return err
}

func (s *Store) ListFollowers(ctx context.Context, cursor string, limit int) ([]models.Follower, string, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT actor_url FROM followers WHERE ($1 = '' OR actor_url > $1)
		ORDER BY actor_url ASC LIMIT $2`, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	var out []models.Follower
	for rows.Next() {
		var f models.Follower
		if err := rows.Scan(&f.ActorURL); err != nil {
			return nil, "", err
		}
		out = append(out, f)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ActorURL
	}
	return out, next, rows.Err()
}

func (s *Store) CountFollowers(ctx context.Context) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM followers`).Scan(&n)
	return n, err
}

func (s *Store) UpsertFollowing(ctx context.Context, f models.Following) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO following (actor_url, status, follow_id, cursor_pos, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (actor_url) DO UPDATE SET status=EXCLUDED.status, follow_id=EXCLUDED.follow_id, updated_at=now()`,
		f.ActorURL, string(f.Status), f.FollowID, f.Cursor)
	return err
}

func (s *Store) GetFollowing(ctx context.Context, actorURL string) (*models.Following, error) {
	var f models.Following
	var status string
	err := s.Pool.QueryRow(ctx, `SELECT actor_url, status, COALESCE(follow_id,''), COALESCE(cursor_pos,'') FROM following WHERE actor_url=$1`, actorURL).
		Scan(&f.ActorURL, &status, &f.FollowID, &f.Cursor)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.Status = models.FollowStatus(status)
	return &f, nil
}

func (s *Store) GetFollowingByFollowID(ctx context.Context, followID string) (*models.Following, error) {
	var f models.Following
	var status string
	err := s.Pool.QueryRow(ctx, `SELECT actor_url, status, COALESCE(follow_id,''), COALESCE(cursor_pos,'') FROM following WHERE follow_id=$1`, followID).
		Scan(&f.ActorURL, &status, &f.FollowID, &f.Cursor)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.Status = models.FollowStatus(status)
	return &f, nil
}

func (s *Store) DeleteFollowing(ctx context.Context, actorURL string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM following WHERE actor_url=$1`, actorURL)
	return err
}

func (s *Store) ListFollowing(ctx context.Context, cursor string, limit int) ([]models.Following, string, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT actor_url, status, COALESCE(follow_id,''), COALESCE(cursor_pos,'')
		FROM following WHERE status = 'accepted' AND ($1 = '' OR actor_url > $1)
		ORDER BY actor_url ASC LIMIT $2`, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	var out []models.Following
	for rows.Next() {
		var f models.Following
		var status string
		if err := rows.Scan(&f.ActorURL, &status, &f.FollowID, &f.Cursor); err != nil {
			return nil, "", err
		}
		f.Status = models.FollowStatus(status)
		out = append(out, f)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ActorURL
	}
	return out, next, rows.Err()
}

func (s *Store) UpsertReaction(ctx context.Context, r models.Reaction) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO reactions (activity_id, type, actor, object_id, content, created_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (activity_id) DO UPDATE SET type=EXCLUDED.type, actor=EXCLUDED.actor, object_id=EXCLUDED.object_id, content=EXCLUDED.content`,
		r.ActivityID, string(r.Type), r.Actor, r.ObjectID, r.Content)
	return err
}

func (s *Store) DeleteReactionByID(ctx context.Context, activityID string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM reactions WHERE activity_id=$1`, activityID)
	return err
}

func (s *Store) DeleteReactionByKey(ctx context.Context, actor, objectID string, typ models.ReactionType, content string) error {
	_, err := s.Pool.Exec(ctx, `
		DELETE FROM reactions WHERE actor=$1 AND object_id=$2 AND type=$3 AND COALESCE(content,'')=$4`,
		actor, objectID, string(typ), content)
	return err
}

func (s *Store) ListReactionCounts(ctx context.Context, objectID string, k int) ([]models.ReactionCount, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT type, COALESCE(content,''), count(*) c FROM reactions
		WHERE object_id=$1 GROUP BY type, content ORDER BY c DESC LIMIT $2`, objectID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ReactionCount
	for rows.Next() {
		var rc models.ReactionCount
		var typ string
		if err := rows.Scan(&typ, &rc.Content, &rc.Count); err != nil {
			return nil, err
		}
		rc.Type = models.ReactionType(typ)
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (s *Store) UpsertObject(ctx context.Context, o models.Object) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO objects (id, type, attributed_to, body, deleted, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now(),now())
		ON CONFLICT (id) DO UPDATE SET type=EXCLUDED.type, attributed_to=EXCLUDED.attributed_to, body=EXCLUDED.body, deleted=EXCLUDED.deleted, updated_at=now()`,
		o.ID, o.Type, o.AttributedTo, o.Raw(), o.Deleted)
	return err
}

func (s *Store) GetObject(ctx context.Context, id string) (*models.Object, error) {
	var o models.Object
	var body []byte
	err := s.Pool.QueryRow(ctx, `SELECT id, type, COALESCE(attributed_to,''), body, deleted FROM objects WHERE id=$1`, id).
		Scan(&o.ID, &o.Type, &o.AttributedTo, &body, &o.Deleted)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.SetRaw(body)
	return &o, nil
}

func (s *Store) ListObjectsByActor(ctx context.Context, attributedTo string, cursor string, limit int) ([]models.Object, string, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, type, COALESCE(attributed_to,''), body, deleted FROM objects
		WHERE attributed_to = $1 AND deleted = false AND ($2 = '' OR id < $2)
		ORDER BY created_at DESC, id DESC LIMIT $3`, attributedTo, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	var out []models.Object
	for rows.Next() {
		var o models.Object
		var body []byte
		if err := rows.Scan(&o.ID, &o.Type, &o.AttributedTo, &body, &o.Deleted); err != nil {
			return nil, "", err
		}
		o.SetRaw(body)
		out = append(out, o)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, rows.Err()
}

func (s *Store) MarkObjectDeleted(ctx context.Context, id string, tomb *models.Tombstone) error {
	var body []byte
	if tomb != nil {
		var err error
		body, err = jsonMarshal(tomb)
		if err != nil {
			return err
		}
		_, err = s.Pool.Exec(ctx, `UPDATE objects SET deleted=true, body=$2, updated_at=now() WHERE id=$1`, id, body)
		return err
	}
	_, err := s.Pool.Exec(ctx, `UPDATE objects SET deleted=true, updated_at=now() WHERE id=$1`, id)
	return err
}

func (s *Store) InsertReplyEdge(ctx context.Context, e models.ReplyEdge) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO reply_edges (parent_note_id, activity_id, created_at) VALUES ($1,$2,now())
		ON CONFLICT (parent_note_id, activity_id) DO NOTHING`, e.ParentNoteID, e.ActivityID)
	return err
}

func (s *Store) ListReplies(ctx context.Context, parentNoteID, cursor string, limit int) ([]models.ReplyEdge, string, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT parent_note_id, activity_id, created_at FROM reply_edges
		WHERE parent_note_id=$1 AND ($2='' OR activity_id > $2)
		ORDER BY activity_id ASC LIMIT $3`, parentNoteID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	var out []models.ReplyEdge
	for rows.Next() {
		var e models.ReplyEdge
		if err := rows.Scan(&e.ParentNoteID, &e.ActivityID, &e.CreatedAt); err != nil {
			return nil, "", err
		}
		out = append(out, e)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ActivityID
	}
	return out, next, rows.Err()
}

func (s *Store) UpsertActorSummary(ctx context.Context, a models.ActorSummary) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO actor_cache (actor_url, public_key_pem, p2p_peer_id, p2p_peer_addrs, shared_inbox, is_fedi3, moved_to, resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (actor_url) DO UPDATE SET public_key_pem=EXCLUDED.public_key_pem, p2p_peer_id=EXCLUDED.p2p_peer_id,
			p2p_peer_addrs=EXCLUDED.p2p_peer_addrs, shared_inbox=EXCLUDED.shared_inbox, is_fedi3=EXCLUDED.is_fedi3,
			moved_to=EXCLUDED.moved_to, resolved_at=now()`,
		a.ActorURL, a.PublicKeyPEM, a.P2PPeerID, a.P2PPeerAddrs, a.SharedInboxURL, a.IsFedi3Capable, a.MovedTo)
	return err
}

func (s *Store) GetActorSummary(ctx context.Context, actorURL string) (*models.ActorSummary, error) {
	var a models.ActorSummary
	err := s.Pool.QueryRow(ctx, `
		SELECT actor_url, public_key_pem, COALESCE(p2p_peer_id,''), COALESCE(p2p_peer_addrs, '{}'::text[]), COALESCE(shared_inbox,''), is_fedi3, COALESCE(moved_to,''), resolved_at
		FROM actor_cache WHERE actor_url=$1`, actorURL).
		Scan(&a.ActorURL, &a.PublicKeyPEM, &a.P2PPeerID, &a.P2PPeerAddrs, &a.SharedInboxURL, &a.IsFedi3Capable, &a.MovedTo, &a.ResolvedAt)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
