package sqlitestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/fedi3/fedi3/internal/models"
)

func (s *Store) UpsertFollower(ctx context.Context, f models.Follower) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO followers (actor_url, created_at) VALUES (?, ?)
		ON CONFLICT (actor_url) DO NOTHING`, f.ActorURL, timeStr(time.Now()))
	return err
}

func (s *Store) DeleteFollower(ctx context.Context, actorURL string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM followers WHERE actor_url = ?`, actorURL)
	return err
}

func (s *Store) ListFollowers(ctx context.Context, cursor string, limit int) ([]models.Follower, string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT actor_url FROM followers WHERE (? = '' OR actor_url > ?)
		ORDER BY actor_url ASC LIMIT ?`, cursor, cursor, limit)
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
	err := s.DB.QueryRowContext(ctx, `SELECT count(*) FROM followers`).Scan(&n)
	return n, err
}

func (s *Store) UpsertFollowing(ctx context.Context, f models.Following) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO following (actor_url, status, follow_id, cursor_pos, updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT (actor_url) DO UPDATE SET status=excluded.status, follow_id=excluded.follow_id, updated_at=excluded.updated_at`,
		f.ActorURL, string(f.Status), f.FollowID, f.Cursor, timeStr(time.Now()))
	return err
}

func (s *Store) GetFollowing(ctx context.Context, actorURL string) (*models.Following, error) {
	var f models.Following
	var status string
	err := s.DB.QueryRowContext(ctx, `SELECT actor_url, status, COALESCE(follow_id,''), COALESCE(cursor_pos,'') FROM following WHERE actor_url=?`, actorURL).
		Scan(&f.ActorURL, &status, &f.FollowID, &f.Cursor)
	if err == sql.ErrNoRows {
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
	err := s.DB.QueryRowContext(ctx, `SELECT actor_url, status, COALESCE(follow_id,''), COALESCE(cursor_pos,'') FROM following WHERE follow_id=?`, followID).
		Scan(&f.ActorURL, &status, &f.FollowID, &f.Cursor)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.Status = models.FollowStatus(status)
	return &f, nil
}

func (s *Store) DeleteFollowing(ctx context.Context, actorURL string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM following WHERE actor_url=?`, actorURL)
	return err
}

func (s *Store) ListFollowing(ctx context.Context, cursor string, limit int) ([]models.Following, string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT actor_url, status, COALESCE(follow_id,''), COALESCE(cursor_pos,'')
		FROM following WHERE status = 'accepted' AND (? = '' OR actor_url > ?)
		ORDER BY actor_url ASC LIMIT ?`, cursor, cursor, limit)
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
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO reactions (activity_id, type, actor, object_id, content, created_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (activity_id) DO UPDATE SET type=excluded.type, actor=excluded.actor, object_id=excluded.object_id, content=excluded.content`,
		r.ActivityID, string(r.Type), r.Actor, r.ObjectID, r.Content, timeStr(time.Now()))
	return err
}

func (s *Store) DeleteReactionByID(ctx context.Context, activityID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM reactions WHERE activity_id=?`, activityID)
	return err
}

func (s *Store) DeleteReactionByKey(ctx context.Context, actor, objectID string, typ models.ReactionType, content string) error {
	_, err := s.DB.ExecContext(ctx, `
		DELETE FROM reactions WHERE actor=? AND object_id=? AND type=? AND COALESCE(content,'')=?`,
		actor, objectID, string(typ), content)
	return err
}

func (s *Store) ListReactionCounts(ctx context.Context, objectID string, k int) ([]models.ReactionCount, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT type, COALESCE(content,''), count(*) c FROM reactions
		WHERE object_id=? GROUP BY type, content ORDER BY c DESC LIMIT ?`, objectID, k)
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
	now := timeStr(time.Now())
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO objects (id, type, attributed_to, body, deleted, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET type=excluded.type, attributed_to=excluded.attributed_to, body=excluded.body, deleted=excluded.deleted, updated_at=excluded.updated_at`,
		o.ID, o.Type, o.AttributedTo, o.Raw(), boolToInt(o.Deleted), now, now)
	return err
}

func (s *Store) GetObject(ctx context.Context, id string) (*models.Object, error) {
	var o models.Object
	var body []byte
	var deleted int64
	err := s.DB.QueryRowContext(ctx, `SELECT id, type, COALESCE(attributed_to,''), body, deleted FROM objects WHERE id=?`, id).
		Scan(&o.ID, &o.Type, &o.AttributedTo, &body, &deleted)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Deleted = intToBool(deleted)
	o.SetRaw(body)
	return &o, nil
}

func (s *Store) ListObjectsByActor(ctx context.Context, attributedTo string, cursor string, limit int) ([]models.Object, string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, type, COALESCE(attributed_to,''), body, deleted FROM objects
		WHERE attributed_to = ? AND deleted = 0 AND (? = '' OR id < ?)
		ORDER BY created_at DESC, id DESC LIMIT ?`, attributedTo, cursor, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	var out []models.Object
	for rows.Next() {
		var o models.Object
		var body []byte
		var deleted int64
		if err := rows.Scan(&o.ID, &o.Type, &o.AttributedTo, &body, &deleted); err != nil {
			return nil, "", err
		}
		o.Deleted = intToBool(deleted)
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
	now := timeStr(time.Now())
	if tomb != nil {
		body, err := jsonMarshal(tomb)
		if err != nil {
			return err
		}
		_, err = s.DB.ExecContext(ctx, `UPDATE objects SET deleted=1, body=?, updated_at=? WHERE id=?`, body, now, id)
		return err
	}
	_, err := s.DB.ExecContext(ctx, `UPDATE objects SET deleted=1, updated_at=? WHERE id=?`, now, id)
	return err
}

func (s *Store) InsertReplyEdge(ctx context.Context, e models.ReplyEdge) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO reply_edges (parent_note_id, activity_id, created_at) VALUES (?,?,?)
		ON CONFLICT (parent_note_id, activity_id) DO NOTHING`, e.ParentNoteID, e.ActivityID, timeStr(time.Now()))
	return err
}

func (s *Store) ListReplies(ctx context.Context, parentNoteID, cursor string, limit int) ([]models.ReplyEdge, string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT parent_note_id, activity_id, created_at FROM reply_edges
		WHERE parent_note_id=? AND (?='' OR activity_id > ?)
		ORDER BY activity_id ASC LIMIT ?`, parentNoteID, cursor, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	var out []models.ReplyEdge
	for rows.Next() {
		var e models.ReplyEdge
		var createdAt string
		if err := rows.Scan(&e.ParentNoteID, &e.ActivityID, &createdAt); err != nil {
			return nil, "", err
		}
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ActivityID
	}
	return out, next, rows.Err()
}

func (s *Store) UpsertActorSummary(ctx context.Context, a models.ActorSummary) error {
	addrs, err := jsonMarshal(a.P2PPeerAddrs)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO actor_cache (actor_url, public_key_pem, p2p_peer_id, p2p_peer_addrs, shared_inbox, is_fedi3, moved_to, resolved_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (actor_url) DO UPDATE SET public_key_pem=excluded.public_key_pem, p2p_peer_id=excluded.p2p_peer_id,
			p2p_peer_addrs=excluded.p2p_peer_addrs, shared_inbox=excluded.shared_inbox, is_fedi3=excluded.is_fedi3,
			moved_to=excluded.moved_to, resolved_at=excluded.resolved_at`,
		a.ActorURL, a.PublicKeyPEM, a.P2PPeerID, addrs, a.SharedInboxURL, boolToInt(a.IsFedi3Capable), a.MovedTo, timeStr(time.Now()))
	return err
}

func (s *Store) GetActorSummary(ctx context.Context, actorURL string) (*models.ActorSummary, error) {
	var a models.ActorSummary
	var addrs []byte
	var isFedi3 int64
	var resolvedAt string
	err := s.DB.QueryRowContext(ctx, `
		SELECT actor_url, public_key_pem, COALESCE(p2p_peer_id,''), COALESCE(p2p_peer_addrs,''), COALESCE(shared_inbox,''), is_fedi3, COALESCE(moved_to,''), resolved_at
		FROM actor_cache WHERE actor_url=?`, actorURL).
		Scan(&a.ActorURL, &a.PublicKeyPEM, &a.P2PPeerID, &addrs, &a.SharedInboxURL, &isFedi3, &a.MovedTo, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = jsonUnmarshal(addrs, &a.P2PPeerAddrs)
	a.IsFedi3Capable = intToBool(isFedi3)
	a.ResolvedAt = parseTime(resolvedAt)
	return &a, nil
}
