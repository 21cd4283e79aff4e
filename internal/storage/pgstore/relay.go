package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fedi3/fedi3/internal/models"
)

// --- Users & tokens ---

func (s *Store) CreateUser(ctx context.Context, username, tokenHash string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO users (username, token_hash, created_ms, disabled) VALUES ($1,$2,$3,false)`,
		username, tokenHash, time.Now().UnixMilli())
	return err
}

func (s *Store) GetUserTokenHash(ctx context.Context, username string) (string, bool, error) {
	var hash string
	var disabled bool
	err := s.Pool.QueryRow(ctx, `SELECT token_hash, disabled FROM users WHERE username=$1`, username).Scan(&hash, &disabled)
	if err == pgx.ErrNoRows {
		return "", false, models.ErrNotFound
	}
	return hash, disabled, err
}

func (s *Store) SetUserDisabled(ctx context.Context, username string, disabled bool) error {
	_, err := s.Pool.Exec(ctx, `UPDATE users SET disabled=$2 WHERE username=$1`, username, disabled)
	return err
}

func (s *Store) RotateUserToken(ctx context.Context, username, newTokenHash string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE users SET token_hash=$2 WHERE username=$1`, username, newTokenHash)
	return err
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM users WHERE username=$1`, username)
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT username FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- Collection / actor cache ---

func (s *Store) PutUserCache(ctx context.Context, username string, actorJSON []byte, actorID, actorURL string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO user_cache (username, actor_json, actor_id, actor_url, updated_ms) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (username) DO UPDATE SET actor_json=EXCLUDED.actor_json, actor_id=EXCLUDED.actor_id, actor_url=EXCLUDED.actor_url, updated_ms=EXCLUDED.updated_ms`,
		username, actorJSON, actorID, actorURL, time.Now().UnixMilli())
	return err
}

func (s *Store) GetUserCache(ctx context.Context, username string) ([]byte, string, string, int64, bool, error) {
	var actorJSON []byte
	var actorID, actorURL string
	var updatedMs int64
	err := s.Pool.QueryRow(ctx, `SELECT actor_json, COALESCE(actor_id,''), COALESCE(actor_url,''), updated_ms FROM user_cache WHERE username=$1`, username).
		Scan(&actorJSON, &actorID, &actorURL, &updatedMs)
	if err == pgx.ErrNoRows {
		return nil, "", "", 0, false, nil
	}
	if err != nil {
		return nil, "", "", 0, false, err
	}
	return actorJSON, actorID, actorURL, updatedMs, true, nil
}

func (s *Store) PutCollectionCache(ctx context.Context, username, kind string, data []byte) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO collection_cache (username, kind, json, updated_ms) VALUES ($1,$2,$3,$4)
		ON CONFLICT (username, kind) DO UPDATE SET json=EXCLUDED.json, updated_ms=EXCLUDED.updated_ms`,
		username, kind, data, time.Now().UnixMilli())
	return err
}

func (s *Store) GetCollectionCache(ctx context.Context, username, kind string) ([]byte, bool, error) {
	var data []byte
	err := s.Pool.QueryRow(ctx, `SELECT json FROM collection_cache WHERE username=$1 AND kind=$2`, username, kind).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// --- Spool ---

func (s *Store) EnqueueSpool(ctx context.Context, item models.SpoolItem) error {
	hdr, err := jsonMarshal(item.Headers)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO inbox_spool (id, username, created_ms, method, path, query, headers_json, body, body_len)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		item.ID, item.Username, time.Now().UnixMilli(), item.Method, item.Path, item.Query, hdr, item.Body, item.BodyLen)
	return err
}

func (s *Store) ListSpool(ctx context.Context, username string, limit int) ([]models.SpoolItem, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, username, created_ms, method, path, COALESCE(query,''), headers_json, body, body_len
		FROM inbox_spool WHERE username=$1 ORDER BY created_ms ASC LIMIT $2`, username, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.SpoolItem
	for rows.Next() {
		var it models.SpoolItem
		var createdMs int64
		var hdr []byte
		if err := rows.Scan(&it.ID, &it.Username, &createdMs, &it.Method, &it.Path, &it.Query, &hdr, &it.Body, &it.BodyLen); err != nil {
			return nil, err
		}
		it.CreatedAt = time.UnixMilli(createdMs)
		_ = jsonUnmarshal(hdr, &it.Headers)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSpoolItem(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM inbox_spool WHERE id=$1`, id)
	return err
}

func (s *Store) CountSpool(ctx context.Context, username string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM inbox_spool WHERE username=$1`, username).Scan(&n)
	return n, err
}

func (s *Store) TrimOldestSpool(ctx context.Context, username string, keep int) error {
	_, err := s.Pool.Exec(ctx, `
		DELETE FROM inbox_spool WHERE id IN (
			SELECT id FROM inbox_spool WHERE username=$1 ORDER BY created_ms DESC OFFSET $2
		)`, username, keep)
	return err
}

func (s *Store) PruneExpiredSpool(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM inbox_spool WHERE created_ms < $1`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// --- Directory / telemetry / reputation ---

func (s *Store) UpsertRelayEntry(ctx context.Context, r models.RelayEntry) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO relay_registry (relay_url, base_domain, last_seen_ms, telemetry_json, pinned_signing_pubkey)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (relay_url) DO UPDATE SET base_domain=EXCLUDED.base_domain, last_seen_ms=EXCLUDED.last_seen_ms, telemetry_json=EXCLUDED.telemetry_json`,
		r.RelayURL, r.BaseDomain, r.LastSeen.UnixMilli(), r.TelemetryJSON, r.PinnedSigningKey)
	return err
}

func (s *Store) GetRelayEntry(ctx context.Context, relayURL string) (*models.RelayEntry, error) {
	var r models.RelayEntry
	var lastSeenMs int64
	err := s.Pool.QueryRow(ctx, `
		SELECT relay_url, COALESCE(base_domain,''), last_seen_ms, COALESCE(telemetry_json,''::bytea), pinned_signing_pubkey, reputation_score
		FROM relay_registry WHERE relay_url=$1`, relayURL).
		Scan(&r.RelayURL, &r.BaseDomain, &lastSeenMs, &r.TelemetryJSON, &r.PinnedSigningKey, &r.ReputationScore)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.LastSeen = time.UnixMilli(lastSeenMs)
	return &r, nil
}

func (s *Store) ListRelayEntries(ctx context.Context) ([]models.RelayEntry, error) {
	rows, err := s.Pool.Query(ctx, `SELECT relay_url, COALESCE(base_domain,''), last_seen_ms, pinned_signing_pubkey, reputation_score FROM relay_registry`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RelayEntry
	for rows.Next() {
		var r models.RelayEntry
		var lastSeenMs int64
		if err := rows.Scan(&r.RelayURL, &r.BaseDomain, &lastSeenMs, &r.PinnedSigningKey, &r.ReputationScore); err != nil {
			return nil, err
		}
		r.LastSeen = time.UnixMilli(lastSeenMs)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpsertRelayUserDirectory(ctx context.Context, r models.RelayUserRecord) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO relay_user_directory (actor_url, username, relay_url, updated_ms) VALUES ($1,$2,$3,$4)
		ON CONFLICT (actor_url) DO UPDATE SET username=EXCLUDED.username, relay_url=EXCLUDED.relay_url, updated_ms=EXCLUDED.updated_ms`,
		r.ActorURL, r.Username, r.RelayURL, time.Now().UnixMilli())
	return err
}

func (s *Store) UpsertPeerDirectory(ctx context.Context, p models.PeerDirectoryRecord) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO peer_directory (peer_id, username, actor_url, updated_ms) VALUES ($1,$2,$3,$4)
		ON CONFLICT (peer_id) DO UPDATE SET username=EXCLUDED.username, actor_url=EXCLUDED.actor_url, updated_ms=EXCLUDED.updated_ms`,
		p.PeerID, p.Username, p.ActorURL, time.Now().UnixMilli())
	return err
}

func (s *Store) GetPeerDirectory(ctx context.Context, peerID string) (*models.PeerDirectoryRecord, error) {
	var p models.PeerDirectoryRecord
	var updatedMs int64
	err := s.Pool.QueryRow(ctx, `SELECT peer_id, username, actor_url, updated_ms FROM peer_directory WHERE peer_id=$1`, peerID).
		Scan(&p.PeerID, &p.Username, &p.ActorURL, &updatedMs)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.UpdatedAt = time.UnixMilli(updatedMs)
	return &p, nil
}

func (s *Store) PruneExpiredPeerDirectory(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM peer_directory WHERE updated_ms < $1`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) AdjustReputation(ctx context.Context, relayURL string, delta, minScore, maxScore int) (*models.MeshReputation, error) {
	var score int
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO relay_registry (relay_url, last_seen_ms, pinned_signing_pubkey, reputation_score, reputation_updated_ms)
		VALUES ($1, $2, '', GREATEST($4, LEAST($5, $3)), $2)
		ON CONFLICT (relay_url) DO UPDATE SET
			reputation_score = GREATEST($4, LEAST($5, relay_registry.reputation_score + $3)),
			reputation_updated_ms = $2
		RETURNING reputation_score`, relayURL, time.Now().UnixMilli(), delta, minScore, maxScore).Scan(&score)
	if err != nil {
		return nil, err
	}
	rep := &models.MeshReputation{RelayURL: relayURL, Score: score, UpdatedAt: time.Now()}
	if score < minScore {
		rep.ExcludedUntil = time.Now()
	}
	return rep, nil
}

func (s *Store) GetReputation(ctx context.Context, relayURL string) (*models.MeshReputation, error) {
	var score int
	var updatedMs int64
	err := s.Pool.QueryRow(ctx, `SELECT reputation_score, reputation_updated_ms FROM relay_registry WHERE relay_url=$1`, relayURL).
		Scan(&score, &updatedMs)
	if err == pgx.ErrNoRows {
		return &models.MeshReputation{RelayURL: relayURL, Score: 0}, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.MeshReputation{RelayURL: relayURL, Score: score, UpdatedAt: time.UnixMilli(updatedMs)}, nil
}

// --- Mesh-replicated content ---

func (s *Store) UpsertRelayNote(ctx context.Context, n models.RelayNote) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO relay_notes (note_id, actor_id, published_ms, content_text, content_html, note_json, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (note_id) DO UPDATE SET content_text=EXCLUDED.content_text, content_html=EXCLUDED.content_html, note_json=EXCLUDED.note_json`,
		n.NoteID, n.ActorID, n.PublishedMs, n.ContentText, n.ContentHTML, n.NoteJSON)
	if err != nil {
		return err
	}
	for _, tag := range n.Tags {
		if _, err := s.Pool.Exec(ctx, `INSERT INTO relay_note_tags (note_id, tag) VALUES ($1,$2) ON CONFLICT DO NOTHING`, n.NoteID, tag); err != nil {
			return err
		}
		if _, err := s.Pool.Exec(ctx, `
			INSERT INTO relay_tag_counts (tag, count) VALUES ($1,1)
			ON CONFLICT (tag) DO UPDATE SET count = relay_tag_counts.count + 1`, tag); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) UpsertRelayMedia(ctx context.Context, m models.RelayMediaItem) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO relay_media (media_id, note_id, media_type, url) VALUES ($1,$2,$3,$4)
		ON CONFLICT (media_id) DO UPDATE SET note_id=EXCLUDED.note_id, media_type=EXCLUDED.media_type, url=EXCLUDED.url`,
		m.MediaID, m.NoteID, m.MediaType, m.URL)
	return err
}

func (s *Store) UpsertRelayActorStub(ctx context.Context, a models.RelayActorStub) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO relay_actors (actor_url, username, relay_url) VALUES ($1,$2,$3)
		ON CONFLICT (actor_url) DO UPDATE SET username=EXCLUDED.username, relay_url=EXCLUDED.relay_url`,
		a.ActorURL, a.Username, a.RelayURL)
	return err
}

func (s *Store) ListRelayNotesSince(ctx context.Context, sinceMs int64, cursor string, limit int) ([]models.RelayNote, string, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT note_id, COALESCE(actor_id,''), COALESCE(published_ms,0), COALESCE(content_text,''), COALESCE(content_html,''), note_json
		FROM relay_notes WHERE COALESCE(published_ms,0) >= $1 AND ($2='' OR note_id > $2)
		ORDER BY note_id ASC LIMIT $3`, sinceMs, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	var out []models.RelayNote
	for rows.Next() {
		var n models.RelayNote
		if err := rows.Scan(&n.NoteID, &n.ActorID, &n.PublishedMs, &n.ContentText, &n.ContentHTML, &n.NoteJSON); err != nil {
			return nil, "", err
		}
		out = append(out, n)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].NoteID
	}
	return out, next, rows.Err()
}

func (s *Store) GetMeshWatermark(ctx context.Context, relayURL string) (int64, error) {
	var ms int64
	err := s.Pool.QueryRow(ctx, `SELECT last_ms FROM mesh_watermarks WHERE relay_url=$1`, relayURL).Scan(&ms)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	return ms, err
}

func (s *Store) SetMeshWatermark(ctx context.Context, relayURL string, ms int64) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO mesh_watermarks (relay_url, last_ms) VALUES ($1,$2)
		ON CONFLICT (relay_url) DO UPDATE SET last_ms=EXCLUDED.last_ms`, relayURL, ms)
	return err
}

// --- Migration ---

func (s *Store) SetUserMove(ctx context.Context, m models.UserMove) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO user_moves (username, moved_to_actor, moved_ms) VALUES ($1,$2,$3)
		ON CONFLICT (username) DO UPDATE SET moved_to_actor=EXCLUDED.moved_to_actor, moved_ms=EXCLUDED.moved_ms`,
		m.Username, m.MovedToActor, time.Now().UnixMilli())
	return err
}

func (s *Store) GetUserMove(ctx context.Context, username string) (*models.UserMove, error) {
	var m models.UserMove
	var movedMs int64
	err := s.Pool.QueryRow(ctx, `SELECT username, moved_to_actor, moved_ms FROM user_moves WHERE username=$1`, username).
		Scan(&m.Username, &m.MovedToActor, &movedMs)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.MovedAt = time.UnixMilli(movedMs)
	return &m, nil
}

func (s *Store) InsertMoveNotice(ctx context.Context, noticeID string, noticeJSON []byte) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO move_notices (notice_id, notice_json, created_ms) VALUES ($1,$2,$3)
		ON CONFLICT (notice_id) DO NOTHING`, noticeID, noticeJSON, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetMoveNotice(ctx context.Context, noticeID string) ([]byte, bool, error) {
	var data []byte
	err := s.Pool.QueryRow(ctx, `SELECT notice_json FROM move_notices WHERE notice_id=$1`, noticeID).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *Store) UpsertMoveNoticeFanout(ctx context.Context, f models.MoveNoticeFanout) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO move_notice_fanout (notice_id, relay_url, tries, last_try_ms, ok) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (notice_id, relay_url) DO UPDATE SET tries=EXCLUDED.tries, last_try_ms=EXCLUDED.last_try_ms, ok=EXCLUDED.ok`,
		f.NoticeID, f.RelayURL, f.Tries, f.LastTryMs, f.OK)
	return err
}

func (s *Store) ListPendingMoveNoticeFanouts(ctx context.Context, now time.Time) ([]models.MoveNoticeFanout, error) {
	rows, err := s.Pool.Query(ctx, `SELECT notice_id, relay_url, tries, last_try_ms, ok FROM move_notice_fanout WHERE ok=false`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MoveNoticeFanout
	for rows.Next() {
		var f models.MoveNoticeFanout
		if err := rows.Scan(&f.NoticeID, &f.RelayURL, &f.Tries, &f.LastTryMs, &f.OK); err != nil {
			return nil, err
		}
		if time.UnixMilli(f.LastTryMs).Add(models.BackoffFor(f.Tries)).After(now) {
			continue
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- WebRTC signaling ---

func (s *Store) EnqueueWebRTCSignal(ctx context.Context, sig models.WebRTCSignal) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO webrtc_signals (signal_id, to_peer_id, from_actor, session_id, kind, payload_json, created_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		sig.SignalID, sig.ToPeerID, sig.FromActor, sig.SessionID, string(sig.Kind), sig.Payload, time.Now().UnixMilli())
	return err
}

func (s *Store) CountPendingWebRTCSignals(ctx context.Context, toPeerID string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM webrtc_signals WHERE to_peer_id=$1`, toPeerID).Scan(&n)
	return n, err
}

func (s *Store) PollWebRTCSignals(ctx context.Context, toPeerID string, limit int) ([]models.WebRTCSignal, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT signal_id, to_peer_id, from_actor, session_id, kind, payload_json, created_ms
		FROM webrtc_signals WHERE to_peer_id=$1 ORDER BY created_ms ASC LIMIT $2`, toPeerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.WebRTCSignal
	for rows.Next() {
		var sgl models.WebRTCSignal
		var kind string
		var createdMs int64
		if err := rows.Scan(&sgl.SignalID, &sgl.ToPeerID, &sgl.FromActor, &sgl.SessionID, &kind, &sgl.Payload, &createdMs); err != nil {
			return nil, err
		}
		sgl.Kind = models.WebRTCSignalKind(kind)
		sgl.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, sgl)
	}
	return out, rows.Err()
}

func (s *Store) DeleteWebRTCSignals(ctx context.Context, ids []string) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM webrtc_signals WHERE signal_id = ANY($1)`, ids)
	return err
}

func (s *Store) PruneExpiredWebRTCSignals(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM webrtc_signals WHERE created_ms < $1`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// --- Audit ---

func (s *Store) InsertAudit(ctx context.Context, e models.AuditEvent) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO admin_audit (id, action, username, actor, ip, ok, detail, created_ms, request_id, correlation_id, user_agent)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.ID, e.Kind, e.KeyID, e.Actor, e.IP, e.OK, e.Detail, time.Now().UnixMilli(), e.RequestID, e.CorrelationID, e.UserAgent)
	return err
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, action, COALESCE(username,''), COALESCE(actor,''), COALESCE(ip,''), ok, COALESCE(detail,''), created_ms
		FROM admin_audit ORDER BY created_ms DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		var createdMs int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.KeyID, &e.Actor, &e.IP, &e.OK, &e.Detail, &createdMs); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Media metadata ---

func (s *Store) InsertMediaItem(ctx context.Context, id, username, backend, storageKey, mediaType string, size int64) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO media_items (id, username, backend, storage_key, media_type, size, created_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		id, username, backend, storageKey, mediaType, size, time.Now().UnixMilli())
	return err
}

func (s *Store) GetMediaItem(ctx context.Context, id string) (string, string, string, int64, bool, error) {
	var backend, key, mediaType string
	var size int64
	err := s.Pool.QueryRow(ctx, `SELECT backend, storage_key, media_type, size FROM media_items WHERE id=$1`, id).
		Scan(&backend, &key, &mediaType, &size)
	if err == pgx.ErrNoRows {
		return "", "", "", 0, false, nil
	}
	if err != nil {
		return "", "", "", 0, false, err
	}
	return backend, key, mediaType, size, true, nil
}
