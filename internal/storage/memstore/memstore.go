// Package memstore is an in-process, mutex-guarded implementation of
// storage.Store used by other packages' unit tests in place of a live
// Postgres or SQLite instance. It is intentionally simple — linear scans, no
// indices — favoring obvious correctness over the query performance
// pgstore/sqlitestore provide against real databases.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage"
)

// Store is a goroutine-safe in-memory storage.Store.
type Store struct {
	mu sync.Mutex

	meta map[string]string
	seen map[string]time.Time

	inbox []models.InboxLogEntry

	followers []models.Follower
	following map[string]models.Following

	reactions []models.Reaction

	objects     map[string]*models.Object
	objectOrder []string
	replies     []models.ReplyEdge

	actorSummaries map[string]models.ActorSummary

	deliveries    map[string]models.DeliveryItem
	objectFetches map[string]models.ObjectFetchItem

	quota map[string]quotaWindow

	users map[string]userRecord

	userCache       map[string]userCacheEntry
	collectionCache map[string][]byte

	spool []models.SpoolItem

	relayEntries     map[string]models.RelayEntry
	relayUserDir     map[string]models.RelayUserRecord
	peerDir          map[string]models.PeerDirectoryRecord
	reputation       map[string]models.MeshReputation

	relayNotes map[string]models.RelayNote
	meshWatermark map[string]int64

	userMoves    map[string]models.UserMove
	moveNotices  map[string][]byte
	moveFanouts  map[string]models.MoveNoticeFanout

	webrtcSignals []models.WebRTCSignal

	audit []models.AuditEvent

	mediaItems map[string]mediaRecord

	pushSubs map[string]models.PushSubscription
}

type quotaWindow struct {
	windowStart int64
	reqs        int64
	bytes       int64
}

type userRecord struct {
	tokenHash string
	disabled  bool
}

type userCacheEntry struct {
	actorJSON []byte
	actorID   string
	actorURL  string
	updatedMs int64
}

type mediaRecord struct {
	backend    string
	storageKey string
	mediaType  string
	size       int64
}

// New returns an empty memstore.
func New() *Store {
	return &Store{
		meta:            make(map[string]string),
		seen:            make(map[string]time.Time),
		following:       make(map[string]models.Following),
		objects:         make(map[string]*models.Object),
		actorSummaries:  make(map[string]models.ActorSummary),
		deliveries:      make(map[string]models.DeliveryItem),
		objectFetches:   make(map[string]models.ObjectFetchItem),
		quota:           make(map[string]quotaWindow),
		users:           make(map[string]userRecord),
		userCache:       make(map[string]userCacheEntry),
		collectionCache: make(map[string][]byte),
		relayEntries:    make(map[string]models.RelayEntry),
		relayUserDir:    make(map[string]models.RelayUserRecord),
		peerDir:         make(map[string]models.PeerDirectoryRecord),
		reputation:      make(map[string]models.MeshReputation),
		relayNotes:      make(map[string]models.RelayNote),
		meshWatermark:   make(map[string]int64),
		userMoves:       make(map[string]models.UserMove),
		moveNotices:     make(map[string][]byte),
		moveFanouts:     make(map[string]models.MoveNoticeFanout),
		mediaItems:      make(map[string]mediaRecord),
		pushSubs:        make(map[string]models.PushSubscription),
	}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) MetaGet(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.meta[key]
	return v, ok, nil
}

func (s *Store) MetaSet(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[key] = value
	return nil
}

func (s *Store) MarkSeenOnce(ctx context.Context, dedupID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[dedupID]; ok {
		return false, nil
	}
	s.seen[dedupID] = time.Now()
	return true, nil
}

func (s *Store) InsertInboxLog(ctx context.Context, e models.InboxLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox = append(s.inbox, e)
	return nil
}

func (s *Store) GetInboxLogByActivityID(ctx context.Context, activityID string) (*models.InboxLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.inbox) - 1; i >= 0; i-- {
		if s.inbox[i].ActivityID == activityID {
			e := s.inbox[i]
			return &e, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListFederatedFeed(ctx context.Context, cursor string, limit int) ([]models.InboxLogEntry, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if cursor != "" {
		for i, e := range s.inbox {
			if e.DedupID == cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(s.inbox) || limit <= 0 {
		end = len(s.inbox)
	}
	if start > end {
		start = end
	}
	out := append([]models.InboxLogEntry(nil), s.inbox[start:end]...)
	next := ""
	if end < len(s.inbox) {
		next = s.inbox[end-1].DedupID
	}
	return out, next, nil
}

func (s *Store) UpsertFollower(ctx context.Context, f models.Follower) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ex := range s.followers {
		if ex.ActorURL == f.ActorURL {
			s.followers[i] = f
			return nil
		}
	}
	s.followers = append(s.followers, f)
	return nil
}

func (s *Store) DeleteFollower(ctx context.Context, actorURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ex := range s.followers {
		if ex.ActorURL == actorURL {
			s.followers = append(s.followers[:i], s.followers[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *Store) ListFollowers(ctx context.Context, cursor string, limit int) ([]models.Follower, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if cursor != "" {
		for i, f := range s.followers {
			if f.ActorURL == cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(s.followers) || limit <= 0 {
		end = len(s.followers)
	}
	if start > end {
		start = end
	}
	out := append([]models.Follower(nil), s.followers[start:end]...)
	next := ""
	if end < len(s.followers) {
		next = s.followers[end-1].ActorURL
	}
	return out, next, nil
}

func (s *Store) CountFollowers(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.followers), nil
}

func (s *Store) UpsertFollowing(ctx context.Context, f models.Following) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.following[f.ActorURL] = f
	return nil
}

func (s *Store) GetFollowing(ctx context.Context, actorURL string) (*models.Following, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.following[actorURL]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &f, nil
}

func (s *Store) GetFollowingByFollowID(ctx context.Context, followID string) (*models.Following, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.following {
		if f.FollowID == followID {
			cp := f
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) DeleteFollowing(ctx context.Context, actorURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.following, actorURL)
	return nil
}

func (s *Store) ListFollowing(ctx context.Context, cursor string, limit int) ([]models.Following, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Following
	for _, f := range s.following {
		if f.Status != models.FollowAccepted {
			continue
		}
		if cursor != "" && f.ActorURL <= cursor {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActorURL < out[j].ActorURL })
	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[len(out)-1].ActorURL
	}
	return out, next, nil
}

func (s *Store) UpsertReaction(ctx context.Context, r models.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ex := range s.reactions {
		if ex.ActivityID == r.ActivityID {
			s.reactions[i] = r
			return nil
		}
	}
	s.reactions = append(s.reactions, r)
	return nil
}

func (s *Store) DeleteReactionByID(ctx context.Context, activityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ex := range s.reactions {
		if ex.ActivityID == activityID {
			s.reactions = append(s.reactions[:i], s.reactions[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *Store) DeleteReactionByKey(ctx context.Context, actor, objectID string, typ models.ReactionType, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.reactions[:0]
	for _, ex := range s.reactions {
		if ex.Actor == actor && ex.ObjectID == objectID && ex.Type == typ && ex.Content == content {
			continue
		}
		out = append(out, ex)
	}
	s.reactions = out
	return nil
}

func (s *Store) ListReactionCounts(ctx context.Context, objectID string, k int) ([]models.ReactionCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]*models.ReactionCount)
	var order []string
	for _, r := range s.reactions {
		if r.ObjectID != objectID {
			continue
		}
		key := string(r.Type) + "\x00" + r.Content
		c, ok := counts[key]
		if !ok {
			c = &models.ReactionCount{Type: r.Type, Content: r.Content}
			counts[key] = c
			order = append(order, key)
		}
		c.Count++
	}
	out := make([]models.ReactionCount, 0, len(order))
	for _, key := range order {
		out = append(out, *counts[key])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *Store) UpsertObject(ctx context.Context, o models.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, existed := s.objects[o.ID]; !existed {
		s.objectOrder = append(s.objectOrder, o.ID)
	}
	cp := o
	s.objects[o.ID] = &cp
	return nil
}

func (s *Store) ListObjectsByActor(ctx context.Context, attributedTo string, cursor string, limit int) ([]models.Object, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.Object
	for i := len(s.objectOrder) - 1; i >= 0; i-- {
		o, ok := s.objects[s.objectOrder[i]]
		if !ok || o.AttributedTo != attributedTo || o.Deleted {
			continue
		}
		matched = append(matched, *o)
	}
	start := 0
	if cursor != "" {
		for i, o := range matched {
			if o.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	if start > end {
		start = end
	}
	out := append([]models.Object{}, matched[start:end]...)
	next := ""
	if len(out) == limit && end < len(matched) {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (s *Store) GetObject(ctx context.Context, id string) (*models.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *Store) MarkObjectDeleted(ctx context.Context, id string, tombstone *models.Tombstone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[id]
	if !ok {
		o = &models.Object{ID: id}
		s.objects[id] = o
	}
	o.Deleted = true
	if tombstone != nil {
		o.Type = tombstone.Type
	}
	return nil
}

func (s *Store) InsertReplyEdge(ctx context.Context, e models.ReplyEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, e)
	return nil
}

func (s *Store) ListReplies(ctx context.Context, parentNoteID string, cursor string, limit int) ([]models.ReplyEdge, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []models.ReplyEdge
	for _, e := range s.replies {
		if e.ParentNoteID == parentNoteID {
			matches = append(matches, e)
		}
	}
	start := 0
	if cursor != "" {
		for i, e := range matches {
			if e.ActivityID == cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(matches) || limit <= 0 {
		end = len(matches)
	}
	if start > end {
		start = end
	}
	out := append([]models.ReplyEdge(nil), matches[start:end]...)
	next := ""
	if end < len(matches) {
		next = matches[end-1].ActivityID
	}
	return out, next, nil
}

func (s *Store) UpsertActorSummary(ctx context.Context, a models.ActorSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actorSummaries[a.ActorURL] = a
	return nil
}

func (s *Store) GetActorSummary(ctx context.Context, actorURL string) (*models.ActorSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actorSummaries[actorURL]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &a, nil
}

func (s *Store) EnqueueDelivery(ctx context.Context, item models.DeliveryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ex := range s.deliveries {
		if ex.ActivityID == item.ActivityID && ex.Target == item.Target && ex.State == models.DeliveryPending {
			_ = id
			return nil // coalesce, per invariant 6
		}
	}
	if item.ID == "" {
		item.ID = item.ActivityID + "\x00" + item.Target
	}
	s.deliveries[item.ID] = item
	return nil
}

func (s *Store) LeaseDeliveries(ctx context.Context, now time.Time, limit int) ([]models.DeliveryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DeliveryItem
	for _, item := range s.deliveries {
		if item.State != models.DeliveryPending {
			continue
		}
		if item.NextVisibleAt.After(now) {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateDeliveryOutcome(ctx context.Context, id string, state models.DeliveryState, nextVisibleAt time.Time, attempt int, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.deliveries[id]
	if !ok {
		return storage.ErrNotFound
	}
	item.State = state
	item.NextVisibleAt = nextVisibleAt
	item.Attempt = attempt
	item.LastError = lastErr
	s.deliveries[id] = item
	return nil
}

func (s *Store) MarkDeliveredByActivity(ctx context.Context, activityID, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, item := range s.deliveries {
		if item.ActivityID == activityID && item.Target == target {
			item.State = models.DeliveryDelivered
			s.deliveries[id] = item
		}
	}
	return nil
}

func (s *Store) EnqueueObjectFetch(ctx context.Context, item models.ObjectFetchItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = item.URL
	}
	if _, exists := s.objectFetches[item.ID]; exists {
		return nil
	}
	s.objectFetches[item.ID] = item
	return nil
}

func (s *Store) LeaseObjectFetches(ctx context.Context, now time.Time, limit int) ([]models.ObjectFetchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ObjectFetchItem
	for _, item := range s.objectFetches {
		if item.NextVisibleAt.After(now) {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) UpdateObjectFetchOutcome(ctx context.Context, id string, nextVisibleAt time.Time, attempt int, lastErr string, done bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if done {
		delete(s.objectFetches, id)
		return nil
	}
	item, ok := s.objectFetches[id]
	if !ok {
		return storage.ErrNotFound
	}
	item.NextVisibleAt = nextVisibleAt
	item.Attempt = attempt
	item.LastError = lastErr
	s.objectFetches[id] = item
	return nil
}

func (s *Store) BumpQuota(ctx context.Context, key string, windowMs int64, maxReqs int64, maxBytes int64, bytes int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	w, ok := s.quota[key]
	if !ok || now-w.windowStart >= windowMs {
		w = quotaWindow{windowStart: now}
	}
	if w.reqs+1 > maxReqs || w.bytes+bytes > maxBytes {
		s.quota[key] = w
		return false, nil
	}
	w.reqs++
	w.bytes += bytes
	s.quota[key] = w
	return true, nil
}

func (s *Store) CreateUser(ctx context.Context, username, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return storage.ErrConflict
	}
	s.users[username] = userRecord{tokenHash: tokenHash}
	return nil
}

func (s *Store) GetUserTokenHash(ctx context.Context, username string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return "", false, storage.ErrNotFound
	}
	return u.tokenHash, u.disabled, nil
}

func (s *Store) SetUserDisabled(ctx context.Context, username string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return storage.ErrNotFound
	}
	u.disabled = disabled
	s.users[username] = u
	return nil
}

func (s *Store) RotateUserToken(ctx context.Context, username, newTokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return storage.ErrNotFound
	}
	u.tokenHash = newTokenHash
	s.users[username] = u
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, username)
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.users))
	for u := range s.users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) PutUserCache(ctx context.Context, username string, actorJSON []byte, actorID, actorURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userCache[username] = userCacheEntry{actorJSON: actorJSON, actorID: actorID, actorURL: actorURL, updatedMs: time.Now().UnixMilli()}
	return nil
}

func (s *Store) GetUserCache(ctx context.Context, username string) ([]byte, string, string, int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.userCache[username]
	if !ok {
		return nil, "", "", 0, false, nil
	}
	return e.actorJSON, e.actorID, e.actorURL, e.updatedMs, true, nil
}

func (s *Store) PutCollectionCache(ctx context.Context, username, kind string, json []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectionCache[username+"\x00"+kind] = json
	return nil
}

func (s *Store) GetCollectionCache(ctx context.Context, username, kind string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.collectionCache[username+"\x00"+kind]
	return v, ok, nil
}

func (s *Store) EnqueueSpool(ctx context.Context, item models.SpoolItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spool = append(s.spool, item)
	return nil
}

func (s *Store) ListSpool(ctx context.Context, username string, limit int) ([]models.SpoolItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SpoolItem
	for _, it := range s.spool {
		if it.Username == username {
			out = append(out, it)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) DeleteSpoolItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, it := range s.spool {
		if it.ID == id {
			s.spool = append(s.spool[:i], s.spool[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *Store) CountSpool(ctx context.Context, username string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.spool {
		if it.Username == username {
			n++
		}
	}
	return n, nil
}

func (s *Store) TrimOldestSpool(ctx context.Context, username string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var mine []models.SpoolItem
	var rest []models.SpoolItem
	for _, it := range s.spool {
		if it.Username == username {
			mine = append(mine, it)
		} else {
			rest = append(rest, it)
		}
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].CreatedAt.Before(mine[j].CreatedAt) })
	if len(mine) > keep {
		mine = mine[len(mine)-keep:]
	}
	s.spool = append(rest, mine...)
	return nil
}

func (s *Store) PruneExpiredSpool(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []models.SpoolItem
	pruned := 0
	for _, it := range s.spool {
		if it.CreatedAt.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, it)
	}
	s.spool = kept
	return pruned, nil
}

func (s *Store) UpsertRelayEntry(ctx context.Context, r models.RelayEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relayEntries[r.RelayURL] = r
	return nil
}

func (s *Store) GetRelayEntry(ctx context.Context, relayURL string) (*models.RelayEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.relayEntries[relayURL]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &r, nil
}

func (s *Store) ListRelayEntries(ctx context.Context) ([]models.RelayEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RelayEntry, 0, len(s.relayEntries))
	for _, r := range s.relayEntries {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelayURL < out[j].RelayURL })
	return out, nil
}

func (s *Store) UpsertRelayUserDirectory(ctx context.Context, r models.RelayUserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.relayUserDir == nil {
		s.relayUserDir = make(map[string]models.RelayUserRecord)
	}
	s.relayUserDir[r.ActorURL] = r
	return nil
}

func (s *Store) UpsertPeerDirectory(ctx context.Context, p models.PeerDirectoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerDir[p.PeerID] = p
	return nil
}

func (s *Store) GetPeerDirectory(ctx context.Context, peerID string) (*models.PeerDirectoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peerDir[peerID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (s *Store) PruneExpiredPeerDirectory(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, p := range s.peerDir {
		if p.UpdatedAt.Before(olderThan) {
			delete(s.peerDir, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) AdjustReputation(ctx context.Context, relayURL string, delta int, minScore, maxScore int) (*models.MeshReputation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reputation[relayURL]
	if !ok {
		r = models.MeshReputation{RelayURL: relayURL}
	}
	r.Score += delta
	if r.Score < minScore {
		r.Score = minScore
	}
	if r.Score > maxScore {
		r.Score = maxScore
	}
	r.UpdatedAt = time.Now()
	s.reputation[relayURL] = r
	return &r, nil
}

func (s *Store) GetReputation(ctx context.Context, relayURL string) (*models.MeshReputation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reputation[relayURL]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &r, nil
}

func (s *Store) UpsertRelayNote(ctx context.Context, n models.RelayNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relayNotes[n.NoteID] = n
	return nil
}

func (s *Store) UpsertRelayMedia(ctx context.Context, m models.RelayMediaItem) error {
	return nil // not indexed by the memstore; media item listing is not exercised standalone
}

func (s *Store) UpsertRelayActorStub(ctx context.Context, a models.RelayActorStub) error {
	return nil
}

func (s *Store) ListRelayNotesSince(ctx context.Context, sinceMs int64, cursor string, limit int) ([]models.RelayNote, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []models.RelayNote
	for _, n := range s.relayNotes {
		if n.PublishedMs >= sinceMs {
			matches = append(matches, n)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].PublishedMs < matches[j].PublishedMs })
	start := 0
	if cursor != "" {
		for i, n := range matches {
			if n.NoteID == cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(matches) || limit <= 0 {
		end = len(matches)
	}
	if start > end {
		start = end
	}
	out := append([]models.RelayNote(nil), matches[start:end]...)
	next := ""
	if end < len(matches) {
		next = matches[end-1].NoteID
	}
	return out, next, nil
}

func (s *Store) GetMeshWatermark(ctx context.Context, relayURL string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meshWatermark[relayURL], nil
}

func (s *Store) SetMeshWatermark(ctx context.Context, relayURL string, ms int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meshWatermark[relayURL] = ms
	return nil
}

func (s *Store) SetUserMove(ctx context.Context, m models.UserMove) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userMoves[m.Username] = m
	return nil
}

func (s *Store) GetUserMove(ctx context.Context, username string) (*models.UserMove, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.userMoves[username]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &m, nil
}

func (s *Store) InsertMoveNotice(ctx context.Context, noticeID string, noticeJSON []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.moveNotices[noticeID]; ok {
		return false, nil
	}
	s.moveNotices[noticeID] = noticeJSON
	return true, nil
}

func (s *Store) GetMoveNotice(ctx context.Context, noticeID string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.moveNotices[noticeID]
	return v, ok, nil
}

func (s *Store) UpsertMoveNoticeFanout(ctx context.Context, f models.MoveNoticeFanout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moveFanouts[f.NoticeID+"\x00"+f.RelayURL] = f
	return nil
}

func (s *Store) ListPendingMoveNoticeFanouts(ctx context.Context, now time.Time) ([]models.MoveNoticeFanout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.MoveNoticeFanout
	for _, f := range s.moveFanouts {
		if f.OK {
			continue
		}
		backoff := models.BackoffFor(f.Tries)
		if time.UnixMilli(f.LastTryMs).Add(backoff).After(now) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *Store) EnqueueWebRTCSignal(ctx context.Context, sig models.WebRTCSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webrtcSignals = append(s.webrtcSignals, sig)
	return nil
}

func (s *Store) CountPendingWebRTCSignals(ctx context.Context, toPeerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sig := range s.webrtcSignals {
		if sig.ToPeerID == toPeerID {
			n++
		}
	}
	return n, nil
}

func (s *Store) PollWebRTCSignals(ctx context.Context, toPeerID string, limit int) ([]models.WebRTCSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WebRTCSignal
	for _, sig := range s.webrtcSignals {
		if sig.ToPeerID == toPeerID {
			out = append(out, sig)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) DeleteWebRTCSignals(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	var kept []models.WebRTCSignal
	for _, sig := range s.webrtcSignals {
		if idSet[sig.SignalID] {
			continue
		}
		kept = append(kept, sig)
	}
	s.webrtcSignals = kept
	return nil
}

func (s *Store) PruneExpiredWebRTCSignals(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []models.WebRTCSignal
	n := 0
	for _, sig := range s.webrtcSignals {
		if sig.CreatedAt.Before(olderThan) {
			n++
			continue
		}
		kept = append(kept, sig)
	}
	s.webrtcSignals = kept
	return n, nil
}

func (s *Store) InsertAudit(ctx context.Context, e models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.audit)
	start := 0
	if limit > 0 && n > limit {
		start = n - limit
	}
	out := make([]models.AuditEvent, 0, n-start)
	for i := n - 1; i >= start; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}

func (s *Store) InsertMediaItem(ctx context.Context, id, username, backend, storageKey, mediaType string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mediaItems[id] = mediaRecord{backend: backend, storageKey: storageKey, mediaType: mediaType, size: size}
	return nil
}

func (s *Store) GetMediaItem(ctx context.Context, id string) (string, string, string, int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mediaItems[id]
	if !ok {
		return "", "", "", 0, false, nil
	}
	return m.backend, m.storageKey, m.mediaType, m.size, true, nil
}

func (s *Store) UpsertPushSubscription(ctx context.Context, sub models.PushSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, ex := range s.pushSubs {
		if ex.ActorURL == sub.ActorURL && ex.Endpoint == sub.Endpoint {
			sub.ID = ex.ID
			sub.CreatedAt = ex.CreatedAt
			sub.LastUsedAt = now
			s.pushSubs[sub.ID] = sub
			return nil
		}
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.LastUsedAt = now
	s.pushSubs[sub.ID] = sub
	return nil
}

func (s *Store) ListPushSubscriptions(ctx context.Context, actorURL string) ([]models.PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PushSubscription
	for _, sub := range s.pushSubs {
		if sub.ActorURL == actorURL {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) TouchPushSubscription(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.pushSubs[id]
	if !ok {
		return storage.ErrNotFound
	}
	sub.LastUsedAt = time.Now()
	s.pushSubs[id] = sub
	return nil
}

func (s *Store) DeletePushSubscription(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pushSubs, id)
	return nil
}

func (s *Store) DeleteStalePushSubscriptions(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sub := range s.pushSubs {
		if sub.LastUsedAt.Before(olderThan) {
			delete(s.pushSubs, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) HealthCheck(ctx context.Context) error { return nil }

func (s *Store) Close() {}
