// Package storage defines the relational storage port consumed by every
// other fedi3 component: a thin interface, one method per semantic
// operation, with no dialect-specific text leaking to callers. Two adapters
// implement it: storage/pgstore (PostgreSQL via pgx) for Relay deployments
// and multi-operator Nodes, and storage/sqlitestore (modernc.org/sqlite,
// pure Go, no cgo) for single-operator Nodes.
package storage

import (
	"context"
	"time"

	"github.com/fedi3/fedi3/internal/models"
)

// Store is the full storage port. Every method name matches a semantic
// operation; no caller constructs SQL or references a table name directly.
type Store interface {
	// --- Key/value meta (Ed25519 signing key persistence, federation
	// mode, misc singleton settings) ---
	MetaGet(ctx context.Context, key string) (string, bool, error)
	MetaSet(ctx context.Context, key, value string) error

	// --- Deduplicator ---
	// MarkSeenOnce atomically inserts dedupID and reports whether this
	// call was the first to do so (invariant 1).
	MarkSeenOnce(ctx context.Context, dedupID string) (firstSeen bool, err error)

	// --- Inbox log / federated feed ---
	InsertInboxLog(ctx context.Context, e models.InboxLogEntry) error
	GetInboxLogByActivityID(ctx context.Context, activityID string) (*models.InboxLogEntry, error)
	ListFederatedFeed(ctx context.Context, cursor string, limit int) ([]models.InboxLogEntry, string, error)

	// --- Social graph ---
	UpsertFollower(ctx context.Context, f models.Follower) error
	DeleteFollower(ctx context.Context, actorURL string) error
	ListFollowers(ctx context.Context, cursor string, limit int) ([]models.Follower, string, error)
	CountFollowers(ctx context.Context) (int, error)

	UpsertFollowing(ctx context.Context, f models.Following) error
	GetFollowing(ctx context.Context, actorURL string) (*models.Following, error)
	GetFollowingByFollowID(ctx context.Context, followID string) (*models.Following, error)
	DeleteFollowing(ctx context.Context, actorURL string) error
	ListFollowing(ctx context.Context, cursor string, limit int) ([]models.Following, string, error)

	// --- Reactions ---
	UpsertReaction(ctx context.Context, r models.Reaction) error
	DeleteReactionByID(ctx context.Context, activityID string) error
	DeleteReactionByKey(ctx context.Context, actor, objectID string, typ models.ReactionType, content string) error
	ListReactionCounts(ctx context.Context, objectID string, k int) ([]models.ReactionCount, error)

	// --- Objects ---
	UpsertObject(ctx context.Context, o models.Object) error
	GetObject(ctx context.Context, id string) (*models.Object, error)
	MarkObjectDeleted(ctx context.Context, id string, tombstone *models.Tombstone) error
	InsertReplyEdge(ctx context.Context, e models.ReplyEdge) error
	ListReplies(ctx context.Context, parentNoteID string, cursor string, limit int) ([]models.ReplyEdge, string, error)
	ListObjectsByActor(ctx context.Context, attributedTo string, cursor string, limit int) ([]models.Object, string, error)

	// --- Actor cache ---
	UpsertActorSummary(ctx context.Context, a models.ActorSummary) error
	GetActorSummary(ctx context.Context, actorURL string) (*models.ActorSummary, error)

	// --- Delivery queue ---
	EnqueueDelivery(ctx context.Context, item models.DeliveryItem) error
	LeaseDeliveries(ctx context.Context, now time.Time, limit int) ([]models.DeliveryItem, error)
	UpdateDeliveryOutcome(ctx context.Context, id string, state models.DeliveryState, nextVisibleAt time.Time, attempt int, lastErr string) error
	MarkDeliveredByActivity(ctx context.Context, activityID, target string) error

	// --- Object fetch queue ---
	EnqueueObjectFetch(ctx context.Context, item models.ObjectFetchItem) error
	LeaseObjectFetches(ctx context.Context, now time.Time, limit int) ([]models.ObjectFetchItem, error)
	UpdateObjectFetchOutcome(ctx context.Context, id string, nextVisibleAt time.Time, attempt int, lastErr string, done bool) error

	// --- Rate/quota persistent store ---
	// BumpQuota atomically advances a monotonic window counter and
	// reports whether the request is admitted under max_reqs/max_bytes.
	BumpQuota(ctx context.Context, key string, windowMs int64, maxReqs int64, maxBytes int64, bytes int64) (ok bool, err error)

	// --- Relay: users & tokens ---
	CreateUser(ctx context.Context, username, tokenHash string) error
	GetUserTokenHash(ctx context.Context, username string) (hash string, disabled bool, err error)
	SetUserDisabled(ctx context.Context, username string, disabled bool) error
	RotateUserToken(ctx context.Context, username, newTokenHash string) error
	DeleteUser(ctx context.Context, username string) error
	ListUsers(ctx context.Context) ([]string, error)

	// --- Relay: collection/actor cache ---
	PutUserCache(ctx context.Context, username string, actorJSON []byte, actorID, actorURL string) error
	GetUserCache(ctx context.Context, username string) (actorJSON []byte, actorID, actorURL string, updatedMs int64, found bool, err error)
	PutCollectionCache(ctx context.Context, username, kind string, json []byte) error
	GetCollectionCache(ctx context.Context, username, kind string) ([]byte, bool, error)

	// --- Relay: spool ---
	EnqueueSpool(ctx context.Context, item models.SpoolItem) error
	ListSpool(ctx context.Context, username string, limit int) ([]models.SpoolItem, error)
	DeleteSpoolItem(ctx context.Context, id string) error
	CountSpool(ctx context.Context, username string) (int, error)
	TrimOldestSpool(ctx context.Context, username string, keep int) error
	PruneExpiredSpool(ctx context.Context, olderThan time.Time) (int, error)

	// --- Relay: directory / telemetry / reputation ---
	UpsertRelayEntry(ctx context.Context, r models.RelayEntry) error
	GetRelayEntry(ctx context.Context, relayURL string) (*models.RelayEntry, error)
	ListRelayEntries(ctx context.Context) ([]models.RelayEntry, error)
	UpsertRelayUserDirectory(ctx context.Context, r models.RelayUserRecord) error
	UpsertPeerDirectory(ctx context.Context, p models.PeerDirectoryRecord) error
	GetPeerDirectory(ctx context.Context, peerID string) (*models.PeerDirectoryRecord, error)
	PruneExpiredPeerDirectory(ctx context.Context, olderThan time.Time) (int, error)

	AdjustReputation(ctx context.Context, relayURL string, delta int, minScore, maxScore int) (*models.MeshReputation, error)
	GetReputation(ctx context.Context, relayURL string) (*models.MeshReputation, error)

	// --- Relay: mesh-replicated content ---
	UpsertRelayNote(ctx context.Context, n models.RelayNote) error
	UpsertRelayMedia(ctx context.Context, m models.RelayMediaItem) error
	UpsertRelayActorStub(ctx context.Context, a models.RelayActorStub) error
	ListRelayNotesSince(ctx context.Context, sinceMs int64, cursor string, limit int) ([]models.RelayNote, string, error)
	GetMeshWatermark(ctx context.Context, relayURL string) (int64, error)
	SetMeshWatermark(ctx context.Context, relayURL string, ms int64) error

	// --- Relay: user migration ---
	SetUserMove(ctx context.Context, m models.UserMove) error
	GetUserMove(ctx context.Context, username string) (*models.UserMove, error)
	InsertMoveNotice(ctx context.Context, noticeID string, noticeJSON []byte) (inserted bool, err error)
	GetMoveNotice(ctx context.Context, noticeID string) ([]byte, bool, error)
	UpsertMoveNoticeFanout(ctx context.Context, f models.MoveNoticeFanout) error
	ListPendingMoveNoticeFanouts(ctx context.Context, now time.Time) ([]models.MoveNoticeFanout, error)

	// --- Relay: WebRTC signaling ---
	EnqueueWebRTCSignal(ctx context.Context, s models.WebRTCSignal) error
	CountPendingWebRTCSignals(ctx context.Context, toPeerID string) (int, error)
	PollWebRTCSignals(ctx context.Context, toPeerID string, limit int) ([]models.WebRTCSignal, error)
	DeleteWebRTCSignals(ctx context.Context, ids []string) error
	PruneExpiredWebRTCSignals(ctx context.Context, olderThan time.Time) (int, error)

	// --- Audit ---
	InsertAudit(ctx context.Context, e models.AuditEvent) error
	ListAudit(ctx context.Context, limit int) ([]models.AuditEvent, error)

	// --- Media metadata ---
	InsertMediaItem(ctx context.Context, id, username, backend, storageKey, mediaType string, size int64) error
	GetMediaItem(ctx context.Context, id string) (backend, storageKey, mediaType string, size int64, found bool, err error)

	// --- Push subscriptions (Web Push registrations per local actor) ---
	UpsertPushSubscription(ctx context.Context, sub models.PushSubscription) error
	ListPushSubscriptions(ctx context.Context, actorURL string) ([]models.PushSubscription, error)
	TouchPushSubscription(ctx context.Context, id string) error
	DeletePushSubscription(ctx context.Context, id string) error
	DeleteStalePushSubscriptions(ctx context.Context, olderThan time.Time) (int, error)

	HealthCheck(ctx context.Context) error
	Close()
}

// ErrNotFound is returned by single-row getters when no row matches.
var ErrNotFound = models.ErrNotFound

// ErrConflict is returned by CreateUser when the username already exists.
var ErrConflict = models.ErrConflict
