package models

import "time"

// ActorSummary is the resolved-identity row cached by the Signature & Key
// Resolver and referenced throughout delivery/fan-out.
type ActorSummary struct {
	ActorURL        string    `json:"actor_url"`
	PublicKeyPEM    string    `json:"public_key_pem"`
	P2PPeerID       string    `json:"p2p_peer_id,omitempty"`
	P2PPeerAddrs    []string  `json:"p2p_peer_addrs,omitempty"`
	SharedInboxURL  string    `json:"shared_inbox_url,omitempty"`
	IsFedi3Capable  bool      `json:"is_fedi3_capable"`
	MovedTo         string    `json:"moved_to,omitempty"`
	ResolvedAt      time.Time `json:"resolved_at"`
}

// FollowStatus is the state of a Following edge.
type FollowStatus string

const (
	FollowPending  FollowStatus = "pending"
	FollowAccepted FollowStatus = "accepted"
)

// Following is the local actor's outbound follow of a remote actor.
type Following struct {
	ActorURL string       `json:"actor_url"`
	Status   FollowStatus `json:"status"`
	FollowID string       `json:"follow_id,omitempty"`
	Cursor   string       `json:"cursor,omitempty"`
}

// Follower is a remote actor following the local actor.
type Follower struct {
	ActorURL string `json:"actor_url"`
	Cursor   string `json:"cursor,omitempty"`
}

// ReactionType enumerates the Like/Announce/EmojiReact family.
type ReactionType string

const (
	ReactionLike      ReactionType = "Like"
	ReactionAnnounce  ReactionType = "Announce"
	ReactionEmojiReact ReactionType = "EmojiReact"
)

// Reaction is a Like/Announce/EmojiReact row keyed by activity id.
type Reaction struct {
	ActivityID string       `json:"activity_id"`
	Type       ReactionType `json:"type"`
	Actor      string       `json:"actor"`
	ObjectID   string       `json:"object_id"`
	Content    string       `json:"content,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// ReactionCount is one row of list_reaction_counts(object_id, k).
type ReactionCount struct {
	Type    ReactionType `json:"type"`
	Content string       `json:"content,omitempty"`
	Count   int64        `json:"count"`
}

// ReplyEdge links a reply activity to its parent note.
type ReplyEdge struct {
	ParentNoteID string    `json:"parent_note_id"`
	ActivityID   string    `json:"activity_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// InboxSeen is the dedup row; first-seen timestamp is kept for TTL pruning.
type InboxSeen struct {
	DedupID   string    `json:"dedup_id"`
	FirstSeen time.Time `json:"first_seen"`
}

// InboxLogEntry is the verbatim-stored accepted activity.
type InboxLogEntry struct {
	DedupID    string    `json:"dedup_id"`
	ActivityID string    `json:"activity_id"`
	Type       string    `json:"type"`
	Actor      string    `json:"actor"`
	Bytes      []byte    `json:"-"`
	Public     bool      `json:"public"`
	CreatedAt  time.Time `json:"created_at"`
}
