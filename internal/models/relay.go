package models

import "time"

// RelayEntry is a known peer relay, upserted on telemetry.
type RelayEntry struct {
	RelayURL          string    `json:"relay_url"`
	BaseDomain        string    `json:"base_domain,omitempty"`
	LastSeen          time.Time `json:"last_seen"`
	PinnedSigningKey  string    `json:"pinned_signing_pubkey"`
	TelemetryJSON     []byte    `json:"-"`
	ReputationScore   int       `json:"reputation_score"`
	ReputationUpdated time.Time `json:"reputation_updated_at"`
}

// RelayUserRecord is one row of the directory gossip table.
type RelayUserRecord struct {
	ActorURL  string    `json:"actor_url"`
	Username  string    `json:"username"`
	RelayURL  string    `json:"relay_url"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PeerDirectoryRecord binds a P2P peer id to a relay-hosted user.
type PeerDirectoryRecord struct {
	PeerID    string    `json:"peer_id"`
	Username  string    `json:"username"`
	ActorURL  string    `json:"actor_url"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Telemetry is the signed periodic relay status snapshot.
type Telemetry struct {
	RelayURL           string            `json:"relay_url"`
	TimestampMs        int64             `json:"timestamp_ms"`
	OnlineUsers        int               `json:"online_users"`
	OnlinePeers        int               `json:"online_peers"`
	TotalUsers         int               `json:"total_users"`
	TotalPeersSeen     int               `json:"total_peers_seen"`
	PeersSeenWindowMs  int64             `json:"peers_seen_window_ms"`
	PeersSeenCutoffMs  int64             `json:"peers_seen_cutoff_ms"`
	BaseDomain         string            `json:"base_domain,omitempty"`
	Relays             []string          `json:"relays,omitempty"`
	SearchMetrics      map[string]int64  `json:"search_metrics,omitempty"`
	SignPubKeyB64      string            `json:"sign_pubkey_b64"`
	SignatureB64       string            `json:"signature_b64"`
	Users              []TelemetryUser   `json:"users,omitempty"`
	Peers              []TelemetryPeer   `json:"peers,omitempty"`
}

// TelemetryUser is one advertised local user in a telemetry snapshot.
type TelemetryUser struct {
	Username string `json:"username"`
	ActorURL string `json:"actor_url"`
}

// TelemetryPeer is one advertised P2P peer in a telemetry snapshot.
type TelemetryPeer struct {
	PeerID   string `json:"peer_id"`
	Username string `json:"username"`
	ActorURL string `json:"actor_url"`
}

// SpoolItem is a pending inbox delivery held for an offline Node.
type SpoolItem struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Query     string    `json:"query"`
	Headers   [][2]string `json:"headers"`
	Body      []byte    `json:"-"`
	BodyLen   int       `json:"body_len"`
	CreatedAt time.Time `json:"created_at"`
}

// MeshReputation tracks the bounded [-10,+10] score per remote relay used to
// gate mesh replication.
type MeshReputation struct {
	RelayURL      string    `json:"relay_url"`
	Score         int       `json:"score"`
	ExcludedUntil time.Time `json:"excluded_until,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RelayNote is a relay-replicated note (mesh sync payload row).
type RelayNote struct {
	NoteID      string    `json:"note_id"`
	ActorID     string    `json:"actor_id,omitempty"`
	PublishedMs int64     `json:"published_ms,omitempty"`
	ContentText string    `json:"content_text"`
	ContentHTML string    `json:"content_html"`
	NoteJSON    []byte    `json:"-"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RelayMediaItem is a mesh-replicated media metadata row.
type RelayMediaItem struct {
	MediaID   string `json:"media_id"`
	NoteID    string `json:"note_id,omitempty"`
	MediaType string `json:"media_type"`
	URL       string `json:"url"`
}

// RelayActorStub is a mesh-replicated actor stub row.
type RelayActorStub struct {
	ActorURL string `json:"actor_url"`
	Username string `json:"username"`
	RelayURL string `json:"relay_url"`
}
