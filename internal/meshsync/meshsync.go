// Package meshsync implements Relay Mesh Replication: a request/response
// protocol exchanged between Relays to replicate public notes, media, and
// actor stubs, reputation-gated per remote relay and Ed25519-signed with
// the responder's telemetry key. Requests and responses are cursor-bounded
// backfills over a since-timestamp, carried over a NATS request/reply
// subject.
package meshsync

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fedi3/fedi3/internal/apperr"
	"github.com/fedi3/fedi3/internal/canonjson"
	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage"
)

// Subject is the NATS request/reply subject Relays exchange sync requests
// on.
const Subject = "fedi3.relay-sync.1"

// MinScore excludes a peer relay from mesh sync once its reputation drops
// below this threshold.
const MinScore = -3

// ScoreMin/ScoreMax are the reputation clamp bounds.
const (
	ScoreMin = -10
	ScoreMax = 10
)

// ReputationTTL is how long an excluded relay stays excluded before its
// reputation is eligible for another look.
const ReputationTTL = 24 * time.Hour

// DefaultLimit/MaxPages bound a single sync fetch loop.
const (
	DefaultLimit = 200
	MaxPages     = 50
)

// Request is the body sent to a peer relay's sync subject.
type Request struct {
	Since  int64  `json:"since,omitempty"`
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Response is the signed reply from the responding relay.
type Response struct {
	RelayURL     string               `json:"relay_url"`
	CreatedAtMs  int64                `json:"created_at_ms"`
	Notes        []models.RelayNote   `json:"notes,omitempty"`
	Media        []models.RelayMediaItem `json:"media,omitempty"`
	Actors       []models.RelayActorStub `json:"actors,omitempty"`
	Next         string               `json:"next,omitempty"`
	SignatureB64 string               `json:"signature_b64"`
}

// Responder answers inbound sync requests with this relay's own recent
// content.
type Responder struct {
	Store      storage.Store
	RelayURL   string
	PrivateKey ed25519.PrivateKey
}

func NewResponder(store storage.Store, relayURL string, priv ed25519.PrivateKey) *Responder {
	return &Responder{Store: store, RelayURL: relayURL, PrivateKey: priv}
}

// Handle builds and signs a Response for an inbound Request.
func (r *Responder) Handle(ctx context.Context, req Request) (Response, error) {
	limit := req.Limit
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}

	notes, next, err := r.Store.ListRelayNotesSince(ctx, req.Since, req.Cursor, limit)
	if err != nil {
		return Response{}, apperr.Wrap(apperr.Internal, "listing relay notes for sync", err)
	}

	resp := Response{
		RelayURL:    r.RelayURL,
		CreatedAtMs: time.Now().UnixMilli(),
		Notes:       notes,
		Next:        next,
	}
	sig, err := sign(r.PrivateKey, resp)
	if err != nil {
		return Response{}, err
	}
	resp.SignatureB64 = sig
	return resp, nil
}

func sign(priv ed25519.PrivateKey, resp Response) (string, error) {
	resp.SignatureB64 = ""
	canon, err := canonjson.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("meshsync: canonicalizing response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, canon)), nil
}

// Verify checks resp's Ed25519 signature against the given pinned public
// key (the caller supplies the key it pinned via Telemetry TOFU — this
// package never trusts a key embedded in the response itself).
func Verify(resp Response, pinnedPubKeyB64 string) (bool, error) {
	pubRaw, err := base64.StdEncoding.DecodeString(pinnedPubKeyB64)
	if err != nil || len(pubRaw) != ed25519.PublicKeySize {
		return false, fmt.Errorf("meshsync: invalid pinned public key")
	}
	sigRaw, err := base64.StdEncoding.DecodeString(resp.SignatureB64)
	if err != nil {
		return false, fmt.Errorf("meshsync: invalid signature encoding")
	}
	unsigned := resp
	unsigned.SignatureB64 = ""
	canon, err := canonjson.Marshal(unsigned)
	if err != nil {
		return false, fmt.Errorf("meshsync: canonicalizing response: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(pubRaw), canon, sigRaw), nil
}
