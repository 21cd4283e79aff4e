// Package telemetry implements the Relay's Telemetry & Directory Gossip: a
// periodic signed snapshot of this Relay's status, exchanged pairwise with
// peer relays, plus inbound ingestion with trust-on-first-use (TOFU)
// signing-key pinning. The Ed25519 signing key is generated once and
// persisted in storage's meta KV table.
package telemetry

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fedi3/fedi3/internal/canonjson"
	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage"
)

const metaKeyPrivate = "telemetry_ed25519_private_key"

// LoadOrGenerateKey returns this Relay's Ed25519 signing key, generating
// and persisting one on first use.
func LoadOrGenerateKey(ctx context.Context, store storage.Store) (ed25519.PrivateKey, error) {
	if raw, ok, err := store.MetaGet(ctx, metaKeyPrivate); err != nil {
		return nil, fmt.Errorf("telemetry: loading signing key: %w", err)
	} else if ok {
		priv, err := base64.StdEncoding.DecodeString(raw)
		if err != nil || len(priv) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("telemetry: stored signing key is corrupt")
		}
		return ed25519.PrivateKey(priv), nil
	}

	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("telemetry: generating signing key: %w", err)
	}
	if err := store.MetaSet(ctx, metaKeyPrivate, base64.StdEncoding.EncodeToString(priv)); err != nil {
		return nil, fmt.Errorf("telemetry: persisting signing key: %w", err)
	}
	return priv, nil
}

// Snapshotter produces the live counts a Telemetry snapshot reports,
// implemented by the Relay wiring layer over its Hub/storage.
type Snapshotter interface {
	OnlineUsers(ctx context.Context) int
	OnlinePeers(ctx context.Context) int
	TotalUsers(ctx context.Context) int
	AdvertisedUsers(ctx context.Context) []models.TelemetryUser
	AdvertisedPeers(ctx context.Context) []models.TelemetryPeer
	KnownRelays(ctx context.Context) []string
}

// Publisher builds and signs outgoing telemetry snapshots.
type Publisher struct {
	RelayURL          string
	BaseDomain        string
	PrivateKey        ed25519.PrivateKey
	Snapshot          Snapshotter
	PeersSeenWindow   time.Duration
}

func NewPublisher(relayURL, baseDomain string, priv ed25519.PrivateKey, snap Snapshotter) *Publisher {
	return &Publisher{RelayURL: relayURL, BaseDomain: baseDomain, PrivateKey: priv, Snapshot: snap, PeersSeenWindow: 30 * 24 * time.Hour}
}

// Build assembles and signs one Telemetry snapshot: the canonical bytes
// signed are the snapshot's JSON with signature_b64 cleared.
func (p *Publisher) Build(ctx context.Context) (models.Telemetry, error) {
	now := time.Now()
	t := models.Telemetry{
		RelayURL:          p.RelayURL,
		BaseDomain:        p.BaseDomain,
		TimestampMs:       now.UnixMilli(),
		OnlineUsers:       p.Snapshot.OnlineUsers(ctx),
		OnlinePeers:       p.Snapshot.OnlinePeers(ctx),
		TotalUsers:        p.Snapshot.TotalUsers(ctx),
		Relays:            p.Snapshot.KnownRelays(ctx),
		Users:             p.Snapshot.AdvertisedUsers(ctx),
		Peers:             p.Snapshot.AdvertisedPeers(ctx),
		PeersSeenWindowMs: p.PeersSeenWindow.Milliseconds(),
		PeersSeenCutoffMs: now.Add(-p.PeersSeenWindow).UnixMilli(),
		TotalPeersSeen:    len(p.Snapshot.AdvertisedPeers(ctx)),
		SignPubKeyB64:     base64.StdEncoding.EncodeToString(p.PrivateKey.Public().(ed25519.PublicKey)),
	}
	sig, err := signTelemetry(p.PrivateKey, t)
	if err != nil {
		return models.Telemetry{}, err
	}
	t.SignatureB64 = sig
	return t, nil
}

func signTelemetry(priv ed25519.PrivateKey, t models.Telemetry) (string, error) {
	t.SignatureB64 = ""
	canon, err := canonjson.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("telemetry: canonicalizing snapshot: %w", err)
	}
	sig := ed25519.Sign(priv, canon)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a Telemetry snapshot's Ed25519 signature against its own
// embedded SignPubKeyB64 (the caller is responsible for TOFU-pinning
// comparison — see Ingest).
func Verify(t models.Telemetry) (bool, error) {
	pubRaw, err := base64.StdEncoding.DecodeString(t.SignPubKeyB64)
	if err != nil || len(pubRaw) != ed25519.PublicKeySize {
		return false, fmt.Errorf("telemetry: invalid public key")
	}
	sig, err := base64.StdEncoding.DecodeString(t.SignatureB64)
	if err != nil {
		return false, fmt.Errorf("telemetry: invalid signature encoding")
	}
	unsigned := t
	unsigned.SignatureB64 = ""
	canon, err := canonjson.Marshal(unsigned)
	if err != nil {
		return false, fmt.Errorf("telemetry: canonicalizing snapshot: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(pubRaw), canon, sig), nil
}
