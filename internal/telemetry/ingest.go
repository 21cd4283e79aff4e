package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fedi3/fedi3/internal/apperr"
	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/search"
	"github.com/fedi3/fedi3/internal/storage"
)

// MaxClockSkew bounds how far a snapshot's timestamp may drift from now.
const MaxClockSkew = 24 * time.Hour

// Ingester ingests inbound telemetry with trust-on-first-use signing-key
// pinning: the first accepted snapshot for a relay_url pins its public
// key; later snapshots from a different key are rejected.
type Ingester struct {
	Store storage.Store

	// Search, when set, receives the advertised relays/users/peers for
	// cross-relay directory search.
	Search search.Adapter
	Logger *slog.Logger
}

func NewIngester(store storage.Store) *Ingester {
	return &Ingester{Store: store}
}

// Ingest verifies t's signature and timestamp, enforces TOFU pinning, and
// on success upserts the relay entry, advertised sub-relays, and directory
// rows.
func (in *Ingester) Ingest(ctx context.Context, t models.Telemetry) error {
	if t.RelayURL == "" {
		return apperr.New(apperr.BadInput, "telemetry missing relay_url")
	}

	skew := time.Since(time.UnixMilli(t.TimestampMs))
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxClockSkew {
		return apperr.New(apperr.Unauthenticated, "telemetry timestamp outside allowed clock skew")
	}

	ok, err := Verify(t)
	if err != nil || !ok {
		return apperr.New(apperr.Unauthenticated, "telemetry signature verification failed")
	}

	existing, err := in.Store.GetRelayEntry(ctx, t.RelayURL)
	if err != nil && err != storage.ErrNotFound {
		return apperr.Wrap(apperr.UpstreamFailure, "loading relay entry", err)
	}
	if err == nil && existing.PinnedSigningKey != "" && existing.PinnedSigningKey != t.SignPubKeyB64 {
		// TOFU mismatch: reject and update nothing.
		return apperr.New(apperr.Unauthenticated, fmt.Sprintf("signing key for %s does not match pinned key", t.RelayURL))
	}

	entry := models.RelayEntry{
		RelayURL:          t.RelayURL,
		BaseDomain:        t.BaseDomain,
		LastSeen:          time.Now(),
		PinnedSigningKey:  t.SignPubKeyB64,
		ReputationScore:   0,
		ReputationUpdated: time.Now(),
	}
	if err == nil {
		entry.ReputationScore = existing.ReputationScore
		entry.ReputationUpdated = existing.ReputationUpdated
	}
	if err := in.Store.UpsertRelayEntry(ctx, entry); err != nil {
		return apperr.Wrap(apperr.Internal, "upserting relay entry", err)
	}

	for _, sub := range t.Relays {
		if sub == t.RelayURL {
			continue
		}
		if err := in.Store.UpsertRelayEntry(ctx, models.RelayEntry{RelayURL: sub, LastSeen: time.Now()}); err != nil {
			return apperr.Wrap(apperr.Internal, "upserting advertised sub-relay", err)
		}
	}

	for _, u := range t.Users {
		if err := in.Store.UpsertRelayUserDirectory(ctx, models.RelayUserRecord{
			ActorURL: u.ActorURL, Username: u.Username, RelayURL: t.RelayURL, UpdatedAt: time.Now(),
		}); err != nil {
			return apperr.Wrap(apperr.Internal, "upserting directory row", err)
		}
		in.indexActor(ctx, u.ActorURL, u.Username)
	}

	for _, p := range t.Peers {
		if err := in.Store.UpsertPeerDirectory(ctx, models.PeerDirectoryRecord{
			PeerID: p.PeerID, Username: p.Username, ActorURL: p.ActorURL, UpdatedAt: time.Now(),
		}); err != nil {
			return apperr.Wrap(apperr.Internal, "upserting peer directory row", err)
		}
		in.indexActor(ctx, p.ActorURL, p.Username)
	}

	in.indexRelay(ctx, t)

	return nil
}

// indexActor best-effort upserts an advertised user/peer into the search
// index, when a search adapter is configured. Indexing failures never fail
// telemetry ingestion.
func (in *Ingester) indexActor(ctx context.Context, actorURL, username string) {
	if in.Search == nil || actorURL == "" {
		return
	}
	doc := search.ActorDoc{ID: actorURL, Username: username}
	if err := in.Search.Upsert(ctx, search.IndexActors, doc); err != nil && in.Logger != nil {
		in.Logger.Warn("telemetry: indexing actor", slog.String("actor_url", actorURL), slog.String("error", err.Error()))
	}
}

func (in *Ingester) indexRelay(ctx context.Context, t models.Telemetry) {
	if in.Search == nil {
		return
	}
	doc := search.RelayDoc{ID: t.RelayURL, BaseDomain: t.BaseDomain, OnlineUsers: t.OnlineUsers}
	if err := in.Search.Upsert(ctx, search.IndexRelays, doc); err != nil && in.Logger != nil {
		in.Logger.Warn("telemetry: indexing relay", slog.String("relay_url", t.RelayURL), slog.String("error", err.Error()))
	}
}
