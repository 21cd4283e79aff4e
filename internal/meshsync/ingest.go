package meshsync

import (
	"context"
	"time"

	"github.com/fedi3/fedi3/internal/apperr"
	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage"
)

// Requester is the narrow transport port a concrete NATS client satisfies:
// send one Request to relayURL's sync subject and get back one Response.
// Kept separate from a concrete *nats.Conn so this package stays testable
// without a live NATS server, the same decoupling internal/fanout and
// internal/migration use for their transport ports.
type Requester interface {
	RequestSync(ctx context.Context, relayURL string, req Request) (Response, error)
}

// Puller drives the per-relay sync loop: reputation gate, fetch, verify,
// upsert, advance watermark, repeat until Next is empty or MaxPages hit.
type Puller struct {
	Store     storage.Store
	Requester Requester
	Limit     int
}

func NewPuller(store storage.Store, requester Requester) *Puller {
	return &Puller{Store: store, Requester: requester, Limit: DefaultLimit}
}

// PullFrom chases pages from relayURL starting at its stored watermark,
// adjusting its reputation by +1 on each verified page and -2 on a
// signature/pin mismatch; a relay whose score drops below MinScore stays
// excluded until ReputationTTL elapses.
func (p *Puller) PullFrom(ctx context.Context, relayURL, pinnedPubKeyB64 string) (int, error) {
	rep, err := p.Store.GetReputation(ctx, relayURL)
	if err != nil && err != storage.ErrNotFound {
		return 0, apperr.Wrap(apperr.Internal, "loading relay reputation", err)
	}
	// A relay's exclusion window is derived, not stored: once its score
	// drops below MinScore it stays excluded until ReputationTTL has
	// elapsed since the score last changed.
	if err == nil && rep.Score < MinScore && time.Since(rep.UpdatedAt) < ReputationTTL {
		return 0, apperr.New(apperr.Forbidden, "relay is excluded pending reputation recovery")
	}

	since, err := p.Store.GetMeshWatermark(ctx, relayURL)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "loading mesh watermark", err)
	}

	cursor := ""
	applied := 0
	for page := 0; page < MaxPages; page++ {
		resp, err := p.Requester.RequestSync(ctx, relayURL, Request{Since: since, Cursor: cursor, Limit: p.Limit})
		if err != nil {
			return applied, apperr.Wrap(apperr.UpstreamFailure, "requesting mesh sync page", err)
		}

		ok, verr := Verify(resp, pinnedPubKeyB64)
		if verr != nil || !ok {
			p.penalize(ctx, relayURL)
			return applied, apperr.New(apperr.Unauthenticated, "mesh sync response failed signature verification")
		}

		for _, n := range resp.Notes {
			if err := p.Store.UpsertRelayNote(ctx, n); err != nil {
				return applied, apperr.Wrap(apperr.Internal, "upserting relay note", err)
			}
			applied++
		}
		for _, m := range resp.Media {
			if err := p.Store.UpsertRelayMedia(ctx, m); err != nil {
				return applied, apperr.Wrap(apperr.Internal, "upserting relay media", err)
			}
		}
		for _, a := range resp.Actors {
			if err := p.Store.UpsertRelayActorStub(ctx, a); err != nil {
				return applied, apperr.Wrap(apperr.Internal, "upserting relay actor stub", err)
			}
		}

		p.reward(ctx, relayURL)

		if err := p.Store.SetMeshWatermark(ctx, relayURL, resp.CreatedAtMs); err != nil {
			return applied, apperr.Wrap(apperr.Internal, "advancing mesh watermark", err)
		}

		if resp.Next == "" {
			break
		}
		cursor = resp.Next
	}

	return applied, nil
}

func (p *Puller) reward(ctx context.Context, relayURL string) {
	_, _ = p.Store.AdjustReputation(ctx, relayURL, 1, ScoreMin, ScoreMax)
}

func (p *Puller) penalize(ctx context.Context, relayURL string) {
	_, _ = p.Store.AdjustReputation(ctx, relayURL, -2, ScoreMin, ScoreMax)
}
