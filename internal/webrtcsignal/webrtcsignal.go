// Package webrtcsignal implements the Relay's WebRTC Signaling store-
// and-forward queue: offer/answer/candidate envelopes queued per target
// peer id, capped per peer, aged out by TTL. The Relay never interprets
// payload contents or terminates a WebRTC session itself — it is pure
// transport for NAT-traversal handshakes between Nodes.
//
// The caller proves identity by HTTP signature before Send, and proves
// possession of the target peer id before Poll; both checks live in the
// HTTP wiring layer, not here.
package webrtcsignal

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fedi3/fedi3/internal/apperr"
	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage"
)

// DefaultTTL is how long a queued signal survives before it is pruned
// unread.
const DefaultTTL = 10 * time.Minute

// DefaultMaxPerPeer bounds how many undelivered envelopes one peer id may
// accumulate.
const DefaultMaxPerPeer = 64

// DefaultPollLimit is how many queued envelopes a single poll returns.
const DefaultPollLimit = 20

type Queue struct {
	Store      storage.Store
	MaxPerPeer int
	PollLimit  int
	TTL        time.Duration
}

func New(store storage.Store) *Queue {
	return &Queue{Store: store, MaxPerPeer: DefaultMaxPerPeer, PollLimit: DefaultPollLimit, TTL: DefaultTTL}
}

// Send validates kind and queues an envelope for toPeerID, rejecting the
// submission once the target already has MaxPerPeer pending.
// fromActor is the caller's verified actor URL (the caller is responsible
// for the HTTP-signature proof of identity before calling Send).
func (q *Queue) Send(ctx context.Context, fromActor, toPeerID, sessionID string, kind models.WebRTCSignalKind, payload []byte) (string, error) {
	switch kind {
	case models.SignalOffer, models.SignalAnswer, models.SignalCandidate:
	default:
		return "", apperr.New(apperr.BadInput, "unknown webrtc signal kind")
	}
	if toPeerID == "" {
		return "", apperr.New(apperr.BadInput, "missing to_peer_id")
	}

	pending, err := q.Store.CountPendingWebRTCSignals(ctx, toPeerID)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "counting pending webrtc signals", err)
	}
	if pending >= q.MaxPerPeer {
		return "", apperr.New(apperr.QuotaExceeded, "target peer has too many pending signals")
	}

	signal := models.WebRTCSignal{
		SignalID:  ulid.Make().String(),
		ToPeerID:  toPeerID,
		FromActor: fromActor,
		SessionID: sessionID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := q.Store.EnqueueWebRTCSignal(ctx, signal); err != nil {
		return "", apperr.Wrap(apperr.Internal, "enqueueing webrtc signal", err)
	}
	return signal.SignalID, nil
}

// Poll returns up to PollLimit queued envelopes for toPeerID. The caller
// must have already verified that the requesting actor's advertised peer
// id equals toPeerID.
func (q *Queue) Poll(ctx context.Context, toPeerID string) ([]models.WebRTCSignal, error) {
	return q.Store.PollWebRTCSignals(ctx, toPeerID, q.PollLimit)
}

// Ack deletes delivered envelopes by id.
func (q *Queue) Ack(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return q.Store.DeleteWebRTCSignals(ctx, ids)
}

// PruneExpired removes envelopes older than TTL, called periodically by
// the Relay's background worker loop.
func (q *Queue) PruneExpired(ctx context.Context) (int, error) {
	return q.Store.PruneExpiredWebRTCSignals(ctx, time.Now().Add(-q.TTL))
}
