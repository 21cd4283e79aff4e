// Package delivery implements the Delivery Queue and its TransportLadder: a
// persistent per-(activity, target) work queue drained by a worker loop
// that tries P2P, then WebRTC, then signed HTTPS, in that order, with
// exponential backoff and jitter on failure and a receipt path that
// reclaims rows as delivered out of band.
package delivery

import (
	"context"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fedi3/fedi3/internal/apperr"
	"github.com/fedi3/fedi3/internal/dedup"
	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage"
)

// MaxAttempts bounds retries before a delivery item is marked dead.
const MaxAttempts = 10

// BaseBackoff/MaxBackoff bound the exponential-backoff-with-jitter delay
// between delivery attempts.
const (
	BaseBackoff = 5 * time.Second
	MaxBackoff  = 30 * time.Minute
)

// Transport attempts one delivery leg (P2P, WebRTC, or HTTPS) and reports
// whether it sent, queued (e.g. accepted by a spool), or failed.
// Implementations are supplied by the wiring layer; this package composes
// them in order without knowing their concrete transports.
type Transport interface {
	Name() string
	Deliver(ctx context.Context, target string, activityBytes []byte) (models.TransportResult, error)
}

// TransportLadder tries each Transport in order: P2P, then WebRTC, then
// signed HTTPS. A P2P-only policy is expressed by supplying a ladder with
// only the P2P transport and FallbackDelay unused.
type TransportLadder struct {
	Legs          []Transport
	FallbackDelay time.Duration
}

// Attempt runs the ladder once, trying each leg in order and returning on
// the first non-failed result. FallbackDelay is honored between
// P2P/WebRTC legs and the final HTTPS leg.
func (l TransportLadder) Attempt(ctx context.Context, target string, activityBytes []byte) (models.TransportResult, string, error) {
	var lastErr error
	for i, leg := range l.Legs {
		isLastLeg := i == len(l.Legs)-1
		if isLastLeg && len(l.Legs) > 1 && l.FallbackDelay > 0 {
			select {
			case <-ctx.Done():
				return models.TransportFailed, leg.Name(), ctx.Err()
			case <-time.After(l.FallbackDelay):
			}
		}
		result, err := leg.Deliver(ctx, target, activityBytes)
		if err == nil && result != models.TransportFailed {
			return result, leg.Name(), nil
		}
		lastErr = err
	}
	return models.TransportFailed, "", lastErr
}

// Queue wraps the storage-backed delivery queue with enqueue coalescing
// and worker-facing lease/outcome helpers.
type Queue struct {
	Store  storage.Store
	Ladder TransportLadder
}

func New(store storage.Store, ladder TransportLadder) *Queue {
	return &Queue{Store: store, Ladder: ladder}
}

// Enqueue derives the activity's stable id and enqueues one delivery row
// per target; storage.EnqueueDelivery itself coalesces rows sharing
// (activity_id, target) while pending (invariant 6).
func (q *Queue) Enqueue(ctx context.Context, activityID string, activityBytes []byte, targets []string) error {
	id, err := dedup.DeriveID(activityID, activityBytes)
	if err != nil {
		return err
	}
	for _, target := range targets {
		item := models.DeliveryItem{
			ID:            ulid.Make().String(),
			ActivityID:    id,
			ActivityBytes: activityBytes,
			Target:        target,
			State:         models.DeliveryPending,
			NextVisibleAt: time.Now(),
			CreatedAt:     time.Now(),
		}
		if err := q.Store.EnqueueDelivery(ctx, item); err != nil {
			return apperr.Wrap(apperr.Internal, "enqueueing delivery item", err)
		}
	}
	return nil
}

// RunOnce leases up to limit visible rows and attempts delivery via the
// ladder, updating each row's outcome.
func (q *Queue) RunOnce(ctx context.Context, limit int) (int, error) {
	items, err := q.Store.LeaseDeliveries(ctx, time.Now(), limit)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "leasing delivery items", err)
	}

	for _, item := range items {
		result, _, attemptErr := q.Ladder.Attempt(ctx, item.Target, item.ActivityBytes)
		switch result {
		case models.TransportSent, models.TransportQueued:
			if err := q.Store.UpdateDeliveryOutcome(ctx, item.ID, models.DeliveryDelivered, time.Time{}, item.Attempt+1, ""); err != nil {
				return len(items), apperr.Wrap(apperr.Internal, "recording delivery success", err)
			}
		default:
			attempt := item.Attempt + 1
			errMsg := ""
			if attemptErr != nil {
				errMsg = attemptErr.Error()
			}
			if attempt >= MaxAttempts {
				if err := q.Store.UpdateDeliveryOutcome(ctx, item.ID, models.DeliveryDead, time.Time{}, attempt, errMsg); err != nil {
					return len(items), apperr.Wrap(apperr.Internal, "marking delivery dead", err)
				}
				continue
			}
			next := time.Now().Add(backoffWithJitter(attempt))
			if err := q.Store.UpdateDeliveryOutcome(ctx, item.ID, models.DeliveryPending, next, attempt, errMsg); err != nil {
				return len(items), apperr.Wrap(apperr.Internal, "recording delivery failure", err)
			}
		}
	}

	return len(items), nil
}

// ReceiptReceived reclaims any pending rows for (activityID, target) as
// delivered out of band.
func (q *Queue) ReceiptReceived(ctx context.Context, activityID, target string) error {
	return q.Store.MarkDeliveredByActivity(ctx, activityID, target)
}

func backoffWithJitter(attempt int) time.Duration {
	d := BaseBackoff
	for i := 1; i < attempt && d < MaxBackoff; i++ {
		d *= 2
	}
	if d > MaxBackoff {
		d = MaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d/2 + jitter
}
