// Package objectfetch implements the Object Fetch Worker: dereferences
// objects referenced by URL only (reply parents, reaction targets)
// peer-first via the Node's tunnel client, falling back to a signed
// HTTPS GET, with its own jittered exponential retry backoff
// (NextBackoff).
package objectfetch

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage"
)

// Enqueuer is the narrow interface the Activity Processor needs: enqueue
// a URL for background dereference without blocking inbound processing.
type Enqueuer struct {
	store storage.Store
}

func NewEnqueuer(store storage.Store) *Enqueuer {
	return &Enqueuer{store: store}
}

func (e *Enqueuer) Enqueue(ctx context.Context, url string) error {
	item := models.ObjectFetchItem{
		ID:            models.NewULID().String(),
		URL:           url,
		Attempt:       0,
		NextVisibleAt: time.Now(),
	}
	if err := e.store.EnqueueObjectFetch(ctx, item); err != nil {
		return fmt.Errorf("objectfetch: enqueueing %q: %w", url, err)
	}
	return nil
}

// baseBackoff and maxBackoff bound the exponential backoff applied between
// fetch attempts.
const (
	baseBackoff = 5 * time.Second
	maxBackoff  = 15 * time.Minute
)

// NextBackoff computes the next-visible-at delay for attempt (0-indexed),
// with +/-20% jitter to avoid thundering-herd retries against the same
// remote host.
func NextBackoff(attempt int) time.Duration {
	d := baseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			d = maxBackoff
			break
		}
	}
	jitter := time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
	return jitter
}

// Fetcher resolves one referenced object's raw bytes, peer-first then
// signed HTTPS GET. Implemented by the Node wiring code (tunnel client +
// keyresolver-signed HTTP client).
type Fetcher func(ctx context.Context, url string) ([]byte, error)

// Ingester stores a successfully fetched object. Typically backed by
// internal/activitypub's Processor.Process applied to a synthetic Create.
type Ingester func(ctx context.Context, url string, body []byte) error

// Worker leases pending object-fetch items and resolves them.
type Worker struct {
	Store    storage.Store
	Fetch    Fetcher
	Ingest   Ingester
	BatchSize int
}

func NewWorker(store storage.Store, fetch Fetcher, ingest Ingester) *Worker {
	return &Worker{Store: store, Fetch: fetch, Ingest: ingest, BatchSize: 25}
}

// RunOnce leases one batch of due object-fetch items and resolves each,
// returning the number processed. Intended to be called on a ticker by
// the owning Node's background-worker loop.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	items, err := w.Store.LeaseObjectFetches(ctx, time.Now(), w.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("objectfetch: leasing: %w", err)
	}
	for _, item := range items {
		w.resolveOne(ctx, item)
	}
	return len(items), nil
}

func (w *Worker) resolveOne(ctx context.Context, item models.ObjectFetchItem) {
	body, err := w.Fetch(ctx, item.URL)
	if err != nil {
		next := time.Now().Add(NextBackoff(item.Attempt))
		_ = w.Store.UpdateObjectFetchOutcome(ctx, item.ID, next, item.Attempt+1, err.Error(), false)
		return
	}
	if err := w.Ingest(ctx, item.URL, body); err != nil {
		next := time.Now().Add(NextBackoff(item.Attempt))
		_ = w.Store.UpdateObjectFetchOutcome(ctx, item.ID, next, item.Attempt+1, err.Error(), false)
		return
	}
	_ = w.Store.UpdateObjectFetchOutcome(ctx, item.ID, time.Time{}, item.Attempt+1, "", true)
}
