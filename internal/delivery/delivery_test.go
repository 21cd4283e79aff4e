package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage/memstore"
)

type fakeTransport struct {
	name   string
	result models.TransportResult
	err    error
	calls  int
}

func (f *fakeTransport) Name() string { return f.name }
func (f *fakeTransport) Deliver(ctx context.Context, target string, activityBytes []byte) (models.TransportResult, error) {
	f.calls++
	return f.result, f.err
}

func TestTransportLadder_FirstLegSucceeds(t *testing.T) {
	p2p := &fakeTransport{name: "p2p", result: models.TransportSent}
	https := &fakeTransport{name: "https", result: models.TransportSent}
	ladder := TransportLadder{Legs: []Transport{p2p, https}}

	result, leg, err := ladder.Attempt(context.Background(), "https://peer.example/users/bob", nil)
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if result != models.TransportSent || leg != "p2p" {
		t.Errorf("result=%v leg=%q, want sent via p2p", result, leg)
	}
	if https.calls != 0 {
		t.Error("https leg should not have been tried")
	}
}

func TestTransportLadder_FallsThroughToHTTPS(t *testing.T) {
	p2p := &fakeTransport{name: "p2p", result: models.TransportFailed, err: errors.New("no peer")}
	https := &fakeTransport{name: "https", result: models.TransportSent}
	ladder := TransportLadder{Legs: []Transport{p2p, https}}

	result, leg, err := ladder.Attempt(context.Background(), "https://peer.example/users/bob", nil)
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if result != models.TransportSent || leg != "https" {
		t.Errorf("result=%v leg=%q, want sent via https", result, leg)
	}
}

func TestTransportLadder_AllLegsFail(t *testing.T) {
	p2p := &fakeTransport{name: "p2p", result: models.TransportFailed, err: errors.New("down")}
	ladder := TransportLadder{Legs: []Transport{p2p}}
	result, _, err := ladder.Attempt(context.Background(), "target", nil)
	if result != models.TransportFailed || err == nil {
		t.Errorf("expected failure, got result=%v err=%v", result, err)
	}
}

func TestQueue_EnqueueAndRunOnce_Success(t *testing.T) {
	store := memstore.New()
	https := &fakeTransport{name: "https", result: models.TransportSent}
	q := New(store, TransportLadder{Legs: []Transport{https}})

	activity := []byte(`{"id":"https://origin.example/activities/1","type":"Create"}`)
	if err := q.Enqueue(context.Background(), "https://origin.example/activities/1", activity, []string{"https://peer.example/users/bob"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	n, err := q.RunOnce(context.Background(), 10)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 leased item, got %d", n)
	}

	leftover, err := store.LeaseDeliveries(context.Background(), time.Now(), 10)
	if err != nil {
		t.Fatalf("LeaseDeliveries: %v", err)
	}
	if len(leftover) != 0 {
		t.Errorf("expected no pending items after successful delivery, got %d", len(leftover))
	}
}

func TestQueue_RunOnce_RetriesThenDies(t *testing.T) {
	store := memstore.New()
	https := &fakeTransport{name: "https", result: models.TransportFailed, err: errors.New("boom")}
	q := New(store, TransportLadder{Legs: []Transport{https}})

	if err := q.Enqueue(context.Background(), "https://origin.example/activities/2", []byte(`{"id":"https://origin.example/activities/2"}`), []string{"https://peer.example/users/carol"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Each failed attempt schedules NextVisibleAt in the future via
	// backoff; force it back to "now" between runs so the item is
	// immediately re-leasable, driving it to MaxAttempts without waiting
	// on real backoff delays.
	var rowID string
	for i := 0; i < MaxAttempts; i++ {
		items, err := store.LeaseDeliveries(context.Background(), time.Now().Add(time.Hour), 10)
		if err != nil {
			t.Fatalf("LeaseDeliveries: %v", err)
		}
		if len(items) != 1 {
			t.Fatalf("attempt %d: expected 1 leasable item, got %d", i, len(items))
		}
		rowID = items[0].ID
		if err := store.UpdateDeliveryOutcome(context.Background(), rowID, models.DeliveryPending, time.Now().Add(-time.Second), items[0].Attempt, ""); err != nil {
			t.Fatalf("forcing row visible: %v", err)
		}
		if _, err := q.RunOnce(context.Background(), 10); err != nil {
			t.Fatalf("RunOnce (attempt %d): %v", i, err)
		}
	}

	items, err := store.LeaseDeliveries(context.Background(), time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("LeaseDeliveries (final): %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected the dead row to no longer be pending, got %d", len(items))
	}
}

func TestReceiptReceived_MarksDelivered(t *testing.T) {
	store := memstore.New()
	q := New(store, TransportLadder{})
	if err := store.EnqueueDelivery(context.Background(), models.DeliveryItem{
		ID: "row-1", ActivityID: "act-1", Target: "https://peer.example/users/dan", State: models.DeliveryPending,
	}); err != nil {
		t.Fatalf("EnqueueDelivery: %v", err)
	}

	if err := q.ReceiptReceived(context.Background(), "act-1", "https://peer.example/users/dan"); err != nil {
		t.Fatalf("ReceiptReceived: %v", err)
	}

	leftover, err := store.LeaseDeliveries(context.Background(), time.Now(), 10)
	if err != nil {
		t.Fatalf("LeaseDeliveries: %v", err)
	}
	if len(leftover) != 0 {
		t.Errorf("expected receipt to reclaim the row, got %d still pending", len(leftover))
	}
}
