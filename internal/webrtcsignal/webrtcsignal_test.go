package webrtcsignal

import (
	"context"
	"testing"

	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage/memstore"
)

func TestSendAndPollAndAck(t *testing.T) {
	store := memstore.New()
	q := New(store)

	id, err := q.Send(context.Background(), "https://node.example/users/alice", "peer-bob", "sess-1", models.SignalOffer, []byte("sdp-offer"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty signal id")
	}

	signals, err := q.Poll(context.Background(), "peer-bob")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected 1 queued signal, got %d", len(signals))
	}
	if signals[0].SignalID != id {
		t.Errorf("signal id = %q, want %q", signals[0].SignalID, id)
	}

	if err := q.Ack(context.Background(), []string{id}); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	signals, err = q.Poll(context.Background(), "peer-bob")
	if err != nil {
		t.Fatalf("Poll (after ack): %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("expected no signals after ack, got %d", len(signals))
	}
}

func TestSend_RejectsUnknownKind(t *testing.T) {
	store := memstore.New()
	q := New(store)
	_, err := q.Send(context.Background(), "https://node.example/users/alice", "peer-bob", "sess-1", models.WebRTCSignalKind("bogus"), nil)
	if err == nil {
		t.Fatal("expected rejection of unknown signal kind")
	}
}

func TestSend_RejectsOverCap(t *testing.T) {
	store := memstore.New()
	q := New(store)
	q.MaxPerPeer = 2

	for i := 0; i < 2; i++ {
		if _, err := q.Send(context.Background(), "https://node.example/users/alice", "peer-bob", "sess-1", models.SignalCandidate, nil); err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
	}

	if _, err := q.Send(context.Background(), "https://node.example/users/alice", "peer-bob", "sess-1", models.SignalCandidate, nil); err == nil {
		t.Fatal("expected rejection once at cap")
	}
}
