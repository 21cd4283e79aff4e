package dedup

import (
	"context"
	"log/slog"
	"testing"

	"github.com/fedi3/fedi3/internal/storage/sqlitestore"
)

func TestDeriveID_UsesExplicitID(t *testing.T) {
	id, err := DeriveID("https://example.social/activities/1", []byte(`{"id":"https://example.social/activities/1"}`))
	if err != nil {
		t.Fatalf("DeriveID: %v", err)
	}
	if id != "https://example.social/activities/1" {
		t.Errorf("got %q, want explicit id", id)
	}
}

func TestDeriveID_FallsBackToCanonicalHash(t *testing.T) {
	raw := []byte(`{"type":"Create","actor":"https://example.social/users/alice"}`)
	id1, err := DeriveID("", raw)
	if err != nil {
		t.Fatalf("DeriveID: %v", err)
	}
	if len(id1) == 0 {
		t.Fatal("expected non-empty fallback id")
	}
	const prefix = "urn:fedi3:inbox:"
	if id1[:len(prefix)] != prefix {
		t.Errorf("expected %q prefix, got %q", prefix, id1)
	}

	// Key order must not change the derived id (canonical JSON sorts keys).
	reordered := []byte(`{"actor":"https://example.social/users/alice","type":"Create"}`)
	id2, err := DeriveID("", reordered)
	if err != nil {
		t.Fatalf("DeriveID: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected key-order-independent ids, got %q != %q", id1, id2)
	}
}

func TestDeduplicator_MarkSeenActivity_FirstThenSecond(t *testing.T) {
	ctx := context.Background()
	store, err := sqlitestore.New(ctx, ":memory:", slog.Default())
	if err != nil {
		t.Fatalf("opening sqlite store: %v", err)
	}
	defer store.Close()

	d := New(store)
	raw := []byte(`{"type":"Like","actor":"https://example.social/users/bob"}`)

	_, first, err := d.MarkSeenActivity(ctx, "", raw)
	if err != nil {
		t.Fatalf("first MarkSeenActivity: %v", err)
	}
	if !first {
		t.Error("expected first call to report firstSeen = true")
	}

	_, second, err := d.MarkSeenActivity(ctx, "", raw)
	if err != nil {
		t.Fatalf("second MarkSeenActivity: %v", err)
	}
	if second {
		t.Error("expected second call with the same activity to report firstSeen = false")
	}
}
