package telemetry

import (
	"context"
	"testing"

	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage/memstore"
)

type fakeSnapshot struct{}

func (fakeSnapshot) OnlineUsers(ctx context.Context) int  { return 3 }
func (fakeSnapshot) OnlinePeers(ctx context.Context) int  { return 1 }
func (fakeSnapshot) TotalUsers(ctx context.Context) int   { return 10 }
func (fakeSnapshot) AdvertisedUsers(ctx context.Context) []models.TelemetryUser {
	return []models.TelemetryUser{{Username: "alice", ActorURL: "https://relay.example/users/alice"}}
}
func (fakeSnapshot) AdvertisedPeers(ctx context.Context) []models.TelemetryPeer { return nil }
func (fakeSnapshot) KnownRelays(ctx context.Context) []string                  { return nil }

func TestBuildAndVerify(t *testing.T) {
	store := memstore.New()
	priv, err := LoadOrGenerateKey(context.Background(), store)
	if err != nil {
		t.Fatalf("LoadOrGenerateKey: %v", err)
	}

	pub := NewPublisher("https://relay.example", "relay.example", priv, fakeSnapshot{})
	snap, err := pub.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ok, err := Verify(snap)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("expected snapshot to verify")
	}
}

func TestLoadOrGenerateKey_Persists(t *testing.T) {
	store := memstore.New()
	k1, err := LoadOrGenerateKey(context.Background(), store)
	if err != nil {
		t.Fatalf("LoadOrGenerateKey: %v", err)
	}
	k2, err := LoadOrGenerateKey(context.Background(), store)
	if err != nil {
		t.Fatalf("LoadOrGenerateKey (2nd): %v", err)
	}
	if string(k1) != string(k2) {
		t.Error("expected the same key to be returned across calls")
	}
}

func TestIngest_TOFUPinning(t *testing.T) {
	store := memstore.New()
	priv1, _ := LoadOrGenerateKey(context.Background(), store)
	pub1 := NewPublisher("https://relay1.example", "relay1.example", priv1, fakeSnapshot{})
	snap1, err := pub1.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	in := NewIngester(store)
	if err := in.Ingest(context.Background(), snap1); err != nil {
		t.Fatalf("Ingest (first): %v", err)
	}

	other := memstore.New()
	priv2, _ := LoadOrGenerateKey(context.Background(), other)
	pub2 := NewPublisher("https://relay1.example", "relay1.example", priv2, fakeSnapshot{})
	snap2, err := pub2.Build(context.Background())
	if err != nil {
		t.Fatalf("Build (2nd key): %v", err)
	}

	if err := in.Ingest(context.Background(), snap2); err == nil {
		t.Fatal("expected TOFU mismatch to be rejected")
	}

	entry, err := store.GetRelayEntry(context.Background(), "https://relay1.example")
	if err != nil {
		t.Fatalf("GetRelayEntry: %v", err)
	}
	if entry.PinnedSigningKey != snap1.SignPubKeyB64 {
		t.Error("pinned key should still be the original key after a rejected mismatch")
	}
}
