package meshsync

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage/memstore"
)

func TestResponderHandleAndVerify(t *testing.T) {
	store := memstore.New()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if err := store.UpsertRelayNote(context.Background(), models.RelayNote{
		NoteID: "note-1", PublishedMs: 1000, ContentText: "hello",
	}); err != nil {
		t.Fatalf("UpsertRelayNote: %v", err)
	}

	r := NewResponder(store, "https://relay-a.example", priv)
	resp, err := r.Handle(context.Background(), Request{Limit: 10})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(resp.Notes) != 1 {
		t.Fatalf("expected 1 note in response, got %d", len(resp.Notes))
	}

	pubB64 := pubKeyB64(pub)
	ok, err := Verify(resp, pubB64)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("expected response to verify against the responder's public key")
	}
}

type fakeRequester struct {
	resp Response
	err  error
}

func (f fakeRequester) RequestSync(ctx context.Context, relayURL string, req Request) (Response, error) {
	return f.resp, f.err
}

func TestPullFrom_AppliesAndRewards(t *testing.T) {
	store := memstore.New()
	pub, priv, _ := ed25519.GenerateKey(nil)
	resp := Response{RelayURL: "https://relay-a.example", CreatedAtMs: 5000, Notes: []models.RelayNote{{NoteID: "n1", PublishedMs: 1}}}
	sig, err := sign(priv, resp)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	resp.SignatureB64 = sig

	puller := NewPuller(store, fakeRequester{resp: resp})
	n, err := puller.PullFrom(context.Background(), "https://relay-a.example", pubKeyB64(pub))
	if err != nil {
		t.Fatalf("PullFrom: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 note applied, got %d", n)
	}

	rep, err := store.GetReputation(context.Background(), "https://relay-a.example")
	if err != nil {
		t.Fatalf("GetReputation: %v", err)
	}
	if rep.Score != 1 {
		t.Errorf("reputation score = %d, want 1", rep.Score)
	}

	wm, err := store.GetMeshWatermark(context.Background(), "https://relay-a.example")
	if err != nil {
		t.Fatalf("GetMeshWatermark: %v", err)
	}
	if wm != 5000 {
		t.Errorf("watermark = %d, want 5000", wm)
	}
}

func TestPullFrom_PenalizesBadSignature(t *testing.T) {
	store := memstore.New()
	_, wrongPriv, _ := ed25519.GenerateKey(nil)
	otherPub, _, _ := ed25519.GenerateKey(nil)

	resp := Response{RelayURL: "https://relay-b.example", CreatedAtMs: 1}
	sig, _ := sign(wrongPriv, resp)
	resp.SignatureB64 = sig

	puller := NewPuller(store, fakeRequester{resp: resp})
	_, err := puller.PullFrom(context.Background(), "https://relay-b.example", pubKeyB64(otherPub))
	if err == nil {
		t.Fatal("expected signature verification to fail against the wrong pinned key")
	}

	rep, err := store.GetReputation(context.Background(), "https://relay-b.example")
	if err != nil {
		t.Fatalf("GetReputation: %v", err)
	}
	if rep.Score != -2 {
		t.Errorf("reputation score = %d, want -2", rep.Score)
	}
}

func pubKeyB64(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}
