package directory

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage/memstore"
)

func TestPutAndGetActor_NoCache(t *testing.T) {
	store := memstore.New()
	d := New(nil, store)

	err := d.PutActor(context.Background(), "alice", []byte(`{"id":"https://example.com/users/alice"}`), "https://example.com/users/alice", "https://example.com/users/alice")
	if err != nil {
		t.Fatalf("PutActor: %v", err)
	}

	raw, _, _, found, err := d.GetActor(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetActor: %v", err)
	}
	if !found {
		t.Fatal("expected actor to be found")
	}
	if string(raw) != `{"id":"https://example.com/users/alice"}` {
		t.Errorf("unexpected actor JSON: %s", raw)
	}
}

func TestGetActor_NotFound(t *testing.T) {
	store := memstore.New()
	d := New(nil, store)
	_, _, _, found, err := d.GetActor(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetActor: %v", err)
	}
	if found {
		t.Error("expected not found")
	}
}

func TestApplyMove(t *testing.T) {
	store := memstore.New()
	d := New(nil, store)

	err := store.SetUserMove(context.Background(), models.UserMove{
		Username:     "alice",
		MovedToActor: "https://new.example/users/alice",
		MovedAt:      time.Now(),
	})
	if err != nil {
		t.Fatalf("SetUserMove: %v", err)
	}

	out, err := d.ApplyMove(context.Background(), "alice", []byte(`{"id":"https://example.com/users/alice","alsoKnownAs":["https://old.example/users/alice"]}`))
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if doc["movedTo"] != "https://new.example/users/alice" {
		t.Errorf("movedTo = %v, want new actor", doc["movedTo"])
	}
	aka, ok := doc["alsoKnownAs"].([]interface{})
	if !ok || len(aka) != 2 {
		t.Fatalf("alsoKnownAs = %v, want 2 entries", doc["alsoKnownAs"])
	}
}

func TestApplyMove_NoMoveOnRecord(t *testing.T) {
	store := memstore.New()
	d := New(nil, store)
	in := []byte(`{"id":"https://example.com/users/bob"}`)
	out, err := d.ApplyMove(context.Background(), "bob", in)
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if string(out) != string(in) {
		t.Errorf("expected unchanged JSON when no move on record")
	}
}

func TestCanonicalRedirect(t *testing.T) {
	req := httptest.NewRequest("GET", "https://mirror.example/users/alice", nil)
	req.Host = "mirror.example"
	loc, ok := CanonicalRedirect(req, "canonical.example")
	if !ok {
		t.Fatal("expected redirect for non-canonical host")
	}
	if loc != "https://canonical.example/users/alice" {
		t.Errorf("location = %q", loc)
	}

	req2 := httptest.NewRequest("POST", "https://mirror.example/users/alice/inbox", nil)
	req2.Host = "mirror.example"
	_, ok = CanonicalRedirect(req2, "canonical.example")
	if ok {
		t.Error("POST should never be redirected")
	}

	req3 := httptest.NewRequest("GET", "https://canonical.example/users/alice", nil)
	req3.Host = "canonical.example"
	_, ok = CanonicalRedirect(req3, "canonical.example")
	if ok {
		t.Error("canonical host should not redirect")
	}
}
