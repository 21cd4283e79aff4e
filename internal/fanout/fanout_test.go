package fanout

import (
	"context"
	"testing"

	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage/memstore"
)

type fakeTunnel struct {
	online map[string]bool
	calls  []string
}

func (f *fakeTunnel) IsOnline(username string) bool { return f.online[username] }

func (f *fakeTunnel) SendRequest(ctx context.Context, username string, req TunnelRequest) (*TunnelResponse, error) {
	f.calls = append(f.calls, username)
	return &TunnelResponse{Status: 202, BodyB64: req.BodyB64}, nil
}

func TestExtractRecipients(t *testing.T) {
	aud := models.Audience{
		To: []string{"https://relay.example/users/carol", models.PublicMagic},
		Cc: []string{"https://relay.example/users/dan", "https://relay.example/users/carol"},
	}
	got := ExtractRecipients(aud)
	if len(got) != 2 {
		t.Fatalf("got %d recipients, want 2: %v", len(got), got)
	}
}

func TestDeliver_OnlineAndOffline(t *testing.T) {
	store := memstore.New()
	tun := &fakeTunnel{online: map[string]bool{"carol": true}}
	fo := New(store, tun, nil)

	aud := models.Audience{To: []string{"https://relay.example/users/carol", "https://relay.example/users/dan"}}
	err := fo.Deliver(context.Background(), "https://example.com/users/alice", "POST", "/users/carol/inbox", "", nil, []byte("hello"), aud)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(tun.calls) != 1 || tun.calls[0] != "carol" {
		t.Errorf("expected one tunnel call to carol, got %v", tun.calls)
	}

	n, err := store.CountSpool(context.Background(), "dan")
	if err != nil {
		t.Fatalf("CountSpool: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 spooled item for dan, got %d", n)
	}
}

func TestDeliver_ExceedsMaxFanout(t *testing.T) {
	store := memstore.New()
	fo := New(store, &fakeTunnel{online: map[string]bool{}}, nil)
	fo.MaxInboxFanout = 1

	aud := models.Audience{To: []string{
		"https://relay.example/users/carol",
		"https://relay.example/users/dan",
	}}
	err := fo.Deliver(context.Background(), "https://example.com/users/alice", "POST", "/inbox", "", nil, nil, aud)
	if err == nil {
		t.Fatal("expected error for fan-out exceeding max_inbox_fanout")
	}
}

func TestFlush_DrainsSpoolOnConnect(t *testing.T) {
	store := memstore.New()
	tun := &fakeTunnel{online: map[string]bool{}}
	fo := New(store, tun, nil)
	fo.FlushBatch = 10

	aud := models.Audience{To: []string{"https://relay.example/users/dan"}}
	if err := fo.Deliver(context.Background(), "actor", "POST", "/users/dan/inbox", "", nil, []byte("body1"), aud); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	n, _ := store.CountSpool(context.Background(), "dan")
	if n != 1 {
		t.Fatalf("expected 1 spooled row before connect, got %d", n)
	}

	tun.online["dan"] = true
	fo.Flush(context.Background(), "dan")

	n, _ = store.CountSpool(context.Background(), "dan")
	if n != 0 {
		t.Errorf("expected spool drained after flush, got %d rows left", n)
	}
	if len(tun.calls) != 1 {
		t.Errorf("expected exactly one flush delivery, got %d", len(tun.calls))
	}
	if tun.calls[0] != "dan" {
		t.Errorf("flush delivered to %q, want dan", tun.calls[0])
	}
}
