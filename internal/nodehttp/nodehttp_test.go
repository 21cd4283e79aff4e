package nodehttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fedi3/fedi3/internal/config"
	"github.com/fedi3/fedi3/internal/delivery"
	"github.com/fedi3/fedi3/internal/keyresolver"
	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/objectfetch"
	"github.com/fedi3/fedi3/internal/push"
	"github.com/fedi3/fedi3/internal/storage/memstore"
	"github.com/fedi3/fedi3/internal/uievent"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	store := memstore.New()
	ctx := context.Background()

	kp, err := keyresolver.LoadOrGenerateKeyPair(ctx, store)
	if err != nil {
		t.Fatalf("generating key pair: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	queue := delivery.New(store, delivery.TransportLadder{})

	return NewServer(Config{
		Store:       store,
		ObjectFetch: objectfetch.NewEnqueuer(store),
		Delivery:    queue,
		Hub:         uievent.NewHub(),
		KeyPair:     kp,
		Push:        push.New(push.Config{Store: store, Logger: logger, ActorURL: "https://node.example/users/me"}),
		Instance: config.InstanceConfig{
			BaseDomain: "node.example",
			Name:       "fedi3",
			Username:   "me",
		},
		Logger: logger,
	})
}

func TestHandleActor_ServesPublicKey(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rr.Code, rr.Body.String())
	}
	var doc actorDoc
	if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.ID != "https://node.example/users/me" {
		t.Errorf("id = %q", doc.ID)
	}
	if doc.PublicKey.PublicKeyPEM == "" {
		t.Error("expected non-empty public key PEM")
	}
	if doc.Endpoints.SharedInbox != "https://node.example/inbox" {
		t.Errorf("sharedInbox = %q", doc.Endpoints.SharedInbox)
	}
}

func TestHandleActor_UnknownUserNotFound(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/users/someoneelse", nil)
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandleWebFinger(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/webfinger?resource=acct:me@node.example", nil)
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body webfingerResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Links) != 1 || body.Links[0].Href != s.actorURL() {
		t.Errorf("links = %+v", body.Links)
	}
}

func TestHandleWebFinger_UnknownResource(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/webfinger?resource=acct:nobody@node.example", nil)
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandleFollowers_CollectionThenPage(t *testing.T) {
	s := testServer(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.Store.UpsertFollower(ctx, models.Follower{ActorURL: "https://peer.example/users/a" + string(rune('0'+i))}); err != nil {
			t.Fatalf("seed follower: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/users/me/followers", nil)
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var coll orderedCollection
	if err := json.Unmarshal(rr.Body.Bytes(), &coll); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if coll.Type != "OrderedCollection" {
		t.Errorf("type = %q", coll.Type)
	}
	if coll.TotalItems == nil || *coll.TotalItems != 3 {
		t.Errorf("totalItems = %v", coll.TotalItems)
	}

	req = httptest.NewRequest(http.MethodGet, "/users/me/followers?page=true", nil)
	rr = httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var page orderedCollectionPage
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if page.Type != "OrderedCollectionPage" {
		t.Errorf("type = %q", page.Type)
	}
	if len(page.OrderedItems) != 3 {
		t.Errorf("items = %d, want 3", len(page.OrderedItems))
	}
}

func TestHandleObject_NotFound(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/users/me/objects/doesnotexist", nil)
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandleObject_ReturnsStoredObject(t *testing.T) {
	s := testServer(t)
	ctx := context.Background()

	id := s.actorURL() + "/objects/abc"
	raw := []byte(`{"id":"` + id + `","type":"Note","content":"hi"}`)
	var obj models.Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		t.Fatalf("unmarshal seed object: %v", err)
	}
	obj.SetRaw(raw)
	if err := s.Store.UpsertObject(ctx, obj); err != nil {
		t.Fatalf("seed object: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/users/me/objects/abc", nil)
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != string(raw) {
		t.Errorf("body = %s, want %s", rr.Body.String(), raw)
	}
}

func TestRequireUIToken_RejectsMissingToken(t *testing.T) {
	store := memstore.New()
	kp, _ := keyresolver.LoadOrGenerateKeyPair(context.Background(), store)
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	s := NewServer(Config{
		Store:       store,
		ObjectFetch: objectfetch.NewEnqueuer(store),
		Delivery:    delivery.New(store, delivery.TransportLadder{}),
		Hub:         uievent.NewHub(),
		KeyPair:     kp,
		Push:        push.New(push.Config{Store: store, Logger: logger, ActorURL: "https://node.example/users/me"}),
		Instance:    config.InstanceConfig{BaseDomain: "node.example", Username: "me"},
		UIToken:     "secret-token",
		Logger:      logger,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/push/vapid-key", nil)
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/push/vapid-key", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rr = httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	if rr.Code == http.StatusUnauthorized {
		t.Fatalf("token-bearing request was rejected")
	}
}

func TestOutboxAdapter_EnqueuesToDeliveryQueue(t *testing.T) {
	store := memstore.New()
	queue := delivery.New(store, delivery.TransportLadder{})
	adapter := &outboxAdapter{queue: queue}

	activity := map[string]interface{}{
		"id":   "https://node.example/activities/1",
		"type": "Accept",
	}
	if err := adapter.Enqueue(context.Background(), activity, "https://peer.example/users/bob"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	items, err := store.LeaseDeliveries(context.Background(), time.Now(), 10)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("leased %d items, want 1", len(items))
	}
	if items[0].Target != "https://peer.example/users/bob" {
		t.Errorf("target = %q", items[0].Target)
	}
}

func TestNotifierAdapter_EmitsHubEvent(t *testing.T) {
	hub := uievent.NewHub()
	adapter := &notifierAdapter{hub: hub}

	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	adapter.Notify(context.Background(), "follower", map[string]interface{}{"actor": "https://peer.example/users/bob"})

	select {
	case e := <-ch:
		if e.Kind != uievent.KindNotification {
			t.Errorf("kind = %q", e.Kind)
		}
	default:
		t.Fatal("expected an emitted event")
	}
}
