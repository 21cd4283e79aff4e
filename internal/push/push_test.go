package push

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fedi3/fedi3/internal/storage/memstore"
	"github.com/fedi3/fedi3/internal/uievent"
)

func testService() *Service {
	return New(Config{
		Store:    memstore.New(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		ActorURL: "https://node.example/users/alice",
	})
}

func TestEnabled(t *testing.T) {
	s := testService()
	if s.Enabled() {
		t.Error("expected Enabled to be false without VAPID keys")
	}

	s.vapidPub, s.vapidPriv = "pub", "priv"
	if !s.Enabled() {
		t.Error("expected Enabled to be true once VAPID keys are set")
	}
}

func TestHandleSubscribeAndList(t *testing.T) {
	s := testService()

	body, _ := json.Marshal(map[string]string{
		"endpoint":   "https://push.example/ep1",
		"key_p256dh": "p256dh-key",
		"key_auth":   "auth-key",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/push/subscriptions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.HandleSubscribe(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("HandleSubscribe status = %d, want %d", rec.Code, http.StatusCreated)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/push/subscriptions", nil)
	listRec := httptest.NewRecorder()
	s.HandleListSubscriptions(listRec, listReq)

	if listRec.Code != http.StatusOK {
		t.Fatalf("HandleListSubscriptions status = %d, want %d", listRec.Code, http.StatusOK)
	}
	var out struct {
		Data []struct {
			ID       string `json:"id"`
			Endpoint string `json:"endpoint"`
		} `json:"data"`
	}
	if err := json.Unmarshal(listRec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Data) != 1 || out.Data[0].Endpoint != "https://push.example/ep1" {
		t.Fatalf("unexpected subscriptions list: %+v", out.Data)
	}
}

func TestHandleSubscribeMissingFields(t *testing.T) {
	s := testService()
	body, _ := json.Marshal(map[string]string{"endpoint": "https://push.example/ep1"})
	req := httptest.NewRequest(http.MethodPost, "/api/push/subscriptions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.HandleSubscribe(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleUnsubscribe(t *testing.T) {
	s := testService()

	body, _ := json.Marshal(map[string]string{
		"endpoint":   "https://push.example/ep1",
		"key_p256dh": "p256dh-key",
		"key_auth":   "auth-key",
	})
	subReq := httptest.NewRequest(http.MethodPost, "/api/push/subscriptions", bytes.NewReader(body))
	subRec := httptest.NewRecorder()
	s.HandleSubscribe(subRec, subReq)

	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	json.Unmarshal(subRec.Body.Bytes(), &created)

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("subscriptionID", created.Data.ID)
	req := httptest.NewRequest(http.MethodDelete, "/api/push/subscriptions/"+created.Data.ID, nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	s.HandleUnsubscribe(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	listRec := httptest.NewRecorder()
	s.HandleListSubscriptions(listRec, httptest.NewRequest(http.MethodGet, "/api/push/subscriptions", nil))
	var out struct {
		Data []json.RawMessage `json:"data"`
	}
	json.Unmarshal(listRec.Body.Bytes(), &out)
	if len(out.Data) != 0 {
		t.Errorf("expected no subscriptions after unsubscribe, got %d", len(out.Data))
	}
}

func TestHandleGetVAPIDKey(t *testing.T) {
	s := testService()
	s.vapidPub = "test-public-key"

	rec := httptest.NewRecorder()
	s.HandleGetVAPIDKey(rec, httptest.NewRequest(http.MethodGet, "/api/push/vapid-key", nil))

	var out struct {
		Data struct {
			VAPIDPublicKey string `json:"vapid_public_key"`
		} `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Data.VAPIDPublicKey != "test-public-key" {
		t.Errorf("vapid_public_key = %q, want %q", out.Data.VAPIDPublicKey, "test-public-key")
	}
}

func TestSendDisabledIsNoop(t *testing.T) {
	s := testService()
	if err := s.Send(context.Background(), Payload{Title: "x", Body: "y"}); err != nil {
		t.Fatalf("Send with no VAPID keys should be a no-op, got: %v", err)
	}
}

func TestCleanupStale(t *testing.T) {
	s := testService()
	body, _ := json.Marshal(map[string]string{
		"endpoint":   "https://push.example/ep1",
		"key_p256dh": "p256dh-key",
		"key_auth":   "auth-key",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/push/subscriptions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.HandleSubscribe(rec, req)

	n, err := s.CleanupStale(context.Background(), -time.Hour)
	if err != nil {
		t.Fatalf("CleanupStale: %v", err)
	}
	if n != 1 {
		t.Errorf("CleanupStale removed %d, want 1", n)
	}

	n, err = s.CleanupStale(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("CleanupStale: %v", err)
	}
	if n != 0 {
		t.Errorf("CleanupStale removed %d on a fresh store, want 0", n)
	}
}

func TestListenAndForwardOnlyForwardsNotificationKind(t *testing.T) {
	s := testService()
	hub := uievent.NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.ListenAndForward(ctx, hub)
		close(done)
	}()

	hub.Emit(uievent.New(uievent.KindChat, "", ""))
	hub.Emit(uievent.New(uievent.KindNotification, "Follow", "https://node.example/activities/1"))

	// Neither delivers a real push (no VAPID keys), but Send must not error
	// or block; give the goroutine a moment to process both events.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ListenAndForward did not exit after context cancel")
	}
}
