package tunnel

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type alwaysAllow struct{}

func (alwaysAllow) Authenticate(ctx context.Context, hello Hello) (bool, error) { return true, nil }

type echoHandler struct{}

func (echoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("X-Echo-Path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func TestHubRoundTrip(t *testing.T) {
	hub := NewHub(alwaysAllow{}, 2*time.Second, 4)

	connected := make(chan struct{})
	hub.OnConnect = func(ctx context.Context, hello Hello) { close(connected) }

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		_ = hub.Serve(r.Context(), conn)
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]

	dialer := &Dialer{
		RelayURL: wsURL,
		Hello:    Hello{Username: "alice", BearerToken: "tok"},
		Handler:  echoHandler{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dialer.Run(ctx)

	select {
	case <-connected:
	case <-time.After(3 * time.Second):
		t.Fatal("tunnel never connected")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !hub.IsOnline("alice") {
		if time.Now().After(deadline) {
			t.Fatal("hub never saw alice online")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := hub.SendRequest(context.Background(), "alice", Request{
		ID:     "req-1",
		Method: "POST",
		Path:   "/users/alice/inbox",
		BodyB64: "aGVsbG8=", // "hello"
	})
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.Status)
	}
	if resp.BodyB64 != "aGVsbG8=" {
		t.Errorf("body = %q, want echoed body", resp.BodyB64)
	}
}

func TestHubSendRequestOffline(t *testing.T) {
	hub := NewHub(alwaysAllow{}, time.Second, 4)
	_, err := hub.SendRequest(context.Background(), "nobody", Request{ID: "x"})
	if err == nil {
		t.Fatal("expected error for offline user")
	}
}
