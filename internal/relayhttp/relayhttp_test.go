package relayhttp

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fedi3/fedi3/internal/auth"
	"github.com/fedi3/fedi3/internal/directory"
	"github.com/fedi3/fedi3/internal/keyresolver"
	"github.com/fedi3/fedi3/internal/meshsync"
	"github.com/fedi3/fedi3/internal/migration"
	"github.com/fedi3/fedi3/internal/storage/memstore"
	"github.com/fedi3/fedi3/internal/telemetry"
	"github.com/fedi3/fedi3/internal/webrtcsignal"
)

const testAdminToken = "test-admin-token"

func testServer(t *testing.T) *Server {
	t.Helper()
	store := memstore.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	authSvc := auth.New(store)
	dir := directory.New(nil, store)
	resolver := keyresolver.New(store, nil, nil)

	return NewServer(Config{
		Store:           store,
		Resolver:        resolver,
		Gate:            nil,
		Directory:       dir,
		Auth:            authSvc,
		Telemetry:       telemetry.NewIngester(store),
		Migration:       migration.New(store),
		WebRTC:          webrtcsignal.New(store),
		MeshSync:        meshsync.NewResponder(store, "https://relay.example", nil),
		RelayURL:        "https://relay.example",
		CanonicalOrigin: "relay.example",
		AdminToken:      testAdminToken,
		Logger:          logger,
	})
}

func TestHealthz_Unauthenticated(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestReadyz_RequiresAdminToken(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/readyz", nil)
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/readyz", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rr = httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rr.Code, rr.Body.String())
	}
}

func TestAdminCreateUser_ThenListUsers(t *testing.T) {
	s := testServer(t)

	body := `{"username":"alice"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/users", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rr.Code, rr.Body.String())
	}
	var created map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created["token"] == "" {
		t.Fatal("expected non-empty token")
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rr = httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var listed struct {
		Users []string `json:"users"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(listed.Users) != 1 || listed.Users[0] != "alice" {
		t.Fatalf("users = %v, want [alice]", listed.Users)
	}
}

func TestAdminCreateUser_DuplicateConflicts(t *testing.T) {
	s := testServer(t)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/admin/users", strings.NewReader(`{"username":"bob"}`))
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
		rr := httptest.NewRecorder()
		s.Router.ServeHTTP(rr, req)
		if i == 0 && rr.Code != http.StatusCreated {
			t.Fatalf("first create status = %d, want 201", rr.Code)
		}
		if i == 1 && rr.Code != http.StatusConflict {
			t.Fatalf("second create status = %d, want 409", rr.Code)
		}
	}
}

func TestAdminDisableEnableUser(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/users", strings.NewReader(`{"username":"carol"}`))
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/users/carol/disable", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rr = httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("disable status = %d, want 204", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/users/carol/enable", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rr = httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("enable status = %d, want 204", rr.Code)
	}
}

func TestAdminAuditTrailRecordsActions(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/users", strings.NewReader(`{"username":"dana"}`))
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rr = httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Body.Len() == 0 || string(rr.Body.Bytes()) == "null\n" {
		t.Fatal("expected non-empty audit trail")
	}
}

func TestHandleActor_UnknownUserNotFound(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/users/ghost", nil)
	req.Host = "relay.example"
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandleSharedInbox_RejectsOversizedBody(t *testing.T) {
	s := testServer(t)

	oversized := make([]byte, maxInboxBody+10)
	req := httptest.NewRequest(http.MethodPost, "/inbox", bytes.NewReader(oversized))
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rr.Code)
	}
}

func TestHandleWebRTCSend_RequiresSignature(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/_fedi3/webrtc/send", strings.NewReader(`{"to_peer_id":"p1"}`))
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}
