package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHashAndVerifyToken(t *testing.T) {
	hash, err := HashToken("s3cret-token")
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	ok, err := VerifyToken("s3cret-token", hash)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if !ok {
		t.Error("expected token to verify against its own hash")
	}

	ok, err = VerifyToken("wrong-token", hash)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if ok {
		t.Error("expected wrong token to fail verification")
	}
}

func TestCheckAdminToken(t *testing.T) {
	if !CheckAdminToken("abc123", "abc123") {
		t.Error("matching tokens should pass")
	}
	if CheckAdminToken("abc123", "different") {
		t.Error("mismatched tokens should fail")
	}
	if CheckAdminToken("abc123", "") {
		t.Error("empty configured token should never pass")
	}
	if CheckAdminToken("", "abc123") {
		t.Error("empty presented token should never pass")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid bearer", "Bearer abc123", "abc123"},
		{"case insensitive", "bearer abc123", "abc123"},
		{"BEARER", "BEARER abc123", "abc123"},
		{"with spaces in token", "Bearer  abc123 ", "abc123"},
		{"empty", "", ""},
		{"no bearer prefix", "Token abc123", ""},
		{"bearer only", "Bearer", ""},
		{"basic auth", "Basic dXNlcjpwYXNz", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			got := extractBearerToken(req)
			if got != tc.want {
				t.Errorf("extractBearerToken(%q) = %q, want %q", tc.header, got, tc.want)
			}
		})
	}
}

func TestUsernameFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), ContextKeyUsername, "alice")
	if got := UsernameFromContext(ctx); got != "alice" {
		t.Errorf("UsernameFromContext = %q, want %q", got, "alice")
	}

	if got := UsernameFromContext(context.Background()); got != "" {
		t.Errorf("UsernameFromContext(empty) = %q, want empty", got)
	}
}

func TestWriteAuthError(t *testing.T) {
	w := httptest.NewRecorder()
	writeAuthError(w, http.StatusUnauthorized, "test_code", "test message")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin("s3cret-admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status with wrong token = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set("Authorization", "Bearer s3cret-admin")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status with correct token = %d, want 200", w.Code)
	}
}
