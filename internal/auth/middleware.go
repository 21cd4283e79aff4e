// Package auth — middleware.go provides HTTP middleware for extracting and
// validating Bearer tokens from the Authorization header: per-user Relay
// tokens (RequireUserAuth) and the single admin token gating the Relay
// admin surface (RequireAdmin), injecting the authenticated username into
// the request context for downstream handlers.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type contextKey string

const (
	// ContextKeyUsername is the context key for the authenticated Relay user.
	ContextKeyUsername contextKey = "username"
)

// UsernameFromContext retrieves the authenticated username from the request
// context. Returns empty string if no user is authenticated.
func UsernameFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ContextKeyUsername).(string)
	return v
}

// RequireUserAuth returns middleware that validates the path's {username}
// chi URL parameter owns the Bearer token presented. It backs routes like
// the Node's tunnel-upgrade and UI endpoints.
func RequireUserAuth(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			username := chi.URLParam(r, "username")
			if token == "" || username == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing_token", "Authorization header with Bearer token is required")
				return
			}

			ok, err := svc.ValidateUserToken(r.Context(), username, token)
			if err != nil {
				writeAuthError(w, http.StatusInternalServerError, "internal_error", "failed to validate token")
				return
			}
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "invalid_token", "invalid or disabled token")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyUsername, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns middleware gating the Relay admin surface behind the
// single configured admin token.
func RequireAdmin(adminToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if !CheckAdminToken(token, adminToken) {
				writeAuthError(w, http.StatusUnauthorized, "invalid_admin_token", "a valid admin bearer token is required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// writeAuthError writes a JSON error response matching nodehttp/relayhttp's
// envelope, duplicated here (rather than imported) to avoid a dependency
// cycle since those packages import auth.
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
