package relayhttp

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fedi3/fedi3/internal/apperr"
	"github.com/fedi3/fedi3/internal/auditlog"
	"github.com/fedi3/fedi3/internal/auth"
	"github.com/fedi3/fedi3/internal/httpmw"
	"github.com/fedi3/fedi3/internal/storage"
)

// handleAdminListUsers lists every locally-registered username.
func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.Store.ListUsers(r.Context())
	if err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, "application/json", map[string][]string{"users": users})
	s.audit(r, "admin.list_users", "", true, "")
}

type createUserRequest struct {
	Username string `json:"username"`
}

// handleAdminCreateUser registers a new local user, generating and
// returning a fresh bearer token. This is the only time it is available in
// plaintext — only its argon2id hash is persisted.
func (s *Server) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "failed reading body")
		return
	}
	var req createUserRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Username == "" {
		writeAppError(w, r, s.Logger, apperr.New(apperr.BadInput, "missing username"))
		return
	}

	token, err := generateToken()
	if err != nil {
		writeAppError(w, r, s.Logger, apperr.Wrap(apperr.Internal, "generating token", err))
		return
	}
	hash, err := auth.HashToken(token)
	if err != nil {
		writeAppError(w, r, s.Logger, apperr.Wrap(apperr.Internal, "hashing token", err))
		return
	}

	if err := s.Store.CreateUser(r.Context(), req.Username, hash); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			writeError(w, http.StatusConflict, "conflict", "username already exists")
			s.audit(r, "admin.create_user", req.Username, false, "conflict")
			return
		}
		writeAppError(w, r, s.Logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, "application/json", map[string]string{
		"username": req.Username,
		"token":    token,
	})
	s.audit(r, "admin.create_user", req.Username, true, "")
}

func (s *Server) handleAdminDisableUser(w http.ResponseWriter, r *http.Request) {
	s.setDisabled(w, r, true)
}

func (s *Server) handleAdminEnableUser(w http.ResponseWriter, r *http.Request) {
	s.setDisabled(w, r, false)
}

func (s *Server) setDisabled(w http.ResponseWriter, r *http.Request, disabled bool) {
	username := chi.URLParam(r, "username")
	if err := s.Store.SetUserDisabled(r.Context(), username, disabled); err != nil {
		writeAppError(w, r, s.Logger, err)
		s.audit(r, "admin.set_disabled", username, false, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
	s.audit(r, "admin.set_disabled", username, true, "")
}

// handleAdminRotateToken issues a fresh bearer token for username,
// invalidating the old one.
func (s *Server) handleAdminRotateToken(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	token, err := generateToken()
	if err != nil {
		writeAppError(w, r, s.Logger, apperr.Wrap(apperr.Internal, "generating token", err))
		return
	}
	hash, err := auth.HashToken(token)
	if err != nil {
		writeAppError(w, r, s.Logger, apperr.Wrap(apperr.Internal, "hashing token", err))
		return
	}
	if err := s.Store.RotateUserToken(r.Context(), username, hash); err != nil {
		writeAppError(w, r, s.Logger, err)
		s.audit(r, "admin.rotate_token", username, false, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, "application/json", map[string]string{"token": token})
	s.audit(r, "admin.rotate_token", username, true, "")
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := s.Store.DeleteUser(r.Context(), username); err != nil {
		writeAppError(w, r, s.Logger, err)
		s.audit(r, "admin.delete_user", username, false, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
	s.audit(r, "admin.delete_user", username, true, "")
}

func (s *Server) handleAdminListAudit(w http.ResponseWriter, r *http.Request) {
	events, err := s.Audit.List(r.Context(), 200)
	if err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, "application/json", events)
}

// audit records an admin-surface action. Every admin call authenticates
// with Authorization: Bearer <admin_token>; the user-management handlers
// are audited, /admin/readyz and the audit listing are not.
func (s *Server) audit(r *http.Request, action, username string, ok bool, detail string) {
	s.Audit.Record(r.Context(), auditlog.Event{
		Kind:      action,
		Actor:     username,
		OK:        ok,
		Detail:    detail,
		RequestID: httpmw.RequestIDFromContext(r.Context()),
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	})
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
