package relayhttp

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fedi3/fedi3/internal/apperr"
	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/ratequota"
)

const maxInboxBody = 1 << 20 // 1 MiB

// handleUserInbox and handleSharedInbox are the Relay's proxy front door
// for activities addressed to its hosted users: verify the sender's
// signature, then fan out to online tunnels / the offline spool.
// Canonical-origin redirect never applies to POST, for signature safety.
func (s *Server) handleUserInbox(w http.ResponseWriter, r *http.Request) {
	s.handleInbox(w, r)
}

func (s *Server) handleSharedInbox(w http.ResponseWriter, r *http.Request) {
	s.handleInbox(w, r)
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r)

	if s.Gate != nil {
		if dec, err := s.Gate.CheckIP(ctx, ratequota.FamilyForward, ip); err != nil {
			writeAppError(w, r, s.Logger, err)
			return
		} else if !dec.Allowed {
			writeRateLimited(w, int(dec.RetryAfter.Seconds()))
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "failed reading body")
		return
	}
	if len(body) > maxInboxBody {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds limit")
		return
	}

	var keyID string
	if s.Resolver != nil {
		keyID, err = s.Resolver.VerifyRequest(ctx, r, body)
		if err != nil {
			writeAppError(w, r, s.Logger, err)
			return
		}
	}
	_ = keyID

	var envelope struct {
		Actor string `json:"actor"`
		models.Audience
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeAppError(w, r, s.Logger, apperr.New(apperr.BadInput, "malformed activity JSON"))
		return
	}

	headers := headerPairs(r.Header)
	if err := s.Fanout.Deliver(ctx, envelope.Actor, r.Method, requestPath(r), r.URL.RawQuery, headers, body, envelope.Audience); err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func requestPath(r *http.Request) string {
	user := chi.URLParam(r, "user")
	if user == "" {
		return r.URL.Path
	}
	return "/users/" + user + "/inbox"
}

func headerPairs(h http.Header) [][2]string {
	out := make([][2]string, 0, len(h))
	for k, vs := range h {
		for _, v := range vs {
			out = append(out, [2]string{k, v})
		}
	}
	return out
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
