package relayhttp

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/fedi3/fedi3/internal/directory"
	"github.com/fedi3/fedi3/internal/fanout"
)

// handleActor serves a hosted user's actor document: proxied live through
// the tunnel when the Node is online (caching the 200 on the way out),
// or from the Directory cache — with a move injected — while offline.
func (s *Server) handleActor(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	if loc, ok := directory.CanonicalRedirect(r, s.CanonicalOrigin); ok {
		http.Redirect(w, r, loc, http.StatusPermanentRedirect)
		return
	}

	if s.Tunnel.IsOnline(user) {
		if body, status, ok := s.proxyGET(r, user); ok {
			if status == http.StatusOK {
				actorID, actorURL := actorIdentityFromJSON(body)
				_ = s.Directory.PutActor(r.Context(), user, body, actorID, actorURL)
			}
			w.Header().Set("Content-Type", activityJSONType)
			w.WriteHeader(status)
			_, _ = w.Write(body)
			return
		}
	}

	actorJSON, _, _, found, err := s.Directory.GetActor(r.Context(), user)
	if err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "no such user")
		return
	}
	merged, err := s.Directory.ApplyMove(r.Context(), user, actorJSON)
	if err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}
	w.Header().Set("Content-Type", activityJSONType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(merged)
}

// handleOutbox, handleFollowers, and handleFollowing serve the three
// collection kinds the same way: live proxy when online, cached page (or
// move-redirect) when offline.
func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	s.handleCollection(w, r, directory.KindOutbox)
}

func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
	s.handleCollection(w, r, directory.KindFollowers)
}

func (s *Server) handleFollowing(w http.ResponseWriter, r *http.Request) {
	s.handleCollection(w, r, directory.KindFollowing)
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request, kind string) {
	user := chi.URLParam(r, "user")

	if loc, ok := directory.CanonicalRedirect(r, s.CanonicalOrigin); ok {
		http.Redirect(w, r, loc, http.StatusPermanentRedirect)
		return
	}

	if s.Tunnel.IsOnline(user) {
		if body, status, ok := s.proxyGET(r, user); ok {
			if status == http.StatusOK {
				_ = s.Directory.PutCollection(r.Context(), user, kind, body)
			}
			w.Header().Set("Content-Type", activityJSONType)
			w.WriteHeader(status)
			_, _ = w.Write(body)
			return
		}
	}

	if loc, moved, err := s.Directory.CollectionMoveRedirect(r.Context(), user, r, kind); err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	} else if moved {
		http.Redirect(w, r, loc, http.StatusPermanentRedirect)
		return
	}

	cached, found, err := s.Directory.GetCollection(r.Context(), user, kind)
	if err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "no cached collection")
		return
	}
	w.Header().Set("Content-Type", activityJSONType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(cached)
}

// proxyGET pushes a GET request for the current path over username's
// tunnel and decodes the reply. ok is false if the tunnel call itself
// failed (caller falls back to cache).
func (s *Server) proxyGET(r *http.Request, username string) (body []byte, status int, ok bool) {
	adapter := &tunnelAdapter{hub: s.Tunnel}
	resp, err := adapter.SendRequest(r.Context(), username, fanout.TunnelRequest{
		ID:     ulid.Make().String(),
		Method: http.MethodGet,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
	})
	if err != nil || resp == nil {
		return nil, 0, false
	}
	decoded, err := base64.StdEncoding.DecodeString(resp.BodyB64)
	if err != nil {
		return nil, 0, false
	}
	return decoded, int(resp.Status), true
}

// actorIdentityFromJSON extracts the "id" field of an actor document for
// storage.PutUserCache's actorID/actorURL columns; both are the same
// value for fedi3's actor documents.
func actorIdentityFromJSON(raw []byte) (actorID, actorURL string) {
	var doc struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", ""
	}
	return doc.ID, doc.ID
}
