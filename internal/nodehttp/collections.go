package nodehttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fedi3/fedi3/internal/storage"
)

const defaultPageSize = 40

// orderedCollection is the top-level response to a bare GET of a
// followers/following/outbox URL: an OrderedCollection header pointing at
// the first paged OrderedCollectionPage.
type orderedCollection struct {
	Context  string `json:"@context"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	First    string `json:"first"`
	TotalItems *int `json:"totalItems,omitempty"`
}

type orderedCollectionPage struct {
	Context      string        `json:"@context"`
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	PartOf       string        `json:"partOf"`
	Next         string        `json:"next,omitempty"`
	OrderedItems []interface{} `json:"orderedItems"`
}

func pageRequested(r *http.Request) bool {
	return r.URL.Query().Has("page") || r.URL.Query().Has("cursor")
}

func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	if user != s.Username {
		writeError(w, http.StatusNotFound, "not_found", "no such user")
		return
	}
	base := s.actorURL() + "/followers"

	if !pageRequested(r) {
		total, err := s.Store.CountFollowers(r.Context())
		if err != nil {
			writeAppError(w, r, s.Logger, err)
			return
		}
		writeActivityJSON(w, http.StatusOK, orderedCollection{
			Context:    "https://www.w3.org/ns/activitystreams",
			ID:         base,
			Type:       "OrderedCollection",
			First:      base + "?page=true",
			TotalItems: &total,
		})
		return
	}

	cursor := r.URL.Query().Get("cursor")
	rows, next, err := s.Store.ListFollowers(r.Context(), cursor, defaultPageSize)
	if err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}
	items := make([]interface{}, len(rows))
	for i, f := range rows {
		items[i] = f.ActorURL
	}
	page := orderedCollectionPage{
		Context:      "https://www.w3.org/ns/activitystreams",
		ID:           collectionPageID(base, cursor),
		Type:         "OrderedCollectionPage",
		PartOf:       base,
		OrderedItems: items,
	}
	if next != "" {
		page.Next = base + "?page=true&cursor=" + next
	}
	writeActivityJSON(w, http.StatusOK, page)
}

func (s *Server) handleFollowing(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	if user != s.Username {
		writeError(w, http.StatusNotFound, "not_found", "no such user")
		return
	}
	base := s.actorURL() + "/following"

	if !pageRequested(r) {
		writeActivityJSON(w, http.StatusOK, orderedCollection{
			Context: "https://www.w3.org/ns/activitystreams",
			ID:      base,
			Type:    "OrderedCollection",
			First:   base + "?page=true",
		})
		return
	}

	cursor := r.URL.Query().Get("cursor")
	rows, next, err := s.Store.ListFollowing(r.Context(), cursor, defaultPageSize)
	if err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}
	items := make([]interface{}, len(rows))
	for i, f := range rows {
		items[i] = f.ActorURL
	}
	page := orderedCollectionPage{
		Context:      "https://www.w3.org/ns/activitystreams",
		ID:           collectionPageID(base, cursor),
		Type:         "OrderedCollectionPage",
		PartOf:       base,
		OrderedItems: items,
	}
	if next != "" {
		page.Next = base + "?page=true&cursor=" + next
	}
	writeActivityJSON(w, http.StatusOK, page)
}

func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	if user != s.Username {
		writeError(w, http.StatusNotFound, "not_found", "no such user")
		return
	}
	base := s.actorURL() + "/outbox"

	if !pageRequested(r) {
		writeActivityJSON(w, http.StatusOK, orderedCollection{
			Context: "https://www.w3.org/ns/activitystreams",
			ID:      base,
			Type:    "OrderedCollection",
			First:   base + "?page=true",
		})
		return
	}

	cursor := r.URL.Query().Get("cursor")
	rows, next, err := s.Store.ListObjectsByActor(r.Context(), s.actorURL(), cursor, defaultPageSize)
	if err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}
	items := make([]interface{}, len(rows))
	for i, o := range rows {
		var raw json.RawMessage = o.Raw()
		items[i] = raw
	}
	page := orderedCollectionPage{
		Context:      "https://www.w3.org/ns/activitystreams",
		ID:           collectionPageID(base, cursor),
		Type:         "OrderedCollectionPage",
		PartOf:       base,
		OrderedItems: items,
	}
	if next != "" {
		page.Next = base + "?page=true&cursor=" + next
	}
	writeActivityJSON(w, http.StatusOK, page)
}

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	if user != s.Username {
		writeError(w, http.StatusNotFound, "not_found", "no such user")
		return
	}
	suffix := chi.URLParam(r, "suffix")
	id := s.actorURL() + "/objects/" + suffix

	obj, err := s.Store.GetObject(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such object")
			return
		}
		writeAppError(w, r, s.Logger, err)
		return
	}
	if obj.Deleted {
		w.Header().Set("Content-Type", activityJSONType)
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write(obj.Raw())
		return
	}

	w.Header().Set("Content-Type", activityJSONType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Raw())
}

// handleObjectReactions exposes list_reaction_counts(object_id, k) for a
// locally-stored object: the top k distinct (type, content) reaction
// groups by count, for clients rendering a reaction summary bar.
func (s *Server) handleObjectReactions(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	if user != s.Username {
		writeError(w, http.StatusNotFound, "not_found", "no such user")
		return
	}
	suffix := chi.URLParam(r, "suffix")
	id := s.actorURL() + "/objects/" + suffix

	k := 10
	if raw := r.URL.Query().Get("k"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			k = n
		}
	}

	counts, err := s.Store.ListReactionCounts(r.Context(), id, k)
	if err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, "application/json", counts)
}

func collectionPageID(base, cursor string) string {
	if cursor == "" {
		return base + "?page=true"
	}
	return base + "?page=true&cursor=" + cursor
}
