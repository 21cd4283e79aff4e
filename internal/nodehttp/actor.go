package nodehttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// actorDoc is the Node's own ActivityPub actor document: a Person actor
// exposing its public key, shared inbox, and the optional
// fedi3-native peer id/alsoKnownAs fields peers use to detect fedi3
// capability and migrated identities.
type actorDoc struct {
	Context           []string    `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Followers         string      `json:"followers"`
	Following         string      `json:"following"`
	PublicKey         publicKey   `json:"publicKey"`
	Endpoints         endpoints   `json:"endpoints"`
	AlsoKnownAs       []string    `json:"alsoKnownAs,omitempty"`
}

type publicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPEM string `json:"publicKeyPem"`
}

type endpoints struct {
	SharedInbox   string `json:"sharedInbox"`
	Fedi3PeerID   string `json:"fedi3PeerId,omitempty"`
}

func (s *Server) handleActor(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	if user != s.Username {
		writeError(w, http.StatusNotFound, "not_found", "no such user")
		return
	}

	actor := s.actorURL()
	doc := actorDoc{
		Context: []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		ID:                actor,
		Type:              "Person",
		PreferredUsername: user,
		Inbox:             actor + "/inbox",
		Outbox:            actor + "/outbox",
		Followers:         actor + "/followers",
		Following:         actor + "/following",
		PublicKey: publicKey{
			ID:           actor + "#main-key",
			Owner:        actor,
			PublicKeyPEM: s.KeyPair.PublicPEM,
		},
		Endpoints: endpoints{
			SharedInbox: s.BaseURL + "/inbox",
		},
	}

	if peerID, found, _ := s.Store.MetaGet(r.Context(), "p2p_peer_id"); found {
		doc.Endpoints.Fedi3PeerID = peerID
	}
	if movedTo, found, _ := s.Store.MetaGet(r.Context(), "also_known_as"); found && movedTo != "" {
		doc.AlsoKnownAs = []string{movedTo}
	}

	writeActivityJSON(w, http.StatusOK, doc)
}
