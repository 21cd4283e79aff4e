package relayhttp

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/fedi3/fedi3/internal/apperr"
	"github.com/fedi3/fedi3/internal/models"
)

type webrtcSendRequest struct {
	ToPeerID  string                 `json:"to_peer_id"`
	SessionID string                 `json:"session_id"`
	Kind      models.WebRTCSignalKind `json:"kind"`
	Payload   json.RawMessage        `json:"payload"`
}

// handleWebRTCSend queues a signaling envelope after verifying the
// caller's identity by HTTP signature.
func (s *Server) handleWebRTCSend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "failed reading body")
		return
	}

	keyID, err := s.verifySignature(r, body)
	if err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}

	var req webrtcSendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeAppError(w, r, s.Logger, apperr.New(apperr.BadInput, "malformed webrtc signal"))
		return
	}

	fromActor := actorFromKeyID(keyID)
	signalID, err := s.WebRTC.Send(r.Context(), fromActor, req.ToPeerID, req.SessionID, req.Kind, []byte(req.Payload))
	if err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, "application/json", map[string]string{"signal_id": signalID})
}

// handleWebRTCPoll returns queued envelopes for a peer id the caller
// proves possession of via its own signed-actor-advertised peer id (spec
// §4.13).
func (s *Server) handleWebRTCPoll(w http.ResponseWriter, r *http.Request) {
	peerID := r.URL.Query().Get("peer_id")
	if peerID == "" {
		writeError(w, http.StatusBadRequest, "bad_input", "missing peer_id")
		return
	}

	keyID, err := s.verifySignature(r, nil)
	if err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}

	summary, err := s.Resolver.Resolve(r.Context(), keyID)
	if err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}
	if summary.P2PPeerID != peerID {
		writeError(w, http.StatusForbidden, "forbidden", "caller does not advertise this peer id")
		return
	}

	signals, err := s.WebRTC.Poll(r.Context(), peerID)
	if err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, "application/json", signals)
}

type webrtcAckRequest struct {
	IDs []string `json:"ids"`
}

// handleWebRTCAck deletes delivered envelopes by id.
func (s *Server) handleWebRTCAck(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "failed reading body")
		return
	}
	if _, err := s.verifySignature(r, body); err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}

	var req webrtcAckRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeAppError(w, r, s.Logger, apperr.New(apperr.BadInput, "malformed ack request"))
		return
	}
	if err := s.WebRTC.Ack(r.Context(), req.IDs); err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) verifySignature(r *http.Request, body []byte) (string, error) {
	if s.Resolver == nil {
		return "", apperr.New(apperr.Unauthenticated, "signature verification unavailable")
	}
	return s.Resolver.VerifyRequest(r.Context(), r, body)
}

func actorFromKeyID(keyID string) string {
	for i := 0; i < len(keyID); i++ {
		if keyID[i] == '#' {
			return keyID[:i]
		}
	}
	return keyID
}
