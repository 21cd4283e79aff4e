package relayhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fedi3/fedi3/internal/apperr"
	"github.com/fedi3/fedi3/internal/meshsync"
)

// handleMeshSync answers an inbound Relay Mesh Replication request at
// /fedi3/relay-sync/1, wrapping meshsync.Responder.Handle. The protocol
// itself is transport-agnostic (it is also carried over a NATS
// request/reply subject); this handler is its HTTP leg.
func (s *Server) handleMeshSync(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "failed reading body")
		return
	}

	var req meshsync.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeAppError(w, r, s.Logger, apperr.New(apperr.BadInput, "malformed sync request"))
		return
	}

	resp, err := s.MeshSync.Handle(r.Context(), req)
	if err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, "application/json", resp)
}

// HTTPSyncRequester implements meshsync.Requester over plain HTTPS POSTs to
// a peer relay's /fedi3/relay-sync/1 endpoint, the transport
// meshsync.Puller drives its per-relay pull loop through.
type HTTPSyncRequester struct {
	Client *http.Client
}

func NewHTTPSyncRequester(client *http.Client) *HTTPSyncRequester {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSyncRequester{Client: client}
}

func (h *HTTPSyncRequester) RequestSync(ctx context.Context, relayURL string, req meshsync.Request) (meshsync.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return meshsync.Response{}, fmt.Errorf("relayhttp: marshaling sync request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, relayURL+"/fedi3/relay-sync/1", bytes.NewReader(body))
	if err != nil {
		return meshsync.Response{}, fmt.Errorf("relayhttp: building sync request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(httpReq)
	if err != nil {
		return meshsync.Response{}, fmt.Errorf("relayhttp: sync request to %s: %w", relayURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return meshsync.Response{}, fmt.Errorf("relayhttp: sync request to %s returned status %d", relayURL, resp.StatusCode)
	}

	var out meshsync.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return meshsync.Response{}, fmt.Errorf("relayhttp: decoding sync response: %w", err)
	}
	return out, nil
}
