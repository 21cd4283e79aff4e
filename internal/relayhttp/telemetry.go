package relayhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fedi3/fedi3/internal/apperr"
	"github.com/fedi3/fedi3/internal/models"
)

// handleTelemetryIngest accepts a peer Relay's signed periodic snapshot,
// enforcing TOFU signing-key pinning and ±24h freshness via
// telemetry.Ingester.
func (s *Server) handleTelemetryIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "failed reading body")
		return
	}

	var t models.Telemetry
	if err := json.Unmarshal(body, &t); err != nil {
		writeAppError(w, r, s.Logger, apperr.New(apperr.BadInput, "malformed telemetry snapshot"))
		return
	}

	if err := s.Telemetry.Ingest(r.Context(), t); err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HTTPTelemetryPublisher POSTs a built telemetry snapshot to a peer relay's
// ingest endpoint, the transport the Relay's periodic telemetry-exchange
// loop drives its pairwise gossip through.
type HTTPTelemetryPublisher struct {
	Client *http.Client
}

func NewHTTPTelemetryPublisher(client *http.Client) *HTTPTelemetryPublisher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTelemetryPublisher{Client: client}
}

func (h *HTTPTelemetryPublisher) PublishTelemetry(ctx context.Context, relayURL string, t models.Telemetry) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("relayhttp: marshaling telemetry snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, relayURL+"/_fedi3/relay/telemetry", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("relayhttp: building telemetry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("relayhttp: telemetry request to %s: %w", relayURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("relayhttp: telemetry request to %s returned status %d", relayURL, resp.StatusCode)
	}
	return nil
}
