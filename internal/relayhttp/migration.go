package relayhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/fedi3/fedi3/internal/apperr"
	"github.com/fedi3/fedi3/internal/auth"
	"github.com/fedi3/fedi3/internal/models"
)

type moveRequest struct {
	Username     string `json:"username"`
	MovedToActor string `json:"moved_to_actor"`
}

// handleMigrationMove sets (username -> moved_to_actor), authorized by
// either the admin token or the user's own bearer token.
func (s *Server) handleMigrationMove(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "failed reading body")
		return
	}
	var req moveRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Username == "" || req.MovedToActor == "" {
		writeAppError(w, r, s.Logger, apperr.New(apperr.BadInput, "malformed move request"))
		return
	}

	if !s.authorizedForUser(r, req.Username) {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "admin or user bearer token required")
		return
	}

	if err := s.Migration.SetMove(r.Context(), req.Username, req.MovedToActor); err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMigrationNotice ingests a signed move notice, verifying either an
// HTTP signature or an admin/user bearer token, bounding the propagation
// hop count, and scheduling fan-out to every known relay on first sighting.
func (s *Server) handleMigrationNotice(w http.ResponseWriter, r *http.Request) {
	hop := 0
	if h := r.Header.Get("X-Fedi3-Notice-Hop"); h != "" {
		if parsed, err := strconv.Atoi(h); err == nil {
			hop = parsed
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "failed reading body")
		return
	}
	var notice models.MigrationNotice
	if err := json.Unmarshal(body, &notice); err != nil {
		writeAppError(w, r, s.Logger, apperr.New(apperr.BadInput, "malformed migration notice"))
		return
	}

	authorized := s.authorizedForUser(r, notice.Username)
	if !authorized && s.Resolver != nil {
		if _, sigErr := s.Resolver.VerifyRequest(r.Context(), r, body); sigErr == nil {
			authorized = true
		}
	}
	if !authorized {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "signature or bearer token required")
		return
	}

	noticeID, fresh, err := s.Migration.IngestNotice(r.Context(), notice, body, hop)
	if err != nil {
		writeAppError(w, r, s.Logger, err)
		return
	}

	if fresh {
		relays, err := s.Store.ListRelayEntries(r.Context())
		if err != nil {
			s.Logger.Warn("migration notice: listing known relays", "error", err.Error())
		} else {
			urls := make([]string, 0, len(relays))
			for _, rel := range relays {
				urls = append(urls, rel.RelayURL)
			}
			if err := s.Migration.ScheduleFanout(r.Context(), noticeID, urls); err != nil {
				s.Logger.Warn("migration notice: scheduling fan-out", "error", err.Error())
			}
		}
	}

	writeJSON(w, http.StatusOK, "application/json", map[string]string{"notice_id": noticeID})
}

// authorizedForUser reports whether the request's bearer token is either
// the configured admin token or username's own valid token.
func (s *Server) authorizedForUser(r *http.Request, username string) bool {
	token := bearerToken(r)
	if token == "" {
		return false
	}
	if auth.CheckAdminToken(token, s.AdminToken) {
		return true
	}
	ok, err := s.Auth.ValidateUserToken(r.Context(), username, token)
	return err == nil && ok
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// HTTPRelayNotifier implements migration.RelayNotifier over plain HTTPS
// POSTs to a peer relay's move_notice endpoint, the transport
// migration.Worker's fan-out retry loop drives.
type HTTPRelayNotifier struct {
	Client *http.Client
}

func NewHTTPRelayNotifier(client *http.Client) *HTTPRelayNotifier {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPRelayNotifier{Client: client}
}

func (h *HTTPRelayNotifier) NotifyRelay(ctx context.Context, relayURL string, noticeJSON []byte, hop int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, relayURL+"/_fedi3/relay/move_notice", bytes.NewReader(noticeJSON))
	if err != nil {
		return fmt.Errorf("relayhttp: building move-notice request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Fedi3-Notice-Hop", strconv.Itoa(hop))

	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("relayhttp: move-notice request to %s: %w", relayURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("relayhttp: move-notice request to %s returned status %d", relayURL, resp.StatusCode)
	}
	return nil
}
