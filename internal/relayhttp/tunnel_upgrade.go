package relayhttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/fedi3/fedi3/internal/fanout"
	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/tunnel"
)

// handleTunnelUpgrade accepts the long-lived WebSocket tunnel a Node dials
// to register itself with this Relay. Authentication happens inside
// tunnel.Hub.Serve against the Hello frame's (username, bearer_token), not
// at the HTTP layer, so no chi middleware gates this route.
func (s *Server) handleTunnelUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close(websocket.StatusInternalError, "tunnel closed")

	if err := s.Tunnel.Serve(r.Context(), ws); err != nil {
		s.Logger.Warn("tunnel: session ended", slog.String("error", err.Error()))
	}
}

// onTunnelConnect updates the peer directory with the Node's advertised
// identity and kicks off a spool flush in the background.
func (s *Server) onTunnelConnect(ctx context.Context, hello tunnel.Hello) {
	if hello.Fedi3PeerID != "" {
		if err := s.Store.UpsertPeerDirectory(ctx, models.PeerDirectoryRecord{
			PeerID:    hello.Fedi3PeerID,
			Username:  hello.Username,
			ActorURL:  hello.ActorURL,
			UpdatedAt: time.Now(),
		}); err != nil {
			s.Logger.Warn("tunnel: updating peer directory", slog.String("username", hello.Username), slog.String("error", err.Error()))
		}
	}

	go s.flushSpool(context.WithoutCancel(ctx), hello.Username)
}

func (s *Server) onTunnelDisconnect(username string) {
	s.Logger.Info("tunnel disconnected", slog.String("username", username))
}

// flushSpool drains username's spool in FlushBatch-sized batches, deleting
// each item only after a 200 or 202 reply and pausing on the first
// non-terminal failure to avoid hot-looping.
func (s *Server) flushSpool(ctx context.Context, username string) {
	for {
		items, err := s.Store.ListSpool(ctx, username, s.Fanout.FlushBatch)
		if err != nil {
			s.Logger.Warn("spool flush: listing", slog.String("username", username), slog.String("error", err.Error()))
			return
		}
		if len(items) == 0 {
			return
		}

		for _, item := range items {
			resp, err := (&tunnelAdapter{hub: s.Tunnel}).SendRequest(ctx, username, fromSpoolItem(item))
			if err != nil || resp == nil || (resp.Status != 200 && resp.Status != 202) {
				s.Logger.Warn("spool flush: delivery failed, pausing", slog.String("username", username))
				return
			}
			if err := s.Store.DeleteSpoolItem(ctx, item.ID); err != nil {
				s.Logger.Warn("spool flush: deleting item", slog.String("id", item.ID), slog.String("error", err.Error()))
			}
		}

		if len(items) < s.Fanout.FlushBatch {
			return
		}
	}
}

func fromSpoolItem(item models.SpoolItem) fanout.TunnelRequest {
	return fanout.TunnelRequest{
		ID:      item.ID,
		Method:  item.Method,
		Path:    item.Path,
		Query:   item.Query,
		Headers: item.Headers,
		BodyB64: base64Body(item.Body),
	}
}
