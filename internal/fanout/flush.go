package fanout

import (
	"context"
	"encoding/base64"
	"log/slog"

	"github.com/fedi3/fedi3/internal/models"
)

// Flush drains username's spool through the tunnel in batches of
// FlushBatch, deleting each item only after a 200 or 202 reply; on a
// non-terminal failure the flush pauses to avoid hot looping. Intended to
// be invoked from a tunnel.ConnectHook once a Node reconnects.
func (f *Fanout) Flush(ctx context.Context, username string) {
	for {
		items, err := f.Store.ListSpool(ctx, username, f.FlushBatch)
		if err != nil {
			f.logger().Warn("fanout: failed listing spool", slog.String("username", username), slog.String("error", err.Error()))
			return
		}
		if len(items) == 0 {
			return
		}
		delivered := 0
		for _, item := range items {
			if !f.flushOne(ctx, item) {
				// Non-terminal failure: stop this pass to avoid hot looping;
				// the next connect/flush will retry from the same item.
				return
			}
			delivered++
		}
		if delivered < f.FlushBatch {
			return
		}
	}
}

func (f *Fanout) flushOne(ctx context.Context, item models.SpoolItem) bool {
	if f.Tunnel == nil || !f.Tunnel.IsOnline(item.Username) {
		return false
	}
	req := TunnelRequest{
		ID:      item.ID,
		Method:  item.Method,
		Path:    item.Path,
		Query:   item.Query,
		Headers: item.Headers,
		BodyB64: base64.StdEncoding.EncodeToString(item.Body),
	}
	resp, err := f.Tunnel.SendRequest(ctx, item.Username, req)
	if err != nil || resp == nil || (resp.Status != 200 && resp.Status != 202) {
		f.logger().Warn("fanout: spool flush delivery failed, pausing",
			slog.String("username", item.Username), slog.String("id", item.ID), slog.Any("error", err))
		return false
	}
	if err := f.Store.DeleteSpoolItem(ctx, item.ID); err != nil {
		f.logger().Warn("fanout: failed to delete flushed spool item", slog.String("id", item.ID), slog.String("error", err.Error()))
	}
	return true
}
