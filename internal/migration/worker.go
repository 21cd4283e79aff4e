package migration

import (
	"context"
	"log/slog"
	"time"
)

// RelayNotifier delivers a raw move-notice payload to a single relay's
// move_notice endpoint with the given hop count, unchanged.
type RelayNotifier interface {
	NotifyRelay(ctx context.Context, relayURL string, noticeJSON []byte, hop int) error
}

// Worker periodically retries pending rows in the move-notice fan-out
// ledger. Every row is sent with the Worker's fixed Hop; the hop count a
// notice arrived with is not stored and is not incremented on forwarding.
type Worker struct {
	Service  *Service
	Notifier RelayNotifier
	Logger   *slog.Logger
	Hop      int
}

func NewWorker(svc *Service, notifier RelayNotifier, logger *slog.Logger) *Worker {
	return &Worker{Service: svc, Notifier: notifier, Logger: logger, Hop: 1}
}

// RunOnce processes every currently-due fan-out row once, returning the
// number of rows it attempted.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	due, err := w.Service.Store.ListPendingMoveNoticeFanouts(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	for _, f := range due {
		noticeJSON, found, err := w.Service.Store.GetMoveNotice(ctx, f.NoticeID)
		if err != nil {
			w.logger().Warn("loading move notice for fan-out", "notice_id", f.NoticeID, "error", err)
			continue
		}
		if !found {
			continue
		}

		f.Tries++
		f.LastTryMs = time.Now().UnixMilli()
		if err := w.Notifier.NotifyRelay(ctx, f.RelayURL, noticeJSON, w.Hop); err != nil {
			w.logger().Warn("move-notice fan-out attempt failed", "relay_url", f.RelayURL, "notice_id", f.NoticeID, "tries", f.Tries, "error", err)
		} else {
			f.OK = true
		}

		if err := w.Service.Store.UpsertMoveNoticeFanout(ctx, f); err != nil {
			w.logger().Warn("updating move-notice fan-out ledger", "error", err)
		}
	}

	return len(due), nil
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}
