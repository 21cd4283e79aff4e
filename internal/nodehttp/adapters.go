package nodehttp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fedi3/fedi3/internal/delivery"
	"github.com/fedi3/fedi3/internal/uievent"
)

// outboxAdapter satisfies activitypub.Outbox over internal/delivery.Queue,
// whose Enqueue works in terms of (activityID, raw bytes, multiple targets)
// rather than the Processor's (activity map, single target) shape.
type outboxAdapter struct {
	queue *delivery.Queue
}

func (a *outboxAdapter) Enqueue(ctx context.Context, activity map[string]interface{}, targetActorURL string) error {
	raw, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("nodehttp: marshal outbound activity: %w", err)
	}
	id, _ := activity["id"].(string)
	if id == "" {
		id = targetActorURL + ":" + fmt.Sprint(activity["type"])
	}
	return a.queue.Enqueue(ctx, id, raw, []string{targetActorURL})
}

// notifierAdapter satisfies activitypub.Notifier over internal/uievent.Hub.
type notifierAdapter struct {
	hub    *uievent.Hub
	logger *slog.Logger
}

func (a *notifierAdapter) Notify(ctx context.Context, kind string, payload map[string]interface{}) {
	activityID, _ := payload["actor"].(string)
	if id, ok := payload["id"].(string); ok && id != "" {
		activityID = id
	}
	a.hub.Emit(uievent.New(uievent.KindNotification, kind, activityID))
}
