// Package uievent implements the one piece of the UI layer that crosses
// the core/UI boundary: the UiEvent record the Activity Processor emits
// on an inbound Follow and on an Accept of our own Follow, fanned out in-process to the Node's local
// WebSocket/SSE clients.
package uievent

import (
	"encoding/json"
	"sync"
	"time"
)

// Kinds of UiEvent.
const (
	KindChat         = "chat"
	KindTimeline     = "timeline"
	KindInbox        = "inbox"
	KindNotification = "notification"
)

// UiEvent is the event the Activity Processor emits for the local UI to
// render without polling. ActivityType/ActivityID are omitted for
// kinds that have no associated activity (none currently, but the
// original leaves both optional).
type UiEvent struct {
	Kind         string  `json:"kind"`
	TsMs         int64   `json:"ts_ms"`
	ActivityType *string `json:"activity_type,omitempty"`
	ActivityID   *string `json:"activity_id,omitempty"`
}

// New stamps the current time and builds a UiEvent. activityType/
// activityID may be "" to omit the corresponding field.
func New(kind, activityType, activityID string) UiEvent {
	e := UiEvent{Kind: kind, TsMs: time.Now().UnixMilli()}
	if activityType != "" {
		e.ActivityType = &activityType
	}
	if activityID != "" {
		e.ActivityID = &activityID
	}
	return e
}

// Marshal is used by HTTP/WS handlers to frame the event for the
// browser; defined here rather than left to the default encoder so
// callers get one obvious entry point.
func (e UiEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Hub fans UiEvents out to every currently-subscribed local UI
// connection (one per browser tab/websocket). Send is best-effort: a
// slow or gone subscriber never blocks emission to the others.
type Hub struct {
	mu      sync.RWMutex
	subs    map[chan UiEvent]struct{}
	buffer  int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan UiEvent]struct{}), buffer: 32}
}

// Subscribe registers a new local UI connection and returns its event
// channel and an unsubscribe function the caller must call on
// disconnect.
func (h *Hub) Subscribe() (<-chan UiEvent, func()) {
	ch := make(chan UiEvent, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Emit fans e out to every subscriber. A subscriber whose buffer is
// full is skipped rather than blocked (best-effort UI refresh, not a
// durable delivery channel).
func (h *Hub) Emit(e UiEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
