// Package push implements best-effort Web Push delivery of local UI
// notification events (Follow, Accept per uievent.KindNotification)
// to the owning user's browser, via github.com/SherClockHolmes/webpush-go:
// a PushSubscription model, a SendToUser delivery loop, VAPID options, and
// stale-subscription cleanup on 404/410. A Node is single-user, so
// subscriptions key off the Node's own actor URL rather than a per-request
// session's user_id.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"

	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage"
	"github.com/fedi3/fedi3/internal/uievent"
)

// Payload is the JSON body delivered inside the Web Push message.
type Payload struct {
	Title        string `json:"title"`
	Body         string `json:"body"`
	ActivityType string `json:"activity_type,omitempty"`
	ActivityID   string `json:"activity_id,omitempty"`
}

// Config configures the push service.
type Config struct {
	Store             storage.Store
	Logger            *slog.Logger
	ActorURL          string // the Node's own actor URL; every subscription belongs to it
	VAPIDPublicKey    string
	VAPIDPrivateKey   string
	VAPIDContactEmail string
}

// Service manages push subscriptions and sends WebPush notifications for
// the Node's own local actor.
type Service struct {
	store      storage.Store
	logger     *slog.Logger
	actorURL   string
	vapidPub   string
	vapidPriv  string
	vapidEmail string
}

func New(cfg Config) *Service {
	return &Service{
		store:      cfg.Store,
		logger:     cfg.Logger,
		actorURL:   cfg.ActorURL,
		vapidPub:   cfg.VAPIDPublicKey,
		vapidPriv:  cfg.VAPIDPrivateKey,
		vapidEmail: cfg.VAPIDContactEmail,
	}
}

// Enabled returns true if VAPID keys are configured.
func (s *Service) Enabled() bool {
	return s.vapidPub != "" && s.vapidPriv != ""
}

// ListenAndForward subscribes to hub and sends a push notification for
// every uievent.KindNotification event, until ctx is canceled. Intended to
// run in its own goroutine from cmd/fedi3node.
func (s *Service) ListenAndForward(ctx context.Context, hub *uievent.Hub) {
	ch, cancel := hub.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Kind != uievent.KindNotification {
				continue
			}
			payload := Payload{Title: "fedi3", Body: notificationBody(e)}
			if e.ActivityType != nil {
				payload.ActivityType = *e.ActivityType
			}
			if e.ActivityID != nil {
				payload.ActivityID = *e.ActivityID
			}
			if err := s.Send(ctx, payload); err != nil {
				s.logger.Warn("push send failed", slog.String("error", err.Error()))
			}
		}
	}
}

func notificationBody(e uievent.UiEvent) string {
	if e.ActivityType == nil {
		return "You have a new notification"
	}
	return *e.ActivityType
}

// --- Push Subscription Handlers ---

// HandleSubscribe handles POST /api/push/subscriptions.
func (s *Service) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint  string `json:"endpoint"`
		KeyP256dh string `json:"key_p256dh"`
		KeyAuth   string `json:"key_auth"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if req.Endpoint == "" || req.KeyP256dh == "" || req.KeyAuth == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "endpoint, key_p256dh, and key_auth are required")
		return
	}

	sub := models.PushSubscription{
		ID:        models.NewULID().String(),
		ActorURL:  s.actorURL,
		Endpoint:  req.Endpoint,
		KeyP256dh: req.KeyP256dh,
		KeyAuth:   req.KeyAuth,
		UserAgent: r.UserAgent(),
	}
	if err := s.store.UpsertPushSubscription(r.Context(), sub); err != nil {
		s.logger.Error("failed to store push subscription", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to register subscription")
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

// HandleListSubscriptions handles GET /api/push/subscriptions.
func (s *Service) HandleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.ListPushSubscriptions(r.Context(), s.actorURL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []models.PushSubscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// HandleUnsubscribe handles DELETE /api/push/subscriptions/{subscriptionID}.
func (s *Service) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "subscriptionID")
	if err := s.store.DeletePushSubscription(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetVAPIDKey handles GET /api/push/vapid-key.
func (s *Service) HandleGetVAPIDKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"vapid_public_key": s.vapidPub})
}

// --- Push Delivery ---

// Send delivers payload to every registered subscription for the Node's
// actor. Stale subscriptions (404/410 responses) are removed.
func (s *Service) Send(ctx context.Context, payload Payload) error {
	if !s.Enabled() {
		return nil
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("push: marshaling payload: %w", err)
	}

	subs, err := s.store.ListPushSubscriptions(ctx, s.actorURL)
	if err != nil {
		return fmt.Errorf("push: listing subscriptions: %w", err)
	}

	for _, sub := range subs {
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.KeyP256dh,
				Auth:   sub.KeyAuth,
			},
		}

		resp, err := webpush.SendNotification(payloadJSON, wpSub, &webpush.Options{
			VAPIDPublicKey:  s.vapidPub,
			VAPIDPrivateKey: s.vapidPriv,
			Subscriber:      s.vapidEmail,
			TTL:             86400,
		})
		if err != nil {
			s.logger.Debug("push send failed", slog.String("id", sub.ID), slog.String("error", err.Error()))
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			if err := s.store.DeletePushSubscription(ctx, sub.ID); err != nil {
				s.logger.Debug("failed to remove stale push subscription", slog.String("id", sub.ID), slog.String("error", err.Error()))
			}
			continue
		}

		if err := s.store.TouchPushSubscription(ctx, sub.ID); err != nil {
			s.logger.Debug("failed to touch push subscription", slog.String("id", sub.ID), slog.String("error", err.Error()))
		}
	}

	return nil
}

// CleanupStale deletes subscriptions unused for longer than maxAge, for
// periodic housekeeping (teacher's CleanupStaleSubscriptions).
func (s *Service) CleanupStale(ctx context.Context, maxAge time.Duration) (int, error) {
	return s.store.DeleteStalePushSubscriptions(ctx, time.Now().Add(-maxAge))
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}
