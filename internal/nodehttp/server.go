// Package nodehttp implements the Node HTTP Surface: the ActivityPub
// dispatch contract at /users/{user}, its inbox/outbox/followers/
// following/objects sub-paths, the shared /inbox, WebFinger, host-meta,
// NodeInfo, inbound delivery receipts, and the per-process-token-gated
// internal UI endpoints (push subscriptions, event stream).
package nodehttp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fedi3/fedi3/internal/activitypub"
	"github.com/fedi3/fedi3/internal/config"
	"github.com/fedi3/fedi3/internal/dedup"
	"github.com/fedi3/fedi3/internal/delivery"
	"github.com/fedi3/fedi3/internal/httpmw"
	"github.com/fedi3/fedi3/internal/keyresolver"
	"github.com/fedi3/fedi3/internal/media"
	"github.com/fedi3/fedi3/internal/objectfetch"
	"github.com/fedi3/fedi3/internal/push"
	"github.com/fedi3/fedi3/internal/ratequota"
	"github.com/fedi3/fedi3/internal/storage"
	"github.com/fedi3/fedi3/internal/uievent"
)

// Server is the Node's HTTP surface. One instance serves the Node's single
// local actor.
type Server struct {
	Router *chi.Mux

	Store       storage.Store
	Processor   *activitypub.Processor
	ObjectFetch *objectfetch.Enqueuer
	Resolver    *keyresolver.Resolver
	Gate        *ratequota.Gate
	Dedup       *dedup.Deduplicator
	Delivery    *delivery.Queue
	Push        *push.Service
	Hub         *uievent.Hub
	Media       *media.Service

	KeyPair *keyresolver.KeyPair

	// Username is the Node's single local actor's path segment
	// (/users/{Username}); BaseURL is the instance's public origin
	// including scheme, e.g. "https://node.example".
	Username string
	BaseURL  string

	// UIToken, when non-empty, gates every route under /api with a
	// per-process shared token.
	UIToken string

	HTTPClient *http.Client

	Logger *slog.Logger
}

// Config bundles the dependencies NewServer wires into routes. Processor is
// built internally so the Outbox/Notifier adapters bridging it to Delivery
// and Hub stay private to this package.
type Config struct {
	Store       storage.Store
	ObjectFetch *objectfetch.Enqueuer
	Resolver    *keyresolver.Resolver
	Gate        *ratequota.Gate
	Dedup       *dedup.Deduplicator
	Delivery    *delivery.Queue
	Push        *push.Service
	Hub         *uievent.Hub
	Media       *media.Service
	KeyPair     *keyresolver.KeyPair
	Instance    config.InstanceConfig
	UIToken     string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// NewServer builds the router and registers every route.
func NewServer(cfg Config) *Server {
	baseURL := "https://" + cfg.Instance.BaseDomain
	if cfg.Instance.BaseDomain == "localhost" {
		baseURL = "http://localhost"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	actorURL := baseURL + "/users/" + cfg.Instance.Username

	processor := &activitypub.Processor{
		Store:         cfg.Store,
		Outbox:        &outboxAdapter{queue: cfg.Delivery},
		ObjectFetcher: cfg.ObjectFetch,
		Notifier:      &notifierAdapter{hub: cfg.Hub, logger: cfg.Logger},
		LocalActorURL: actorURL,
		FollowersURL:  actorURL + "/followers",
		Logger:        cfg.Logger,
	}

	s := &Server{
		Router:      chi.NewRouter(),
		Store:       cfg.Store,
		Processor:   processor,
		ObjectFetch: cfg.ObjectFetch,
		Resolver:    cfg.Resolver,
		Gate:        cfg.Gate,
		Dedup:       cfg.Dedup,
		Delivery:    cfg.Delivery,
		Push:        cfg.Push,
		Hub:         cfg.Hub,
		Media:       cfg.Media,
		KeyPair:     cfg.KeyPair,
		Username:    cfg.Instance.Username,
		BaseURL:     baseURL,
		UIToken:     cfg.UIToken,
		HTTPClient:  httpClient,
		Logger:      cfg.Logger,
	}

	s.registerMiddleware()
	s.registerRoutes()
	return s
}

func (s *Server) registerMiddleware() {
	s.Router.Use(httpmw.RequestID)
	s.Router.Use(httpmw.RequestLogger(s.Logger))
	s.Router.Use(httpmw.Recover(s.Logger))
}

func (s *Server) registerRoutes() {
	s.Router.Get("/health", s.handleHealth)

	s.Router.Get("/.well-known/webfinger", s.handleWebFinger)
	s.Router.Get("/.well-known/host-meta", s.handleHostMeta)
	s.Router.Get("/.well-known/nodeinfo", s.handleNodeInfoDiscovery)
	s.Router.Get("/nodeinfo/2.0", s.handleNodeInfo)

	s.Router.Post("/inbox", s.handleSharedInbox)
	s.Router.Post("/.fedi3/receipt", s.handleReceipt)

	s.Router.Route("/users/{user}", func(r chi.Router) {
		r.Get("/", s.handleActor)
		r.Post("/inbox", s.handleUserInbox)
		r.Get("/outbox", s.handleOutbox)
		r.Get("/followers", s.handleFollowers)
		r.Get("/following", s.handleFollowing)
		r.Get("/objects/{suffix}", s.handleObject)
		r.Get("/objects/{suffix}/reactions", s.handleObjectReactions)
	})

	s.Router.Route("/api", func(r chi.Router) {
		r.Use(s.requireUIToken)
		r.Post("/push/subscriptions", s.Push.HandleSubscribe)
		r.Get("/push/subscriptions", s.Push.HandleListSubscriptions)
		r.Delete("/push/subscriptions/{subscriptionID}", s.Push.HandleUnsubscribe)
		r.Get("/push/vapid-key", s.Push.HandleGetVAPIDKey)
		r.Get("/events", s.handleEventStream)
		if s.Media != nil {
			r.Post("/media", s.Media.HandleUpload)
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.HealthCheck(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// requireUIToken rejects requests to internal UI endpoints unless they
// carry the configured shared token, when one is configured.
func (s *Server) requireUIToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.UIToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.UIToken {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid UI token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actorURL returns the canonical actor URL for the Node's local user.
func (s *Server) actorURL() string {
	return s.BaseURL + "/users/" + s.Username
}
