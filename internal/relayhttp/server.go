// Package relayhttp wires the Relay's HTTP/WebSocket surface: shared-inbox
// fan-out, the Tunnel upgrade endpoint, the Directory/Collection cache,
// Telemetry ingestion, Migration notices, WebRTC signaling, Relay Mesh
// Replication, and the admin surface. Shaped after internal/nodehttp's
// Server/Config/NewServer/registerRoutes convention and its chi wiring.
package relayhttp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fedi3/fedi3/internal/auditlog"
	"github.com/fedi3/fedi3/internal/auth"
	"github.com/fedi3/fedi3/internal/directory"
	"github.com/fedi3/fedi3/internal/fanout"
	"github.com/fedi3/fedi3/internal/httpmw"
	"github.com/fedi3/fedi3/internal/keyresolver"
	"github.com/fedi3/fedi3/internal/meshsync"
	"github.com/fedi3/fedi3/internal/migration"
	"github.com/fedi3/fedi3/internal/ratequota"
	"github.com/fedi3/fedi3/internal/storage"
	"github.com/fedi3/fedi3/internal/telemetry"
	"github.com/fedi3/fedi3/internal/tunnel"
	"github.com/fedi3/fedi3/internal/webrtcsignal"
)

type Server struct {
	Router *chi.Mux

	Store     storage.Store
	Resolver  *keyresolver.Resolver
	Gate      *ratequota.Gate
	Directory *directory.Directory
	Fanout    *fanout.Fanout
	Tunnel    *tunnel.Hub
	Auth      *auth.Service
	Telemetry *telemetry.Ingester
	Migration *migration.Service
	WebRTC    *webrtcsignal.Queue
	MeshSync  *meshsync.Responder
	Audit     *auditlog.Logger

	RelayURL        string
	CanonicalOrigin string
	AdminToken      string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Config bundles the dependencies NewServer wires into routes. Tunnel and
// Fanout are built internally so the adapters bridging fanout.RateGate/
// fanout.Tunnel to ratequota.Gate/tunnel.Hub stay private to this package,
// mirroring nodehttp's Processor-built-internally convention.
type Config struct {
	Store     storage.Store
	Resolver  *keyresolver.Resolver
	Gate      *ratequota.Gate
	Directory *directory.Directory
	Auth      *auth.Service
	Telemetry *telemetry.Ingester
	Migration *migration.Service
	WebRTC    *webrtcsignal.Queue
	MeshSync  *meshsync.Responder

	RelayURL        string
	CanonicalOrigin string
	AdminToken      string

	TunnelTimeout time.Duration
	MaxInflight   int

	MaxInboxFanout  int
	SpoolMaxPerUser int
	SpoolTTL        time.Duration
	FlushBatch      int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewServer(cfg Config) *Server {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		Router:          chi.NewRouter(),
		Store:           cfg.Store,
		Resolver:        cfg.Resolver,
		Gate:            cfg.Gate,
		Directory:       cfg.Directory,
		Auth:            cfg.Auth,
		Telemetry:       cfg.Telemetry,
		Migration:       cfg.Migration,
		WebRTC:          cfg.WebRTC,
		MeshSync:        cfg.MeshSync,
		Audit:           auditlog.New(cfg.Store, logger),
		RelayURL:        cfg.RelayURL,
		CanonicalOrigin: cfg.CanonicalOrigin,
		AdminToken:      cfg.AdminToken,
		HTTPClient:      httpClient,
		Logger:          logger,
	}

	hub := tunnel.NewHub(&authenticatorAdapter{auth: cfg.Auth}, cfg.TunnelTimeout, cfg.MaxInflight)
	hub.Logger = logger
	hub.OnConnect = s.onTunnelConnect
	hub.OnDisconnect = s.onTunnelDisconnect
	s.Tunnel = hub

	fo := fanout.New(cfg.Store, &tunnelAdapter{hub: hub}, &rateGateAdapter{gate: cfg.Gate})
	fo.Logger = logger
	if cfg.MaxInboxFanout > 0 {
		fo.MaxInboxFanout = cfg.MaxInboxFanout
	}
	if cfg.SpoolMaxPerUser > 0 {
		fo.SpoolMaxPerUser = cfg.SpoolMaxPerUser
	}
	if cfg.SpoolTTL > 0 {
		fo.SpoolTTL = cfg.SpoolTTL
	}
	if cfg.FlushBatch > 0 {
		fo.FlushBatch = cfg.FlushBatch
	}
	s.Fanout = fo

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
	// Liveness is unauthenticated; readiness is /admin/readyz, behind the
	// admin token.
	s.Router.Get("/healthz", s.handleHealthz)

	s.Router.Get("/_fedi3/tunnel", s.handleTunnelUpgrade)

	s.Router.Post("/inbox", s.handleSharedInbox)
	s.Router.Route("/users/{user}", func(r chi.Router) {
		r.Get("/", s.handleActor)
		r.Post("/inbox", s.handleUserInbox)
		r.Get("/outbox", s.handleOutbox)
		r.Get("/followers", s.handleFollowers)
		r.Get("/following", s.handleFollowing)
	})

	s.Router.Post("/_fedi3/relay/telemetry", s.handleTelemetryIngest)
	s.Router.Post("/_fedi3/relay/move", s.handleMigrationMove)
	s.Router.Post("/_fedi3/relay/move_notice", s.handleMigrationNotice)

	s.Router.Post("/_fedi3/webrtc/send", s.handleWebRTCSend)
	s.Router.Get("/_fedi3/webrtc/poll", s.handleWebRTCPoll)
	s.Router.Post("/_fedi3/webrtc/ack", s.handleWebRTCAck)

	s.Router.Post("/fedi3/relay-sync/1", s.handleMeshSync)

	s.Router.Route("/admin", func(r chi.Router) {
		r.Use(auth.RequireAdmin(s.AdminToken))
		r.Get("/readyz", s.handleReadyz)
		r.Get("/users", s.handleAdminListUsers)
		r.Post("/users", s.handleAdminCreateUser)
		r.Post("/users/{username}/disable", s.handleAdminDisableUser)
		r.Post("/users/{username}/enable", s.handleAdminEnableUser)
		r.Post("/users/{username}/rotate_token", s.handleAdminRotateToken)
		r.Delete("/users/{username}", s.handleAdminDeleteUser)
		r.Get("/audit", s.handleAdminListAudit)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "application/json", map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.HealthCheck(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, "application/json", map[string]string{"status": "ready"})
}
