// Package main is the CLI entrypoint for a fedi3 Relay: the shared,
// multi-operator mesh process providing Tunnel hosting, shared-inbox
// fan-out, Directory/Telemetry gossip, Migration notices, and WebRTC
// signaling for Nodes that register with it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fedi3/fedi3/internal/auth"
	"github.com/fedi3/fedi3/internal/config"
	"github.com/fedi3/fedi3/internal/directory"
	"github.com/fedi3/fedi3/internal/keyresolver"
	"github.com/fedi3/fedi3/internal/meshbus"
	"github.com/fedi3/fedi3/internal/meshsync"
	"github.com/fedi3/fedi3/internal/migration"
	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/ratequota"
	"github.com/fedi3/fedi3/internal/relayhttp"
	"github.com/fedi3/fedi3/internal/search"
	"github.com/fedi3/fedi3/internal/storage"
	"github.com/fedi3/fedi3/internal/storage/pgstore"
	"github.com/fedi3/fedi3/internal/storage/sqlitestore"
	"github.com/fedi3/fedi3/internal/telemetry"
	"github.com/fedi3/fedi3/internal/webrtcsignal"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("fedi3relay %s (%s)\n", version, commit)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("fedi3relay — shared federation mesh relay")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fedi3relay <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the Relay server")
	fmt.Println("  version   Print version information")
	fmt.Println("  help      Show this help message")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  Config file:  fedi3.toml (or set FEDI3_CONFIG_PATH)")
	fmt.Println("  Env prefix:   FEDI3_ (e.g. FEDI3_DATABASE_URL)")
}

func configPath() string {
	if p := os.Getenv("FEDI3_CONFIG_PATH"); p != "" {
		return p
	}
	return "fedi3.toml"
}

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func runServe() error {
	logger := setupLogger("info", "json")
	logger.Info("starting fedi3relay", slog.String("version", version), slog.String("commit", commit))

	cfgPath := configPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger = setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded", slog.String("path", cfgPath))

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer closeStore()

	cacheClient, err := newCacheClient(cfg.Cache.URL)
	if err != nil {
		return fmt.Errorf("configuring cache: %w", err)
	}
	defer cacheClient.Close()

	keyPair, err := keyresolver.LoadOrGenerateKeyPair(ctx, store)
	if err != nil {
		return fmt.Errorf("loading relay key pair: %w", err)
	}

	relayURL := "https://" + cfg.Instance.BaseDomain
	if cfg.Instance.BaseDomain == "localhost" {
		relayURL = "http://localhost"
	}

	clientTimeout, err := cfg.HTTP.ClientTimeoutParsed()
	if err != nil {
		return fmt.Errorf("parsing http.client_timeout: %w", err)
	}
	httpClient := &http.Client{Timeout: clientTimeout}

	resolver := keyresolver.New(store, cacheClient, fetchObject(httpClient))

	gate := ratequota.New(cacheClient, store,
		ratequota.Limits{MaxRequests: cfg.RateLimit.IPMaxPerMinute, Window: time.Minute},
		ratequota.Limits{MaxRequests: cfg.RateLimit.KeyIDMaxPerMinute, Window: time.Minute},
		ratequota.Limits{MaxRequests: cfg.RateLimit.ActorMaxPerMinute, Window: time.Minute},
	)

	dir := directory.New(cacheClient, store)
	authSvc := auth.New(store)

	migrationSvc := migration.New(store)
	migrationWorker := migration.NewWorker(migrationSvc, relayhttp.NewHTTPRelayNotifier(httpClient), logger)

	webrtcQueue := webrtcsignal.New(store)
	if cfg.Relay.WebRTCSignalMaxPerPeer > 0 {
		webrtcQueue.MaxPerPeer = cfg.Relay.WebRTCSignalMaxPerPeer
	}
	if ttl, err := cfg.Relay.WebRTCSignalTTLParsed(); err == nil && ttl > 0 {
		webrtcQueue.TTL = ttl
	}

	telemetryKey, err := telemetry.LoadOrGenerateKey(ctx, store)
	if err != nil {
		return fmt.Errorf("loading telemetry signing key: %w", err)
	}

	var searchAdapter search.Adapter
	switch cfg.Search.Backend {
	case "meilisearch":
		if cfg.Search.URL != "" {
			searchAdapter = search.NewMeiliAdapter(cfg.Search.URL, cfg.Search.APIKey)
		}
	default:
		if sqliteStore, ok := store.(*sqlitestore.Store); ok {
			fts := search.NewSQLiteAdapter(sqliteStore.DB)
			if err := fts.EnsureSchema(ctx); err != nil {
				logger.Warn("search fts schema unavailable", slog.String("error", err.Error()))
			} else {
				searchAdapter = fts
			}
		}
	}

	telemetryIngester := telemetry.NewIngester(store)
	telemetryIngester.Search = searchAdapter
	telemetryIngester.Logger = logger

	meshResponder := meshsync.NewResponder(store, relayURL, telemetryKey)

	// Mesh sync defaults to plain-HTTPS requests against each known peer's
	// relay_url. When mesh.nats_url is set, operators on a shared NATS
	// network get anycast request/reply instead (internal/meshbus): one
	// subscriber per Relay answers, so NATS mode only makes sense when
	// every peer reachable on that network is meant to answer for itself.
	var bus *meshbus.Bus
	var meshRequester meshsync.Requester = relayhttp.NewHTTPSyncRequester(httpClient)
	if cfg.Mesh.NATSURL != "" {
		b, err := meshbus.Connect(cfg.Mesh.NATSURL, logger)
		if err != nil {
			logger.Warn("nats mesh bus unavailable, falling back to https sync", slog.String("error", err.Error()))
		} else {
			bus = b
			meshRequester = meshbus.NewRequester(bus)
			if _, err := meshbus.ServeResponder(bus, meshResponder, logger); err != nil {
				logger.Warn("nats mesh responder subscribe failed", slog.String("error", err.Error()))
			} else {
				logger.Info("nats mesh bus ready", slog.String("url", cfg.Mesh.NATSURL))
			}
		}
	}
	if bus != nil {
		defer bus.Close()
	}
	meshPuller := meshsync.NewPuller(store, meshRequester)

	tunnelTimeout, err := cfg.HTTP.TunnelTimeoutParsed()
	if err != nil {
		return fmt.Errorf("parsing http.tunnel_timeout: %w", err)
	}
	spoolTTL, err := cfg.Relay.SpoolTTLParsed()
	if err != nil {
		return fmt.Errorf("parsing relay.spool_ttl: %w", err)
	}

	srv := relayhttp.NewServer(relayhttp.Config{
		Store:           store,
		Resolver:        resolver,
		Gate:            gate,
		Directory:       dir,
		Auth:            authSvc,
		Telemetry:       telemetryIngester,
		Migration:       migrationSvc,
		WebRTC:          webrtcQueue,
		MeshSync:        meshResponder,
		RelayURL:        relayURL,
		CanonicalOrigin: cfg.Relay.CanonicalOrigin,
		AdminToken:      cfg.Auth.AdminToken,
		TunnelTimeout:   tunnelTimeout,
		MaxInflight:     256,
		MaxInboxFanout:  cfg.Relay.MaxInboxFanout,
		SpoolMaxPerUser: cfg.Relay.SpoolMaxRowsPerUser,
		SpoolTTL:        spoolTTL,
		FlushBatch:      cfg.Relay.SpoolFlushBatch,
		HTTPClient:      httpClient,
		Logger:          logger,
	})

	snapshotter := &relaySnapshotter{store: store, hub: srv.Tunnel}
	telemetryPublisher := telemetry.NewPublisher(relayURL, cfg.Instance.BaseDomain, telemetryKey, snapshotter)
	telemetryTransport := relayhttp.NewHTTPTelemetryPublisher(httpClient)

	telemetryInterval, err := cfg.Relay.TelemetryIntervalParsed()
	if err != nil {
		return fmt.Errorf("parsing relay.telemetry_interval: %w", err)
	}
	syncInterval, err := cfg.Mesh.SyncIntervalParsed()
	if err != nil {
		return fmt.Errorf("parsing mesh.sync_interval: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		runTicker(runCtx, telemetryInterval, func() {
			publishTelemetry(runCtx, store, telemetryPublisher, telemetryTransport, logger)
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runTicker(runCtx, 10*time.Second, func() {
			if _, err := migrationWorker.RunOnce(runCtx); err != nil {
				logger.Warn("migration fan-out pass failed", slog.String("error", err.Error()))
			}
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runTicker(runCtx, syncInterval, func() {
			pullFromKnownRelays(runCtx, store, meshPuller, logger)
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runTicker(runCtx, 5*time.Minute, func() {
			if n, err := webrtcQueue.PruneExpired(runCtx); err != nil {
				logger.Warn("webrtc signal prune failed", slog.String("error", err.Error()))
			} else if n > 0 {
				logger.Info("pruned expired webrtc signals", slog.Int("count", n))
			}
		})
	}()

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Listen,
		Handler: srv.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.HTTP.Listen))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		cancel()
		wg.Wait()
		return err
	case sig := <-shutdownCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	cancel()
	wg.Wait()

	logger.Info("fedi3relay stopped")
	return nil
}

// openStore selects the storage adapter by cfg.Database.Driver, returning
// a close function the caller always defers. The Relay is multi-operator,
// so postgres is the expected production driver; sqlite remains available
// for small or single-box deployments.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, func(), error) {
	switch cfg.Database.Driver {
	case "sqlite":
		lite, err := sqlitestore.New(ctx, cfg.Database.URL, logger)
		if err != nil {
			return nil, nil, err
		}
		return lite, func() { lite.DB.Close() }, nil
	default:
		pg, err := pgstore.New(ctx, cfg.Database.URL, cfg.Database.MaxConnections, logger)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { pg.Pool.Close() }, nil
	}
}

func runTicker(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	fn()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

// publishTelemetry builds and signs a fresh snapshot, then pushes it to
// every currently known peer relay.
func publishTelemetry(ctx context.Context, store storage.Store, pub *telemetry.Publisher, transport *relayhttp.HTTPTelemetryPublisher, logger *slog.Logger) {
	snapshot, err := pub.Build(ctx)
	if err != nil {
		logger.Warn("building telemetry snapshot failed", slog.String("error", err.Error()))
		return
	}
	peers, err := store.ListRelayEntries(ctx)
	if err != nil {
		logger.Warn("listing known relays for telemetry push failed", slog.String("error", err.Error()))
		return
	}
	for _, peer := range peers {
		if peer.RelayURL == pub.RelayURL {
			continue
		}
		if err := transport.PublishTelemetry(ctx, peer.RelayURL, snapshot); err != nil {
			logger.Warn("telemetry push failed", slog.String("relay", peer.RelayURL), slog.String("error", err.Error()))
		}
	}
}

// pullFromKnownRelays drives one round of the mesh sync pull loop against
// every peer with a pinned signing key on file.
func pullFromKnownRelays(ctx context.Context, store storage.Store, puller *meshsync.Puller, logger *slog.Logger) {
	peers, err := store.ListRelayEntries(ctx)
	if err != nil {
		logger.Warn("listing known relays for mesh sync failed", slog.String("error", err.Error()))
		return
	}
	for _, peer := range peers {
		if peer.PinnedSigningKey == "" {
			continue
		}
		if n, err := puller.PullFrom(ctx, peer.RelayURL, peer.PinnedSigningKey); err != nil {
			logger.Warn("mesh sync pull failed", slog.String("relay", peer.RelayURL), slog.String("error", err.Error()))
		} else if n > 0 {
			logger.Info("mesh sync pulled rows", slog.String("relay", peer.RelayURL), slog.Int("count", n))
		}
	}
}

// relaySnapshotter implements telemetry.Snapshotter over this Relay's own
// storage and tunnel hub. OnlinePeers/AdvertisedPeers report zero — spec
// §1's Non-goals exclude P2P peer-id tracking, so this Relay only ever
// advertises tunnel-connected Nodes, never raw peer ids.
type relaySnapshotter struct {
	store storage.Store
	hub   interface{ OnlineCount() int }
}

func (s *relaySnapshotter) OnlineUsers(ctx context.Context) int {
	return s.hub.OnlineCount()
}

func (s *relaySnapshotter) OnlinePeers(ctx context.Context) int {
	return 0
}

func (s *relaySnapshotter) TotalUsers(ctx context.Context) int {
	usernames, err := s.store.ListUsers(ctx)
	if err != nil {
		return 0
	}
	return len(usernames)
}

func (s *relaySnapshotter) AdvertisedUsers(ctx context.Context) []models.TelemetryUser {
	usernames, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil
	}
	users := make([]models.TelemetryUser, 0, len(usernames))
	for _, username := range usernames {
		_, _, actorURL, _, found, err := s.store.GetUserCache(ctx, username)
		if err != nil || !found || actorURL == "" {
			continue
		}
		users = append(users, models.TelemetryUser{Username: username, ActorURL: actorURL})
	}
	return users
}

func (s *relaySnapshotter) AdvertisedPeers(ctx context.Context) []models.TelemetryPeer {
	return nil
}

func (s *relaySnapshotter) KnownRelays(ctx context.Context) []string {
	entries, err := s.store.ListRelayEntries(ctx)
	if err != nil {
		return nil
	}
	relays := make([]string, 0, len(entries))
	for _, e := range entries {
		relays = append(relays, e.RelayURL)
	}
	return relays
}
