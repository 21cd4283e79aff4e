// Package main is the CLI entrypoint for a fedi3 Node: a single-operator
// ActivityPub-compatible server that owns one local actor, dispatches
// inbound activities, and drives outbound delivery.
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

	"github.com/fedi3/fedi3/internal/config"
	"github.com/fedi3/fedi3/internal/dedup"
	"github.com/fedi3/fedi3/internal/delivery"
	"github.com/fedi3/fedi3/internal/keyresolver"
	"github.com/fedi3/fedi3/internal/media"
	"github.com/fedi3/fedi3/internal/nodehttp"
	"github.com/fedi3/fedi3/internal/objectfetch"
	"github.com/fedi3/fedi3/internal/push"
	"github.com/fedi3/fedi3/internal/ratequota"
	"github.com/fedi3/fedi3/internal/search"
	"github.com/fedi3/fedi3/internal/storage"
	"github.com/fedi3/fedi3/internal/storage/pgstore"
	"github.com/fedi3/fedi3/internal/storage/sqlitestore"
	"github.com/fedi3/fedi3/internal/tunnel"
	"github.com/fedi3/fedi3/internal/uievent"
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
		fmt.Printf("fedi3node %s (%s)\n", version, commit)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("fedi3node — single-operator ActivityPub Node")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fedi3node <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the Node server")
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
	logger.Info("starting fedi3node", slog.String("version", version), slog.String("commit", commit))

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
		return fmt.Errorf("loading actor key pair: %w", err)
	}

	baseURL := "https://" + cfg.Instance.BaseDomain
	if cfg.Instance.BaseDomain == "localhost" {
		baseURL = "http://localhost"
	}
	actorURL := baseURL + "/users/" + cfg.Instance.Username

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

	dd := dedup.New(store)

	ladder := delivery.TransportLadder{Legs: []delivery.Transport{
		&httpsTransport{Resolver: resolver, KeyPair: keyPair, ActorURL: actorURL, HTTPClient: httpClient},
	}}
	deliveryQueue := delivery.New(store, ladder)

	fetchEnqueuer := objectfetch.NewEnqueuer(store)

	var pushSvc *push.Service
	if cfg.Push.VAPIDPublicKey != "" && cfg.Push.VAPIDPrivateKey != "" {
		pushSvc = push.New(push.Config{
			Store:             store,
			Logger:            logger,
			ActorURL:          actorURL,
			VAPIDPublicKey:    cfg.Push.VAPIDPublicKey,
			VAPIDPrivateKey:   cfg.Push.VAPIDPrivateKey,
			VAPIDContactEmail: cfg.Push.VAPIDContactEmail,
		})
		logger.Info("push notifications enabled")
	}

	var mediaSvc *media.Service
	maxUploadBytes, err := cfg.Media.MaxUploadSizeBytes()
	if err != nil {
		return fmt.Errorf("parsing media.max_upload_size: %w", err)
	}
	svc, err := media.New(media.Config{
		Backend:     cfg.Storage.Backend,
		LocalDir:    cfg.Storage.LocalDir,
		Endpoint:    cfg.Storage.Endpoint,
		Bucket:      cfg.Storage.Bucket,
		AccessKey:   cfg.Storage.AccessKey,
		SecretKey:   cfg.Storage.SecretKey,
		UseSSL:      cfg.Storage.UseSSL,
		PublicBase:  baseURL,
		MaxUploadMB: maxUploadBytes / (1024 * 1024),
		StripExif:   false,
	})
	if err != nil {
		logger.Warn("media service unavailable, uploads disabled", slog.String("error", err.Error()))
	} else {
		mediaSvc = svc
		logger.Info("media service ready", slog.String("backend", cfg.Storage.Backend))
	}

	var searchAdapter search.Adapter
	switch cfg.Search.Backend {
	case "meilisearch":
		if cfg.Search.URL != "" {
			searchAdapter = search.NewMeiliAdapter(cfg.Search.URL, cfg.Search.APIKey)
			logger.Info("search adapter ready", slog.String("backend", "meilisearch"))
		}
	default:
		if sqliteStore, ok := store.(*sqlitestore.Store); ok {
			fts := search.NewSQLiteAdapter(sqliteStore.DB)
			if err := fts.EnsureSchema(ctx); err != nil {
				logger.Warn("search fts schema unavailable", slog.String("error", err.Error()))
			} else {
				searchAdapter = fts
				logger.Info("search adapter ready", slog.String("backend", "fts"))
			}
		}
	}

	hub := uievent.NewHub()

	var dialer *tunnel.Dialer
	if cfg.Tunnel.RelayURL != "" {
		reconnectMin, err := cfg.Tunnel.ReconnectMinDelayParsed()
		if err != nil {
			return fmt.Errorf("parsing tunnel.reconnect_min_delay: %w", err)
		}
		reconnectMax, err := cfg.Tunnel.ReconnectMaxDelayParsed()
		if err != nil {
			return fmt.Errorf("parsing tunnel.reconnect_max_delay: %w", err)
		}
		dialer = &tunnel.Dialer{
			RelayURL: cfg.Tunnel.RelayURL,
			Hello: tunnel.Hello{
				Username:    cfg.Instance.Username,
				BearerToken: cfg.Tunnel.BearerToken,
				ActorURL:    actorURL,
				Fedi3PeerID: cfg.Tunnel.Fedi3PeerID,
			},
			Logger:            logger,
			ReconnectMinDelay: reconnectMin,
			ReconnectMaxDelay: reconnectMax,
		}
	}

	srv := nodehttp.NewServer(nodehttp.Config{
		Store:       store,
		ObjectFetch: fetchEnqueuer,
		Resolver:    resolver,
		Gate:        gate,
		Dedup:       dd,
		Delivery:    deliveryQueue,
		Push:        pushSvc,
		Hub:         hub,
		Media:       mediaSvc,
		KeyPair:     keyPair,
		Instance:    cfg.Instance,
		UIToken:     cfg.Auth.UIToken,
		HTTPClient:  httpClient,
		Logger:      logger,
	})

	if dialer != nil {
		dialer.Handler = srv.Router
	}

	fetchWorker := objectfetch.NewWorker(store, fetchObject(httpClient), ingestObject(srv.Processor))

	if searchAdapter != nil {
		if err := searchAdapter.Upsert(ctx, search.IndexActors, search.ActorDoc{
			ID:       actorURL,
			Username: cfg.Instance.Username,
		}); err != nil {
			logger.Warn("indexing local actor failed", slog.String("error", err.Error()))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	if pushSvc != nil && pushSvc.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pushSvc.ListenAndForward(runCtx, hub)
		}()
	}

	if dialer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dialer.Run(runCtx)
		}()
		logger.Info("tunnel dialer starting", slog.String("relay", cfg.Tunnel.RelayURL))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runTicker(runCtx, 10*time.Second, func() {
			if _, err := deliveryQueue.RunOnce(runCtx, 25); err != nil {
				logger.Warn("delivery queue pass failed", slog.String("error", err.Error()))
			}
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runTicker(runCtx, 15*time.Second, func() {
			if _, err := fetchWorker.RunOnce(runCtx); err != nil {
				logger.Warn("object fetch pass failed", slog.String("error", err.Error()))
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

	logger.Info("fedi3node stopped")
	return nil
}

// openStore selects the storage adapter by cfg.Database.Driver, returning
// a close function the caller always defers.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := pgstore.New(ctx, cfg.Database.URL, cfg.Database.MaxConnections, logger)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { pg.Pool.Close() }, nil
	default:
		lite, err := sqlitestore.New(ctx, cfg.Database.URL, logger)
		if err != nil {
			return nil, nil, err
		}
		return lite, func() { lite.DB.Close() }, nil
	}
}

// runTicker invokes fn immediately and then every interval until ctx is
// canceled, the same fixed-tick shape internal/delivery.Queue.RunOnce and
// internal/objectfetch.Worker.RunOnce are designed to be driven by.
func runTicker(ctx context.Context, interval time.Duration, fn func()) {
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
