// Package config handles TOML configuration parsing for fedi3 Node and
// Relay processes. It loads configuration from fedi3.toml, applies
// environment variable overrides (prefixed with FEDI3_), validates required
// fields, and provides sane defaults for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration shared by cmd/fedi3node and
// cmd/fedi3relay; each binary only reads the sections relevant to its role.
type Config struct {
	Instance  InstanceConfig  `toml:"instance"`
	Database  DatabaseConfig  `toml:"database"`
	Cache     CacheConfig     `toml:"cache"`
	Mesh      MeshConfig      `toml:"mesh"`
	Storage   StorageConfig   `toml:"storage"`
	Search    SearchConfig    `toml:"search"`
	Auth      AuthConfig      `toml:"auth"`
	Media     MediaConfig     `toml:"media"`
	Push      PushConfig      `toml:"push"`
	HTTP      HTTPConfig      `toml:"http"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Quota     QuotaConfig     `toml:"quota"`
	Relay     RelayConfig     `toml:"relay"`
	Tunnel    TunnelConfig    `toml:"tunnel"`
	Logging   LoggingConfig   `toml:"logging"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// InstanceConfig identifies this Node or Relay instance.
type InstanceConfig struct {
	// BaseDomain is the instance's public origin, used to build actor
	// URLs, WebFinger responses, and the canonical-origin redirect check.
	BaseDomain string `toml:"base_domain"`
	Name       string `toml:"name"`

	// Username names the Node's single local actor; a Node is
	// single-operator. Unused by the Relay, which serves many usernames.
	Username string `toml:"username"`
}

// DatabaseConfig selects and configures the storage adapter.
type DatabaseConfig struct {
	// Driver is "sqlite" (single-operator Node, pure-Go, no cgo) or
	// "postgres" (Relay, multi-operator Node).
	Driver         string `toml:"driver"`
	URL            string `toml:"url"`
	MaxConnections int    `toml:"max_connections"`
}

// CacheConfig configures the Redis-compatible cache used by rate limiting
// and short-TTL actor/collection caching.
type CacheConfig struct {
	URL string `toml:"url"`
}

// MeshConfig configures the NATS-backed relay mesh replication transport.
type MeshConfig struct {
	NATSURL      string `toml:"nats_url"`
	SyncInterval string `toml:"sync_interval"`
	MaxPages     int    `toml:"max_pages"`
}

func (m MeshConfig) SyncIntervalParsed() (time.Duration, error) {
	return parseDuration("mesh.sync_interval", m.SyncInterval)
}

// StorageConfig configures the media backend: local filesystem or
// S3-compatible object storage.
type StorageConfig struct {
	Backend   string `toml:"backend"` // "local" or "s3"
	LocalDir  string `toml:"local_dir"`
	Endpoint  string `toml:"endpoint"`
	Bucket    string `toml:"bucket"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
}

// SearchConfig selects the search backend: a SQL full-text fallback or an
// external keyword-search service.
type SearchConfig struct {
	Backend string `toml:"backend"` // "fts" or "meilisearch"
	URL     string `toml:"url"`
	APIKey  string `toml:"api_key"`
}

// AuthConfig configures bearer-token session handling for the Node local
// UI and the Relay per-user/admin tokens.
type AuthConfig struct {
	SessionDuration string `toml:"session_duration"`
	AdminToken      string `toml:"admin_token"`
	TelemetryToken  string `toml:"telemetry_token"`
	UIToken         string `toml:"ui_token"`
}

func (a AuthConfig) SessionDurationParsed() (time.Duration, error) {
	return parseDuration("auth.session_duration", a.SessionDuration)
}

// MediaConfig bounds upload size and blurhash generation.
type MediaConfig struct {
	MaxUploadSize string `toml:"max_upload_size"`
	Blurhash      bool   `toml:"blurhash"`
}

// MaxUploadSizeBytes parses MaxUploadSize (e.g. "100MB") into bytes.
func (m MediaConfig) MaxUploadSizeBytes() (int64, error) {
	s := strings.TrimSpace(strings.ToUpper(m.MaxUploadSize))
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing max_upload_size %q: %w", m.MaxUploadSize, err)
	}
	return n * multiplier, nil
}

// PushConfig configures best-effort Web Push delivery of local UI events.
type PushConfig struct {
	VAPIDPublicKey    string `toml:"vapid_public_key"`
	VAPIDPrivateKey   string `toml:"vapid_private_key"`
	VAPIDContactEmail string `toml:"vapid_contact_email"`
}

// HTTPConfig configures the Node/Relay HTTP listener and outbound client.
type HTTPConfig struct {
	Listen         string `toml:"listen"`
	ClientTimeout  string `toml:"client_timeout"`
	ConnectTimeout string `toml:"connect_timeout"`
	TunnelTimeout  string `toml:"tunnel_timeout"`
}

func (h HTTPConfig) ClientTimeoutParsed() (time.Duration, error) {
	return parseDuration("http.client_timeout", h.ClientTimeout)
}
func (h HTTPConfig) ConnectTimeoutParsed() (time.Duration, error) {
	return parseDuration("http.connect_timeout", h.ConnectTimeout)
}
func (h HTTPConfig) TunnelTimeoutParsed() (time.Duration, error) {
	return parseDuration("http.tunnel_timeout", h.TunnelTimeout)
}

// RateLimitConfig configures the IP/keyId/actor sliding windows.
type RateLimitConfig struct {
	IPMaxPerMinute    int64  `toml:"ip_max_per_minute"`
	KeyIDMaxPerMinute int64  `toml:"keyid_max_per_minute"`
	ActorMaxPerMinute int64  `toml:"actor_max_per_minute"`
	NoisyBaseDelay    string `toml:"noisy_base_delay"`
	NoisyMaxDelay     string `toml:"noisy_max_delay"`
}

func (r RateLimitConfig) NoisyBaseDelayParsed() (time.Duration, error) {
	return parseDuration("rate_limit.noisy_base_delay", r.NoisyBaseDelay)
}
func (r RateLimitConfig) NoisyMaxDelayParsed() (time.Duration, error) {
	return parseDuration("rate_limit.noisy_max_delay", r.NoisyMaxDelay)
}

// QuotaConfig configures the persistent 24h (keyId, actor, host) budget.
type QuotaConfig struct {
	MaxRequestsPerDay int64 `toml:"max_requests_per_day"`
	MaxBytesPerDay    int64 `toml:"max_bytes_per_day"`
}

// RelayConfig configures Relay-only behavior: tunnel registration policy,
// shared-inbox fan-out caps, spool TTL, WebRTC signaling caps, and
// migration-notice hop limits.
type RelayConfig struct {
	// RegisterMode is "open", "admin_gated", or "invite".
	RegisterMode        string `toml:"register_mode"`
	MaxInboxFanout      int    `toml:"max_inbox_fanout"`
	SpoolMaxRowsPerUser int    `toml:"spool_max_rows_per_user"`
	SpoolTTL            string `toml:"spool_ttl"`
	SpoolFlushBatch     int    `toml:"spool_flush_batch"`
	TelemetryInterval   string `toml:"telemetry_interval"`
	WebRTCSignalMaxPerPeer int `toml:"webrtc_signal_max_per_peer"`
	WebRTCSignalTTL     string `toml:"webrtc_signal_ttl"`
	MigrationNoticeMaxHops int `toml:"migration_notice_max_hops"`
	ReputationTTL       string `toml:"reputation_ttl"`
	P2PRelayFallback    string `toml:"p2p_relay_fallback"`
	CanonicalOrigin     string `toml:"canonical_origin"`
}

func (r RelayConfig) SpoolTTLParsed() (time.Duration, error) {
	return parseDuration("relay.spool_ttl", r.SpoolTTL)
}
func (r RelayConfig) TelemetryIntervalParsed() (time.Duration, error) {
	return parseDuration("relay.telemetry_interval", r.TelemetryInterval)
}
func (r RelayConfig) WebRTCSignalTTLParsed() (time.Duration, error) {
	return parseDuration("relay.webrtc_signal_ttl", r.WebRTCSignalTTL)
}
func (r RelayConfig) ReputationTTLParsed() (time.Duration, error) {
	return parseDuration("relay.reputation_ttl", r.ReputationTTL)
}
func (r RelayConfig) P2PRelayFallbackParsed() (time.Duration, error) {
	return parseDuration("relay.p2p_relay_fallback", r.P2PRelayFallback)
}

// TunnelConfig configures the Node's half of the Relay Tunnel: the Relay
// this Node registers with and the per-user bearer token an
// admin provisioned there. Empty RelayURL means the Node runs without a
// tunnel, reachable only by whatever address peers resolve directly.
type TunnelConfig struct {
	RelayURL          string `toml:"relay_url"`
	BearerToken       string `toml:"bearer_token"`
	Fedi3PeerID       string `toml:"fedi3_peer_id"`
	ReconnectMinDelay string `toml:"reconnect_min_delay"`
	ReconnectMaxDelay string `toml:"reconnect_max_delay"`
}

func (t TunnelConfig) ReconnectMinDelayParsed() (time.Duration, error) {
	return parseDuration("tunnel.reconnect_min_delay", t.ReconnectMinDelay)
}
func (t TunnelConfig) ReconnectMaxDelayParsed() (time.Duration, error) {
	return parseDuration("tunnel.reconnect_max_delay", t.ReconnectMaxDelay)
}

// LoggingConfig configures structured log/slog output.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", field, value, err)
	}
	return d, nil
}

// defaults returns a Config with sane default values for all fields.
func defaults() Config {
	return Config{
		Instance: InstanceConfig{
			BaseDomain: "localhost",
			Name:       "fedi3",
			Username:   "me",
		},
		Database: DatabaseConfig{
			Driver:         "sqlite",
			URL:            "fedi3.db",
			MaxConnections: 10,
		},
		Cache: CacheConfig{
			URL: "redis://localhost:6379",
		},
		Mesh: MeshConfig{
			NATSURL:      "nats://localhost:4222",
			SyncInterval: "5m",
			MaxPages:     10,
		},
		Storage: StorageConfig{
			Backend:  "local",
			LocalDir: "./media",
			Region:   "us-east-1",
			UseSSL:   true,
		},
		Search: SearchConfig{
			Backend: "fts",
			URL:     "http://localhost:7700",
		},
		Auth: AuthConfig{
			SessionDuration: "720h",
		},
		Media: MediaConfig{
			MaxUploadSize: "50MB",
			Blurhash:      true,
		},
		HTTP: HTTPConfig{
			Listen:         "0.0.0.0:8080",
			ClientTimeout:  "30s",
			ConnectTimeout: "10s",
			TunnelTimeout:  "15s",
		},
		RateLimit: RateLimitConfig{
			IPMaxPerMinute:    120,
			KeyIDMaxPerMinute: 120,
			ActorMaxPerMinute: 240,
			NoisyBaseDelay:    "10s",
			NoisyMaxDelay:     "10m",
		},
		Quota: QuotaConfig{
			MaxRequestsPerDay: 20000,
			MaxBytesPerDay:    500 * 1024 * 1024,
		},
		Relay: RelayConfig{
			RegisterMode:           "admin_gated",
			MaxInboxFanout:         500,
			SpoolMaxRowsPerUser:    1000,
			SpoolTTL:               "168h",
			SpoolFlushBatch:        20,
			TelemetryInterval:      "30s",
			WebRTCSignalMaxPerPeer: 50,
			WebRTCSignalTTL:        "10m",
			MigrationNoticeMaxHops: 5,
			ReputationTTL:          "24h",
			P2PRelayFallback:       "3s",
		},
		Tunnel: TunnelConfig{
			ReconnectMinDelay: "1s",
			ReconnectMaxDelay: "2m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "0.0.0.0:9090",
		},
	}
}

// Load reads the configuration from the given TOML file path, applies
// defaults for missing values, then applies FEDI3_-prefixed environment
// variable overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			deriveDefaults(&cfg)
			if err := validate(&cfg); err != nil {
				return nil, err
			}
			return &cfg, nil
		}
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	deriveDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides overrides config fields with FEDI3_-prefixed
// environment variables when set.
func applyEnvOverrides(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	integer64 := func(name string, dst *int64) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}

	str("FEDI3_INSTANCE_BASE_DOMAIN", &cfg.Instance.BaseDomain)
	str("FEDI3_INSTANCE_NAME", &cfg.Instance.Name)
	str("FEDI3_INSTANCE_USERNAME", &cfg.Instance.Username)

	str("FEDI3_DATABASE_DRIVER", &cfg.Database.Driver)
	str("FEDI3_DATABASE_URL", &cfg.Database.URL)
	integer("FEDI3_DATABASE_MAX_CONNECTIONS", &cfg.Database.MaxConnections)

	str("FEDI3_CACHE_URL", &cfg.Cache.URL)

	str("FEDI3_MESH_NATS_URL", &cfg.Mesh.NATSURL)
	str("FEDI3_MESH_SYNC_INTERVAL", &cfg.Mesh.SyncInterval)
	integer("FEDI3_MESH_MAX_PAGES", &cfg.Mesh.MaxPages)

	str("FEDI3_STORAGE_BACKEND", &cfg.Storage.Backend)
	str("FEDI3_STORAGE_LOCAL_DIR", &cfg.Storage.LocalDir)
	str("FEDI3_STORAGE_ENDPOINT", &cfg.Storage.Endpoint)
	str("FEDI3_STORAGE_BUCKET", &cfg.Storage.Bucket)
	str("FEDI3_STORAGE_ACCESS_KEY", &cfg.Storage.AccessKey)
	str("FEDI3_STORAGE_SECRET_KEY", &cfg.Storage.SecretKey)
	str("FEDI3_STORAGE_REGION", &cfg.Storage.Region)
	boolean("FEDI3_STORAGE_USE_SSL", &cfg.Storage.UseSSL)

	str("FEDI3_SEARCH_BACKEND", &cfg.Search.Backend)
	str("FEDI3_SEARCH_URL", &cfg.Search.URL)
	str("FEDI3_SEARCH_API_KEY", &cfg.Search.APIKey)

	str("FEDI3_AUTH_SESSION_DURATION", &cfg.Auth.SessionDuration)
	str("FEDI3_AUTH_ADMIN_TOKEN", &cfg.Auth.AdminToken)
	str("FEDI3_AUTH_TELEMETRY_TOKEN", &cfg.Auth.TelemetryToken)
	str("FEDI3_AUTH_UI_TOKEN", &cfg.Auth.UIToken)

	str("FEDI3_MEDIA_MAX_UPLOAD_SIZE", &cfg.Media.MaxUploadSize)
	boolean("FEDI3_MEDIA_BLURHASH", &cfg.Media.Blurhash)

	str("FEDI3_PUSH_VAPID_PUBLIC_KEY", &cfg.Push.VAPIDPublicKey)
	str("FEDI3_PUSH_VAPID_PRIVATE_KEY", &cfg.Push.VAPIDPrivateKey)
	str("FEDI3_PUSH_VAPID_CONTACT_EMAIL", &cfg.Push.VAPIDContactEmail)

	str("FEDI3_HTTP_LISTEN", &cfg.HTTP.Listen)
	str("FEDI3_HTTP_CLIENT_TIMEOUT", &cfg.HTTP.ClientTimeout)
	str("FEDI3_HTTP_CONNECT_TIMEOUT", &cfg.HTTP.ConnectTimeout)
	str("FEDI3_HTTP_TUNNEL_TIMEOUT", &cfg.HTTP.TunnelTimeout)

	integer64("FEDI3_RATE_LIMIT_IP_MAX_PER_MINUTE", &cfg.RateLimit.IPMaxPerMinute)
	integer64("FEDI3_RATE_LIMIT_KEYID_MAX_PER_MINUTE", &cfg.RateLimit.KeyIDMaxPerMinute)
	integer64("FEDI3_RATE_LIMIT_ACTOR_MAX_PER_MINUTE", &cfg.RateLimit.ActorMaxPerMinute)
	str("FEDI3_RATE_LIMIT_NOISY_BASE_DELAY", &cfg.RateLimit.NoisyBaseDelay)
	str("FEDI3_RATE_LIMIT_NOISY_MAX_DELAY", &cfg.RateLimit.NoisyMaxDelay)

	integer64("FEDI3_QUOTA_MAX_REQUESTS_PER_DAY", &cfg.Quota.MaxRequestsPerDay)
	integer64("FEDI3_QUOTA_MAX_BYTES_PER_DAY", &cfg.Quota.MaxBytesPerDay)

	str("FEDI3_RELAY_REGISTER_MODE", &cfg.Relay.RegisterMode)
	integer("FEDI3_RELAY_MAX_INBOX_FANOUT", &cfg.Relay.MaxInboxFanout)
	integer("FEDI3_RELAY_SPOOL_MAX_ROWS_PER_USER", &cfg.Relay.SpoolMaxRowsPerUser)
	str("FEDI3_RELAY_SPOOL_TTL", &cfg.Relay.SpoolTTL)
	integer("FEDI3_RELAY_SPOOL_FLUSH_BATCH", &cfg.Relay.SpoolFlushBatch)
	str("FEDI3_RELAY_TELEMETRY_INTERVAL", &cfg.Relay.TelemetryInterval)
	integer("FEDI3_RELAY_WEBRTC_SIGNAL_MAX_PER_PEER", &cfg.Relay.WebRTCSignalMaxPerPeer)
	str("FEDI3_RELAY_WEBRTC_SIGNAL_TTL", &cfg.Relay.WebRTCSignalTTL)
	integer("FEDI3_RELAY_MIGRATION_NOTICE_MAX_HOPS", &cfg.Relay.MigrationNoticeMaxHops)
	str("FEDI3_RELAY_REPUTATION_TTL", &cfg.Relay.ReputationTTL)
	str("FEDI3_RELAY_P2P_RELAY_FALLBACK", &cfg.Relay.P2PRelayFallback)
	str("FEDI3_RELAY_CANONICAL_ORIGIN", &cfg.Relay.CanonicalOrigin)

	str("FEDI3_TUNNEL_RELAY_URL", &cfg.Tunnel.RelayURL)
	str("FEDI3_TUNNEL_BEARER_TOKEN", &cfg.Tunnel.BearerToken)
	str("FEDI3_TUNNEL_FEDI3_PEER_ID", &cfg.Tunnel.Fedi3PeerID)
	str("FEDI3_TUNNEL_RECONNECT_MIN_DELAY", &cfg.Tunnel.ReconnectMinDelay)
	str("FEDI3_TUNNEL_RECONNECT_MAX_DELAY", &cfg.Tunnel.ReconnectMaxDelay)

	str("FEDI3_LOGGING_LEVEL", &cfg.Logging.Level)
	str("FEDI3_LOGGING_FORMAT", &cfg.Logging.Format)

	boolean("FEDI3_METRICS_ENABLED", &cfg.Metrics.Enabled)
	str("FEDI3_METRICS_LISTEN", &cfg.Metrics.Listen)
}

// deriveDefaults fills in config values that can be inferred from other
// settings, called after env overrides so explicit values are never
// overwritten.
func deriveDefaults(cfg *Config) {
	if cfg.Relay.CanonicalOrigin == "" && cfg.Instance.BaseDomain != "localhost" {
		cfg.Relay.CanonicalOrigin = cfg.Instance.BaseDomain
	}
}

// validate checks that required configuration fields are present and valid.
func validate(cfg *Config) error {
	if cfg.Instance.BaseDomain == "" {
		return fmt.Errorf("config: instance.base_domain is required")
	}

	if cfg.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	if cfg.Database.MaxConnections < 1 {
		return fmt.Errorf("config: database.max_connections must be at least 1")
	}
	validDrivers := map[string]bool{"sqlite": true, "postgres": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("config: database.driver must be one of: sqlite, postgres (got %q)", cfg.Database.Driver)
	}

	validStorage := map[string]bool{"local": true, "s3": true}
	if !validStorage[cfg.Storage.Backend] {
		return fmt.Errorf("config: storage.backend must be one of: local, s3 (got %q)", cfg.Storage.Backend)
	}

	validSearch := map[string]bool{"fts": true, "meilisearch": true}
	if !validSearch[cfg.Search.Backend] {
		return fmt.Errorf("config: search.backend must be one of: fts, meilisearch (got %q)", cfg.Search.Backend)
	}

	validRegisterModes := map[string]bool{"open": true, "admin_gated": true, "invite": true}
	if !validRegisterModes[cfg.Relay.RegisterMode] {
		return fmt.Errorf("config: relay.register_mode must be one of: open, admin_gated, invite (got %q)", cfg.Relay.RegisterMode)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("config: logging.level must be one of: debug, info, warn, error (got %q)", cfg.Logging.Level)
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[cfg.Logging.Format] {
		return fmt.Errorf("config: logging.format must be one of: json, text (got %q)", cfg.Logging.Format)
	}

	if _, err := cfg.Auth.SessionDurationParsed(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := cfg.Media.MaxUploadSizeBytes(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := cfg.HTTP.ClientTimeoutParsed(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := cfg.Relay.SpoolTTLParsed(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := cfg.Mesh.SyncIntervalParsed(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Tunnel.RelayURL != "" {
		if cfg.Tunnel.BearerToken == "" {
			return fmt.Errorf("config: tunnel.bearer_token is required when tunnel.relay_url is set")
		}
		if _, err := cfg.Tunnel.ReconnectMinDelayParsed(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if _, err := cfg.Tunnel.ReconnectMaxDelayParsed(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	if cfg.HTTP.Listen == "" {
		return fmt.Errorf("config: http.listen is required")
	}

	return nil
}
