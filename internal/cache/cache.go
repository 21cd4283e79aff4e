// Package cache wraps Redis for the two ambient concerns every other
// component needs: short-TTL key/value caching (actor documents, rendered
// collections, session tokens) and the fixed-window counters the rate/quota
// gate builds on.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes, each terminated with ":" so prefix+key concatenation reads
// as a clean namespaced key.
const (
	PrefixSession   = "session:"
	PrefixRateLimit = "ratelimit:"
	PrefixCache     = "cache:"
	PrefixDedupTTL  = "dedupttl:"
)

// SessionData is a Relay admin-UI or Node local-UI bearer session, cached
// to avoid a storage round trip on every authenticated request.
type SessionData struct {
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Client wraps a go-redis client with the namespacing and window-counter
// helpers every caller needs, rather than exposing the raw client type.
type Client struct {
	rdb *redis.Client
}

// New connects to a Redis/Dragonfly-compatible endpoint.
func New(addr, password string, db int) *Client {
	return &Client{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// SessionKey returns the PrefixSession-prefixed Redis key for a session
// token hash; GetSession and PutSession apply it themselves.
func SessionKey(tokenHash string) string { return PrefixSession + tokenHash }

func (c *Client) GetSession(ctx context.Context, tokenHash string) (*SessionData, bool, error) {
	raw, err := c.rdb.Get(ctx, SessionKey(tokenHash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var sd SessionData
	if err := json.Unmarshal(raw, &sd); err != nil {
		return nil, false, err
	}
	return &sd, true, nil
}

func (c *Client) PutSession(ctx context.Context, tokenHash string, sd SessionData, ttl time.Duration) error {
	raw, err := json.Marshal(sd)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, SessionKey(tokenHash), raw, ttl).Err()
}

// CacheKey namespaces a generic short-TTL cache entry (actor JSON,
// rendered OrderedCollection pages, resolved key documents).
func CacheKey(kind, id string) string { return PrefixCache + kind + ":" + id }

func (c *Client) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (c *Client) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *Client) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// RateLimitKey namespaces a fixed-window counter for one (scope, identity)
// pair, e.g. scope="inbox" identity="https://example.social/users/alice".
func RateLimitKey(scope, identity string) string {
	return fmt.Sprintf("%s%s:%s", PrefixRateLimit, scope, identity)
}

// IncrWindow increments the fixed-window counter at key, setting its
// expiry to window only on the first increment of that window (INCR then
// conditional EXPIRE, without a Lua script).
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := c.rdb.Expire(ctx, key, window).Err(); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.rdb.TTL(ctx, key).Result()
}
