// Package ratequota implements the three-layer rate and quota gate: an IP
// sliding window, a keyId sliding window, and a resolved-actor sliding
// window backed by persistent 24h quotas, plus a noisy-client strike/
// backoff ledger and temporary block for identities that repeatedly fail
// verification.
package ratequota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fedi3/fedi3/internal/cache"
	"github.com/fedi3/fedi3/internal/storage"
)

// Endpoint family bucket names.
const (
	FamilyInbox       = "inbox"
	FamilyTunnel      = "tunnel"
	FamilyRegister    = "register"
	FamilyForward     = "forward"
	FamilyAdmin       = "admin"
	FamilyMediaUpload = "media_upload"
)

const (
	ipWindow = 60 * time.Second

	strikeBaseDelay = 10 * time.Second
	strikeMaxDelay  = 10 * time.Minute
	strikeIdleTTL   = 10 * time.Minute

	// abuseBlockThreshold is the strike count at which an identity is
	// treated as temporarily blocked outright, rather than merely delayed.
	abuseBlockThreshold = 6
)

// Limits bundles the request-count ceiling and window for one of the three
// enforcement layers.
type Limits struct {
	MaxRequests int64
	Window      time.Duration
}

// Gate is the rate and quota gate. One Gate instance is shared across all
// three layers and the persistent quota bump.
type Gate struct {
	cache *cache.Client
	store storage.Store

	ipLimit     Limits
	keyIDLimit  Limits
	actorLimit  Limits
}

func New(c *cache.Client, store storage.Store, ipLimit, keyIDLimit, actorLimit Limits) *Gate {
	return &Gate{cache: c, store: store, ipLimit: ipLimit, keyIDLimit: keyIDLimit, actorLimit: actorLimit}
}

// Decision reports the outcome of a single layer check, shaped so callers
// can set the matching X-RateLimit-* / Retry-After headers.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	RetryAfter time.Duration
}

func (g *Gate) check(ctx context.Context, scope, identity string, limits Limits) (Decision, error) {
	key := cache.RateLimitKey(scope, identity)
	n, err := g.cache.IncrWindow(ctx, key, limits.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("incrementing rate window: %w", err)
	}
	remaining := limits.MaxRequests - n
	if remaining < 0 {
		remaining = 0
	}
	if n > limits.MaxRequests {
		return Decision{Allowed: false, Limit: limits.MaxRequests, Remaining: 0, RetryAfter: limits.Window}, nil
	}
	return Decision{Allowed: true, Limit: limits.MaxRequests, Remaining: remaining}, nil
}

// CheckIP enforces the first, cheapest layer: an IP sliding window scoped
// to one endpoint family.
func (g *Gate) CheckIP(ctx context.Context, family, ip string) (Decision, error) {
	return g.check(ctx, "ip:"+family, ip, g.ipLimit)
}

// CheckKeyID enforces the second layer, run after the Signature header is
// parsed but before the keyId is resolved to an actor.
func (g *Gate) CheckKeyID(ctx context.Context, keyID string) (Decision, error) {
	return g.check(ctx, "keyid", keyID, g.keyIDLimit)
}

// CheckActor enforces the third layer, run after signature verification
// succeeds, with weight for fan-out admission (sharedInbox counts
// weight = max(1, len(recipients))).
func (g *Gate) CheckActor(ctx context.Context, actorURL string, weight int64) (Decision, error) {
	if weight < 1 {
		weight = 1
	}
	key := cache.RateLimitKey("actor", actorURL)
	n, err := g.cache.IncrWindow(ctx, key, g.actorLimit.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("incrementing actor rate window: %w", err)
	}
	// IncrWindow only increments by 1; apply the remaining weight with
	// direct increments sharing the same window key and expiry already set.
	for i := int64(1); i < weight; i++ {
		n, err = g.cache.IncrWindow(ctx, key, g.actorLimit.Window)
		if err != nil {
			return Decision{}, fmt.Errorf("incrementing actor rate window: %w", err)
		}
	}
	remaining := g.actorLimit.MaxRequests - n
	if remaining < 0 {
		remaining = 0
	}
	if n > g.actorLimit.MaxRequests {
		return Decision{Allowed: false, Limit: g.actorLimit.MaxRequests, Remaining: 0, RetryAfter: g.actorLimit.Window}, nil
	}
	return Decision{Allowed: true, Limit: g.actorLimit.MaxRequests, Remaining: remaining}, nil
}

// BumpQuota enforces the persistent 24h quota on a (keyId, actor, host)
// budget, delegating to the storage port's atomic monotonic-window bump.
func (g *Gate) BumpQuota(ctx context.Context, quotaKey string, maxReqs, maxBytes, bytes int64) (bool, error) {
	const windowMs = int64(24 * time.Hour / time.Millisecond)
	return g.store.BumpQuota(ctx, quotaKey, windowMs, maxReqs, maxBytes, bytes)
}

// Strike records one rate-limit violation for ip and returns the delay the
// caller should apply before the IP is let through again, doubling from
// strikeBaseDelay up to strikeMaxDelay. Strike counters age out after
// strikeIdleTTL of inactivity (enforced via the Redis key's own TTL).
func (g *Gate) Strike(ctx context.Context, ip string) (time.Duration, error) {
	return g.strike(ctx, "ip", ip)
}

// StrikeKeyID records one signature-verification failure against keyID,
// independent of the IP it arrived from.
func (g *Gate) StrikeKeyID(ctx context.Context, keyID string) (time.Duration, error) {
	return g.strike(ctx, "keyid", keyID)
}

// StrikeActor records one signature-verification failure against
// actorURL, independent of the keyId fragment used.
func (g *Gate) StrikeActor(ctx context.Context, actorURL string) (time.Duration, error) {
	return g.strike(ctx, "actor", actorURL)
}

func (g *Gate) strike(ctx context.Context, scope, identity string) (time.Duration, error) {
	key := cache.RateLimitKey("strikes:"+scope, identity)
	n, err := g.cache.IncrWindow(ctx, key, strikeIdleTTL)
	if err != nil {
		return 0, fmt.Errorf("incrementing %s strike counter: %w", scope, err)
	}
	return strikeDelay(n), nil
}

// CheckBlocked reports whether keyID or actorURL has accumulated
// abuseBlockThreshold or more strikes and, if so, the remaining block
// duration. Callers check this before resolving/verifying a signature so
// a known-bad identity is rejected without the cost of a fresh
// verification attempt. Either argument may be empty to skip that check.
func (g *Gate) CheckBlocked(ctx context.Context, keyID, actorURL string) (bool, time.Duration, error) {
	identities := []struct{ scope, identity string }{
		{"keyid", keyID},
		{"actor", actorURL},
	}
	for _, id := range identities {
		if id.identity == "" {
			continue
		}
		key := cache.RateLimitKey("strikes:"+id.scope, id.identity)
		raw, ok, err := g.cache.GetBytes(ctx, key)
		if err != nil {
			return false, 0, fmt.Errorf("checking %s block state: %w", id.scope, err)
		}
		if !ok {
			continue
		}
		n, _ := strconv.ParseInt(string(raw), 10, 64)
		if n >= abuseBlockThreshold {
			ttl, err := g.cache.TTL(ctx, key)
			if err != nil || ttl <= 0 {
				return true, strikeMaxDelay, nil
			}
			return true, ttl, nil
		}
	}
	return false, 0, nil
}

// strikeDelay doubles strikeBaseDelay for each strike beyond the first,
// capped at strikeMaxDelay.
func strikeDelay(n int64) time.Duration {
	delay := strikeBaseDelay
	for i := int64(1); i < n; i++ {
		delay *= 2
		if delay >= strikeMaxDelay {
			return strikeMaxDelay
		}
	}
	return delay
}
