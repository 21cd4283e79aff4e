// Package directory implements the Relay's Directory/Collection Cache:
// cache actor JSON and canonical collections on every 200 response, serve
// them from cache while a Node is offline, and redirect non-canonical-host
// GET/HEAD requests to the configured canonical origin. Uses
// internal/cache.Client for short-TTL hot caching with internal/storage as
// the cold-storage fallback/durable layer.
package directory

import (
	"context"
	"net/http"
	"time"

	"github.com/fedi3/fedi3/internal/cache"
	"github.com/fedi3/fedi3/internal/storage"
)

// Collection kinds cached per user.
const (
	KindOutbox    = "outbox"
	KindFollowers = "followers"
	KindFollowing = "following"
)

// CacheTTL is the hot-cache lifetime for actor JSON and collection pages;
// storage.Store retains the cold copy indefinitely until overwritten.
const CacheTTL = 10 * time.Minute

// Directory serves and maintains the actor/collection cache.
type Directory struct {
	Cache *cache.Client
	Store storage.Store
}

func New(c *cache.Client, store storage.Store) *Directory {
	return &Directory{Cache: c, Store: store}
}

// PutActor caches actor JSON for username on a successful fetch/render,
// both hot (Redis) and cold (storage).
func (d *Directory) PutActor(ctx context.Context, username string, actorJSON []byte, actorID, actorURL string) error {
	if d.Cache != nil {
		_ = d.Cache.SetBytes(ctx, cache.CacheKey("actor", username), actorJSON, CacheTTL)
	}
	return d.Store.PutUserCache(ctx, username, actorJSON, actorID, actorURL)
}

// GetActor returns username's cached actor JSON, preferring the hot cache
// and falling back to storage — the path exercised while a Node is
// offline.
func (d *Directory) GetActor(ctx context.Context, username string) (actorJSON []byte, actorID, actorURL string, found bool, err error) {
	if d.Cache != nil {
		if raw, ok, cerr := d.Cache.GetBytes(ctx, cache.CacheKey("actor", username)); cerr == nil && ok {
			// Hot cache doesn't carry actorID/actorURL; fall through to
			// storage for those, but avoid re-fetching the JSON bytes.
			_, actorID, actorURL, _, sfound, serr := d.Store.GetUserCache(ctx, username)
			if serr == nil && sfound {
				return raw, actorID, actorURL, true, nil
			}
			return raw, "", "", true, nil
		}
	}
	raw, actorID, actorURL, _, sfound, serr := d.Store.GetUserCache(ctx, username)
	if serr != nil {
		return nil, "", "", false, serr
	}
	if !sfound {
		return nil, "", "", false, nil
	}
	if d.Cache != nil {
		_ = d.Cache.SetBytes(ctx, cache.CacheKey("actor", username), raw, CacheTTL)
	}
	return raw, actorID, actorURL, true, nil
}

// PutCollection caches a rendered OrderedCollection page for (username,
// kind).
func (d *Directory) PutCollection(ctx context.Context, username, kind string, json []byte) error {
	if d.Cache != nil {
		_ = d.Cache.SetBytes(ctx, cache.CacheKey("coll:"+kind, username), json, CacheTTL)
	}
	return d.Store.PutCollectionCache(ctx, username, kind, json)
}

// GetCollection returns a cached collection page, hot cache first.
func (d *Directory) GetCollection(ctx context.Context, username, kind string) ([]byte, bool, error) {
	if d.Cache != nil {
		if raw, ok, cerr := d.Cache.GetBytes(ctx, cache.CacheKey("coll:"+kind, username)); cerr == nil && ok {
			return raw, true, nil
		}
	}
	raw, found, err := d.Store.GetCollectionCache(ctx, username, kind)
	if err != nil || !found {
		return nil, found, err
	}
	if d.Cache != nil {
		_ = d.Cache.SetBytes(ctx, cache.CacheKey("coll:"+kind, username), raw, CacheTTL)
	}
	return raw, true, nil
}

// CanonicalRedirect reports the Location to 308-redirect a non-canonical
// GET/HEAD request to the configured canonical origin. POST is never
// redirected, for signature safety. Returns ok=false when no redirect
// applies.
func CanonicalRedirect(r *http.Request, canonicalOrigin string) (location string, ok bool) {
	if canonicalOrigin == "" {
		return "", false
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return "", false
	}
	if r.Host == canonicalOrigin {
		return "", false
	}
	target := "https://" + canonicalOrigin + r.URL.RequestURI()
	return target, true
}
