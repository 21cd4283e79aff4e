// Package keyresolver verifies and produces RSA-SHA256 HTTP signatures per
// the Cavage/Signatures draft, and resolves a signature's keyId to a
// cached ActorSummary.
package keyresolver

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-fed/httpsig"

	"github.com/fedi3/fedi3/internal/apperr"
	"github.com/fedi3/fedi3/internal/cache"
	"github.com/fedi3/fedi3/internal/canonjson"
	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage"
)

// MaxDateSkew is the default allowed clock skew between a signed request's
// Date header and the verifier's clock.
const MaxDateSkew = 5 * time.Minute

// ActorCacheTTL bounds how long a resolved ActorSummary is trusted before a
// fresh HTTP GET is required.
const ActorCacheTTL = 1 * time.Hour

// Fetcher retrieves raw actor JSON for a given actor URL. Supplied by the
// binaries' wiring (cmd/fedi3node, cmd/fedi3relay) so this package stays
// free of a concrete HTTP transport dependency beyond signing/verifying.
type Fetcher func(ctx context.Context, actorURL string) ([]byte, error)

type Resolver struct {
	store  storage.Store
	cache  *cache.Client
	fetch  Fetcher
}

func New(store storage.Store, c *cache.Client, fetch Fetcher) *Resolver {
	return &Resolver{store: store, cache: c, fetch: fetch}
}

// actorDoc is the subset of an Actor JSON document this package needs.
type actorDoc struct {
	ID        string `json:"id"`
	PublicKey struct {
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
	Endpoints struct {
		SharedInbox  string `json:"sharedInbox"`
		Fedi3PeerID  string `json:"fedi3PeerId"`
	} `json:"endpoints"`
	AlsoKnownAs []string `json:"alsoKnownAs"`
}

// Resolve maps a keyId URL (the actor URL or "actorURL#main-key") to a
// cached ActorSummary, fetching and parsing the actor document on a cache
// miss or TTL expiry.
func (r *Resolver) Resolve(ctx context.Context, keyID string) (*models.ActorSummary, error) {
	actorURL := ActorFromKeyID(keyID)

	if summary, err := r.store.GetActorSummary(ctx, actorURL); err == nil {
		if time.Since(summary.ResolvedAt) < ActorCacheTTL {
			return summary, nil
		}
	} else if err != storage.ErrNotFound {
		return nil, err
	}

	raw, err := r.fetch(ctx, actorURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, "fetching actor document", err)
	}
	var doc actorDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, "parsing actor document", err)
	}
	if doc.PublicKey.PublicKeyPem == "" {
		return nil, apperr.New(apperr.UpstreamFailure, "actor has no public key")
	}

	summary := models.ActorSummary{
		ActorURL:       doc.ID,
		PublicKeyPEM:   doc.PublicKey.PublicKeyPem,
		SharedInboxURL: doc.Endpoints.SharedInbox,
		P2PPeerID:      doc.Endpoints.Fedi3PeerID,
		IsFedi3Capable: doc.Endpoints.Fedi3PeerID != "",
		ResolvedAt:     time.Now(),
	}
	if len(doc.AlsoKnownAs) > 0 {
		summary.MovedTo = doc.AlsoKnownAs[0]
	}
	if err := r.store.UpsertActorSummary(ctx, summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Invalidate forces the next Resolve to refetch the actor document, called
// after a verification failure in case the actor rotated its key.
func (r *Resolver) Invalidate(ctx context.Context, actorURL string) {
	if r.cache != nil {
		_ = r.cache.Del(ctx, cache.CacheKey("actor", actorURL))
	}
}

// ActorFromKeyID splits a keyId of the form actorURL#fragment down to the
// bare actor URL.
func ActorFromKeyID(keyID string) string {
	return strings.SplitN(keyID, "#", 2)[0]
}

// ExtractKeyID parses req's Signature header far enough to recover the
// claimed keyId without verifying the signature itself, so a caller can
// check abuse-strike state before spending a Resolve+Verify cycle on a
// request from an already-blocked identity.
func ExtractKeyID(req *http.Request) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", apperr.Wrap(apperr.Unauthenticated, "missing or malformed Signature header", err)
	}
	return verifier.KeyId(), nil
}

// VerifyRequest checks Date skew, an optional Digest header, and the HTTP
// signature itself against the resolved actor's public key. Returns the
// verified keyId.
func (r *Resolver) VerifyRequest(ctx context.Context, req *http.Request, body []byte) (string, error) {
	dateStr := req.Header.Get("Date")
	if dateStr == "" {
		return "", apperr.New(apperr.Unauthenticated, "missing Date header")
	}
	reqTime, err := http.ParseTime(dateStr)
	if err != nil {
		return "", apperr.Wrap(apperr.Unauthenticated, "invalid Date header", err)
	}
	// The Date header has one-second resolution, so compare whole seconds.
	if skew := time.Since(reqTime).Truncate(time.Second); skew > MaxDateSkew || skew < -MaxDateSkew {
		return "", apperr.New(apperr.Unauthenticated, "Date header skew exceeds allowed window")
	}

	if digestHeader := req.Header.Get("Digest"); digestHeader != "" {
		const prefix = "SHA-256="
		if !strings.HasPrefix(digestHeader, prefix) {
			return "", apperr.New(apperr.Unauthenticated, "unsupported Digest algorithm")
		}
		want := digestHeader[len(prefix):]
		got := canonjson.DigestSHA256Base64(body)
		if got != want {
			return "", apperr.New(apperr.Unauthenticated, "digest mismatch")
		}
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", apperr.Wrap(apperr.Unauthenticated, "missing or malformed Signature header", err)
	}
	keyID := verifier.KeyId()

	summary, err := r.Resolve(ctx, keyID)
	if err != nil {
		return keyID, err
	}

	pubKey, err := parsePublicKeyPEM(summary.PublicKeyPEM)
	if err != nil {
		return keyID, apperr.Wrap(apperr.Unauthenticated, "parsing actor public key", err)
	}

	if err := verifier.Verify(pubKey, httpsig.RSA_SHA256); err != nil {
		r.Invalidate(ctx, summary.ActorURL)
		return keyID, apperr.Wrap(apperr.Unauthenticated, "signature verification failed", err)
	}
	return keyID, nil
}

// SignRequest signs an outbound request with the given RSA private key,
// covering (request-target), host, date, and digest.
func SignRequest(req *http.Request, body []byte, keyID string, priv *rsa.PrivateKey) error {
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{httpsig.RequestTarget, "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("creating signer: %w", err)
	}
	return signer.SignRequest(priv, keyID, req, body)
}

func parsePublicKeyPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("invalid PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing PKIX public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("actor public key is not RSA")
	}
	return rsaPub, nil
}
