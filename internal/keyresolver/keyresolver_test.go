package keyresolver

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-fed/httpsig"

	"github.com/fedi3/fedi3/internal/apperr"
	"github.com/fedi3/fedi3/internal/canonjson"
	"github.com/fedi3/fedi3/internal/models"
	"github.com/fedi3/fedi3/internal/storage/sqlitestore"
)

func TestLoadOrGenerateKeyPair_PersistsAcrossCalls(t *testing.T) {
	ctx := context.Background()
	store, err := sqlitestore.New(ctx, ":memory:", slog.Default())
	if err != nil {
		t.Fatalf("opening sqlite store: %v", err)
	}
	defer store.Close()

	kp1, err := LoadOrGenerateKeyPair(ctx, store)
	if err != nil {
		t.Fatalf("first LoadOrGenerateKeyPair: %v", err)
	}
	if kp1.PublicPEM == "" {
		t.Fatal("expected non-empty PublicPEM")
	}

	kp2, err := LoadOrGenerateKeyPair(ctx, store)
	if err != nil {
		t.Fatalf("second LoadOrGenerateKeyPair: %v", err)
	}
	if kp1.Private.D.Cmp(kp2.Private.D) != 0 {
		t.Error("expected the same private key to be reloaded, got a different one")
	}
}

func TestParsePublicKeyPEM_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := sqlitestore.New(ctx, ":memory:", slog.Default())
	if err != nil {
		t.Fatalf("opening sqlite store: %v", err)
	}
	defer store.Close()

	kp, err := LoadOrGenerateKeyPair(ctx, store)
	if err != nil {
		t.Fatalf("LoadOrGenerateKeyPair: %v", err)
	}

	pub, err := parsePublicKeyPEM(kp.PublicPEM)
	if err != nil {
		t.Fatalf("parsePublicKeyPEM: %v", err)
	}
	if pub.N.Cmp(kp.Public.N) != 0 {
		t.Error("parsed public key does not match original")
	}
}

func TestParsePublicKeyPEM_Invalid(t *testing.T) {
	if _, err := parsePublicKeyPEM("not a pem block"); err == nil {
		t.Error("expected error for invalid PEM input")
	}
}

const testActorURL = "https://peer.example/users/alice"

// newSignedRequest builds a POST request to target, signed by kp under
// keyID, with a Date header fixed at signedAt so tests can control skew
// deterministically instead of racing the system clock. It mirrors
// SignRequest's header set but skips that helper's own time.Now() stamp.
func newSignedRequest(t *testing.T, kp *KeyPair, keyID, target string, body []byte, signedAt time.Time) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(string(body)))
	req.Header.Set("Date", signedAt.UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", "SHA-256="+canonjson.DigestSHA256Base64(body))

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{httpsig.RequestTarget, "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}
	if err := signer.SignRequest(kp.Private, keyID, req, body); err != nil {
		t.Fatalf("SignRequest: %v", err)
	}
	return req
}

func newTestResolver(t *testing.T) (*Resolver, *KeyPair) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlitestore.New(ctx, ":memory:", slog.Default())
	if err != nil {
		t.Fatalf("opening sqlite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	kp, err := LoadOrGenerateKeyPair(ctx, store)
	if err != nil {
		t.Fatalf("LoadOrGenerateKeyPair: %v", err)
	}

	resolver := New(store, nil, func(ctx context.Context, actorURL string) ([]byte, error) {
		t.Fatalf("unexpected actor fetch for %q; actor summary should already be cached", actorURL)
		return nil, nil
	})

	if err := store.UpsertActorSummary(ctx, models.ActorSummary{
		ActorURL:     testActorURL,
		PublicKeyPEM: kp.PublicPEM,
		ResolvedAt:   time.Now(),
	}); err != nil {
		t.Fatalf("UpsertActorSummary: %v", err)
	}

	return resolver, kp
}

func TestVerifyRequest_Valid(t *testing.T) {
	resolver, kp := newTestResolver(t)
	body := []byte(`{"type":"Follow"}`)
	req := newSignedRequest(t, kp, testActorURL+"#main-key", testActorURL+"/inbox", body, time.Now())

	keyID, err := resolver.VerifyRequest(context.Background(), req, body)
	if err != nil {
		t.Fatalf("VerifyRequest: %v", err)
	}
	if keyID != testActorURL+"#main-key" {
		t.Errorf("keyID = %q, want %q", keyID, testActorURL+"#main-key")
	}
}

func TestVerifyRequest_DateSkewAtMaxIsAccepted(t *testing.T) {
	resolver, kp := newTestResolver(t)
	body := []byte(`{"type":"Follow"}`)
	signedAt := time.Now().Add(-MaxDateSkew)
	req := newSignedRequest(t, kp, testActorURL+"#main-key", testActorURL+"/inbox", body, signedAt)

	if _, err := resolver.VerifyRequest(context.Background(), req, body); err != nil {
		t.Errorf("VerifyRequest at exactly MaxDateSkew: %v", err)
	}
}

func TestVerifyRequest_DateSkewOverMaxIsRejected(t *testing.T) {
	resolver, kp := newTestResolver(t)
	body := []byte(`{"type":"Follow"}`)
	signedAt := time.Now().Add(-MaxDateSkew - time.Second)
	req := newSignedRequest(t, kp, testActorURL+"#main-key", testActorURL+"/inbox", body, signedAt)

	_, err := resolver.VerifyRequest(context.Background(), req, body)
	if err == nil {
		t.Fatal("expected error for Date skew exceeding MaxDateSkew")
	}
	if e, ok := apperr.As(err); !ok || e.Kind != apperr.Unauthenticated {
		t.Errorf("got %v, want Unauthenticated", err)
	}
}

func TestVerifyRequest_DigestWrongAlgorithmRejected(t *testing.T) {
	resolver, kp := newTestResolver(t)
	body := []byte(`{"type":"Follow"}`)
	req := newSignedRequest(t, kp, testActorURL+"#main-key", testActorURL+"/inbox", body, time.Now())
	req.Header.Set("Digest", "SHA-512="+canonjson.DigestSHA256Base64(body))

	_, err := resolver.VerifyRequest(context.Background(), req, body)
	if err == nil {
		t.Fatal("expected error for non-SHA-256 Digest algorithm")
	}
	if e, ok := apperr.As(err); !ok || e.Kind != apperr.Unauthenticated {
		t.Errorf("got %v, want Unauthenticated", err)
	}
}

func TestVerifyRequest_DigestMismatchRejected(t *testing.T) {
	resolver, kp := newTestResolver(t)
	body := []byte(`{"type":"Follow"}`)
	req := newSignedRequest(t, kp, testActorURL+"#main-key", testActorURL+"/inbox", body, time.Now())
	req.Header.Set("Digest", "SHA-256="+canonjson.DigestSHA256Base64([]byte("tampered")))

	_, err := resolver.VerifyRequest(context.Background(), req, body)
	if err == nil {
		t.Fatal("expected error for Digest mismatch")
	}
}

func TestVerifyRequest_MissingDateHeaderRejected(t *testing.T) {
	resolver, kp := newTestResolver(t)
	body := []byte(`{"type":"Follow"}`)
	req := newSignedRequest(t, kp, testActorURL+"#main-key", testActorURL+"/inbox", body, time.Now())
	req.Header.Del("Date")

	_, err := resolver.VerifyRequest(context.Background(), req, body)
	if err == nil {
		t.Fatal("expected error for missing Date header")
	}
}

func TestVerifyRequest_MissingSignatureHeaderRejected(t *testing.T) {
	resolver, _ := newTestResolver(t)
	body := []byte(`{"type":"Follow"}`)
	req := httptest.NewRequest(http.MethodPost, testActorURL+"/inbox", strings.NewReader(string(body)))
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	_, err := resolver.VerifyRequest(context.Background(), req, body)
	if err == nil {
		t.Fatal("expected error for missing Signature header")
	}
}

func TestVerifyRequest_BadSignatureInvalidatesActorCache(t *testing.T) {
	resolver, kp := newTestResolver(t)
	body := []byte(`{"type":"Follow"}`)
	req := newSignedRequest(t, kp, testActorURL+"#main-key", testActorURL+"/inbox", body, time.Now())

	// Tamper with the body after signing, so the signature no longer
	// covers what's actually verified.
	tampered := []byte(`{"type":"Undo"}`)
	req.Header.Set("Digest", "SHA-256="+canonjson.DigestSHA256Base64(tampered))

	_, err := resolver.VerifyRequest(context.Background(), req, tampered)
	if err == nil {
		t.Fatal("expected signature verification failure on tampered body")
	}
}

func TestActorFromKeyID(t *testing.T) {
	got := ActorFromKeyID(testActorURL + "#main-key")
	if got != testActorURL {
		t.Errorf("ActorFromKeyID = %q, want %q", got, testActorURL)
	}
}

func TestExtractKeyID(t *testing.T) {
	_, kp := newTestResolver(t)
	body := []byte(`{"type":"Follow"}`)
	req := newSignedRequest(t, kp, testActorURL+"#main-key", testActorURL+"/inbox", body, time.Now())

	keyID, err := ExtractKeyID(req)
	if err != nil {
		t.Fatalf("ExtractKeyID: %v", err)
	}
	if keyID != testActorURL+"#main-key" {
		t.Errorf("ExtractKeyID = %q, want %q", keyID, testActorURL+"#main-key")
	}
}

func TestExtractKeyID_NoSignatureHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, testActorURL, nil)
	if _, err := ExtractKeyID(req); err == nil {
		t.Error("expected error when Signature header is absent")
	}
}
