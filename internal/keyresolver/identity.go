package keyresolver

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/fedi3/fedi3/internal/storage"
)

// metaPrivateKeyKey and metaPublicKeyKey are the MetaGet/MetaSet keys the
// local actor's RSA key pair is persisted under, the same key/value meta
// persistence used for Relay telemetry's Ed25519 signing key.
const (
	metaPrivateKeyKey = "actor_rsa_private_key"
	metaPublicKeyKey  = "actor_rsa_public_key"

	rsaKeyBits = 2048
)

// KeyPair is a local actor's RSA signing key, kept in memory and persisted
// to the storage port's key/value meta table so it survives process
// restarts and both pgstore and sqlitestore back it uniformly.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey

	// PublicPEM is the PKIX-encoded public key, ready to embed in an
	// Actor document's publicKey.publicKeyPem field.
	PublicPEM string
}

// LoadOrGenerateKeyPair reads the actor's RSA key pair from storage,
// generating and persisting a fresh one on first run.
func LoadOrGenerateKeyPair(ctx context.Context, store storage.Store) (*KeyPair, error) {
	privB64, ok, err := store.MetaGet(ctx, metaPrivateKeyKey)
	if err != nil {
		return nil, fmt.Errorf("reading persisted private key: %w", err)
	}
	if ok {
		return decodeKeyPair(privB64)
	}

	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key pair: %w", err)
	}

	privDER := x509.MarshalPKCS1PrivateKey(priv)
	privB64 = base64.StdEncoding.EncodeToString(privDER)
	if err := store.MetaSet(ctx, metaPrivateKeyKey, privB64); err != nil {
		return nil, fmt.Errorf("persisting private key: %w", err)
	}

	pubPEM, err := encodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	if err := store.MetaSet(ctx, metaPublicKeyKey, pubPEM); err != nil {
		return nil, fmt.Errorf("persisting public key PEM: %w", err)
	}

	return &KeyPair{Private: priv, Public: &priv.PublicKey, PublicPEM: pubPEM}, nil
}

func decodeKeyPair(privB64 string) (*KeyPair, error) {
	privDER, err := base64.StdEncoding.DecodeString(privB64)
	if err != nil {
		return nil, fmt.Errorf("decoding persisted private key: %w", err)
	}
	priv, err := x509.ParsePKCS1PrivateKey(privDER)
	if err != nil {
		return nil, fmt.Errorf("parsing persisted private key: %w", err)
	}
	pubPEM, err := encodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey, PublicPEM: pubPEM}, nil
}

func encodePublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshaling public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}
