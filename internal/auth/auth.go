// Package auth hashes and verifies the bearer tokens used by Relay
// per-user tunnel authentication (a salted hash of the token) and the
// admin-token gate on the Relay admin surface, via
// github.com/alexedwards/argon2id.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/alexedwards/argon2id"

	"github.com/fedi3/fedi3/internal/apperr"
	"github.com/fedi3/fedi3/internal/storage"
)

// HashToken produces an argon2id hash of a bearer token, suitable for
// storage.CreateUser/RotateUserToken.
func HashToken(token string) (string, error) {
	hash, err := argon2id.CreateHash(token, argon2id.DefaultParams)
	if err != nil {
		return "", fmt.Errorf("auth: hashing token: %w", err)
	}
	return hash, nil
}

// VerifyToken compares a plaintext token against a stored argon2id hash.
func VerifyToken(token, hash string) (bool, error) {
	ok, err := argon2id.ComparePasswordAndHash(token, hash)
	if err != nil {
		return false, fmt.Errorf("auth: comparing token: %w", err)
	}
	return ok, nil
}

// Service validates Relay per-user tokens against the storage port. It
// implements tunnel.Authenticator.
type Service struct {
	Store storage.Store
}

func New(store storage.Store) *Service {
	return &Service{Store: store}
}

// ValidateUserToken checks token against the stored hash for username,
// rejecting disabled users.
func (s *Service) ValidateUserToken(ctx context.Context, username, token string) (bool, error) {
	hash, disabled, err := s.Store.GetUserTokenHash(ctx, username)
	if err != nil {
		if err == storage.ErrNotFound {
			return false, nil
		}
		return false, apperr.Wrap(apperr.UpstreamFailure, "loading user token hash", err)
	}
	if disabled {
		return false, nil
	}
	return VerifyToken(token, hash)
}

// CheckAdminToken constant-time compares a presented bearer token against
// the configured admin token, the gate every admin route requires
// ("Authorization: Bearer <admin_token>").
func CheckAdminToken(presented, configured string) bool {
	if configured == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}
