// Package token implements the bearer-token service: issuing, verifying,
// revoking, and rotating signed time-bounded tokens bound to an identity.
//
// Tokens are HS256 JWTs. Claims carry the identity ID (sub), an expiry (exp),
// and a random nonce (jti) used for revocation. Verification outcomes are
// distinct sentinel errors so callers can tell "retry with a fresh login"
// (ErrExpired) from "reject as tampered" (ErrInvalidSignature).
//
// Key material is process-wide state: the active key signs new tokens, and
// rotated-out keys remain verify-only until their tokens age out. Service is
// safe for concurrent use by multiple goroutines.
package token

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Verification outcomes. Callers must handle each case explicitly.
var (
	// ErrExpired indicates a well-formed, correctly signed token past its expiry.
	ErrExpired = errors.New("token expired")

	// ErrInvalidSignature indicates the token was tampered with or signed
	// with an unknown key.
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrMalformed indicates the token string is not a parseable JWT.
	ErrMalformed = errors.New("malformed token")

	// ErrRevoked indicates the token's nonce is on the revocation list.
	ErrRevoked = errors.New("token revoked")
)

// revocationSweepInterval bounds how often expired revocation entries are purged.
const revocationSweepInterval = 5 * time.Minute

// Claims are the JWT claims askgate issues.
// Subject is the identity ID, ID (jti) is the revocation nonce.
type Claims struct {
	jwt.RegisteredClaims
}

// IdentityID returns the identity the token is bound to.
func (c *Claims) IdentityID() string { return c.Subject }

// Nonce returns the token's random nonce (jti).
func (c *Claims) Nonce() string { return c.ID }

// Service issues and verifies bearer tokens.
type Service struct {
	ttl    time.Duration
	logger *slog.Logger

	mu        sync.RWMutex
	active    []byte
	previous  [][]byte
	revoked   map[string]time.Time // nonce → token expiry
	lastSweep time.Time
	now       func() time.Time
}

// New creates a token Service with the given signing key and time-to-live.
func New(signingKey []byte, ttl time.Duration, logger *slog.Logger) (*Service, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("signing key is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ttl:       ttl,
		logger:    logger,
		active:    signingKey,
		revoked:   make(map[string]time.Time),
		lastSweep: time.Now(),
		now:       time.Now,
	}, nil
}

// TTL returns the lifetime applied to newly issued tokens.
func (s *Service) TTL() time.Duration { return s.ttl }

// Issue generates a signed token bound to the given identity ID.
// The token carries a fresh random nonce and expires after the service TTL.
func (s *Service) Issue(identityID string) (string, error) {
	if identityID == "" {
		return "", errors.New("identity ID is required")
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	s.mu.RLock()
	key := s.active
	s.mu.RUnlock()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify parses and checks a token string: signature, expiry, and revocation.
// On success it returns the token's claims. Failure is one of ErrExpired,
// ErrInvalidSignature, ErrMalformed, or ErrRevoked.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	s.mu.RLock()
	keys := make([][]byte, 0, 1+len(s.previous))
	keys = append(keys, s.active)
	keys = append(keys, s.previous...)
	s.mu.RUnlock()

	var lastErr error
	for _, key := range keys {
		claims := &Claims{}
		_, err := jwt.ParseWithClaims(tokenString, claims,
			func(*jwt.Token) (any, error) { return key, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(s.now),
		)
		switch {
		case err == nil:
			if s.isRevoked(claims.ID) {
				return nil, ErrRevoked
			}
			return claims, nil
		case errors.Is(err, jwt.ErrTokenExpired):
			// Signature checked out; expiry is definitive regardless of key.
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			// Try the next key (rotation).
			lastErr = ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformed
		default:
			lastErr = fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	if lastErr == nil {
		lastErr = ErrInvalidSignature
	}
	return nil, lastErr
}

// Revoke places a token's nonce on the revocation list until the token's
// natural expiry, after which the entry is swept.
func (s *Service) Revoke(nonce string, expiresAt time.Time) {
	if nonce == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revoked[nonce] = expiresAt
	s.sweepLocked()
	s.logger.Debug("token revoked", "nonce", nonce, "expires_at", expiresAt)
}

// Rotate swaps in a new signing key. Tokens signed under previous keys stay
// verifiable until they expire; new tokens are signed with the new key.
// In-flight verifications are unaffected.
func (s *Service) Rotate(newKey []byte) error {
	if len(newKey) == 0 {
		return errors.New("new signing key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.previous = append(s.previous, s.active)
	s.active = newKey
	s.logger.Info("signing key rotated", "verify_only_keys", len(s.previous))
	return nil
}

// isRevoked checks the revocation list and opportunistically sweeps
// expired entries so the list stays bounded by the token TTL.
func (s *Service) isRevoked(nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.now().Sub(s.lastSweep) > revocationSweepInterval {
		s.sweepLocked()
	}
	_, ok := s.revoked[nonce]
	return ok
}

// sweepLocked removes revocation entries whose tokens have expired.
// Caller must hold s.mu.
func (s *Service) sweepLocked() {
	now := s.now()
	for nonce, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, nonce)
		}
	}
	s.lastSweep = now
}
