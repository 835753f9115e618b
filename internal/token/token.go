// Package token issues and verifies the application's own session token,
// independent of the OAuth provider's tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	pberrors "github.com/parishbot/parishbot/internal/errors"
)

// Identity is the authenticated principal a verified session token carries.
type Identity struct {
	Subject   string
	ExpiresAt time.Time
}

// Claims represents the session token claims.
type Claims struct {
	jwt.RegisteredClaims
}

// Service mints and verifies session tokens using a symmetric HMAC secret.
type Service struct {
	secret   []byte
	lifetime time.Duration
	issuer   string
	now      func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the time source. Used in tests for expiry boundaries.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new token Service.
func NewService(secret string, lifetime time.Duration, issuer string, opts ...Option) *Service {
	s := &Service{
		secret:   []byte(secret),
		lifetime: lifetime,
		issuer:   issuer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lifetime returns the configured session lifetime.
func (s *Service) Lifetime() time.Duration {
	return s.lifetime
}

// Issue mints a signed session token for subject. Pure computation, no I/O.
func (s *Service) Issue(subject string) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, pberrors.InvalidRequest("subject is required")
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.lifetime)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.New().String(),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// Verify checks the signature and claims of a session token and returns the
// identity it carries. Signature failures are reported before any claim
// problem so an unverified payload is never trusted for error detail.
func (s *Service) Verify(tokenString string) (*Identity, error) {
	claims := &Claims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, pberrors.Wrap(err, pberrors.CodeUnauthenticated, pberrors.ReasonInvalidSignature)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, pberrors.Wrap(err, pberrors.CodeUnauthenticated, pberrors.ReasonExpiredToken)
		default:
			return nil, pberrors.Wrap(err, pberrors.CodeUnauthenticated, pberrors.ReasonMalformedToken)
		}
	}

	if claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, pberrors.Unauthenticated(pberrors.ReasonMalformedToken)
	}

	return &Identity{
		Subject:   claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
