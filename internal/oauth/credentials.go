package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pberrors "github.com/parishbot/parishbot/internal/errors"
	"github.com/parishbot/parishbot/internal/store"
)

const (
	credentialPrefix = "oauth:tokens:"
	refreshPrefix    = "oauth:refresh:"
)

// CredentialStore persists each identity's provider token pair plus a
// reverse index from refresh token to identity, so a bare refresh request
// can be attributed to the session that owns it.
type CredentialStore struct {
	store store.Store
	ttl   time.Duration
}

// NewCredentialStore creates a CredentialStore. ttl bounds how long an
// unused provider token pair is retained.
func NewCredentialStore(st store.Store, ttl time.Duration) *CredentialStore {
	if ttl <= 0 {
		ttl = 168 * time.Hour
	}
	return &CredentialStore{store: st, ttl: ttl}
}

// Save stores the pair for subject and indexes its refresh token.
func (s *CredentialStore) Save(ctx context.Context, subject string, pair *TokenPair) error {
	payload, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("encode token pair: %w", err)
	}
	if err := s.store.Set(ctx, credentialPrefix+subject, payload, s.ttl); err != nil {
		return fmt.Errorf("persist token pair: %w", err)
	}
	if pair.RefreshToken != "" {
		if err := s.store.Set(ctx, refreshPrefix+hashToken(pair.RefreshToken), []byte(subject), s.ttl); err != nil {
			return fmt.Errorf("index refresh token: %w", err)
		}
	}
	return nil
}

// BySubject returns the stored pair for subject, or store.ErrNotFound.
func (s *CredentialStore) BySubject(ctx context.Context, subject string) (*TokenPair, error) {
	payload, err := s.store.Get(ctx, credentialPrefix+subject)
	if err != nil {
		return nil, err
	}
	var pair TokenPair
	if err := json.Unmarshal(payload, &pair); err != nil {
		return nil, fmt.Errorf("decode token pair: %w", err)
	}
	return &pair, nil
}

// SubjectForRefreshToken resolves the identity that owns refreshToken, or
// store.ErrNotFound.
func (s *CredentialStore) SubjectForRefreshToken(ctx context.Context, refreshToken string) (string, error) {
	subject, err := s.store.Get(ctx, refreshPrefix+hashToken(refreshToken))
	if err != nil {
		return "", err
	}
	return string(subject), nil
}

// Rotate replaces the pair for subject after a refresh, dropping the old
// refresh token index so the spent token cannot be attributed again.
func (s *CredentialStore) Rotate(ctx context.Context, subject, oldRefreshToken string, pair *TokenPair) error {
	if oldRefreshToken != "" {
		if err := s.store.Delete(ctx, refreshPrefix+hashToken(oldRefreshToken)); err != nil {
			return fmt.Errorf("drop refresh index: %w", err)
		}
	}
	return s.Save(ctx, subject, pair)
}

// hashToken keys the refresh index without storing the raw token.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenSource yields a valid provider access token for an identity,
// refreshing the stored pair at most once when it has expired.
type TokenSource struct {
	creds   *CredentialStore
	manager *Manager
	now     func() time.Time
}

// NewTokenSource creates a TokenSource.
func NewTokenSource(creds *CredentialStore, manager *Manager) *TokenSource {
	return &TokenSource{
		creds:   creds,
		manager: manager,
		now:     time.Now,
	}
}

// AccessToken returns a provider access token usable right now for subject.
// An expired pair is refreshed exactly once and the rotation persisted
// before the caller's original request proceeds.
func (s *TokenSource) AccessToken(ctx context.Context, subject string) (string, error) {
	pair, err := s.creds.BySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The session outlived the stored credentials. Treated like a
			// rejected grant so the client restarts the authorization flow.
			return "", pberrors.Wrap(ErrInvalidGrant, pberrors.CodeRefreshFailed, "no provider credentials for identity")
		}
		return "", pberrors.Internal("failed to load provider credentials", err)
	}

	if !pair.Expired(s.now()) {
		return pair.AccessToken, nil
	}

	fresh, err := s.manager.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		return "", err
	}
	if err := s.creds.Rotate(ctx, subject, pair.RefreshToken, fresh); err != nil {
		return "", pberrors.Internal("failed to persist refreshed credentials", err)
	}
	return fresh.AccessToken, nil
}
