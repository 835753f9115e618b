// Package oauth drives the authorization-code dance against the upstream
// provider and protects it against CSRF forgery and replay.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"

	pberrors "github.com/parishbot/parishbot/internal/errors"
	"github.com/parishbot/parishbot/internal/store"
)

const (
	statePrefix = "oauth:state:"
	// stateTokenLength is the entropy of the state token in bytes.
	stateTokenLength = 32
)

// FlowConfig holds the authorize-endpoint settings for the Manager.
type FlowConfig struct {
	AuthorizeURL string
	ClientID     string
	RedirectURI  string
	Scope        string
	StateTTL     time.Duration
}

// Manager generates authorization requests, binds single-use CSRF state,
// and exchanges authorization codes and refresh tokens.
type Manager struct {
	cfg     FlowConfig
	store   store.Store
	client  TokenClient
	logger  *slog.Logger
	now     func() time.Time
	refresh singleflight.Group
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger for the Manager.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a flow Manager.
func NewManager(cfg FlowConfig, st store.Store, client TokenClient, opts ...ManagerOption) *Manager {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 5 * time.Minute
	}
	m := &Manager{
		cfg:    cfg,
		store:  st,
		client: client,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartResult carries the redirect target for a new authorization attempt.
type StartResult struct {
	RedirectURL string
	State       string
}

// Start creates a new authorization state, persists it, and builds the
// provider authorize URL. No network call blocks this operation.
func (m *Manager) Start(ctx context.Context) (*StartResult, error) {
	token, err := randomToken(stateTokenLength)
	if err != nil {
		return nil, pberrors.Internal("failed to generate state token", err)
	}

	state := AuthorizationState{
		Token:     token,
		ClientID:  m.cfg.ClientID,
		CreatedAt: m.now().UTC(),
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return nil, pberrors.Internal("failed to encode state", err)
	}

	if err := m.store.Set(ctx, statePrefix+token, payload, m.cfg.StateTTL); err != nil {
		return nil, pberrors.Internal("failed to persist state", err)
	}

	authURL, err := url.Parse(m.cfg.AuthorizeURL)
	if err != nil {
		return nil, pberrors.Internal("invalid authorize URL", err)
	}
	params := authURL.Query()
	params.Set("client_id", m.cfg.ClientID)
	params.Set("redirect_uri", m.cfg.RedirectURI)
	params.Set("response_type", "code")
	params.Set("state", token)
	if m.cfg.Scope != "" {
		params.Set("scope", m.cfg.Scope)
	}
	authURL.RawQuery = params.Encode()

	return &StartResult{
		RedirectURL: authURL.String(),
		State:       token,
	}, nil
}

// Complete validates and consumes the state, then exchanges the code for a
// token pair. The state is deleted before the exchange so a crashed or
// cancelled exchange can never be replayed with the same state.
func (m *Manager) Complete(ctx context.Context, code, stateToken string) (*TokenPair, error) {
	if code == "" || stateToken == "" {
		return nil, pberrors.InvalidRequest("code and state are required")
	}

	// Single-use enforcement: fetch-and-remove is atomic, so concurrent
	// callbacks racing on the same state see exactly one winner.
	payload, err := m.store.GetDelete(ctx, statePrefix+stateToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, pberrors.InvalidOrExpiredState()
		}
		return nil, pberrors.Internal("failed to load state", err)
	}

	var state AuthorizationState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, pberrors.Internal("failed to decode state", err)
	}
	if state.ClientID != m.cfg.ClientID {
		return nil, pberrors.InvalidOrExpiredState()
	}
	if m.now().After(state.CreatedAt.Add(m.cfg.StateTTL)) {
		// Store TTL normally reaps this first; same error either way so
		// callers cannot probe for state existence.
		return nil, pberrors.InvalidOrExpiredState()
	}

	pair, err := m.client.Exchange(ctx, code)
	if err != nil {
		// Consumed state is not restored; the client restarts from Start.
		m.logger.Warn("token exchange failed", "error", err)
		return nil, pberrors.Wrap(err, pberrors.CodeTokenExchangeFailed, "authorization code exchange failed")
	}

	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. Concurrent calls with
// the same refresh token share a single in-flight exchange, since the
// provider invalidates a refresh token on first use.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, pberrors.InvalidRequest("refresh_token is required")
	}

	result, err, _ := m.refresh.Do(refreshToken, func() (any, error) {
		return m.client.Refresh(ctx, refreshToken)
	})
	if err != nil {
		m.logger.Warn("token refresh failed", "error", err)
		return nil, pberrors.Wrap(err, pberrors.CodeRefreshFailed, "refresh token exchange failed")
	}

	return result.(*TokenPair), nil
}

// randomToken returns n bytes of cryptographically secure randomness,
// base64url encoded.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
