package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidGrant marks a provider rejection of the grant itself (bad or
// spent code/refresh token) as opposed to a transport or server failure.
var ErrInvalidGrant = errors.New("invalid grant")

// TokenClient performs the outbound token exchanges against the OAuth
// provider. Both calls are network-bound and honor the request context.
type TokenClient interface {
	Exchange(ctx context.Context, code string) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
}

// ClientConfig holds the provider endpoints and credentials.
type ClientConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// Timeout bounds each provider call. Defaults to 30s.
	Timeout time.Duration
}

// HTTPTokenClient is the default TokenClient over plain HTTP form posts
// (RFC 6749 §4.1.3 and §6).
type HTTPTokenClient struct {
	cfg        ClientConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewHTTPTokenClient constructs the default TokenClient.
func NewHTTPTokenClient(cfg ClientConfig) *HTTPTokenClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPTokenClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
}

// Exchange swaps an authorization code for a token pair.
func (c *HTTPTokenClient) Exchange(ctx context.Context, code string) (*TokenPair, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.cfg.RedirectURI)
	return c.post(ctx, data)
}

// Refresh swaps a refresh token for a new token pair.
func (c *HTTPTokenClient) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	return c.post(ctx, data)
}

// tokenResponse is the provider's wire format.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (c *HTTPTokenClient) post(ctx context.Context, data url.Values) (*TokenPair, error) {
	data.Set("client_id", c.cfg.ClientID)
	if c.cfg.ClientSecret != "" {
		data.Set("client_secret", c.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: provider returned %d: %s", ErrInvalidGrant, resp.StatusCode, truncate(string(body), 256))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(string(body), 256))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("provider response missing access_token")
	}

	pair := &TokenPair{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
	}
	if tr.ExpiresIn > 0 {
		pair.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return pair, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
