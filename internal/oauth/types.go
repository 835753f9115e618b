package oauth

import "time"

// AuthorizationState represents one in-flight authorization attempt. The
// token doubles as the OAuth state parameter and the CSRF anti-forgery
// token, and is valid for exactly one successful exchange.
type AuthorizationState struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"client_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenPair is the provider-issued credential pair from the
// authorization-code or refresh-token exchange.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is past its expiry.
func (p *TokenPair) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// ExpiresIn returns the seconds until the access token expires.
func (p *TokenPair) ExpiresIn(now time.Time) int64 {
	if p.ExpiresAt.IsZero() {
		return 0
	}
	d := p.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return int64(d.Seconds())
}
