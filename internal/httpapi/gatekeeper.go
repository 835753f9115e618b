package httpapi

import (
	"context"
	"net/http"
	"strings"

	pberrors "github.com/parishbot/parishbot/internal/errors"
	"github.com/parishbot/parishbot/internal/metrics"
	"github.com/parishbot/parishbot/internal/ratelimit"
	"github.com/parishbot/parishbot/internal/token"
)

type contextKey string

const identityContextKey contextKey = "identity"

// exemptRoutes are the endpoints that obtain or refresh a token. They can
// neither require a token nor be rate limited: a client legitimately
// retries the authorization dance.
var exemptRoutes = map[string]bool{
	"/auth/start":    true,
	"/auth/callback": true,
	"/auth/refresh":  true,
	"/healthz":       true,
	"/readyz":        true,
	"/metrics":       true,
}

// Gatekeeper runs the fixed request-processing chain in front of protected
// handlers: exempt short-circuit, bearer verification, rate limiting. A
// failure at any stage stops the chain; the handler never runs on a
// rejected request.
type Gatekeeper struct {
	tokens  *token.Service
	limiter *ratelimit.Limiter
}

// NewGatekeeper creates a Gatekeeper.
func NewGatekeeper(tokens *token.Service, limiter *ratelimit.Limiter) *Gatekeeper {
	return &Gatekeeper{
		tokens:  tokens,
		limiter: limiter,
	}
}

// Middleware returns the gatekeeping middleware.
func (g *Gatekeeper) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptRoutes[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := g.authenticate(r)
		if err != nil {
			reason := messageOf(err)
			metrics.RecordSessionVerification(reason)
			writeError(w, http.StatusUnauthorized, pberrors.CodeUnauthenticated, reason)
			return
		}
		metrics.RecordSessionVerification("ok")

		result := g.limiter.Check(r.Context(), rateLimitKey(r, identity), r.URL.Path)
		if !result.Allowed {
			writeRateLimited(w, result.RetryAfter)
			return
		}

		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}

// authenticate extracts and verifies the bearer token.
func (g *Gatekeeper) authenticate(r *http.Request) (*token.Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, pberrors.Unauthenticated(pberrors.ReasonMissingHeader)
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return nil, pberrors.Unauthenticated(pberrors.ReasonMalformedToken)
	}

	return g.tokens.Verify(parts[1])
}

// rateLimitKey keys the counter by verified identity, falling back to the
// network address when no identity is available.
func rateLimitKey(r *http.Request, identity *token.Identity) string {
	if identity != nil && identity.Subject != "" {
		return identity.Subject
	}
	return r.RemoteAddr
}

func withIdentity(ctx context.Context, identity *token.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext returns the verified identity the gatekeeper attached
// to the request.
func IdentityFromContext(ctx context.Context) (*token.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*token.Identity)
	return identity, ok
}
