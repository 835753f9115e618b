// Package ratelimit bounds the request rate per identity and route using a
// fixed-window counter held in the shared store.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parishbot/parishbot/internal/metrics"
	"github.com/parishbot/parishbot/internal/store"
)

const counterPrefix = "rl:"

// Config holds limiter settings.
type Config struct {
	// DefaultLimit is the permitted request count per window.
	DefaultLimit int
	// Window is the fixed window duration.
	Window time.Duration
	// RouteLimits overrides the limit for specific routes.
	RouteLimits map[string]int
	// IdentityLimits overrides the limit for specific identities.
	IdentityLimits map[string]int
}

// Result is the outcome of a rate-limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter checks and increments per-(identity, route) counters. The
// increment-and-check is a single atomic store operation, so two requests
// racing for the last slot can never both be admitted.
type Limiter struct {
	cfg    Config
	store  store.Store
	logger *slog.Logger
}

// Option configures the Limiter.
type Option func(*Limiter)

// WithLogger sets the logger for the Limiter.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// New creates a Limiter.
func New(cfg Config, st store.Store, opts ...Option) *Limiter {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	l := &Limiter{
		cfg:    cfg,
		store:  st,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// limitFor resolves the limit for (key, route). Route overrides win over
// identity overrides, which win over the default.
func (l *Limiter) limitFor(key, route string) int {
	if limit, ok := l.cfg.RouteLimits[route]; ok {
		return limit
	}
	if limit, ok := l.cfg.IdentityLimits[key]; ok {
		return limit
	}
	return l.cfg.DefaultLimit
}

// Check counts this request against the (key, route) window. Rate limiting
// is protective rather than correctness-critical, so a store failure fails
// open: the request is allowed and the degradation is logged.
func (l *Limiter) Check(ctx context.Context, key, route string) Result {
	limit := l.limitFor(key, route)
	counterKey := fmt.Sprintf("%s%s:%s", counterPrefix, key, route)

	count, remaining, err := l.store.IncrWindow(ctx, counterKey, l.cfg.Window)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, failing open",
			"key", key, "route", route, "error", err)
		metrics.RecordRateLimitStoreError()
		return Result{Allowed: true, Limit: limit, Remaining: int64(limit)}
	}

	if count > int64(limit) {
		metrics.RecordRateLimitRejection(route)
		return Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: remaining,
		}
	}

	left := int64(limit) - count
	if left < 0 {
		left = 0
	}
	return Result{Allowed: true, Limit: limit, Remaining: left}
}
