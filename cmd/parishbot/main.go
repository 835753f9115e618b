// Package main is the entry point for the parishbot chatbot backend.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/parishbot/parishbot/internal/chat"
	"github.com/parishbot/parishbot/internal/churchsuite"
	"github.com/parishbot/parishbot/internal/config"
	"github.com/parishbot/parishbot/internal/httpapi"
	"github.com/parishbot/parishbot/internal/oauth"
	"github.com/parishbot/parishbot/internal/ratelimit"
	"github.com/parishbot/parishbot/internal/store"
	memorystore "github.com/parishbot/parishbot/internal/store/memory"
	redisstore "github.com/parishbot/parishbot/internal/store/redis"
	"github.com/parishbot/parishbot/internal/token"
)

func main() {
	// Load .env if present (no-op otherwise)
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if cfg.SessionSecretGenerated {
		logger.Warn("PB_SESSION_SECRET not set; generated an ephemeral secret, sessions will not survive restarts")
	}

	// Initialize store
	var st store.Store
	switch cfg.StoreBackend {
	case "redis":
		rs := redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rs.Ping(ctx); err != nil {
			cancel()
			logger.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		cancel()
		st = rs
	default:
		st = memorystore.New()
	}
	defer st.Close()

	logger.Info("initialized store", "backend", cfg.StoreBackend)

	// Provider-facing clients
	tokenClient := oauth.NewHTTPTokenClient(oauth.ClientConfig{
		TokenURL:     cfg.OAuthTokenURL,
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURI:  cfg.OAuthRedirectURI,
		Timeout:      cfg.ProviderTimeout,
	})

	var csClient churchsuite.Client
	if cfg.ChurchSuiteBaseURL != "" {
		csClient = churchsuite.NewHTTPClient(cfg.ChurchSuiteBaseURL, cfg.ChurchSuiteTimeout)
	}

	completer := chat.NewHTTPCompleter(chat.Config{
		Endpoint: cfg.LLMEndpoint,
		APIKey:   cfg.LLMAPIKey,
		Model:    cfg.LLMModel,
		Timeout:  cfg.LLMTimeout,
	})

	// Gatekeeping components
	flow := oauth.NewManager(oauth.FlowConfig{
		AuthorizeURL: cfg.OAuthAuthorizeURL,
		ClientID:     cfg.OAuthClientID,
		RedirectURI:  cfg.OAuthRedirectURI,
		Scope:        cfg.OAuthScope,
		StateTTL:     cfg.StateTTL,
	}, st, tokenClient, oauth.WithLogger(logger))

	tokens := token.NewService(cfg.SessionSecret, cfg.SessionLifetime, cfg.SessionIssuer)

	limiter := ratelimit.New(ratelimit.Config{
		DefaultLimit:   cfg.RateLimitDefault,
		Window:         cfg.RateLimitWindow,
		RouteLimits:    cfg.ParseRouteLimits(),
		IdentityLimits: cfg.ParseIdentityLimits(),
	}, st, ratelimit.WithLogger(logger))

	creds := oauth.NewCredentialStore(st, cfg.ProviderTokenTTL)
	source := oauth.NewTokenSource(creds, flow)

	// HTTP server
	opts := []httpapi.Option{httpapi.WithLogger(logger)}
	if origins := cfg.ParseCORSOrigins(); len(origins) > 0 {
		corsConfig := httpapi.DefaultCORSConfig()
		corsConfig.AllowedOrigins = origins
		opts = append(opts, httpapi.WithCORS(corsConfig))
	}
	server := httpapi.NewServer(cfg.Addr(), opts...)

	gate := httpapi.NewGatekeeper(tokens, limiter)
	authHandler := httpapi.NewAuthHandler(flow, tokens, creds, csClient, logger)
	apiHandler := httpapi.NewAPIHandler(csClient, completer, source, logger)
	httpapi.RegisterRoutes(server.Router(), gate, authHandler, apiHandler)

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("server started", "addr", cfg.Addr())

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
