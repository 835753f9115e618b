// Package config handles application configuration via environment variables.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the chatbot backend.
type Config struct {
	// Server settings
	Host string `env:"PB_HOST" env-default:"0.0.0.0"`
	Port int    `env:"PB_PORT" env-default:"8080"`

	// OAuth provider settings (ChurchSuite)
	OAuthClientID     string `env:"PB_OAUTH_CLIENT_ID"`
	OAuthClientSecret string `env:"PB_OAUTH_CLIENT_SECRET"`
	OAuthAuthorizeURL string `env:"PB_OAUTH_AUTHORIZE_URL"`
	OAuthTokenURL     string `env:"PB_OAUTH_TOKEN_URL"`
	OAuthRedirectURI  string `env:"PB_OAUTH_REDIRECT_URI"`
	OAuthScope        string `env:"PB_OAUTH_SCOPE" env-default:"full_access"`

	// Provider call timeout (token exchange and refresh)
	ProviderTimeout time.Duration `env:"PB_PROVIDER_TIMEOUT" env-default:"30s"`
	// How long unused provider credentials are retained
	ProviderTokenTTL time.Duration `env:"PB_PROVIDER_TOKEN_TTL" env-default:"168h"`

	// State settings
	StateTTL time.Duration `env:"PB_STATE_TTL" env-default:"5m"`

	// Session token settings
	SessionSecret   string        `env:"PB_SESSION_SECRET"`
	SessionLifetime time.Duration `env:"PB_SESSION_LIFETIME" env-default:"30m"`
	SessionIssuer   string        `env:"PB_SESSION_ISSUER" env-default:"parishbot"`

	// Rate limiting
	RateLimitDefault int           `env:"PB_RATE_LIMIT_DEFAULT" env-default:"100"`
	RateLimitWindow  time.Duration `env:"PB_RATE_LIMIT_WINDOW" env-default:"60s"`
	// Per-route overrides. Format: "/chat:30,/people/search:60"
	RateLimitRoutes string `env:"PB_RATE_LIMIT_ROUTES"`
	// Per-identity overrides. Format: "user-1:500,batch-bot:1000"
	RateLimitIdentities string `env:"PB_RATE_LIMIT_IDENTITIES"`

	// Store backend: "memory" or "redis"
	StoreBackend  string `env:"PB_STORE_BACKEND" env-default:"memory"`
	RedisAddr     string `env:"PB_REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"PB_REDIS_PASSWORD"`
	RedisDB       int    `env:"PB_REDIS_DB" env-default:"0"`

	// ChurchSuite REST API
	ChurchSuiteBaseURL string        `env:"PB_CHURCHSUITE_BASE_URL"`
	ChurchSuiteTimeout time.Duration `env:"PB_CHURCHSUITE_TIMEOUT" env-default:"15s"`

	// LLM provider
	LLMEndpoint string        `env:"PB_LLM_ENDPOINT"`
	LLMAPIKey   string        `env:"PB_LLM_API_KEY"`
	LLMModel    string        `env:"PB_LLM_MODEL" env-default:"gpt-4o-mini"`
	LLMTimeout  time.Duration `env:"PB_LLM_TIMEOUT" env-default:"60s"`

	// CORS. Format: "https://app.example.com,https://staging.example.com"
	CORSOrigins string `env:"PB_CORS_ORIGINS"`

	// Logging
	LogLevel  string `env:"PB_LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"PB_LOG_FORMAT" env-default:"json"` // json or text

	// Internal flags (not from env)
	SessionSecretGenerated bool `env:"-"` // True if secret was auto-generated
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Generate random session secret if not provided
	if cfg.SessionSecret == "" {
		secret, err := generateRandomSecret(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		cfg.SessionSecret = secret
		cfg.SessionSecretGenerated = true
	}

	if cfg.StoreBackend != "memory" && cfg.StoreBackend != "redis" {
		return nil, fmt.Errorf("unknown store backend: %q", cfg.StoreBackend)
	}

	return &cfg, nil
}

// Addr returns the server address in host:port format.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// generateRandomSecret generates a cryptographically secure random string.
func generateRandomSecret(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// ParseRouteLimits parses the PB_RATE_LIMIT_ROUTES environment variable.
// Format: "/chat:30,/people/search:60"
func (c *Config) ParseRouteLimits() map[string]int {
	return parseLimitOverrides(c.RateLimitRoutes)
}

// ParseIdentityLimits parses the PB_RATE_LIMIT_IDENTITIES environment variable.
// Format: "user-1:500,batch-bot:1000"
func (c *Config) ParseIdentityLimits() map[string]int {
	return parseLimitOverrides(c.RateLimitIdentities)
}

// ParseCORSOrigins parses the PB_CORS_ORIGINS environment variable.
func (c *Config) ParseCORSOrigins() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	var origins []string
	for _, origin := range strings.Split(c.CORSOrigins, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func parseLimitOverrides(raw string) map[string]int {
	if raw == "" {
		return nil
	}

	limits := make(map[string]int)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idx := strings.LastIndex(entry, ":")
		if idx <= 0 || idx == len(entry)-1 {
			continue
		}
		key := strings.TrimSpace(entry[:idx])
		limit, err := strconv.Atoi(strings.TrimSpace(entry[idx+1:]))
		if err != nil || limit <= 0 {
			continue
		}
		limits[key] = limit
	}
	if len(limits) == 0 {
		return nil
	}
	return limits
}
