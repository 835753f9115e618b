package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Port)
	}
	if cfg.StateTTL != 5*time.Minute {
		t.Errorf("Expected default state TTL 5m, got %v", cfg.StateTTL)
	}
	if cfg.SessionLifetime != 30*time.Minute {
		t.Errorf("Expected default session lifetime 30m, got %v", cfg.SessionLifetime)
	}
	if cfg.RateLimitDefault != 100 {
		t.Errorf("Expected default rate limit 100, got %d", cfg.RateLimitDefault)
	}
	if cfg.RateLimitWindow != time.Minute {
		t.Errorf("Expected default rate window 60s, got %v", cfg.RateLimitWindow)
	}
	if cfg.StoreBackend != "memory" {
		t.Errorf("Expected default backend memory, got %q", cfg.StoreBackend)
	}
}

func TestLoadGeneratesSessionSecret(t *testing.T) {
	t.Setenv("PB_SESSION_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SessionSecret == "" {
		t.Fatal("Expected a generated session secret")
	}
	if !cfg.SessionSecretGenerated {
		t.Error("Expected SessionSecretGenerated flag")
	}

	other, err := Load()
	if err != nil {
		t.Fatalf("Second Load failed: %v", err)
	}
	if other.SessionSecret == cfg.SessionSecret {
		t.Error("Generated secrets should differ between loads")
	}
}

func TestLoadKeepsProvidedSecret(t *testing.T) {
	t.Setenv("PB_SESSION_SECRET", "configured-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SessionSecret != "configured-secret" {
		t.Errorf("Expected configured secret, got %q", cfg.SessionSecret)
	}
	if cfg.SessionSecretGenerated {
		t.Error("SessionSecretGenerated should be false for a provided secret")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("PB_STORE_BACKEND", "etcd")

	if _, err := Load(); err == nil {
		t.Error("Expected error for unknown store backend")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PB_PORT", "9090")
	t.Setenv("PB_SESSION_LIFETIME", "15m")
	t.Setenv("PB_STORE_BACKEND", "redis")
	t.Setenv("PB_REDIS_ADDR", "redis.internal:6380")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Port)
	}
	if cfg.SessionLifetime != 15*time.Minute {
		t.Errorf("Expected session lifetime 15m, got %v", cfg.SessionLifetime)
	}
	if cfg.StoreBackend != "redis" {
		t.Errorf("Expected redis backend, got %q", cfg.StoreBackend)
	}
	if cfg.RedisAddr != "redis.internal:6380" {
		t.Errorf("Expected redis addr override, got %q", cfg.RedisAddr)
	}
}

func TestAddr(t *testing.T) {
	cfg := &Config{Host: "127.0.0.1", Port: 8081}
	if got := cfg.Addr(); got != "127.0.0.1:8081" {
		t.Errorf("Expected 127.0.0.1:8081, got %q", got)
	}
}

func TestParseRouteLimits(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]int
	}{
		{"empty", "", nil},
		{"single", "/chat:30", map[string]int{"/chat": 30}},
		{
			"multiple with spaces",
			"/chat:30, /people/search:60",
			map[string]int{"/chat": 30, "/people/search": 60},
		},
		{"skips malformed entries", "/chat:30,broken,/me:abc,:5", map[string]int{"/chat": 30}},
		{"skips non-positive limits", "/chat:0,/me:-2", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{RateLimitRoutes: tt.raw}
			got := cfg.ParseRouteLimits()
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d entries, got %d: %v", len(tt.want), len(got), got)
			}
			for key, limit := range tt.want {
				if got[key] != limit {
					t.Errorf("Expected %s=%d, got %d", key, limit, got[key])
				}
			}
		})
	}
}

func TestParseIdentityLimits(t *testing.T) {
	cfg := &Config{RateLimitIdentities: "user-1:500,batch-bot:1000"}
	got := cfg.ParseIdentityLimits()
	if got["user-1"] != 500 || got["batch-bot"] != 1000 {
		t.Errorf("Unexpected identity limits: %v", got)
	}
}

func TestParseCORSOrigins(t *testing.T) {
	cfg := &Config{CORSOrigins: "https://app.example.com, https://staging.example.com,"}
	got := cfg.ParseCORSOrigins()
	if len(got) != 2 {
		t.Fatalf("Expected 2 origins, got %v", got)
	}
	if got[0] != "https://app.example.com" || got[1] != "https://staging.example.com" {
		t.Errorf("Unexpected origins: %v", got)
	}

	if (&Config{}).ParseCORSOrigins() != nil {
		t.Error("Expected nil for empty origin list")
	}
}
