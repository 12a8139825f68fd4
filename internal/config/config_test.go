package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	// Clear any existing env vars
	t.Setenv("DATABASE_URL", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
	if err.Error() != "database_url is required (env: DATABASE_URL)" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Check defaults
	if cfg.HTTPPort != 6161 {
		t.Errorf("expected HTTPPort 6161, got %d", cfg.HTTPPort)
	}
	if cfg.ControllerURL != "http://localhost:6161" {
		t.Errorf("expected ControllerURL http://localhost:6161, got %s", cfg.ControllerURL)
	}
	if cfg.PublicCallbackURL != cfg.ControllerURL {
		t.Errorf("expected PublicCallbackURL to default to ControllerURL, got %s", cfg.PublicCallbackURL)
	}
	if cfg.ScenesPerProject != 20 {
		t.Errorf("expected ScenesPerProject 20, got %d", cfg.ScenesPerProject)
	}
	if cfg.GenerationCost.String() != "0.98" || cfg.RegenerationCost.String() != "0.98" {
		t.Errorf("expected costs 0.98, got %s/%s", cfg.GenerationCost, cfg.RegenerationCost)
	}
	if cfg.AIScriptCost.String() != "0.01" || cfg.ThumbnailCost.String() != "0.01" {
		t.Errorf("expected assist costs 0.01, got %s/%s", cfg.AIScriptCost, cfg.ThumbnailCost)
	}
	if cfg.DispatchTimeout != 10*time.Second {
		t.Errorf("expected DispatchTimeout 10s, got %v", cfg.DispatchTimeout)
	}
	if cfg.StaleSceneTimeout != 30*time.Minute {
		t.Errorf("expected StaleSceneTimeout 30m, got %v", cfg.StaleSceneTimeout)
	}
	if cfg.WorkerConcurrency != 1 {
		t.Errorf("expected WorkerConcurrency 1, got %d", cfg.WorkerConcurrency)
	}
	if cfg.WorkerPollInterval != 1*time.Second {
		t.Errorf("expected WorkerPollInterval 1s, got %v", cfg.WorkerPollInterval)
	}
	if cfg.WorkerMaxBackoff != 30*time.Second {
		t.Errorf("expected WorkerMaxBackoff 30s, got %v", cfg.WorkerMaxBackoff)
	}
	if cfg.OTELEndpoint != "localhost:4317" {
		t.Errorf("expected OTELEndpoint localhost:4317, got %s", cfg.OTELEndpoint)
	}
	if cfg.RedisURL != "" {
		t.Errorf("expected empty RedisURL, got %s", cfg.RedisURL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel info, got %s", cfg.LogLevel)
	}
	if cfg.RateLimit != 5 || cfg.RateLimitBurst != 10 {
		t.Errorf("expected rate limit 5/10, got %v/%d", cfg.RateLimit, cfg.RateLimitBurst)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	tests := []struct {
		env   string
		value string
		check func(*Config) bool
	}{
		{"DATABASE_URL", "postgres://custom/db", func(c *Config) bool { return c.DatabaseURL == "postgres://custom/db" }},
		{"PORT", "9999", func(c *Config) bool { return c.HTTPPort == 9999 }},
		{"WORKER_CONCURRENCY", "5", func(c *Config) bool { return c.WorkerConcurrency == 5 }},
		{"WORKER_POLL_INTERVAL", "2s", func(c *Config) bool { return c.WorkerPollInterval == 2*time.Second }},
		{"CONTROLLER_URL", "http://custom:8080/", func(c *Config) bool {
			return c.ControllerURL == "http://custom:8080" && c.PublicCallbackURL == "http://custom:8080"
		}},
		{"PUBLIC_CALLBACK_URL", "https://studio.example.com/", func(c *Config) bool { return c.PublicCallbackURL == "https://studio.example.com" }},
		{"OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317", func(c *Config) bool { return c.OTELEndpoint == "otel-collector:4317" }},
		{"LOG_LEVEL", "debug", func(c *Config) bool { return c.LogLevel == "debug" }},
		{"GENERATION_COST", "1.25", func(c *Config) bool { return c.GenerationCost.String() == "1.25" }},
		{"SIGNUP_BONUS", "2.50", func(c *Config) bool { return c.SignupBonus.StringFixed(2) == "2.50" }},
		{"SCENES_PER_PROJECT", "12", func(c *Config) bool { return c.ScenesPerProject == 12 }},
		{"REDIS_URL", "redis://cache:6379/0", func(c *Config) bool { return c.RedisURL == "redis://cache:6379/0" }},
		{"RATE_LIMIT", "0", func(c *Config) bool { return c.RateLimit == 0 }},
		{"STALE_SCENE_TIMEOUT", "90m", func(c *Config) bool { return c.StaleSceneTimeout == 90*time.Minute }},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/test")
			t.Setenv(tt.env, tt.value)

			cfg, err := Load("")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("%s=%s not applied: %+v", tt.env, tt.value, cfg)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		env   string
		value string
	}{
		{"GENERATION_COST", "cheap"},
		{"THUMBNAIL_COST", "-0.01"},
		{"SCENES_PER_PROJECT", "0"},
		{"WORKER_CONCURRENCY", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/test")
			t.Setenv(tt.env, tt.value)

			if _, err := Load(""); err == nil {
				t.Errorf("expected error for %s=%s", tt.env, tt.value)
			}
		})
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	// Create temp config file
	tmpFile, err := os.CreateTemp("", "veostudio-test-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	configContent := `
database_url: "postgres://config-file/db"
http_port: 7777
worker_concurrency: 10
stale_scene_timeout: 45m
thumbnail_cost: "0.02"
`
	if _, err := tmpFile.WriteString(configContent); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	tmpFile.Close()

	// Clear env vars that would override
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
	t.Setenv("WORKER_CONCURRENCY", "")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://config-file/db" {
		t.Errorf("expected DatabaseURL from config file, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 7777 {
		t.Errorf("expected HTTPPort 7777, got %d", cfg.HTTPPort)
	}
	if cfg.WorkerConcurrency != 10 {
		t.Errorf("expected WorkerConcurrency 10, got %d", cfg.WorkerConcurrency)
	}
	if cfg.StaleSceneTimeout != 45*time.Minute {
		t.Errorf("expected StaleSceneTimeout 45m, got %v", cfg.StaleSceneTimeout)
	}
	if cfg.ThumbnailCost.String() != "0.02" {
		t.Errorf("expected ThumbnailCost 0.02, got %s", cfg.ThumbnailCost)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	// Create temp config file
	tmpFile, err := os.CreateTemp("", "veostudio-test-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	configContent := `
database_url: "postgres://from-file/db"
http_port: 7777
`
	if _, err := tmpFile.WriteString(configContent); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	tmpFile.Close()

	// Set env var to override config file
	t.Setenv("DATABASE_URL", "postgres://from-env/db")
	t.Setenv("PORT", "8888")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Env should override config file
	if cfg.DatabaseURL != "postgres://from-env/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 8888 {
		t.Errorf("expected HTTPPort 8888 from env, got %d", cfg.HTTPPort)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	_, err := Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent config file")
	}
}

func TestRequireSecrets(t *testing.T) {
	cfg := &Config{JWTSecret: "jwt", InternalSecret: "internal"}

	err := cfg.RequireSecrets()
	if err == nil || err.Error() != "payment_secret is required (env: PAYMENT_WEBHOOK_SECRET)" {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.PaymentSecret = "pay"
	if err := cfg.RequireSecrets(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
