// Package config loads service settings from an optional YAML file,
// a .env file and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port for the controller
	HTTPPort int

	// URL of the controller as seen by the worker binary
	ControllerURL string

	// Base URL the external worker and stitcher use to call back
	PublicCallbackURL string

	OTELEndpoint string

	// debug, info, warn or error
	LogLevel string

	// Secrets
	JWTSecret      string
	InternalSecret string
	PaymentSecret  string

	// Empty means events stay in-process.
	RedisURL string

	// External services
	WorkerWebhookURL string
	StitcherURL      string
	GroqAPIKey       string
	GroqModel        string
	ImageAPIURL      string
	ImageAPIToken    string

	// Prices in credits
	GenerationCost   decimal.Decimal
	RegenerationCost decimal.Decimal
	AIScriptCost     decimal.Decimal
	ThumbnailCost    decimal.Decimal
	SignupBonus      decimal.Decimal

	ScenesPerProject  int
	DispatchTimeout   time.Duration
	StaleSceneTimeout time.Duration

	// Worker loop settings
	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	WorkerMaxBackoff   time.Duration
	WorkerMetricsPort  int

	// Per-account request rate; 0 disables limiting
	RateLimit      float64
	RateLimitBurst int
}

// envBindings maps config keys to their environment variable names.
var envBindings = map[string]string{
	"database_url":         "DATABASE_URL",
	"http_port":            "PORT",
	"controller_url":       "CONTROLLER_URL",
	"public_callback_url":  "PUBLIC_CALLBACK_URL",
	"otel_endpoint":        "OTEL_EXPORTER_OTLP_ENDPOINT",
	"log_level":            "LOG_LEVEL",
	"jwt_secret":           "JWT_SECRET",
	"internal_secret":      "INTERNAL_SECRET",
	"payment_secret":       "PAYMENT_WEBHOOK_SECRET",
	"redis_url":            "REDIS_URL",
	"worker_webhook_url":   "WORKER_WEBHOOK_URL",
	"stitcher_url":         "STITCHER_URL",
	"groq_api_key":         "GROQ_API_KEY",
	"groq_model":           "GROQ_MODEL",
	"image_api_url":        "IMAGE_API_URL",
	"image_api_token":      "IMAGE_API_TOKEN",
	"generation_cost":      "GENERATION_COST",
	"regeneration_cost":    "REGENERATION_COST",
	"ai_script_cost":       "AI_SCRIPT_COST",
	"thumbnail_cost":       "THUMBNAIL_COST",
	"signup_bonus":         "SIGNUP_BONUS",
	"scenes_per_project":   "SCENES_PER_PROJECT",
	"dispatch_timeout":     "DISPATCH_TIMEOUT",
	"stale_scene_timeout":  "STALE_SCENE_TIMEOUT",
	"worker_concurrency":   "WORKER_CONCURRENCY",
	"worker_poll_interval": "WORKER_POLL_INTERVAL",
	"worker_max_backoff":   "WORKER_MAX_BACKOFF",
	"worker_metrics_port":  "WORKER_METRICS_PORT",
	"rate_limit":           "RATE_LIMIT",
	"rate_limit_burst":     "RATE_LIMIT_BURST",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 6161)
	v.SetDefault("controller_url", "http://localhost:6161")
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("log_level", "info")
	v.SetDefault("groq_model", "llama-3.3-70b-versatile")
	v.SetDefault("generation_cost", "0.98")
	v.SetDefault("regeneration_cost", "0.98")
	v.SetDefault("ai_script_cost", "0.01")
	v.SetDefault("thumbnail_cost", "0.01")
	v.SetDefault("signup_bonus", "0")
	v.SetDefault("scenes_per_project", 20)
	v.SetDefault("dispatch_timeout", 10*time.Second)
	v.SetDefault("stale_scene_timeout", 30*time.Minute)
	v.SetDefault("worker_concurrency", 1)
	v.SetDefault("worker_poll_interval", 1*time.Second)
	v.SetDefault("worker_max_backoff", 30*time.Second)
	v.SetDefault("worker_metrics_port", 6162)
	v.SetDefault("rate_limit", 5.0)
	v.SetDefault("rate_limit_burst", 10)
}

// Load reads configuration. path may be empty, in which case veostudio.yaml
// in the working directory is used if it exists.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("veostudio")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{
		DatabaseURL:        v.GetString("database_url"),
		HTTPPort:           v.GetInt("http_port"),
		ControllerURL:      strings.TrimRight(v.GetString("controller_url"), "/"),
		PublicCallbackURL:  strings.TrimRight(v.GetString("public_callback_url"), "/"),
		OTELEndpoint:       v.GetString("otel_endpoint"),
		LogLevel:           v.GetString("log_level"),
		JWTSecret:          v.GetString("jwt_secret"),
		InternalSecret:     v.GetString("internal_secret"),
		PaymentSecret:      v.GetString("payment_secret"),
		RedisURL:           v.GetString("redis_url"),
		WorkerWebhookURL:   v.GetString("worker_webhook_url"),
		StitcherURL:        v.GetString("stitcher_url"),
		GroqAPIKey:         v.GetString("groq_api_key"),
		GroqModel:          v.GetString("groq_model"),
		ImageAPIURL:        v.GetString("image_api_url"),
		ImageAPIToken:      v.GetString("image_api_token"),
		ScenesPerProject:   v.GetInt("scenes_per_project"),
		DispatchTimeout:    v.GetDuration("dispatch_timeout"),
		StaleSceneTimeout:  v.GetDuration("stale_scene_timeout"),
		WorkerConcurrency:  v.GetInt("worker_concurrency"),
		WorkerPollInterval: v.GetDuration("worker_poll_interval"),
		WorkerMaxBackoff:   v.GetDuration("worker_max_backoff"),
		WorkerMetricsPort:  v.GetInt("worker_metrics_port"),
		RateLimit:          v.GetFloat64("rate_limit"),
		RateLimitBurst:     v.GetInt("rate_limit_burst"),
	}

	if cfg.DatabaseURL == "" {
		return nil, required("database_url")
	}
	if cfg.PublicCallbackURL == "" {
		cfg.PublicCallbackURL = cfg.ControllerURL
	}
	if cfg.ScenesPerProject <= 0 {
		return nil, fmt.Errorf("invalid scenes_per_project: %d", cfg.ScenesPerProject)
	}
	if cfg.WorkerConcurrency <= 0 {
		return nil, fmt.Errorf("invalid worker_concurrency: %d", cfg.WorkerConcurrency)
	}

	prices := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"generation_cost", &cfg.GenerationCost},
		{"regeneration_cost", &cfg.RegenerationCost},
		{"ai_script_cost", &cfg.AIScriptCost},
		{"thumbnail_cost", &cfg.ThumbnailCost},
		{"signup_bonus", &cfg.SignupBonus},
	}
	for _, p := range prices {
		d, err := decimal.NewFromString(v.GetString(p.key))
		if err != nil || d.IsNegative() {
			return nil, fmt.Errorf("invalid %s: %q", p.key, v.GetString(p.key))
		}
		*p.dst = d
	}

	return cfg, nil
}

// RequireSecrets checks the secrets the controller cannot run without.
func (c *Config) RequireSecrets() error {
	secrets := []struct {
		key   string
		value string
	}{
		{"jwt_secret", c.JWTSecret},
		{"internal_secret", c.InternalSecret},
		{"payment_secret", c.PaymentSecret},
	}
	for _, s := range secrets {
		if s.value == "" {
			return required(s.key)
		}
	}
	return nil
}

func required(key string) error {
	return fmt.Errorf("%s is required (env: %s)", key, envBindings[key])
}
