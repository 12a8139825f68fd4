// Package main is the entry point for the VeoStudio controller: the HTTP API,
// generation callbacks and the live project feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"veostudio/internal/assist"
	"veostudio/internal/auth"
	"veostudio/internal/config"
	"veostudio/internal/controller"
	"veostudio/internal/controller/handlers"
	"veostudio/internal/events"
	"veostudio/internal/generation"
	"veostudio/internal/ledger"
	"veostudio/internal/logger"
	"veostudio/internal/observability"
	"veostudio/internal/store/postgres"
	"veostudio/internal/webhook"

	"go.opentelemetry.io/otel"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: veostudio.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appLog := logger.New(cfg.LogLevel)
	if err := cfg.RequireSecrets(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer store.Close()

	if *migrateFlag {
		log.Println("Running database migrations...")
		version, err := postgres.Migrate(store.DB())
		if err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Printf("Migrations completed successfully (schema version %d)", version)
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "veostudio-controller", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	// Metrics
	metrics, err := observability.InitMetrics("veostudio-controller")
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := metrics.Shutdown(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()
	if err := observability.RegisterQueueDepth(otel.Meter("veostudio-controller"), store.CountActiveQueueEntries); err != nil {
		log.Printf("Failed to register queue depth metric: %v", err)
	}

	// Events fan out through Redis when configured so every replica's
	// feed sees every update.
	hub := events.NewHub()
	var publisher events.Publisher = hub
	if cfg.RedisURL != "" {
		rdb, err := events.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		broker := events.NewRedisBroker(rdb, hub, appLog)
		publisher = broker
		go func() {
			if err := broker.Run(ctx); err != nil {
				log.Printf("Redis relay stopped: %v", err)
			}
		}()
	}

	srv, err := buildServer(cfg, store, hub, publisher, metrics, appLog)
	if err != nil {
		log.Fatalf("Failed to build server: %v", err)
	}

	go func() {
		log.Printf("VeoStudio controller starting on :%d", cfg.HTTPPort)
		if err := srv.Run(ctx); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down controller...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited properly")
}

// controllerStore is everything the API needs from persistence.
type controllerStore interface {
	generation.Store
	handlers.Pinger
}

// buildServer wires the ledger, the generation core, AI assistance and the
// handlers into an HTTP server. metrics may be nil.
func buildServer(cfg *config.Config, st controllerStore, hub *events.Hub, publisher events.Publisher, metrics *observability.Metrics, appLog *slog.Logger) (*controller.Server, error) {
	callbackBase := strings.TrimRight(cfg.PublicCallbackURL, "/")
	l := ledger.New(st, appLog)

	deps := generation.Deps{
		Store:  st,
		Ledger: l,
		Worker: webhook.NewWorkerClient(cfg.WorkerWebhookURL, cfg.DispatchTimeout, nil),
		Events: publisher,
		Logger: appLog,
	}
	var metricsHandler http.Handler
	if metrics != nil {
		deps.Metrics = metrics.Instruments
		metricsHandler = metrics.Handler
	}
	gen := generation.New(deps, generation.Config{
		GenerationCost:    cfg.GenerationCost,
		RegenerationCost:  cfg.RegenerationCost,
		ScenesPerProject:  cfg.ScenesPerProject,
		CallbackURL:       callbackBase + "/callbacks/generation",
		StitchCallbackURL: callbackBase + "/callbacks/stitch",
		StaleTimeout:      cfg.StaleSceneTimeout,
	})

	var llm assist.LLM
	if cfg.GroqAPIKey != "" {
		g, err := assist.NewGroqLLM(cfg.GroqAPIKey, cfg.GroqModel, "")
		if err != nil {
			return nil, fmt.Errorf("create groq client: %w", err)
		}
		llm = g
	}
	var images assist.ImageGenerator
	if cfg.ImageAPIURL != "" {
		images = assist.NewImageClient(cfg.ImageAPIURL, cfg.ImageAPIToken, &http.Client{Timeout: 60 * time.Second})
	}
	helpers := assist.New(gen, l, llm, images, assist.Config{
		ScriptCost:    cfg.AIScriptCost,
		ThumbnailCost: cfg.ThumbnailCost,
	}, appLog)

	h := handlers.New(handlers.Deps{
		Store:       st,
		Generation:  gen,
		Ledger:      l,
		Assist:      helpers,
		Hub:         hub,
		SignupBonus: cfg.SignupBonus,
		Logger:      appLog,
	})

	return controller.New(fmt.Sprintf(":%d", cfg.HTTPPort), h, controller.Options{
		Tokens:         auth.NewTokens(cfg.JWTSecret, 24*time.Hour),
		InternalSecret: cfg.InternalSecret,
		PaymentSecret:  cfg.PaymentSecret,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
		Metrics:        metricsHandler,
	}), nil
}
