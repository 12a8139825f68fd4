// Package main is the entry point for the VeoStudio worker. It delivers
// stitch requests from the outbox and settles stale generations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"veostudio/internal/config"
	"veostudio/internal/events"
	"veostudio/internal/generation"
	"veostudio/internal/logger"
	"veostudio/internal/observability"
	"veostudio/internal/store/postgres"
	"veostudio/internal/webhook"
	"veostudio/internal/worker"
	"veostudio/pkg/httputil"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: veostudio.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appLog := logger.New(cfg.LogLevel)
	if cfg.StitcherURL == "" {
		log.Fatal("STITCHER_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer store.Close()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "veostudio-worker", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	// Metrics
	metrics, err := observability.InitMetrics("veostudio-worker")
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := metrics.Shutdown(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	// Scenes settled by the sweeper reach controller feeds through Redis.
	var publisher events.Publisher = events.Discard{}
	if cfg.RedisURL != "" {
		rdb, err := events.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		publisher = events.NewRedisBroker(rdb, events.NewHub(), appLog)
	} else {
		log.Println("REDIS_URL not set, sweeper updates will not reach live feeds")
	}

	// The worker never dispatches, so the service runs without a worker
	// client. It only builds stitch requests and sweeps stale entries.
	callbackBase := strings.TrimRight(cfg.PublicCallbackURL, "/")
	gen := generation.New(generation.Deps{
		Store:   store,
		Events:  publisher,
		Metrics: metrics.Instruments,
		Logger:  appLog,
	}, generation.Config{
		GenerationCost:    cfg.GenerationCost,
		RegenerationCost:  cfg.RegenerationCost,
		ScenesPerProject:  cfg.ScenesPerProject,
		CallbackURL:       callbackBase + "/callbacks/generation",
		StitchCallbackURL: callbackBase + "/callbacks/stitch",
		StaleTimeout:      cfg.StaleSceneTimeout,
	})

	stitcher := webhook.NewStitchClient(cfg.StitcherURL, cfg.DispatchTimeout, httputil.DefaultRetryConfig())
	relay := worker.NewRelay(store, gen, stitcher, worker.RelayConfig{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
		MaxBackoff:   cfg.WorkerMaxBackoff,
	}, appLog)
	sweeper := worker.NewSweeper(gen, cfg.WorkerPollInterval, cfg.WorkerMaxBackoff, appLog)

	log.Printf("Worker started with concurrency %d", cfg.WorkerConcurrency)
	go relay.Run(ctx)
	go sweeper.Run(ctx)

	// Dedicated metrics server
	metricsAddr := fmt.Sprintf(":%d", cfg.WorkerMetricsPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler)
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("Worker metrics listening on %s", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()

	<-relay.Done()
	<-sweeper.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
