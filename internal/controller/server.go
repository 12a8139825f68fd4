// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"net/http"
	"time"

	"veostudio/internal/auth"
	"veostudio/internal/controller/handlers"
	"veostudio/internal/controller/middleware"
)

// Options configure authentication and limits of the API.
type Options struct {
	Tokens         *auth.Tokens
	InternalSecret string // worker, stitcher and signup hook
	PaymentSecret  string // payment provider webhook
	RateLimit      float64
	RateLimitBurst int
	Metrics        http.Handler // nil disables /metrics
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
	limiter    *middleware.RateLimiter
}

// New creates a new controller server.
func New(addr string, h *handlers.Handlers, opts Options) *Server {
	limiter := middleware.NewRateLimiter(
		middleware.WithLimit(opts.RateLimit, opts.RateLimitBurst),
		middleware.WithTTL(5*time.Minute),
	)
	authMW := middleware.AuthMiddleware(opts.Tokens)
	rateMW := limiter.Middleware()
	user := func(fn http.HandlerFunc) http.Handler {
		return authMW(rateMW(fn))
	}
	internal := middleware.RequireInternalAuth(opts.InternalSecret)
	payments := middleware.RequirePaymentAuth(opts.PaymentSecret)

	mux := http.NewServeMux()

	// Probes
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	// Public authenticated apis
	mux.Handle("POST /projects", user(h.CreateProject))
	mux.Handle("GET /projects/{id}", user(h.GetProject))
	mux.Handle("POST /projects/{id}/reorder", user(h.ReorderScenes))
	mux.Handle("GET /projects/{id}/queue", user(h.GetQueue))
	mux.Handle("GET /projects/{id}/feed", authMW(http.HandlerFunc(h.Feed)))
	mux.Handle("PATCH /scenes/{id}", user(h.UpdateScene))
	mux.Handle("POST /scenes/{id}/generate", user(h.Generate))
	mux.Handle("POST /scenes/bulk-generate", user(h.BulkGenerate))
	mux.Handle("POST /scenes/{id}/suggestions", user(h.Suggestions))
	mux.Handle("POST /scenes/{id}/thumbnail", user(h.Thumbnail))
	mux.Handle("GET /credits", user(h.GetBalance))
	mux.Handle("GET /credits/ledger", user(h.GetLedger))
	mux.HandleFunc("GET /credits/packages", h.ListPackages)

	// Callbacks from the generation worker and the stitcher
	mux.Handle("POST /callbacks/generation", internal(http.HandlerFunc(h.GenerationCallback)))
	mux.Handle("POST /callbacks/generation/{sceneId}/ack", internal(http.HandlerFunc(h.AckGeneration)))
	mux.Handle("POST /callbacks/stitch", internal(http.HandlerFunc(h.StitchCallback)))

	// Internal endpoints
	// these should run on a separate port or strict network rules.
	mux.Handle("POST /internal/accounts", internal(http.HandlerFunc(h.CreateAccount)))
	mux.Handle("POST /internal/accounts/{id}/verify", internal(http.HandlerFunc(h.VerifyLedger)))
	mux.Handle("POST /internal/accounts/{id}/reconcile", internal(http.HandlerFunc(h.ReconcileLedger)))

	mux.Handle("POST /webhooks/payments", payments(http.HandlerFunc(h.PaymentWebhook)))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      middleware.RequestID(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		limiter: limiter,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()

	for {
		select {
		case err := <-serverErr:
			return err
		case <-sweep.C:
			s.limiter.Sweep()
		case <-ctx.Done():
			shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			return s.Shutdown(shutDownCtx)
		}
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
