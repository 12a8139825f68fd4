package handlers

import (
	"context"
	"net/http"
	"time"
)

// readyTimeout bounds the database ping of the readiness probe.
const readyTimeout = 2 * time.Second

// Healthz is a liveness probe. It does not touch dependencies.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports whether the controller can serve generation traffic.
// Dispatch, callbacks and the ledger all need the database.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	start := time.Now()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.httpError(w, "Database unavailable", http.StatusServiceUnavailable)
		return
	}
	h.respondJson(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"dbLatencyMs":   time.Since(start).Milliseconds(),
		"assistEnabled": h.assist != nil,
	})
}
