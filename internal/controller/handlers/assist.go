package handlers

import (
	"net/http"

	"veostudio/internal/assist"
	"veostudio/internal/logger"
	"veostudio/pkg/api"
)

// Suggestions handles POST /scenes/{id}/suggestions.
// The charge is refunded when the model call fails.
func (h *Handlers) Suggestions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.account(w, r)
	if !ok {
		return
	}
	sceneID, ok := pathID(r, "id")
	if !ok {
		h.httpError(w, "Invalid scene id", http.StatusBadRequest)
		return
	}
	if h.assist == nil {
		h.serviceError(w, r, assist.ErrUnavailable)
		return
	}

	var req api.SuggestionsRequest
	if err := decodeOptional(r, &req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.assist.Suggest(r.Context(), accountID, sceneID, req.ProjectContext)
	if err != nil {
		h.assistError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.SuggestionsResponse{
		Suggestions: res.Suggestions,
		Cost:        money(res.Cost),
		Balance:     money(res.BalanceAfter),
	})
}

// Thumbnail handles POST /scenes/{id}/thumbnail.
func (h *Handlers) Thumbnail(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.account(w, r)
	if !ok {
		return
	}
	sceneID, ok := pathID(r, "id")
	if !ok {
		h.httpError(w, "Invalid scene id", http.StatusBadRequest)
		return
	}
	if h.assist == nil {
		h.serviceError(w, r, assist.ErrUnavailable)
		return
	}

	res, err := h.assist.Thumbnail(r.Context(), accountID, sceneID)
	if err != nil {
		h.assistError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.ThumbnailResponse{
		ThumbnailURL: res.URL,
		Cost:         money(res.Cost),
		Balance:      money(res.BalanceAfter),
	})
}

// assistError reports provider failures as 502; the charge has already
// been refunded by then.
func (h *Handlers) assistError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status != http.StatusInternalServerError {
		h.respondJson(w, status, body)
		return
	}
	logger.FromContext(r.Context(), h.logger).Warn("assist provider failed", "path", r.URL.Path, "error", err)
	h.respondJson(w, http.StatusBadGateway, api.ErrorResponse{
		Error: "Assistant request failed, credits refunded",
		Code:  api.CodeUpstreamFailed,
	})
}
