package handlers

import (
	"encoding/json"
	"net/http"

	"veostudio/internal/generation"
	"veostudio/internal/store"
	"veostudio/pkg/api"

	"github.com/google/uuid"
)

// GenerationCallback handles POST /callbacks/generation.
// Called by the generation worker with the final result of a scene.
// Duplicate and stale results are acknowledged with applied=false.
func (h *Handlers) GenerationCallback(w http.ResponseWriter, r *http.Request) {
	var req api.GenerationCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Normalize()

	sceneID, err := uuid.Parse(req.SceneID)
	if err != nil {
		h.httpError(w, "Invalid scene id", http.StatusBadRequest)
		return
	}

	var out generation.Outcome
	switch store.SceneStatus(req.Status) {
	case store.SceneStatusCompleted:
		out.Success = true
	case store.SceneStatusFailed:
	default:
		h.httpError(w, "Status must be completed or failed", http.StatusBadRequest)
		return
	}
	out.ArtifactURL = req.VideoURL
	out.ThumbnailURL = req.ThumbnailURL
	out.ErrorMessage = req.ErrorMessage
	out.ProcessingMs = req.ProcessingTimeMs
	out.Attempt = req.Attempt
	if req.QueueEntryID != "" {
		if out.QueueEntryID, err = uuid.Parse(req.QueueEntryID); err != nil {
			h.httpError(w, "Invalid queue entry id", http.StatusBadRequest)
			return
		}
	}

	res, err := h.gen.OnCallback(r.Context(), sceneID, out)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.CallbackResponse{
		Applied:         res.Applied,
		Status:          string(res.Status),
		RetryCount:      res.RetryCount,
		Refunded:        res.Refunded,
		StitchTriggered: res.StitchTriggered,
	})
}

// AckGeneration handles POST /callbacks/generation/{sceneId}/ack.
// The worker calls it when it has accepted the scene.
func (h *Handlers) AckGeneration(w http.ResponseWriter, r *http.Request) {
	sceneID, ok := pathID(r, "sceneId")
	if !ok {
		h.httpError(w, "Invalid scene id", http.StatusBadRequest)
		return
	}
	acked, err := h.gen.Ack(r.Context(), sceneID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.AckResponse{Acked: acked})
}

// StitchCallback handles POST /callbacks/stitch.
func (h *Handlers) StitchCallback(w http.ResponseWriter, r *http.Request) {
	var req api.StitchCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		h.httpError(w, "Invalid project id", http.StatusBadRequest)
		return
	}

	var out generation.StitchOutcome
	switch store.ProjectStatus(req.Status) {
	case store.ProjectStatusCompleted:
		out.Success = true
	case store.ProjectStatusFailed:
	default:
		h.httpError(w, "Status must be completed or failed", http.StatusBadRequest)
		return
	}
	out.FinalArtifactURL = req.FinalArtifactURL
	out.ErrorMessage = req.ErrorMessage

	applied, err := h.gen.OnStitchComplete(r.Context(), projectID, out)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.StitchCallbackResponse{Applied: applied})
}
