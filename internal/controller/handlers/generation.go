package handlers

import (
	"encoding/json"
	"net/http"

	"veostudio/internal/generation"
	"veostudio/pkg/api"

	"github.com/google/uuid"
)

// maxBulkScenes bounds a bulk request to one project's worth of scenes.
const maxBulkScenes = 100

// Generate handles POST /scenes/{id}/generate.
// It charges the account and dispatches the scene to the worker.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.account(w, r)
	if !ok {
		return
	}
	sceneID, ok := pathID(r, "id")
	if !ok {
		h.httpError(w, "Invalid scene id", http.StatusBadRequest)
		return
	}

	var req api.GenerateRequest
	if err := decodeOptional(r, &req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.gen.Dispatch(r.Context(), accountID, sceneID, generation.DispatchOptions{
		ForceRegenerate: req.ForceRegenerate,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toGenerateResponse(res))
}

// BulkGenerate handles POST /scenes/bulk-generate.
// Each scene is dispatched independently; the response lists every
// outcome in request order.
func (h *Handlers) BulkGenerate(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.account(w, r)
	if !ok {
		return
	}

	var req api.BulkGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.SceneIDs) == 0 || len(req.SceneIDs) > maxBulkScenes {
		h.httpError(w, "sceneIds must list between 1 and 100 scenes", http.StatusBadRequest)
		return
	}
	ids := make([]uuid.UUID, len(req.SceneIDs))
	for i, raw := range req.SceneIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.httpError(w, "Invalid scene id: "+raw, http.StatusBadRequest)
			return
		}
		ids[i] = id
	}

	results := h.gen.DispatchBulk(r.Context(), accountID, ids)
	resp := api.BulkGenerateResponse{Results: make([]api.BulkGenerateItem, len(results))}
	for i, res := range results {
		item := api.BulkGenerateItem{SceneID: res.SceneID.String()}
		if res.Err != nil {
			_, body := errorResponse(res.Err)
			item.Error = &body
			resp.Failed++
		} else {
			item.Result = toGenerateResponse(res.Result)
			resp.Dispatched++
		}
		resp.Results[i] = item
	}
	h.respondJson(w, http.StatusOK, resp)
}
