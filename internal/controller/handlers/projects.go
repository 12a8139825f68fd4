package handlers

import (
	"encoding/json"
	"net/http"

	"veostudio/internal/generation"
	"veostudio/pkg/api"

	"github.com/google/uuid"
)

// CreateProject handles POST /projects.
// It creates a draft project with its empty scenes.
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.account(w, r)
	if !ok {
		return
	}

	var req api.CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		h.httpError(w, "Title is required", http.StatusBadRequest)
		return
	}

	p, scenes, err := h.gen.CreateProject(r.Context(), accountID, req.Title, req.CharacterImageURL)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, toProjectResponse(p, scenes))
}

// GetProject handles GET /projects/{id}.
func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.account(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(r, "id")
	if !ok {
		h.httpError(w, "Invalid project id", http.StatusBadRequest)
		return
	}

	p, scenes, err := h.gen.Project(r.Context(), accountID, projectID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toProjectResponse(p, scenes))
}

// UpdateScene handles PATCH /scenes/{id}.
func (h *Handlers) UpdateScene(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.account(w, r)
	if !ok {
		return
	}
	sceneID, ok := pathID(r, "id")
	if !ok {
		h.httpError(w, "Invalid scene id", http.StatusBadRequest)
		return
	}

	var req api.UpdateSceneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sc, err := h.gen.EditScene(r.Context(), accountID, sceneID, generation.SceneEdit{
		ScriptText:     req.ScriptText,
		CameraMovement: req.CameraMovement,
		CameraTier:     req.CameraTier,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toSceneResponse(sc))
}

// ReorderScenes handles POST /projects/{id}/reorder.
func (h *Handlers) ReorderScenes(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.account(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(r, "id")
	if !ok {
		h.httpError(w, "Invalid project id", http.StatusBadRequest)
		return
	}

	var req api.ReorderScenesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	order := make([]uuid.UUID, len(req.SceneIDs))
	for i, raw := range req.SceneIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.httpError(w, "Invalid scene id: "+raw, http.StatusBadRequest)
			return
		}
		order[i] = id
	}

	scenes, err := h.gen.ReorderScenes(r.Context(), accountID, projectID, order)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	resp := make([]api.SceneResponse, 0, len(scenes))
	for i := range scenes {
		resp = append(resp, toSceneResponse(&scenes[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetQueue handles GET /projects/{id}/queue.
func (h *Handlers) GetQueue(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.account(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(r, "id")
	if !ok {
		h.httpError(w, "Invalid project id", http.StatusBadRequest)
		return
	}

	entries, err := h.gen.Queue(r.Context(), accountID, projectID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	resp := api.QueueResponse{Entries: make([]api.QueueEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, toQueueEntryResponse(e))
	}
	h.respondJson(w, http.StatusOK, resp)
}
