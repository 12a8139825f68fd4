package handlers

import (
	"veostudio/internal/generation"
	"veostudio/internal/store"
	"veostudio/pkg/api"
)

func toSceneResponse(sc *store.Scene) api.SceneResponse {
	return api.SceneResponse{
		ID:               sc.ID.String(),
		ProjectID:        sc.ProjectID.String(),
		Index:            sc.Index,
		ScriptText:       sc.ScriptText,
		CameraMovement:   sc.CameraMovement,
		CameraTier:       sc.CameraTier,
		Status:           string(sc.Status),
		RetryCount:       sc.RetryCount,
		GenerationCost:   money(sc.GenerationCost),
		ArtifactURL:      sc.ArtifactURL,
		ThumbnailURL:     sc.ThumbnailURL,
		ErrorMessage:     sc.ErrorMessage,
		ProcessingTimeMs: sc.ProcessingTimeMs,
	}
}

func toProjectResponse(p *store.Project, scenes []store.Scene) api.ProjectResponse {
	resp := api.ProjectResponse{
		ID:                   p.ID.String(),
		Title:                p.Title,
		Status:               string(p.Status),
		SceneCount:           p.SceneCount,
		ScenesCompletedCount: p.ScenesCompletedCount,
		FinalArtifactURL:     p.FinalArtifactURL,
		ErrorMessage:         p.ErrorMessage,
		CreatedAt:            p.CreatedAt,
		Scenes:               make([]api.SceneResponse, 0, len(scenes)),
	}
	for i := range scenes {
		resp.Scenes = append(resp.Scenes, toSceneResponse(&scenes[i]))
	}
	return resp
}

func toQueueEntryResponse(e store.QueueEntry) api.QueueEntryResponse {
	return api.QueueEntryResponse{
		ID:           e.ID.String(),
		SceneID:      e.SceneID.String(),
		Status:       string(e.Status),
		Priority:     e.Priority,
		Cost:         money(e.Cost),
		Kind:         string(e.Kind),
		ErrorMessage: e.ErrorMessage,
		CreatedAt:    e.CreatedAt,
		WebhookAckAt: e.WebhookAckAt,
	}
}

func toLedgerEntryResponse(e store.LedgerEntry) api.LedgerEntryResponse {
	return api.LedgerEntryResponse{
		ID:           e.ID.String(),
		Seq:          e.Seq,
		Amount:       money(e.Amount),
		BalanceAfter: money(e.BalanceAfter),
		Kind:         string(e.Kind),
		Description:  e.Description,
		ReferenceID:  e.ReferenceID,
		CreatedAt:    e.CreatedAt,
	}
}

func toGenerateResponse(res *generation.DispatchResult) *api.GenerateResponse {
	return &api.GenerateResponse{
		SceneID:      res.SceneID.String(),
		QueueEntryID: res.QueueEntryID.String(),
		Status:       string(res.Status),
		Cost:         money(res.Cost),
		NewBalance:   money(res.NewBalance),
	}
}
