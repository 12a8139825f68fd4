package handlers

import (
	"context"
	"net/http"
	"testing"

	"veostudio/internal/store"

	"github.com/google/uuid"
)

func TestGenerationCallback(t *testing.T) {
	env := newTestEnv(t, "5.00")
	res := env.dispatch(t, 0)
	sceneID := env.scenes[0].ID.String()

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedInBody []string
	}{
		{"malformed", "{", http.StatusBadRequest, nil},
		{"bad scene id", `{"sceneId":"x","status":"completed"}`, http.StatusBadRequest, []string{"Invalid scene id"}},
		{"bad status", `{"sceneId":"` + sceneID + `","status":"processing"}`, http.StatusBadRequest, []string{"completed or failed"}},
		{"bad queue entry", `{"sceneId":"` + sceneID + `","status":"failed","queueEntryId":"x"}`, http.StatusBadRequest, nil},
		{"completed without url", `{"sceneId":"` + sceneID + `","status":"completed"}`, http.StatusBadRequest, []string{"invalid_request"}},
		{"unknown scene", `{"sceneId":"` + uuid.NewString() + `","status":"failed"}`, http.StatusNotFound, nil},
		{"stale queue entry", `{"sceneId":"` + sceneID + `","status":"completed","videoUrl":"https://cdn/x.mp4","queueEntryId":"` + uuid.NewString() + `"}`, http.StatusOK, []string{`"applied":false`}},
		{
			"snake case success",
			`{"scene_id":"` + sceneID + `","queue_entry_id":"` + res.QueueEntryID.String() + `","status":"completed","video_url":"https://cdn/0.mp4","processing_time_ms":4200}`,
			http.StatusOK,
			[]string{`"applied":true`, `"status":"completed"`},
		},
		{"duplicate", `{"sceneId":"` + sceneID + `","status":"completed","videoUrl":"https://cdn/0.mp4"}`, http.StatusOK, []string{`"applied":false`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(env.h.GenerationCallback, call{method: http.MethodPost, target: "/callbacks/generation", body: tt.body})
			checkResponse(t, rr, tt.expectedStatus, tt.expectedInBody...)
		})
	}

	sc, _ := env.store.GetScene(context.Background(), nil, env.scenes[0].ID)
	if sc.Status != store.SceneStatusCompleted || sc.ArtifactURL == nil || *sc.ArtifactURL != "https://cdn/0.mp4" {
		t.Errorf("scene = %s %v", sc.Status, sc.ArtifactURL)
	}
	if sc.ProcessingTimeMs == nil || *sc.ProcessingTimeMs != 4200 {
		t.Errorf("processing time = %v", sc.ProcessingTimeMs)
	}
}

func TestGenerationCallback_Failure(t *testing.T) {
	env := newTestEnv(t, "5.00")
	env.dispatch(t, 1)
	sceneID := env.scenes[1].ID.String()

	rr := env.do(env.h.GenerationCallback, call{
		method: http.MethodPost,
		target: "/callbacks/generation",
		body:   `{"sceneId":"` + sceneID + `","status":"failed","errorMessage":"model overloaded"}`,
	})
	checkResponse(t, rr, http.StatusOK, `"applied":true`, `"status":"failed"`, `"retryCount":1`, `"refunded":false`)
}

func TestGenerationCallback_StaleAttempt(t *testing.T) {
	env := newTestEnv(t, "5.00")
	env.dispatch(t, 1)
	sceneID := env.scenes[1].ID.String()

	rr := env.do(env.h.GenerationCallback, call{
		method: http.MethodPost,
		target: "/callbacks/generation",
		body:   `{"scene_id":"` + sceneID + `","status":"failed","attempt":2,"error_message":"model overloaded"}`,
	})
	checkResponse(t, rr, http.StatusOK, `"applied":false`, `"status":"processing"`, `"retryCount":0`)
}

func TestAckGeneration(t *testing.T) {
	env := newTestEnv(t, "5.00")
	env.dispatch(t, 0)

	tests := []struct {
		name           string
		sceneID        string
		expectedStatus int
		expectedInBody string
	}{
		{"active entry", env.scenes[0].ID.String(), http.StatusOK, `"acked":true`},
		{"no active entry", env.scenes[1].ID.String(), http.StatusOK, `"acked":false`},
		{"unknown scene", uuid.NewString(), http.StatusNotFound, "not_found"},
		{"bad id", "x", http.StatusBadRequest, "Invalid scene id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(env.h.AckGeneration, call{
				method: http.MethodPost,
				target: "/callbacks/generation/" + tt.sceneID + "/ack",
				path:   map[string]string{"sceneId": tt.sceneID},
			})
			checkResponse(t, rr, tt.expectedStatus, tt.expectedInBody)
		})
	}
}

func TestStitchCallback(t *testing.T) {
	env := newTestEnv(t, "5.00")
	projectID := env.project.ID.String()

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedInBody string
	}{
		{"malformed", "{", http.StatusBadRequest, ""},
		{"bad project id", `{"projectId":"x","status":"completed"}`, http.StatusBadRequest, "Invalid project id"},
		{"bad status", `{"projectId":"` + projectID + `","status":"draft"}`, http.StatusBadRequest, "completed or failed"},
		{"unknown project", `{"projectId":"` + uuid.NewString() + `","status":"failed"}`, http.StatusNotFound, ""},
		{"not stitching", `{"projectId":"` + projectID + `","status":"completed","finalArtifactUrl":"https://cdn/final.mp4"}`, http.StatusOK, `"applied":false`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(env.h.StitchCallback, call{method: http.MethodPost, target: "/callbacks/stitch", body: tt.body})
			checkResponse(t, rr, tt.expectedStatus, tt.expectedInBody)
		})
	}
}

func TestStitchCallback_CompletesProject(t *testing.T) {
	env := newTestEnv(t, "5.00")
	for i := range env.scenes {
		env.dispatch(t, i)
		rr := env.do(env.h.GenerationCallback, call{
			method: http.MethodPost,
			target: "/callbacks/generation",
			body:   `{"sceneId":"` + env.scenes[i].ID.String() + `","status":"completed","artifactUrl":"https://cdn/s.mp4"}`,
		})
		want := `"stitchTriggered":false`
		if i == len(env.scenes)-1 {
			want = `"stitchTriggered":true`
		}
		checkResponse(t, rr, http.StatusOK, want)
	}

	// Scenes cannot be regenerated while the project is stitching.
	sceneID := env.scenes[0].ID.String()
	rr := env.do(env.h.Generate, call{
		method:  http.MethodPost,
		target:  "/scenes/" + sceneID + "/generate",
		body:    `{"forceRegenerate":true}`,
		account: &env.account,
		path:    map[string]string{"id": sceneID},
	})
	checkResponse(t, rr, http.StatusConflict, "project_stitching")

	rr = env.do(env.h.StitchCallback, call{
		method: http.MethodPost,
		target: "/callbacks/stitch",
		body:   `{"projectId":"` + env.project.ID.String() + `","status":"completed","finalArtifactUrl":"https://cdn/final.mp4"}`,
	})
	checkResponse(t, rr, http.StatusOK, `"applied":true`)

	p, _ := env.store.GetProject(context.Background(), nil, env.project.ID)
	if p.Status != store.ProjectStatusCompleted {
		t.Errorf("project status = %s, want completed", p.Status)
	}
}
