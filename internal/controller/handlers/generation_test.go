package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"veostudio/internal/webhook"
	"veostudio/pkg/api"

	"github.com/google/uuid"
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		name           string
		balance        string
		setup          func(env *testEnv) (sceneID string, account uuid.UUID)
		body           string
		expectedStatus int
		expectedInBody []string
	}{
		{
			name:    "Success",
			balance: "1.00",
			setup: func(env *testEnv) (string, uuid.UUID) {
				return env.scenes[0].ID.String(), env.account
			},
			expectedStatus: http.StatusOK,
			expectedInBody: []string{`"cost":"0.98"`, `"newBalance":"0.02"`, `"status":"processing"`},
		},
		{
			name:    "Invalid scene id",
			balance: "1.00",
			setup: func(env *testEnv) (string, uuid.UUID) {
				return "not-a-uuid", env.account
			},
			expectedStatus: http.StatusBadRequest,
			expectedInBody: []string{"Invalid scene id"},
		},
		{
			name:    "Malformed body",
			balance: "1.00",
			setup: func(env *testEnv) (string, uuid.UUID) {
				return env.scenes[0].ID.String(), env.account
			},
			body:           "{",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:    "Insufficient funds",
			balance: "0.50",
			setup: func(env *testEnv) (string, uuid.UUID) {
				return env.scenes[0].ID.String(), env.account
			},
			expectedStatus: http.StatusPaymentRequired,
			expectedInBody: []string{api.CodeInsufficientFunds, `"required":"0.98"`, `"available":"0.50"`},
		},
		{
			name:    "Unknown scene",
			balance: "1.00",
			setup: func(env *testEnv) (string, uuid.UUID) {
				return uuid.NewString(), env.account
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:    "Foreign scene",
			balance: "1.00",
			setup: func(env *testEnv) (string, uuid.UUID) {
				return env.scenes[0].ID.String(), uuid.New()
			},
			expectedStatus: http.StatusForbidden,
		},
		{
			name:    "Missing script",
			balance: "1.00",
			setup: func(env *testEnv) (string, uuid.UUID) {
				env.store.UpdateSceneContent(context.Background(), nil, env.scenes[1].ID, "", "static", "basic")
				return env.scenes[1].ID.String(), env.account
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedInBody: []string{api.CodeMissingScript},
		},
		{
			name:    "Worker rejects",
			balance: "1.00",
			setup: func(env *testEnv) (string, uuid.UUID) {
				env.worker.err = fmt.Errorf("%w: status 500", webhook.ErrRejected)
				return env.scenes[0].ID.String(), env.account
			},
			expectedStatus: http.StatusBadGateway,
			expectedInBody: []string{api.CodeDispatchRejected, "credits refunded"},
		},
		{
			name:    "Worker times out",
			balance: "1.00",
			setup: func(env *testEnv) (string, uuid.UUID) {
				env.worker.err = fmt.Errorf("%w: deadline", webhook.ErrTimeout)
				return env.scenes[0].ID.String(), env.account
			},
			expectedStatus: http.StatusGatewayTimeout,
			expectedInBody: []string{api.CodeDispatchTimeout},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.balance)
			sceneID, account := tt.setup(env)

			rr := env.do(env.h.Generate, call{
				method:  http.MethodPost,
				target:  "/scenes/" + sceneID + "/generate",
				body:    tt.body,
				account: &account,
				path:    map[string]string{"id": sceneID},
			})
			checkResponse(t, rr, tt.expectedStatus, tt.expectedInBody...)

			if tt.expectedStatus != http.StatusOK && tt.balance != "" {
				if got := env.balance(t); got != tt.balance {
					t.Errorf("balance after failed generate = %s, want %s", got, tt.balance)
				}
			}
		})
	}
}

func TestGenerate_Conflicts(t *testing.T) {
	env := newTestEnv(t, "5.00")
	sceneID := env.scenes[0].ID.String()
	req := call{
		method:  http.MethodPost,
		target:  "/scenes/" + sceneID + "/generate",
		account: &env.account,
		path:    map[string]string{"id": sceneID},
	}

	checkResponse(t, env.do(env.h.Generate, req), http.StatusOK)
	checkResponse(t, env.do(env.h.Generate, req), http.StatusConflict, api.CodeAlreadyInProgress)

	cb := `{"sceneId":"` + sceneID + `","status":"completed","videoUrl":"https://cdn/0.mp4"}`
	checkResponse(t, env.do(env.h.GenerationCallback, call{method: http.MethodPost, target: "/callbacks/generation", body: cb}), http.StatusOK)

	checkResponse(t, env.do(env.h.Generate, req), http.StatusConflict, api.CodeAlreadyCompleted)

	req.body = `{"forceRegenerate":true}`
	checkResponse(t, env.do(env.h.Generate, req), http.StatusOK, `"newBalance":"3.04"`)
}

func TestBulkGenerate(t *testing.T) {
	env := newTestEnv(t, "1.00")
	ids := []string{env.scenes[0].ID.String(), env.scenes[1].ID.String()}
	body, _ := json.Marshal(api.BulkGenerateRequest{SceneIDs: ids})

	rr := env.do(env.h.BulkGenerate, call{
		method:  http.MethodPost,
		target:  "/scenes/bulk-generate",
		body:    string(body),
		account: &env.account,
	})
	checkResponse(t, rr, http.StatusOK)

	var resp api.BulkGenerateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Dispatched != 1 || resp.Failed != 1 {
		t.Fatalf("dispatched/failed = %d/%d, want 1/1", resp.Dispatched, resp.Failed)
	}
	for i, item := range resp.Results {
		if item.SceneID != ids[i] {
			t.Errorf("result %d scene = %s, want %s", i, item.SceneID, ids[i])
		}
		if item.Error != nil && item.Error.Code != api.CodeInsufficientFunds {
			t.Errorf("result %d error code = %s", i, item.Error.Code)
		}
	}
	if got := env.balance(t); got != "0.02" {
		t.Errorf("balance = %s, want 0.02", got)
	}
}

func TestBulkGenerate_Validation(t *testing.T) {
	tooMany := make([]string, maxBulkScenes+1)
	for i := range tooMany {
		tooMany[i] = `"` + uuid.NewString() + `"`
	}

	tests := []struct {
		name string
		body string
	}{
		{"malformed", "{"},
		{"empty", `{"sceneIds":[]}`},
		{"too many", `{"sceneIds":[` + strings.Join(tooMany, ",") + `]}`},
		{"bad id", `{"sceneIds":["nope"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "1.00")
			rr := env.do(env.h.BulkGenerate, call{method: http.MethodPost, target: "/scenes/bulk-generate", body: tt.body, account: &env.account})
			checkResponse(t, rr, http.StatusBadRequest)
		})
	}
}
