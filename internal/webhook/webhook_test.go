package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"veostudio/pkg/httputil"

	"github.com/google/uuid"
)

func TestWorkerClient_Dispatch(t *testing.T) {
	var got GenerationRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewWorkerClient(server.URL, time.Second, server.Client())
	req := GenerationRequest{
		SceneID:        uuid.New(),
		ProjectID:      uuid.New(),
		SceneIndex:     3,
		ScriptText:     "A quiet street at dawn",
		CameraMovement: "dolly_in",
		CameraTier:     "advanced",
		Priority:       3,
		QueueEntryID:   uuid.New(),
		Attempt:        2,
		CallbackURL:    "http://controller/callbacks/generation",
	}
	if err := c.Dispatch(context.Background(), req); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got.SceneID != req.SceneID || got.QueueEntryID != req.QueueEntryID || got.CameraMovement != "dolly_in" || got.Attempt != 2 {
		t.Errorf("worker received %+v", got)
	}
}

func TestWorkerClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "non-2xx is rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("boom"))
			},
			wantErr: ErrRejected,
		},
		{
			name: "slow worker times out",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			wantErr: ErrTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			c := NewWorkerClient(server.URL, 100*time.Millisecond, server.Client())
			err := c.Dispatch(context.Background(), GenerationRequest{SceneID: uuid.New()})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestWorkerClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := NewWorkerClient(url, time.Second, nil)
	if err := c.Dispatch(context.Background(), GenerationRequest{}); !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
}

func TestWorkerClient_NotConfigured(t *testing.T) {
	c := NewWorkerClient("", time.Second, nil)
	if err := c.Dispatch(context.Background(), GenerationRequest{}); !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
}

func TestStitchClient_RetriesThenSucceeds(t *testing.T) {
	var attempts int32
	var got StitchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	c := NewStitchClient(server.URL, time.Second, httputil.RetryConfig{MaxRetries: 2, InitialDelay: 5 * time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2})
	req := StitchRequest{ProjectID: uuid.New(), ArtifactURLs: []string{"a.mp4", "b.mp4"}, CallbackURL: "http://cb"}
	if err := c.Stitch(context.Background(), req); err != nil {
		t.Fatalf("Stitch: %v", err)
	}
	if atomic.LoadInt32(&attempts) != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
	if got.ProjectID != req.ProjectID || len(got.ArtifactURLs) != 2 || got.ArtifactURLs[1] != "b.mp4" {
		t.Errorf("stitcher received %+v", got)
	}
}

func TestStitchClient_ClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad project", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	c := NewStitchClient(server.URL, time.Second, httputil.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond})
	if err := c.Stitch(context.Background(), StitchRequest{ProjectID: uuid.New()}); err == nil {
		t.Error("expected error for 422")
	}
}
