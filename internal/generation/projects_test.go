package generation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"veostudio/internal/ledger"
	"veostudio/internal/store"

	"github.com/google/uuid"
)

func strPtr(s string) *string { return &s }

func TestCreateProject(t *testing.T) {
	f := newFixture(t, "0", 4)
	ctx := context.Background()

	p, scenes, err := f.svc.Project(ctx, f.account, f.project.ID)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if p.Status != store.ProjectStatusDraft || p.SceneCount != 4 {
		t.Errorf("project = %+v, want draft with 4 scenes", p)
	}
	if len(scenes) != 4 {
		t.Fatalf("scenes = %d, want 4", len(scenes))
	}
	for i, sc := range scenes {
		if sc.Index != i+1 || sc.Status != store.SceneStatusPending || sc.CameraMovement != "static" {
			t.Errorf("scene %d = %+v", i, sc)
		}
	}

	if _, _, err := f.svc.Project(ctx, uuid.New(), f.project.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign project: error = %v, want ErrForbidden", err)
	}
	if _, _, err := f.svc.CreateProject(ctx, f.account, " ", nil); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty title: error = %v, want ErrInvalidRequest", err)
	}
	if _, _, err := f.svc.CreateProject(ctx, uuid.New(), "Title", nil); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Errorf("unknown account: error = %v, want ErrAccountNotFound", err)
	}
}

func TestEditScene(t *testing.T) {
	tests := []struct {
		name    string
		edit    SceneEdit
		wantErr error
	}{
		{"script", SceneEdit{ScriptText: strPtr("A storm rolls in")}, nil},
		{"camera", SceneEdit{CameraMovement: strPtr("dolly_in"), CameraTier: strPtr("advanced")}, nil},
		{"unknown movement", SceneEdit{CameraMovement: strPtr("barrel_roll")}, ErrInvalidRequest},
		{"movement outside tier", SceneEdit{CameraMovement: strPtr("dolly_zoom"), CameraTier: strPtr("basic")}, ErrInvalidRequest},
		{"unknown tier", SceneEdit{CameraTier: strPtr("imax")}, ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "0", 2)
			sc, err := f.svc.EditScene(context.Background(), f.account, f.scenes[0].ID, tt.edit)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("EditScene() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if p := f.loadProject(t); p.Status != store.ProjectStatusDraft {
					t.Errorf("project status = %s, want draft after rejected edit", p.Status)
				}
				return
			}
			stored := f.scene(t, 0)
			if stored.ScriptText != sc.ScriptText || stored.CameraMovement != sc.CameraMovement {
				t.Errorf("stored scene = %+v, returned %+v", stored, sc)
			}
			if p := f.loadProject(t); p.Status != store.ProjectStatusEditing {
				t.Errorf("project status = %s, want editing", p.Status)
			}
		})
	}
}

func TestEditScene_InFlight(t *testing.T) {
	f := newFixture(t, "5.00", 2)
	f.dispatch(t, 0)

	_, err := f.svc.EditScene(context.Background(), f.account, f.scenes[0].ID, SceneEdit{ScriptText: strPtr("changed")})
	if !errors.Is(err, ErrAlreadyInProgress) {
		t.Errorf("EditScene() error = %v, want ErrAlreadyInProgress", err)
	}
}

func TestReorderScenes(t *testing.T) {
	f := newFixture(t, "0", 3)
	ctx := context.Background()
	a, b, c := f.scenes[0].ID, f.scenes[1].ID, f.scenes[2].ID

	invalid := [][]uuid.UUID{
		{a, b},
		{a, b, b},
		{a, b, uuid.New()},
	}
	for _, order := range invalid {
		if _, err := f.svc.ReorderScenes(ctx, f.account, f.project.ID, order); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("ReorderScenes(%v) error = %v, want ErrInvalidRequest", order, err)
		}
	}

	scenes, err := f.svc.ReorderScenes(ctx, f.account, f.project.ID, []uuid.UUID{c, a, b})
	if err != nil {
		t.Fatalf("ReorderScenes: %v", err)
	}
	want := []uuid.UUID{c, a, b}
	for i, sc := range scenes {
		if sc.ID != want[i] || sc.Index != i+1 {
			t.Errorf("position %d = %s (index %d), want %s", i, sc.ID, sc.Index, want[i])
		}
	}
}

func TestQueue_ListsByPriority(t *testing.T) {
	f := newFixture(t, "5.00", 3)
	f.dispatch(t, 2)
	f.dispatch(t, 0)

	entries, err := f.svc.Queue(context.Background(), f.account, f.project.ID)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(entries) != 2 || entries[0].Priority != 1 || entries[1].Priority != 3 {
		t.Errorf("entries = %+v, want priorities 1, 3", entries)
	}
}

func TestSetThumbnail(t *testing.T) {
	tests := []struct {
		name       string
		readErr    error
		wantEvent  bool
		wantLogged string
	}{
		{name: "Publishes Scene", wantEvent: true},
		{name: "Reload Fails", readErr: errors.New("connection reset"), wantLogged: "connection reset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "0", 1)
			var logs bytes.Buffer
			f.svc.logger = slog.New(slog.NewTextHandler(&logs, nil))
			rec := &recordingPublisher{}
			f.svc.events = rec
			if tt.readErr != nil {
				f.store.FailNext("GetScene", tt.readErr)
			}

			url := "https://cdn.example.com/thumb.jpg"
			if err := f.svc.SetThumbnail(context.Background(), f.scenes[0].ID, url); err != nil {
				t.Fatalf("SetThumbnail: %v", err)
			}
			if sc := f.scene(t, 0); sc.ThumbnailURL == nil || *sc.ThumbnailURL != url {
				t.Errorf("thumbnail = %v, want %s", sc.ThumbnailURL, url)
			}
			if got := len(rec.Events()) == 1; got != tt.wantEvent {
				t.Errorf("events = %+v, want published=%v", rec.Events(), tt.wantEvent)
			}
			if tt.wantLogged != "" && !strings.Contains(logs.String(), tt.wantLogged) {
				t.Errorf("log = %q, want it to mention %q", logs.String(), tt.wantLogged)
			}
		})
	}
}
