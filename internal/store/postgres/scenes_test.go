package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"veostudio/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var sceneCols = []string{
	"id", "project_id", "account_id", "scene_index", "script_text", "camera_movement", "camera_tier", "audio_clip_url",
	"status", "generation_cost", "retry_count", "error_message", "artifact_url", "thumbnail_url", "processing_time_ms",
	"processing_started_at", "processing_completed_at", "created_at", "updated_at",
}

func TestUpdateSceneState_CompareAndSet(t *testing.T) {
	tests := []struct {
		name        string
		rowsUpdated int64
		wantErr     error
	}{
		{name: "Expected Status Matches", rowsUpdated: 1},
		{name: "Concurrent Writer Won", rowsUpdated: 0, wantErr: store.ErrStaleState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			defer s.db.Close()

			scene := &store.Scene{
				ID:             uuid.New(),
				Status:         store.SceneStatusQueued,
				GenerationCost: decimal.RequireFromString("0.98"),
			}

			mock.ExpectExec(`UPDATE scenes SET .* WHERE id = \$10 AND status = \$11`).
				WithArgs(store.SceneStatusQueued, scene.GenerationCost, 0, nil, nil, nil, nil, nil, nil,
					scene.ID, store.SceneStatusPending).
				WillReturnResult(sqlmock.NewResult(0, tt.rowsUpdated))

			err := s.UpdateSceneState(context.Background(), nil, scene, store.SceneStatusPending)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestListScenes_OrderedByIndex(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	projectID := uuid.New()
	accountID := uuid.New()
	now := time.Now()
	url := "https://cdn.example.com/1.mp4"

	mock.ExpectQuery(`FROM scenes WHERE project_id = \$1 ORDER BY scene_index ASC`).
		WithArgs(projectID).
		WillReturnRows(sqlmock.NewRows(sceneCols).
			AddRow(uuid.NewString(), projectID.String(), accountID.String(), 1, "Opening", "static", "basic", nil,
				"completed", "0.98", 0, nil, url, nil, int64(42000), now, now, now, now).
			AddRow(uuid.NewString(), projectID.String(), accountID.String(), 2, "", "zoom_in", "basic", nil,
				"pending", "0", 0, nil, nil, nil, nil, nil, nil, now, now))

	scenes, err := s.ListScenes(context.Background(), nil, projectID)
	if err != nil {
		t.Fatalf("ListScenes failed: %v", err)
	}
	if len(scenes) != 2 {
		t.Fatalf("expected 2 scenes, got %d", len(scenes))
	}
	if scenes[0].ArtifactURL == nil || *scenes[0].ArtifactURL != url {
		t.Errorf("expected artifact url on first scene")
	}
	if scenes[1].Status != store.SceneStatusPending {
		t.Errorf("got status %s, want pending", scenes[1].Status)
	}
}

func TestUpdateSceneContent_InFlight(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`UPDATE scenes SET script_text`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateSceneContent(context.Background(), nil, uuid.New(), "text", "static", "basic")
	if !errors.Is(err, store.ErrStaleState) {
		t.Errorf("expected ErrStaleState for in-flight scene, got %v", err)
	}
}

func TestReorderScenes(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	projectID := uuid.New()
	order := []uuid.UUID{uuid.New(), uuid.New()}

	mock.ExpectExec(`UPDATE scenes SET scene_index`).
		WithArgs(1, order[0], projectID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE scenes SET scene_index`).
		WithArgs(2, order[1], projectID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.ReorderScenes(context.Background(), nil, projectID, order); err != nil {
		t.Fatalf("ReorderScenes failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestReorderScenes_ForeignScene(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`UPDATE scenes SET scene_index`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.ReorderScenes(context.Background(), nil, uuid.New(), []uuid.UUID{uuid.New()})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
