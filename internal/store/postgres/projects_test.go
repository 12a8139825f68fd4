package postgres

import (
	"context"
	"errors"
	"testing"

	"veostudio/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestCreateProject_InsertsScenes(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	project := &store.Project{
		ID:         uuid.New(),
		AccountID:  uuid.New(),
		Title:      "Launch video",
		Status:     store.ProjectStatusDraft,
		SceneCount: 3,
	}
	scenes := make([]store.Scene, 3)
	for i := range scenes {
		scenes[i] = store.Scene{ID: uuid.New(), Index: i + 1, CameraMovement: "static", CameraTier: "basic", Status: store.SceneStatusPending}
	}

	mock.ExpectExec(`INSERT INTO projects`).
		WithArgs(project.ID, project.AccountID, project.Title, nil, store.ProjectStatusDraft, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for _, sc := range scenes {
		mock.ExpectExec(`INSERT INTO scenes`).
			WithArgs(sc.ID, project.ID, project.AccountID, sc.Index, "", "static", "basic", nil, store.SceneStatusPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	if err := s.CreateProject(context.Background(), nil, project, scenes); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUpdateProjectStatus_CheckAndSet(t *testing.T) {
	tests := []struct {
		name        string
		rowsUpdated int64
		wantErr     error
	}{
		{name: "Transitioned", rowsUpdated: 1},
		{name: "Already Stitching", rowsUpdated: 0, wantErr: store.ErrStaleState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			defer s.db.Close()

			id := uuid.New()
			mock.ExpectExec(`UPDATE projects SET status = \$1, final_artifact_url = NULL, updated_at = NOW\(\) WHERE id = \$2 AND status = ANY\(\$3\)`).
				WithArgs(store.ProjectStatusStitching, id, sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, tt.rowsUpdated))

			err := s.UpdateProjectStatus(context.Background(), nil, id,
				[]store.ProjectStatus{store.ProjectStatusGenerating}, store.ProjectStatusStitching)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFinalizeProject(t *testing.T) {
	url := "https://cdn.example.com/final.mp4"
	msg := "stitching failed"

	tests := []struct {
		name        string
		status      store.ProjectStatus
		finalURL    *string
		errMsg      *string
		counted     bool
		rowsUpdated int64
		wantErr     error
	}{
		{name: "Completed", status: store.ProjectStatusCompleted, finalURL: &url, counted: true, rowsUpdated: 1},
		{name: "Failed Clears URL", status: store.ProjectStatusFailed, errMsg: &msg, rowsUpdated: 1},
		{name: "Not Stitching", status: store.ProjectStatusCompleted, finalURL: &url, counted: true, rowsUpdated: 0, wantErr: store.ErrStaleState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			defer s.db.Close()

			id := uuid.New()
			var wantURL, wantMsg interface{}
			if tt.finalURL != nil {
				wantURL = *tt.finalURL
			}
			if tt.errMsg != nil {
				wantMsg = *tt.errMsg
			}
			mock.ExpectExec(`UPDATE projects SET status = \$1, final_artifact_url = \$2, error_message = \$3, videos_counted = videos_counted OR \$4`).
				WithArgs(tt.status, wantURL, wantMsg, tt.counted, id, store.ProjectStatusStitching).
				WillReturnResult(sqlmock.NewResult(0, tt.rowsUpdated))

			err := s.FinalizeProject(context.Background(), nil, id, tt.status, tt.finalURL, tt.errMsg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}
