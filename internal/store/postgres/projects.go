package postgres

import (
	"context"
	"fmt"

	"veostudio/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const projectColumns = `id, account_id, title, character_image_url, status, scene_count, scenes_completed_count, final_artifact_url, error_message, videos_counted, created_at, updated_at`

func scanProject(row interface{ Scan(...interface{}) error }) (*store.Project, error) {
	var p store.Project
	if err := row.Scan(
		&p.ID, &p.AccountID, &p.Title, &p.CharacterImageURL, &p.Status,
		&p.SceneCount, &p.ScenesCompletedCount, &p.FinalArtifactURL,
		&p.ErrorMessage, &p.VideoCounted, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// CreateProject inserts the project row followed by its scenes.
func (s *Store) CreateProject(ctx context.Context, tx store.DBTransaction, project *store.Project, scenes []store.Scene) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx, `
		INSERT INTO projects (id, account_id, title, character_image_url, status, scene_count)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, project.ID, project.AccountID, project.Title, project.CharacterImageURL, project.Status, project.SceneCount)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	for _, sc := range scenes {
		_, err := executor.ExecContext(ctx, `
			INSERT INTO scenes (id, project_id, account_id, scene_index, script_text, camera_movement, camera_tier, audio_clip_url, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, sc.ID, project.ID, project.AccountID, sc.Index, sc.ScriptText,
			sc.CameraMovement, sc.CameraTier, sc.AudioClipURL, sc.Status)
		if err != nil {
			return fmt.Errorf("failed to create scene %d: %w", sc.Index, err)
		}
	}

	return nil
}

func (s *Store) GetProject(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Project, error) {
	row := s.getExecutor(tx).QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

// LockProject serializes aggregation for a project for the rest of tx.
func (s *Store) LockProject(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Project, error) {
	row := s.getExecutor(tx).QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, id)
	return scanProject(row)
}

func (s *Store) UpdateProjectStatus(ctx context.Context, tx store.DBTransaction, id uuid.UUID, from []store.ProjectStatus, to store.ProjectStatus) error {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}

	res, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE projects SET status = $1, final_artifact_url = NULL, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
	`, to, id, pq.Array(states))
	if err != nil {
		return fmt.Errorf("failed to update project %s status: %w", id, err)
	}
	return expectOne(res)
}

func (s *Store) SetScenesCompletedCount(ctx context.Context, tx store.DBTransaction, id uuid.UUID, count int) error {
	_, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE projects SET scenes_completed_count = $1, updated_at = NOW() WHERE id = $2
	`, count, id)
	return err
}

// FinalizeProject only applies to a project that is still stitching.
func (s *Store) FinalizeProject(ctx context.Context, tx store.DBTransaction, id uuid.UUID, status store.ProjectStatus, finalURL, errMsg *string) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE projects
		SET status = $1, final_artifact_url = $2, error_message = $3,
			videos_counted = videos_counted OR $4, updated_at = NOW()
		WHERE id = $5 AND status = $6
	`, status, finalURL, errMsg, status == store.ProjectStatusCompleted, id, store.ProjectStatusStitching)
	if err != nil {
		return fmt.Errorf("failed to finalize project %s: %w", id, err)
	}
	return expectOne(res)
}
