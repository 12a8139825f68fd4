package postgres

import (
	"context"
	"fmt"

	"veostudio/internal/store"

	"github.com/google/uuid"
)

const sceneColumns = `id, project_id, account_id, scene_index, script_text, camera_movement, camera_tier, audio_clip_url,
	status, generation_cost, retry_count, error_message, artifact_url, thumbnail_url, processing_time_ms,
	processing_started_at, processing_completed_at, created_at, updated_at`

func scanScene(row interface{ Scan(...interface{}) error }) (*store.Scene, error) {
	var sc store.Scene
	if err := row.Scan(
		&sc.ID, &sc.ProjectID, &sc.AccountID, &sc.Index, &sc.ScriptText,
		&sc.CameraMovement, &sc.CameraTier, &sc.AudioClipURL,
		&sc.Status, &sc.GenerationCost, &sc.RetryCount, &sc.ErrorMessage,
		&sc.ArtifactURL, &sc.ThumbnailURL, &sc.ProcessingTimeMs,
		&sc.ProcessingStartedAt, &sc.ProcessingCompletedAt, &sc.CreatedAt, &sc.UpdatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	return &sc, nil
}

func (s *Store) GetScene(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Scene, error) {
	row := s.getExecutor(tx).QueryRowContext(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE id = $1`, id)
	return scanScene(row)
}

// LockScene takes the per-scene writer lock for the rest of tx.
func (s *Store) LockScene(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Scene, error) {
	row := s.getExecutor(tx).QueryRowContext(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE id = $1 FOR UPDATE`, id)
	return scanScene(row)
}

func (s *Store) ListScenes(ctx context.Context, tx store.DBTransaction, projectID uuid.UUID) ([]store.Scene, error) {
	rows, err := s.getExecutor(tx).QueryContext(ctx,
		`SELECT `+sceneColumns+` FROM scenes WHERE project_id = $1 ORDER BY scene_index ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}
	defer rows.Close()

	var scenes []store.Scene
	for rows.Next() {
		sc, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("scene scan failed: %w", err)
		}
		scenes = append(scenes, *sc)
	}
	return scenes, rows.Err()
}

// UpdateSceneState is the only writer of scene lifecycle columns. The
// WHERE clause on status makes it a compare-and-set.
func (s *Store) UpdateSceneState(ctx context.Context, tx store.DBTransaction, scene *store.Scene, from store.SceneStatus) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE scenes SET
			status = $1,
			generation_cost = $2,
			retry_count = $3,
			error_message = $4,
			artifact_url = $5,
			thumbnail_url = $6,
			processing_time_ms = $7,
			processing_started_at = $8,
			processing_completed_at = $9,
			updated_at = NOW()
		WHERE id = $10 AND status = $11
	`, scene.Status, scene.GenerationCost, scene.RetryCount, scene.ErrorMessage,
		scene.ArtifactURL, scene.ThumbnailURL, scene.ProcessingTimeMs,
		scene.ProcessingStartedAt, scene.ProcessingCompletedAt, scene.ID, from)
	if err != nil {
		return fmt.Errorf("failed to update scene %s: %w", scene.ID, err)
	}
	return expectOne(res)
}

// UpdateSceneContent edits script and camera settings of a scene that is
// not in flight.
func (s *Store) UpdateSceneContent(ctx context.Context, tx store.DBTransaction, id uuid.UUID, script, movement, tier string) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE scenes SET script_text = $1, camera_movement = $2, camera_tier = $3, updated_at = NOW()
		WHERE id = $4 AND status NOT IN ('queued', 'processing')
	`, script, movement, tier, id)
	if err != nil {
		return fmt.Errorf("failed to update scene %s: %w", id, err)
	}
	return expectOne(res)
}

func (s *Store) SetSceneThumbnail(ctx context.Context, tx store.DBTransaction, id uuid.UUID, url string) error {
	_, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE scenes SET thumbnail_url = $1, updated_at = NOW() WHERE id = $2
	`, url, id)
	return err
}

// ReorderScenes relies on the deferred (project_id, scene_index) unique
// constraint, so the permutation is checked at commit.
func (s *Store) ReorderScenes(ctx context.Context, tx store.DBTransaction, projectID uuid.UUID, order []uuid.UUID) error {
	executor := s.getExecutor(tx)
	for i, id := range order {
		res, err := executor.ExecContext(ctx, `
			UPDATE scenes SET scene_index = $1, updated_at = NOW() WHERE id = $2 AND project_id = $3
		`, i+1, id, projectID)
		if err != nil {
			return fmt.Errorf("failed to reorder scene %s: %w", id, err)
		}
		if err := expectOne(res); err != nil {
			return store.ErrNotFound
		}
	}
	return nil
}

func (s *Store) CountScenesByStatus(ctx context.Context, tx store.DBTransaction, projectID uuid.UUID, status store.SceneStatus) (int, error) {
	var count int
	err := s.getExecutor(tx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scenes WHERE project_id = $1 AND status = $2`, projectID, status,
	).Scan(&count)
	return count, err
}
