package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"veostudio/internal/camera"
	"veostudio/internal/events"
	"veostudio/internal/ledger"
	"veostudio/internal/logger"
	"veostudio/internal/scene"
	"veostudio/internal/store"

	"github.com/google/uuid"
)

// SceneEdit holds optional scene content changes.
type SceneEdit struct {
	ScriptText     *string
	CameraMovement *string
	CameraTier     *string
}

// ownedScene loads a scene and checks that accountID owns it.
func (s *Service) ownedScene(ctx context.Context, accountID, sceneID uuid.UUID) (*store.Scene, error) {
	sc, err := s.store.GetScene(ctx, nil, sceneID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if sc.AccountID != accountID {
		return nil, ErrForbidden
	}
	return sc, nil
}

func (s *Service) ownedProject(ctx context.Context, accountID, projectID uuid.UUID) (*store.Project, error) {
	p, err := s.store.GetProject(ctx, nil, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.AccountID != accountID {
		return nil, ErrForbidden
	}
	return p, nil
}

// CreateProject creates a draft project with its empty scenes.
func (s *Service) CreateProject(ctx context.Context, accountID uuid.UUID, title string, characterImageURL *string) (*store.Project, []store.Scene, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, nil, fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if _, err := s.store.GetAccount(ctx, nil, accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ledger.ErrAccountNotFound
		}
		return nil, nil, err
	}

	p := &store.Project{
		ID:                uuid.New(),
		AccountID:         accountID,
		Title:             title,
		CharacterImageURL: characterImageURL,
		Status:            store.ProjectStatusDraft,
		SceneCount:        s.cfg.ScenesPerProject,
	}
	scenes := make([]store.Scene, s.cfg.ScenesPerProject)
	for i := range scenes {
		scenes[i] = store.Scene{
			ID:             uuid.New(),
			ProjectID:      p.ID,
			AccountID:      accountID,
			Index:          i + 1,
			CameraMovement: camera.DefaultMovement,
			CameraTier:     camera.DefaultTier,
			Status:         store.SceneStatusPending,
		}
	}
	if err := s.store.CreateProject(ctx, nil, p, scenes); err != nil {
		return nil, nil, fmt.Errorf("create project: %w", err)
	}
	return p, scenes, nil
}

// Project returns an owned project with its scenes ordered by index.
func (s *Service) Project(ctx context.Context, accountID, projectID uuid.UUID) (*store.Project, []store.Scene, error) {
	p, err := s.ownedProject(ctx, accountID, projectID)
	if err != nil {
		return nil, nil, err
	}
	scenes, err := s.store.ListScenes(ctx, nil, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("list scenes: %w", err)
	}
	return p, scenes, nil
}

// Scene returns an owned scene.
func (s *Service) Scene(ctx context.Context, accountID, sceneID uuid.UUID) (*store.Scene, error) {
	return s.ownedScene(ctx, accountID, sceneID)
}

// Queue returns the project's queue entries ordered by priority.
func (s *Service) Queue(ctx context.Context, accountID, projectID uuid.UUID) ([]store.QueueEntry, error) {
	if _, err := s.ownedProject(ctx, accountID, projectID); err != nil {
		return nil, err
	}
	return s.queue.List(ctx, projectID)
}

// EditScene changes a scene's script or camera settings. Scenes with an
// active dispatch cannot be edited.
func (s *Service) EditScene(ctx context.Context, accountID, sceneID uuid.UUID, edit SceneEdit) (*store.Scene, error) {
	current, err := s.ownedScene(ctx, accountID, sceneID)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := s.store.LockProject(ctx, tx, current.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("lock project: %w", err)
	}
	sc, err := s.store.LockScene(ctx, tx, sceneID)
	if err != nil {
		return nil, fmt.Errorf("lock scene: %w", err)
	}
	if scene.InFlight(sc.Status) {
		return nil, ErrAlreadyInProgress
	}

	script, movement, tier := sc.ScriptText, sc.CameraMovement, sc.CameraTier
	if edit.ScriptText != nil {
		script = *edit.ScriptText
	}
	if edit.CameraMovement != nil {
		movement = *edit.CameraMovement
	}
	if edit.CameraTier != nil {
		tier = *edit.CameraTier
	}
	if err := s.catalog.Validate(movement, tier); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := s.store.UpdateSceneContent(ctx, tx, sceneID, script, movement, tier); err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return nil, ErrAlreadyInProgress
		}
		return nil, fmt.Errorf("update scene: %w", err)
	}
	sc.ScriptText, sc.CameraMovement, sc.CameraTier = script, movement, tier

	projectChanged, err := s.markEditing(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	evs := []events.Event{events.SceneUpdated(sc)}
	if projectChanged {
		evs = append(evs, events.ProjectUpdated(p))
	}
	s.publish(ctx, evs...)
	return sc, nil
}

// ReorderScenes assigns indexes 1..N in the given order. order must be a
// permutation of the project's scenes.
func (s *Service) ReorderScenes(ctx context.Context, accountID, projectID uuid.UUID, order []uuid.UUID) ([]store.Scene, error) {
	if _, err := s.ownedProject(ctx, accountID, projectID); err != nil {
		return nil, err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := s.store.LockProject(ctx, tx, projectID)
	if err != nil {
		return nil, fmt.Errorf("lock project: %w", err)
	}
	if p.Status == store.ProjectStatusStitching {
		return nil, ErrProjectStitching
	}
	scenes, err := s.store.ListScenes(ctx, tx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list scenes: %w", err)
	}
	if len(order) != len(scenes) {
		return nil, fmt.Errorf("%w: expected %d scene ids, got %d", ErrInvalidRequest, len(scenes), len(order))
	}
	owned := make(map[uuid.UUID]bool, len(scenes))
	for _, sc := range scenes {
		owned[sc.ID] = true
	}
	seen := make(map[uuid.UUID]bool, len(order))
	for _, id := range order {
		if !owned[id] || seen[id] {
			return nil, fmt.Errorf("%w: scene ids must be a permutation of the project's scenes", ErrInvalidRequest)
		}
		seen[id] = true
	}

	if err := s.store.ReorderScenes(ctx, tx, projectID, order); err != nil {
		return nil, fmt.Errorf("reorder scenes: %w", err)
	}
	reordered, err := s.store.ListScenes(ctx, tx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list scenes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	s.publish(ctx, events.ProjectUpdated(p))
	return reordered, nil
}

// SetThumbnail stores a generated thumbnail on the scene.
func (s *Service) SetThumbnail(ctx context.Context, sceneID uuid.UUID, url string) error {
	if err := s.store.SetSceneThumbnail(ctx, nil, sceneID, url); err != nil {
		return fmt.Errorf("set thumbnail: %w", err)
	}
	sc, err := s.store.GetScene(ctx, nil, sceneID)
	if err != nil {
		logger.FromContext(ctx, s.logger).Warn("thumbnail stored but scene event not published",
			"scene_id", sceneID, "error", err)
		return nil
	}
	s.publish(ctx, events.SceneUpdated(sc))
	return nil
}
