// Package queue tracks in-flight generation work. A scene has at most one
// active (queued or processing) entry; the storage layer enforces this
// with a partial unique index.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"veostudio/internal/logger"
	"veostudio/internal/scene"
	"veostudio/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrAlreadyQueued is returned when the scene already has an active entry.
	ErrAlreadyQueued = errors.New("scene already has an active queue entry")

	// ErrEntryNotFound is returned for unknown queue entries.
	ErrEntryNotFound = errors.New("queue entry not found")
)

// Store is the persistence the coordinator needs.
type Store interface {
	store.QueueStore
	store.SceneStore
}

// Coordinator creates and transitions queue entries.
type Coordinator struct {
	store  Store
	logger *slog.Logger
}

// New creates a coordinator.
func New(s Store, l *slog.Logger) *Coordinator {
	if l == nil {
		l = slog.Default()
	}
	return &Coordinator{store: s, logger: l}
}

// EnqueueRequest describes one dispatch attempt.
type EnqueueRequest struct {
	SceneID   uuid.UUID
	AccountID uuid.UUID
	ProjectID uuid.UUID
	Priority  int
	Cost      decimal.Decimal
	Kind      store.EntryKind
}

// Enqueue creates a queued entry inside tx.
func (c *Coordinator) Enqueue(ctx context.Context, tx store.DBTransaction, req EnqueueRequest) (*store.QueueEntry, error) {
	entry := &store.QueueEntry{
		ID:        uuid.New(),
		SceneID:   req.SceneID,
		ProjectID: req.ProjectID,
		AccountID: req.AccountID,
		Status:    store.QueueStatusQueued,
		Priority:  req.Priority,
		Cost:      req.Cost,
		Kind:      req.Kind,
	}
	if err := c.store.CreateQueueEntry(ctx, tx, entry); err != nil {
		if errors.Is(err, store.ErrAlreadyQueued) {
			return nil, ErrAlreadyQueued
		}
		return nil, fmt.Errorf("create queue entry: %w", err)
	}
	return entry, nil
}

// MarkProcessing confirms dispatch of a queued entry.
func (c *Coordinator) MarkProcessing(ctx context.Context, tx store.DBTransaction, entryID uuid.UUID) error {
	return c.store.UpdateQueueEntryStatus(ctx, tx, entryID, store.QueueStatusQueued, store.QueueStatusProcessing, nil)
}

// Finish moves an active entry to completed or failed.
func (c *Coordinator) Finish(ctx context.Context, tx store.DBTransaction, entry *store.QueueEntry, success bool, msg string) error {
	to := store.QueueStatusCompleted
	var errMsg *string
	if !success {
		to = store.QueueStatusFailed
		errMsg = &msg
	}
	if err := c.store.UpdateQueueEntryStatus(ctx, tx, entry.ID, entry.Status, to, errMsg); err != nil {
		return err
	}
	entry.Status = to
	entry.ErrorMessage = errMsg
	return nil
}

// MarkDispatchFailed fails a queued entry and its scene together inside
// tx. The scene's retry counter is left unchanged. sc must be the locked
// current row.
func (c *Coordinator) MarkDispatchFailed(ctx context.Context, tx store.DBTransaction, entry *store.QueueEntry, sc *store.Scene, msg string) error {
	if entry.Status != store.QueueStatusQueued {
		return fmt.Errorf("mark dispatch failed: entry %s is %s: %w", entry.ID, entry.Status, store.ErrStaleState)
	}
	if err := c.Finish(ctx, tx, entry, false, msg); err != nil {
		return fmt.Errorf("fail queue entry: %w", err)
	}
	from, err := scene.Apply(sc, scene.Transition{Event: scene.EventFail, ErrorMessage: msg})
	if err != nil {
		return err
	}
	if err := c.store.UpdateSceneState(ctx, tx, sc, from); err != nil {
		return fmt.Errorf("fail scene: %w", err)
	}
	logger.FromContext(ctx, c.logger).Warn("dispatch failed",
		"scene_id", sc.ID, "queue_entry_id", entry.ID, "error", msg)
	return nil
}

// MarkAcked stamps the first acknowledgement from the worker. Later
// acknowledgements keep the original timestamp.
func (c *Coordinator) MarkAcked(ctx context.Context, tx store.DBTransaction, entryID uuid.UUID) error {
	return c.store.MarkQueueEntryAcked(ctx, tx, entryID)
}

// Active returns the scene's active entry, or ErrEntryNotFound.
func (c *Coordinator) Active(ctx context.Context, tx store.DBTransaction, sceneID uuid.UUID) (*store.QueueEntry, error) {
	entry, err := c.store.GetActiveQueueEntry(ctx, tx, sceneID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrEntryNotFound
	}
	return entry, err
}

// List returns the project's entries in priority order.
func (c *Coordinator) List(ctx context.Context, projectID uuid.UUID) ([]store.QueueEntry, error) {
	return c.store.ListQueueEntries(ctx, projectID)
}

// Depth is the number of active entries across all projects.
func (c *Coordinator) Depth(ctx context.Context) (int64, error) {
	return c.store.CountActiveQueueEntries(ctx)
}
