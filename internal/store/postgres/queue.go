package postgres

import (
	"context"
	"fmt"
	"time"

	"veostudio/internal/store"

	"github.com/google/uuid"
)

const activeEntryIndex = "idx_queue_entries_active_scene"

const queueColumns = `id, scene_id, project_id, account_id, status, priority, cost, kind, error_message, created_at, updated_at, webhook_ack_at`

func scanQueueEntry(row interface{ Scan(...interface{}) error }) (*store.QueueEntry, error) {
	var e store.QueueEntry
	if err := row.Scan(
		&e.ID, &e.SceneID, &e.ProjectID, &e.AccountID, &e.Status, &e.Priority,
		&e.Cost, &e.Kind, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt, &e.WebhookAckAt,
	); err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// CreateQueueEntry adds a dispatch attempt. The partial unique index on
// active entries rejects a second in-flight entry for the same scene.
func (s *Store) CreateQueueEntry(ctx context.Context, tx store.DBTransaction, entry *store.QueueEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Status == "" {
		entry.Status = store.QueueStatusQueued
	}

	err := s.getExecutor(tx).QueryRowContext(ctx, `
		INSERT INTO queue_entries (id, scene_id, project_id, account_id, status, priority, cost, kind)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, entry.ID, entry.SceneID, entry.ProjectID, entry.AccountID, entry.Status,
		entry.Priority, entry.Cost, entry.Kind,
	).Scan(&entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, activeEntryIndex) {
			return store.ErrAlreadyQueued
		}
		return fmt.Errorf("failed to enqueue scene %s: %w", entry.SceneID, err)
	}
	return nil
}

func (s *Store) GetActiveQueueEntry(ctx context.Context, tx store.DBTransaction, sceneID uuid.UUID) (*store.QueueEntry, error) {
	row := s.getExecutor(tx).QueryRowContext(ctx, `
		SELECT `+queueColumns+` FROM queue_entries
		WHERE scene_id = $1 AND status IN ('queued', 'processing')
	`, sceneID)
	return scanQueueEntry(row)
}

func (s *Store) UpdateQueueEntryStatus(ctx context.Context, tx store.DBTransaction, id uuid.UUID, from, to store.QueueStatus, errMsg *string) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE queue_entries SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, to, errMsg, id, from)
	if err != nil {
		return fmt.Errorf("failed to update queue entry %s: %w", id, err)
	}
	return expectOne(res)
}

func (s *Store) MarkQueueEntryAcked(ctx context.Context, tx store.DBTransaction, id uuid.UUID) error {
	_, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE queue_entries SET webhook_ack_at = COALESCE(webhook_ack_at, NOW()), updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

func (s *Store) ListQueueEntries(ctx context.Context, projectID uuid.UUID) ([]store.QueueEntry, error) {
	return s.queryQueue(ctx, `
		SELECT `+queueColumns+` FROM queue_entries
		WHERE project_id = $1
		ORDER BY priority ASC, created_at ASC
	`, projectID)
}

func (s *Store) ListStaleQueueEntries(ctx context.Context, status store.QueueStatus, olderThan time.Time, limit int) ([]store.QueueEntry, error) {
	if limit <= 0 {
		limit = 1
	}
	return s.queryQueue(ctx, `
		SELECT `+queueColumns+` FROM queue_entries
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, status, olderThan, limit)
}

// CountActiveQueueEntries tracks queue depth.
func (s *Store) CountActiveQueueEntries(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE status IN ('queued', 'processing')`).Scan(&count)
	return count, err
}

func (s *Store) queryQueue(ctx context.Context, query string, args ...interface{}) ([]store.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("queue query failed: %w", err)
	}
	defer rows.Close()

	var entries []store.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("queue scan failed: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
