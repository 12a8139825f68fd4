package postgres

import (
	"context"
	"fmt"
	"time"

	"veostudio/internal/store"

	"github.com/lib/pq"
)

// AddOutboxMessage must be called with the transaction that commits the
// state change the message belongs to.
func (s *Store) AddOutboxMessage(ctx context.Context, tx store.DBTransaction, msg *store.OutboxMessage) error {
	visibleAfter := msg.VisibleAfter
	if visibleAfter.IsZero() {
		visibleAfter = time.Now()
	}

	err := s.getExecutor(tx).QueryRowContext(ctx, `
		INSERT INTO outbox (topic, aggregate_id, payload, visible_after)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, msg.Topic, msg.AggregateID, []byte(msg.Payload), visibleAfter).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add outbox message %s: %w", msg.Topic, err)
	}
	msg.VisibleAfter = visibleAfter
	return nil
}

// ClaimOutboxBatch claims up to 'limit' unpublished messages atomically using SELECT ... FOR UPDATE SKIP LOCKED.
// Claimed messages stay hidden for lease so a crashed relay does not lose them.
func (s *Store) ClaimOutboxBatch(ctx context.Context, limit int, lease time.Duration) ([]store.OutboxMessage, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, topic, aggregate_id, payload, attempts, last_error, visible_after, created_at
		FROM outbox
		WHERE published_at IS NULL AND visible_after <= NOW()
		ORDER BY id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox claim query failed: %w", err)
	}
	defer rows.Close()

	var msgs []store.OutboxMessage
	var ids []int64
	for rows.Next() {
		var m store.OutboxMessage
		var payload []byte
		if err := rows.Scan(&m.ID, &m.Topic, &m.AggregateID, &payload, &m.Attempts, &m.LastError, &m.VisibleAfter, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox claim scan failed: %w", err)
		}
		m.Payload = payload
		msgs = append(msgs, m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox claim rows error: %w", err)
	}

	if len(msgs) == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE outbox
		SET visible_after = NOW() + ($1 * INTERVAL '1 second'), attempts = attempts + 1
		WHERE id = ANY($2)
	`, lease.Seconds(), pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("outbox lease update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for i := range msgs {
		msgs[i].Attempts++
	}
	return msgs, nil
}

func (s *Store) MarkOutboxPublished(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox SET published_at = NOW(), last_error = NULL WHERE id = $1`, id)
	return err
}

func (s *Store) MarkOutboxFailed(ctx context.Context, id int64, errMsg string, retryAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET last_error = $1, visible_after = $2 WHERE id = $3
	`, errMsg, retryAt, id)
	return err
}
