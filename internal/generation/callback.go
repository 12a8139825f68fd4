package generation

import (
	"context"
	"errors"
	"fmt"

	"veostudio/internal/events"
	"veostudio/internal/ledger"
	"veostudio/internal/logger"
	"veostudio/internal/observability"
	"veostudio/internal/queue"
	"veostudio/internal/scene"
	"veostudio/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Outcome is a result reported by the worker.
type Outcome struct {
	Success      bool
	ArtifactURL  string
	ThumbnailURL string
	ErrorMessage string
	ProcessingMs *int64

	// QueueEntryID, when set, must match the scene's active entry.
	QueueEntryID uuid.UUID
	// Attempt echoes the attempt number of the dispatch. 0 means not reported.
	Attempt int
}

// CallbackResult describes what a callback changed.
type CallbackResult struct {
	Applied         bool
	Status          store.SceneStatus
	RetryCount      int
	Refunded        bool
	StitchTriggered bool
}

const defaultFailureMessage = "generation failed"

// OnCallback applies a worker result to the scene's active queue entry.
// Callbacks that find no matching active entry are duplicates or stale;
// they are logged and reported with Applied=false.
func (s *Service) OnCallback(ctx context.Context, sceneID uuid.UUID, out Outcome) (*CallbackResult, error) {
	ctx, span := s.tracer.Start(ctx, "generation.callback",
		trace.WithAttributes(
			attribute.String("scene.id", sceneID.String()),
			attribute.Bool("success", out.Success),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	if out.Success && out.ArtifactURL == "" {
		return nil, fmt.Errorf("%w: completed callback without artifact url", ErrInvalidOutcome)
	}
	if !out.Success && out.ErrorMessage == "" {
		out.ErrorMessage = defaultFailureMessage
	}

	current, err := s.store.GetScene(ctx, nil, sceneID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	project, err := s.store.LockProject(ctx, tx, current.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("lock project: %w", err)
	}
	sc, err := s.store.LockScene(ctx, tx, sceneID)
	if err != nil {
		return nil, fmt.Errorf("lock scene: %w", err)
	}

	entry, err := s.queue.Active(ctx, tx, sceneID)
	if err != nil && !errors.Is(err, queue.ErrEntryNotFound) {
		return nil, err
	}
	if entry == nil || !scene.InFlight(sc.Status) ||
		(out.QueueEntryID != uuid.Nil && out.QueueEntryID != entry.ID) ||
		staleFailure(sc, out) {
		return s.ignoreCallback(ctx, sc, out), nil
	}

	if err := s.queue.MarkAcked(ctx, tx, entry.ID); err != nil {
		return nil, fmt.Errorf("ack queue entry: %w", err)
	}

	res := &CallbackResult{Applied: true}
	evs := []events.Event{}

	if out.Success {
		from, err := scene.Apply(sc, scene.Transition{
			Event:        scene.EventComplete,
			At:           s.now(),
			ArtifactURL:  out.ArtifactURL,
			ThumbnailURL: out.ThumbnailURL,
			ProcessingMs: out.ProcessingMs,
		})
		if err != nil {
			return nil, err
		}
		if err := s.store.UpdateSceneState(ctx, tx, sc, from); err != nil {
			return nil, fmt.Errorf("update scene: %w", err)
		}
		if err := s.queue.Finish(ctx, tx, entry, true, ""); err != nil {
			return nil, fmt.Errorf("complete queue entry: %w", err)
		}
		triggered, err := s.onSceneCompletionChanged(ctx, tx, project)
		if err != nil {
			return nil, err
		}
		res.StitchTriggered = triggered
	} else {
		from, err := scene.Apply(sc, scene.Transition{
			Event:        scene.EventFail,
			At:           s.now(),
			ErrorMessage: out.ErrorMessage,
			CountAttempt: true,
		})
		if err != nil {
			return nil, err
		}
		if err := s.store.UpdateSceneState(ctx, tx, sc, from); err != nil {
			return nil, fmt.Errorf("update scene: %w", err)
		}
		if err := s.queue.Finish(ctx, tx, entry, false, out.ErrorMessage); err != nil {
			return nil, fmt.Errorf("fail queue entry: %w", err)
		}
		if scene.Exhausted(sc) {
			refunded, err := s.refundExhausted(ctx, tx, sc, entry)
			if err != nil {
				return nil, err
			}
			res.Refunded = refunded
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	res.Status = sc.Status
	res.RetryCount = sc.RetryCount

	evs = append(evs, events.SceneUpdated(sc))
	if out.Success {
		evs = append(evs, events.ProjectUpdated(project))
	}
	s.publish(ctx, evs...)

	s.metrics.Callbacks.Add(ctx, 1, observability.Outcome(string(sc.Status)))
	if res.Refunded {
		s.metrics.Refunds.Add(ctx, 1, observability.Outcome("retries_exhausted"))
	}
	if res.StitchTriggered {
		s.metrics.StitchTriggers.Add(ctx, 1)
	}

	logger.FromContext(ctx, s.logger).Info("callback applied",
		"scene_id", sceneID,
		"status", sc.Status,
		"retry_count", sc.RetryCount,
		"refunded", res.Refunded,
		"stitch_triggered", res.StitchTriggered,
	)
	return res, nil
}

// staleFailure reports whether a failure that does not name its queue entry
// belongs to an earlier attempt than the one in flight. Every counted failure
// advances RetryCount, so the attempt in flight is RetryCount+1. A failure
// with no attempt number can only be matched to the first attempt.
func staleFailure(sc *store.Scene, out Outcome) bool {
	if out.Success || out.QueueEntryID != uuid.Nil {
		return false
	}
	current := sc.RetryCount + 1
	if out.Attempt > 0 {
		return out.Attempt != current
	}
	return current > 1
}

// ignoreCallback records a callback that has nothing to apply.
func (s *Service) ignoreCallback(ctx context.Context, sc *store.Scene, out Outcome) *CallbackResult {
	reported := store.SceneStatusFailed
	if out.Success {
		reported = store.SceneStatusCompleted
	}
	kind := "stale"
	if sc.Status == reported {
		kind = "duplicate"
	}
	s.metrics.Callbacks.Add(ctx, 1, observability.Outcome(kind))
	logger.FromContext(ctx, s.logger).Warn("callback ignored",
		"kind", kind,
		"scene_id", sc.ID,
		"current_status", sc.Status,
		"reported_status", reported,
		"queue_entry_id", out.QueueEntryID,
		"attempt", out.Attempt,
	)
	return &CallbackResult{Applied: false, Status: sc.Status, RetryCount: sc.RetryCount}
}

// refundExhausted returns the last attempt's cost once per scene.
func (s *Service) refundExhausted(ctx context.Context, tx store.DBTransaction, sc *store.Scene, entry *store.QueueEntry) (bool, error) {
	key := "scene-exhausted:" + sc.ID.String()
	exists, err := s.store.LedgerEntryExists(ctx, tx, key)
	if err != nil {
		return false, fmt.Errorf("check refund: %w", err)
	}
	if exists {
		return false, nil
	}

	amount := sc.GenerationCost
	if !amount.IsPositive() {
		amount = entry.Cost
	}
	_, err = s.ledger.CreditTx(ctx, tx, ledger.Posting{
		AccountID:      sc.AccountID,
		Amount:         amount,
		Kind:           store.EntryKindRefund,
		Description:    fmt.Sprintf("Refund: scene %d failed after %d attempts", sc.Index, sc.RetryCount),
		ReferenceID:    sc.ID.String(),
		IdempotencyKey: key,
	})
	if errors.Is(err, ledger.ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("refund: %w", err)
	}
	return true, nil
}

// Ack records that the worker received the scene's active dispatch. It
// reports false when the scene has no active entry.
func (s *Service) Ack(ctx context.Context, sceneID uuid.UUID) (bool, error) {
	entry, err := s.queue.Active(ctx, nil, sceneID)
	if errors.Is(err, queue.ErrEntryNotFound) {
		if _, gerr := s.store.GetScene(ctx, nil, sceneID); errors.Is(gerr, store.ErrNotFound) {
			return false, ErrNotFound
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.queue.MarkAcked(ctx, nil, entry.ID); err != nil {
		return false, fmt.Errorf("ack queue entry: %w", err)
	}
	return true, nil
}
