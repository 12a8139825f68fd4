package generation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"veostudio/internal/events"
	"veostudio/internal/ledger"
	"veostudio/internal/logger"
	"veostudio/internal/observability"
	"veostudio/internal/queue"
	"veostudio/internal/scene"
	"veostudio/internal/store"
	"veostudio/internal/webhook"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DispatchOptions modify a dispatch.
type DispatchOptions struct {
	// ForceRegenerate allows regenerating a completed scene.
	ForceRegenerate bool
}

// DispatchResult is returned for a dispatched scene.
type DispatchResult struct {
	SceneID      uuid.UUID
	QueueEntryID uuid.UUID
	Status       store.SceneStatus
	Cost         decimal.Decimal
	NewBalance   decimal.Decimal
}

// reservation is the committed outcome of the local dispatch steps.
type reservation struct {
	entry   *store.QueueEntry
	balance decimal.Decimal
	request webhook.GenerationRequest
}

// Dispatch charges the account, enqueues the scene and sends it to the
// worker. If the worker cannot be reached the debit is refunded and the
// scene and its queue entry are failed together before the error is
// returned.
func (s *Service) Dispatch(ctx context.Context, accountID, sceneID uuid.UUID, opts DispatchOptions) (*DispatchResult, error) {
	ctx, span := s.tracer.Start(ctx, "generation.dispatch",
		trace.WithAttributes(
			attribute.String("scene.id", sceneID.String()),
			attribute.String("account.id", accountID.String()),
			attribute.Bool("force_regenerate", opts.ForceRegenerate),
		),
	)
	defer span.End()
	log := logger.FromContext(ctx, s.logger).With("scene_id", sceneID)

	rsv, err := s.reserve(ctx, accountID, sceneID, opts)
	if err != nil {
		s.ledger.HaltIfCorrupted(ctx, err)
		if errors.Is(err, ledger.ErrLedgerCorrupted) {
			s.metrics.LedgerHalts.Add(ctx, 1)
		}
		span.SetStatus(codes.Error, err.Error())
		s.metrics.Dispatches.Add(ctx, 1, observability.Outcome(rejectionOutcome(err)))
		return nil, err
	}
	span.SetAttributes(attribute.String("queue_entry.id", rsv.entry.ID.String()))

	result := &DispatchResult{
		SceneID:      sceneID,
		QueueEntryID: rsv.entry.ID,
		Status:       store.SceneStatusQueued,
		Cost:         rsv.entry.Cost,
		NewBalance:   rsv.balance,
	}

	if werr := s.worker.Dispatch(ctx, rsv.request); werr != nil {
		derr := ErrDispatchRejected
		if errors.Is(werr, webhook.ErrTimeout) {
			derr = ErrDispatchTimeout
		}
		span.RecordError(werr)

		applied, cerr := s.compensate(ctx, rsv.entry.ID, sceneID, werr.Error(), "dispatch_failed")
		if cerr != nil {
			// The watchdog refunds the entry once it goes stale.
			log.Error("dispatch compensation failed", "queue_entry_id", rsv.entry.ID, "error", cerr)
			span.SetStatus(codes.Error, cerr.Error())
			s.metrics.Dispatches.Add(ctx, 1, observability.Outcome("compensation_failed"))
			return nil, fmt.Errorf("%w: %v", derr, werr)
		}
		if applied {
			span.SetStatus(codes.Error, werr.Error())
			s.metrics.Dispatches.Add(ctx, 1, observability.Outcome("compensated"))
			log.Warn("dispatch compensated", "queue_entry_id", rsv.entry.ID, "error", werr)
			return nil, fmt.Errorf("%w: %v", derr, werr)
		}
		// The worker reported back before the failure surfaced here, so
		// the request did reach it.
		log.Warn("dispatch error after worker callback, keeping result", "error", werr)
	}

	status, err := s.confirm(ctx, rsv.entry.ID, sceneID)
	if err != nil {
		log.Error("failed to confirm dispatch", "queue_entry_id", rsv.entry.ID, "error", err)
		status = store.SceneStatusQueued
	}
	result.Status = status
	s.metrics.Dispatches.Add(ctx, 1, observability.Outcome("dispatched"))
	log.Info("scene dispatched",
		"queue_entry_id", rsv.entry.ID,
		"cost", result.Cost.StringFixed(2),
		"balance", result.NewBalance.StringFixed(2),
	)
	return result, nil
}

func rejectionOutcome(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrAlreadyInProgress):
		return "already_in_progress"
	case errors.Is(err, ErrRetryLimitExceeded):
		return "retry_limit_exceeded"
	case errors.Is(err, ledger.ErrLedgerHalted), errors.Is(err, ledger.ErrLedgerCorrupted):
		return "ledger_halted"
	default:
		return "rejected"
	}
}

// reserve runs the local dispatch steps in one transaction: debit,
// queue entry and scene transition. Any failure rolls all of them back.
func (s *Service) reserve(ctx context.Context, accountID, sceneID uuid.UUID, opts DispatchOptions) (*reservation, error) {
	current, err := s.ownedScene(ctx, accountID, sceneID)
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

	if strings.TrimSpace(sc.ScriptText) == "" {
		return nil, ErrMissingScript
	}
	if scene.InFlight(sc.Status) {
		return nil, ErrAlreadyInProgress
	}

	event, cost, kind := scene.EventQueue, s.cfg.GenerationCost, store.EntryKindGeneration
	switch sc.Status {
	case store.SceneStatusCompleted:
		if !opts.ForceRegenerate {
			return nil, ErrAlreadyCompleted
		}
		event, cost, kind = scene.EventRegenerate, s.cfg.RegenerationCost, store.EntryKindRegeneration
	case store.SceneStatusFailed:
		if sc.RetryCount >= scene.MaxRetries {
			return nil, &RetryLimitError{RetryCount: sc.RetryCount, MaxRetries: scene.MaxRetries}
		}
	}
	if project.Status == store.ProjectStatusStitching {
		return nil, ErrProjectStitching
	}

	debit, err := s.ledger.DebitTx(ctx, tx, ledger.Posting{
		AccountID:   accountID,
		Amount:      cost,
		Kind:        kind,
		Description: fmt.Sprintf("Scene %d %s", sc.Index, kind),
		ReferenceID: sc.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	entry, err := s.queue.Enqueue(ctx, tx, queue.EnqueueRequest{
		SceneID:   sc.ID,
		AccountID: accountID,
		ProjectID: sc.ProjectID,
		Priority:  sc.Index,
		Cost:      cost,
		Kind:      kind,
	})
	if errors.Is(err, queue.ErrAlreadyQueued) {
		return nil, ErrAlreadyInProgress
	}
	if err != nil {
		return nil, err
	}

	wasCompleted := sc.Status == store.SceneStatusCompleted
	from, err := scene.Apply(sc, scene.Transition{Event: event, Cost: cost, At: s.now()})
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateSceneState(ctx, tx, sc, from); err != nil {
		if errors.Is(err, store.ErrStaleState) {
			return nil, ErrAlreadyInProgress
		}
		return nil, fmt.Errorf("update scene: %w", err)
	}

	projectChanged, err := s.markGenerating(ctx, tx, project)
	if err != nil {
		return nil, err
	}
	if wasCompleted {
		if _, err := s.recount(ctx, tx, project); err != nil {
			return nil, err
		}
		projectChanged = true
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	evs := []events.Event{events.SceneUpdated(sc)}
	if projectChanged {
		evs = append(evs, events.ProjectUpdated(project))
	}
	s.publish(ctx, evs...)

	return &reservation{
		entry:   entry,
		balance: debit.BalanceAfter,
		request: webhook.GenerationRequest{
			SceneID:           sc.ID,
			ProjectID:         sc.ProjectID,
			SceneIndex:        sc.Index,
			ScriptText:        sc.ScriptText,
			CameraMovement:    sc.CameraMovement,
			CameraTier:        sc.CameraTier,
			AudioClipURL:      sc.AudioClipURL,
			CharacterImageURL: project.CharacterImageURL,
			Priority:          entry.Priority,
			QueueEntryID:      entry.ID,
			Attempt:           sc.RetryCount + 1,
			CallbackURL:       s.cfg.CallbackURL,
		},
	}, nil
}

// confirm moves a dispatched scene and its entry to processing. If a
// callback already settled the entry, the scene's current status is
// returned unchanged.
func (s *Service) confirm(ctx context.Context, entryID, sceneID uuid.UUID) (store.SceneStatus, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sc, err := s.store.LockScene(ctx, tx, sceneID)
	if err != nil {
		return "", fmt.Errorf("lock scene: %w", err)
	}
	entry, err := s.queue.Active(ctx, tx, sceneID)
	if errors.Is(err, queue.ErrEntryNotFound) {
		return sc.Status, nil
	}
	if err != nil {
		return "", err
	}
	if entry.ID != entryID || entry.Status != store.QueueStatusQueued || sc.Status != store.SceneStatusQueued {
		return sc.Status, nil
	}

	from, err := scene.Apply(sc, scene.Transition{Event: scene.EventDispatched, At: s.now()})
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateSceneState(ctx, tx, sc, from); err != nil {
		return "", fmt.Errorf("update scene: %w", err)
	}
	if err := s.queue.MarkProcessing(ctx, tx, entryID); err != nil {
		return "", fmt.Errorf("update queue entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	s.publish(ctx, events.SceneUpdated(sc))
	return sc.Status, nil
}

// compensate refunds a queued entry that never reached the worker and
// fails it together with its scene. It reports false if the entry is no
// longer queued, which means a callback or an earlier compensation won.
func (s *Service) compensate(ctx context.Context, entryID, sceneID uuid.UUID, msg, reason string) (bool, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sc, err := s.store.LockScene(ctx, tx, sceneID)
	if err != nil {
		return false, fmt.Errorf("lock scene: %w", err)
	}
	entry, err := s.queue.Active(ctx, tx, sceneID)
	if errors.Is(err, queue.ErrEntryNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if entry.ID != entryID || entry.Status != store.QueueStatusQueued || sc.Status != store.SceneStatusQueued {
		return false, nil
	}

	if err := s.queue.MarkDispatchFailed(ctx, tx, entry, sc, msg); err != nil {
		return false, err
	}
	_, err = s.ledger.CreditTx(ctx, tx, ledger.Posting{
		AccountID:      entry.AccountID,
		Amount:         entry.Cost,
		Kind:           store.EntryKindRefund,
		Description:    fmt.Sprintf("Refund: scene %d dispatch failed", sc.Index),
		ReferenceID:    sceneID.String(),
		IdempotencyKey: "dispatch-failed:" + entry.ID.String(),
	})
	if err != nil {
		return false, fmt.Errorf("refund: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	s.metrics.Refunds.Add(ctx, 1, observability.Outcome(reason))
	s.publish(ctx, events.SceneUpdated(sc))
	return true, nil
}

// BulkResult is the outcome of one scene in a bulk dispatch.
type BulkResult struct {
	SceneID uuid.UUID
	Result  *DispatchResult
	Err     error
}

// DispatchBulk dispatches each scene independently. Scenes are started in
// index order so queue entries are created in script order; results are
// returned in input order.
func (s *Service) DispatchBulk(ctx context.Context, accountID uuid.UUID, sceneIDs []uuid.UUID) []BulkResult {
	results := make([]BulkResult, len(sceneIDs))
	index := make([]int, len(sceneIDs))
	order := make([]int, len(sceneIDs))
	for i, id := range sceneIDs {
		results[i].SceneID = id
		order[i] = i
		index[i] = math.MaxInt
		if sc, err := s.store.GetScene(ctx, nil, id); err == nil {
			index[i] = sc.Index
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return index[order[a]] < index[order[b]] })

	sem := make(chan struct{}, s.cfg.BulkConcurrency)
	var wg sync.WaitGroup
	for _, i := range order {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := s.Dispatch(ctx, accountID, sceneIDs[i], DispatchOptions{})
			results[i].Result = res
			results[i].Err = err
		}(i)
	}
	wg.Wait()
	return results
}
