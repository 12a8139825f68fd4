package generation

import (
	"context"
	"fmt"

	"veostudio/internal/logger"
	"veostudio/internal/store"
)

const sweepBatch = 100

// SweepResult counts the work a sweep settled.
type SweepResult struct {
	Compensated int // never confirmed by the worker, refunded
	TimedOut    int // accepted but never reported back, failed as an attempt
}

// Total returns the number of settled entries.
func (r SweepResult) Total() int {
	return r.Compensated + r.TimedOut
}

// SweepStale settles queue entries that have not moved for longer than the
// stale timeout. Entries the worker never acknowledged are compensated like
// a failed dispatch; acknowledged or processing entries fail through the
// callback path so retries and the exhaustion refund apply.
func (s *Service) SweepStale(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	cutoff := s.now().Add(-s.cfg.StaleTimeout)
	log := logger.FromContext(ctx, s.logger)

	queued, err := s.store.ListStaleQueueEntries(ctx, store.QueueStatusQueued, cutoff, sweepBatch)
	if err != nil {
		return res, fmt.Errorf("list stale queued entries: %w", err)
	}
	for _, e := range queued {
		if e.WebhookAckAt == nil {
			msg := fmt.Sprintf("dispatch not confirmed within %s", s.cfg.StaleTimeout)
			applied, err := s.compensate(ctx, e.ID, e.SceneID, msg, "watchdog")
			if err != nil {
				log.Error("failed to compensate stale entry", "queue_entry_id", e.ID, "error", err)
				continue
			}
			if applied {
				res.Compensated++
			}
			continue
		}
		if s.timeOut(ctx, e) {
			res.TimedOut++
		}
	}

	processing, err := s.store.ListStaleQueueEntries(ctx, store.QueueStatusProcessing, cutoff, sweepBatch)
	if err != nil {
		return res, fmt.Errorf("list stale processing entries: %w", err)
	}
	for _, e := range processing {
		if s.timeOut(ctx, e) {
			res.TimedOut++
		}
	}

	if res.Total() > 0 {
		log.Info("stale work swept", "compensated", res.Compensated, "timed_out", res.TimedOut)
	}
	return res, nil
}

func (s *Service) timeOut(ctx context.Context, e store.QueueEntry) bool {
	out, err := s.OnCallback(ctx, e.SceneID, Outcome{
		Success:      false,
		ErrorMessage: "generation timed out",
		QueueEntryID: e.ID,
	})
	if err != nil {
		logger.FromContext(ctx, s.logger).Error("failed to time out stale entry", "queue_entry_id", e.ID, "error", err)
		return false
	}
	return out.Applied
}
