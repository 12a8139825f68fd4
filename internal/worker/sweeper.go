package worker

import (
	"context"
	"log/slog"
	"time"

	"veostudio/internal/generation"
)

// StaleSweeper settles stale queue entries.
type StaleSweeper interface {
	SweepStale(ctx context.Context) (generation.SweepResult, error)
}

// Sweeper runs the watchdog on an interval. After a failed sweep the
// interval doubles up to maxBackoff.
type Sweeper struct {
	sweeper    StaleSweeper
	interval   time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
	done       chan struct{}
}

func NewSweeper(s StaleSweeper, interval, maxBackoff time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxBackoff < interval {
		maxBackoff = interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		sweeper:    s,
		interval:   interval,
		maxBackoff: maxBackoff,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	defer close(s.done)
	wait := s.interval
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		res, err := s.sweeper.SweepStale(ctx)
		if err != nil {
			wait *= 2
			if wait > s.maxBackoff {
				wait = s.maxBackoff
			}
			s.logger.Error("stale sweep failed", "error", err, "next_in", wait)
			continue
		}
		wait = s.interval
		if res.Total() > 0 {
			s.logger.Info("stale sweep settled entries", "compensated", res.Compensated, "timed_out", res.TimedOut)
		}
	}
}

// Done is closed once Run has returned.
func (s *Sweeper) Done() <-chan struct{} {
	return s.done
}
