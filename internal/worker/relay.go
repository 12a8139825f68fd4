// Package worker contains the background loops of the worker binary: the
// outbox relay that delivers stitch requests and the stale work sweeper.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"veostudio/internal/generation"
	"veostudio/internal/store"
	"veostudio/internal/webhook"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Outbox is the part of the store the relay consumes.
type Outbox interface {
	ClaimOutboxBatch(ctx context.Context, limit int, lease time.Duration) ([]store.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, errMsg string, retryAt time.Time) error
}

// StitchSource builds the stitcher request for a project.
type StitchSource interface {
	StitchRequest(ctx context.Context, projectID uuid.UUID) (*webhook.StitchRequest, error)
}

// Stitcher delivers stitch requests.
type Stitcher interface {
	Stitch(ctx context.Context, req webhook.StitchRequest) error
}

// RelayConfig holds configuration for the outbox relay.
type RelayConfig struct {
	Concurrency  int
	PollInterval time.Duration
	MaxBackoff   time.Duration // Maximum backoff when the outbox is empty (default: 30s)
	Lease        time.Duration // How long a claimed message stays hidden (default: 2m)
	RetryBase    time.Duration // First redelivery delay after a failure (default: 5s)
	RetryMax     time.Duration // Cap on the redelivery delay (default: 10m)
}

// Relay delivers outbox messages after the transaction that wrote them
// has committed.
type Relay struct {
	outbox   Outbox
	source   StitchSource
	stitcher Stitcher
	config   RelayConfig
	logger   *slog.Logger
	now      func() time.Time
	done     chan struct{}
}

// NewRelay creates a relay.
func NewRelay(outbox Outbox, source StitchSource, stitcher Stitcher, config RelayConfig, logger *slog.Logger) *Relay {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.Lease <= 0 {
		config.Lease = 2 * time.Minute
	}
	if config.RetryBase <= 0 {
		config.RetryBase = 5 * time.Second
	}
	if config.RetryMax <= 0 {
		config.RetryMax = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		outbox:   outbox,
		source:   source,
		stitcher: stitcher,
		config:   config,
		logger:   logger,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Run starts the pull-loop. It blocks until the context is cancelled,
// then waits for in-flight deliveries to finish.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay starting", "concurrency", r.config.Concurrency)

	sem := make(chan struct{}, r.config.Concurrency)
	var wg sync.WaitGroup

	// Signals that a slot became available (adaptive polling)
	pollNow := make(chan struct{}, 1)
	currentBackoff := r.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
			// Already a poll pending
		}
	}
	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopping, waiting for in-flight deliveries")
			wg.Wait()
			close(r.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := r.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			msgs, err := r.outbox.ClaimOutboxBatch(ctx, availableSlots, r.config.Lease)
			if err != nil {
				r.logger.Error("claim outbox batch failed", "error", err)
				currentBackoff = r.backoff(currentBackoff)
				continue
			}
			if len(msgs) == 0 {
				currentBackoff = r.backoff(currentBackoff)
				continue
			}
			currentBackoff = r.config.PollInterval

			for _, msg := range msgs {
				sem <- struct{}{}
				wg.Add(1)
				go func(msg store.OutboxMessage) {
					defer wg.Done()
					defer func() {
						<-sem
						triggerPoll()
					}()
					// Deliveries finish even if shutdown begins.
					r.process(context.WithoutCancel(ctx), msg)
				}(msg)
			}

			if len(msgs) < availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel that is closed when the relay has fully stopped.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

func (r *Relay) backoff(current time.Duration) time.Duration {
	current *= 2
	if current > r.config.MaxBackoff {
		current = r.config.MaxBackoff
	}
	return current
}

// retryDelay doubles per attempt from RetryBase up to RetryMax.
func (r *Relay) retryDelay(attempts int) time.Duration {
	delay := r.config.RetryBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= r.config.RetryMax {
			return r.config.RetryMax
		}
	}
	return delay
}

// process delivers one message and records the result on it.
func (r *Relay) process(ctx context.Context, msg store.OutboxMessage) {
	log := r.logger.With("outbox_id", msg.ID, "topic", msg.Topic, "attempt", msg.Attempts)

	var err error
	switch msg.Topic {
	case store.TopicStitchRequested:
		err = r.deliverStitch(ctx, msg)
	default:
		err = fmt.Errorf("unknown topic %q", msg.Topic)
	}

	if err != nil {
		retryAt := r.now().Add(r.retryDelay(msg.Attempts))
		log.Warn("outbox delivery failed", "error", err, "retry_at", retryAt)
		if merr := r.outbox.MarkOutboxFailed(ctx, msg.ID, err.Error(), retryAt); merr != nil {
			log.Error("failed to record outbox failure", "error", merr)
		}
		return
	}
	if err := r.outbox.MarkOutboxPublished(ctx, msg.ID); err != nil {
		log.Error("failed to mark outbox message published", "error", err)
		return
	}
	log.Info("outbox message delivered")
}

func (r *Relay) deliverStitch(ctx context.Context, msg store.OutboxMessage) error {
	var payload generation.StitchPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if payload.ProjectID == uuid.Nil {
		payload.ProjectID = msg.AggregateID
	}

	// Continue the trace of the transaction that requested the stitch.
	if payload.Trace != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(payload.Trace))
	}
	ctx, span := otel.Tracer("veostudio-relay").Start(ctx, "relay.stitch",
		trace.WithAttributes(
			attribute.String("project.id", payload.ProjectID.String()),
			attribute.Int64("outbox.id", msg.ID),
			attribute.Int("outbox.attempts", msg.Attempts),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	defer span.End()

	req, err := r.source.StitchRequest(ctx, payload.ProjectID)
	if errors.Is(err, generation.ErrStitchNotNeeded) || errors.Is(err, generation.ErrNotFound) {
		// The project moved on (regenerated, finished or deleted).
		r.logger.Info("stitch no longer needed", "project_id", payload.ProjectID, "reason", err)
		return nil
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("build stitch request: %w", err)
	}

	if err := r.stitcher.Stitch(ctx, *req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("stitch.scenes", len(req.ArtifactURLs)))
	return nil
}
