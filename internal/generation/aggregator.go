package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"veostudio/internal/events"
	"veostudio/internal/logger"
	"veostudio/internal/observability"
	"veostudio/internal/store"
	"veostudio/internal/webhook"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StitchPayload is the body of a stitch.requested outbox message.
type StitchPayload struct {
	ProjectID uuid.UUID         `json:"projectId"`
	Trace     map[string]string `json:"trace,omitempty"`
}

// StitchOutcome is the stitcher's report for a project.
type StitchOutcome struct {
	Success          bool
	FinalArtifactURL string
	ErrorMessage     string
}

func (s *Service) targetScenes(p *store.Project) int {
	if p.SceneCount > 0 {
		return p.SceneCount
	}
	return s.cfg.ScenesPerProject
}

// markGenerating moves the project to generating when one of its scenes is
// dispatched. It reports whether the status changed.
func (s *Service) markGenerating(ctx context.Context, tx store.DBTransaction, p *store.Project) (bool, error) {
	switch p.Status {
	case store.ProjectStatusGenerating:
		return false, nil
	case store.ProjectStatusStitching:
		return false, ErrProjectStitching
	}
	from := []store.ProjectStatus{
		store.ProjectStatusDraft,
		store.ProjectStatusEditing,
		store.ProjectStatusCompleted,
		store.ProjectStatusFailed,
	}
	if err := s.store.UpdateProjectStatus(ctx, tx, p.ID, from, store.ProjectStatusGenerating); err != nil {
		return false, fmt.Errorf("update project status: %w", err)
	}
	p.Status = store.ProjectStatusGenerating
	p.FinalArtifactURL = nil
	return true, nil
}

// markEditing moves a draft project to editing after its first scene edit.
func (s *Service) markEditing(ctx context.Context, tx store.DBTransaction, p *store.Project) (bool, error) {
	if p.Status != store.ProjectStatusDraft {
		return false, nil
	}
	from := []store.ProjectStatus{store.ProjectStatusDraft}
	if err := s.store.UpdateProjectStatus(ctx, tx, p.ID, from, store.ProjectStatusEditing); err != nil {
		return false, fmt.Errorf("update project status: %w", err)
	}
	p.Status = store.ProjectStatusEditing
	return true, nil
}

// recount stores the number of completed scenes on the project.
func (s *Service) recount(ctx context.Context, tx store.DBTransaction, p *store.Project) (int, error) {
	n, err := s.store.CountScenesByStatus(ctx, tx, p.ID, store.SceneStatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("count completed scenes: %w", err)
	}
	if n != p.ScenesCompletedCount {
		if err := s.store.SetScenesCompletedCount(ctx, tx, p.ID, n); err != nil {
			return 0, fmt.Errorf("set completed count: %w", err)
		}
		p.ScenesCompletedCount = n
	}
	return n, nil
}

// onSceneCompletionChanged recounts completed scenes under the project lock
// and, when all of them are done, moves the project to stitching and
// writes the stitch request to the outbox in the same transaction.
func (s *Service) onSceneCompletionChanged(ctx context.Context, tx store.DBTransaction, p *store.Project) (bool, error) {
	n, err := s.recount(ctx, tx, p)
	if err != nil {
		return false, err
	}
	if n < s.targetScenes(p) {
		return false, nil
	}
	switch p.Status {
	case store.ProjectStatusStitching, store.ProjectStatusCompleted, store.ProjectStatusFailed:
		return false, nil
	}

	from := []store.ProjectStatus{
		store.ProjectStatusDraft,
		store.ProjectStatusEditing,
		store.ProjectStatusGenerating,
	}
	err = s.store.UpdateProjectStatus(ctx, tx, p.ID, from, store.ProjectStatusStitching)
	if errors.Is(err, store.ErrStaleState) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("update project status: %w", err)
	}
	p.Status = store.ProjectStatusStitching

	payload := StitchPayload{ProjectID: p.ID, Trace: map[string]string{}}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(payload.Trace))
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode stitch payload: %w", err)
	}
	msg := &store.OutboxMessage{
		Topic:       store.TopicStitchRequested,
		AggregateID: p.ID,
		Payload:     body,
	}
	if err := s.store.AddOutboxMessage(ctx, tx, msg); err != nil {
		return false, fmt.Errorf("add outbox message: %w", err)
	}
	return true, nil
}

// OnSceneCompletionChanged re-evaluates a project's aggregate state in its
// own transaction. It reports whether stitching was triggered.
func (s *Service) OnSceneCompletionChanged(ctx context.Context, projectID uuid.UUID) (bool, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := s.store.LockProject(ctx, tx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("lock project: %w", err)
	}
	before := p.ScenesCompletedCount
	triggered, err := s.onSceneCompletionChanged(ctx, tx, p)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	if triggered {
		s.metrics.StitchTriggers.Add(ctx, 1)
	}
	if triggered || before != p.ScenesCompletedCount {
		s.publish(ctx, events.ProjectUpdated(p))
	}
	return triggered, nil
}

// OnStitchComplete finalizes a stitching project. Reports for projects
// that are not stitching are ignored and return false.
func (s *Service) OnStitchComplete(ctx context.Context, projectID uuid.UUID, out StitchOutcome) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "generation.stitch_complete",
		trace.WithAttributes(
			attribute.String("project.id", projectID.String()),
			attribute.Bool("success", out.Success),
		),
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()
	log := logger.FromContext(ctx, s.logger).With("project_id", projectID)

	if out.Success && out.FinalArtifactURL == "" {
		return false, fmt.Errorf("%w: completed stitch without final artifact url", ErrInvalidOutcome)
	}
	if !out.Success && out.ErrorMessage == "" {
		out.ErrorMessage = "stitching failed"
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := s.store.LockProject(ctx, tx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("lock project: %w", err)
	}
	if p.Status != store.ProjectStatusStitching {
		log.Warn("stitch result ignored", "current_status", p.Status, "success", out.Success)
		return false, nil
	}

	firstCompletion := !p.VideoCounted
	if out.Success {
		url := out.FinalArtifactURL
		if err := s.store.FinalizeProject(ctx, tx, p.ID, store.ProjectStatusCompleted, &url, nil); err != nil {
			return false, fmt.Errorf("finalize project: %w", err)
		}
		p.Status = store.ProjectStatusCompleted
		p.FinalArtifactURL = &url
		p.ErrorMessage = nil
		p.VideoCounted = true
		if firstCompletion {
			if err := s.store.IncrementVideosCreated(ctx, tx, p.AccountID); err != nil {
				return false, fmt.Errorf("increment videos created: %w", err)
			}
		}
	} else {
		msg := out.ErrorMessage
		if err := s.store.FinalizeProject(ctx, tx, p.ID, store.ProjectStatusFailed, nil, &msg); err != nil {
			return false, fmt.Errorf("finalize project: %w", err)
		}
		p.Status = store.ProjectStatusFailed
		p.FinalArtifactURL = nil
		p.ErrorMessage = &msg
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	s.publish(ctx, events.ProjectUpdated(p))
	s.metrics.Callbacks.Add(ctx, 1, observability.Outcome("stitch_"+string(p.Status)))
	log.Info("project finalized", "status", p.Status)
	return true, nil
}

// StitchRequest builds the stitcher request for a project awaiting
// stitching from its completed scenes in index order.
func (s *Service) StitchRequest(ctx context.Context, projectID uuid.UUID) (*webhook.StitchRequest, error) {
	p, err := s.store.GetProject(ctx, nil, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.Status != store.ProjectStatusStitching {
		return nil, ErrStitchNotNeeded
	}

	scenes, err := s.store.ListScenes(ctx, nil, projectID)
	if err != nil {
		return nil, fmt.Errorf("list scenes: %w", err)
	}
	urls := make([]string, 0, len(scenes))
	for _, sc := range scenes {
		if sc.Status != store.SceneStatusCompleted || sc.ArtifactURL == nil || *sc.ArtifactURL == "" {
			continue
		}
		urls = append(urls, *sc.ArtifactURL)
	}
	if want := s.targetScenes(p); len(urls) < want {
		return nil, fmt.Errorf("%w: %d of %d scenes have artifacts", ErrStitchNotReady, len(urls), want)
	}

	return &webhook.StitchRequest{
		ProjectID:    projectID,
		ArtifactURLs: urls,
		CallbackURL:  s.cfg.StitchCallbackURL,
	}, nil
}
