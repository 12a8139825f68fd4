// Package assist implements the paid creative helpers: script suggestions
// from an LLM and generated scene thumbnails. Each call is debited up front
// and refunded if the provider fails.
package assist

import (
	"context"
	"errors"
	"log/slog"

	"veostudio/internal/ledger"
	"veostudio/internal/logger"
	"veostudio/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrUnavailable is returned when the provider for a helper is not configured.
var ErrUnavailable = errors.New("assist provider not configured")

// Scenes is the scene access the helpers need.
type Scenes interface {
	Scene(ctx context.Context, accountID, sceneID uuid.UUID) (*store.Scene, error)
	Project(ctx context.Context, accountID, projectID uuid.UUID) (*store.Project, []store.Scene, error)
	SetThumbnail(ctx context.Context, sceneID uuid.UUID, url string) error
}

// LLM completes a system and user prompt pair.
type LLM interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ImageGenerator renders an image and returns its URL.
type ImageGenerator interface {
	Generate(ctx context.Context, req ImageRequest) (string, error)
}

type Config struct {
	ScriptCost    decimal.Decimal
	ThumbnailCost decimal.Decimal
}

// Service runs the helpers. LLM and Images may be nil, in which case the
// matching helper returns ErrUnavailable.
type Service struct {
	scenes Scenes
	ledger *ledger.Ledger
	llm    LLM
	images ImageGenerator
	cfg    Config
	logger *slog.Logger
}

func New(scenes Scenes, l *ledger.Ledger, llm LLM, images ImageGenerator, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ScriptCost.IsZero() {
		cfg.ScriptCost = decimal.RequireFromString("0.01")
	}
	if cfg.ThumbnailCost.IsZero() {
		cfg.ThumbnailCost = decimal.RequireFromString("0.01")
	}
	return &Service{
		scenes: scenes,
		ledger: l,
		llm:    llm,
		images: images,
		cfg:    cfg,
		logger: log,
	}
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx, s.logger)
}
