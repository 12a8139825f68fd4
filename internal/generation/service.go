// Package generation orchestrates scene generation: paid dispatch to the
// external worker, completion callbacks, project aggregation and the
// stale-work watchdog.
package generation

import (
	"context"
	"log/slog"
	"time"

	"veostudio/internal/camera"
	"veostudio/internal/events"
	"veostudio/internal/ledger"
	"veostudio/internal/observability"
	"veostudio/internal/queue"
	"veostudio/internal/store"
	"veostudio/internal/webhook"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Store is the persistence the service needs.
type Store interface {
	store.Transactor
	store.AccountStore
	store.LedgerStore
	store.ProjectStore
	store.SceneStore
	store.QueueStore
	store.OutboxStore
}

// WorkerClient sends generation requests to the external worker.
type WorkerClient interface {
	Dispatch(ctx context.Context, req webhook.GenerationRequest) error
}

// Config holds the business settings of the service.
type Config struct {
	GenerationCost    decimal.Decimal
	RegenerationCost  decimal.Decimal
	ScenesPerProject  int
	CallbackURL       string // where the worker reports results
	StitchCallbackURL string // where the stitcher reports results
	StaleTimeout      time.Duration
	BulkConcurrency   int
}

// Deps are the collaborators of the service. Store and Worker are required.
type Deps struct {
	Store   Store
	Ledger  *ledger.Ledger
	Queue   *queue.Coordinator
	Worker  WorkerClient
	Events  events.Publisher
	Catalog *camera.Catalog
	Metrics *observability.Instruments
	Logger  *slog.Logger
}

// Service implements the generation core.
type Service struct {
	store   Store
	ledger  *ledger.Ledger
	queue   *queue.Coordinator
	worker  WorkerClient
	events  events.Publisher
	catalog *camera.Catalog
	metrics *observability.Instruments
	cfg     Config
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// New creates the service, filling unset dependencies and settings with
// defaults.
func New(d Deps, cfg Config) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Ledger == nil {
		d.Ledger = ledger.New(d.Store, d.Logger)
	}
	if d.Queue == nil {
		d.Queue = queue.New(d.Store, d.Logger)
	}
	if d.Events == nil {
		d.Events = events.Discard{}
	}
	if d.Catalog == nil {
		d.Catalog = camera.Default()
	}
	if d.Metrics == nil {
		d.Metrics = observability.NopInstruments()
	}

	if cfg.GenerationCost.IsZero() {
		cfg.GenerationCost = decimal.RequireFromString("0.98")
	}
	if cfg.RegenerationCost.IsZero() {
		cfg.RegenerationCost = cfg.GenerationCost
	}
	if cfg.ScenesPerProject <= 0 {
		cfg.ScenesPerProject = 20
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = 30 * time.Minute
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = 4
	}

	return &Service{
		store:   d.Store,
		ledger:  d.Ledger,
		queue:   d.Queue,
		worker:  d.Worker,
		events:  d.Events,
		catalog: d.Catalog,
		metrics: d.Metrics,
		cfg:     cfg,
		logger:  d.Logger,
		tracer:  otel.Tracer("veostudio-generation"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the effective settings.
func (s *Service) Config() Config {
	return s.cfg
}

// publish delivers events collected during a committed transaction.
func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	for _, ev := range evs {
		s.events.Publish(ctx, ev)
	}
}
