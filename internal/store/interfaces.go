package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// Transactor opens transactions.
type Transactor interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// AccountStore persists accounts. Balance writes must happen inside a
// transaction that holds the account row lock (LockAccount).
type AccountStore interface {
	// CreateAccount inserts an account. It returns false if it already exists.
	CreateAccount(ctx context.Context, tx DBTransaction, account *Account) (bool, error)

	// GetAccount returns an account by its ID.
	GetAccount(ctx context.Context, tx DBTransaction, id uuid.UUID) (*Account, error)

	// LockAccount reads the account with a row lock held until tx ends.
	LockAccount(ctx context.Context, tx DBTransaction, id uuid.UUID) (*Account, error)

	// UpdateAccountBalance writes the cached balance.
	UpdateAccountBalance(ctx context.Context, tx DBTransaction, id uuid.UUID, balance decimal.Decimal) error

	// SetLedgerHalted sets or clears the halt flag that blocks debits.
	SetLedgerHalted(ctx context.Context, tx DBTransaction, id uuid.UUID, halted bool, reason *string) error

	// IncrementVideosCreated bumps the lifetime creation counter.
	IncrementVideosCreated(ctx context.Context, tx DBTransaction, id uuid.UUID) error
}

// LedgerStore persists the append-only ledger.
type LedgerStore interface {
	// InsertLedgerEntry appends an entry. Returns ErrDuplicateEntry when the
	// idempotency key is already used.
	InsertLedgerEntry(ctx context.Context, tx DBTransaction, entry *LedgerEntry) error

	// LedgerEntryExists reports whether an entry with the key exists.
	LedgerEntryExists(ctx context.Context, tx DBTransaction, idempotencyKey string) (bool, error)

	// SumLedgerEntries returns the sum of all amounts for an account.
	SumLedgerEntries(ctx context.Context, tx DBTransaction, accountID uuid.UUID) (decimal.Decimal, error)

	// LedgerChain returns all entries of an account in creation order.
	LedgerChain(ctx context.Context, tx DBTransaction, accountID uuid.UUID) ([]LedgerEntry, error)

	// ListLedgerEntries returns entries newest first.
	ListLedgerEntries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]LedgerEntry, error)
}

// ProjectStore persists projects.
type ProjectStore interface {
	// CreateProject inserts a project together with its scenes.
	CreateProject(ctx context.Context, tx DBTransaction, project *Project, scenes []Scene) error

	GetProject(ctx context.Context, tx DBTransaction, id uuid.UUID) (*Project, error)

	// LockProject reads the project with a row lock held until tx ends.
	LockProject(ctx context.Context, tx DBTransaction, id uuid.UUID) (*Project, error)

	// UpdateProjectStatus moves a project to status `to` if its current status
	// is one of `from`, clearing the final artifact url. Returns ErrStaleState
	// otherwise.
	UpdateProjectStatus(ctx context.Context, tx DBTransaction, id uuid.UUID, from []ProjectStatus, to ProjectStatus) error

	SetScenesCompletedCount(ctx context.Context, tx DBTransaction, id uuid.UUID, count int) error

	// FinalizeProject moves a stitching project to completed or failed.
	// finalURL replaces the stored url, so failure leaves none. Completion
	// also marks the project's video as counted.
	FinalizeProject(ctx context.Context, tx DBTransaction, id uuid.UUID, status ProjectStatus, finalURL, errMsg *string) error
}

// SceneStore persists scenes.
type SceneStore interface {
	GetScene(ctx context.Context, tx DBTransaction, id uuid.UUID) (*Scene, error)

	// LockScene reads the scene with a row lock held until tx ends.
	LockScene(ctx context.Context, tx DBTransaction, id uuid.UUID) (*Scene, error)

	// ListScenes returns the project's scenes ordered by index.
	ListScenes(ctx context.Context, tx DBTransaction, projectID uuid.UUID) ([]Scene, error)

	// UpdateSceneState writes the lifecycle fields of scene if the stored
	// status still equals from. Returns ErrStaleState otherwise.
	UpdateSceneState(ctx context.Context, tx DBTransaction, scene *Scene, from SceneStatus) error

	UpdateSceneContent(ctx context.Context, tx DBTransaction, id uuid.UUID, script, movement, tier string) error

	SetSceneThumbnail(ctx context.Context, tx DBTransaction, id uuid.UUID, url string) error

	// ReorderScenes assigns index i+1 to order[i].
	ReorderScenes(ctx context.Context, tx DBTransaction, projectID uuid.UUID, order []uuid.UUID) error

	CountScenesByStatus(ctx context.Context, tx DBTransaction, projectID uuid.UUID, status SceneStatus) (int, error)
}

// QueueStore persists queue entries.
type QueueStore interface {
	// CreateQueueEntry inserts an entry. Returns ErrAlreadyQueued when the
	// scene already has an active entry.
	CreateQueueEntry(ctx context.Context, tx DBTransaction, entry *QueueEntry) error

	// GetActiveQueueEntry returns the scene's queued/processing entry or ErrNotFound.
	GetActiveQueueEntry(ctx context.Context, tx DBTransaction, sceneID uuid.UUID) (*QueueEntry, error)

	// UpdateQueueEntryStatus is a compare-and-set on status.
	UpdateQueueEntryStatus(ctx context.Context, tx DBTransaction, id uuid.UUID, from, to QueueStatus, errMsg *string) error

	// MarkQueueEntryAcked stamps webhook_ack_at once.
	MarkQueueEntryAcked(ctx context.Context, tx DBTransaction, id uuid.UUID) error

	// ListQueueEntries returns a project's entries ordered by priority.
	ListQueueEntries(ctx context.Context, projectID uuid.UUID) ([]QueueEntry, error)

	// ListStaleQueueEntries returns entries stuck in status since before olderThan.
	ListStaleQueueEntries(ctx context.Context, status QueueStatus, olderThan time.Time, limit int) ([]QueueEntry, error)

	// CountActiveQueueEntries tracks queue depth.
	CountActiveQueueEntries(ctx context.Context) (int64, error)
}

// OutboxStore persists post-commit tasks.
type OutboxStore interface {
	AddOutboxMessage(ctx context.Context, tx DBTransaction, msg *OutboxMessage) error

	// ClaimOutboxBatch claims up to limit visible messages and hides them for lease.
	ClaimOutboxBatch(ctx context.Context, limit int, lease time.Duration) ([]OutboxMessage, error)

	MarkOutboxPublished(ctx context.Context, id int64) error

	MarkOutboxFailed(ctx context.Context, id int64, errMsg string, retryAt time.Time) error
}
