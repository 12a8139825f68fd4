// Package store contains the database layer for veostudio.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account holds a user's credit balance. Balance is a cached value of the
// ledger sum and is only written by the ledger package.
type Account struct {
	ID                 uuid.UUID
	Email              string
	Balance            decimal.Decimal
	TotalVideosCreated int
	LedgerHalted       bool
	HaltReason         *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// LedgerEntry is an immutable, append-only balance movement.
type LedgerEntry struct {
	ID             uuid.UUID
	Seq            int64
	AccountID      uuid.UUID
	Amount         decimal.Decimal // positive = credit, negative = debit
	BalanceAfter   decimal.Decimal
	Kind           EntryKind
	Description    *string
	ReferenceID    *string
	IdempotencyKey *string
	CreatedAt      time.Time
}

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryKindPurchase     EntryKind = "purchase"
	EntryKindGeneration   EntryKind = "generation"
	EntryKindRegeneration EntryKind = "regeneration"
	EntryKindAIScript     EntryKind = "ai_script"
	EntryKindThumbnail    EntryKind = "thumbnail"
	EntryKindRefund       EntryKind = "refund"
	EntryKindBonus        EntryKind = "bonus"
)

// Project groups a fixed number of scenes.
type Project struct {
	ID                   uuid.UUID
	AccountID            uuid.UUID
	Title                string
	CharacterImageURL    *string
	Status               ProjectStatus
	SceneCount           int
	ScenesCompletedCount int
	FinalArtifactURL     *string
	ErrorMessage         *string
	// VideoCounted is set by the first successful stitch and never cleared.
	VideoCounted bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProjectStatus represents the state of a project.
type ProjectStatus string

const (
	ProjectStatusDraft      ProjectStatus = "draft"
	ProjectStatusEditing    ProjectStatus = "editing"
	ProjectStatusGenerating ProjectStatus = "generating"
	ProjectStatusStitching  ProjectStatus = "stitching"
	ProjectStatusCompleted  ProjectStatus = "completed"
	ProjectStatusFailed     ProjectStatus = "failed"
)

// Scene is one unit of generation work inside a project.
type Scene struct {
	ID                    uuid.UUID
	ProjectID             uuid.UUID
	AccountID             uuid.UUID
	Index                 int
	ScriptText            string
	CameraMovement        string
	CameraTier            string
	AudioClipURL          *string
	Status                SceneStatus
	GenerationCost        decimal.Decimal
	RetryCount            int
	ErrorMessage          *string
	ArtifactURL           *string
	ThumbnailURL          *string
	ProcessingTimeMs      *int64
	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// SceneStatus represents the state of a scene.
type SceneStatus string

const (
	SceneStatusPending    SceneStatus = "pending"
	SceneStatusQueued     SceneStatus = "queued"
	SceneStatusProcessing SceneStatus = "processing"
	SceneStatusCompleted  SceneStatus = "completed"
	SceneStatusFailed     SceneStatus = "failed"
)

// QueueEntry represents one dispatch attempt for a scene.
type QueueEntry struct {
	ID           uuid.UUID
	SceneID      uuid.UUID
	ProjectID    uuid.UUID
	AccountID    uuid.UUID
	Status       QueueStatus
	Priority     int
	Cost         decimal.Decimal
	Kind         EntryKind
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	WebhookAckAt *time.Time
}

// QueueStatus represents the state of a queue entry.
type QueueStatus string

const (
	QueueStatusQueued     QueueStatus = "queued"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// Active reports whether the entry still represents in-flight work.
func (s QueueStatus) Active() bool {
	return s == QueueStatusQueued || s == QueueStatusProcessing
}

// OutboxMessage is a task written in the same transaction as the state
// change that requires it and delivered after commit.
type OutboxMessage struct {
	ID           int64
	Topic        string
	AggregateID  uuid.UUID
	Payload      json.RawMessage
	Attempts     int
	LastError    *string
	VisibleAfter time.Time
	PublishedAt  *time.Time
	CreatedAt    time.Time
}

// Outbox topics.
const (
	TopicStitchRequested = "stitch.requested"
)
